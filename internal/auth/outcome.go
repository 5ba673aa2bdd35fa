// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

// Outcome is the result of an authentication step. The set of outcomes is
// closed: Failed, Finished, RequiresSecondFactor, IncorrectSecondFactor.
type Outcome interface {
	String() string
	outcome()
}

// Failed means the attempt is over. Err carries the coded cause.
type Failed struct {
	Err error
}

// Finished means an authenticated session is available.
type Finished struct{}

// RequiresSecondFactor means a one-time code must be submitted next.
type RequiresSecondFactor struct{}

// IncorrectSecondFactor means the submitted code was wrong or was sent too
// soon after a wrong one; the pending attempt is kept.
type IncorrectSecondFactor struct{}

func (Failed) String() string                { return "failed" }
func (Finished) String() string              { return "finished" }
func (RequiresSecondFactor) String() string  { return "requires_second_factor" }
func (IncorrectSecondFactor) String() string { return "incorrect_second_factor" }

func (Failed) outcome()                {}
func (Finished) outcome()              {}
func (RequiresSecondFactor) outcome()  {}
func (IncorrectSecondFactor) outcome() {}

// AsError returns the error carried by a Failed outcome and nil otherwise.
func AsError(o Outcome) error {
	if f, ok := o.(Failed); ok {
		return f.Err
	}
	return nil
}
