// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

// State is the position of the current attempt in the handshake.
type State int

// Handshake states.
const (
	StateIdle State = iota
	StateChallengeFetched
	StateChallengeSolved
	StateCredentialsSubmitted
	StateRequiresSecondFactor
	StateSecondFactorSubmitted
	StateIncorrectSecondFactor
	StateFinished
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:                  "idle",
	StateChallengeFetched:      "challenge_fetched",
	StateChallengeSolved:       "challenge_solved",
	StateCredentialsSubmitted:  "credentials_submitted",
	StateRequiresSecondFactor:  "requires_second_factor",
	StateSecondFactorSubmitted: "second_factor_submitted",
	StateIncorrectSecondFactor: "incorrect_second_factor",
	StateFinished:              "finished",
	StateFailed:                "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// AwaitingSecondFactor reports whether a code may be submitted.
func (s State) AwaitingSecondFactor() bool {
	return s == StateRequiresSecondFactor || s == StateIncorrectSecondFactor
}

// stateFor maps an outcome to the state it leaves the session in.
func stateFor(o Outcome) State {
	switch o.(type) {
	case Finished:
		return StateFinished
	case RequiresSecondFactor:
		return StateRequiresSecondFactor
	case IncorrectSecondFactor:
		return StateIncorrectSecondFactor
	default:
		return StateFailed
	}
}
