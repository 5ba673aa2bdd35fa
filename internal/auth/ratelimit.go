// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"
)

// Rejection throttling configuration.
const (
	// LockoutDuration is how long new attempts are refused after too many
	// rejected credentials.
	LockoutDuration = 15 * time.Minute

	// LockoutThreshold is the number of consecutive rejections that
	// triggers a lockout.
	LockoutThreshold = 7

	// maxDelay caps the progressive delay between attempts.
	maxDelay = 32 * time.Second
)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	// Delay is the time to wait after the last rejection before another
	// attempt is sent.
	Delay time.Duration

	// IsLockedOut indicates attempts are refused.
	IsLockedOut bool

	// LockoutRemaining is the time until the lockout expires.
	LockoutRemaining time.Duration
}

// CheckFailures evaluates the throttle state for a rejection count as of now.
// lockedUntil is the current lockout timestamp (nil if not locked).
func CheckFailures(failures int, lockedUntil *time.Time, now time.Time) RateLimitResult {
	result := RateLimitResult{}

	if IsLockedOut(lockedUntil, now) {
		result.IsLockedOut = true
		result.LockoutRemaining = lockedUntil.Sub(now)
		return result
	}

	// Progressive delay: 2^(failures-1) seconds
	if failures > 0 && failures < LockoutThreshold {
		result.Delay = time.Duration(1<<(failures-1)) * time.Second
		if result.Delay > maxDelay {
			result.Delay = maxDelay
		}
	}

	return result
}

// IsLockedOut returns true if the lockout time is after now.
func IsLockedOut(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// ComputeLockoutTime returns the lockout timestamp for the given failure count.
// Returns nil if failures < LockoutThreshold.
func ComputeLockoutTime(failures int, now time.Time) *time.Time {
	if failures < LockoutThreshold {
		return nil
	}
	lockout := now.Add(LockoutDuration)
	return &lockout
}

// failureTracker counts consecutive credential rejections.
type failureTracker struct {
	failures    int
	lockedUntil *time.Time
	lastFailure time.Time
}

// check reports the throttle state at now and whether an attempt may go out.
func (f *failureTracker) check(now time.Time) (RateLimitResult, bool) {
	result := CheckFailures(f.failures, f.lockedUntil, now)
	if result.IsLockedOut {
		return result, false
	}
	if result.Delay > 0 && now.Before(f.lastFailure.Add(result.Delay)) {
		return result, false
	}
	return result, true
}

func (f *failureTracker) recordFailure(now time.Time) {
	f.failures++
	f.lastFailure = now
	if lockout := ComputeLockoutTime(f.failures, now); lockout != nil {
		f.lockedUntil = lockout
		f.failures = 0
	}
}

func (f *failureTracker) recordSuccess() {
	f.failures = 0
	f.lockedUntil = nil
}
