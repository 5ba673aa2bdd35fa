// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// ErrNoSession is returned by account accessors before a login finished.
var ErrNoSession = errors.New("no authenticated session")

// ErrNoPendingAttempt is returned when a second factor arrives without a
// password attempt that asked for one.
var ErrNoPendingAttempt = errors.New("no pending attempt")
