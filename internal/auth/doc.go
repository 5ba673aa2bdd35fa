// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth drives the interactive login handshake against the identity
// service.
//
// # States
//
// A Session moves through these states for each attempt:
//
//	Idle -> ChallengeFetched -> ChallengeSolved -> CredentialsSubmitted
//	CredentialsSubmitted -> RequiresSecondFactor | Finished | Failed
//	RequiresSecondFactor -> SecondFactorSubmitted
//	SecondFactorSubmitted -> IncorrectSecondFactor | Finished | Failed
//
// IncorrectSecondFactor keeps the pending attempt so another code can be
// submitted without solving a new proof of work. A code sent inside the
// rejection delay is held back and also answered with IncorrectSecondFactor.
// Failed always discards the pending attempt.
//
// # Outcomes
//
// Every entry point returns exactly one Outcome: Failed, Finished,
// RequiresSecondFactor or IncorrectSecondFactor. Callers retry Failed from
// Authenticate and IncorrectSecondFactor from SubmitSecondFactor.
//
// # Concurrency
//
// Entry points are serialized. Accessors never block on an attempt in
// progress. Done is closed once, on the first Finished outcome.
package auth
