// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/wgcauth/internal/realm"
)

// Account is an authenticated session: the durable credential pair plus
// the identity it belongs to.
type Account struct {
	Realm        realm.Code `json:"realm" yaml:"realm"`
	Email        string     `json:"email" yaml:"email"`
	UserID       string     `json:"user" yaml:"user"`
	AccessToken  string     `json:"access_token" yaml:"access_token"`
	ExchangeCode string     `json:"exchange_code" yaml:"exchange_code"`
	Nickname     string     `json:"nickname,omitempty" yaml:"nickname,omitempty"`
}

// Validate checks that every field needed to restore the account is set.
// Nickname is optional; it is refreshed from the identity service.
func (a Account) Validate() error {
	missing := ""
	switch {
	case a.Realm == "":
		missing = "realm"
	case a.Email == "":
		missing = "email"
	case a.UserID == "":
		missing = "user"
	case a.AccessToken == "":
		missing = "access_token"
	case a.ExchangeCode == "":
		missing = "exchange_code"
	}
	if missing != "" {
		return oops.Code("SEQUENCE_INCOMPLETE_ACCOUNT").
			With("field", missing).
			Errorf("account is missing %s", missing)
	}
	return nil
}

// LogValue implements slog.LogValuer. Credentials are never included.
func (a Account) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("realm", string(a.Realm)),
		slog.String("user", a.UserID),
		slog.String("nickname", a.Nickname),
	)
}

// pendingAttempt is the in-memory state of a password attempt awaiting its
// second factor. It is never persisted.
type pendingAttempt struct {
	id             string
	realm          realm.Realm
	email          string
	password       string
	nonce          uint64
	solved         bool
	twoFactorToken string
}

// readyForSecondFactor reports which field, if any, is missing before a
// second factor can be submitted.
func (p *pendingAttempt) readyForSecondFactor() string {
	switch {
	case p == nil:
		return "attempt"
	case p.realm.Code == "":
		return "realm"
	case p.email == "":
		return "email"
	case p.password == "":
		return "password"
	case !p.solved:
		return "nonce"
	case p.twoFactorToken == "":
		return "twofactor_token"
	}
	return ""
}
