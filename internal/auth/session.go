// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/wgcauth/internal/identity"
	"github.com/holomush/wgcauth/internal/pow"
	"github.com/holomush/wgcauth/internal/realm"
	"github.com/holomush/wgcauth/pkg/errutil"
)

// Step names used in logs and metrics.
const (
	StepPassword     = "password"
	StepSecondFactor = "second_factor"
	StepRestore      = "restore"
)

// DefaultAttemptTimeout bounds one entry point call.
const DefaultAttemptTimeout = 5 * time.Minute

// IdentityService is the remote side of the handshake.
type IdentityService interface {
	FetchChallenge(ctx context.Context, r realm.Realm) (pow.Challenge, error)
	RequestTokenByCredentials(ctx context.Context, r realm.Realm, creds identity.Credentials) (*identity.Grant, error)
	ExchangeToken(ctx context.Context, r realm.Realm, accessToken string) (*identity.Exchange, error)
	FetchAccountInfo(ctx context.Context, r realm.Realm) (*identity.AccountInfo, error)
	SetBearer(accessToken, exchangeCode string)
	ResetSession()
}

// Solver solves proof-of-work challenges.
type Solver interface {
	Solve(ctx context.Context, c pow.Challenge) (uint64, error)
}

// RealmResolver maps user-supplied realm codes to realms.
type RealmResolver interface {
	Lookup(raw string) (realm.Realm, error)
}

// Recorder counts outcomes per step.
type Recorder interface {
	RecordOutcome(step, outcome string)
}

// Config holds Session dependencies.
type Config struct {
	Realms   RealmResolver
	Identity IdentityService
	Solver   Solver
	Recorder Recorder
	Logger   *slog.Logger
	// AttemptTimeout bounds each entry point call. Zero selects
	// DefaultAttemptTimeout; negative disables the bound.
	AttemptTimeout time.Duration
}

// Session is the login state machine. It owns the authenticated account;
// other components read it through the accessors.
type Session struct {
	realms         RealmResolver
	identity       IdentityService
	solver         Solver
	recorder       Recorder
	logger         *slog.Logger
	attemptTimeout time.Duration
	now            func() time.Time

	// attemptMu serializes entry points.
	attemptMu sync.Mutex
	pending   *pendingAttempt
	throttle  failureTracker

	mu      sync.RWMutex
	state   State
	account *Account
	last    Outcome

	done     chan struct{}
	doneOnce sync.Once
}

// NewSession creates a Session. Realms, Identity, and Solver are required.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Realms == nil {
		return nil, oops.Code("CONFIG_MISSING_DEPENDENCY").With("dependency", "realms").Errorf("realm resolver is required")
	}
	if cfg.Identity == nil {
		return nil, oops.Code("CONFIG_MISSING_DEPENDENCY").With("dependency", "identity").Errorf("identity service is required")
	}
	if cfg.Solver == nil {
		return nil, oops.Code("CONFIG_MISSING_DEPENDENCY").With("dependency", "solver").Errorf("proof-of-work solver is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}

	return &Session{
		realms:         cfg.Realms,
		identity:       cfg.Identity,
		solver:         cfg.Solver,
		recorder:       cfg.Recorder,
		logger:         cfg.Logger,
		attemptTimeout: cfg.AttemptTimeout,
		now:            time.Now,
		state:          StateIdle,
		done:           make(chan struct{}),
	}, nil
}

// Authenticate runs the password step: it drops any previous session,
// solves the realm's proof of work and submits the credentials.
func (s *Session) Authenticate(ctx context.Context, realmCode, email, password string) Outcome {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()

	attemptID := ulid.Make().String()
	logger := s.logger.With("step", StepPassword, "attempt_id", attemptID, "realm", realmCode)
	ctx, cancel := s.attemptContext(ctx)
	defer cancel()

	s.pending = nil

	if email == "" || password == "" || realmCode == "" {
		return s.conclude(ctx, logger, StepPassword, Failed{Err: oops.Code("SEQUENCE_MISSING_FIELD").
			Errorf("realm, email and password are required")})
	}

	r, err := s.realms.Lookup(realmCode)
	if err != nil {
		return s.conclude(ctx, logger, StepPassword, Failed{Err: err})
	}

	if result, ok := s.throttle.check(s.now()); !ok {
		return s.conclude(ctx, logger, StepPassword, throttleFailure(result))
	}

	s.identity.ResetSession()
	s.mu.Lock()
	s.account = nil
	s.state = StateIdle
	s.mu.Unlock()

	attempt := &pendingAttempt{id: attemptID, realm: r, email: email, password: password}
	s.pending = attempt

	challenge, err := s.identity.FetchChallenge(ctx, r)
	if err != nil {
		return s.concludeAttempt(ctx, logger, StepPassword, Failed{Err: err})
	}
	s.setState(StateChallengeFetched)

	nonce, err := s.solver.Solve(ctx, challenge)
	if err != nil {
		return s.concludeAttempt(ctx, logger, StepPassword, Failed{Err: err})
	}
	attempt.nonce = nonce
	attempt.solved = true
	s.setState(StateChallengeSolved)
	logger.DebugContext(ctx, "proof of work solved", "complexity", challenge.Complexity, "nonce", nonce)

	grant, err := s.identity.RequestTokenByCredentials(ctx, r, identity.Credentials{
		Email:    email,
		Password: password,
		Nonce:    nonce,
	})
	s.setState(StateCredentialsSubmitted)
	if err != nil {
		return s.concludeAttempt(ctx, logger, StepPassword, Failed{Err: err})
	}

	switch grant.Kind {
	case identity.GrantSecondFactorRequired:
		attempt.twoFactorToken = grant.TwoFactorToken
		return s.conclude(ctx, logger, StepPassword, RequiresSecondFactor{})
	case identity.GrantIssued:
		return s.concludeAttempt(ctx, logger, StepPassword, s.complete(ctx, logger, r, email, grant))
	default:
		return s.concludeAttempt(ctx, logger, StepPassword, Failed{Err: oops.Code("PROTOCOL_UNEXPECTED_GRANT").
			With("grant", grant.Kind.String()).
			Errorf("unexpected grant for password step")})
	}
}

// SubmitSecondFactor answers the second-factor challenge of the pending
// attempt with a one-time code.
func (s *Session) SubmitSecondFactor(ctx context.Context, code string) Outcome {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()

	ctx, cancel := s.attemptContext(ctx)
	defer cancel()

	attempt := s.pending
	logger := s.logger.With("step", StepSecondFactor)
	if attempt != nil {
		logger = logger.With("attempt_id", attempt.id, "realm", string(attempt.realm.Code))
	}

	if missing := attempt.readyForSecondFactor(); missing != "" {
		return s.conclude(ctx, logger, StepSecondFactor, Failed{Err: oops.Code("SEQUENCE_NO_PENDING").
			With("missing", missing).
			Wrapf(ErrNoPendingAttempt, "second factor submitted without pending attempt")})
	}
	if code == "" {
		return s.concludeAttempt(ctx, logger, StepSecondFactor, Failed{Err: oops.Code("SEQUENCE_MISSING_FIELD").
			Errorf("one-time code is required")})
	}
	if result, ok := s.throttle.check(s.now()); !ok {
		if result.IsLockedOut {
			return s.concludeAttempt(ctx, logger, StepSecondFactor, throttleFailure(result))
		}
		return s.holdSecondFactor(ctx, logger, result)
	}

	s.setState(StateSecondFactorSubmitted)
	grant, err := s.identity.RequestTokenByCredentials(ctx, attempt.realm, identity.Credentials{
		Email:          attempt.email,
		Password:       attempt.password,
		Nonce:          attempt.nonce,
		TwoFactorToken: attempt.twoFactorToken,
		OTPCode:        code,
	})
	if err != nil {
		return s.concludeAttempt(ctx, logger, StepSecondFactor, Failed{Err: err})
	}

	switch grant.Kind {
	case identity.GrantSecondFactorInvalid:
		return s.conclude(ctx, logger, StepSecondFactor, IncorrectSecondFactor{})
	case identity.GrantIssued:
		return s.concludeAttempt(ctx, logger, StepSecondFactor, s.complete(ctx, logger, attempt.realm, attempt.email, grant))
	default:
		return s.concludeAttempt(ctx, logger, StepSecondFactor, Failed{Err: oops.Code("PROTOCOL_UNEXPECTED_GRANT").
			With("grant", grant.Kind.String()).
			Errorf("unexpected grant for second factor step")})
	}
}

// Restore installs a previously obtained account and confirms it against
// the identity service. The account's user id must match the service's
// subject.
func (s *Session) Restore(ctx context.Context, acct Account) Outcome {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()

	logger := s.logger.With("step", StepRestore, "attempt_id", ulid.Make().String(), "realm", string(acct.Realm))
	ctx, cancel := s.attemptContext(ctx)
	defer cancel()

	s.pending = nil

	if err := acct.Validate(); err != nil {
		return s.conclude(ctx, logger, StepRestore, Failed{Err: err})
	}
	r, err := s.realms.Lookup(string(acct.Realm))
	if err != nil {
		return s.conclude(ctx, logger, StepRestore, Failed{Err: err})
	}

	s.identity.ResetSession()
	s.mu.Lock()
	s.account = nil
	s.mu.Unlock()

	s.identity.SetBearer(acct.AccessToken, acct.ExchangeCode)
	info, err := s.identity.FetchAccountInfo(ctx, r)
	if err != nil {
		s.identity.ResetSession()
		return s.conclude(ctx, logger, StepRestore, Failed{Err: err})
	}
	if info.Subject != acct.UserID {
		s.identity.ResetSession()
		return s.conclude(ctx, logger, StepRestore, Failed{Err: oops.Code("SEQUENCE_ACCOUNT_MISMATCH").
			With("user", acct.UserID).
			With("sub", info.Subject).
			Errorf("account info subject does not match user id")})
	}

	acct.Realm = r.Code
	acct.Nickname = info.Nickname
	s.mu.Lock()
	s.account = &acct
	s.mu.Unlock()
	return s.conclude(ctx, logger, StepRestore, Finished{})
}

// complete exchanges the grant for a durable token and loads account info.
// Partial state is discarded on failure.
func (s *Session) complete(ctx context.Context, logger *slog.Logger, r realm.Realm, email string, grant *identity.Grant) Outcome {
	exchange, err := s.identity.ExchangeToken(ctx, r, grant.AccessToken)
	if err != nil {
		return Failed{Err: err}
	}

	s.identity.SetBearer(exchange.AccessToken, exchange.ExchangeCode)
	info, err := s.identity.FetchAccountInfo(ctx, r)
	if err != nil {
		s.identity.ResetSession()
		return Failed{Err: err}
	}
	if info.Subject != "" && exchange.UserID != "" && info.Subject != exchange.UserID {
		s.identity.ResetSession()
		return Failed{Err: oops.Code("SEQUENCE_ACCOUNT_MISMATCH").
			With("user", exchange.UserID).
			With("sub", info.Subject).
			Errorf("account info subject does not match user id")}
	}

	acct := &Account{
		Realm:        r.Code,
		Email:        email,
		UserID:       exchange.UserID,
		AccessToken:  exchange.AccessToken,
		ExchangeCode: exchange.ExchangeCode,
		Nickname:     info.Nickname,
	}
	s.mu.Lock()
	s.account = acct
	s.mu.Unlock()
	logger.InfoContext(ctx, "account authenticated", "account", *acct)
	return Finished{}
}

// throttleFailure builds the Failed outcome for a refused attempt.
func throttleFailure(result RateLimitResult) Failed {
	if result.IsLockedOut {
		return Failed{Err: oops.Code("SEQUENCE_LOCKED_OUT").
			With("remaining", result.LockoutRemaining.Round(time.Second).String()).
			Errorf("too many rejected attempts")}
	}
	return Failed{Err: oops.Code("SEQUENCE_THROTTLED").
		With("delay", result.Delay.String()).
		Errorf("attempt sent too soon after a rejection")}
}

// holdSecondFactor answers a code sent inside the throttle delay. The code
// is not sent and the pending attempt stays at IncorrectSecondFactor; the
// refusal does not count as another rejection.
func (s *Session) holdSecondFactor(ctx context.Context, logger *slog.Logger, result RateLimitResult) Outcome {
	out := IncorrectSecondFactor{}
	s.mu.Lock()
	s.state = StateIncorrectSecondFactor
	s.last = out
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.RecordOutcome(StepSecondFactor, out.String())
	}
	logger.WarnContext(ctx, "one-time code sent too soon after a rejection", "delay", result.Delay.String())
	return out
}

// concludeAttempt is conclude for outcomes that end the pending attempt
// unless it can continue at the second factor.
func (s *Session) concludeAttempt(ctx context.Context, logger *slog.Logger, step string, out Outcome) Outcome {
	switch out.(type) {
	case Finished, Failed:
		s.pending = nil
	}
	return s.conclude(ctx, logger, step, out)
}

// conclude records an outcome: state, throttle, completion signal, metrics
// and log.
func (s *Session) conclude(ctx context.Context, logger *slog.Logger, step string, out Outcome) Outcome {
	s.mu.Lock()
	s.state = stateFor(out)
	s.last = out
	s.mu.Unlock()

	switch o := out.(type) {
	case Finished:
		s.throttle.recordSuccess()
		s.doneOnce.Do(func() { close(s.done) })
	case IncorrectSecondFactor:
		s.throttle.recordFailure(s.now())
	case Failed:
		if errutil.Code(o.Err) == "NETWORK_REJECTED" {
			s.throttle.recordFailure(s.now())
		}
	}

	if s.recorder != nil {
		s.recorder.RecordOutcome(step, out.String())
	}

	if f, ok := out.(Failed); ok {
		errutil.LogError(ctx, logger, "authentication step failed", f.Err)
	} else {
		logger.InfoContext(ctx, "authentication step completed", "outcome", out.String())
	}
	return out
}

func (s *Session) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.attemptTimeout < 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.attemptTimeout)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Outcome returns the most recent outcome, or nil before any entry point
// completed.
func (s *Session) Outcome() Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Done is closed the first time any entry point returns Finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Account returns a copy of the authenticated account.
func (s *Session) Account() (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.account == nil {
		return Account{}, oops.Code("SEQUENCE_NO_SESSION").Wrap(ErrNoSession)
	}
	return *s.account, nil
}

// AccountID returns the user id of the authenticated account.
func (s *Session) AccountID() (string, error) {
	acct, err := s.Account()
	return acct.UserID, err
}

// AccountEmail returns the login email of the authenticated account.
func (s *Session) AccountEmail() (string, error) {
	acct, err := s.Account()
	return acct.Email, err
}

// AccountNickname returns the nickname of the authenticated account.
func (s *Session) AccountNickname() (string, error) {
	acct, err := s.Account()
	return acct.Nickname, err
}

// AccountRealm returns the realm of the authenticated account.
func (s *Session) AccountRealm() (realm.Code, error) {
	acct, err := s.Account()
	return acct.Realm, err
}
