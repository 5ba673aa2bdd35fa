// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/wgcauth/internal/realm"
	"github.com/holomush/wgcauth/pkg/errutil"
)

type callRecord struct {
	operation string
	status    int
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []callRecord
}

func (f *fakeRecorder) RecordRemoteCall(operation string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, callRecord{operation, status})
}

func newTestClient(t *testing.T, handler http.Handler, opts ...func(*Config)) (*Client, realm.Realm) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{
		HTTPClient:   srv.Client(),
		TrackingID:   "tid-1",
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)

	return c, realm.Realm{
		Code:        realm.EU,
		ClientID:    "client-eu",
		IdentityURL: srv.URL,
		SessionURL:  srv.URL,
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestFetchChallenge(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(PathChallenge, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"pow":{"algorithm":{"name":"hashcash","version":1,"resourse":"wgni","extension":""},` +
			`"complexity":3,"timestamp":1563633041,"random_string":"Xy0z"}}`))
	})
	c, r := newTestClient(t, mux)

	ch, err := c.FetchChallenge(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "hashcash", ch.AlgorithmName)
	assert.Equal(t, "1", ch.AlgorithmVersion)
	assert.Equal(t, 3, ch.Complexity)
	assert.Equal(t, "1563633041", ch.Timestamp)
	assert.Equal(t, "wgni", ch.Resource)
	assert.Equal(t, "Xy0z", ch.RandomString)
	assert.Equal(t, "1:3:1563633041:wgni::Xy0z:", ch.Canonical())
}

func TestFetchChallenge_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   string
	}{
		{"server error", http.StatusInternalServerError, `{}`, "NETWORK_STATUS"},
		{"not json", http.StatusOK, `<html>`, "PROTOCOL_BAD_BODY"},
		{"missing pow", http.StatusOK, `{"other":1}`, "PROTOCOL_BAD_BODY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, r := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			_, err := c.FetchChallenge(context.Background(), r)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestRequestTokenByCredentials_PollsAcceptedResponses(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(PathToken, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "user@example.com", r.PostForm.Get("username"))
		assert.Equal(t, "hunter2", r.PostForm.Get("password"))
		assert.Equal(t, GrantTypePassword, r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-eu", r.PostForm.Get("client_id"))
		assert.Equal(t, "tid-1", r.PostForm.Get("tid"))
		assert.Equal(t, "4711", r.PostForm.Get("pow"))
		assert.False(t, r.PostForm.Has("twofactor_token"))
		assert.False(t, r.PostForm.Has("otp_code"))
		w.Header().Set("Location", "/poll/1")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/poll/1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		if polls.Add(1) < 3 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"access_token": "tok", "user": 12345})
	})
	rec := &fakeRecorder{}
	c, r := newTestClient(t, mux, func(cfg *Config) { cfg.Recorder = rec })

	grant, err := c.RequestTokenByCredentials(context.Background(), r, Credentials{
		Email: "user@example.com", Password: "hunter2", Nonce: 4711,
	})
	require.NoError(t, err)
	assert.Equal(t, GrantIssued, grant.Kind)
	assert.Equal(t, "tok", grant.AccessToken)
	assert.Equal(t, "12345", grant.UserID)
	assert.Equal(t, int32(3), polls.Load())
	assert.Equal(t, []callRecord{{"token_password", http.StatusOK}}, rec.calls)
}

func TestRequestTokenByCredentials_Classification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     map[string]any
		wantKind GrantKind
		wantTok  string
		wantCode string
	}{
		{
			name:     "second factor required",
			status:   http.StatusBadRequest,
			body:     map[string]any{"error": "invalid_grant", "error_description": "twofactor_required", "twofactor_token": "tf-1"},
			wantKind: GrantSecondFactorRequired,
			wantTok:  "tf-1",
		},
		{
			name:     "second factor invalid",
			status:   http.StatusBadRequest,
			body:     map[string]any{"error": "invalid_grant", "error_description": "twofactor_invalid"},
			wantKind: GrantSecondFactorInvalid,
		},
		{
			name:     "wrong password",
			status:   http.StatusBadRequest,
			body:     map[string]any{"error": "invalid_grant", "error_description": "invalid_credentials"},
			wantCode: "NETWORK_REJECTED",
		},
		{
			name:     "required without token",
			status:   http.StatusBadRequest,
			body:     map[string]any{"error_description": "twofactor_required"},
			wantCode: "PROTOCOL_BAD_BODY",
		},
		{
			name:     "ok without token",
			status:   http.StatusOK,
			body:     map[string]any{"user": "1"},
			wantCode: "PROTOCOL_BAD_BODY",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, r := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(t, w, tt.status, tt.body)
			}))
			grant, err := c.RequestTokenByCredentials(context.Background(), r, Credentials{Email: "e", Password: "p"})
			if tt.wantCode != "" {
				errutil.AssertErrorCode(t, err, tt.wantCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, grant.Kind)
			assert.Equal(t, tt.wantTok, grant.TwoFactorToken)
		})
	}
}

func TestRequestTokenByCredentials_SendsSecondFactor(t *testing.T) {
	c, r := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseForm())
		assert.Equal(t, "tf-1", req.PostForm.Get("twofactor_token"))
		assert.Equal(t, "123456", req.PostForm.Get("otp_code"))
		writeJSON(t, w, http.StatusOK, map[string]any{"access_token": "tok", "user": "7"})
	}))
	grant, err := c.RequestTokenByCredentials(context.Background(), r, Credentials{
		Email: "e", Password: "p", Nonce: 1, TwoFactorToken: "tf-1", OTPCode: "123456",
	})
	require.NoError(t, err)
	assert.Equal(t, "7", grant.UserID)
}

func TestPoll_RejectsForeignLocation(t *testing.T) {
	c, r := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", "http://attacker.example.com/steal")
		w.WriteHeader(http.StatusAccepted)
	}))
	_, err := c.RequestTokenByCredentials(context.Background(), r, Credentials{Email: "e", Password: "p"})
	errutil.AssertErrorCode(t, err, "PROTOCOL_BAD_LOCATION")
}

func TestPoll_MissingLocation(t *testing.T) {
	c, r := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	_, err := c.RequestTokenByCredentials(context.Background(), r, Credentials{Email: "e", Password: "p"})
	errutil.AssertErrorCode(t, err, "PROTOCOL_BAD_LOCATION")
}

func TestPoll_TimesOut(t *testing.T) {
	c, r := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", "/poll")
		w.WriteHeader(http.StatusAccepted)
	}), func(cfg *Config) {
		cfg.PollInterval = 5 * time.Millisecond
		cfg.PollTimeout = 40 * time.Millisecond
	})
	_, err := c.RequestTokenByCredentials(context.Background(), r, Credentials{Email: "e", Password: "p"})
	errutil.AssertErrorCode(t, err, "NETWORK_POLL_TIMEOUT")
	errutil.AssertErrorContext(t, err, "operation", "token_password")
}

func TestPoll_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, r := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cancel()
		w.Header().Set("Location", "/poll")
		w.WriteHeader(http.StatusAccepted)
	}), func(cfg *Config) { cfg.PollInterval = 50 * time.Millisecond })

	_, err := c.RequestTokenByCredentials(ctx, r, Credentials{Email: "e", Password: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExchangeToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(PathToken, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "short-lived", r.PostForm.Get("access_token"))
		assert.Equal(t, GrantTypeAccessToken, r.PostForm.Get("grant_type"))
		assert.Equal(t, "FIXEDCODE", r.PostForm.Get("exchange_code"))
		w.Header().Set("Location", "/poll/exchange")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/poll/exchange", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"access_token": "durable", "user": 42})
	})
	c, r := newTestClient(t, mux)
	c.newExchangeCode = func() (string, error) { return "FIXEDCODE", nil }

	ex, err := c.ExchangeToken(context.Background(), r, "short-lived")
	require.NoError(t, err)
	assert.Equal(t, &Exchange{AccessToken: "durable", UserID: "42", ExchangeCode: "FIXEDCODE"}, ex)
}

func TestExchangeToken_FinalStatusNotOK(t *testing.T) {
	c, r := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, err := c.ExchangeToken(context.Background(), r, "short-lived")
	errutil.AssertErrorCode(t, err, "NETWORK_STATUS")
	errutil.AssertErrorContext(t, err, "status", http.StatusForbidden)
}

func TestFetchAccountInfo(t *testing.T) {
	c, r := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, PathAccountInfo, req.URL.Path)
		assert.Equal(t, "Bearer durable:CODE", req.Header.Get("Authorization"))
		require.NoError(t, req.ParseForm())
		assert.Equal(t, "nickname", req.PostForm.Get("fields"))
		writeJSON(t, w, http.StatusOK, map[string]any{"sub": 42, "nickname": "Tanker"})
	}))
	c.SetBearer("durable", "CODE")

	info, err := c.FetchAccountInfo(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, &AccountInfo{Subject: "42", Nickname: "Tanker"}, info)
}

func TestFetchAccountInfo_RequiresBearer(t *testing.T) {
	var hits atomic.Int32
	c, r := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	_, err := c.FetchAccountInfo(context.Background(), r)
	errutil.AssertErrorCode(t, err, "SEQUENCE_NO_BEARER")
	assert.Zero(t, hits.Load())
}

func TestResetSession_DropsCookiesAndBearer(t *testing.T) {
	var sawCookie atomic.Bool
	c, r := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, err := req.Cookie("sid")
		sawCookie.Store(err == nil)
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		writeJSON(t, w, http.StatusOK, map[string]any{"sub": "1"})
	}))
	c.SetBearer("tok", "code")

	_, err := c.FetchAccountInfo(context.Background(), r)
	require.NoError(t, err)
	assert.False(t, sawCookie.Load())

	_, err = c.FetchAccountInfo(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, sawCookie.Load())

	c.ResetSession()
	assert.False(t, c.HasBearer())
	c.SetBearer("tok", "code")
	_, err = c.FetchAccountInfo(context.Background(), r)
	require.NoError(t, err)
	assert.False(t, sawCookie.Load())
}

func TestNewExchangeCode(t *testing.T) {
	code, err := NewExchangeCode()
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9A-F]{32}$`, code)

	other, err := NewExchangeCode()
	require.NoError(t, err)
	assert.NotEqual(t, code, other)
}

func TestNewClient_GeneratesTrackingID(t *testing.T) {
	c, err := NewClient(Config{})
	require.NoError(t, err)
	assert.Len(t, c.TrackingID(), 36)
}

func TestNewClient_DefaultTransportRequiresHTTPS(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{RequestTimeout: time.Second})
	require.NoError(t, err)

	wrapped, ok := c.transport.(*safeurl.WrappedClient)
	require.True(t, ok, "default transport is the safeurl wrapper")
	assert.Same(t, c.jar, wrapped.Client.Jar)

	_, err = c.FetchChallenge(context.Background(), realm.Realm{
		Code:        realm.EU,
		ClientID:    "client-eu",
		IdentityURL: srv.URL,
		SessionURL:  srv.URL,
	})
	errutil.AssertErrorCode(t, err, "NETWORK_TRANSPORT")
	var schemeErr *safeurl.AllowedSchemeError
	assert.ErrorAs(t, err, &schemeErr)
	assert.Zero(t, hits.Load())
}

func TestScalar_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in   string
		want Scalar
	}{
		{`"abc"`, "abc"},
		{`123`, "123"},
		{`1.5`, "1.5"},
		{`null`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var s Scalar
			require.NoError(t, json.Unmarshal([]byte(tt.in), &s))
			assert.Equal(t, tt.want, s)
		})
	}
}
