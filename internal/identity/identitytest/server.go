// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package identitytest provides an in-process identity service for tests.
package identitytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/holomush/wgcauth/internal/identity"
	"github.com/holomush/wgcauth/internal/pow"
	"github.com/holomush/wgcauth/internal/realm"
)

// User is an account known to the fake service.
type User struct {
	Email    string
	Password string
	// OTP enables the second factor when set.
	OTP string
	// ID must be numeric; it is sent as a JSON number.
	ID       string
	Nickname string
}

// Server is a fake identity service speaking the challenge, token and
// account info endpoints, answering asynchronously with 202 polling.
type Server struct {
	*httptest.Server

	mu             sync.Mutex
	complexity     int
	pollRounds     int
	accountSubject string

	users     map[string]User
	challenge pow.Challenge
	short     map[string]User
	durable   map[string]User
	polls     map[string]*pollEntry
	seq       int
	hits      map[string]int
}

type pollEntry struct {
	remaining int
	status    int
	body      any
}

// NewServer starts a fake service. Call Close when done.
func NewServer(users ...User) *Server {
	s := &Server{
		complexity: 1,
		users:      make(map[string]User),
		short:      make(map[string]User),
		durable:    make(map[string]User),
		polls:      make(map[string]*pollEntry),
		hits:       make(map[string]int),
	}
	for _, u := range users {
		s.users[u.Email] = u
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+identity.PathChallenge, s.handleChallenge)
	mux.HandleFunc("POST "+identity.PathToken, s.handleToken)
	mux.HandleFunc("POST "+identity.PathAccountInfo, s.handleAccountInfo)
	mux.HandleFunc("GET /poll/{id}", s.handlePoll)
	s.Server = httptest.NewServer(mux)
	return s
}

// Override points a realm at this server.
func (s *Server) Override() realm.Override {
	return realm.Override{IdentityURL: s.URL, SessionURL: s.URL}
}

// Registry returns a realm registry with every realm pointed at this server.
func (s *Server) Registry() (*realm.Registry, error) {
	overrides := make(map[string]realm.Override)
	for code := range realm.Defaults() {
		overrides[string(code)] = s.Override()
	}
	return realm.NewRegistry(overrides)
}

// Hits returns how many requests reached an endpoint, keyed by
// "challenge", "token", "account_info" and "poll".
func (s *Server) Hits(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[endpoint]
}

// SetComplexity sets the proof-of-work complexity of issued challenges.
func (s *Server) SetComplexity(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complexity = n
}

// SetPollRounds sets how many 202 answers precede every final answer. The
// exchange grant always polls at least once.
func (s *Server) SetPollRounds(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollRounds = n
}

// SetAccountSubject overrides the sub returned by account info. Empty
// restores the user's own id.
func (s *Server) SetAccountSubject(sub string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountSubject = sub
}

func (s *Server) handleChallenge(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.hits["challenge"]++
	s.seq++
	s.challenge = pow.Challenge{
		AlgorithmName:    pow.Algorithm,
		AlgorithmVersion: "1",
		Complexity:       s.complexity,
		Timestamp:        strconv.Itoa(1563633041 + s.seq),
		Resource:         "wgni",
		RandomString:     "fake" + strconv.Itoa(s.seq),
	}
	ch := s.challenge
	s.mu.Unlock()

	ts, _ := strconv.Atoi(ch.Timestamp)
	writeJSON(w, http.StatusOK, map[string]any{
		"pow": map[string]any{
			"algorithm": map[string]any{
				"name":      ch.AlgorithmName,
				"version":   1,
				"resourse":  ch.Resource,
				"extension": ch.Extension,
			},
			"complexity":    ch.Complexity,
			"timestamp":     ts,
			"random_string": ch.RandomString,
		},
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits["token"]++

	switch r.PostForm.Get("grant_type") {
	case identity.GrantTypePassword:
		status, body := s.passwordGrant(r)
		s.deferAnswer(w, s.pollRounds, status, body)
	case identity.GrantTypeAccessToken:
		status, body := s.exchangeGrant(r)
		s.deferAnswer(w, max(1, s.pollRounds), status, body)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
	}
}

func (s *Server) passwordGrant(r *http.Request) (int, any) {
	nonce, err := strconv.ParseUint(r.PostForm.Get("pow"), 10, 64)
	if err != nil || !pow.Verify(s.challenge, nonce) {
		return http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "invalid_pow"}
	}
	u, ok := s.users[r.PostForm.Get("username")]
	if !ok || u.Password != r.PostForm.Get("password") {
		return http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "invalid_credentials"}
	}
	if u.OTP != "" {
		if r.PostForm.Get("twofactor_token") != "tf-"+u.ID {
			return http.StatusBadRequest, map[string]any{
				"error": "invalid_grant", "error_description": "twofactor_required", "twofactor_token": "tf-" + u.ID,
			}
		}
		if r.PostForm.Get("otp_code") != u.OTP {
			return http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "twofactor_invalid"}
		}
	}
	token := "short-" + u.ID
	s.short[token] = u
	return http.StatusOK, map[string]any{"access_token": token, "user": json.Number(u.ID)}
}

func (s *Server) exchangeGrant(r *http.Request) (int, any) {
	u, ok := s.short[r.PostForm.Get("access_token")]
	code := r.PostForm.Get("exchange_code")
	if !ok || len(code) != 32 {
		return http.StatusBadRequest, map[string]any{"error": "invalid_grant"}
	}
	token := "durable-" + u.ID
	s.durable[token+":"+code] = u
	return http.StatusOK, map[string]any{"access_token": token, "user": json.Number(u.ID)}
}

func (s *Server) handleAccountInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits["account_info"]++

	u, ok := s.durable[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_token"})
		return
	}
	sub := u.ID
	if s.accountSubject != "" {
		sub = s.accountSubject
	}
	s.deferAnswer(w, s.pollRounds, http.StatusOK, map[string]any{"sub": json.Number(sub), "nickname": u.Nickname})
}

// deferAnswer writes the answer directly or parks it behind rounds 202s.
// Callers hold s.mu.
func (s *Server) deferAnswer(w http.ResponseWriter, rounds, status int, body any) {
	if rounds <= 0 {
		writeJSON(w, status, body)
		return
	}
	s.seq++
	id := strconv.Itoa(s.seq)
	s.polls[id] = &pollEntry{remaining: rounds - 1, status: status, body: body}
	w.Header().Set("Location", "/poll/"+id)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits["poll"]++

	id := r.PathValue("id")
	entry, ok := s.polls[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if entry.remaining > 0 {
		entry.remaining--
		w.Header().Set("Location", "/poll/"+id)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	delete(s.polls, id)
	writeJSON(w, entry.status, entry.body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
