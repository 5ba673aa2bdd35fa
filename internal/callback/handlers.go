// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package callback

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/holomush/wgcauth/internal/auth"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/login", s.handleLogin)
	r.Post("/2fa", s.handleSecondFactor)
	r.Post("/*", s.handleUnknownPost)
	r.Get("/*", s.handlePage)
	r.Head("/*", s.handlePage)

	return r
}

// handlePage serves <name>.html, or the not-found page, always with status 200.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" {
		name = PageLogin
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // client may disconnect
	w.Write(s.pages.lookup(name))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowSubmit(r) {
		redirect(w, r, PageLoginFailed)
		return
	}

	var out auth.Outcome = auth.Failed{}
	if s.parseForm(w, r) {
		realmCode := r.PostForm.Get("realm")
		email := r.PostForm.Get("email")
		password := r.PostForm.Get("password")
		if realmCode != "" && email != "" && password != "" {
			out = s.auth.Authenticate(detach(r), realmCode, email, password)
		} else {
			s.logger.WarnContext(r.Context(), "login form incomplete")
		}
	}

	switch out.(type) {
	case auth.Finished:
		redirect(w, r, PageFinished)
	case auth.RequiresSecondFactor:
		redirect(w, r, PageSecondFactor)
	default:
		redirect(w, r, PageLoginFailed)
	}
}

func (s *Server) handleSecondFactor(w http.ResponseWriter, r *http.Request) {
	if !s.allowSubmit(r) {
		redirect(w, r, PageSecondFactor)
		return
	}

	var out auth.Outcome = auth.Failed{}
	if s.parseForm(w, r) {
		if code := strings.TrimSpace(r.PostForm.Get("authcode")); code != "" {
			out = s.auth.SubmitSecondFactor(detach(r), code)
		} else {
			s.logger.WarnContext(r.Context(), "second factor form incomplete")
		}
	}

	switch out.(type) {
	case auth.Finished:
		redirect(w, r, PageFinished)
	case auth.RequiresSecondFactor:
		redirect(w, r, PageSecondFactor)
	case auth.IncorrectSecondFactor:
		redirect(w, r, PageSecondFactorError)
	default:
		redirect(w, r, PageLoginFailed)
	}
}

func (s *Server) handleUnknownPost(w http.ResponseWriter, r *http.Request) {
	redirect(w, r, PageNotFound)
}

func (s *Server) allowSubmit(r *http.Request) bool {
	if s.limiter.Allow() {
		return true
	}
	s.logger.WarnContext(r.Context(), "form submission rate limited", "path", r.URL.Path)
	return false
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		s.logger.WarnContext(r.Context(), "unreadable form submission", "path", r.URL.Path, "error", err)
		return false
	}
	return true
}

// detach drops request cancellation; the session applies its own attempt
// timeout.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func redirect(w http.ResponseWriter, r *http.Request, page string) {
	http.Redirect(w, r, "/"+page, http.StatusFound)
}
