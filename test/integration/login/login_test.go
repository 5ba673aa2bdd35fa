// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package login_test

import (
	"io"
	"net/http"
	"net/url"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/holomush/wgcauth/internal/auth"
	"github.com/holomush/wgcauth/internal/realm"
)

var _ = Describe("Browser sign-in", func() {
	var env *testEnv

	BeforeEach(func() {
		env = setupTestEnv()
	})

	AfterEach(func() {
		env.cleanup()
	})

	form := func(email, password string) url.Values {
		return url.Values{"realm": {"eu"}, "email": {email}, "password": {password}}
	}

	Describe("serving pages", func() {
		It("serves the login page at the root and reports ready", func() {
			resp := env.get(env.page(""))
			defer func() { _ = resp.Body.Close() }()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("<form"))

			ready := env.get("http://" + env.obs.Addr() + "/healthz/readiness")
			defer func() { _ = ready.Body.Close() }()
			Expect(ready.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("password only account", func() {
		It("finishes and exposes the account", func() {
			Expect(env.post("login", form(plainUser.Email, plainUser.Password))).To(Equal("/finished"))
			Eventually(env.session.Done()).Should(BeClosed())

			acct, err := env.session.Account()
			Expect(err).NotTo(HaveOccurred())
			Expect(acct.Realm).To(Equal(realm.EU))
			Expect(acct.UserID).To(Equal(plainUser.ID))
			Expect(acct.Nickname).To(Equal(plainUser.Nickname))
			Expect(acct.ExchangeCode).To(HaveLen(32))
			Expect(env.session.State()).To(Equal(auth.StateFinished))

			Expect(env.service.Hits("poll")).To(BeNumerically(">=", 1), "exchange answers asynchronously")
			Expect(testutil.ToFloat64(env.obs.Metrics().AuthOutcomes.WithLabelValues(auth.StepPassword, "finished"))).To(Equal(1.0))
		})

		It("redirects to login_failed on a wrong password and stays signed out", func() {
			Expect(env.post("login", form(plainUser.Email, "wrong"))).To(Equal("/login_failed"))
			Consistently(env.session.Done()).ShouldNot(BeClosed())

			_, err := env.session.Account()
			Expect(err).To(MatchError(auth.ErrNoSession))
			Expect(env.session.State()).To(Equal(auth.StateFailed))
		})

		It("redirects to login_failed on an incomplete form", func() {
			Expect(env.post("login", url.Values{"email": {plainUser.Email}})).To(Equal("/login_failed"))
			Expect(env.service.Hits("challenge")).To(Equal(0))
		})
	})

	Describe("second factor account", func() {
		BeforeEach(func() {
			Expect(env.post("login", form(otpUser.Email, otpUser.Password))).To(Equal("/2fa"))
			Expect(env.session.State().AwaitingSecondFactor()).To(BeTrue())
		})

		It("finishes with the right code", func() {
			Expect(env.post("2fa", url.Values{"authcode": {otpUser.OTP}})).To(Equal("/finished"))
			Eventually(env.session.Done()).Should(BeClosed())

			id, err := env.session.AccountID()
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(otpUser.ID))
		})

		It("offers a retry on a wrong code", func() {
			Expect(env.post("2fa", url.Values{"authcode": {"000000"}})).To(Equal("/2fa_failed"))
			Expect(env.session.State().AwaitingSecondFactor()).To(BeTrue())
		})

		It("holds a code sent right after a wrong one and keeps the attempt", func() {
			Expect(env.post("2fa", url.Values{"authcode": {"000000"}})).To(Equal("/2fa_failed"))
			tokenCalls := env.service.Hits("token")

			Expect(env.post("2fa", url.Values{"authcode": {otpUser.OTP}})).To(Equal("/2fa_failed"))
			Expect(env.service.Hits("token")).To(Equal(tokenCalls))
			Expect(env.session.State()).To(Equal(auth.StateIncorrectSecondFactor))

			time.Sleep(1100 * time.Millisecond)
			Expect(env.post("2fa", url.Values{"authcode": {otpUser.OTP}})).To(Equal("/finished"))
			Expect(env.session.State()).To(Equal(auth.StateFinished))
		})

		It("fails when the code is missing", func() {
			Expect(env.post("2fa", url.Values{})).To(Equal("/login_failed"))
		})
	})

	Describe("unknown routes", func() {
		It("redirects unknown POSTs to the not found page", func() {
			Expect(env.post("elsewhere", url.Values{})).To(Equal("/404"))
		})
	})
})
