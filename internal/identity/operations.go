// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/wgcauth/internal/pow"
	"github.com/holomush/wgcauth/internal/realm"
)

// Error descriptions the token endpoint uses for second-factor flows.
const (
	descTwoFactorRequired = "twofactor_required"
	descTwoFactorInvalid  = "twofactor_invalid"
)

// Credentials are the inputs of a password grant.
type Credentials struct {
	Email    string
	Password string
	Nonce    uint64
	// TwoFactorToken and OTPCode are set together when answering a
	// second-factor challenge.
	TwoFactorToken string
	OTPCode        string
}

// GrantKind classifies a token endpoint answer.
type GrantKind int

const (
	// GrantIssued means the service issued an access token.
	GrantIssued GrantKind = iota
	// GrantSecondFactorRequired means an OTP must be submitted with the
	// returned second-factor token.
	GrantSecondFactorRequired
	// GrantSecondFactorInvalid means the submitted OTP was wrong.
	GrantSecondFactorInvalid
)

// String returns the kind name used in logs and metrics.
func (k GrantKind) String() string {
	switch k {
	case GrantIssued:
		return "issued"
	case GrantSecondFactorRequired:
		return "second_factor_required"
	case GrantSecondFactorInvalid:
		return "second_factor_invalid"
	default:
		return "unknown"
	}
}

// Grant is a classified token endpoint answer.
type Grant struct {
	Kind           GrantKind
	AccessToken    string
	UserID         string
	TwoFactorToken string
}

// Exchange is the durable credential returned by the access token grant.
type Exchange struct {
	AccessToken  string
	UserID       string
	ExchangeCode string
}

// AccountInfo is the account info payload.
type AccountInfo struct {
	Subject  string
	Nickname string
}

// NewExchangeCode returns 32 uppercase hex characters from crypto/rand.
func NewExchangeCode() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", oops.Code("CONFIG_RANDOM").Wrap(err)
	}
	return strings.ToUpper(hex.EncodeToString(b[:])), nil
}

// FetchChallenge requests a proof-of-work challenge for r.
func (c *Client) FetchChallenge(ctx context.Context, r realm.Realm) (pow.Challenge, error) {
	resp, err := c.call(ctx, "challenge", r, http.MethodGet, r.IdentityEndpoint(PathChallenge), nil)
	if err != nil {
		return pow.Challenge{}, err
	}
	if resp.status != http.StatusOK {
		return pow.Challenge{}, statusError(resp, "challenge")
	}

	var body challengeBody
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return pow.Challenge{}, oops.Code("PROTOCOL_BAD_BODY").With("operation", "challenge").Wrap(err)
	}
	if body.PoW == nil {
		return pow.Challenge{}, oops.Code("PROTOCOL_BAD_BODY").
			With("operation", "challenge").
			Errorf("challenge response has no pow object")
	}

	return pow.Challenge{
		AlgorithmName:    body.PoW.Algorithm.Name,
		AlgorithmVersion: body.PoW.Algorithm.Version.String(),
		Complexity:       body.PoW.Complexity,
		Timestamp:        body.PoW.Timestamp.String(),
		Resource:         body.PoW.Algorithm.Resource,
		Extension:        body.PoW.Algorithm.Extension,
		RandomString:     body.PoW.RandomString,
	}, nil
}

// RequestTokenByCredentials performs the password grant. Rejections other
// than the two second-factor markers are returned as NETWORK_REJECTED
// errors.
func (c *Client) RequestTokenByCredentials(ctx context.Context, r realm.Realm, creds Credentials) (*Grant, error) {
	form := url.Values{}
	form.Set("username", creds.Email)
	form.Set("password", creds.Password)
	form.Set("grant_type", GrantTypePassword)
	form.Set("client_id", r.ClientID)
	form.Set("tid", c.trackingID)
	form.Set("pow", strconv.FormatUint(creds.Nonce, 10))
	if creds.TwoFactorToken != "" {
		form.Set("twofactor_token", creds.TwoFactorToken)
	}
	if creds.OTPCode != "" {
		form.Set("otp_code", creds.OTPCode)
	}

	resp, err := c.call(ctx, "token_password", r, http.MethodPost, r.IdentityEndpoint(PathToken), form)
	if err != nil {
		return nil, err
	}

	var body tokenBody
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return nil, oops.Code("PROTOCOL_BAD_BODY").
			With("operation", "token_password").
			With("status", resp.status).
			Wrap(err)
	}

	if resp.status == http.StatusOK {
		if body.AccessToken == "" {
			return nil, oops.Code("PROTOCOL_BAD_BODY").
				With("operation", "token_password").
				Errorf("token response has no access_token")
		}
		return &Grant{
			Kind:           GrantIssued,
			AccessToken:    body.AccessToken,
			UserID:         body.User.String(),
			TwoFactorToken: body.TwoFactorToken,
		}, nil
	}

	switch body.ErrorDescription {
	case descTwoFactorRequired:
		if body.TwoFactorToken == "" {
			return nil, oops.Code("PROTOCOL_BAD_BODY").
				With("operation", "token_password").
				Errorf("second factor required without twofactor_token")
		}
		return &Grant{Kind: GrantSecondFactorRequired, TwoFactorToken: body.TwoFactorToken}, nil
	case descTwoFactorInvalid:
		return &Grant{Kind: GrantSecondFactorInvalid}, nil
	default:
		return nil, oops.Code("NETWORK_REJECTED").
			With("operation", "token_password").
			With("status", resp.status).
			With("error", body.Error).
			With("error_description", body.ErrorDescription).
			Errorf("identity service rejected credentials")
	}
}

// ExchangeToken trades a password-grant access token for a durable token
// bound to a fresh exchange code.
func (c *Client) ExchangeToken(ctx context.Context, r realm.Realm, accessToken string) (*Exchange, error) {
	code, err := c.newExchangeCode()
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("access_token", accessToken)
	form.Set("grant_type", GrantTypeAccessToken)
	form.Set("client_id", r.ClientID)
	form.Set("exchange_code", code)
	form.Set("tid", c.trackingID)

	resp, err := c.call(ctx, "token_exchange", r, http.MethodPost, r.IdentityEndpoint(PathToken), form)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, statusError(resp, "token_exchange")
	}

	var body exchangeBody
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return nil, oops.Code("PROTOCOL_BAD_BODY").With("operation", "token_exchange").Wrap(err)
	}
	if body.AccessToken == "" {
		return nil, oops.Code("PROTOCOL_BAD_BODY").
			With("operation", "token_exchange").
			Errorf("exchange response has no access_token")
	}

	return &Exchange{
		AccessToken:  body.AccessToken,
		UserID:       body.User.String(),
		ExchangeCode: code,
	}, nil
}

// FetchAccountInfo reads the account subject and nickname. A bearer
// credential must be installed with SetBearer first.
func (c *Client) FetchAccountInfo(ctx context.Context, r realm.Realm) (*AccountInfo, error) {
	if !c.HasBearer() {
		return nil, oops.Code("SEQUENCE_NO_BEARER").Errorf("account info requested without bearer credential")
	}

	form := url.Values{}
	form.Set("fields", "nickname")

	resp, err := c.call(ctx, "account_info", r, http.MethodPost, r.IdentityEndpoint(PathAccountInfo), form)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, statusError(resp, "account_info")
	}

	var body accountInfoBody
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return nil, oops.Code("PROTOCOL_BAD_BODY").With("operation", "account_info").Wrap(err)
	}

	return &AccountInfo{Subject: body.Sub.String(), Nickname: body.Nickname}, nil
}

func statusError(resp *response, operation string) error {
	return oops.Code("NETWORK_STATUS").
		With("operation", operation).
		With("status", resp.status).
		Errorf("unexpected status %d from identity service", resp.status)
}
