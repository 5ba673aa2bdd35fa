// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package identity

import (
	"bytes"
	"encoding/json"
)

// Scalar holds a JSON string or number as its textual form. The service
// sends some identifiers as numbers and others as strings; comparisons and
// canonical strings use the text the service sent.
type Scalar string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = Scalar(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = Scalar(n.String())
	return nil
}

// String returns the textual form.
func (s Scalar) String() string {
	return string(s)
}

type challengeBody struct {
	PoW *struct {
		Algorithm struct {
			Name      string `json:"name"`
			Version   Scalar `json:"version"`
			Resource  string `json:"resourse"`
			Extension string `json:"extension"`
		} `json:"algorithm"`
		Complexity   int    `json:"complexity"`
		Timestamp    Scalar `json:"timestamp"`
		RandomString string `json:"random_string"`
	} `json:"pow"`
}

type tokenBody struct {
	AccessToken      string `json:"access_token"`
	User             Scalar `json:"user"`
	TwoFactorToken   string `json:"twofactor_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type exchangeBody struct {
	AccessToken string `json:"access_token"`
	User        Scalar `json:"user"`
}

type accountInfoBody struct {
	Sub      Scalar `json:"sub"`
	Nickname string `json:"nickname"`
}
