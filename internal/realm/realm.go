// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package realm maps region codes to the identity and session services of
// each regional deployment.
package realm

import (
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Code identifies a regional deployment.
type Code string

// Known realm codes.
const (
	RU   Code = "RU"
	EU   Code = "EU"
	NA   Code = "NA"
	ASIA Code = "ASIA"
)

// ErrUnknownRealm is returned when a realm code does not resolve.
var ErrUnknownRealm = errors.New("unknown realm")

// DefaultPollHosts are the host globs a 202 Location may point at in
// addition to the realm's own identity host.
var DefaultPollHosts = []string{"*.wargaming.net"}

// Realm is one regional deployment.
type Realm struct {
	Code        Code
	ClientID    string
	IdentityURL string
	SessionURL  string
}

// Validate reports whether both URL mappings and the client id are present.
func (r Realm) Validate() error {
	if r.ClientID == "" {
		return oops.Code("CONFIG_UNKNOWN_REALM").With("realm", string(r.Code)).Wrapf(ErrUnknownRealm, "realm has no client id")
	}
	for name, raw := range map[string]string{"identity_url": r.IdentityURL, "session_url": r.SessionURL} {
		if raw == "" {
			return oops.Code("CONFIG_UNKNOWN_REALM").With("realm", string(r.Code)).With("field", name).Wrapf(ErrUnknownRealm, "realm has no %s", name)
		}
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return oops.Code("CONFIG_INVALID_REALM_URL").With("realm", string(r.Code)).With("field", name).Errorf("realm %s is not an absolute URL", name)
		}
	}
	return nil
}

// IdentityEndpoint joins path onto the identity base URL.
func (r Realm) IdentityEndpoint(path string) string {
	return strings.TrimSuffix(r.IdentityURL, "/") + path
}

// IdentityHost returns the host (with port, if any) of the identity service.
func (r Realm) IdentityHost() string {
	u, err := url.Parse(r.IdentityURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Registry resolves realm codes.
type Registry struct {
	realms map[Code]Realm
}

// Defaults returns the production realm table.
func Defaults() map[Code]Realm {
	return map[Code]Realm{
		RU: {
			Code:        RU,
			ClientID:    "77cxLwtEJ9uvlcm2sYe4O8viIIWn1FEWlooMTTqF",
			IdentityURL: "https://ru.wargaming.net",
			SessionURL:  "https://wgcps-ru.wargaming.net",
		},
		EU: {
			Code:        EU,
			ClientID:    "JJ5yuABVKqZekaktUR8cejMzxbbHAtUVmY2eamsS",
			IdentityURL: "https://eu.wargaming.net",
			SessionURL:  "https://wgcps-eu.wargaming.net",
		},
		NA: {
			Code:        NA,
			ClientID:    "AJ5PLrEuz5C2d0hHmmjQJtjaMpueSahYY8CiswHE",
			IdentityURL: "https://na.wargaming.net",
			SessionURL:  "https://wgcps-na.wargaming.net",
		},
		ASIA: {
			Code:        ASIA,
			ClientID:    "Xe2oDM8Z6A4N70VZIV8RyVLHpvdtVPYNRIIYBklJ",
			IdentityURL: "https://asia.wargaming.net",
			SessionURL:  "https://wgcps-asia.wargaming.net",
		},
	}
}

// Override replaces fields of a default realm. Empty fields keep the default.
type Override struct {
	ClientID    string
	IdentityURL string
	SessionURL  string
}

// NewRegistry builds a registry from the defaults with overrides applied.
// Every resulting realm must validate.
func NewRegistry(overrides map[string]Override) (*Registry, error) {
	realms := Defaults()
	for raw, o := range overrides {
		code := Normalize(raw)
		r := realms[code]
		r.Code = code
		if o.ClientID != "" {
			r.ClientID = o.ClientID
		}
		if o.IdentityURL != "" {
			r.IdentityURL = o.IdentityURL
		}
		if o.SessionURL != "" {
			r.SessionURL = o.SessionURL
		}
		realms[code] = r
	}
	for _, r := range realms {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	return &Registry{realms: realms}, nil
}

// Normalize upper-cases and trims a realm code.
func Normalize(raw string) Code {
	return Code(strings.ToUpper(strings.TrimSpace(raw)))
}

// Lookup resolves a realm code case-insensitively.
func (r *Registry) Lookup(raw string) (Realm, error) {
	code := Normalize(raw)
	realm, ok := r.realms[code]
	if !ok {
		return Realm{}, oops.Code("CONFIG_UNKNOWN_REALM").With("realm", raw).Wrap(ErrUnknownRealm)
	}
	if err := realm.Validate(); err != nil {
		return Realm{}, err
	}
	return realm, nil
}

// All returns every realm sorted by code.
func (r *Registry) All() []Realm {
	out := make([]Realm, 0, len(r.realms))
	for _, realm := range r.realms {
		out = append(out, realm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// HostPolicy decides whether a polling Location may be followed.
type HostPolicy struct {
	globs []glob.Glob
}

// NewHostPolicy compiles host globs. Labels are separated by '.', so
// "*.wargaming.net" matches exactly one leading label.
func NewHostPolicy(patterns []string) (*HostPolicy, error) {
	p := &HostPolicy{}
	for _, pattern := range patterns {
		g, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID_POLL_HOST").With("pattern", pattern).Wrap(err)
		}
		p.globs = append(p.globs, g)
	}
	return p, nil
}

// Allows reports whether target may be polled for a request made to realm.
// The realm's own identity host is always allowed.
func (p *HostPolicy) Allows(r Realm, target *url.URL) bool {
	if target == nil || target.Host == "" {
		return false
	}
	if strings.EqualFold(target.Host, r.IdentityHost()) {
		return true
	}
	if target.Scheme != "https" {
		return false
	}
	host := strings.ToLower(target.Hostname())
	for _, g := range p.globs {
		if g.Match(host) {
			return true
		}
	}
	return false
}
