// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package identity talks to the regional identity service: proof-of-work
// challenges, credential and token grants, and account info.
package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/doyensec/safeurl"
	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/wgcauth/internal/realm"
)

// Endpoint paths relative to the realm identity URL.
const (
	PathChallenge   = "/id/api/v2/account/credentials/create/oauth/token/challenge/"
	PathToken       = "/id/api/v2/account/credentials/create/oauth/token/"
	PathAccountInfo = "/id/api/v2/account/info/"
)

// Grant types accepted by the token endpoint.
const (
	GrantTypePassword    = "urn:wargaming:params:oauth:grant-type:basic"
	GrantTypeAccessToken = "urn:wargaming:params:oauth:grant-type:access-token"
)

// DefaultUserAgent is the product user agent sent on every request.
const DefaultUserAgent = "wgc/19.03.00.5220"

// Defaults for Config fields left zero.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultPollTimeout    = 60 * time.Second
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

var errStillPending = errors.New("response still pending")

// Recorder receives per-call statistics. status is 0 when no response arrived.
type Recorder interface {
	RecordRemoteCall(operation string, status int)
}

// Doer sends one HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client. Zero values select defaults.
type Config struct {
	// HTTPClient overrides the transport. When nil a safeurl client
	// restricted to https on port 443 is used.
	HTTPClient *http.Client
	// HostPolicy decides which 202 Locations may be followed.
	HostPolicy     *realm.HostPolicy
	TrackingID     string
	UserAgent      string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	PollTimeout    time.Duration
	Recorder       Recorder
	Logger         *slog.Logger
}

// Client issues identity service calls. It holds a cookie jar and the
// bearer credential of the current session.
type Client struct {
	transport      Doer
	jar            *resettableJar
	hosts          *realm.HostPolicy
	trackingID     string
	userAgent      string
	requestTimeout time.Duration
	pollInterval   time.Duration
	pollTimeout    time.Duration
	recorder       Recorder
	logger         *slog.Logger
	tracer         trace.Tracer

	mu     sync.RWMutex
	bearer string

	// newExchangeCode is replaced in tests.
	newExchangeCode func() (string, error)
}

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.TrackingID == "" {
		cfg.TrackingID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HostPolicy == nil {
		policy, err := realm.NewHostPolicy(realm.DefaultPollHosts)
		if err != nil {
			return nil, err
		}
		cfg.HostPolicy = policy
	}

	jar, err := newResettableJar()
	if err != nil {
		return nil, oops.Code("CONFIG_COOKIE_JAR").Wrap(err)
	}

	var doer Doer
	if cfg.HTTPClient != nil {
		httpClient := *cfg.HTTPClient
		httpClient.Jar = jar
		doer = &httpClient
	} else {
		doer = newSafeClient(cfg.RequestTimeout, jar)
	}

	return &Client{
		transport:       doer,
		jar:             jar,
		hosts:           cfg.HostPolicy,
		trackingID:      cfg.TrackingID,
		userAgent:       cfg.UserAgent,
		requestTimeout:  cfg.RequestTimeout,
		pollInterval:    cfg.PollInterval,
		pollTimeout:     cfg.PollTimeout,
		recorder:        cfg.Recorder,
		logger:          cfg.Logger,
		tracer:          otel.Tracer("github.com/holomush/wgcauth/internal/identity"),
		newExchangeCode: NewExchangeCode,
	}, nil
}

// newSafeClient returns a safeurl client limited to https on port 443 with
// public addresses only. Requests go through WrappedClient.Do, which checks
// scheme, host and embedded credentials before the dialer checks the
// resolved address.
func newSafeClient(timeout time.Duration, jar http.CookieJar) *safeurl.WrappedClient {
	safeCfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()
	wrapped := safeurl.Client(safeCfg)
	wrapped.Client.Jar = jar
	return wrapped
}

// TrackingID returns the machine identifier sent as "tid".
func (c *Client) TrackingID() string {
	return c.trackingID
}

// SetBearer installs the Authorization header used by later calls.
func (c *Client) SetBearer(accessToken, exchangeCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bearer = "Bearer " + accessToken + ":" + exchangeCode
}

// HasBearer reports whether a bearer credential is installed.
func (c *Client) HasBearer() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bearer != ""
}

// ResetSession drops cookies and the bearer credential.
func (c *Client) ResetSession() {
	c.jar.Reset()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bearer = ""
}

// response is a fully read HTTP response.
type response struct {
	status int
	header http.Header
	body   []byte
	url    *url.URL
}

// call sends a request and follows 202 responses until a final status.
func (c *Client) call(ctx context.Context, operation string, r realm.Realm, method, target string, form url.Values) (*response, error) {
	ctx, span := c.tracer.Start(ctx, "identity."+operation, trace.WithAttributes(
		attribute.String("realm", string(r.Code)),
		attribute.String("http.method", method),
	))
	defer span.End()

	resp, err := c.send(ctx, method, target, form)
	if err == nil && resp.status == http.StatusAccepted {
		resp, err = c.poll(ctx, r, resp)
	}

	status := 0
	if resp != nil {
		status = resp.status
	}
	if c.recorder != nil {
		c.recorder.RecordRemoteCall(operation, status)
	}

	if err != nil {
		err = oops.With("realm", string(r.Code)).With("operation", operation).Wrap(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, operation+" failed")
		c.logger.DebugContext(ctx, "identity call failed", "operation", operation, "realm", string(r.Code), "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.status_code", status))
	c.logger.DebugContext(ctx, "identity call completed", "operation", operation, "realm", string(r.Code), "status", status)
	return resp, nil
}

// send performs one request and reads the whole body.
func (c *Client) send(ctx context.Context, method, target string, form url.Values) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, oops.Code("CONFIG_BAD_REQUEST").With("method", method).Wrap(err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	c.mu.RLock()
	if c.bearer != "" {
		req.Header.Set("Authorization", c.bearer)
	}
	c.mu.RUnlock()

	resp, err := c.transport.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, oops.Code("NETWORK_TIMEOUT").With("method", method).Wrap(err)
		}
		return nil, oops.Code("NETWORK_TRANSPORT").With("method", method).Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, oops.Code("NETWORK_TRANSPORT").With("method", method).With("status", resp.StatusCode).Wrap(err)
	}

	return &response{
		status: resp.StatusCode,
		header: resp.Header,
		body:   data,
		url:    resp.Request.URL,
	}, nil
}

// poll follows the Location of an accepted response until the service
// returns anything other than 202 or the poll budget runs out.
func (c *Client) poll(ctx context.Context, r realm.Realm, accepted *response) (*response, error) {
	base := accepted.url
	location := accepted.header.Get("Location")

	var final *response
	backoff := retry.WithMaxDuration(c.pollTimeout, retry.NewConstant(c.pollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		target, err := c.resolveLocation(r, base, location)
		if err != nil {
			return err
		}
		resp, err := c.send(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return err
		}
		if resp.status == http.StatusAccepted {
			if next := resp.header.Get("Location"); next != "" {
				location = next
				base = target
			}
			return retry.RetryableError(errStillPending)
		}
		final = resp
		return nil
	})

	switch {
	case err == nil:
		return final, nil
	case errors.Is(err, errStillPending):
		return nil, oops.Code("NETWORK_POLL_TIMEOUT").
			With("poll_timeout", c.pollTimeout.String()).
			Errorf("identity service still pending after poll budget")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, oops.Code("NETWORK_CANCELLED").Wrap(err)
	default:
		return nil, err
	}
}

// resolveLocation resolves a Location header against the URL that returned
// it and checks it against the host policy.
func (c *Client) resolveLocation(r realm.Realm, base *url.URL, location string) (*url.URL, error) {
	if location == "" {
		return nil, oops.Code("PROTOCOL_BAD_LOCATION").Errorf("accepted response without Location")
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, oops.Code("PROTOCOL_BAD_LOCATION").Wrap(err)
	}
	target := base.ResolveReference(ref)
	if !c.hosts.Allows(r, target) {
		return nil, oops.Code("PROTOCOL_BAD_LOCATION").
			With("host", target.Host).
			Errorf("poll location host is not allowed")
	}
	return target, nil
}
