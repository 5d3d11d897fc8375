package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/finchsec/tokenward/internal/oauth1"
)

// Default handshake and validity parameters.
const (
	DefaultIdleThreshold   = 2 * time.Hour
	DefaultRequestTokenTTL = 15 * time.Minute
	DefaultHTTPTimeout     = 10 * time.Second
	DefaultTimezone        = "America/New_York"
)

// BrokerConfig describes the broker's OAuth and API endpoints. The endpoint
// shapes are fixed by the broker; only the hosts differ per environment.
type BrokerConfig struct {
	// BaseURLs maps each environment to its API origin, e.g.
	// https://api.broker.example and https://apisb.broker.example.
	BaseURLs map[Environment]string

	// AuthorizeURL is the human-facing page that displays the PIN.
	AuthorizeURL string

	RequestTokenPath string
	AccessTokenPath  string

	// KeepAlivePath is a cheap authenticated endpoint used to reset the idle
	// clock and to prove the token is accepted server-side.
	KeepAlivePath string

	// Timezone is the broker's reference timezone for the midnight expiry
	// policy.
	Timezone string
}

func (c *BrokerConfig) applyDefaults() {
	if c.RequestTokenPath == "" {
		c.RequestTokenPath = "/oauth/request_token"
	}
	if c.AccessTokenPath == "" {
		c.AccessTokenPath = "/oauth/access_token"
	}
	if c.KeepAlivePath == "" {
		c.KeepAlivePath = "/v1/accounts/list"
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
}

// StartResult is the operator-visible outcome of starting a handshake.
type StartResult struct {
	AuthorizeURL  string `json:"authorize_url"`
	RequestToken  string `json:"request_token"`
	RequestSecret string `json:"request_secret"`
}

// Manager orchestrates the three-legged handshake and is the sole writer of
// access-token records. Construct one per process and inject it; no globals.
type Manager struct {
	creds   map[Environment]Credentials
	signers map[Environment]*oauth1.Signer
	tracker *Tracker
	broker  BrokerConfig
	loc     *time.Location

	httpClient      *http.Client
	idleThreshold   time.Duration
	requestTokenTTL time.Duration
	now             func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHTTPClient overrides the broker HTTP client (tests, proxies).
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = c }
}

// WithClock overrides the time source for deterministic state derivation.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithIdleThreshold overrides the idle duration after which an active token
// is reported as IDLE_WARN.
func WithIdleThreshold(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idleThreshold = d }
}

// WithRequestTokenTTL overrides how long an unconsumed request token stays
// usable.
func WithRequestTokenTTL(d time.Duration) ManagerOption {
	return func(m *Manager) { m.requestTokenTTL = d }
}

// NewManager creates a Manager for the environments present in creds.
func NewManager(creds []Credentials, tracker *Tracker, broker BrokerConfig, opts ...ManagerOption) (*Manager, error) {
	if tracker == nil {
		return nil, fmt.Errorf("missing tracker")
	}
	broker.applyDefaults()

	loc, err := time.LoadLocation(broker.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid broker timezone %q: %w", broker.Timezone, err)
	}

	m := &Manager{
		creds:           make(map[Environment]Credentials, len(creds)),
		signers:         make(map[Environment]*oauth1.Signer, len(creds)),
		tracker:         tracker,
		broker:          broker,
		loc:             loc,
		httpClient:      &http.Client{Timeout: DefaultHTTPTimeout},
		idleThreshold:   DefaultIdleThreshold,
		requestTokenTTL: DefaultRequestTokenTTL,
		now:             time.Now,
	}
	for _, c := range creds {
		if c.ConsumerKey == "" {
			continue
		}
		if _, ok := broker.BaseURLs[c.Environment]; !ok {
			return nil, fmt.Errorf("no broker base URL for environment %s", c.Environment)
		}
		m.creds[c.Environment] = c
		m.signers[c.Environment] = oauth1.NewSigner(c.ConsumerKey, c.ConsumerSecret)
	}

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Tracker exposes the underlying state tracker for components that update
// last-used timestamps or dedup markers.
func (m *Manager) Tracker() *Tracker { return m.tracker }

// IdleThreshold returns the configured idle-warn threshold.
func (m *Manager) IdleThreshold() time.Duration { return m.idleThreshold }

// Timezone returns the broker reference location used for expiry.
func (m *Manager) Timezone() *time.Location { return m.loc }

// Environments returns the environments this manager has credentials for.
func (m *Manager) Environments() []Environment {
	var envs []Environment
	for _, env := range Environments() {
		if _, ok := m.creds[env]; ok {
			envs = append(envs, env)
		}
	}
	return envs
}

// StartFlow signs and issues the request-token leg and returns the authorize
// URL the human must visit. Any prior unconsumed request token for the
// environment is invalidated: only the newest pair is honored by
// CompleteFlow.
func (m *Manager) StartFlow(ctx context.Context, env Environment) (*StartResult, error) {
	signer, ok := m.signers[env]
	if !ok {
		return nil, fmt.Errorf("%s: no consumer credentials configured", env)
	}

	endpoint := m.broker.BaseURLs[env] + m.broker.RequestTokenPath
	params := signer.ProtocolParams("", map[string]string{"oauth_callback": "oob"})

	body, status, err := m.signedGet(ctx, env, signer, endpoint, params, "")
	if err != nil {
		m.recordFlowError(ctx, env, err)
		return nil, err
	}

	values, parseErr := url.ParseQuery(body)
	token := values.Get("oauth_token")
	secret := values.Get("oauth_token_secret")
	if status != http.StatusOK || parseErr != nil || token == "" || secret == "" {
		upstreamErr := &UpstreamRequestTokenError{
			Environment: env,
			StatusCode:  status,
			Detail:      truncate(body, 200),
		}
		m.recordFlowError(ctx, env, upstreamErr)
		return nil, upstreamErr
	}

	pending := &pendingFlow{
		Token:     token,
		Secret:    secret,
		CreatedAt: m.now().UTC(),
	}
	if err := m.tracker.putPending(ctx, env, pending); err != nil {
		return nil, err
	}

	authorizeURL := fmt.Sprintf("%s?key=%s&token=%s",
		m.broker.AuthorizeURL,
		url.QueryEscape(m.creds[env].ConsumerKey),
		url.QueryEscape(token))

	slog.InfoContext(ctx, "request token issued", "environment", env)

	return &StartResult{
		AuthorizeURL:  authorizeURL,
		RequestToken:  token,
		RequestSecret: secret,
	}, nil
}

// CompleteFlow exchanges a request-token pair plus the human-entered verifier
// for an access token and durably persists it. Success is only reported after
// the record is saved: a token that could not be durably saved is not
// considered obtained.
func (m *Manager) CompleteFlow(ctx context.Context, env Environment, reqToken, reqSecret, verifier string) (*AccessTokenRecord, error) {
	signer, ok := m.signers[env]
	if !ok {
		return nil, fmt.Errorf("%s: no consumer credentials configured", env)
	}
	if reqToken == "" || reqSecret == "" || verifier == "" {
		return nil, fmt.Errorf("%s: request token, secret and verifier are all required", env)
	}

	// Only the newest persisted pair within its TTL is honored. A pair whose
	// handshake already failed is burned: the operator restarts from StartFlow.
	pending, found := m.tracker.getPending(ctx, env)
	if !found || pending.Token == "" || pending.Token != reqToken {
		return nil, fmt.Errorf("%s: %w", env, ErrRequestTokenStale)
	}
	if pending.LastError != "" {
		return nil, fmt.Errorf("%s: %w (previous attempt failed: %s)", env, ErrRequestTokenStale, pending.LastError)
	}
	if m.now().UTC().Sub(pending.CreatedAt) > m.requestTokenTTL {
		return nil, fmt.Errorf("%s: %w (older than %s)", env, ErrRequestTokenStale, m.requestTokenTTL)
	}

	endpoint := m.broker.BaseURLs[env] + m.broker.AccessTokenPath
	params := signer.ProtocolParams(reqToken, map[string]string{"oauth_verifier": verifier})

	body, status, err := m.signedGet(ctx, env, signer, endpoint, params, reqSecret)
	if err != nil {
		m.recordFlowError(ctx, env, err)
		return nil, err
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		rejErr := &VerifierRejectedError{Environment: env}
		m.recordFlowError(ctx, env, rejErr)
		return nil, rejErr
	}

	values, parseErr := url.ParseQuery(body)
	token := values.Get("oauth_token")
	secret := values.Get("oauth_token_secret")
	if status != http.StatusOK || parseErr != nil || token == "" || secret == "" {
		upstreamErr := &UpstreamAccessTokenError{
			Environment: env,
			StatusCode:  status,
			Detail:      truncate(body, 200),
		}
		m.recordFlowError(ctx, env, upstreamErr)
		return nil, upstreamErr
	}

	now := m.now().UTC()
	rec := &AccessTokenRecord{
		OAuthToken:       token,
		OAuthTokenSecret: secret,
		IssuedAt:         now,
		LastUsedAt:       now,
	}
	if err := m.tracker.Put(ctx, env, rec); err != nil {
		return nil, err
	}
	m.tracker.clearPending(ctx, env)

	slog.InfoContext(ctx, "access token issued", "environment", env, "issued_at", now)

	return rec, nil
}

// Status derives the environment's state from the persisted record and the
// current time. Pure with respect to the broker: it never makes a network
// call and never returns an error — any ambiguity reads as EXPIRED, forcing
// re-authentication rather than trusting an undecidable credential.
func (m *Manager) Status(ctx context.Context, env Environment) State {
	if _, ok := m.creds[env]; !ok {
		return StateNoCredentials
	}

	now := m.now()

	rec, found, err := m.tracker.Get(ctx, env)
	if err != nil {
		slog.WarnContext(ctx, "token record unreadable, treating as expired",
			"environment", env, "error", err)
		found = false
	}
	if found && rec.plausible() && !rec.IssuedAt.Before(m.lastMidnight(now)) {
		if now.UTC().Sub(rec.LastUsedAt) >= m.idleThreshold {
			return StateIdleWarn
		}
		return StateAccessTokenActive
	}

	if pending, ok := m.tracker.getPending(ctx, env); ok {
		if pending.LastError != "" {
			return StateError
		}
		if pending.Token != "" && now.UTC().Sub(pending.CreatedAt) <= m.requestTokenTTL {
			return StateRequestTokenIssued
		}
	}

	return StateExpired
}

// ValidateLive goes beyond Status with one lightweight authenticated call,
// distinguishing "looks valid by timestamp" from "actually accepted
// server-side". A revoked token is time-valid yet rejected upstream.
func (m *Manager) ValidateLive(ctx context.Context, env Environment) (bool, error) {
	signer, ok := m.signers[env]
	if !ok {
		return false, nil
	}
	rec, found, err := m.tracker.Get(ctx, env)
	if err != nil || !found || !rec.plausible() {
		return false, err
	}

	endpoint := m.broker.BaseURLs[env] + m.broker.KeepAlivePath
	params := signer.ProtocolParams(rec.OAuthToken, nil)

	_, status, err := m.signedGet(ctx, env, signer, endpoint, params, rec.OAuthTokenSecret)
	if err != nil {
		return false, err
	}

	switch {
	case status >= 200 && status < 300:
		if err := m.tracker.TouchLastUsed(ctx, env, m.now()); err != nil {
			slog.WarnContext(ctx, "updating last-used timestamp", "environment", env, "error", err)
		}
		return true, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("%s: keep-alive returned status %d", env, status)
	}
}

// lastMidnight returns the most recent local midnight in the broker's
// reference timezone.
func (m *Manager) lastMidnight(now time.Time) time.Time {
	local := now.In(m.loc)
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, m.loc)
}

// signedGet issues one signed GET and returns the response body and status.
// Transport failures map to NetworkError; signing failures pass through.
func (m *Manager) signedGet(ctx context.Context, env Environment, signer *oauth1.Signer, endpoint string, params map[string]string, tokenSecret string) (string, int, error) {
	header, err := signer.Header(http.MethodGet, endpoint, params, tokenSecret)
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", 0, fmt.Errorf("building broker request: %w", err)
	}
	req.Header.Set("Authorization", header)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", 0, &NetworkError{Environment: env, Op: "GET " + endpoint, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", 0, &NetworkError{Environment: env, Op: "GET " + endpoint, Cause: err}
	}

	return string(body), resp.StatusCode, nil
}

// recordFlowError persists the failure on the pending blob so other replicas
// observe the ERROR state. Best-effort: the primary error is what surfaces.
func (m *Manager) recordFlowError(ctx context.Context, env Environment, cause error) {
	pending, ok := m.tracker.getPending(ctx, env)
	if !ok {
		pending = &pendingFlow{CreatedAt: m.now().UTC()}
	}
	pending.LastError = cause.Error()
	if err := m.tracker.putPending(ctx, env, pending); err != nil {
		slog.WarnContext(ctx, "recording flow error", "environment", env, "error", err)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
