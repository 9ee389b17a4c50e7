// Package directory is the client for the third-party hospital price file
// directory. One Client is shared by every worker in a process; it owns the
// API session and the sliding-window rate limiter.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/apperr"
	"github.com/gyeh/mrfsync/internal/metrics"
	"github.com/gyeh/mrfsync/internal/model"
)

const (
	sessionHeader   = "X-Session-Id"
	maxResponseBody = 64 << 20
)

// Options configures a Client. Zero values take the documented defaults
// except StatePause, where zero means no pause.
type Options struct {
	BaseURL         string
	Username        string
	Password        string
	UserAgent       string
	SessionTTL      time.Duration // default 30m
	TransportMaxAge time.Duration // default 10m
	RequestTimeout  time.Duration // default 30s
	MaxRequests     int           // default 100
	Window          time.Duration // default 180s
	StatePause      time.Duration
	Clock           Clock
}

// Client talks to the hospital directory.
type Client struct {
	opts    Options
	log     zerolog.Logger
	clock   Clock
	limiter *SlidingWindow

	sessMu  sync.Mutex
	session *Session

	httpMu    sync.Mutex
	http      *http.Client
	httpBuilt time.Time
	httpStale bool
}

// NewClient validates opts and returns a ready Client.
func NewClient(opts Options, log zerolog.Logger) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("directory BaseURL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid directory BaseURL: %w", err)
	}
	opts.BaseURL = strings.TrimRight(base, "/")
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	if opts.TransportMaxAge <= 0 {
		opts.TransportMaxAge = 10 * time.Minute
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = 100
	}
	if opts.Window <= 0 {
		opts.Window = 180 * time.Second
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "mrfsync/1.0"
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Client{
		opts:    opts,
		log:     log.With().Str("component", "directory").Logger(),
		clock:   clock,
		limiter: NewSlidingWindow(opts.MaxRequests, opts.Window, clock),
	}, nil
}

// SearchHospitals searches the directory. state may be empty.
func (c *Client) SearchHospitals(ctx context.Context, term, state string) ([]model.ExternalHospital, error) {
	q := url.Values{}
	if t := strings.TrimSpace(term); t != "" {
		q.Set("search", t)
	}
	if s := strings.ToUpper(strings.TrimSpace(state)); s != "" {
		q.Set("state", s)
	}

	body, err := c.withSession(ctx, "search", func(sessionID string) ([]byte, error) {
		return c.do(ctx, "search", http.MethodGet, "/hospitals", q, nil, sessionID)
	})
	if err != nil {
		return nil, err
	}

	hospitals, err := decodeHospitals(body)
	if err != nil {
		metrics.DirectoryRequests.WithLabelValues("search", "malformed").Inc()
		return nil, &apperr.ExternalServiceError{Kind: apperr.KindMalformedResponse, Op: "search", Err: err}
	}
	return hospitals, nil
}

// HospitalsByState lists every hospital the directory has for one jurisdiction.
func (c *Client) HospitalsByState(ctx context.Context, code string) ([]model.ExternalHospital, error) {
	return c.SearchHospitals(ctx, "", code)
}

// AllHospitals walks every jurisdiction in StateCodes sequentially, pausing
// between states. A failing state is logged and skipped.
func (c *Client) AllHospitals(ctx context.Context) ([]model.ExternalHospital, error) {
	var all []model.ExternalHospital
	var failed []string
	for i, code := range StateCodes {
		if i > 0 && c.opts.StatePause > 0 {
			if err := c.clock.Sleep(ctx, c.opts.StatePause); err != nil {
				return all, err
			}
		}
		hospitals, err := c.HospitalsByState(ctx, code)
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			failed = append(failed, code)
			c.log.Warn().Err(err).Str("state", code).Msg("state fetch failed, skipping")
			continue
		}
		c.log.Debug().Str("state", code).Int("hospitals", len(hospitals)).Msg("state fetched")
		all = append(all, hospitals...)
	}
	c.log.Info().
		Int("hospitals", len(all)).
		Int("states", len(StateCodes)).
		Strs("failed_states", failed).
		Msg("all hospitals fetched")
	return all, nil
}

// RateLimitStatus reports the limiter window.
func (c *Client) RateLimitStatus() RateLimitStatus {
	return c.limiter.Status()
}

// SessionStatus reports the current session, if any.
func (c *Client) SessionStatus() SessionStatus {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.session == nil {
		return SessionStatus{}
	}
	exp := c.session.ExpiresAt
	return SessionStatus{
		HasSession: true,
		Expiry:     &exp,
		IsExpired:  c.session.Expired(c.clock.Now()),
	}
}

// withSession runs call with a valid session id. A 401 drops the session
// and retries once with a fresh one.
func (c *Client) withSession(ctx context.Context, op string, call func(sessionID string) ([]byte, error)) ([]byte, error) {
	id, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	body, err := call(id)
	var se *apperr.ExternalServiceError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized {
		c.log.Info().Str("op", op).Msg("session rejected, recreating")
		c.invalidateSession(id)
		if id, err = c.ensureSession(ctx); err != nil {
			return nil, err
		}
		return call(id)
	}
	return body, err
}

// ensureSession returns the active session id, creating a new session when
// none exists or the current one has expired. Creation is serialised so
// concurrent callers trigger exactly one handshake.
func (c *Client) ensureSession(ctx context.Context) (string, error) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	now := c.clock.Now()
	if c.session != nil && !c.session.Expired(now) {
		return c.session.ID, nil
	}
	if c.session != nil {
		c.log.Debug().Time("expired_at", c.session.ExpiresAt).Msg("session expired")
		c.session = nil
	}

	id, err := c.createSession(ctx)
	if err != nil {
		return "", err
	}
	if err := c.ping(ctx, id); err != nil {
		return "", err
	}
	created := c.clock.Now()
	c.session = &Session{
		ID:        id,
		CreatedAt: created,
		ExpiresAt: created.Add(c.opts.SessionTTL),
	}
	c.log.Info().Time("expires_at", c.session.ExpiresAt).Msg("directory session created")
	return id, nil
}

func (c *Client) invalidateSession(id string) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.session != nil && c.session.ID == id {
		c.session = nil
	}
}

func (c *Client) createSession(ctx context.Context) (string, error) {
	payload := map[string]string{
		"username": c.opts.Username,
		"password": c.opts.Password,
	}
	body, err := c.do(ctx, "session", http.MethodPost, "/session", nil, payload, "")
	if err != nil {
		return "", err
	}
	var resp struct {
		SessionID flexString `json:"session_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.SessionID == "" {
		if err == nil {
			err = errors.New("missing session_id")
		}
		return "", &apperr.ExternalServiceError{Kind: apperr.KindMalformedResponse, Op: "session", Err: err}
	}
	return string(resp.SessionID), nil
}

func (c *Client) ping(ctx context.Context, sessionID string) error {
	_, err := c.do(ctx, "ping", http.MethodGet, "/ping", nil, nil, sessionID)
	return err
}

// do issues one rate-limited request and classifies failures.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, payload any, sessionID string) ([]byte, error) {
	if waited, err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	} else if waited > 0 {
		c.log.Debug().Str("op", op).Dur("waited", waited).Msg("rate limit wait")
	}

	u := c.opts.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if isTransportError(err) {
			c.markTransportStale()
		}
		metrics.DirectoryRequests.WithLabelValues(op, "error").Inc()
		return nil, &apperr.ExternalServiceError{Kind: apperr.KindGeneric, Op: op, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if isTransportError(err) {
			c.markTransportStale()
		}
		metrics.DirectoryRequests.WithLabelValues(op, "error").Inc()
		return nil, &apperr.ExternalServiceError{Kind: apperr.KindGeneric, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := apperr.ClassifyStatus(resp.StatusCode)
		metrics.DirectoryRequests.WithLabelValues(op, string(kind)).Inc()
		return nil, &apperr.ExternalServiceError{Kind: kind, Op: op, StatusCode: resp.StatusCode}
	}
	metrics.DirectoryRequests.WithLabelValues(op, "ok").Inc()
	return b, nil
}

// httpClient returns the current HTTP client, rebuilding it when it is older
// than TransportMaxAge or was marked stale by a transport error.
func (c *Client) httpClient() *http.Client {
	c.httpMu.Lock()
	defer c.httpMu.Unlock()

	now := c.clock.Now()
	if c.http != nil && !c.httpStale && now.Sub(c.httpBuilt) < c.opts.TransportMaxAge {
		return c.http
	}
	if c.http != nil {
		c.http.CloseIdleConnections()
		metrics.TransportResets.Inc()
		c.log.Debug().Bool("stale", c.httpStale).Msg("rebuilding http transport")
	}
	c.http = &http.Client{
		Timeout: c.opts.RequestTimeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	c.httpBuilt = now
	c.httpStale = false
	return c.http
}

func (c *Client) markTransportStale() {
	c.httpMu.Lock()
	c.httpStale = true
	c.httpMu.Unlock()
}

// isTransportError reports connection-level failures: timeouts, resets,
// closed sockets and truncated responses.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
