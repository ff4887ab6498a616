package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/jmerrifield20/ledgerclient/pkg/api"
	"github.com/jmerrifield20/ledgerclient/pkg/store"
)

// ErrUnauthorized is returned when the service rejects the session token or
// the login credentials.
var ErrUnauthorized = errors.New("unauthorized")

// maxResponseSize bounds every response body; proof bundles of long linear
// proofs are the largest payloads.
const maxResponseSize = 8 << 20

// Refresh the session token this long before it actually expires.
const tokenRefreshBuffer = 60 * time.Second

// HTTPTransport is a ServiceClient speaking JSON over HTTP.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	user     string
	password string
	token    string
	insecure bool
}

// TransportOption is a functional option for configuring an HTTPTransport.
type TransportOption func(*HTTPTransport) error

// WithHTTPClient sets the http.Client requests are sent with. Its transport
// is wrapped when a session token is configured.
func WithHTTPClient(hc *http.Client) TransportOption {
	return func(t *HTTPTransport) error {
		t.httpClient = hc
		return nil
	}
}

// WithCredentials logs in with user/password and keeps the session token
// fresh, logging in again shortly before it expires.
func WithCredentials(user, password string) TransportOption {
	return func(t *HTTPTransport) error {
		t.user = user
		t.password = password
		return nil
	}
}

// WithBearerToken attaches a pre-obtained session token to every request.
// The token is never refreshed.
func WithBearerToken(token string) TransportOption {
	return func(t *HTTPTransport) error {
		t.token = token
		return nil
	}
}

// WithRateLimit caps the request rate to rps requests per second.
func WithRateLimit(rps float64, burst int) TransportOption {
	return func(t *HTTPTransport) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("%w: rate limit %v/%d", store.ErrIllegalArguments, rps, burst)
		}
		t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a locally-generated CA.
func WithInsecureSkipVerify() TransportOption {
	return func(t *HTTPTransport) error {
		t.insecure = true
		return nil
	}
}

func NewHTTPTransport(baseURL string, opts ...TransportOption) (*HTTPTransport, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	t := &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(t); err != nil {
			return nil, err
		}
	}

	if t.token != "" && t.user != "" {
		return nil, errors.New("bearer token and credentials are mutually exclusive")
	}

	base := t.httpClient.Transport
	if t.insecure {
		base = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
	}
	if base == nil {
		base = http.DefaultTransport
	}
	plain := &http.Client{Transport: base, Timeout: t.httpClient.Timeout}

	var ts oauth2.TokenSource
	switch {
	case t.token != "":
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: t.token, TokenType: "Bearer"})
	case t.user != "":
		ts = oauth2.ReuseTokenSource(nil, &loginTokenSource{t: t, httpClient: plain})
	}

	if ts != nil {
		t.httpClient = &http.Client{
			Transport: &oauth2.Transport{Source: ts, Base: base},
			Timeout:   t.httpClient.Timeout,
		}
	} else {
		t.httpClient = plain
	}

	return t, nil
}

// loginTokenSource obtains a session token from the login endpoint. The
// token expiry is read from its exp claim; the signature is the service's
// business, not ours.
type loginTokenSource struct {
	t          *HTTPTransport
	httpClient *http.Client
}

func (s *loginTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.httpClient.Timeout+time.Second)
	defer cancel()

	var resp api.LoginResponse
	err := s.t.send(ctx, s.httpClient, http.MethodPost, "/api/v1/login",
		&api.LoginRequest{User: s.t.user, Password: s.t.password}, &resp)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	tok := &oauth2.Token{AccessToken: resp.Token, TokenType: "Bearer"}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(resp.Token, &claims); err == nil && claims.ExpiresAt != nil {
		tok.Expiry = claims.ExpiresAt.Add(-tokenRefreshBuffer)
	}
	return tok, nil
}

func dbPath(db, op string) string {
	return "/api/v1/db/" + url.PathEscape(db) + op
}

func (t *HTTPTransport) Set(ctx context.Context, db string, req *api.SetRequest) (*api.TxHeader, error) {
	var hdr api.TxHeader
	if err := t.do(ctx, http.MethodPost, dbPath(db, "/set"), req, &hdr); err != nil {
		return nil, err
	}
	return &hdr, nil
}

func (t *HTTPTransport) SetReference(ctx context.Context, db string, req *api.ReferenceRequest) (*api.TxHeader, error) {
	var hdr api.TxHeader
	if err := t.do(ctx, http.MethodPost, dbPath(db, "/reference"), req, &hdr); err != nil {
		return nil, err
	}
	return &hdr, nil
}

func (t *HTTPTransport) Get(ctx context.Context, db string, req *api.KeyRequest) (*api.Entry, error) {
	var entry api.Entry
	if err := t.do(ctx, http.MethodPost, dbPath(db, "/get"), req, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (t *HTTPTransport) VerifiableSet(ctx context.Context, db string, req *api.VerifiableSetRequest) (*api.VerifiableTx, error) {
	var vtx api.VerifiableTx
	if err := t.do(ctx, http.MethodPost, dbPath(db, "/verifiable/set"), req, &vtx); err != nil {
		return nil, err
	}
	return &vtx, nil
}

func (t *HTTPTransport) VerifiableGet(ctx context.Context, db string, req *api.VerifiableGetRequest) (*api.VerifiableEntry, error) {
	var ve api.VerifiableEntry
	if err := t.do(ctx, http.MethodPost, dbPath(db, "/verifiable/get"), req, &ve); err != nil {
		return nil, err
	}
	return &ve, nil
}

func (t *HTTPTransport) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := t.do(ctx, http.MethodGet, "/api/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, in, out any) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	return t.send(ctx, t.httpClient, method, path, in, out)
}

// send executes one JSON round trip and maps error statuses onto the store
// sentinels.
func (t *HTTPTransport) send(ctx context.Context, hc *http.Client, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		msg := string(respBody)
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			msg = e.Error
		}

		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", store.ErrKeyNotFound, msg)
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s", store.ErrIllegalArguments, msg)
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		default:
			return fmt.Errorf("server error %d: %s", resp.StatusCode, msg)
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
