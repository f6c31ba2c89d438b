package panel

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"panelfleet/internal/domain"
)

const sessionCookieName = "3x-ui"

const defaultLoginTTL = 55 * time.Minute
const defaultMaxRetries = 3
const defaultRetryBackoff = 500 * time.Millisecond
const defaultRequestTimeout = 60 * time.Second
const defaultUserAgent = "panelfleet/1.0"

const connectTimeout = 10 * time.Second
const responseHeaderTimeout = 30 * time.Second
const maxResponseBytes = 10 * 1024 * 1024

// Options tunes a panel session. Zero values fall back to defaults.
type Options struct {
	LoginTTL     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	InsecureTLS  bool
	UserAgent    string
}

func (o Options) withDefaults() Options {
	if o.LoginTTL <= 0 {
		o.LoginTTL = defaultLoginTTL
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = defaultRetryBackoff
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	return o
}

// Session is one authenticated HTTP session to one panel server. The
// cookie jar and transport are owned exclusively by the session; identity
// changes on the descriptor require a new session, never mutation.
type Session struct {
	desc domain.ServerDescriptor
	opts Options
	log  *slog.Logger
	base *url.URL

	// loginMu serializes the login decision so concurrent first callers
	// issue a single login. It is never held across non-login I/O.
	loginMu   sync.Mutex
	client    *http.Client
	lastLogin time.Time
}

// NewSession builds a session for the descriptor. No I/O happens until the
// first call; login is lazy.
func NewSession(desc domain.ServerDescriptor, opts Options, logger *slog.Logger) (*Session, error) {
	base, err := url.Parse(strings.TrimSuffix(desc.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &domain.ConfigError{Field: "api_base_url", Reason: fmt.Sprintf("invalid panel URL %q", desc.BaseURL)}
	}
	s := &Session{
		desc: desc,
		opts: opts.withDefaults(),
		log:  logger,
		base: base,
	}
	s.client = s.newHTTPClient()
	return s, nil
}

func (s *Session) newHTTPClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: s.opts.InsecureTLS},
	}
	return &http.Client{
		Jar:       jar,
		Transport: transport,
		Timeout:   defaultRequestTimeout,
	}
}

// reset drops the transport and cookie jar. Callers hold loginMu.
func (s *Session) reset() {
	s.client.CloseIdleConnections()
	s.client = s.newHTTPClient()
	s.lastLogin = time.Time{}
}

// Close releases the underlying transport. Idempotent and safe to call
// while requests are in flight.
func (s *Session) Close() {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	s.client.CloseIdleConnections()
}

// httpClient returns the current client under the login mutex; login swaps
// the client, so the pointer read must not race with it.
func (s *Session) httpClient() *http.Client {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	return s.client
}

func (s *Session) hasCookie() bool {
	for _, c := range s.client.Jar.Cookies(s.base) {
		if c.Name == sessionCookieName {
			return true
		}
	}
	return false
}

func (s *Session) loginStale() bool {
	if s.lastLogin.IsZero() {
		return true
	}
	return time.Since(s.lastLogin) >= s.opts.LoginTTL
}

// EnsureLogin logs in when forced, when no session cookie is held, or when
// the last login is older than the TTL. Concurrent callers serialize on
// the login mutex: the first one logs in, the rest observe the fresh
// session and return.
func (s *Session) EnsureLogin(ctx context.Context, force bool) error {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	if !force && s.hasCookie() && !s.loginStale() {
		return nil
	}
	return s.login(ctx)
}

// login resets the transport (dropping stale cookies) and authenticates.
// Callers hold loginMu.
func (s *Session) login(ctx context.Context) error {
	s.reset()

	body, _ := json.Marshal(map[string]string{
		"username": s.desc.Username,
		"password": s.desc.Password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base.String()+"/login", bytes.NewReader(body))
	if err != nil {
		return &domain.TransportError{Server: s.desc.Code, Op: "login", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", s.opts.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return &domain.TransportError{Server: s.desc.Code, Op: "login", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &domain.TransportError{Server: s.desc.Code, Op: "login", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &domain.AuthError{Server: s.desc.Code, Reason: fmt.Sprintf("http %d: %s", resp.StatusCode, snippet(data))}
	}
	var out apiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return &domain.AuthError{Server: s.desc.Code, Reason: "invalid json in login response"}
	}
	if !out.Success {
		return &domain.AuthError{Server: s.desc.Code, Reason: "panel rejected credentials: " + out.Msg}
	}
	if !s.hasCookie() {
		return &domain.AuthError{Server: s.desc.Code, Reason: "login ok but session cookie missing"}
	}

	s.lastLogin = time.Now()
	s.log.Debug("panel login", "server", s.desc.Code)
	return nil
}

type apiResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

func (s *Session) roundTrip(ctx context.Context, method, path, contentType string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base.String()+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("User-Agent", s.opts.UserAgent)

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

// do issues an authenticated request. A 401/403 forces exactly one
// re-login and a single replay; network errors and 408/429/5xx statuses
// are retried with exponential backoff up to the retry budget. When the
// budget runs out on a status the final response is returned for the
// caller to judge; running out on network errors yields a TransportError.
func (s *Session) do(ctx context.Context, method, path, contentType string, body []byte) (int, []byte, error) {
	if err := s.EnsureLogin(ctx, false); err != nil {
		return 0, nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		status, data, err := s.roundTrip(ctx, method, path, contentType, body)
		if err == nil && (status == http.StatusUnauthorized || status == http.StatusForbidden) {
			if lerr := s.EnsureLogin(ctx, true); lerr != nil {
				return 0, nil, lerr
			}
			status, data, err = s.roundTrip(ctx, method, path, contentType, body)
		}
		if err == nil {
			if retryableStatus(status) && attempt < s.opts.MaxRetries {
				if werr := s.backoff(ctx, attempt); werr != nil {
					return 0, nil, werr
				}
				continue
			}
			return status, data, nil
		}
		lastErr = err
		if attempt >= s.opts.MaxRetries {
			break
		}
		if werr := s.backoff(ctx, attempt); werr != nil {
			return 0, nil, werr
		}
	}
	return 0, nil, &domain.TransportError{Server: s.desc.Code, Op: method + " " + path, Err: lastErr}
}

func (s *Session) backoff(ctx context.Context, attempt int) error {
	delay := s.opts.RetryBackoff << (attempt - 1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// ListInbounds fetches and decodes the panel's inbound list.
func (s *Session) ListInbounds(ctx context.Context) ([]Inbound, error) {
	const op = "list inbounds"
	status, data, err := s.do(ctx, http.MethodGet, "/panel/api/inbounds/list", "", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &domain.ProtocolError{Server: s.desc.Code, Op: op, Status: status, Reason: snippet(data)}
	}
	inbounds, env, err := decodeInboundList(data)
	if err != nil {
		return nil, &domain.ProtocolError{Server: s.desc.Code, Op: op, Reason: "invalid json: " + err.Error()}
	}
	if !env.Success {
		return nil, &domain.ProtocolError{Server: s.desc.Code, Op: op, Reason: "panel reported failure: " + env.Msg}
	}
	return inbounds, nil
}

type clientEntry struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Enable     bool   `json:"enable"`
	Flow       string `json:"flow"`
	LimitIP    int64  `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	TgID       string `json:"tgId"`
	SubID      string `json:"subId"`
	Comment    string `json:"comment"`
	Reset      int64  `json:"reset"`
}

// clientSettingsJSON builds the single-client settings document for
// addClient: enabled, vision flow, no traffic or time limits.
func clientSettingsJSON(clientID uuid.UUID, email string) []byte {
	doc := struct {
		Clients []clientEntry `json:"clients"`
	}{
		Clients: []clientEntry{{
			ID:     clientID.String(),
			Email:  email,
			Enable: true,
			Flow:   visionFlow,
		}},
	}
	data, _ := json.Marshal(doc)
	return data
}

func (s *Session) postAddClient(ctx context.Context, inboundID int64, settings []byte) (apiResponse, error) {
	const op = "add client"
	form := url.Values{
		"id":       {strconv.FormatInt(inboundID, 10)},
		"settings": {string(settings)},
	}
	status, data, err := s.do(ctx, http.MethodPost, "/panel/api/inbounds/addClient",
		"application/x-www-form-urlencoded", []byte(form.Encode()))
	if err != nil {
		return apiResponse{}, err
	}
	if status != http.StatusOK {
		return apiResponse{}, &domain.ProtocolError{Server: s.desc.Code, Op: op, Status: status, Reason: snippet(data)}
	}
	var out apiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return apiResponse{}, &domain.ProtocolError{Server: s.desc.Code, Op: op, Reason: "invalid json: " + err.Error()}
	}
	return out, nil
}

// AddClient provisions clientID on the given inbound. The operation is
// idempotent: when the panel reports a duplicate email and the client id
// is already present, that is success; otherwise the add is retried once
// with a disambiguated email.
func (s *Session) AddClient(ctx context.Context, inboundID int64, clientID uuid.UUID, email string) error {
	const op = "add client"
	resp, err := s.postAddClient(ctx, inboundID, clientSettingsJSON(clientID, email))
	if err != nil {
		return err
	}
	if resp.Success {
		return nil
	}
	if !strings.Contains(resp.Msg, "Duplicate email") {
		return &domain.ProtocolError{Server: s.desc.Code, Op: op, Reason: "panel reported failure: " + resp.Msg}
	}

	// Duplicate email: the client may already exist under this inbound.
	inbounds, err := s.ListInbounds(ctx)
	if err != nil {
		return err
	}
	for _, in := range inbounds {
		if in.ID == inboundID && in.HasClient(clientID.String()) {
			return nil
		}
	}

	alt := email + "-" + shortClientTag(clientID)
	resp, err = s.postAddClient(ctx, inboundID, clientSettingsJSON(clientID, alt))
	if err != nil {
		return err
	}
	if !resp.Success {
		return &domain.ProtocolError{Server: s.desc.Code, Op: op, Reason: "retry with disambiguated email failed: " + resp.Msg}
	}
	return nil
}

// DeleteClient removes clientID from the given inbound. Callers pre-check
// presence; the panel's success flag is not re-interpreted here.
func (s *Session) DeleteClient(ctx context.Context, inboundID int64, clientID uuid.UUID) error {
	const op = "delete client"
	path := fmt.Sprintf("/panel/api/inbounds/%d/delClient/%s", inboundID, clientID)
	status, data, err := s.do(ctx, http.MethodPost, path, "", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &domain.ProtocolError{Server: s.desc.Code, Op: op, Status: status, Reason: snippet(data)}
	}
	return nil
}

// shortClientTag returns a short stable suffix derived from the client id,
// used to disambiguate duplicate emails.
func shortClientTag(id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	return hex[:8]
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
