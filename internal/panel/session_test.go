package panel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"panelfleet/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{RetryBackoff: time.Millisecond}
}

// fakePanel is a minimal 3x-ui lookalike: cookie login plus scriptable
// inbound-list and addClient behavior.
type fakePanel struct {
	mu         sync.Mutex
	logins     int
	listCalls  int
	addCalls   []string // raw settings payloads, in order
	listStatus []int    // per-call status overrides, 200 when exhausted
	listBody   string
	addBody    func(call int) string
	rejectAuth bool
}

func (p *fakePanel) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.logins++
		reject := p.rejectAuth
		p.mu.Unlock()
		if reject {
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "msg": "invalid credentials"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "3x-ui", Value: "session", Path: "/"})
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})
	mux.HandleFunc("/panel/api/inbounds/list", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		call := p.listCalls
		p.listCalls++
		status := http.StatusOK
		if call < len(p.listStatus) {
			status = p.listStatus[call]
		}
		body := p.listBody
		p.mu.Unlock()
		if body == "" {
			body = `{"success":true,"obj":[]}`
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
	mux.HandleFunc("/panel/api/inbounds/addClient", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		p.mu.Lock()
		call := len(p.addCalls)
		p.addCalls = append(p.addCalls, r.PostForm.Get("settings"))
		bodyFn := p.addBody
		p.mu.Unlock()
		body := `{"success":true}`
		if bodyFn != nil {
			body = bodyFn(call)
		}
		_, _ = io.WriteString(w, body)
	})
	return mux
}

func newTestSession(t *testing.T, p *fakePanel) (*Session, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(p.handler())
	t.Cleanup(ts.Close)
	desc := domain.ServerDescriptor{
		ID:       uuid.New(),
		Code:     "test",
		BaseURL:  ts.URL,
		Username: "admin",
		Password: "secret",
	}
	s, err := NewSession(desc, testOptions(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s, ts
}

func TestLoginStoresCookieAndTimestamp(t *testing.T) {
	p := &fakePanel{}
	s, _ := newTestSession(t, p)

	if err := s.EnsureLogin(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if !s.hasCookie() {
		t.Fatal("expected session cookie after login")
	}
	if s.lastLogin.IsZero() {
		t.Fatal("expected login timestamp to be recorded")
	}

	// Fresh cookie and TTL: a second EnsureLogin must not re-login.
	if err := s.EnsureLogin(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if p.logins != 1 {
		t.Fatalf("expected exactly 1 login, got %d", p.logins)
	}
}

func TestLoginRejectedIsAuthError(t *testing.T) {
	p := &fakePanel{rejectAuth: true}
	s, _ := newTestSession(t, p)

	err := s.EnsureLogin(context.Background(), false)
	var authErr *domain.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestInvalidBaseURLIsConfigError(t *testing.T) {
	desc := domain.ServerDescriptor{Code: "bad", BaseURL: "not a url"}
	_, err := NewSession(desc, testOptions(), testLogger())
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestReloginOnceOn401(t *testing.T) {
	p := &fakePanel{listStatus: []int{http.StatusUnauthorized}}
	s, _ := newTestSession(t, p)

	inbounds, err := s.ListInbounds(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(inbounds) != 0 {
		t.Fatalf("expected empty inbound list, got %d", len(inbounds))
	}
	if p.logins != 2 {
		t.Fatalf("expected initial login plus one forced re-login, got %d logins", p.logins)
	}
	if p.listCalls != 2 {
		t.Fatalf("expected one replay after re-login, got %d list calls", p.listCalls)
	}
}

func TestSecondConsecutive401IsContained(t *testing.T) {
	p := &fakePanel{listStatus: []int{
		http.StatusUnauthorized, http.StatusUnauthorized,
	}}
	s, _ := newTestSession(t, p)

	_, err := s.ListInbounds(context.Background())
	var protoErr *domain.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if protoErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected status 401 in error, got %d", protoErr.Status)
	}
	// One login up front, one forced after the first 401 — never a loop.
	if p.logins != 2 {
		t.Fatalf("expected 2 logins, got %d", p.logins)
	}
	if p.listCalls != 2 {
		t.Fatalf("expected 2 list calls, got %d", p.listCalls)
	}
}

func TestRetriesServerErrorsWithBackoff(t *testing.T) {
	p := &fakePanel{listStatus: []int{
		http.StatusInternalServerError, http.StatusBadGateway,
	}}
	s, _ := newTestSession(t, p)

	if _, err := s.ListInbounds(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.listCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", p.listCalls)
	}
}

func TestNetworkFailureAfterRetriesIsTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "3x-ui", Value: "session", Path: "/"})
			_, _ = io.WriteString(w, `{"success":true}`)
			return
		}
		// Slam the connection shut on API calls.
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("server does not support hijacking")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Error(err)
			return
		}
		_ = conn.Close()
	}))
	defer ts.Close()

	desc := domain.ServerDescriptor{Code: "flaky", BaseURL: ts.URL, Username: "a", Password: "b"}
	s, err := NewSession(desc, testOptions(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	_, err = s.ListInbounds(context.Background())
	var transportErr *domain.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestAddClientDuplicateWithPresentClientIsNoop(t *testing.T) {
	clientID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	p := &fakePanel{
		addBody: func(call int) string {
			return `{"success":false,"msg":"Duplicate email: alice-1"}`
		},
	}
	p.listBody = `{"success":true,"obj":[{"id":1,"port":443,"protocol":"vless",` +
		`"settings":"{\"clients\":[{\"id\":\"11111111-1111-1111-1111-111111111111\",\"email\":\"old-alice\"}]}"}]}`
	s, _ := newTestSession(t, p)

	if err := s.AddClient(context.Background(), 1, clientID, "alice-1"); err != nil {
		t.Fatal(err)
	}
	// Present under a different email counts as success: no retry attempt.
	if len(p.addCalls) != 1 {
		t.Fatalf("expected single addClient call, got %d", len(p.addCalls))
	}
}

func TestAddClientDuplicateRetriesWithSuffix(t *testing.T) {
	clientID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	p := &fakePanel{
		addBody: func(call int) string {
			if call == 0 {
				return `{"success":false,"msg":"Duplicate email: bob-1"}`
			}
			return `{"success":true}`
		},
	}
	s, _ := newTestSession(t, p)

	if err := s.AddClient(context.Background(), 1, clientID, "bob-1"); err != nil {
		t.Fatal(err)
	}
	if len(p.addCalls) != 2 {
		t.Fatalf("expected retry with disambiguated email, got %d calls", len(p.addCalls))
	}
	if !strings.Contains(p.addCalls[1], `"email":"bob-1-22222222"`) {
		t.Fatalf("expected suffixed email in retry payload, got %s", p.addCalls[1])
	}
}

func TestAddClientSendsFormEncodedSettings(t *testing.T) {
	clientID := uuid.New()
	p := &fakePanel{}
	s, _ := newTestSession(t, p)

	if err := s.AddClient(context.Background(), 7, clientID, "carol-7"); err != nil {
		t.Fatal(err)
	}
	if len(p.addCalls) != 1 {
		t.Fatalf("expected 1 addClient call, got %d", len(p.addCalls))
	}
	var doc struct {
		Clients []clientEntry `json:"clients"`
	}
	if err := json.Unmarshal([]byte(p.addCalls[0]), &doc); err != nil {
		t.Fatalf("settings payload is not valid JSON: %v", err)
	}
	if len(doc.Clients) != 1 {
		t.Fatalf("expected 1 client in payload, got %d", len(doc.Clients))
	}
	c := doc.Clients[0]
	if c.ID != clientID.String() || c.Email != "carol-7" || !c.Enable || c.Flow != visionFlow {
		t.Fatalf("unexpected client payload: %+v", c)
	}
	if c.TotalGB != 0 || c.ExpiryTime != 0 {
		t.Fatalf("expected unlimited no-expiry defaults, got %+v", c)
	}
}

func TestDeleteClientHitsPerInboundEndpoint(t *testing.T) {
	clientID := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	var gotPath string
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "3x-ui", Value: "session", Path: "/"})
		_, _ = io.WriteString(w, `{"success":true}`)
	})
	mux.HandleFunc("/panel/api/inbounds/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		mu.Unlock()
		_, _ = io.WriteString(w, `{"success":true}`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	desc := domain.ServerDescriptor{Code: "del", BaseURL: ts.URL, Username: "a", Password: "b"}
	s, err := NewSession(desc, testOptions(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.DeleteClient(context.Background(), 5, clientID); err != nil {
		t.Fatal(err)
	}
	want := "/panel/api/inbounds/5/delClient/" + clientID.String()
	if gotPath != want {
		t.Fatalf("expected path %s, got %s", want, gotPath)
	}
}

func TestProactiveReloginAfterTTL(t *testing.T) {
	p := &fakePanel{}
	ts := httptest.NewServer(p.handler())
	defer ts.Close()

	desc := domain.ServerDescriptor{Code: "ttl", BaseURL: ts.URL, Username: "a", Password: "b"}
	opts := testOptions()
	opts.LoginTTL = time.Nanosecond
	s, err := NewSession(desc, opts, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.ListInbounds(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ListInbounds(context.Background()); err != nil {
		t.Fatal(err)
	}
	// TTL already expired between calls, so each one logs in again.
	if p.logins < 2 {
		t.Fatalf("expected proactive re-login after TTL expiry, got %d logins", p.logins)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	p := &fakePanel{}
	s, _ := newTestSession(t, p)
	s.Close()
	s.Close()
}

func TestShortClientTag(t *testing.T) {
	id := uuid.MustParse("44444444-4444-4444-4444-444444444444")
	if got := shortClientTag(id); got != "44444444" {
		t.Fatalf("expected 8-hex tag, got %q", got)
	}
}

func TestConcurrentFirstCallersLoginOnce(t *testing.T) {
	p := &fakePanel{}
	s, _ := newTestSession(t, p)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.EnsureLogin(context.Background(), false)
		}()
	}
	wg.Wait()
	if p.logins != 1 {
		t.Fatalf("expected single login across concurrent callers, got %d", p.logins)
	}
}

func TestSessionCookieScopedToBase(t *testing.T) {
	p := &fakePanel{}
	s, _ := newTestSession(t, p)
	if err := s.EnsureLogin(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(s.base.String() + "/panel/api/inbounds/list")
	found := false
	for _, c := range s.httpClient().Jar.Cookies(u) {
		if c.Name == sessionCookieName {
			found = true
		}
	}
	if !found {
		t.Fatal("expected session cookie to apply to API paths")
	}
}
