package goBankAuth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goBankAuth/session"
)

var testApp = AppData{AppID: "testAppID123", UserAgent: "SwedbankMOBPrivateIOS/7.0 (iOS; 15.0) APIClient/1.0"}

type recordedCall struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
	Cookie map[string]string
}

// fakeBank serves the API root at /api/v4/. Unknown routes answer 404;
// logout answers 200 with an empty body unless overridden.
type fakeBank struct {
	t      *testing.T
	srv    *httptest.Server
	mu     sync.Mutex
	calls  []recordedCall
	routes map[string]http.HandlerFunc
}

func newFakeBank(t *testing.T) *fakeBank {
	t.Helper()
	f := &fakeBank{t: t, routes: map[string]http.HandlerFunc{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	f.handle(http.MethodPut, pathLogout, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return f
}

func newFakeBankTLS(t *testing.T) *fakeBank {
	t.Helper()
	f := &fakeBank{t: t, routes: map[string]http.HandlerFunc{}}
	f.srv = httptest.NewTLSServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBank) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := strings.TrimPrefix(r.URL.Path, "/api/v4/")
	cookies := map[string]string{}
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}

	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{
		Method: r.Method,
		Path:   path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
		Cookie: cookies,
	})
	h, ok := f.routes[r.Method+" "+path]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakeBank) handle(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = h
}

func (f *fakeBank) json(method, path string, status int, body string) {
	f.handle(method, path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

// sequence answers successive calls with the given bodies, repeating the last.
func (f *fakeBank) sequence(method, path string, bodies ...string) {
	var mu sync.Mutex
	i := 0
	f.handle(method, path, func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		body := bodies[i]
		if i < len(bodies)-1 {
			i++
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	})
}

func (f *fakeBank) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

func (f *fakeBank) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBank) last(method, path string) recordedCall {
	f.t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method && f.calls[i].Path == path {
			return f.calls[i]
		}
	}
	f.t.Fatalf("no %s %s call recorded", method, path)
	return recordedCall{}
}

func (f *fakeBank) config() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = f.srv.URL + "/api/"
	cfg.Transport.Timeout = 5 * time.Second
	cfg.Metrics.Enabled = true
	return cfg
}

func (f *fakeBank) builder() *Builder {
	return New().WithConfig(f.config()).WithAppData(testApp)
}

func (f *fakeBank) personalCode(t *testing.T, b *Builder) *PersonalCode {
	t.Helper()
	if b == nil {
		b = f.builder()
	}
	p, err := b.BuildPersonalCode(context.Background(), "198001011234", "secret-code-9911")
	if err != nil {
		t.Fatalf("BuildPersonalCode: %v", err)
	}
	t.Cleanup(p.Session().Close)
	return p
}

func (f *fakeBank) mobileBankID(t *testing.T, b *Builder) *MobileBankID {
	t.Helper()
	if b == nil {
		b = f.builder()
	}
	m, err := b.BuildMobileBankID(context.Background(), "198001011234")
	if err != nil {
		t.Fatalf("BuildMobileBankID: %v", err)
	}
	t.Cleanup(m.Session().Close)
	return m
}

func memoryStore(backend *session.MemoryBackend) *session.Store {
	return session.NewStore(backend, "user-1", session.WithTTL(time.Hour))
}

type failingBackend struct{}

func (failingBackend) Load(context.Context, string) ([]byte, error) {
	return nil, session.ErrBackendUnavailable
}

func (failingBackend) Save(context.Context, string, []byte, time.Duration) error {
	return session.ErrBackendUnavailable
}

func (failingBackend) Delete(context.Context, string) error { return session.ErrBackendUnavailable }

func (failingBackend) Ping(context.Context) error {
	return errors.New("connection refused")
}

const (
	loginOK        = `{"links":{"next":{"uri":"/profile/","method":"GET"}}}`
	overviewOK     = `{"transactionAccounts":[{"id":"acc1","name":"Lönekonto"}]}`
	transactionsOK = `{"transactions":[{"amount":"-12,00"}]}`
	holdingsOK     = `{"savingsAccounts":[]}`
	profileOK      = `{"banks":[{"bankId":"08999","privateProfile":{"id":"p1"}}]}`
)
