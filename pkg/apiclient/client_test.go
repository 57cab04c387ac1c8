package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crmdash/pkg/session"
	"crmdash/pkg/tokenstore"
)

type countingRecorder struct {
	mu         sync.Mutex
	requests   map[int]int
	rejections int
}

func (r *countingRecorder) ObserveRequest(_ string, code int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.requests == nil {
		r.requests = make(map[int]int)
	}
	r.requests[code]++
}

func (r *countingRecorder) ObserveRejection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections++
}

func authenticatedStore(t *testing.T) (*session.Store, *tokenstore.Memory) {
	t.Helper()
	mem := tokenstore.NewMemory("T1")
	store, err := session.NewStore(mem)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	resolver := session.ResolverFunc(func(context.Context) (session.Profile, error) {
		return session.Profile{ID: "u-1", Name: "Alice"}, nil
	})
	if snap, _ := store.Start(context.Background(), resolver); snap.Status != session.StatusAuthenticated {
		t.Fatalf("store status = %v, want authenticated", snap.Status)
	}
	return store, mem
}

func newTestClient(t *testing.T, baseURL string, store Authorizer, onRejected func(), rec Recorder) *Client {
	t.Helper()
	c, err := New(Options{
		BaseURL:           baseURL,
		AllowInsecureHTTP: true,
		Session:           store,
		OnRejected:        onRejected,
		Recorder:          rec,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestTransportAttachesBearerAndRequestID(t *testing.T) {
	store, _ := authenticatedStore(t)

	var gotAuth, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get(requestIDHeader)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tasks":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, store, nil, nil)
	var out map[string]any
	if err := c.Get(context.Background(), "/api/tasks/all", &out); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if gotAuth != "Bearer T1" {
		t.Fatalf("Authorization = %q, want Bearer T1", gotAuth)
	}
	if gotRequestID == "" {
		t.Fatalf("missing %s header", requestIDHeader)
	}
}

func TestTransportLeavesCallerRequestUntouched(t *testing.T) {
	store, _ := authenticatedStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := &Transport{Session: store}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	resp.Body.Close()

	if h := req.Header.Get("Authorization"); h != "" {
		t.Fatalf("caller request mutated, Authorization = %q", h)
	}
}

func TestConcurrentRejectionsClearSessionOnce(t *testing.T) {
	store, mem := authenticatedStore(t)

	const inflight = 3
	var arrived int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&arrived, 1) == inflight {
			close(release)
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Token expired"}`))
	}))
	defer srv.Close()

	var redirects int32
	rec := &countingRecorder{}
	c := newTestClient(t, srv.URL, store, func() { atomic.AddInt32(&redirects, 1) }, rec)

	var wg sync.WaitGroup
	errs := make([]error, inflight)
	paths := []string{"/api/contact/all", "/api/tasks/all", "/api/metrics/month/data"}
	for i := 0; i < inflight; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Get(context.Background(), paths[i], nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if !IsUnauthorized(err) {
			t.Fatalf("request %d error = %v, want 401", i, err)
		}
	}
	if got := atomic.LoadInt32(&redirects); got != 1 {
		t.Fatalf("OnRejected called %d times, want 1", got)
	}
	if rec.rejections != 1 {
		t.Fatalf("recorded rejections = %d, want 1", rec.rejections)
	}
	if rec.requests[http.StatusUnauthorized] != inflight {
		t.Fatalf("recorded 401s = %d, want %d", rec.requests[http.StatusUnauthorized], inflight)
	}
	if got := store.Status(); got != session.StatusUnauthenticated {
		t.Fatalf("status = %v, want unauthenticated", got)
	}
	if c := mem.Counts(); c.Erases != 1 {
		t.Fatalf("erases = %d, want 1", c.Erases)
	}
	if !errors.Is(store.Snapshot().Err, ErrUnauthorized) {
		t.Fatalf("session error = %v, want %v", store.Snapshot().Err, ErrUnauthorized)
	}
}

func TestRejectionWithoutTokenLeavesSessionAlone(t *testing.T) {
	mem := tokenstore.NewMemory("")
	store, err := session.NewStore(mem)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	resolver := session.ResolverFunc(func(context.Context) (session.Profile, error) {
		return session.Profile{}, errors.New("unused")
	})
	if _, err := store.Start(context.Background(), resolver); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("login request carried Authorization header")
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid password"}`))
	}))
	defer srv.Close()

	var redirects int32
	c := newTestClient(t, srv.URL, store, func() { atomic.AddInt32(&redirects, 1) }, nil)
	err = c.Post(context.Background(), "/api/login", map[string]string{"email": "a@b.c"}, nil)
	if !IsUnauthorized(err) {
		t.Fatalf("Post() error = %v, want 401", err)
	}
	if ServerMessage(err) != "Invalid password" {
		t.Fatalf("ServerMessage() = %q", ServerMessage(err))
	}
	if redirects != 0 {
		t.Fatalf("OnRejected called for an unauthenticated request")
	}
	if c := mem.Counts(); c.Erases != 0 {
		t.Fatalf("erases = %d, want 0", c.Erases)
	}
}

func TestNonAuthFailuresDoNotTouchSession(t *testing.T) {
	store, _ := authenticatedStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, store, nil, nil)
	err := c.Get(context.Background(), "/api/contact/all", nil)
	if StatusCode(err) != http.StatusBadGateway {
		t.Fatalf("StatusCode() = %d, want 502 (err %v)", StatusCode(err), err)
	}
	if ServerMessage(err) != "upstream down" {
		t.Fatalf("ServerMessage() = %q", ServerMessage(err))
	}
	if got := store.Status(); got != session.StatusAuthenticated {
		t.Fatalf("status = %v, want authenticated", got)
	}
}

func TestDoRoundTripsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token":"abc"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", nil, nil, nil)
	var out struct {
		Token string `json:"token"`
	}
	if err := c.Post(context.Background(), "/api/register", map[string]string{"email": "x@y.z"}, &out); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if out.Token != "abc" {
		t.Fatalf("token = %q, want abc", out.Token)
	}
}

func TestCancelledRequestReturnsContextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Get(ctx, "/slow", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Get() error = %v, want deadline exceeded", err)
	}
}

func TestEnsureHTTPS(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		allowInsecure bool
		wantErr       bool
	}{
		{name: "https", raw: "https://crm.example.com"},
		{name: "http rejected", raw: "http://crm.example.com", wantErr: true},
		{name: "http allowed", raw: "http://localhost:5000", allowInsecure: true},
		{name: "missing scheme", raw: "crm.example.com", wantErr: true},
		{name: "unsupported scheme", raw: "ftp://crm.example.com", wantErr: true},
		{name: "missing host", raw: "https://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ensureHTTPS(tt.raw, tt.allowInsecure)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ensureHTTPS(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("New() without base url returned nil error")
	}
}
