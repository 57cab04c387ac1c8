// Package crmtest runs an in-process CRM backend for tests. It implements
// the REST surface the dashboard consumes, with bearer authentication and
// per-route hit counters.
package crmtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"crmdash/pkg/crm"
	"crmdash/pkg/session"
)

// Backend is a fake CRM server.
type Backend struct {
	server *httptest.Server

	mu        sync.Mutex
	users     map[string]session.Profile
	passwords map[string]string
	tokens    map[string]string
	contacts  []crm.Contact
	tasks     []crm.Task
	metrics   map[string]crm.Metrics
	monthly   crm.MonthlyData
	hits      map[string]int
	nextID    int

	userHold chan struct{}
	failing  map[string]int
}

// New starts a Backend that is shut down when t finishes.
func New(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		users:     make(map[string]session.Profile),
		passwords: make(map[string]string),
		tokens:    make(map[string]string),
		metrics:   make(map[string]crm.Metrics),
		hits:      make(map[string]int),
		failing:   make(map[string]int),
	}
	b.server = httptest.NewServer(b.routes())
	t.Cleanup(b.server.Close)
	return b
}

// URL is the base URL of the server.
func (b *Backend) URL() string {
	return b.server.URL
}

func (b *Backend) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(b.countHits)

	r.Post("/api/login", b.handleLogin)
	r.Post("/api/register", b.handleRegister)

	r.Group(func(r chi.Router) {
		r.Use(b.requireBearer)
		r.Get("/api/user", b.handleUser)
		r.Get("/api/users", b.handleUsers)
		r.Get("/api/metrics/all/{userID}", b.handleMetrics)
		r.Get("/api/metrics/month/data", b.handleMonthly)
		r.Get("/api/contact/all", b.handleContacts)
		r.Get("/api/contact/view/{id}", b.handleContact)
		r.Post("/api/contact/add", b.handleAddContact)
		r.Delete("/api/contact/delete/{id}", b.handleDeleteContact)
		r.Get("/api/tasks/all", b.handleTasks)
	})
	return r
}

// AddUser registers an account that can log in with password.
func (b *Backend) AddUser(p session.Profile, password string) session.Profile {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.ID == "" {
		b.nextID++
		p.ID = fmt.Sprintf("u-%d", b.nextID)
	}
	b.users[p.ID] = p
	b.passwords[strings.ToLower(p.Email)] = password
	return p
}

// IssueToken mints a valid token for userID without a login request.
func (b *Backend) IssueToken(userID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	token := uuid.NewString()
	b.tokens[token] = userID
	return token
}

// RevokeToken makes token fail authentication from now on.
func (b *Backend) RevokeToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tokens, token)
}

// RevokeAll expires every issued token.
func (b *Backend) RevokeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = make(map[string]string)
}

// SetContacts replaces the contact list.
func (b *Backend) SetContacts(contacts ...crm.Contact) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contacts = append([]crm.Contact(nil), contacts...)
}

// SetTasks replaces the task list.
func (b *Backend) SetTasks(tasks ...crm.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = append([]crm.Task(nil), tasks...)
}

// SetMetrics sets the aggregates returned for userID.
func (b *Backend) SetMetrics(userID string, m crm.Metrics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics[userID] = m
}

// SetMonthly sets the monthly breakdown.
func (b *Backend) SetMonthly(m crm.MonthlyData) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.monthly = m
}

// FailNext makes the next n requests to "METHOD /path" answer 500.
func (b *Backend) FailNext(route string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing[route] = n
}

// HoldUser blocks GET /api/user until the returned release is called.
func (b *Backend) HoldUser() (release func()) {
	ch := make(chan struct{})
	b.mu.Lock()
	b.userHold = ch
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.userHold == ch {
				b.userHold = nil
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Hits returns how many requests reached "METHOD /path".
func (b *Backend) Hits(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[route]
}

// Contacts returns the current contact list.
func (b *Backend) Contacts() []crm.Contact {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]crm.Contact(nil), b.contacts...)
}

func (b *Backend) countHits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path

		b.mu.Lock()
		b.hits[route]++
		fail := b.failing[route] > 0
		if fail {
			b.failing[route]--
		}
		b.mu.Unlock()

		if fail {
			respondMessage(w, http.StatusInternalServerError, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			respondMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		b.mu.Lock()
		userID, known := b.tokens[token]
		b.mu.Unlock()
		if !known {
			respondMessage(w, http.StatusUnauthorized, "Token expired")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}
