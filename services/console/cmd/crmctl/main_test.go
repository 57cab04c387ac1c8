package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"crmdash/internal/crmtest"
	"crmdash/pkg/crm"
	"crmdash/pkg/session"
	"crmdash/pkg/tokenstore"
	"crmdash/pkg/view"
)

type env struct {
	backend     *crmtest.Backend
	sessionFile string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	backend := crmtest.New(t)
	backend.AddUser(session.Profile{Name: "Alice", Email: "alice@example.com", OrgName: "Acme"}, "secret1")

	sessionFile := filepath.Join(t.TempDir(), "session.yaml")
	t.Setenv("CRM_API_BASE_URL", backend.URL())
	t.Setenv("CRM_ALLOW_INSECURE_HTTP", "true")
	t.Setenv("CRM_SESSION_FILE", sessionFile)
	t.Setenv("CRM_REDIS_URL", "")
	t.Setenv("NATS_URL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("LOG_LEVEL", "error")
	return &env{backend: backend, sessionFile: sessionFile}
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *env) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("crmctl %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestLoginPersistsSession(t *testing.T) {
	e := newEnv(t)

	out := e.mustRun(t, "login", "--email", "alice@example.com", "--password", "secret1")
	if !strings.Contains(out, "signed in as Alice <alice@example.com> (Acme)") {
		t.Fatalf("login output = %q", out)
	}
	if _, err := os.Stat(e.sessionFile); err != nil {
		t.Fatalf("session file not written: %v", err)
	}

	out = e.mustRun(t, "whoami")
	if !strings.Contains(out, "authenticated: Alice") {
		t.Fatalf("whoami output = %q", out)
	}
	if got := e.backend.Hits("GET /api/user"); got != 2 {
		t.Fatalf("GET /api/user hits = %d, want 2", got)
	}

	_, err := e.run(t, "login", "--email", "alice@example.com", "--password", "secret1")
	if err == nil || !strings.Contains(err.Error(), "already signed in") {
		t.Fatalf("second login error = %v", err)
	}
}

func TestLoginFailureMessages(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name     string
		email    string
		password string
		want     string
	}{
		{name: "wrong password", email: "alice@example.com", password: "nope", want: "Incorrect password. Please try again."},
		{name: "unknown user", email: "bob@example.com", password: "secret1", want: "Account not found. Please sign up first."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.run(t, "login", "--email", tc.email, "--password", tc.password)
			if err == nil || err.Error() != tc.want {
				t.Fatalf("login error = %v, want %q", err, tc.want)
			}
		})
	}

	if _, err := os.Stat(e.sessionFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("session file after failed logins: %v", err)
	}
}

func TestLoginReadsPasswordFromStdin(t *testing.T) {
	newEnv(t)

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("secret1\n"))
	cmd.SetArgs([]string{"--env-file", "", "login", "--email", "alice@example.com"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out.String(), "signed in as Alice") {
		t.Fatalf("login output = %q", out.String())
	}
}

func TestProtectedCommandsRequireSession(t *testing.T) {
	e := newEnv(t)

	for _, args := range [][]string{{"dashboard"}, {"contacts", "list"}, {"tasks"}, {"users"}} {
		_, err := e.run(t, args...)
		if !errors.Is(err, errNotSignedIn) {
			t.Fatalf("crmctl %s error = %v, want %v", strings.Join(args, " "), err, errNotSignedIn)
		}
	}
	if got := e.backend.Hits("GET /api/contact/all"); got != 0 {
		t.Fatalf("contacts fetched without a session: %d", got)
	}
}

func TestContactsCommands(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "login", "--email", "alice@example.com", "--password", "secret1")

	out := e.mustRun(t, "--json", "contacts", "add", "--name", "Carol", "--email", "carol@example.com", "--company", "Initech")
	var added crm.Contact
	if err := json.Unmarshal([]byte(out), &added); err != nil {
		t.Fatalf("decode added contact %q: %v", out, err)
	}
	if added.ID == "" || added.Name != "Carol" {
		t.Fatalf("added = %+v", added)
	}

	out = e.mustRun(t, "contacts", "list")
	if !strings.Contains(out, "Carol") || !strings.Contains(out, "Initech") {
		t.Fatalf("contacts list = %q", out)
	}

	out = e.mustRun(t, "contacts", "view", added.ID)
	if !strings.Contains(out, "carol@example.com") {
		t.Fatalf("contacts view = %q", out)
	}

	e.mustRun(t, "contacts", "delete", added.ID)
	if got := len(e.backend.Contacts()); got != 0 {
		t.Fatalf("contacts after delete = %d", got)
	}

	_, err := e.run(t, "contacts", "add", "--name", "Dave", "--email", "dave@example.com", "--status", "won")
	var verr *crm.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("add with bad status error = %v, want ValidationError", err)
	}
}

func TestDashboardAndTasks(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "login", "--email", "alice@example.com", "--password", "secret1")
	e.backend.SetTasks(crm.Task{ID: "t1", Name: "Call Carol", Status: "todo", Progress: 40})

	out := e.mustRun(t, "dashboard")
	for _, want := range []string{"Total Clients", "Total Revenue", "Deals:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dashboard output missing %q:\n%s", want, out)
		}
	}

	out = e.mustRun(t, "tasks")
	if !strings.Contains(out, "Call Carol") || !strings.Contains(out, "40%") {
		t.Fatalf("tasks output = %q", out)
	}
}

func TestRevokedTokenIsForgotten(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "login", "--email", "alice@example.com", "--password", "secret1")
	e.backend.RevokeAll()

	_, err := e.run(t, "tasks")
	if !errors.Is(err, errNotSignedIn) {
		t.Fatalf("tasks error = %v, want %v", err, errNotSignedIn)
	}
	if _, err := os.Stat(e.sessionFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("session file after rejected token: %v", err)
	}

	out := e.mustRun(t, "whoami")
	if strings.TrimSpace(out) != "unauthenticated" {
		t.Fatalf("whoami = %q", out)
	}
}

func TestLogout(t *testing.T) {
	e := newEnv(t)
	e.mustRun(t, "login", "--email", "alice@example.com", "--password", "secret1")

	out := e.mustRun(t, "logout")
	if strings.TrimSpace(out) != "signed out" {
		t.Fatalf("logout = %q", out)
	}
	if _, err := os.Stat(e.sessionFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("session file after logout: %v", err)
	}
}

func TestEventsRequiresNATS(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "events")
	if err == nil || !strings.Contains(err.Error(), "NATS_URL") {
		t.Fatalf("events error = %v", err)
	}
}

func TestEphemeralSessionIsNotPersisted(t *testing.T) {
	e := newEnv(t)

	out := e.mustRun(t, "--ephemeral", "login", "--email", "alice@example.com", "--password", "secret1")
	if !strings.Contains(out, "signed in as Alice") {
		t.Fatalf("login output = %q", out)
	}
	if _, err := os.Stat(e.sessionFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("session file written for ephemeral login: %v", err)
	}
}

func TestReadPasswordFromPipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe() error = %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	if _, err := w.WriteString("hunter22\r\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()

	cmd := &cobra.Command{}
	var prompt bytes.Buffer
	cmd.SetErr(&prompt)
	cmd.SetIn(r)

	got, err := readPassword(cmd, "Password: ")
	if err != nil {
		t.Fatalf("readPassword() error = %v", err)
	}
	if got != "hunter22" {
		t.Fatalf("readPassword() = %q, want %q", got, "hunter22")
	}
	if prompt.String() != "Password: " {
		t.Fatalf("prompt = %q", prompt.String())
	}

	cmd.SetIn(strings.NewReader(""))
	if _, err := readPassword(cmd, ""); err == nil {
		t.Fatalf("readPassword() on empty input returned nil error")
	}
}

func TestContactsListSearchAndSort(t *testing.T) {
	e := newEnv(t)
	e.backend.SetContacts(
		crm.Contact{ID: "c-1", Name: "Carol", Email: "carol@initech.com", Company: "Initech"},
		crm.Contact{ID: "c-2", Name: "Alice", Email: "alice@acme.com", Company: "Acme"},
		crm.Contact{ID: "c-3", Name: "Bob", Email: "bob@acme.com", Company: "Acme"},
	)
	e.mustRun(t, "login", "--email", "alice@example.com", "--password", "secret1")

	tests := []struct {
		args []string
		want []string
	}{
		{args: []string{"--sort", "name"}, want: []string{"Alice", "Bob", "Carol"}},
		{args: []string{"--search", "acme", "--sort", "-name"}, want: []string{"Bob", "Alice"}},
		{args: []string{"--sort", "name", "--page", "2", "--page-size", "2"}, want: []string{"Carol"}},
	}
	for _, tt := range tests {
		out := e.mustRun(t, append([]string{"--json", "contacts", "list"}, tt.args...)...)
		var got []crm.Contact
		if err := json.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("decode %q: %v", out, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("contacts list %v = %d rows, want %v", tt.args, len(got), tt.want)
		}
		for i, c := range got {
			if c.Name != tt.want[i] {
				t.Fatalf("contacts list %v row %d = %s, want %s", tt.args, i, c.Name, tt.want[i])
			}
		}
	}

	hits := e.backend.Hits("GET /api/contact/all")
	if _, err := e.run(t, "contacts", "list", "--sort", "revenue"); err == nil || !strings.Contains(err.Error(), "unknown sort column") {
		t.Fatalf("bad sort error = %v", err)
	}
	if got := e.backend.Hits("GET /api/contact/all"); got != hits {
		t.Fatalf("bad sort still fetched contacts")
	}
}

func TestAwaitStopsWithContext(t *testing.T) {
	store, err := session.NewStore(tokenstore.NewMemory("T1"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	resolver := session.ResolverFunc(func(context.Context) (session.Profile, error) {
		return session.Profile{ID: "u-1", Name: "Alice"}, nil
	})
	if _, err := store.Start(context.Background(), resolver); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	g := view.Mount(context.Background(), store, func(ctx context.Context, _ session.Profile) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}, view.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := await(ctx, g); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("await() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if g.State().Phase == view.PhaseReady {
		t.Fatalf("view settled after await gave up")
	}
}
