package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"crmdash/pkg/apiclient"
	"crmdash/pkg/crm"
	"crmdash/pkg/session"
	"crmdash/pkg/telemetry"
	"crmdash/pkg/view"
)

// ServiceName identifies the console in traces and logs.
const ServiceName = "crmdash-console"

// RouterOptions configures the console HTTP surface.
type RouterOptions struct {
	AllowedOrigins []string
	// RequestsPerMinute limits each client IP; zero means 100.
	RequestsPerMinute int
}

// Router builds the console HTTP router over the mounted views.
func (a *App) Router(views *Views, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	limit := opts.RequestsPerMinute
	if limit <= 0 {
		limit = 100
	}

	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware(ServiceName, a.logger))
	r.Use(originGuard(opts.AllowedOrigins))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			ExposedHeaders:   []string{"Location"},
			AllowCredentials: true,
			MaxAge:           int((10 * time.Minute).Seconds()),
		}))
	}
	r.Use(httprate.LimitByIP(limit, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		switch a.Session.Status() {
		case session.StatusUnknown, session.StatusVerifying:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("verifying"))
		default:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		}
	})

	r.Method(http.MethodGet, "/metrics", a.Metrics.Handler())

	h := &handlers{app: a, views: views}
	r.Route("/api", func(r chi.Router) {
		r.Get("/session", h.getSession)
		r.Get("/views/{name}", h.getView)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			r.Post("/session", h.signIn)
			r.Delete("/session", h.signOut)
			r.Post("/register", h.register)
			r.Post("/contacts", h.addContact)
			r.Delete("/contacts/{id}", h.deleteContact)
		})
	})

	r.Get("/sse/events", h.events)

	return r
}

// originGuard rejects browser requests whose Origin is neither the console
// itself nor on allowed. Requests without an Origin header pass.
func originGuard(allowed []string) func(http.Handler) http.Handler {
	ok := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		ok[strings.TrimRight(o, "/")] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || ok[origin] {
				next.ServeHTTP(w, r)
				return
			}
			if u, err := url.Parse(origin); err == nil && u.Host != "" && u.Host == r.Host {
				next.ServeHTTP(w, r)
				return
			}
			respondError(w, http.StatusForbidden, "origin not allowed")
		})
	}
}

type handlers struct {
	app   *App
	views *Views
}

func (h *handlers) getSession(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.app.Session.Snapshot())
}

func (h *handlers) signIn(w http.ResponseWriter, r *http.Request) {
	var form crm.LoginForm
	if err := decodeJSON(r, &form); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.app.SignIn(r.Context(), form)
	if err != nil {
		h.respondFlowError(w, err, crm.LoginFailureMessage(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var form crm.RegisterForm
	if err := decodeJSON(r, &form); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.app.Register(r.Context(), form)
	if err != nil {
		h.respondFlowError(w, err, crm.RegisterFailureMessage(err))
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (h *handlers) signOut(w http.ResponseWriter, _ *http.Request) {
	if err := h.app.SignOut(); err != nil {
		h.app.logger.Warn().Err(err).Msg("sign out")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getView(w http.ResponseWriter, r *http.Request) {
	vw, ok := h.views.Get(chi.URLParam(r, "name"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown view")
		return
	}
	if r.URL.Query().Get("refresh") != "" {
		vw.Refresh()
	}

	state := vw.Render()
	if rows, ok := state.Data.([]crm.Contact); ok {
		q, err := contactQuery(r)
		if err == nil {
			rows, err = q.Apply(rows)
		}
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		state.Data = rows
	}

	switch state.Phase {
	case view.PhaseLoading:
		respondJSON(w, http.StatusAccepted, state)
	case view.PhaseRedirect:
		w.Header().Set("Location", LoginPath)
		respondJSON(w, http.StatusUnauthorized, state)
	case view.PhaseError:
		respondJSON(w, http.StatusBadGateway, map[string]any{"phase": state.Phase, "error": state.Err.Error()})
	default:
		respondJSON(w, http.StatusOK, state)
	}
}

func (h *handlers) addContact(w http.ResponseWriter, r *http.Request) {
	var form crm.ContactForm
	if err := decodeJSON(r, &form); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	contact, err := h.app.AddContact(r.Context(), form)
	if err != nil {
		h.respondFlowError(w, err, "")
		return
	}
	h.views.Refresh(ViewContacts, ViewDashboard)
	respondJSON(w, http.StatusCreated, map[string]any{"contact": contact})
}

func (h *handlers) deleteContact(w http.ResponseWriter, r *http.Request) {
	if err := h.app.DeleteContact(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondFlowError(w, err, "")
		return
	}
	h.views.Refresh(ViewContacts, ViewDashboard)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) respondFlowError(w http.ResponseWriter, err error, msg string) {
	var verr *crm.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": verr.Error(), "fields": verr.Fields})
	case errors.Is(err, session.ErrAlreadyAuthenticated), errors.Is(err, session.ErrLoginInProgress):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrSignedOut):
		w.Header().Set("Location", LoginPath)
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, context.Canceled):
		respondError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		if msg == "" {
			msg = apiclient.ServerMessage(err)
		}
		if msg == "" {
			msg = err.Error()
		}
		code := http.StatusBadGateway
		if sc := apiclient.StatusCode(err); sc >= 400 && sc < 500 {
			code = sc
		}
		h.app.logger.Warn().Err(err).Int("code", code).Msg("console request failed")
		respondError(w, code, msg)
	}
}

func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	watcher := h.app.Session.Watch()
	defer watcher.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-watcher.C():
			if !ok {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// contactQuery reads ?q=, ?sort=, ?page= and ?page_size=.
func contactQuery(r *http.Request) (crm.ContactQuery, error) {
	v := r.URL.Query()
	q := crm.ContactQuery{Search: v.Get("q"), Sort: v.Get("sort")}
	for _, p := range []struct {
		name string
		dest *int
	}{{"page", &q.Page}, {"page_size", &q.PageSize}} {
		raw := v.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return crm.ContactQuery{}, fmt.Errorf("%s must be a number", p.name)
		}
		*p.dest = n
	}
	return q, nil
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
