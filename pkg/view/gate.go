// Package view gates protected content on the session status. A Gate shows
// a loading state while the session is unknown or verifying, redirects when
// it is unauthenticated, and fetches its data exactly once per authenticated
// token.
package view

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"crmdash/pkg/session"
	"crmdash/pkg/task"
)

// Phase is what a protected view renders.
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseRedirect
	PhaseReady
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseRedirect:
		return "redirect"
	case PhaseReady:
		return "ready"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Access maps a session status to the phase a protected view starts in.
// Authenticated maps to ready: the view may fetch.
func Access(status session.Status) Phase {
	switch status {
	case session.StatusAuthenticated:
		return PhaseReady
	case session.StatusUnauthenticated:
		return PhaseRedirect
	default:
		return PhaseLoading
	}
}

// State is the rendered state of a gated view.
type State[T any] struct {
	Phase Phase            `json:"phase"`
	User  *session.Profile `json:"user,omitempty"`
	Data  T                `json:"data,omitempty"`
	Err   error            `json:"-"`
}

// Source is the session a Gate follows. *session.Store satisfies it.
type Source interface {
	Watch() *session.Watcher
}

// FetchFunc loads a view's data for the authenticated user.
type FetchFunc[T any] func(ctx context.Context, user session.Profile) (T, error)

// Options configures a Gate.
type Options struct {
	Name       string
	OnRedirect func()
	Logger     zerolog.Logger
}

type settled[T any] struct {
	gen uint64
	res task.Result[T]
}

// Gate is a mounted protected view.
type Gate[T any] struct {
	fetch      FetchFunc[T]
	onRedirect func()
	logger     zerolog.Logger

	watcher *session.Watcher
	cancel  context.CancelFunc
	refresh chan struct{}
	results chan settled[T]
	done    chan struct{}

	mu      sync.Mutex
	state   State[T]
	updates chan State[T]
	fetches int

	// owned by run
	active    bool
	epoch     uint64
	gen       uint64
	user      *session.Profile
	stopFetch context.CancelFunc
}

// Mount starts following src. The gate stays mounted until Unmount is
// called or ctx ends.
func Mount[T any](ctx context.Context, src Source, fetch FetchFunc[T], opts Options) *Gate[T] {
	ctx, cancel := context.WithCancel(ctx)
	logger := opts.Logger
	if opts.Name != "" {
		logger = logger.With().Str("view", opts.Name).Logger()
	}

	g := &Gate[T]{
		fetch:      fetch,
		onRedirect: opts.OnRedirect,
		logger:     logger,
		watcher:    src.Watch(),
		cancel:     cancel,
		refresh:    make(chan struct{}, 1),
		results:    make(chan settled[T]),
		done:       make(chan struct{}),
		state:      State[T]{Phase: PhaseLoading},
		updates:    make(chan State[T], 1),
	}
	g.updates <- g.state

	go g.run(ctx)
	return g
}

// State returns the current rendered state.
func (g *Gate[T]) State() State[T] {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Updates delivers the latest state. Intermediate states may be skipped.
// The channel is closed after Unmount.
func (g *Gate[T]) Updates() <-chan State[T] {
	return g.updates
}

// Fetches reports how many fetches the gate has started.
func (g *Gate[T]) Fetches() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches
}

// Refresh fetches again for the current user. It does nothing unless the
// session is authenticated.
func (g *Gate[T]) Refresh() {
	select {
	case g.refresh <- struct{}{}:
	default:
	}
}

// Unmount cancels any in-flight fetch and stops following the session.
func (g *Gate[T]) Unmount() {
	g.cancel()
	<-g.done
}

func (g *Gate[T]) run(ctx context.Context) {
	defer func() {
		g.stopFetching()
		g.watcher.Close()
		close(g.done)

		g.mu.Lock()
		close(g.updates)
		g.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-g.watcher.C():
			if !ok {
				return
			}
			g.apply(ctx, snap)
		case <-g.refresh:
			if g.active && g.user != nil {
				g.startFetch(ctx, *g.user)
			}
		case r := <-g.results:
			g.settle(r)
		}
	}
}

func (g *Gate[T]) apply(ctx context.Context, snap session.Snapshot) {
	switch snap.Status {
	case session.StatusAuthenticated:
		if snap.User == nil {
			return
		}
		g.user = snap.User
		if g.active && snap.Epoch == g.epoch {
			g.update(func(s *State[T]) { s.User = snap.User })
			return
		}
		g.active = true
		g.epoch = snap.Epoch
		g.startFetch(ctx, *snap.User)

	case session.StatusUnauthenticated:
		g.stopFetching()
		g.active = false
		g.user = nil
		if g.State().Phase == PhaseRedirect {
			return
		}
		g.set(State[T]{Phase: PhaseRedirect})
		g.logger.Debug().Msg("session unauthenticated, redirecting")
		if g.onRedirect != nil {
			g.onRedirect()
		}

	default:
		g.stopFetching()
		g.active = false
		g.user = nil
		g.set(State[T]{Phase: PhaseLoading})
	}
}

func (g *Gate[T]) startFetch(ctx context.Context, user session.Profile) {
	g.stopFetching()
	g.gen++
	gen := g.gen

	fetchCtx, cancel := context.WithCancel(ctx)
	g.stopFetch = cancel

	g.mu.Lock()
	g.fetches++
	g.mu.Unlock()
	g.set(State[T]{Phase: PhaseLoading, User: &user})

	go func() {
		res := task.Run(fetchCtx, func(ctx context.Context) (T, error) {
			return g.fetch(ctx, user)
		})
		select {
		case g.results <- settled[T]{gen: gen, res: res}:
		case <-g.done:
		}
	}()
}

func (g *Gate[T]) settle(r settled[T]) {
	if r.gen != g.gen || g.stopFetch == nil {
		return
	}
	g.stopFetch()
	g.stopFetch = nil

	r.res.Handle(
		func(v T) {
			g.set(State[T]{Phase: PhaseReady, User: g.user, Data: v})
		},
		func(err error) {
			g.logger.Warn().Err(err).Msg("view fetch failed")
			g.set(State[T]{Phase: PhaseError, User: g.user, Err: err})
		},
		func() {},
	)
}

func (g *Gate[T]) stopFetching() {
	if g.stopFetch != nil {
		g.stopFetch()
		g.stopFetch = nil
	}
}

func (g *Gate[T]) set(s State[T]) {
	g.update(func(cur *State[T]) { *cur = s })
}

func (g *Gate[T]) update(fn func(*State[T])) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.state)
	select {
	case g.updates <- g.state:
	default:
		select {
		case <-g.updates:
		default:
		}
		g.updates <- g.state
	}
}
