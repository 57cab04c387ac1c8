// Package session owns the client authentication session: the bearer token,
// the resolved user profile and the status every protected view gates on.
//
// The Store is the single writer of durable token storage. Tokens leave it
// only through Authorize, which writes the Authorization header of an
// outgoing request.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Store is the process-wide session. Construct one per application and pass
// it to consumers explicitly.
type Store struct {
	tokens   TokenStore
	logger   zerolog.Logger
	observer Observer

	mu       sync.Mutex
	status   Status
	token    string
	user     *Profile
	err      error
	epoch    uint64
	started  bool
	resolver Resolver
	watchers map[*Watcher]struct{}

	flights singleflight.Group
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the logger used for transitions and storage failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With().Str("component", "session").Logger()
	}
}

// WithObserver registers an observer for status transitions.
func WithObserver(obs Observer) Option {
	return func(s *Store) {
		s.observer = obs
	}
}

// NewStore creates a Store in StatusUnknown, reading any persisted token.
// A token that cannot be read is treated as absent.
func NewStore(tokens TokenStore, opts ...Option) (*Store, error) {
	if tokens == nil {
		return nil, errors.New("session: token store is required")
	}

	s := &Store{
		tokens:   tokens,
		logger:   zerolog.Nop(),
		status:   StatusUnknown,
		watchers: make(map[*Watcher]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	token, err := tokens.Load()
	if err != nil {
		s.logger.Warn().Err(err).Msg("read persisted token")
		s.err = fmt.Errorf("load token: %w", err)
	}
	if token = strings.TrimSpace(token); token != "" {
		s.token = token
		s.epoch = 1
	}
	return s, nil
}

// Start performs the one automatic transition out of StatusUnknown. Without
// a persisted token the session becomes unauthenticated and no request is
// made; otherwise it verifies the token with resolver and blocks until the
// outcome is known or ctx ends.
func (s *Store) Start(ctx context.Context, resolver Resolver) (Snapshot, error) {
	if resolver == nil {
		return s.Snapshot(), ErrNoResolver
	}

	s.mu.Lock()
	if s.started {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrAlreadyStarted
	}
	s.started = true
	s.resolver = resolver

	if s.status != StatusUnknown {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	if s.token == "" {
		s.transitionLocked(StatusUnauthenticated)
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}

	s.transitionLocked(StatusVerifying)
	epoch := s.epoch
	s.mu.Unlock()

	if _, err := s.resolveEpoch(ctx, epoch); err != nil {
		s.logger.Debug().Err(err).Msg("startup verification did not authenticate")
	}
	return s.Snapshot(), nil
}

// Login adopts a freshly issued token. The token is persisted before the
// session enters StatusVerifying, then resolved into a profile.
func (s *Store) Login(ctx context.Context, token string) (Profile, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Profile{}, ErrEmptyToken
	}

	s.mu.Lock()
	if s.resolver == nil {
		s.mu.Unlock()
		return Profile{}, ErrNotStarted
	}

	switch s.status {
	case StatusAuthenticated:
		s.mu.Unlock()
		return Profile{}, ErrAlreadyAuthenticated
	case StatusVerifying:
		same := s.token == token
		epoch := s.epoch
		s.mu.Unlock()
		if !same {
			return Profile{}, ErrLoginInProgress
		}
		return s.resolveEpoch(ctx, epoch)
	}

	if err := s.tokens.Save(token); err != nil {
		s.err = fmt.Errorf("save token: %w", err)
		s.logger.Warn().Err(err).Msg("persist token")
		s.notifyLocked()
		err = s.err
		s.mu.Unlock()
		return Profile{}, err
	}

	s.token = token
	s.user = nil
	s.err = nil
	s.epoch++
	epoch := s.epoch
	s.transitionLocked(StatusVerifying)
	s.mu.Unlock()

	return s.resolveEpoch(ctx, epoch)
}

// Logout ends the session locally. Durable storage is erased before the
// in-memory session flips to unauthenticated. Calling Logout on an
// unauthenticated session does nothing.
func (s *Store) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusUnauthenticated {
		return nil
	}
	err := s.clearLocked(nil)
	s.logger.Info().Msg("logged out")
	return err
}

// ResolveUser fetches the profile for the held token. Concurrent callers
// share one outstanding request. A caller whose ctx ends gets ctx.Err() while
// the shared attempt still settles the session.
func (s *Store) ResolveUser(ctx context.Context) (Profile, error) {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()
	return s.resolveEpoch(ctx, epoch)
}

func (s *Store) resolveEpoch(ctx context.Context, epoch uint64) (Profile, error) {
	s.mu.Lock()
	resolver := s.resolver
	current := s.epoch
	hasToken := s.token != ""
	s.mu.Unlock()

	if resolver == nil {
		return Profile{}, ErrNotStarted
	}
	if current != epoch {
		return Profile{}, ErrSuperseded
	}
	if !hasToken {
		return Profile{}, ErrNoToken
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(strconv.FormatUint(epoch, 10), func() (any, error) {
		return s.resolve(flightCtx, resolver, epoch)
	})

	select {
	case <-ctx.Done():
		return Profile{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Profile{}, res.Err
		}
		return res.Val.(Profile), nil
	}
}

func (s *Store) resolve(ctx context.Context, resolver Resolver, epoch uint64) (Profile, error) {
	profile, err := resolver.ResolveUser(ctx)
	if err == nil && strings.TrimSpace(profile.ID) == "" {
		err = ErrInvalidProfile
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		if err != nil {
			return Profile{}, err
		}
		return Profile{}, ErrSuperseded
	}

	if err != nil {
		s.logger.Warn().Err(err).Msg("resolve user failed")
		if clearErr := s.clearLocked(fmt.Errorf("resolve user: %w", err)); clearErr != nil {
			s.logger.Warn().Err(clearErr).Msg("clear session after failed resolve")
		}
		return Profile{}, err
	}

	p := profile
	s.user = &p
	s.err = nil
	if s.status == StatusAuthenticated {
		s.notifyLocked()
	} else {
		s.transitionLocked(StatusAuthenticated)
	}
	s.logger.Info().Str("user_id", profile.ID).Msg("session authenticated")
	return profile, nil
}

// Authorize sets the bearer header on req when a token is held. The returned
// epoch identifies the token so a later rejection can be matched to it.
func (s *Store) Authorize(req *http.Request) (uint64, bool) {
	s.mu.Lock()
	token, epoch := s.token, s.epoch
	s.mu.Unlock()

	if token == "" || req == nil {
		return epoch, false
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return epoch, true
}

// Invalidate reports that the server rejected the token of the given epoch.
// Only an authenticated session on that same epoch is cleared, so it returns
// true at most once per session no matter how many requests fail together.
func (s *Store) Invalidate(epoch uint64, reason error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusAuthenticated || s.epoch != epoch {
		return false
	}
	if reason == nil {
		reason = ErrRejected
	}
	if err := s.clearLocked(reason); err != nil {
		s.logger.Warn().Err(err).Msg("clear rejected session")
	}
	s.logger.Warn().Err(reason).Msg("session invalidated by server")
	return true
}

// Snapshot returns the current session state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Status is shorthand for Snapshot().Status.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{Status: s.status, Err: s.err, Epoch: s.epoch}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

func (s *Store) clearLocked(reason error) error {
	var eraseErr error
	if err := s.tokens.Erase(); err != nil {
		eraseErr = fmt.Errorf("erase token: %w", err)
	}

	s.token = ""
	s.user = nil
	s.err = reason
	s.epoch++
	s.transitionLocked(StatusUnauthenticated)
	return eraseErr
}

func (s *Store) transitionLocked(to Status) {
	from := s.status
	s.status = to
	s.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("transition")
	if s.observer != nil {
		s.observer.Transition(from, to)
	}
	s.notifyLocked()
}
