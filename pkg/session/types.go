package session

import (
	"context"
	"errors"
	"fmt"
)

// Status is the authentication state every protected consumer gates on.
type Status int

const (
	StatusUnknown Status = iota
	StatusVerifying
	StatusAuthenticated
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusVerifying:
		return "verifying"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status by name in JSON and logs.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrEmptyToken           = errors.New("session: token is empty")
	ErrAlreadyAuthenticated = errors.New("session: already authenticated")
	ErrLoginInProgress      = errors.New("session: another token is being verified")
	ErrNotStarted           = errors.New("session: store not started")
	ErrAlreadyStarted       = errors.New("session: store already started")
	ErrNoResolver           = errors.New("session: resolver is required")
	ErrNoToken              = errors.New("session: no token held")
	ErrSuperseded           = errors.New("session: token changed during resolution")
	ErrInvalidProfile       = errors.New("session: profile has no identifier")
	ErrRejected             = errors.New("session: credential rejected by server")
)

// Profile is the user record resolved from the current token. It is never
// persisted on its own.
type Profile struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	OrgName string `json:"orgName,omitempty"`
	Role    string `json:"role,omitempty"`
}

// Snapshot is a consistent read of the session. It deliberately omits the
// token.
type Snapshot struct {
	Status Status   `json:"status"`
	User   *Profile `json:"user,omitempty"`
	Err    error    `json:"-"`
	Epoch  uint64   `json:"epoch"`
}

// TokenStore is synchronous durable storage for the bearer token.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Erase() error
}

// Resolver turns the currently held token into a profile. Implementations
// reach the token through Store.Authorize.
type Resolver interface {
	ResolveUser(ctx context.Context) (Profile, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) (Profile, error)

func (f ResolverFunc) ResolveUser(ctx context.Context) (Profile, error) {
	return f(ctx)
}

// Observer is told about every status change. It runs while the store is
// locked and must not call back into the store.
type Observer interface {
	Transition(from, to Status)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(from, to Status)

func (f ObserverFunc) Transition(from, to Status) {
	f(from, to)
}

// Observers fans a transition out to several observers in order.
type Observers []Observer

func (o Observers) Transition(from, to Status) {
	for _, obs := range o {
		if obs != nil {
			obs.Transition(from, to)
		}
	}
}
