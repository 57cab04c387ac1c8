// Package tokenstore provides durable storage backends for the session
// bearer token. Every backend is synchronous: a call returns only after the
// write or erase has reached the backing medium.
package tokenstore

// Backend is the contract shared by every store in this package. It matches
// session.TokenStore so any backend can be handed to the session store.
type Backend interface {
	Load() (string, error)
	Save(token string) error
	Erase() error
}
