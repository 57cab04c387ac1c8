// Package console wires the session, the backend client and the protected
// views into one application shared by the crmctl CLI and the console HTTP
// server.
package console

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"crmdash/pkg/apiclient"
	"crmdash/pkg/bus"
	"crmdash/pkg/crm"
	"crmdash/pkg/metrics"
	"crmdash/pkg/session"
	"crmdash/pkg/tokenstore"
	"crmdash/services/console/internal/config"
)

// LoginPath is where unauthenticated users are sent.
const LoginPath = "/login"

// ErrSignedOut is returned by flows that need an authenticated session.
var ErrSignedOut = errors.New("console: not signed in")

// Options configures an App.
type Options struct {
	Config config.Config
	Logger zerolog.Logger
	// Source tags published session events, e.g. "crmctl" or "console".
	Source string
	// Tokens overrides the token backend chosen from Config.
	Tokens session.TokenStore
	// Publisher overrides the NATS connection chosen from Config.
	Publisher bus.Publisher
	// Base is the innermost HTTP round tripper.
	Base http.RoundTripper
	// OnRedirect runs once each time a rejected credential ends the session.
	OnRedirect     func()
	RuntimeMetrics bool
}

// App is the assembled client application.
type App struct {
	cfg    config.Config
	logger zerolog.Logger

	Session *session.Store
	API     *apiclient.Client
	CRM     *crm.Client
	Metrics *metrics.Metrics

	notifier   *bus.Notifier
	onRedirect func()
	redirects  atomic.Int64

	closeOnce sync.Once
	closers   []func() error
}

// New builds the App. Nothing touches the network until Start.
func New(opts Options) (*App, error) {
	logger := opts.Logger
	source := opts.Source
	if source == "" {
		source = "crmdash"
	}

	a := &App{
		cfg:        opts.Config,
		logger:     logger,
		Metrics:    metrics.New(opts.RuntimeMetrics),
		onRedirect: opts.OnRedirect,
	}

	tokens, err := a.tokenStore(opts.Tokens)
	if err != nil {
		a.Close()
		return nil, err
	}

	observers := session.Observers{a.Metrics}
	if pub := a.publisher(opts.Publisher, source); pub != nil {
		a.notifier = bus.NewNotifier(pub, source, logger)
		a.closers = append(a.closers, func() error {
			a.notifier.Close()
			return nil
		})
		observers = append(observers, a.notifier)
	}

	a.Session, err = session.NewStore(tokens,
		session.WithLogger(logger),
		session.WithObserver(observers),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.API, err = apiclient.New(apiclient.Options{
		BaseURL:           opts.Config.APIBaseURL,
		AllowInsecureHTTP: opts.Config.AllowInsecureHTTP,
		Session:           a.Session,
		OnRejected:        a.redirect,
		Recorder:          a.Metrics,
		Logger:            logger,
		Timeout:           opts.Config.RequestTimeout,
		Base:              opts.Base,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("api client: %w", err)
	}

	a.CRM, err = crm.New(a.API)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) tokenStore(override session.TokenStore) (session.TokenStore, error) {
	if override != nil {
		return override, nil
	}

	if a.cfg.RedisURL != "" {
		r, err := tokenstore.NewRedisFromURL(a.cfg.RedisURL, a.cfg.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("redis token store: %w", err)
		}
		a.closers = append(a.closers, r.Close)
		a.logger.Debug().Str("key", r.Key()).Msg("using redis token store")
		return r, nil
	}

	path := a.cfg.SessionFile
	if path == "" {
		var err error
		if path, err = tokenstore.DefaultPath(); err != nil {
			return nil, fmt.Errorf("session file: %w", err)
		}
	}
	f, err := tokenstore.NewFile(path)
	if err != nil {
		return nil, fmt.Errorf("file token store: %w", err)
	}
	a.logger.Debug().Str("path", f.Path()).Msg("using file token store")
	return f, nil
}

func (a *App) publisher(override bus.Publisher, source string) bus.Publisher {
	if override != nil {
		return override
	}
	if a.cfg.NATSURL == "" {
		return nil
	}

	b, err := bus.New(a.cfg.NATSURL, a.logger, nats.Name("crmdash-"+source))
	if err != nil {
		a.logger.Warn().Err(err).Msg("connect nats, session events disabled")
		return nil
	}
	a.closers = append(a.closers, func() error {
		b.Close()
		return nil
	})
	return b
}

// Start performs the initial session transition, verifying any persisted
// token against the backend.
func (a *App) Start(ctx context.Context) (session.Snapshot, error) {
	return a.Session.Start(ctx, a.CRM)
}

// Redirects reports how many times a rejected credential sent the user to
// the login page.
func (a *App) Redirects() int64 {
	return a.redirects.Load()
}

func (a *App) redirect() {
	a.redirects.Add(1)
	a.logger.Info().Str("location", LoginPath).Msg("session expired, redirecting to login")
	if a.onRedirect != nil {
		a.onRedirect()
	}
}

// Close releases the token backend and the event bus.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
