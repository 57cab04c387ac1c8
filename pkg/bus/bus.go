package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Bus wraps a NATS connection for publishing and consuming events.
type Bus struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// New creates a Bus connected to the provided NATS endpoint. Subscription
// handler failures are logged to logger.
func New(url string, logger zerolog.Logger, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: nc, logger: logger.With().Str("component", "bus").Logger()}, nil
}

// Close drains and shuts down the underlying NATS connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to the given subject.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil {
		return errors.New("nil bus")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.conn.Publish(subj, data)
}

type subscription struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
}

func (s *subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sub.Drain()
}

// Handler consumes one message payload.
type Handler func(ctx context.Context, data []byte) error

// Subscribe invokes fn for each message on subj until ctx ends or the
// returned Closer is closed. Handler errors are logged.
func (b *Bus) Subscribe(ctx context.Context, subj string, fn Handler) (io.Closer, error) {
	if b == nil {
		return nil, errors.New("nil bus")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}

	sub, err := b.conn.Subscribe(subj, func(msg *nats.Msg) {
		b.dispatch(ctx, msg.Subject, msg.Data, fn)
	})
	if err != nil {
		return nil, err
	}

	s := &subscription{sub: sub}

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	return s, nil
}

func (b *Bus) dispatch(ctx context.Context, subj string, data []byte, fn Handler) {
	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := fn(handlerCtx, data); err != nil {
		b.logger.Warn().Err(err).Str("subject", subj).Int("bytes", len(data)).Msg("bus handler failed")
	}
}
