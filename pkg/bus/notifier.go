package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"crmdash/pkg/session"
)

// SubjectSessionTransition carries TransitionEvent payloads.
const SubjectSessionTransition = "crmdash.session.transition"

const (
	notifierBuffer = 64
	publishTimeout = 2 * time.Second
)

// TransitionEvent announces a session status change. It never carries the
// token or the profile.
type TransitionEvent struct {
	From   session.Status `json:"from"`
	To     session.Status `json:"to"`
	At     time.Time      `json:"at"`
	Source string         `json:"source"`
}

// Publisher is the subset of *Bus the Notifier needs.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Notifier is a session.Observer that publishes transitions from a
// background goroutine. Transition never blocks; events are dropped when
// the buffer is full.
type Notifier struct {
	pub    Publisher
	source string
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	events chan TransitionEvent
	done   chan struct{}

	dropped atomic.Int64
}

// NewNotifier starts publishing transitions to pub, tagged with source.
func NewNotifier(pub Publisher, source string, logger zerolog.Logger) *Notifier {
	n := &Notifier{
		pub:    pub,
		source: source,
		logger: logger.With().Str("component", "bus").Logger(),
		events: make(chan TransitionEvent, notifierBuffer),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *Notifier) Transition(from, to session.Status) {
	evt := TransitionEvent{From: from, To: to, At: time.Now().UTC(), Source: n.source}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.events <- evt:
	default:
		n.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be published.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	close(n.events)
	n.mu.Unlock()
	<-n.done
}

func (n *Notifier) run() {
	defer close(n.done)
	for evt := range n.events {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := n.pub.Publish(ctx, SubjectSessionTransition, evt); err != nil {
			n.logger.Warn().Err(err).Stringer("to", evt.To).Msg("publish session transition")
		}
		cancel()
	}
}
