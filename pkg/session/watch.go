package session

import "sync"

// Watcher delivers session snapshots. Its channel holds only the latest
// snapshot: a slow reader skips intermediate states but always sees the
// most recent one.
type Watcher struct {
	store *Store
	ch    chan Snapshot
	once  sync.Once
}

// Watch subscribes to session changes. The current snapshot is available on
// the channel immediately.
func (s *Store) Watch() *Watcher {
	w := &Watcher{store: s, ch: make(chan Snapshot, 1)}

	s.mu.Lock()
	s.watchers[w] = struct{}{}
	w.ch <- s.snapshotLocked()
	s.mu.Unlock()

	return w
}

// C returns the snapshot channel. It is closed by Close.
func (w *Watcher) C() <-chan Snapshot {
	return w.ch
}

// Close unsubscribes the watcher and closes its channel.
func (w *Watcher) Close() {
	w.once.Do(func() {
		w.store.mu.Lock()
		delete(w.store.watchers, w)
		close(w.ch)
		w.store.mu.Unlock()
	})
}

func (s *Store) notifyLocked() {
	snap := s.snapshotLocked()
	for w := range s.watchers {
		select {
		case w.ch <- snap:
		default:
			select {
			case <-w.ch:
			default:
			}
			w.ch <- snap
		}
	}
}
