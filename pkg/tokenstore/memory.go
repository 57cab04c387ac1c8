package tokenstore

import "sync"

// Counts tallies operations performed against a Memory store.
type Counts struct {
	Loads  int
	Saves  int
	Erases int
}

// Memory keeps the token in process memory. It backs ephemeral CLI sessions
// and tests that need to observe storage traffic.
type Memory struct {
	mu     sync.Mutex
	token  string
	counts Counts

	// SaveErr and EraseErr, when set, are returned instead of performing
	// the operation.
	SaveErr  error
	EraseErr error
}

// NewMemory returns a Memory store pre-populated with token.
func NewMemory(token string) *Memory {
	return &Memory{token: token}
}

func (m *Memory) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts.Loads++
	return m.token, nil
}

func (m *Memory) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts.Saves++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.token = token
	return nil
}

func (m *Memory) Erase() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts.Erases++
	if m.EraseErr != nil {
		return m.EraseErr
	}
	m.token = ""
	return nil
}

// Token returns the currently stored value.
func (m *Memory) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Counts returns a copy of the operation tallies.
func (m *Memory) Counts() Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts
}
