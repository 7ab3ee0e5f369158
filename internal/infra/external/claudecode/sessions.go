package claudecode

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"ccflow/internal/shared/config"
)

// SessionEntry is the latest session recorded under a label.
type SessionEntry struct {
	ID        string
	Turns     int
	UpdatedAt time.Time
}

// SessionRegistry maps caller-chosen labels to the most recent CLI session id.
// It is bounded; the least recently used label is evicted first.
type SessionRegistry struct {
	mu    sync.Mutex
	cache *lru.Cache[string, SessionEntry]
	now   func() time.Time
}

// NewSessionRegistry creates a registry holding up to size labels.
func NewSessionRegistry(size int) (*SessionRegistry, error) {
	if size <= 0 {
		size = config.DefaultSessionRegistrySize
	}
	cache, err := lru.New[string, SessionEntry](size)
	if err != nil {
		return nil, err
	}
	return &SessionRegistry{cache: cache, now: time.Now}, nil
}

// Record stores id as the latest session for label and returns the entry.
func (r *SessionRegistry) Record(label, id string) SessionEntry {
	label = strings.TrimSpace(label)
	id = strings.TrimSpace(id)
	if r == nil || label == "" || id == "" {
		return SessionEntry{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, _ := r.cache.Peek(label)
	if entry.ID != id {
		entry = SessionEntry{ID: id}
	}
	entry.Turns++
	entry.UpdatedAt = r.now()
	r.cache.Add(label, entry)
	return entry
}

// Lookup returns the latest session for label.
func (r *SessionRegistry) Lookup(label string) (SessionEntry, bool) {
	label = strings.TrimSpace(label)
	if r == nil || label == "" {
		return SessionEntry{}, false
	}
	return r.cache.Get(label)
}

// Forget drops label.
func (r *SessionRegistry) Forget(label string) {
	if r == nil {
		return
	}
	r.cache.Remove(strings.TrimSpace(label))
}

// Len returns the number of labels held.
func (r *SessionRegistry) Len() int {
	if r == nil {
		return 0
	}
	return r.cache.Len()
}
