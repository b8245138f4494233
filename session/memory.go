package session

import (
	"bytes"
	"context"
	"sync"

	"github.com/pithecene-io/psdweb/types"
)

type memoryEntry struct {
	session *types.UploadSession
	chunks  [][]byte
}

// MemoryStore keeps sessions in process memory.
// Expired sessions are swept lazily on every call.
type MemoryStore struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*memoryEntry),
	}
}

// Create opens a session.
func (m *MemoryStore) Create(_ context.Context, fileName string, expectedSize *int64) (*types.UploadSession, error) {
	s, err := newSession(m.cfg, fileName, expectedSize)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	m.entries[s.ID] = &memoryEntry{session: s}
	return cloneSession(s), nil
}

// Append adds one chunk. data is copied.
func (m *MemoryStore) Append(_ context.Context, id string, index *int, data []byte) (*types.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	if err := applyAppend(m.cfg, e.session, index, int64(len(data))); err != nil {
		return nil, err
	}
	e.chunks = append(e.chunks, bytes.Clone(data))
	return cloneSession(e.session), nil
}

// Complete finalizes the session and releases its chunk data.
func (m *MemoryStore) Complete(_ context.Context, id string) (*types.UploadSession, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookupLocked(id)
	if err != nil {
		return nil, nil, err
	}
	data := bytes.Join(e.chunks, nil)
	if err := checkComplete(m.cfg, e.session, data); err != nil {
		return nil, nil, err
	}
	e.session.Completed = true
	e.chunks = nil
	return cloneSession(e.session), data, nil
}

// Get returns a copy of the session.
func (m *MemoryStore) Get(_ context.Context, id string) (*types.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return cloneSession(e.session), nil
}

// Delete removes the session. Deleting an unknown id is not an error.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	return len(m.entries)
}

// Close drops all sessions.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]*memoryEntry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) lookupLocked(id string) (*memoryEntry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.session.Expired(m.cfg.Now()) {
		delete(m.entries, id)
		return nil, ErrExpired
	}
	return e, nil
}

func (m *MemoryStore) sweepLocked() {
	now := m.cfg.Now()
	for id, e := range m.entries {
		if e.session.Expired(now) {
			delete(m.entries, id)
		}
	}
}

func cloneSession(s *types.UploadSession) *types.UploadSession {
	c := *s
	c.Chunks = append([]types.ReceivedChunk(nil), s.Chunks...)
	if s.ExpectedSize != nil {
		v := *s.ExpectedSize
		c.ExpectedSize = &v
	}
	return &c
}

// Verify MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
