package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrNotFound indicates that no history was stored under a key.
	ErrNotFound = errors.New("history: not found")
	// ErrCorruptRecord indicates a stored record that does not decode.
	ErrCorruptRecord = errors.New("history: corrupt record")
)

// Store persists stacks by (room, user).
type Store interface {
	Load(ctx context.Context, key Key) (Stack, error)
	Save(ctx context.Context, key Key, stack Stack) error
}

// EncodeStack serializes a stack to its durable JSON form.
func EncodeStack(stack Stack) (string, error) {
	normalized := stack.Clone()
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// DecodeStack parses the durable JSON form.
func DecodeStack(raw string) (Stack, error) {
	var stack Stack
	if err := json.Unmarshal([]byte(raw), &stack); err != nil {
		return Stack{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return stack.Clone(), nil
}

// MemoryStore keeps encoded stacks in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]string)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, key Key) (Stack, error) {
	m.mu.RLock()
	raw, ok := m.records[key]
	m.mu.RUnlock()
	if !ok {
		return Stack{}, ErrNotFound
	}
	return DecodeStack(raw)
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, key Key, stack Stack) error {
	encoded, err := EncodeStack(stack)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records[key] = encoded
	m.mu.Unlock()
	return nil
}

// PutRaw stores an undecoded record. It exists so callers can seed data written
// by other clients, including damaged data.
func (m *MemoryStore) PutRaw(key Key, raw string) {
	m.mu.Lock()
	m.records[key] = raw
	m.mu.Unlock()
}

// SafeStore wraps a Store so that reads and writes never fail: a missing or
// unreadable record is an empty stack and write failures are only logged.
// Set never waits for storage. Writes are handed to a single background
// writer that saves keys in the order they were first queued; a key queued
// again before its save starts keeps only its latest stack.
type SafeStore struct {
	store  Store
	logger *zap.Logger

	mu       sync.Mutex
	pending  map[Key]pendingWrite
	queue    []Key
	inflight *pendingWrite
	writing  bool
	idle     chan struct{}
}

type pendingWrite struct {
	ctx   context.Context
	key   Key
	stack Stack
}

// NewSafeStore wraps store. A nil store keeps history in memory only.
func NewSafeStore(store Store, logger *zap.Logger) *SafeStore {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SafeStore{store: store, logger: logger, pending: make(map[Key]pendingWrite)}
}

// Get returns the stored stack or an empty one. A write still waiting for
// the background writer is returned in place of the stored record.
func (s *SafeStore) Get(ctx context.Context, key Key) Stack {
	s.mu.Lock()
	if write, ok := s.pending[key]; ok {
		s.mu.Unlock()
		return write.stack.Clone()
	}
	if s.inflight != nil && s.inflight.key == key {
		stack := s.inflight.stack.Clone()
		s.mu.Unlock()
		return stack
	}
	s.mu.Unlock()

	stack, err := s.store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("history load failed",
				zap.String("room_id", key.RoomID),
				zap.String("user_id", key.UserID),
				zap.Error(err))
		}
		return EmptyStack()
	}
	return stack
}

// Set queues stack for persistence and returns immediately. Failures are
// logged and swallowed.
func (s *SafeStore) Set(ctx context.Context, key Key, stack Stack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, queued := s.pending[key]; !queued {
		s.queue = append(s.queue, key)
	}
	s.pending[key] = pendingWrite{ctx: context.WithoutCancel(ctx), key: key, stack: stack.Clone()}
	if !s.writing {
		s.writing = true
		s.idle = make(chan struct{})
		go s.drain()
	}
}

// Flush waits until every write queued before the call has been attempted.
func (s *SafeStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.writing {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SafeStore) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.inflight = nil
			s.writing = false
			close(s.idle)
			s.mu.Unlock()
			return
		}
		key := s.queue[0]
		s.queue = s.queue[1:]
		write := s.pending[key]
		delete(s.pending, key)
		s.inflight = &write
		s.mu.Unlock()

		if err := s.store.Save(write.ctx, write.key, write.stack); err != nil {
			s.logger.Warn("history save failed",
				zap.String("room_id", key.RoomID),
				zap.String("user_id", key.UserID),
				zap.Error(err))
		}
	}
}
