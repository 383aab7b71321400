package backend

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/menta2k/image-marker/pkg/types"
)

var (
	// ErrNotFound is returned for a target with no pending request.
	ErrNotFound = errors.New("node session not found")
	// ErrPending is returned when a target already has a pending request.
	ErrPending = errors.New("target already pending")
	// ErrEmptyTarget is returned for requests without a target identifier.
	ErrEmptyTarget = errors.New("node_id is required")
)

// Result is the operator's answer to a pending request.
type Result struct {
	Applied   bool   `json:"applied"`
	ImageData string `json:"image_data,omitempty"`
}

// Store tracks pending requests and hands results from the HTTP handlers to
// the waiting request.
type Store interface {
	Register(ctx context.Context, trigger types.Trigger) error
	Pending(ctx context.Context) ([]types.Trigger, error)
	Deliver(ctx context.Context, targetID string, res Result) error
	Wait(ctx context.Context, targetID string) (Result, error)
	Remove(ctx context.Context, targetID string) error
	Close() error
}

type memoryEntry struct {
	trigger types.Trigger
	results chan Result
}

// MemoryStore keeps pending requests in process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (m *MemoryStore) Register(ctx context.Context, trigger types.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[trigger.TargetID]; ok {
		return ErrPending
	}
	m.entries[trigger.TargetID] = &memoryEntry{trigger: trigger, results: make(chan Result, 1)}
	return nil
}

func (m *MemoryStore) Pending(ctx context.Context) ([]types.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Trigger, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.trigger)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out, nil
}

// Deliver stores the first result for a target; later ones are dropped.
func (m *MemoryStore) Deliver(ctx context.Context, targetID string, res Result) error {
	m.mu.Lock()
	e, ok := m.entries[targetID]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	select {
	case e.results <- res:
	default:
	}
	return nil
}

func (m *MemoryStore) Wait(ctx context.Context, targetID string) (Result, error) {
	m.mu.Lock()
	e, ok := m.entries[targetID]
	m.mu.Unlock()
	if !ok {
		return Result{}, ErrNotFound
	}
	select {
	case res := <-e.results:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (m *MemoryStore) Remove(ctx context.Context, targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, targetID)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
