package run

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/interflow/types"
)

// Store is keyed persistence of run state. Implementations must provide
// atomic create and replace-if-version-matches semantics per run id; the
// single-writer discipline above it is enforced by the engine, not here.
type Store interface {
	// Create persists a new state. Fails with CONFLICT if the id exists.
	Create(ctx context.Context, st *State) error
	// Get returns a snapshot of the state. Fails with UNKNOWN_RUN if absent.
	Get(ctx context.Context, runID string) (*State, error)
	// Replace overwrites the stored state if st.Version matches the stored
	// version, then bumps the version on both. Fails with CONFLICT on a
	// version mismatch and UNKNOWN_RUN if absent.
	Replace(ctx context.Context, st *State) error
	// Delete removes a run. Missing ids are not an error.
	Delete(ctx context.Context, runID string) error
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	runs map[string]*State
	mu   sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*State)}
}

func (s *MemoryStore) Create(ctx context.Context, st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[st.RunID]; exists {
		return types.Errorf(types.ErrConflict, "run already exists: %s", st.RunID)
	}
	s.runs[st.RunID] = st.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, runID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.runs[runID]
	if !ok {
		return nil, types.Errorf(types.ErrUnknownRun, "run not found: %s", runID)
	}
	return st.Clone(), nil
}

func (s *MemoryStore) Replace(ctx context.Context, st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.runs[st.RunID]
	if !ok {
		return types.Errorf(types.ErrUnknownRun, "run not found: %s", st.RunID)
	}
	if cur.Version != st.Version {
		return types.Errorf(types.ErrConflict, "version mismatch for run %s: have %d, want %d",
			st.RunID, st.Version, cur.Version)
	}
	st.Version++
	st.UpdatedAt = time.Now().UTC()
	s.runs[st.RunID] = st.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}
