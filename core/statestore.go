package chainflow

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// StateStore owns ChainRun storage for introspection, cancellation and
// cleanup. The executor that created a run is its only mutator; the store
// hands concurrent readers snapshot copies. When constructed with a memory
// path, run snapshots are persisted to a YAML file so monitoring survives a
// restart.
type StateStore struct {
	mu         sync.RWMutex
	runs       map[string]*ChainRun
	memoryPath string
	lastHash   string
}

// NewStateStore creates an in-memory store.
func NewStateStore() *StateStore {
	return &StateStore{runs: make(map[string]*ChainRun)}
}

// NewStateStoreWithPath creates a store that mirrors run snapshots into a
// YAML memory file at every persist.
func NewStateStoreWithPath(memoryPath string) *StateStore {
	return &StateStore{
		runs:       make(map[string]*ChainRun),
		memoryPath: memoryPath,
	}
}

// Put stores a run record. Re-putting an existing run ID replaces it.
func (s *StateStore) Put(run *ChainRun) {
	s.mu.Lock()
	s.runs[run.RunID] = run
	s.mu.Unlock()
	s.persist()
}

// Get returns a snapshot of the run, or ErrRunNotFound.
func (s *StateStore) Get(runID string) (*ChainRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run.Snapshot(), nil
}

// Cancel requests cooperative cancellation of a run.
func (s *StateStore) Cancel(runID string) error {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	run.Cancel()
	return nil
}

// ListActive returns snapshots of runs that have not reached a terminal
// status, ordered by start time then run ID.
func (s *StateStore) ListActive() []*ChainRun {
	return s.list(func(status RunStatus) bool { return !status.Terminal() })
}

// ListAll returns snapshots of every stored run.
func (s *StateStore) ListAll() []*ChainRun {
	return s.list(func(RunStatus) bool { return true })
}

func (s *StateStore) list(match func(RunStatus) bool) []*ChainRun {
	s.mu.RLock()
	candidates := make([]*ChainRun, 0, len(s.runs))
	for _, run := range s.runs {
		candidates = append(candidates, run)
	}
	s.mu.RUnlock()

	var snaps []*ChainRun
	for _, run := range candidates {
		snap := run.Snapshot()
		if match(snap.Status) {
			snaps = append(snaps, snap)
		}
	}
	sortRunSnapshots(snaps)
	return snaps
}

// Cleanup cancels the run if still active and removes the record.
// Idempotent: cleaning an absent run is a no-op.
func (s *StateStore) Cleanup(runID string) {
	s.mu.Lock()
	run, ok := s.runs[runID]
	delete(s.runs, runID)
	s.mu.Unlock()

	if ok {
		run.Cancel()
	}
	s.persist()
}

// Len returns the number of stored runs.
func (s *StateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// persist mirrors run snapshots to the memory file. Writes are skipped when
// the serialized content is unchanged since the last persist.
func (s *StateStore) persist() {
	if s.memoryPath == "" {
		return
	}

	snaps := s.ListAll()
	data, err := yaml.Marshal(map[string]any{"runs": snaps})
	if err != nil {
		ErrorLog("[STORE] Failed to serialize runs for memory file: %v", err)
		return
	}

	hash := fmt.Sprintf("%x", md5.Sum(data))
	s.mu.Lock()
	if hash == s.lastHash {
		s.mu.Unlock()
		return
	}
	s.lastHash = hash
	s.mu.Unlock()

	if dir := filepath.Dir(s.memoryPath); dir != "." {
		os.MkdirAll(dir, 0755)
	}
	if err := os.WriteFile(s.memoryPath, data, 0644); err != nil {
		ErrorLog("[STORE] Failed to write memory file %s: %v", s.memoryPath, err)
	}
}

func sortRunSnapshots(snaps []*ChainRun) {
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].StartedAt.Equal(snaps[j].StartedAt) {
			return snaps[i].StartedAt.Before(snaps[j].StartedAt)
		}
		return snaps[i].RunID < snaps[j].RunID
	})
}
