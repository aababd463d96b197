// Package store provides implementations of the persistence collaborator
// (core.Store) for finalized tasks and evidence chains.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
)

// snapshot is the JSON shape written to disk.
type snapshot struct {
	Tasks  map[string]core.Task          `json:"tasks"`
	Chains map[string]core.EvidenceChain `json:"chains"`
}

// MemoryOptions configure a MemoryStore.
type MemoryOptions struct {
	// SnapshotPath enables file persistence. Empty keeps data in memory only.
	SnapshotPath string
	Logger       logging.Logger
}

// MemoryStore implements core.Store with in-memory maps. It is used when no
// database is configured (local development, tests).
type MemoryStore struct {
	mu     sync.RWMutex
	tasks  map[string]core.Task
	chains map[string]core.EvidenceChain

	snapshotPath string
	saveMu       sync.Mutex
	logger       logging.Logger
}

var _ core.Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store. When a snapshot path is configured and
// the file exists, its content is loaded.
func NewMemoryStore(optFns ...func(o *MemoryOptions)) (*MemoryStore, error) {
	opts := MemoryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	s := &MemoryStore{
		tasks:        make(map[string]core.Task),
		chains:       make(map[string]core.EvidenceChain),
		snapshotPath: opts.SnapshotPath,
		logger:       opts.Logger,
	}
	if s.snapshotPath != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SaveTask stores a copy of task, replacing an earlier version.
func (s *MemoryStore) SaveTask(_ context.Context, task core.Task) error {
	if task.ID == "" {
		return fmt.Errorf("save task: empty id")
	}
	s.mu.Lock()
	s.tasks[task.ID] = task.Clone()
	s.mu.Unlock()
	return s.save()
}

// LoadTask returns the task or an error wrapping core.ErrNotFound.
func (s *MemoryStore) LoadTask(_ context.Context, id string) (core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return core.Task{}, fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	return t.Clone(), nil
}

// SaveChain stores a copy of chain, replacing an earlier version.
func (s *MemoryStore) SaveChain(_ context.Context, chain core.EvidenceChain) error {
	if chain.ID == "" {
		return fmt.Errorf("save evidence chain: empty id")
	}
	s.mu.Lock()
	s.chains[chain.ID] = chain.Clone()
	s.mu.Unlock()
	return s.save()
}

// LoadChain returns the chain or an error wrapping core.ErrNotFound.
func (s *MemoryStore) LoadChain(_ context.Context, id string) (core.EvidenceChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chains[id]
	if !ok {
		return core.EvidenceChain{}, fmt.Errorf("evidence chain %s: %w", id, core.ErrNotFound)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) load() error {
	data, err := os.ReadFile(s.snapshotPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", s.snapshotPath, err)
	}
	for id, t := range snap.Tasks {
		s.tasks[id] = t
	}
	for id, c := range snap.Chains {
		s.chains[id] = c
	}
	s.logger.Info("store.snapshot.loaded", "path", s.snapshotPath, "tasks", len(s.tasks), "chains", len(s.chains))
	return nil
}

// save writes the snapshot atomically via a temp file.
func (s *MemoryStore) save() error {
	if s.snapshotPath == "" {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	data, err := json.MarshalIndent(snapshot{Tasks: s.tasks, Chains: s.chains}, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
