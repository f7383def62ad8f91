package artifact

import (
	"sort"
	"sync"

	"github.com/forgemesh/forgemesh/core"
)

// Store is the manifest contract the orchestrator writes through. All
// methods must be goroutine-safe.
type Store interface {
	Save(meta core.ArtifactMeta) error
	Get(projectID, artifactID string) (core.ArtifactMeta, error)
	List(projectID string) ([]core.ArtifactMeta, error)
	Delete(projectID, artifactID string) error
}

// InMemoryStore is a process-local manifest store. Entries are kept in a
// nested map guarded by an RWMutex and copied on retrieval so callers cannot
// mutate stored state.
//
// It enforces no retention limits or quotas. For deployments that must
// survive restarts, swap in a durable Store implementation.
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]map[string]core.ArtifactMeta // projectID -> artifactID -> meta
}

// NewInMemoryStore returns an empty in-memory manifest store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: make(map[string]map[string]core.ArtifactMeta)}
}

// Save stores (or overwrites) the artifact metadata under its project.
func (s *InMemoryStore) Save(meta core.ArtifactMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.artifacts[meta.ProjectID]; !exists {
		s.artifacts[meta.ProjectID] = make(map[string]core.ArtifactMeta)
	}
	s.artifacts[meta.ProjectID][meta.ID] = meta
	return nil
}

// Get returns the stored metadata or ErrNotFound.
func (s *InMemoryStore) Get(projectID, artifactID string) (core.ArtifactMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.artifacts[projectID]
	if !ok {
		return core.ArtifactMeta{}, ErrNotFound
	}
	meta, ok := m[artifactID]
	if !ok {
		return core.ArtifactMeta{}, ErrNotFound
	}
	return meta, nil
}

// List returns the project's manifest ordered by creation time, oldest
// first. The slice is a snapshot and safe for caller mutation.
func (s *InMemoryStore) List(projectID string) ([]core.ArtifactMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.artifacts[projectID]
	if !ok {
		return []core.ArtifactMeta{}, nil
	}
	metas := make([]core.ArtifactMeta, 0, len(m))
	for _, meta := range m {
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		if !metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].CreatedAt.Before(metas[j].CreatedAt)
		}
		return metas[i].ID < metas[j].ID
	})
	return metas, nil
}

// Delete removes the artifact metadata if present or returns ErrNotFound.
func (s *InMemoryStore) Delete(projectID, artifactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.artifacts[projectID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m[artifactID]; !ok {
		return ErrNotFound
	}
	delete(m, artifactID)
	return nil
}
