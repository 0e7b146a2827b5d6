package state

import "sync"

// MemoryStore is an in-memory Store used in tests and as a null store
// when history persistence is disabled.
type MemoryStore struct {
	mu          sync.Mutex
	deployments []*Deployment
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored records.
func (s *MemoryStore) Load() ([]*Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Deployment, len(s.deployments))
	copy(out, s.deployments)
	return out, nil
}

// Save replaces the stored records.
func (s *MemoryStore) Save(deployments []*Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deployments = make([]*Deployment, len(deployments))
	copy(s.deployments, deployments)
	return nil
}
