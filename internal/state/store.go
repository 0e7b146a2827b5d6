package state

import "sort"

// Store persists the append-only list of deployment records. It is the
// sole source of truth; the deployer's in-memory view is a cache kept
// consistent after every mutating call.
type Store interface {
	// Load returns all persisted deployment records. A missing or corrupt
	// backing file is tolerated by returning an empty list.
	Load() ([]*Deployment, error)

	// Save persists the full record list, replacing previous contents.
	Save(deployments []*Deployment) error
}

// SortByStartTimeDesc orders deployments newest first.
func SortByStartTimeDesc(deployments []*Deployment) {
	sort.SliceStable(deployments, func(i, j int) bool {
		return deployments[i].StartTime.After(deployments[j].StartTime)
	})
}
