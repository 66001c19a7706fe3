package store

import (
	"sync"

	"github.com/hellolucient/Open-DCAs/internal/model"
)

// SnapshotStore retains the latest published snapshot and a bounded
// per-token history of chart points for the dashboard to render. Everything
// lives in memory only; a restart starts from empty.
type SnapshotStore struct {
	mu      sync.RWMutex
	latest  *model.Snapshot
	history map[string][]model.ChartPoint
	limit   int
}

func NewSnapshotStore(historyLimit int) *SnapshotStore {
	if historyLimit <= 0 {
		historyLimit = 1
	}
	return &SnapshotStore{
		history: make(map[string][]model.ChartPoint),
		limit:   historyLimit,
	}
}

// Set replaces the latest snapshot. Chart points of successful snapshots are
// appended to the per-token history; failed snapshots only update the latest
// view so the dashboard can show the error without breaking the chart.
func (s *SnapshotStore) Set(snapshot *model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = snapshot
	if snapshot.Failed() {
		return
	}

	for token, point := range snapshot.Charts {
		points := append(s.history[token], point)
		if len(points) > s.limit {
			points = points[len(points)-s.limit:]
		}
		s.history[token] = points
	}
}

// Latest returns the most recent snapshot, or nil if none has been published
// yet.
func (s *SnapshotStore) Latest() *model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// History returns up to limit most recent chart points for a token, oldest
// first. limit <= 0 returns the full retained window.
func (s *SnapshotStore) History(token string, limit int) []model.ChartPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.history[token]
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}

	out := make([]model.ChartPoint, len(points))
	copy(out, points)
	return out
}
