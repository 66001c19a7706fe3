package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/hellolucient/Open-DCAs/internal/model"
)

func snapshotAt(ts time.Time, buyOrders int) *model.Snapshot {
	return &model.Snapshot{
		Timestamp: ts,
		Charts: map[string]model.ChartPoint{
			"LOGOS": {
				Token:     "LOGOS",
				Timestamp: ts,
				BuyOrders: buyOrders,
				BuyVolume: decimal.NewFromInt(int64(buyOrders)),
			},
		},
	}
}

func TestSnapshotStore_LatestReplaced(t *testing.T) {
	s := NewSnapshotStore(10)
	assert.Nil(t, s.Latest())

	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	s.Set(snapshotAt(base, 1))
	s.Set(snapshotAt(base.Add(5*time.Second), 2))

	latest := s.Latest()
	assert.Equal(t, base.Add(5*time.Second), latest.Timestamp)
	assert.Len(t, s.History("LOGOS", 0), 2)
}

func TestSnapshotStore_HistoryBounded(t *testing.T) {
	s := NewSnapshotStore(3)
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		s.Set(snapshotAt(base.Add(time.Duration(i)*time.Second), i))
	}

	points := s.History("LOGOS", 0)
	assert.Len(t, points, 3)
	// Oldest entries are evicted first.
	assert.Equal(t, 2, points[0].BuyOrders)
	assert.Equal(t, 4, points[2].BuyOrders)

	limited := s.History("LOGOS", 2)
	assert.Len(t, limited, 2)
	assert.Equal(t, 4, limited[1].BuyOrders)
}

func TestSnapshotStore_FailedSnapshotSkipsHistory(t *testing.T) {
	s := NewSnapshotStore(10)
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	s.Set(snapshotAt(base, 1))
	s.Set(&model.Snapshot{Timestamp: base.Add(time.Second), Error: "fetch failed"})

	// The error is visible in the latest view but the chart is untouched.
	assert.True(t, s.Latest().Failed())
	assert.Len(t, s.History("LOGOS", 0), 1)
}

func TestSnapshotStore_UnknownTokenEmpty(t *testing.T) {
	s := NewSnapshotStore(10)
	assert.Empty(t, s.History("CHAOS", 0))
}
