package app

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/hellolucient/Open-DCAs/internal/infrastructure"
	"github.com/hellolucient/Open-DCAs/internal/model"
	"github.com/hellolucient/Open-DCAs/internal/store"
)

// snapshotSink receives every published snapshot from the poll controller
// and fans it out: the in-memory store serves the REST API, JetStream feeds
// the websocket push gateway. Chart points go out per token so clients can
// subscribe to a single token's series.
type snapshotSink struct {
	js        nats.JetStreamContext
	snapshots *store.SnapshotStore
	logger    *zap.Logger
}

func newSnapshotSink(js nats.JetStreamContext, snapshots *store.SnapshotStore, logger *zap.Logger) *snapshotSink {
	return &snapshotSink{
		js:        js,
		snapshots: snapshots,
		logger:    logger,
	}
}

func (s *snapshotSink) Publish(snapshot *model.Snapshot) {
	s.snapshots.Set(snapshot)

	data, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Error("failed to marshal snapshot", zap.Error(err))
		return
	}
	if _, err := s.js.Publish(infrastructure.SubjectSnapshot, data); err != nil {
		s.logger.Error("failed to publish snapshot", zap.Error(err))
	}

	if snapshot.Failed() {
		return
	}

	for token, point := range snapshot.Charts {
		payload, err := json.Marshal(point)
		if err != nil {
			s.logger.Error("failed to marshal chart point", zap.String("token", token), zap.Error(err))
			continue
		}
		subject := infrastructure.SubjectChart + "." + token
		if _, err := s.js.Publish(subject, payload); err != nil {
			s.logger.Error("failed to publish chart point", zap.String("subject", subject), zap.Error(err))
		}
	}
}
