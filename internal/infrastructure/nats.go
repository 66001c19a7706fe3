package infrastructure

import (
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	StreamName      = "DCA"
	SubjectSnapshot = "dca.snapshot"
	SubjectChart    = "dca.chart" // one child subject per tracked token
)

func InitNATS(url string, logger *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, nil, err
	}

	cfg := &nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectSnapshot, SubjectChart + ".*"},
	}

	// Create stream if it doesn't exist
	if _, err = js.AddStream(cfg); err != nil {
		// If stream exists, we might need to update it
		if _, err = js.UpdateStream(cfg); err != nil {
			logger.Warn("failed to create or update stream", zap.Error(err))
		}
	}

	return nc, js, nil
}
