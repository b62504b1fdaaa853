package scheduler

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSPublisher emits job status transitions on a NATS subject so other
// processes can watch ingestion progress.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher connects to NATS. Reconnects are handled by the
// client; a publish during an outage is dropped with a log line.
func NewNATSPublisher(url, subject string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}, nil
}

type jobEvent struct {
	JobID      string    `json:"job_id"`
	Kind       string    `json:"kind"`
	Status     Status    `json:"status"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (p *NATSPublisher) JobStatusChanged(rec Record) {
	data, err := json.Marshal(jobEvent{
		JobID:      rec.ID,
		Kind:       rec.Kind,
		Status:     rec.Status,
		Attempts:   rec.Attempts,
		Error:      rec.Error,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		p.logger.Warn("publishing job event failed",
			zap.String("job_id", rec.ID),
			zap.Error(err),
		)
	}
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	p.conn.Close()
}
