package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event types published for report lifecycle changes.
const (
	EventReportCompleted = "report_completed"
	EventReportFailed    = "report_failed"
	EventReportIndexed   = "report_indexed"
)

// ReportEvent is the JSON document published for a report lifecycle change.
type ReportEvent struct {
	EventType      string    `json:"event_type"`
	ReportID       string    `json:"report_id"`
	OrganizationID string    `json:"organization_id"`
	Kind           string    `json:"kind"`
	Format         string    `json:"format"`
	Status         string    `json:"status"`
	RequestedBy    string    `json:"requested_by"`
	Message        string    `json:"message,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Conn is the subset of *nats.Conn used by the publisher.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends report events to NATS under <prefix>.<event_type>. A publisher
// without a connection drops every event, which lets deployments run without NATS.
type Publisher struct {
	conn   Conn
	prefix string
	logger *zap.Logger
}

// Connect dials NATS. An empty url returns a disabled publisher.
func Connect(url, prefix string, logger *zap.Logger) (*Publisher, func(), error) {
	if url == "" {
		return NewPublisher(nil, prefix, logger), func() {}, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("sitereport-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	closeFn := func() {
		_ = nc.Drain()
	}
	return NewPublisher(nc, prefix, logger), closeFn, nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "sitereport.reports"
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// Enabled reports whether events are actually sent.
func (p *Publisher) Enabled() bool {
	return p != nil && p.conn != nil
}

// Publish marshals and sends one event.
func (p *Publisher) Publish(ctx context.Context, event ReportEvent) error {
	if !p.Enabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal report event: %w", err)
	}
	subject := p.Subject(event.EventType)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("report event published", zap.String("subject", subject), zap.String("report_id", event.ReportID))
	return nil
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(eventType string) string {
	return fmt.Sprintf("%s.%s", p.prefix, eventType)
}
