package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
)

// Event subjects, relative to the publisher prefix.
const (
	SubjectExecutionRecorded     = "executions.recorded"
	SubjectOptimizationRecorded  = "optimizations.recorded"
	SubjectOptimizationApplied   = "optimizations.applied"
	SubjectCriticalInsightRaised = "insights.critical"
)

// EventPublisher broadcasts domain events to other instances and consumers.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload interface{}) error
}

type natsEventPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSEventPublisher publishes JSON events on "<prefix>.<subject>". A nil
// connection yields a publisher that drops every event.
func NewNATSEventPublisher(conn *nats.Conn, prefix string) EventPublisher {
	if conn == nil {
		return noopEventPublisher{}
	}
	return &natsEventPublisher{
		conn:   conn,
		prefix: strings.Trim(strings.ReplaceAll(prefix, ":", "."), "."),
	}
}

func (p *natsEventPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if p.prefix != "" {
		subject = p.prefix + "." + subject
	}
	return p.conn.Publish(subject, data)
}

type noopEventPublisher struct{}

func (noopEventPublisher) Publish(context.Context, string, interface{}) error {
	return nil
}
