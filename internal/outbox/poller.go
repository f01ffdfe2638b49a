// Package outbox relays notification events written by business
// transactions. Delivery is at-least-once: an event is marked processed
// only after the publish succeeds, so a crash between the two replays it.
package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/merced/commerce-core/internal/models"
	"github.com/merced/commerce-core/internal/store"
	"github.com/sirupsen/logrus"
)

// EventSource is the poller's view of the outbox table.
type EventSource interface {
	Unprocessed(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkProcessed(ctx context.Context, eventID int64) error
}

// SQLEventSource reads the outbox table through the store layer.
type SQLEventSource struct {
	DB *sql.DB
}

func (s SQLEventSource) Unprocessed(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	return store.GetUnprocessedEvents(ctx, s.DB, limit)
}

func (s SQLEventSource) MarkProcessed(ctx context.Context, eventID int64) error {
	return store.MarkEventProcessed(ctx, s.DB, eventID)
}

type Poller struct {
	source    EventSource
	publisher Publisher
	interval  time.Duration
	batchSize int
	log       *logrus.Logger
}

func NewPoller(source EventSource, publisher Publisher, interval time.Duration, batchSize int, log *logrus.Logger) *Poller {
	return &Poller{
		source:    source,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		log:       log,
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.ProcessBatch(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessBatch publishes one batch of unprocessed events. A failed
// publish leaves the event untouched for the next tick.
func (p *Poller) ProcessBatch(ctx context.Context) {
	events, err := p.source.Unprocessed(ctx, p.batchSize)
	if err != nil {
		p.log.WithError(err).Error("fetch outbox events")
		return
	}

	for i := range events {
		event := &events[i]

		if err := p.publisher.Publish(ctx, event); err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"event_id":   event.ID,
				"event_type": event.EventType,
			}).Error("publish outbox event")
			continue
		}

		if err := p.source.MarkProcessed(ctx, event.ID); err != nil {
			p.log.WithError(err).WithField("event_id", event.ID).Error("mark outbox event processed")
			continue
		}

		p.log.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": event.EventType,
			"aggregate":  event.AggregateID,
		}).Debug("outbox event published")
	}
}
