/**
 * @description
 * This file implements the outbox dispatcher. Case outcome events are written
 * to the case_event_outbox table in the same database as the resolution, and
 * this dispatcher polls that table and publishes due messages to RabbitMQ.
 * Publish failures back off exponentially per message; the broker connection
 * is opened lazily and dropped after an error so the next flush redials.
 *
 * @dependencies
 * - internal/store: Outbox claim and bookkeeping queries.
 * - pkg/rabbitmq: The event producer.
 */

package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/omnibank/fraud-review-service/internal/store"
	"github.com/omnibank/fraud-review-service/pkg/rabbitmq"
)

const (
	outboxBatchSize    = 50
	outboxPollInterval = 1200 * time.Millisecond
	outboxStaleAfter   = 2 * time.Minute
	outboxMaxBackoff   = 300
)

// OutboxDispatcher drains the case event outbox into RabbitMQ.
type OutboxDispatcher struct {
	repo     store.Repository
	producer rabbitmq.Publisher

	// newPublisher opens a broker connection; swapped out in tests.
	newPublisher func() (rabbitmq.Publisher, error)
}

func NewOutboxDispatcher(repo store.Repository, rabbitURL string) *OutboxDispatcher {
	return &OutboxDispatcher{
		repo: repo,
		newPublisher: func() (rabbitmq.Publisher, error) {
			return rabbitmq.NewEventProducer(rabbitURL)
		},
	}
}

// Run polls until the context is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(outboxPollInterval)
	defer ticker.Stop()
	defer d.dropProducer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.flushOnce(ctx); err != nil {
				log.Printf("level=warn component=outbox msg=\"flush error\" err=%v", err)
			}
		}
	}
}

// flushOnce claims one batch of due messages and publishes each. A failed
// publish reschedules the message with capped exponential backoff instead of
// aborting the batch.
func (d *OutboxDispatcher) flushOnce(ctx context.Context) error {
	messages, err := d.repo.ClaimOutboxMessages(ctx, outboxBatchSize, int(outboxStaleAfter.Seconds()))
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	published := 0
	for _, message := range messages {
		if err := d.publish(ctx, message); err != nil {
			_ = d.repo.MarkOutboxFailed(ctx, message.ID, backoffSeconds(message.Attempts), err.Error())
			continue
		}
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			log.Printf("level=warn component=outbox msg=\"failed to mark message published\" message_id=%d err=%v", message.ID, err)
			continue
		}
		published++
	}

	if published < len(messages) {
		log.Printf("level=warn component=outbox msg=\"partial flush\" published=%d claimed=%d", published, len(messages))
	}
	return nil
}

func (d *OutboxDispatcher) publish(ctx context.Context, message store.OutboxMessage) error {
	if d.producer == nil {
		producer, err := d.newPublisher()
		if err != nil {
			return err
		}
		d.producer = producer
	}

	// Payloads are stored as JSON; round-trip through interface{} so the
	// producer re-marshals a clean document.
	var payload interface{}
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		return err
	}

	if err := d.producer.Publish(ctx, message.Exchange, message.RoutingKey, payload); err != nil {
		d.dropProducer()
		return err
	}
	return nil
}

func (d *OutboxDispatcher) dropProducer() {
	if d.producer != nil {
		d.producer.Close()
		d.producer = nil
	}
}

// backoffSeconds doubles per attempt, capped at outboxMaxBackoff.
func backoffSeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	if attempt > 8 {
		attempt = 8
	}
	delay := 1 << attempt
	if delay > outboxMaxBackoff {
		return outboxMaxBackoff
	}
	return delay
}
