package app

import (
	"context"
	"errors"
	"testing"

	"github.com/omnibank/fraud-review-service/internal/store"
	"github.com/omnibank/fraud-review-service/pkg/rabbitmq"
)

type outboxRepoStub struct {
	store.Repository

	claimed   []store.OutboxMessage
	published []int64
	failed    map[int64]int
}

func (s *outboxRepoStub) ClaimOutboxMessages(ctx context.Context, batchSize, staleAfterSeconds int) ([]store.OutboxMessage, error) {
	out := s.claimed
	s.claimed = nil
	return out, nil
}

func (s *outboxRepoStub) MarkOutboxPublished(ctx context.Context, messageID int64) error {
	s.published = append(s.published, messageID)
	return nil
}

func (s *outboxRepoStub) MarkOutboxFailed(ctx context.Context, messageID int64, retryAfterSeconds int, lastError string) error {
	if s.failed == nil {
		s.failed = map[int64]int{}
	}
	s.failed[messageID] = retryAfterSeconds
	return nil
}

type fakePublisher struct {
	publishErr error
	exchanges  []string
	keys       []string
	closed     bool
}

func (f *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.exchanges = append(f.exchanges, exchange)
	f.keys = append(f.keys, routingKey)
	return nil
}

func (f *fakePublisher) Close() { f.closed = true }

func newTestDispatcher(repo store.Repository, publisher rabbitmq.Publisher) *OutboxDispatcher {
	d := NewOutboxDispatcher(repo, "amqp://localhost/")
	d.newPublisher = func() (rabbitmq.Publisher, error) { return publisher, nil }
	return d
}

func TestFlushOnce_PublishesAndMarks(t *testing.T) {
	repo := &outboxRepoStub{claimed: []store.OutboxMessage{
		{ID: 1, Exchange: "fraud.events", RoutingKey: "case.review.confirmed_safe", Payload: []byte(`{"case_id":"x"}`)},
		{ID: 2, Exchange: "fraud.events", RoutingKey: "case.review.confirmed_fraud", Payload: []byte(`{"case_id":"y"}`)},
	}}
	publisher := &fakePublisher{}
	d := newTestDispatcher(repo, publisher)

	if err := d.flushOnce(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if len(repo.published) != 2 {
		t.Fatalf("expected 2 published messages, got %d", len(repo.published))
	}
	if publisher.keys[0] != "case.review.confirmed_safe" || publisher.keys[1] != "case.review.confirmed_fraud" {
		t.Fatalf("unexpected routing keys: %v", publisher.keys)
	}
}

func TestFlushOnce_FailedPublishSchedulesRetry(t *testing.T) {
	repo := &outboxRepoStub{claimed: []store.OutboxMessage{
		{ID: 7, Exchange: "fraud.events", RoutingKey: "case.review.confirmed_safe", Payload: []byte(`{}`), Attempts: 3},
	}}
	publisher := &fakePublisher{publishErr: errors.New("broker gone")}
	d := newTestDispatcher(repo, publisher)

	if err := d.flushOnce(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if len(repo.published) != 0 {
		t.Fatal("did not expect any message marked published")
	}
	if repo.failed[7] != 8 {
		t.Fatalf("expected retry delay 8s for attempt 3, got %d", repo.failed[7])
	}
	if !publisher.closed {
		t.Fatal("expected the producer to be dropped after a publish error")
	}
}

func TestFlushOnce_MalformedPayloadIsRescheduled(t *testing.T) {
	repo := &outboxRepoStub{claimed: []store.OutboxMessage{
		{ID: 9, Exchange: "fraud.events", RoutingKey: "case.review.confirmed_safe", Payload: []byte("{not json")},
	}}
	d := newTestDispatcher(repo, &fakePublisher{})

	if err := d.flushOnce(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if _, ok := repo.failed[9]; !ok {
		t.Fatal("expected malformed payload to be marked failed")
	}
}

func TestBackoffSeconds(t *testing.T) {
	tests := []struct {
		attempt int
		want    int
	}{
		{attempt: 0, want: 1},
		{attempt: 1, want: 2},
		{attempt: 3, want: 8},
		{attempt: 8, want: 256},
		{attempt: 9, want: 256},
		{attempt: 50, want: 256},
	}

	for _, tt := range tests {
		if got := backoffSeconds(tt.attempt); got != tt.want {
			t.Fatalf("attempt %d: expected %d, got %d", tt.attempt, tt.want, got)
		}
	}
}
