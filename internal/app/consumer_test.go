package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/omnibank/fraud-review-service/internal/domain"
	"github.com/omnibank/fraud-review-service/internal/store"
)

type consumerRepoStub struct {
	store.Repository

	created      []*domain.CaseRecord
	createErr    error
	createCalled bool
}

func (s *consumerRepoStub) CreateCase(ctx context.Context, record *domain.CaseRecord) error {
	s.createCalled = true
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, record)
	return nil
}

func validEvent() domain.FlaggedTransactionEvent {
	return domain.FlaggedTransactionEvent{
		Reference:        "txn_8891",
		LookupKey:        "Kira",
		CustomerName:     "Kira Vale",
		MaskedCard:       "**** 4242",
		AmountCents:      129999,
		MerchantName:     "Night Market Imports",
		Location:         "Osaka, Japan",
		SecurityQuestion: "What street did you grow up on?",
		SecurityAnswer:   "Willow Lane",
		FlaggedAt:        "2025-11-26T09:30:00Z",
	}
}

func marshalEvent(t *testing.T, event domain.FlaggedTransactionEvent) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return body
}

func TestHandleMessage_OpensPendingCase(t *testing.T) {
	repo := &consumerRepoStub{}
	consumer := NewFlaggedTransactionConsumer(repo)

	if ack := consumer.HandleMessage(marshalEvent(t, validEvent())); !ack {
		t.Fatal("expected ack for valid event")
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one case created, got %d", len(repo.created))
	}

	c := repo.created[0]
	if c.Status != domain.CaseStatusPendingReview {
		t.Fatalf("expected pending_review, got %q", c.Status)
	}
	if c.AmountDisplay != "$1299.99" {
		t.Fatalf("expected amount display $1299.99, got %q", c.AmountDisplay)
	}
	if c.SecurityAnswer != "willow lane" {
		t.Fatalf("expected answer lowercased on intake, got %q", c.SecurityAnswer)
	}
	if c.SourceReference == nil || *c.SourceReference != "txn_8891" {
		t.Fatal("expected source reference to be recorded")
	}
	if c.FlaggedAt.IsZero() || c.FlaggedAt.Format("2006-01-02") != "2025-11-26" {
		t.Fatalf("expected flagged_at from event, got %v", c.FlaggedAt)
	}
}

func TestHandleMessage_AcksMalformedPayload(t *testing.T) {
	repo := &consumerRepoStub{}
	consumer := NewFlaggedTransactionConsumer(repo)

	if ack := consumer.HandleMessage([]byte("{not json")); !ack {
		t.Fatal("expected malformed payload to be acknowledged and dropped")
	}
	if repo.createCalled {
		t.Fatal("did not expect case creation for malformed payload")
	}
}

func TestHandleMessage_DropsEventMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.FlaggedTransactionEvent)
	}{
		{"missing reference", func(e *domain.FlaggedTransactionEvent) { e.Reference = "" }},
		{"missing lookup key", func(e *domain.FlaggedTransactionEvent) { e.LookupKey = " " }},
		{"missing security answer", func(e *domain.FlaggedTransactionEvent) { e.SecurityAnswer = "" }},
		{"negative amount", func(e *domain.FlaggedTransactionEvent) { e.AmountCents = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &consumerRepoStub{}
			consumer := NewFlaggedTransactionConsumer(repo)

			event := validEvent()
			tt.mutate(&event)

			if ack := consumer.HandleMessage(marshalEvent(t, event)); !ack {
				t.Fatal("expected invalid event to be acknowledged and dropped")
			}
			if repo.createCalled {
				t.Fatal("did not expect case creation for invalid event")
			}
		})
	}
}

func TestHandleMessage_AcksDuplicateReference(t *testing.T) {
	repo := &consumerRepoStub{createErr: store.ErrCaseAlreadyExists}
	consumer := NewFlaggedTransactionConsumer(repo)

	if ack := consumer.HandleMessage(marshalEvent(t, validEvent())); !ack {
		t.Fatal("expected redelivery to be acknowledged")
	}
}

func TestHandleMessage_RequeuesOnTransientError(t *testing.T) {
	repo := &consumerRepoStub{createErr: context.DeadlineExceeded}
	consumer := NewFlaggedTransactionConsumer(repo)

	if ack := consumer.HandleMessage(marshalEvent(t, validEvent())); ack {
		t.Fatal("expected transient error to re-queue the delivery")
	}
}
