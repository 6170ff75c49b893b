package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/omnibank/fraud-review-service/internal/domain"
	"github.com/omnibank/fraud-review-service/internal/store"
)

// FlaggedTransactionConsumer opens new pending-review cases from upstream
// `transaction.flagged` events.
type FlaggedTransactionConsumer struct {
	repo store.Repository
}

func NewFlaggedTransactionConsumer(repo store.Repository) *FlaggedTransactionConsumer {
	return &FlaggedTransactionConsumer{repo: repo}
}

// HandleMessage is the RabbitMQ binding handler. Returning true acknowledges
// the delivery; malformed payloads are acknowledged to drop, transient
// processing errors re-queue.
func (c *FlaggedTransactionConsumer) HandleMessage(body []byte) bool {
	var event domain.FlaggedTransactionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("flagged-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	if err := validateFlaggedEvent(event); err != nil {
		log.Printf("flagged-consumer: dropping invalid event: %v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		log.Printf("flagged-consumer: processing error for reference %s: %v", event.Reference, err)
		return false
	}

	return true
}

func (c *FlaggedTransactionConsumer) processEvent(ctx context.Context, event domain.FlaggedTransactionEvent) error {
	flaggedAt := time.Now().UTC()
	if event.FlaggedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, event.FlaggedAt); err == nil {
			flaggedAt = parsed
		} else {
			log.Printf("flagged-consumer: unparseable flagged_at %q for reference %s; using now", event.FlaggedAt, event.Reference)
		}
	}

	reference := event.Reference
	record := &domain.CaseRecord{
		ID:               uuid.New(),
		LookupKey:        strings.TrimSpace(event.LookupKey),
		CustomerName:     strings.TrimSpace(event.CustomerName),
		MaskedCard:       strings.TrimSpace(event.MaskedCard),
		AmountCents:      event.AmountCents,
		AmountDisplay:    fmt.Sprintf("$%d.%02d", event.AmountCents/100, event.AmountCents%100),
		MerchantName:     strings.TrimSpace(event.MerchantName),
		Location:         strings.TrimSpace(event.Location),
		SecurityQuestion: strings.TrimSpace(event.SecurityQuestion),
		SecurityAnswer:   strings.ToLower(strings.TrimSpace(event.SecurityAnswer)),
		Status:           domain.CaseStatusPendingReview,
		SourceReference:  &reference,
		FlaggedAt:        flaggedAt,
	}

	if err := c.repo.CreateCase(ctx, record); err != nil {
		if errors.Is(err, store.ErrCaseAlreadyExists) {
			log.Printf("flagged-consumer: case already open for reference %s; acknowledging", event.Reference)
			return nil
		}
		return fmt.Errorf("create case: %w", err)
	}

	log.Printf("level=info component=flagged_consumer msg=\"case opened\" case_id=%s reference=%s", record.ID, event.Reference)
	return nil
}

func validateFlaggedEvent(event domain.FlaggedTransactionEvent) error {
	switch {
	case strings.TrimSpace(event.Reference) == "":
		return errors.New("missing reference")
	case strings.TrimSpace(event.LookupKey) == "":
		return errors.New("missing lookup_key")
	case strings.TrimSpace(event.CustomerName) == "":
		return errors.New("missing customer_name")
	case strings.TrimSpace(event.MaskedCard) == "":
		return errors.New("missing masked_card")
	case event.AmountCents < 0:
		return errors.New("negative amount_cents")
	case strings.TrimSpace(event.SecurityQuestion) == "":
		return errors.New("missing security_question")
	case strings.TrimSpace(event.SecurityAnswer) == "":
		return errors.New("missing security_answer")
	}
	return nil
}
