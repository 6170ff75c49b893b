/**
 * @description
 * Event payloads exchanged with the rest of the platform over RabbitMQ.
 * Outbound case outcomes are published through the outbox; inbound flagged
 * transactions open new cases via the consumer.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// CaseOutcomeEvent is published on the `fraud.events` exchange when a case is
// resolved, with routing key `case.review.<status>`.
type CaseOutcomeEvent struct {
	CaseID        uuid.UUID `json:"case_id"`
	CustomerName  string    `json:"customer_name"`
	MaskedCard    string    `json:"masked_card"`
	AmountCents   int64     `json:"amount_cents"`
	MerchantName  string    `json:"merchant_name"`
	Location      string    `json:"location"`
	Status        string    `json:"status"`
	OutcomeNote   string    `json:"outcome_note"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

// FlaggedTransactionEvent is consumed from the `transaction.flagged` routing
// key. Upstream scoring emits one per suspicious transaction; Reference is
// the upstream identifier used for dedupe.
type FlaggedTransactionEvent struct {
	Reference        string `json:"reference"`
	LookupKey        string `json:"lookup_key"`
	CustomerName     string `json:"customer_name"`
	MaskedCard       string `json:"masked_card"`
	AmountCents      int64  `json:"amount_cents"`
	MerchantName     string `json:"merchant_name"`
	Location         string `json:"location"`
	SecurityQuestion string `json:"security_question"`
	SecurityAnswer   string `json:"security_answer"`
	FlaggedAt        string `json:"flagged_at,omitempty"`
}
