/**
 * @description
 * This file defines the core domain models for the fraud-review-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Transaction amounts are stored as `int64` cents alongside the original
 *   display string from the case table, which avoids floating-point
 *   inaccuracies while keeping the hand-authored `$` format intact for
 *   read-back to the caller.
 * - The security answer never leaves the service: it is excluded from JSON
 *   serialization everywhere and only compared inside the app layer.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Case status lifecycle. A case opens in pending review and is resolved
// exactly once; terminal statuses never transition again.
const (
	CaseStatusPendingReview  = "pending_review"
	CaseStatusConfirmedSafe  = "confirmed_safe"
	CaseStatusConfirmedFraud = "confirmed_fraud"
)

// CaseSeed is one hand-authored row of the pending-review case table
// (internal/dataset/cases.md). Field names mirror the table columns.
type CaseSeed struct {
	Key               string // lookup key with emphasis markers stripped
	RawKey            string // key exactly as written in the table
	CustomerName      string
	MaskedCard        string // fixed pattern "**** ####"
	TransactionAmount string // display string, "$" + decimal with two fraction digits
	AmountCents       int64
	MerchantName      string
	Location          string
	SecurityQuestion  string
	CorrectAnswer     string
}

// CaseRecord is the central fraud case entity. It maps directly to the
// `fraud_cases` table in the database.
type CaseRecord struct {
	ID                uuid.UUID  `json:"id"`
	LookupKey         string     `json:"lookup_key"`
	CustomerName      string     `json:"customer_name"`
	MaskedCard        string     `json:"masked_card"`
	AmountCents       int64      `json:"amount_cents"`
	AmountDisplay     string     `json:"amount_display"`
	MerchantName      string     `json:"merchant_name"`
	Location          string     `json:"location"`
	SecurityQuestion  string     `json:"security_question"`
	SecurityAnswer    string     `json:"-"`
	Status            string     `json:"status"`
	OutcomeNote       string     `json:"outcome_note,omitempty"`
	SourceReference   *string    `json:"source_reference,omitempty"`
	FailedAttempts    int        `json:"-"`
	LockedUntil       *time.Time `json:"-"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	FlaggedAt         time.Time  `json:"flagged_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// LookupCaseRequest is the DTO for the case lookup API endpoint. The caller
// name is whatever the front-line agent captured, so it may contain the full
// spoken name rather than the exact lookup key.
type LookupCaseRequest struct {
	CallerName string `json:"caller_name"`
}

// CaseSummary is the lookup response: enough for the agent to frame the call
// and ask the security question, and nothing that would let a caller pass
// verification without answering it.
type CaseSummary struct {
	CaseID           uuid.UUID `json:"case_id"`
	CustomerName     string    `json:"customer_name"`
	MaskedCard       string    `json:"masked_card"`
	AmountDisplay    string    `json:"amount_display"`
	MerchantName     string    `json:"merchant_name"`
	Location         string    `json:"location"`
	FlaggedAt        time.Time `json:"flagged_at"`
	SecurityQuestion string    `json:"security_question"`
}

// VerifyAnswerRequest is the DTO for the security verification endpoint.
type VerifyAnswerRequest struct {
	Answer string `json:"answer"`
}

// VerifyAnswerResult reports the verification outcome. TransactionDetails is
// only populated on success and is phrased for read-back to the caller.
type VerifyAnswerResult struct {
	Verified           bool   `json:"verified"`
	AttemptsRemaining  int    `json:"attempts_remaining"`
	TransactionDetails string `json:"transaction_details,omitempty"`
}

// ConfirmTransactionRequest is the DTO for the final confirmation endpoint.
// MadeTransaction is the caller's yes/no answer to "did you make this
// transaction?".
type ConfirmTransactionRequest struct {
	MadeTransaction string `json:"made_transaction"`
}

// ConfirmTransactionResult carries the final status and the closing message
// the agent reads back before ending the call.
type ConfirmTransactionResult struct {
	CaseID      uuid.UUID `json:"case_id"`
	Status      string    `json:"status"`
	OutcomeNote string    `json:"outcome_note"`
	Message     string    `json:"message"`
}

// CaseListOptions controls pagination and filtering for operator review.
type CaseListOptions struct {
	Status string
	Limit  int
	Offset int
}
