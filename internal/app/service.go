/**
 * @description
 * This file contains the core business logic for the fraud-review-service. The
 * `Service` struct orchestrates the verification call flow, coordinating
 * between the database repository, the event outbox, and the outcome audit log.
 *
 * Key features:
 * - Implements the three call-flow use cases: case lookup by spoken caller
 *   name, security-answer verification with attempt lockout, and the final
 *   yes/no transaction confirmation.
 * - Resolution is one-way: a confirmed case never transitions again, and a
 *   replayed confirmation reports the recorded outcome instead of mutating it.
 * - Writes case outcomes to the Postgres outbox for asynchronous publication
 *   and appends a JSON-lines audit entry per resolution.
 *
 * @dependencies
 * - context, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store: For domain models and data access.
 */

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

var (
	ErrVerificationLocked  = errors.New("verification locked after repeated failures")
	ErrNotVerified         = errors.New("security verification has not passed for this case")
	ErrInvalidConfirmation = errors.New("confirmation must be yes or no")
)

// Service provides the core business logic for fraud case review.
type Service struct {
	repo            store.Repository
	audit           *AuditLog
	eventsExchange  string
	maxAttempts     int
	lockoutSeconds  int
	rateLimiter     RateLimiter
	lookupPerMinute int
	verifyPerMinute int
}

// RateLimiter is the contract for distributed request throttling. A nil
// limiter disables throttling entirely.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// NewService creates a new fraud review service instance.
func NewService(repo store.Repository, audit *AuditLog, eventsExchange string, maxAttempts int, lockoutSeconds int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if lockoutSeconds <= 0 {
		lockoutSeconds = 600
	}
	return &Service{
		repo:           repo,
		audit:          audit,
		eventsExchange: eventsExchange,
		maxAttempts:    maxAttempts,
		lockoutSeconds: lockoutSeconds,
	}
}

// SetRateLimiter installs a distributed rate limiter for the caller-facing
// lookup and verify endpoints.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.rateLimiter = limiter
}

// ConfigureRateLimits sets the per-minute budgets for lookup and verify.
func (s *Service) ConfigureRateLimits(lookupPerMinute, verifyPerMinute int) {
	s.lookupPerMinute = lookupPerMinute
	s.verifyPerMinute = verifyPerMinute
}

// ConsumeLookupLimit charges one lookup against the subject's budget. It
// returns limited=true with a retry-after hint when the budget is exhausted.
// Limiter errors fail open: a Redis outage must not take down the call flow.
func (s *Service) ConsumeLookupLimit(ctx context.Context, subject string) (limited bool, retryAfterSeconds int) {
	return s.consumeLimit(ctx, "case_lookup", subject, s.lookupPerMinute)
}

// ConsumeVerifyLimit charges one verification against the subject's budget.
func (s *Service) ConsumeVerifyLimit(ctx context.Context, subject string) (limited bool, retryAfterSeconds int) {
	return s.consumeLimit(ctx, "answer_verify", subject, s.verifyPerMinute)
}

func (s *Service) consumeLimit(ctx context.Context, scope, subject string, limit int) (bool, int) {
	if s.rateLimiter == nil || limit <= 0 {
		return false, 0
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, scope, subject, limit, time.Minute)
	if err != nil {
		log.Printf("level=warn component=app scope=%s msg=\"rate limiter unavailable; allowing request\" err=%v", scope, err)
		return false, 0
	}
	if count > limit {
		return true, retryAfter
	}
	return false, 0
}

// LookupCase finds the pending case for a caller. The captured name is
// lowercased and split on whitespace, and each word is matched against the
// lookup keys; the first hit wins. This tolerates callers giving their full
// name when the case is keyed on a first name or alias.
func (s *Service) LookupCase(ctx context.Context, callerName string) (*domain.CaseSummary, error) {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(callerName)))
	if len(words) == 0 {
		return nil, store.ErrCaseNotFound
	}

	for _, word := range words {
		word = strings.Trim(word, "*_.,")
		if word == "" {
			continue
		}
		c, err := s.repo.FindPendingCaseByLookupKey(ctx, word)
		if err != nil {
			if errors.Is(err, store.ErrCaseNotFound) {
				continue
			}
			return nil, fmt.Errorf("case lookup for %q: %w", word, err)
		}
		log.Printf("level=info component=app op=lookup_case outcome=loaded case_id=%s key=%s", c.ID, c.LookupKey)
		return &domain.CaseSummary{
			CaseID:           c.ID,
			CustomerName:     c.CustomerName,
			MaskedCard:       c.MaskedCard,
			AmountDisplay:    c.AmountDisplay,
			MerchantName:     c.MerchantName,
			Location:         c.Location,
			FlaggedAt:        c.FlaggedAt,
			SecurityQuestion: c.SecurityQuestion,
		}, nil
	}
	return nil, store.ErrCaseNotFound
}

// VerifySecurityAnswer checks the caller's response against the stored
// security answer. Answers are compared case-insensitively after trimming;
// stored answers are lowercased in the source table. A wrong answer charges
// the atomic failure counter, and reaching the threshold locks the case.
func (s *Service) VerifySecurityAnswer(ctx context.Context, caseID uuid.UUID, answer string) (*domain.VerifyAnswerResult, error) {
	c, err := s.repo.FindCaseByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CaseStatusPendingReview {
		return nil, store.ErrCaseNotPending
	}
	if c.LockedUntil != nil && c.LockedUntil.After(time.Now()) {
		return nil, ErrVerificationLocked
	}

	if strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(c.SecurityAnswer)) {
		if err := s.repo.MarkCaseVerified(ctx, caseID); err != nil {
			return nil, fmt.Errorf("mark case verified: %w", err)
		}
		log.Printf("level=info component=app op=verify_answer outcome=verified case_id=%s", caseID)
		return &domain.VerifyAnswerResult{
			Verified:           true,
			TransactionDetails: transactionReadback(c),
		}, nil
	}

	state, err := s.repo.RecordFailedVerificationAttempt(ctx, caseID, s.maxAttempts, s.lockoutSeconds)
	if err != nil {
		return nil, fmt.Errorf("record failed attempt: %w", err)
	}
	if state.LockedUntil != nil && state.LockedUntil.After(time.Now()) {
		log.Printf("level=warn component=app op=verify_answer outcome=locked case_id=%s attempts=%d", caseID, state.FailedAttempts)
		return nil, ErrVerificationLocked
	}

	remaining := s.maxAttempts - state.FailedAttempts
	if remaining < 0 {
		remaining = 0
	}
	log.Printf("level=info component=app op=verify_answer outcome=rejected case_id=%s attempts=%d remaining=%d", caseID, state.FailedAttempts, remaining)
	return &domain.VerifyAnswerResult{Verified: false, AttemptsRemaining: remaining}, nil
}

// transactionReadback phrases the suspicious transaction for read-back to the
// caller once verification has passed.
func transactionReadback(c *domain.CaseRecord) string {
	return fmt.Sprintf("a purchase of %s at %s in %s on %s using card number %s",
		c.AmountDisplay, c.MerchantName, c.Location,
		c.FlaggedAt.Format("Jan 2, 2006, 3:04 PM MST"), c.MaskedCard)
}

// ConfirmTransaction records the caller's final yes/no answer. Yes marks the
// transaction legitimate; no marks it fraudulent, blocks the card, and raises
// a dispute. The outcome is written to the event outbox and the audit log.
// Confirming an already-resolved case returns the recorded outcome without
// side effects.
func (s *Service) ConfirmTransaction(ctx context.Context, caseID uuid.UUID, madeTransaction string) (*domain.ConfirmTransactionResult, error) {
	var status, note, message string
	switch strings.ToLower(strings.TrimSpace(madeTransaction)) {
	case "yes":
		status = domain.CaseStatusConfirmedSafe
		note = "Customer confirmed transaction as legitimate."
		message = "Thank you. The transaction has been marked as legitimate and your card is safe to use."
	case "no":
		status = domain.CaseStatusConfirmedFraud
		note = "Customer denied transaction. Card blocked and dispute raised."
		message = "Thank you for confirming. The transaction has been marked as fraudulent. We have immediately blocked your card and initiated a dispute. A new card will be sent to you in 3-5 business days."
	default:
		return nil, ErrInvalidConfirmation
	}

	c, err := s.repo.FindCaseByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status == domain.CaseStatusPendingReview && c.VerifiedAt == nil {
		return nil, ErrNotVerified
	}

	resolved, err := s.repo.ResolveCase(ctx, caseID, status, note)
	if err != nil {
		if errors.Is(err, store.ErrCaseNotPending) && resolved != nil {
			// Replayed confirmation: report what was already recorded.
			log.Printf("level=info component=app op=confirm_transaction outcome=replay case_id=%s status=%s", caseID, resolved.Status)
			return &domain.ConfirmTransactionResult{
				CaseID:      resolved.ID,
				Status:      resolved.Status,
				OutcomeNote: resolved.OutcomeNote,
				Message:     "This case has already been resolved.",
			}, nil
		}
		return nil, fmt.Errorf("resolve case: %w", err)
	}

	log.Printf("level=info component=app op=confirm_transaction outcome=%s case_id=%s", status, caseID)

	s.enqueueOutcomeEvent(ctx, resolved)
	s.appendAuditEntry(resolved)

	return &domain.ConfirmTransactionResult{
		CaseID:      resolved.ID,
		Status:      resolved.Status,
		OutcomeNote: resolved.OutcomeNote,
		Message:     message,
	}, nil
}

// enqueueOutcomeEvent stores the outcome in the outbox for the dispatcher.
// Failures are logged and swallowed: the resolution itself is already durable.
func (s *Service) enqueueOutcomeEvent(ctx context.Context, c *domain.CaseRecord) {
	event := domain.CaseOutcomeEvent{
		CaseID:       c.ID,
		CustomerName: c.CustomerName,
		MaskedCard:   c.MaskedCard,
		AmountCents:  c.AmountCents,
		MerchantName: c.MerchantName,
		Location:     c.Location,
		Status:       c.Status,
		OutcomeNote:  c.OutcomeNote,
		ResolvedAt:   c.UpdatedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("level=error component=app msg=\"outcome event marshal failed\" case_id=%s err=%v", c.ID, err)
		return
	}
	routingKey := "case.review." + c.Status
	if err := s.repo.EnqueueOutboxMessage(ctx, s.eventsExchange, routingKey, payload); err != nil {
		log.Printf("level=warn component=app msg=\"outcome event enqueue failed\" case_id=%s err=%v", c.ID, err)
	}
}

func (s *Service) appendAuditEntry(c *domain.CaseRecord) {
	if s.audit == nil {
		return
	}
	entry := CaseAuditEntry{
		CaseID:       c.ID,
		CustomerName: c.CustomerName,
		MaskedCard:   c.MaskedCard,
		Amount:       c.AmountDisplay,
		MerchantName: c.MerchantName,
		Location:     c.Location,
		FinalStatus:  c.Status,
		OutcomeNote:  c.OutcomeNote,
		ResolvedAt:   c.UpdatedAt,
	}
	if err := s.audit.Append(entry); err != nil {
		log.Printf("level=warn component=app msg=\"audit append failed\" case_id=%s err=%v", c.ID, err)
	}
}

// ListCases returns cases for operator review.
func (s *Service) ListCases(ctx context.Context, opts domain.CaseListOptions) ([]domain.CaseRecord, error) {
	return s.repo.ListCases(ctx, opts)
}

// GetCase returns a single case by ID for operator review.
func (s *Service) GetCase(ctx context.Context, caseID uuid.UUID) (*domain.CaseRecord, error) {
	return s.repo.FindCaseByID(ctx, caseID)
}
