/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the fraud-review-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/omnibank/fraud-review-service/internal/domain"
)

var (
	ErrCaseNotFound        = errors.New("fraud case not found")
	ErrCaseNotPending      = errors.New("fraud case is not pending review")
	ErrCaseAlreadyExists   = errors.New("fraud case already exists for reference")
	ErrVerificationMissing = errors.New("verification state not found")
)

// VerificationState carries the failed-attempt counters for a case.
type VerificationState struct {
	CaseID         uuid.UUID
	FailedAttempts int
	LockedUntil    *time.Time
}

// OutboxMessage is a pending event row awaiting publication to RabbitMQ.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
	CreatedAt  time.Time
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Case seeding and intake
	SeedCases(ctx context.Context, seeds []domain.CaseSeed) (inserted int, err error)
	CreateCase(ctx context.Context, record *domain.CaseRecord) error

	// Case lookup and review
	FindPendingCaseByLookupKey(ctx context.Context, key string) (*domain.CaseRecord, error)
	FindCaseByID(ctx context.Context, caseID uuid.UUID) (*domain.CaseRecord, error)
	FindCaseBySourceReference(ctx context.Context, reference string) (*domain.CaseRecord, error)
	ListCases(ctx context.Context, opts domain.CaseListOptions) ([]domain.CaseRecord, error)

	// Security verification state
	RecordFailedVerificationAttempt(ctx context.Context, caseID uuid.UUID, maxAttempts int, lockoutDurationSeconds int) (*VerificationState, error)
	MarkCaseVerified(ctx context.Context, caseID uuid.UUID) error

	// Resolution
	ResolveCase(ctx context.Context, caseID uuid.UUID, status string, outcomeNote string) (*domain.CaseRecord, error)

	// Outbox
	EnqueueOutboxMessage(ctx context.Context, exchange string, routingKey string, payload []byte) error
	ClaimOutboxMessages(ctx context.Context, batchSize int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, messageID int64) error
	MarkOutboxFailed(ctx context.Context, messageID int64, retryAfterSeconds int, lastError string) error
}
