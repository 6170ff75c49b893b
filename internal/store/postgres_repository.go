/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to fraud cases, verification state, and the event outbox.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/omnibank/fraud-review-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const caseColumns = `
	id, lookup_key, customer_name, masked_card, amount_cents, amount_display,
	merchant_name, location, security_question, security_answer, status,
	outcome_note, source_reference, failed_attempts, locked_until, verified_at,
	flagged_at, created_at, updated_at
`

func scanCase(row pgx.Row) (*domain.CaseRecord, error) {
	var c domain.CaseRecord
	err := row.Scan(
		&c.ID, &c.LookupKey, &c.CustomerName, &c.MaskedCard, &c.AmountCents, &c.AmountDisplay,
		&c.MerchantName, &c.Location, &c.SecurityQuestion, &c.SecurityAnswer, &c.Status,
		&c.OutcomeNote, &c.SourceReference, &c.FailedAttempts, &c.LockedUntil, &c.VerifiedAt,
		&c.FlaggedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCaseNotFound
		}
		return nil, err
	}
	return &c, nil
}

// SeedCases inserts the hand-authored case table idempotently. Rows whose
// lookup key already exists are left untouched, so re-deploys do not reset
// resolved cases back to pending.
func (r *PostgresRepository) SeedCases(ctx context.Context, seeds []domain.CaseSeed) (int, error) {
	query := `
		INSERT INTO fraud_cases (
			id, lookup_key, customer_name, masked_card, amount_cents, amount_display,
			merchant_name, location, security_question, security_answer, status,
			flagged_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW(), NOW())
		ON CONFLICT (lookup_key) DO NOTHING
	`

	inserted := 0
	for _, seed := range seeds {
		tag, err := r.db.Exec(ctx, query,
			uuid.New(), seed.Key, seed.CustomerName, seed.MaskedCard, seed.AmountCents,
			seed.TransactionAmount, seed.MerchantName, seed.Location,
			seed.SecurityQuestion, seed.CorrectAnswer, domain.CaseStatusPendingReview,
		)
		if err != nil {
			return inserted, fmt.Errorf("seed case %q: %w", seed.Key, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// CreateCase inserts a new pending case opened by the flagged-transaction
// consumer. A unique violation on source_reference means the event was a
// redelivery and is reported as ErrCaseAlreadyExists.
func (r *PostgresRepository) CreateCase(ctx context.Context, record *domain.CaseRecord) error {
	query := `
		INSERT INTO fraud_cases (
			id, lookup_key, customer_name, masked_card, amount_cents, amount_display,
			merchant_name, location, security_question, security_answer, status,
			source_reference, flagged_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query,
		record.ID, record.LookupKey, record.CustomerName, record.MaskedCard,
		record.AmountCents, record.AmountDisplay, record.MerchantName, record.Location,
		record.SecurityQuestion, record.SecurityAnswer, record.Status,
		record.SourceReference, record.FlaggedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrCaseAlreadyExists
		}
		return err
	}
	return nil
}

// FindPendingCaseByLookupKey retrieves a pending-review case by its lookup key,
// case-insensitively and tolerant of surrounding whitespace.
func (r *PostgresRepository) FindPendingCaseByLookupKey(ctx context.Context, key string) (*domain.CaseRecord, error) {
	query := `SELECT ` + caseColumns + ` FROM fraud_cases
		WHERE lower(btrim(lookup_key)) = lower(btrim($1)) AND status = $2`
	return scanCase(r.db.QueryRow(ctx, query, key, domain.CaseStatusPendingReview))
}

// FindCaseByID retrieves a case by its ID regardless of status.
func (r *PostgresRepository) FindCaseByID(ctx context.Context, caseID uuid.UUID) (*domain.CaseRecord, error) {
	query := `SELECT ` + caseColumns + ` FROM fraud_cases WHERE id = $1`
	return scanCase(r.db.QueryRow(ctx, query, caseID))
}

// FindCaseBySourceReference retrieves a case by its upstream event reference.
func (r *PostgresRepository) FindCaseBySourceReference(ctx context.Context, reference string) (*domain.CaseRecord, error) {
	query := `SELECT ` + caseColumns + ` FROM fraud_cases WHERE source_reference = $1`
	return scanCase(r.db.QueryRow(ctx, query, reference))
}

// ListCases returns cases for operator review, newest first.
func (r *PostgresRepository) ListCases(ctx context.Context, opts domain.CaseListOptions) ([]domain.CaseRecord, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + caseColumns + ` FROM fraud_cases
		WHERE ($1 = '' OR status = $1)
		ORDER BY flagged_at DESC, created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, opts.Status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []domain.CaseRecord
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	return cases, rows.Err()
}

// RecordFailedVerificationAttempt atomically increments the failed-attempt
// counter and applies the lockout window when the threshold is reached. An
// expired lockout restarts the count at one.
func (r *PostgresRepository) RecordFailedVerificationAttempt(ctx context.Context, caseID uuid.UUID, maxAttempts int, lockoutDurationSeconds int) (*VerificationState, error) {
	var state VerificationState
	query := `
		UPDATE fraud_cases
		SET
			failed_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= NOW() THEN 1
				ELSE failed_attempts + 1
			END,
			locked_until = CASE
				WHEN (
					CASE
						WHEN locked_until IS NOT NULL AND locked_until <= NOW() THEN 1
						ELSE failed_attempts + 1
					END
				) >= $2 THEN NOW() + ($3 * INTERVAL '1 second')
				ELSE NULL
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING id, failed_attempts, locked_until
	`
	err := r.db.QueryRow(ctx, query, caseID, maxAttempts, lockoutDurationSeconds).Scan(
		&state.CaseID, &state.FailedAttempts, &state.LockedUntil,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCaseNotFound
		}
		return nil, err
	}
	return &state, nil
}

// MarkCaseVerified clears the failure counters and stamps the successful
// verification time.
func (r *PostgresRepository) MarkCaseVerified(ctx context.Context, caseID uuid.UUID) error {
	query := `
		UPDATE fraud_cases
		SET failed_attempts = 0, locked_until = NULL, verified_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, caseID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCaseNotFound
	}
	return nil
}

// ResolveCase transitions a pending case to a terminal status. The status
// guard in the WHERE clause makes replayed confirmations no-ops at the SQL
// level; the caller distinguishes "missing" from "already resolved".
func (r *PostgresRepository) ResolveCase(ctx context.Context, caseID uuid.UUID, status string, outcomeNote string) (*domain.CaseRecord, error) {
	query := `
		UPDATE fraud_cases
		SET status = $2, outcome_note = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING ` + caseColumns
	c, err := scanCase(r.db.QueryRow(ctx, query, caseID, status, outcomeNote, domain.CaseStatusPendingReview))
	if err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			// Either the case does not exist or it is already resolved.
			existing, lookupErr := r.FindCaseByID(ctx, caseID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing.Status != domain.CaseStatusPendingReview {
				return existing, ErrCaseNotPending
			}
			return nil, err
		}
		return nil, err
	}
	return c, nil
}

// EnqueueOutboxMessage stores an event for the dispatcher to publish.
func (r *PostgresRepository) EnqueueOutboxMessage(ctx context.Context, exchange string, routingKey string, payload []byte) error {
	query := `
		INSERT INTO case_event_outbox (exchange, routing_key, payload, status, attempts, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', 0, NOW(), NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query, exchange, routingKey, payload)
	return err
}

// ClaimOutboxMessages marks a batch of due messages as processing and returns
// them. Messages stuck in processing longer than staleAfterSeconds are
// reclaimed, so a crashed dispatcher does not strand events.
func (r *PostgresRepository) ClaimOutboxMessages(ctx context.Context, batchSize int, staleAfterSeconds int) ([]OutboxMessage, error) {
	query := `
		UPDATE case_event_outbox
		SET status = 'processing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM case_event_outbox
			WHERE (status = 'pending' AND next_attempt_at <= NOW())
			   OR (status = 'processing' AND updated_at < NOW() - ($2 * INTERVAL '1 second'))
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, exchange, routing_key, payload, attempts, created_at
	`
	rows, err := r.db.Query(ctx, query, batchSize, staleAfterSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.Exchange, &m.RoutingKey, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkOutboxPublished finalizes a successfully published message.
func (r *PostgresRepository) MarkOutboxPublished(ctx context.Context, messageID int64) error {
	query := `UPDATE case_event_outbox SET status = 'published', updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, messageID)
	return err
}

// MarkOutboxFailed schedules a failed message for retry.
func (r *PostgresRepository) MarkOutboxFailed(ctx context.Context, messageID int64, retryAfterSeconds int, lastError string) error {
	query := `
		UPDATE case_event_outbox
		SET status = 'pending',
			attempts = attempts + 1,
			next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
			last_error = $3,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, messageID, retryAfterSeconds, lastError)
	return err
}
