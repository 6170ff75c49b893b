/**
 * @description
 * Append-only JSON-lines audit log of case resolutions. Every confirmed case
 * produces one line; the file is a local artifact complementing the outbox
 * events and survives broker outages.
 */

package app

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CaseAuditEntry is one line of the outcome audit file.
type CaseAuditEntry struct {
	CaseID       uuid.UUID `json:"case_id"`
	CustomerName string    `json:"customer_name"`
	MaskedCard   string    `json:"masked_card"`
	Amount       string    `json:"transaction_amount"`
	MerchantName string    `json:"merchant_name"`
	Location     string    `json:"location"`
	FinalStatus  string    `json:"final_status"`
	OutcomeNote  string    `json:"outcome_note"`
	ResolvedAt   time.Time `json:"resolved_at"`
}

// AuditLog serializes appends to the outcome file.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

// NewAuditLog creates an audit log writing to the given path. The file is
// created on first append.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Append writes one JSON line. The file is opened per append so log rotation
// by path swap works without coordination.
func (a *AuditLog) Append(entry CaseAuditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}
