package app

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAuditLog_AppendsOneJSONLinePerEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "case_outcomes.jsonl")
	audit := NewAuditLog(path)

	first := CaseAuditEntry{
		CaseID:       uuid.New(),
		CustomerName: "Ravi Sharma",
		MaskedCard:   "**** 6789",
		Amount:       "$150.50",
		MerchantName: "Local Grocery Store",
		Location:     "Mumbai, India",
		FinalStatus:  "confirmed_safe",
		OutcomeNote:  "Customer confirmed transaction as legitimate.",
		ResolvedAt:   time.Now().UTC(),
	}
	second := first
	second.CaseID = uuid.New()
	second.FinalStatus = "confirmed_fraud"

	if err := audit.Append(first); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := audit.Append(second); err != nil {
		t.Fatalf("second append failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open audit file: %v", err)
	}
	defer f.Close()

	var entries []CaseAuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry CaseAuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 audit lines, got %d", len(entries))
	}
	if entries[0].CaseID != first.CaseID || entries[0].FinalStatus != "confirmed_safe" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].CaseID != second.CaseID || entries[1].FinalStatus != "confirmed_fraud" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}
