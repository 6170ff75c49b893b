/**
 * @description
 * This package owns the hand-authored pending-review case table. The table is
 * a static markdown document (cases.md) embedded into the binary: a header
 * row, a separator row, and one pipe-separated row per case. This file parses
 * the document into seed records and enforces its data-quality invariants.
 *
 * The document is the single source of truth for the simulated case load; the
 * service never mutates it. Rows are seeded into Postgres at boot.
 *
 * @dependencies
 * - embed, strings, regexp, strconv: Standard Go libraries. The format is a
 *   fixed two-delimiter-row pipe table, so splitting is done by hand rather
 *   than through a full markdown parser.
 * - internal/domain: The seed record type.
 */

package dataset

import (
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/omnibank/fraud-review-service/internal/domain"
)

//go:embed cases.md
var casesMarkdown string

const columnCount = 8

var (
	maskedCardPattern = regexp.MustCompile(`^\*\*\*\* \d{4}$`)
	amountPattern     = regexp.MustCompile(`^\$\d+\.\d{2}$`)
)

// Load parses the embedded case table and validates every row. It returns an
// error if the document violates any of its invariants, so a bad edit to
// cases.md fails the service at boot rather than surfacing mid-call.
func Load() ([]domain.CaseSeed, error) {
	seeds, err := parse(casesMarkdown)
	if err != nil {
		return nil, err
	}
	if err := Validate(seeds); err != nil {
		return nil, err
	}
	return seeds, nil
}

// parse extracts data rows from the markdown document. Anything that is not a
// pipe-delimited row is ignored; the header and separator rows are skipped by
// position.
func parse(doc string) ([]domain.CaseSeed, error) {
	var seeds []domain.CaseSeed
	tableRow := 0

	for lineNo, line := range strings.Split(doc, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "|") {
			continue
		}
		tableRow++
		// Row 1 is the header, row 2 the separator.
		if tableRow <= 2 {
			continue
		}

		cells := splitRow(trimmed)
		if len(cells) != columnCount {
			return nil, fmt.Errorf("cases.md line %d: expected %d columns, got %d", lineNo+1, columnCount, len(cells))
		}

		rawKey := cells[0]
		amountDisplay := cells[3]
		cents, err := parseAmountCents(amountDisplay)
		if err != nil {
			return nil, fmt.Errorf("cases.md line %d: %w", lineNo+1, err)
		}

		seeds = append(seeds, domain.CaseSeed{
			Key:               StripEmphasis(rawKey),
			RawKey:            rawKey,
			CustomerName:      cells[1],
			MaskedCard:        cells[2],
			TransactionAmount: amountDisplay,
			AmountCents:       cents,
			MerchantName:      cells[4],
			Location:          cells[5],
			SecurityQuestion:  cells[6],
			CorrectAnswer:     cells[7],
		})
	}

	if len(seeds) == 0 {
		return nil, fmt.Errorf("cases.md contains no data rows")
	}
	return seeds, nil
}

// splitRow splits a markdown table row into trimmed cells, dropping the empty
// fragments produced by the leading and trailing pipes.
func splitRow(row string) []string {
	parts := strings.Split(row, "|")
	if len(parts) > 0 && strings.TrimSpace(parts[0]) == "" {
		parts = parts[1:]
	}
	if len(parts) > 0 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}

// StripEmphasis removes markdown emphasis markers from a lookup key. A few
// rows carry keys written as *Shadow* or _Luna_; the emphasis is treated as
// formatting, not identity, so both forms resolve to the same case.
func StripEmphasis(key string) string {
	return strings.Trim(strings.TrimSpace(key), "*_")
}

// parseAmountCents converts a "$1234.56" display string into cents. Stray
// thousands separators are tolerated here even though Validate rejects them,
// so callers that feed amounts from other sources still get a usable value.
func parseAmountCents(display string) (int64, error) {
	s := strings.TrimSpace(display)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	whole, frac, ok := strings.Cut(s, ".")
	if !ok || len(frac) != 2 {
		return 0, fmt.Errorf("malformed transaction amount %q", display)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed transaction amount %q", display)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed transaction amount %q", display)
	}
	return units*100 + cents, nil
}

// Validate enforces the table's data-quality invariants:
// unique lookup keys, the fixed card-masking pattern, the `$` two-fraction-digit
// amount format, and no empty field in any row.
func Validate(seeds []domain.CaseSeed) error {
	seen := make(map[string]string, len(seeds))

	for i, seed := range seeds {
		rowLabel := fmt.Sprintf("row %d (key %q)", i+1, seed.RawKey)

		fields := map[string]string{
			"key":                seed.Key,
			"customer_name":      seed.CustomerName,
			"masked_card":        seed.MaskedCard,
			"transaction_amount": seed.TransactionAmount,
			"merchant_name":      seed.MerchantName,
			"location":           seed.Location,
			"security_question":  seed.SecurityQuestion,
			"correct_answer":     seed.CorrectAnswer,
		}
		for name, value := range fields {
			if strings.TrimSpace(value) == "" {
				return fmt.Errorf("%s: empty %s", rowLabel, name)
			}
		}

		if !maskedCardPattern.MatchString(seed.MaskedCard) {
			return fmt.Errorf("%s: masked_card %q does not match \"**** ####\"", rowLabel, seed.MaskedCard)
		}
		if !amountPattern.MatchString(seed.TransactionAmount) {
			return fmt.Errorf("%s: transaction_amount %q is not $ followed by a decimal with two fraction digits", rowLabel, seed.TransactionAmount)
		}

		if prior, dup := seen[seed.Key]; dup {
			return fmt.Errorf("%s: duplicate lookup key (also written as %q)", rowLabel, prior)
		}
		seen[seed.Key] = seed.RawKey
	}
	return nil
}
