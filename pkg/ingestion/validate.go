package ingestion

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"kpi-dashboard/pkg/models"
)

// ValidationError lists every problem found in a batch. Nothing is written when
// a batch fails validation.
type ValidationError struct {
	Entity   string
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s batch rejected: %s", e.Entity, e.Problems[0])
	}
	return fmt.Sprintf("%s batch rejected: %d problems, first: %s", e.Entity, len(e.Problems), e.Problems[0])
}

// IsValidation reports whether err is a batch validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

const (
	minMobileDigits = 8
	maxMobileDigits = 15
)

// NormalizeMobile keeps the digits of s and a leading '+'. It fails when fewer
// than 8 or more than 15 digits remain.
func NormalizeMobile(s string) (string, bool) {
	s = strings.TrimSpace(s)
	var b strings.Builder
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	if digits < minMobileDigits || digits > maxMobileDigits {
		return "", false
	}
	return b.String(), true
}

var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
}

// ParseDateTime accepts the order date formats seen in exports. Values without
// an offset are UTC; the result is truncated to the second.
func ParseDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC().Truncate(time.Second), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.Truncate(time.Second), true
		}
	}
	return time.Time{}, false
}

// validString checks the trimmed rune length of s.
func validString(s string, min, max int) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(s))
	return n >= min && n <= max
}

var maxAmount = decimal.New(1, 10) // DECIMAL(12,2)

// ParseAmount parses a non-negative amount rounded to cents.
func ParseAmount(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	d = d.Round(2)
	if d.GreaterThanOrEqual(maxAmount) {
		return decimal.Zero, false
	}
	return d, true
}

// ParseCount parses a strictly positive integer.
func ParseCount(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ParseMode maps a load mode name; empty selects replace.
func ParseMode(s string) (models.LoadMode, error) {
	switch models.LoadMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", models.LoadReplace:
		return models.LoadReplace, nil
	case models.LoadAppend:
		return models.LoadAppend, nil
	}
	return "", errors.Newf("invalid load mode %q (expected replace or append)", s)
}
