package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"

	"kpi-dashboard/pkg/models"
)

// ============================================================================
// CUSTOMERS CSV : header → validate every row → clean → dedupe
// ============================================================================

var customerColumns = []string{"customer_id", "customer_name", "mobile_number", "region"}

// CustomerBatch is a validated, deduplicated set of customers.
type CustomerBatch struct {
	Customers  []models.Customer
	Read       int
	Duplicates int
}

// ParseCustomersCSV reads and validates a customers CSV export. Row numbers in
// problems count the header as row 1. Duplicate customer_id rows keep the first
// occurrence; a mobile number used by two different customers rejects the batch.
func ParseCustomersCSV(r io.Reader) (*CustomerBatch, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &ValidationError{Entity: "customers", Problems: []string{"CSV file is empty"}}
	}
	if err != nil {
		return nil, &ValidationError{Entity: "customers", Problems: []string{"unreadable header: " + err.Error()}}
	}

	idx := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	var missing []string
	for _, c := range customerColumns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Entity: "customers", Problems: []string{"missing required columns: " + strings.Join(missing, ", ")}}
	}

	field := func(rec []string, name string) string {
		if i := idx[name]; i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	batch := &CustomerBatch{}
	var problems []string
	var parsed []models.Customer
	rows := []int{}
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				problems = append(problems, fmt.Sprintf("Row %d: malformed CSV: %v", perr.Line, perr.Err))
				continue
			}
			return nil, errors.Wrap(err, "read customers csv")
		}
		batch.Read++

		var rowProblems []string
		c := models.Customer{
			CustomerID:   field(rec, "customer_id"),
			CustomerName: field(rec, "customer_name"),
			Region:       field(rec, "region"),
		}
		if !validString(c.CustomerID, 1, 25) {
			rowProblems = append(rowProblems, fmt.Sprintf("invalid customer_id %q (must be 1-25 characters)", c.CustomerID))
		}
		if !validString(c.CustomerName, 2, 255) {
			rowProblems = append(rowProblems, fmt.Sprintf("invalid customer_name %q", c.CustomerName))
		}
		raw := field(rec, "mobile_number")
		mobile, ok := NormalizeMobile(raw)
		if !ok {
			rowProblems = append(rowProblems, fmt.Sprintf("invalid mobile_number %q (must be 8-15 digits)", raw))
		}
		c.MobileNumber = mobile
		if !validString(c.Region, 2, 100) {
			rowProblems = append(rowProblems, fmt.Sprintf("invalid region %q", c.Region))
		}
		if len(rowProblems) > 0 {
			problems = append(problems, fmt.Sprintf("Row %d: %s", line, strings.Join(rowProblems, ", ")))
			continue
		}
		parsed = append(parsed, c)
		rows = append(rows, line)
	}

	if batch.Read == 0 && len(problems) == 0 {
		problems = append(problems, "CSV file is empty")
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Entity: "customers", Problems: problems}
	}

	seenID := map[string]bool{}
	owner := map[string]string{}
	for i, c := range parsed {
		if seenID[c.CustomerID] {
			batch.Duplicates++
			continue
		}
		seenID[c.CustomerID] = true
		if other, taken := owner[c.MobileNumber]; taken {
			problems = append(problems, fmt.Sprintf("Row %d: mobile_number %s already belongs to customer %s", rows[i], c.MobileNumber, other))
			continue
		}
		owner[c.MobileNumber] = c.CustomerID
		batch.Customers = append(batch.Customers, c)
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Entity: "customers", Problems: problems}
	}
	return batch, nil
}
