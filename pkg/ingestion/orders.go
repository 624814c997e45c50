package ingestion

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"kpi-dashboard/pkg/models"
)

// ============================================================================
// ORDERS XML : <orders><order>…</order></orders> → validate → clean → dedupe
// ============================================================================

type xmlOrders struct {
	Orders []xmlOrder `xml:"order"`
}

type xmlOrder struct {
	OrderID       string `xml:"order_id"`
	MobileNumber  string `xml:"mobile_number"`
	OrderDateTime string `xml:"order_date_time"`
	SKUID         string `xml:"sku_id"`
	SKUCount      string `xml:"sku_count"`
	TotalAmount   string `xml:"total_amount"`
}

// OrderBatch is a validated, deduplicated set of orders.
type OrderBatch struct {
	Orders     []models.Order
	Read       int
	Duplicates int
}

// ParseOrdersXML reads and validates an orders XML export. Problems are numbered
// by order position starting at 1. Duplicate order_id entries keep the first.
func ParseOrdersXML(r io.Reader) (*OrderBatch, error) {
	var doc xmlOrders
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, &ValidationError{Entity: "orders", Problems: []string{"XML file is empty"}}
		}
		return nil, &ValidationError{Entity: "orders", Problems: []string{"XML parsing error: " + err.Error()}}
	}
	if len(doc.Orders) == 0 {
		return nil, &ValidationError{Entity: "orders", Problems: []string{"no orders found in XML file"}}
	}

	batch := &OrderBatch{Read: len(doc.Orders)}
	var problems []string
	parsed := make([]models.Order, 0, len(doc.Orders))
	for i, x := range doc.Orders {
		n := i + 1
		var missing []string
		for _, f := range []struct{ name, val string }{
			{"order_id", x.OrderID},
			{"mobile_number", x.MobileNumber},
			{"order_date_time", x.OrderDateTime},
			{"sku_id", x.SKUID},
			{"sku_count", x.SKUCount},
			{"total_amount", x.TotalAmount},
		} {
			if strings.TrimSpace(f.val) == "" {
				missing = append(missing, f.name)
			}
		}
		if len(missing) > 0 {
			problems = append(problems, fmt.Sprintf("Order %d: missing fields: %s", n, strings.Join(missing, ", ")))
			continue
		}

		var rowProblems []string
		o := models.Order{
			OrderID: strings.TrimSpace(x.OrderID),
			SKUID:   strings.TrimSpace(x.SKUID),
		}
		var ok bool
		if !validString(o.OrderID, 1, 25) {
			rowProblems = append(rowProblems, fmt.Sprintf("invalid order_id %q (must be 1-25 characters)", o.OrderID))
		}
		if o.MobileNumber, ok = NormalizeMobile(x.MobileNumber); !ok {
			rowProblems = append(rowProblems, fmt.Sprintf("invalid mobile_number %q (must be 8-15 digits)", x.MobileNumber))
		}
		if o.OrderDateTime, ok = ParseDateTime(x.OrderDateTime); !ok {
			rowProblems = append(rowProblems, fmt.Sprintf("invalid order_date_time %q", x.OrderDateTime))
		}
		if !validString(o.SKUID, 1, 50) {
			rowProblems = append(rowProblems, fmt.Sprintf("invalid sku_id %q", o.SKUID))
		}
		if o.SKUCount, ok = ParseCount(x.SKUCount); !ok {
			rowProblems = append(rowProblems, fmt.Sprintf("invalid sku_count %q (must be a positive integer)", x.SKUCount))
		}
		if o.TotalAmount, ok = ParseAmount(x.TotalAmount); !ok {
			rowProblems = append(rowProblems, fmt.Sprintf("invalid total_amount %q (must be a non-negative amount)", x.TotalAmount))
		}
		if len(rowProblems) > 0 {
			problems = append(problems, fmt.Sprintf("Order %d: %s", n, strings.Join(rowProblems, ", ")))
			continue
		}
		parsed = append(parsed, o)
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Entity: "orders", Problems: problems}
	}

	seen := make(map[string]bool, len(parsed))
	for _, o := range parsed {
		if seen[o.OrderID] {
			batch.Duplicates++
			continue
		}
		seen[o.OrderID] = true
		batch.Orders = append(batch.Orders, o)
	}
	return batch, nil
}
