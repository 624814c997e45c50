package kpi

import (
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"kpi-dashboard/pkg/models"
)

// ============================================================================
// JOIN & FILTER : canonical joined view over a Dataset
// ============================================================================

// CheckIntegrity re-checks the invariants ingestion is supposed to enforce. The
// checks and the order in which they report match the push-down strategy's queries.
func CheckIntegrity(spec Spec, ds *Dataset) error {
	if spec.Join != JoinNone {
		if c, ok := firstMalformedCustomer(ds.Customers); ok {
			return MalformedCustomer(spec.Name, c.CustomerID)
		}
		if mobile, ok := firstDuplicateMobile(ds.Customers); ok {
			return DuplicateMobile(spec.Name, mobile)
		}
	}
	if o, ok := firstMalformedOrder(ds.Orders); ok {
		return MalformedOrder(spec.Name, o.OrderID)
	}
	return nil
}

// MalformedCustomer reports a customer with an empty id or mobile number.
func MalformedCustomer(name models.KPIName, customerID string) error {
	return &DataIntegrityError{KPI: name, Field: "customer_id", Detail: "customer with empty id or mobile number: " + quoteID(customerID)}
}

// DuplicateMobile reports a mobile number shared by several customers.
func DuplicateMobile(name models.KPIName, mobile string) error {
	return &DataIntegrityError{KPI: name, Field: "mobile_number", Detail: "mobile number shared by several customers: " + mobile}
}

// MalformedOrder reports an order breaking the order invariants.
func MalformedOrder(name models.KPIName, orderID string) error {
	return &DataIntegrityError{KPI: name, Field: "order_id", Detail: "order with non-positive sku_count, invalid total_amount or empty mobile number: " + quoteID(orderID)}
}

func quoteID(s string) string { return strconv.Quote(s) }

func firstMalformedCustomer(cs []models.Customer) (models.Customer, bool) {
	var (
		found bool
		first models.Customer
	)
	for _, c := range cs {
		if c.CustomerID != "" && c.MobileNumber != "" {
			continue
		}
		if !found || c.CustomerID < first.CustomerID {
			first, found = c, true
		}
	}
	return first, found
}

func firstDuplicateMobile(cs []models.Customer) (string, bool) {
	counts := make(map[string]int, len(cs))
	for _, c := range cs {
		counts[c.MobileNumber]++
	}
	var dups []string
	for m, n := range counts {
		if n > 1 {
			dups = append(dups, m)
		}
	}
	if len(dups) == 0 {
		return "", false
	}
	sort.Strings(dups)
	return dups[0], true
}

func firstMalformedOrder(os []models.Order) (models.Order, bool) {
	var (
		found bool
		first models.Order
	)
	for _, o := range os {
		if o.SKUCount > 0 && validAmount(o.TotalAmount) && o.MobileNumber != "" {
			continue
		}
		if !found || o.OrderID < first.OrderID {
			first, found = o, true
		}
	}
	return first, found
}

// validAmount holds for non-negative amounts with at most two fractional digits.
func validAmount(d decimal.Decimal) bool {
	return !d.IsNegative() && d.Exponent() >= -2
}

// Join builds the joined view for the given join kind. keep filters orders before
// joining, so a left join still preserves customers whose orders were all filtered out.
func Join(kind JoinKind, ds *Dataset, keep func(models.Order) bool) []models.JoinedRow {
	if keep == nil {
		keep = func(models.Order) bool { return true }
	}

	if kind == JoinNone {
		rows := make([]models.JoinedRow, 0, len(ds.Orders))
		for _, o := range ds.Orders {
			if keep(o) {
				rows = append(rows, withOrder(models.JoinedRow{MobileNumber: o.MobileNumber}, o))
			}
		}
		return rows
	}

	byMobile := make(map[string][]models.Order, len(ds.Orders))
	for _, o := range ds.Orders {
		if keep(o) {
			byMobile[o.MobileNumber] = append(byMobile[o.MobileNumber], o)
		}
	}

	rows := make([]models.JoinedRow, 0, len(ds.Orders))
	for _, c := range ds.Customers {
		base := models.JoinedRow{
			CustomerID:   c.CustomerID,
			CustomerName: c.CustomerName,
			MobileNumber: c.MobileNumber,
			Region:       c.Region,
		}
		orders := byMobile[c.MobileNumber]
		if len(orders) == 0 {
			if kind == JoinLeft {
				rows = append(rows, base)
			}
			continue
		}
		for _, o := range orders {
			rows = append(rows, withOrder(base, o))
		}
	}
	return rows
}

func withOrder(r models.JoinedRow, o models.Order) models.JoinedRow {
	r.HasOrder = true
	r.OrderID = o.OrderID
	r.OrderDateTime = o.OrderDateTime
	r.SKUID = o.SKUID
	r.SKUCount = o.SKUCount
	r.TotalAmount = o.TotalAmount
	return r
}

// fieldText returns a text field of the joined view, applying the bucket.
func fieldText(r models.JoinedRow, f Field, b Bucket) string {
	switch f {
	case FieldCustomerID:
		return r.CustomerID
	case FieldCustomerName:
		return r.CustomerName
	case FieldMobileNumber:
		return r.MobileNumber
	case FieldRegion:
		return r.Region
	case FieldOrderID:
		return r.OrderID
	case FieldSKUID:
		return r.SKUID
	case FieldOrderDateTime:
		if b == BucketMonth {
			return r.OrderDateTime.UTC().Format("2006-01")
		}
		return r.OrderDateTime.UTC().Format("2006-01-02 15:04:05")
	}
	return ""
}
