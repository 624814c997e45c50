package models

import (
	"time"

	"github.com/shopspring/decimal"
)

/*
LOAD → entities as they are stored in the customers / orders tables.
*/

// Customer is one row of the customers table. MobileNumber is the join key to orders.
type Customer struct {
	CustomerID   string
	CustomerName string
	MobileNumber string
	Region       string
}

// Order is one row of the orders table. OrderDateTime is UTC with second precision.
type Order struct {
	OrderID       string
	MobileNumber  string
	OrderDateTime time.Time
	SKUID         string
	SKUCount      int
	TotalAmount   decimal.Decimal
}

// JoinedRow is the canonical joined view of a customer and one of its orders.
// HasOrder is false for a customer preserved by a left join without any order.
type JoinedRow struct {
	CustomerID    string
	CustomerName  string
	MobileNumber  string
	Region        string
	HasOrder      bool
	OrderID       string
	OrderDateTime time.Time
	SKUID         string
	SKUCount      int
	TotalAmount   decimal.Decimal
}

// LoadMode selects how an ingestion batch is written.
type LoadMode string

const (
	LoadReplace LoadMode = "replace"
	LoadAppend  LoadMode = "append"
)

// LoadReport summarizes one ingestion batch.
type LoadReport struct {
	BatchID           string        `json:"batch_id"`
	Entity            string        `json:"entity"` // "customers" or "orders"
	Mode              LoadMode      `json:"mode"`
	RecordsRead       int           `json:"records_read"`
	RecordsLoaded     int           `json:"records_loaded"`
	DuplicatesRemoved int           `json:"duplicates_removed"`
	Errors            []string      `json:"errors,omitempty"`
	Success           bool          `json:"success"`
	Duration          time.Duration `json:"duration_ns"`
}

/*
COMPUTE → KPI results
*/

// KPIName identifies one of the supported KPIs.
type KPIName string

const (
	RepeatCustomers KPIName = "repeat_customers"
	MonthlyTrends   KPIName = "monthly_trends"
	RegionalRevenue KPIName = "regional_revenue"
	TopCustomers    KPIName = "top_customers"
)

// AllKPIs lists the KPIs in catalog order.
var AllKPIs = []KPIName{RepeatCustomers, MonthlyTrends, RegionalRevenue, TopCustomers}

// Strategy selects the evaluation backend.
type Strategy string

const (
	StrategyPushdown Strategy = "pushdown"
	StrategyInMemory Strategy = "in_memory"
)

// ValueKind is the type of a result field.
type ValueKind int

const (
	KindText ValueKind = iota
	KindInt
	KindMoney
)

func (k ValueKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInt:
		return "int"
	case KindMoney:
		return "money"
	}
	return "unknown"
}

// Value is a single field of a result row.
type Value struct {
	Kind  ValueKind
	Text  string
	Int   int64
	Money decimal.Decimal
}

func TextValue(s string) Value           { return Value{Kind: KindText, Text: s} }
func IntValue(n int64) Value             { return Value{Kind: KindInt, Int: n} }
func MoneyValue(d decimal.Decimal) Value { return Value{Kind: KindMoney, Money: d} }

// String renders the value the way it appears in canonical output.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return decimal.NewFromInt(v.Int).String()
	case KindMoney:
		return v.Money.StringFixed(2)
	}
	return v.Text
}

// Column describes one field of a KPI row.
type Column struct {
	Name string    `json:"name"`
	Kind ValueKind `json:"-"`
}

// Row is aligned with the Columns of its KPIResult.
type Row []Value

// SummaryField is a derived total over the result rows.
type SummaryField struct {
	Name  string
	Value Value
}

// KPIResult is a fresh derivation of one KPI; it is never persisted.
type KPIResult struct {
	KPI        KPIName
	Title      string
	Strategy   Strategy
	Params     map[string]int // resolved options, only those the KPI recognizes
	Columns    []Column
	Rows       []Row
	Summary    []SummaryField
	ComputedAt time.Time
	Cached     bool
}

// KPIInfo describes a KPI in the catalog.
type KPIInfo struct {
	Name        KPIName  `json:"key"`
	Title       string   `json:"name"`
	Description string   `json:"description"`
	Columns     []string `json:"columns"`
	Options     []string `json:"options,omitempty"`
}

// Overview is the dataset-level summary shown on the dashboard landing page.
type Overview struct {
	Customers    int64           `json:"customers"`
	Orders       int64           `json:"orders"`
	Regions      int64           `json:"regions"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

/*
CONFIG → run-time parameters of a batch computation
*/

// Config is passed to calculator.Run by the CLI.
type Config struct {
	KPIs     []KPIName
	Strategy Strategy
	Params   map[string]int
	Verbose  bool // logs one line per KPI
}
