package kpi

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"kpi-dashboard/pkg/models"
)

// DataIntegrityError reports rows that violate the data model (duplicate join keys,
// malformed values). Ingestion should have rejected them; the engine re-checks.
type DataIntegrityError struct {
	KPI    models.KPIName
	Field  string
	Detail string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity violation in %s (%s): %s", e.KPI, e.Field, e.Detail)
}

// UnknownKPIError is returned for a KPI name outside the catalog.
type UnknownKPIError struct {
	Name string
}

func (e *UnknownKPIError) Error() string {
	return fmt.Sprintf("unknown KPI %q (available: %v)", e.Name, models.AllKPIs)
}

// InvalidParameterError is returned for out-of-range or unrecognized options.
type InvalidParameterError struct {
	KPI    models.KPIName
	Field  string
	Detail string
}

func (e *InvalidParameterError) Error() string {
	if e.KPI == "" {
		return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Detail)
	}
	return fmt.Sprintf("invalid parameter %s for %s: %s", e.Field, e.KPI, e.Detail)
}

// StrategyDivergenceError means the two strategies disagreed on identical data. It is a bug.
type StrategyDivergenceError struct {
	KPI    models.KPIName
	Detail string
}

func (e *StrategyDivergenceError) Error() string {
	return fmt.Sprintf("strategy divergence for %s: %s", e.KPI, e.Detail)
}

// DataUnavailableError wraps a transient Data Store failure. It is the only retryable class.
type DataUnavailableError struct {
	Op    string
	Cause error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("data store unavailable during %s: %v", e.Op, e.Cause)
}

func (e *DataUnavailableError) Unwrap() error { return e.Cause }

// Unavailable wraps cause as a DataUnavailableError.
func Unavailable(op string, cause error) error {
	return &DataUnavailableError{Op: op, Cause: cause}
}

// IsRetryable reports whether err is (or wraps) a DataUnavailableError.
func IsRetryable(err error) bool {
	var u *DataUnavailableError
	return errors.As(err, &u)
}

// Class returns a short label for metrics and logs.
func Class(err error) string {
	var (
		integrity  *DataIntegrityError
		unknown    *UnknownKPIError
		invalid    *InvalidParameterError
		divergence *StrategyDivergenceError
		unavail    *DataUnavailableError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &integrity):
		return "data_integrity"
	case errors.As(err, &unknown):
		return "unknown_kpi"
	case errors.As(err, &invalid):
		return "invalid_parameter"
	case errors.As(err, &divergence):
		return "strategy_divergence"
	case errors.As(err, &unavail):
		return "data_unavailable"
	}
	return "internal"
}
