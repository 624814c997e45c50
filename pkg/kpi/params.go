package kpi

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"kpi-dashboard/pkg/models"
)

const (
	OptWindowDays = "window_days"
	OptLimit      = "limit"

	DefaultWindowDays = 30
	DefaultLimit      = 10
)

// Params are the caller-supplied options, keyed by option name.
type Params map[string]int

// Options are the resolved options of one invocation. Fields a KPI does not
// recognize stay zero.
type Options struct {
	WindowDays int
	Limit      int
}

// Map returns the options the spec recognizes, for results and cache keys.
func (o Options) Map(spec Spec) map[string]int {
	out := map[string]int{}
	if spec.Windowed {
		out[OptWindowDays] = o.WindowDays
	}
	if spec.Limited {
		out[OptLimit] = o.Limit
	}
	return out
}

// Resolve validates raw params against the spec and applies defaults for missing ones.
// Unrecognized and out-of-range options fail; nothing invalid is replaced by a default.
func Resolve(spec Spec, raw Params) (Options, error) {
	recognized := map[string]bool{}
	for _, o := range spec.Options() {
		recognized[o] = true
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !recognized[k] {
			return Options{}, &InvalidParameterError{KPI: spec.Name, Field: k, Detail: "option not recognized by this KPI"}
		}
		if raw[k] < 1 {
			return Options{}, &InvalidParameterError{KPI: spec.Name, Field: k, Detail: "must be an integer >= 1, got " + strconv.Itoa(raw[k])}
		}
	}

	var opts Options
	if spec.Windowed {
		opts.WindowDays = DefaultWindowDays
		if v, ok := raw[OptWindowDays]; ok {
			opts.WindowDays = v
		}
	}
	if spec.Limited {
		opts.Limit = DefaultLimit
		if v, ok := raw[OptLimit]; ok {
			opts.Limit = v
		}
	}
	return opts, nil
}

// ParseParams converts textual options (query string, CLI) into Params.
// Empty values are treated as absent.
func ParseParams(values map[string]string) (Params, error) {
	out := Params{}
	for k, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, &InvalidParameterError{Field: k, Detail: "not an integer: " + strconv.Quote(v)}
		}
		out[k] = n
	}
	return out, nil
}

// ParseStrategy maps a strategy name; empty selects def.
func ParseStrategy(s string, def models.Strategy) (models.Strategy, error) {
	switch models.Strategy(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case models.StrategyPushdown:
		return models.StrategyPushdown, nil
	case models.StrategyInMemory, "memory", "in-memory":
		return models.StrategyInMemory, nil
	}
	return "", &InvalidParameterError{Field: "strategy", Detail: "expected pushdown or in_memory, got " + strconv.Quote(s)}
}

// Invocation is what an evaluator needs besides the spec. Now is fixed for the
// whole computation.
type Invocation struct {
	Options Options
	Now     time.Time
}

// EarliestWindowStart bounds every window from below. It is the smallest
// DATETIME MySQL accepts.
var EarliestWindowStart = time.Date(1000, 1, 1, 0, 0, 0, 0, time.UTC)

// windows longer than this start before EarliestWindowStart for any Now before year 3700
const maxWindowDays = 1_000_000

// WindowStart is the inclusive lower bound of the top-customers window, counted
// in calendar days back from Now and clamped to EarliestWindowStart.
func (inv Invocation) WindowStart() time.Time {
	n := inv.Options.WindowDays
	if n > maxWindowDays {
		return EarliestWindowStart
	}
	start := inv.Now.AddDate(0, 0, -n)
	if start.Before(EarliestWindowStart) {
		return EarliestWindowStart
	}
	return start
}
