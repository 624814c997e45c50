package calculator

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"kpi-dashboard/pkg/kpi"
	"kpi-dashboard/pkg/models"
)

// Verification is the outcome of running both strategies on the same invocation.
type Verification struct {
	KPI              models.KPIName `json:"kpi"`
	Params           map[string]int `json:"params"`
	Rows             int            `json:"rows"`
	Match            bool           `json:"match"`
	PushdownElapsed  time.Duration  `json:"pushdown_elapsed_ns"`
	InMemoryElapsed  time.Duration  `json:"in_memory_elapsed_ns"`
	CanonicalPayload []byte         `json:"-"`
}

// Verify computes name with both strategies, bypassing the cache, and fails with
// a StrategyDivergenceError unless their canonical outputs are byte-identical.
func (e *Engine) Verify(ctx context.Context, name string, params kpi.Params) (*Verification, error) {
	spec, err := kpi.Lookup(name)
	if err != nil {
		return nil, err
	}
	opts, err := kpi.Resolve(spec, params)
	if err != nil {
		return nil, err
	}
	inv := kpi.Invocation{Options: opts, Now: e.now()}

	start := time.Now()
	push, pushErr := e.evaluate(ctx, spec, models.StrategyPushdown, inv)
	pushElapsed := time.Since(start)
	start = time.Now()
	mem, memErr := e.evaluate(ctx, spec, models.StrategyInMemory, inv)
	memElapsed := time.Since(start)

	if err := reconcileErrors(spec.Name, pushErr, memErr); err != nil {
		return nil, err
	}

	v := &Verification{
		KPI:             spec.Name,
		Params:          opts.Map(spec),
		Rows:            len(push.Rows),
		PushdownElapsed: pushElapsed,
		InMemoryElapsed: memElapsed,
	}
	a, b := kpi.Canonical(push), kpi.Canonical(mem)
	if !bytes.Equal(a, b) {
		detail := describeDivergence(push, mem)
		e.log.WithFields(logrus.Fields{"kpi": spec.Name, "detail": detail}).Error("strategies diverge")
		return v, &kpi.StrategyDivergenceError{KPI: spec.Name, Detail: detail}
	}
	v.Match = true
	v.CanonicalPayload = a
	return v, nil
}

// reconcileErrors decides the outcome when at least one strategy failed. A
// transient failure is returned as is, and so is an error both sides agree on.
// Any other mix means the strategies disagree.
func reconcileErrors(name models.KPIName, pushErr, memErr error) error {
	switch {
	case pushErr == nil && memErr == nil:
		return nil
	case kpi.IsRetryable(pushErr):
		return pushErr
	case kpi.IsRetryable(memErr):
		return memErr
	case pushErr != nil && memErr != nil && kpi.Class(pushErr) == kpi.Class(memErr) &&
		errors.UnwrapAll(pushErr).Error() == errors.UnwrapAll(memErr).Error():
		return pushErr
	}
	return &kpi.StrategyDivergenceError{
		KPI:    name,
		Detail: fmt.Sprintf("pushdown error: %v; in_memory error: %v", pushErr, memErr),
	}
}

func describeDivergence(push, mem *models.KPIResult) string {
	if len(push.Rows) != len(mem.Rows) {
		return fmt.Sprintf("pushdown returned %d rows, in_memory %d", len(push.Rows), len(mem.Rows))
	}
	for i := range push.Rows {
		a := string(kpi.RowJSON(push.Columns, push.Rows[i]))
		b := string(kpi.RowJSON(mem.Columns, mem.Rows[i]))
		if a != b {
			return fmt.Sprintf("row %d: pushdown %s, in_memory %s", i, a, b)
		}
	}
	return "canonical outputs differ"
}

// VerifyAll verifies every KPI; options are passed to the KPIs that recognize them.
// It stops at the first error.
func (e *Engine) VerifyAll(ctx context.Context, params kpi.Params) ([]*Verification, error) {
	out := make([]*Verification, 0, len(models.AllKPIs))
	for _, spec := range kpi.Specs() {
		v, err := e.Verify(ctx, string(spec.Name), applicable(spec, params))
		if v != nil {
			out = append(out, v)
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
