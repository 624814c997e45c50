package calculator

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"kpi-dashboard/pkg/cache"
	"kpi-dashboard/pkg/kpi"
	"kpi-dashboard/pkg/models"
)

// DefaultCacheTTL is how long a computed KPI result is served from cache.
const DefaultCacheTTL = 600 * time.Second

// Observer receives cache lookups and computation outcomes. metrics.Metrics implements it.
type Observer interface {
	cache.Observer
	ObserveCompute(kpi, strategy, class string, d time.Duration)
}

// Options configure an Engine. Zero values select the defaults.
type Options struct {
	DefaultStrategy models.Strategy
	CacheTTL        time.Duration
	Clock           func() time.Time
	Observer        Observer
	Log             *logrus.Entry
}

// Engine is the single entry point of KPI computation.
type Engine struct {
	evaluators map[models.Strategy]kpi.Evaluator
	cache      *cache.Cache[*models.KPIResult]
	def        models.Strategy
	clock      func() time.Time
	obs        Observer
	log        *logrus.Entry
}

// NewEngine wires the two strategies behind one cache.
func NewEngine(pushdown, memory kpi.Evaluator, opts Options) *Engine {
	if opts.DefaultStrategy == "" {
		opts.DefaultStrategy = models.StrategyPushdown
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	var cobs cache.Observer
	if opts.Observer != nil {
		cobs = opts.Observer
	}
	return &Engine{
		evaluators: map[models.Strategy]kpi.Evaluator{
			models.StrategyPushdown: pushdown,
			models.StrategyInMemory: memory,
		},
		cache: cache.New[*models.KPIResult](opts.CacheTTL, cobs),
		def:   opts.DefaultStrategy,
		clock: opts.Clock,
		obs:   opts.Observer,
		log:   opts.Log.WithField("component", "engine"),
	}
}

// now is fixed once per invocation, at the precision timestamps are stored with.
func (e *Engine) now() time.Time {
	return e.clock().UTC().Truncate(time.Second)
}

// Catalog lists the available KPIs in catalog order.
func (e *Engine) Catalog() []models.KPIInfo {
	specs := kpi.Specs()
	out := make([]models.KPIInfo, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Info())
	}
	return out
}

// DefaultStrategy is the strategy used when a caller names none.
func (e *Engine) DefaultStrategy() models.Strategy { return e.def }

// Compute returns the KPI result for name, served from cache when a live entry
// exists for the same strategy and resolved options.
func (e *Engine) Compute(ctx context.Context, name, strategy string, params kpi.Params) (*models.KPIResult, error) {
	spec, err := kpi.Lookup(name)
	if err != nil {
		return nil, err
	}
	strat, err := kpi.ParseStrategy(strategy, e.def)
	if err != nil {
		return nil, err
	}
	opts, err := kpi.Resolve(spec, params)
	if err != nil {
		return nil, err
	}

	key := cache.ResultKey(string(spec.Name), string(strat), opts.Map(spec))
	if hit, ok := e.cache.Get(key); ok {
		res := *hit
		res.Cached = true
		return &res, nil
	}

	gen := e.cache.Generation()
	res, err := e.evaluate(ctx, spec, strat, kpi.Invocation{Options: opts, Now: e.now()})
	if err != nil {
		return nil, err
	}
	if !e.cache.SetIfCurrent(key, res, gen) {
		e.log.WithField("kpi", spec.Name).Debug("data changed during computation, result not cached")
	}
	out := *res
	return &out, nil
}

func (e *Engine) evaluate(ctx context.Context, spec kpi.Spec, strat models.Strategy, inv kpi.Invocation) (*models.KPIResult, error) {
	start := time.Now()
	rows, err := e.evaluators[strat].Evaluate(ctx, spec, inv)
	elapsed := time.Since(start)
	if e.obs != nil {
		e.obs.ObserveCompute(string(spec.Name), string(strat), kpi.Class(err), elapsed)
	}
	log := e.log.WithFields(logrus.Fields{"kpi": spec.Name, "strategy": strat, "elapsed": elapsed.String()})
	if err != nil {
		log.WithError(err).WithField("class", kpi.Class(err)).Warn("kpi computation failed")
		return nil, err
	}
	log.WithField("rows", len(rows)).Debug("kpi computed")

	return &models.KPIResult{
		KPI:        spec.Name,
		Title:      spec.Title,
		Strategy:   strat,
		Params:     inv.Options.Map(spec),
		Columns:    spec.Columns(),
		Rows:       rows,
		Summary:    kpi.Summarize(spec, rows),
		ComputedAt: inv.Now,
	}, nil
}

// ComputeAll computes every KPI with one strategy. Options are passed only to the
// KPIs that recognize them.
func (e *Engine) ComputeAll(ctx context.Context, strategy string, params kpi.Params) ([]*models.KPIResult, error) {
	out := make([]*models.KPIResult, 0, len(models.AllKPIs))
	for _, spec := range kpi.Specs() {
		res, err := e.Compute(ctx, string(spec.Name), strategy, applicable(spec, params))
		if err != nil {
			return out, errors.Wrapf(err, "compute %s", spec.Name)
		}
		out = append(out, res)
	}
	return out, nil
}

func applicable(spec kpi.Spec, params kpi.Params) kpi.Params {
	out := kpi.Params{}
	for _, o := range spec.Options() {
		if v, ok := params[o]; ok {
			out[o] = v
		}
	}
	return out
}

// Invalidate drops every cached result. Computations already running are not
// cancelled, but their results are not cached.
func (e *Engine) Invalidate() {
	e.cache.Invalidate()
	e.log.Info("result cache invalidated")
}
