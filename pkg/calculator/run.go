package calculator

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"kpi-dashboard/pkg/kpi"
	"kpi-dashboard/pkg/models"
)

// Run computes the KPIs of a batch run (CLI) with a progress bar, one step per KPI.
func Run(ctx context.Context, eng *Engine, cfg models.Config) ([]*models.KPIResult, error) {
	names := cfg.KPIs
	if len(names) == 0 {
		names = models.AllKPIs
	}
	specs := make([]kpi.Spec, 0, len(names))
	for _, n := range names {
		spec, err := kpi.Lookup(string(n))
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	bar := progressbar.Default(int64(len(specs)), "computing KPIs")
	results := make([]*models.KPIResult, 0, len(specs))
	for _, spec := range specs {
		params := kpi.Params(cfg.Params)
		if len(names) > 1 {
			params = applicable(spec, params)
		}
		res, err := eng.Compute(ctx, string(spec.Name), string(cfg.Strategy), params)
		if err != nil {
			return nil, errors.Wrapf(err, "compute %s", spec.Name)
		}
		results = append(results, res)

		_ = bar.Add(1)
		if cfg.Verbose {
			eng.log.WithFields(logrus.Fields{
				"kpi":      res.KPI,
				"strategy": res.Strategy,
				"rows":     len(res.Rows),
				"cached":   res.Cached,
			}).Info("kpi ready")
		}
	}
	return results, nil
}
