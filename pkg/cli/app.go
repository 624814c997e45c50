package cli

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"kpi-dashboard/pkg/calculator"
	"kpi-dashboard/pkg/config"
	"kpi-dashboard/pkg/database"
	"kpi-dashboard/pkg/events"
	"kpi-dashboard/pkg/ingestion"
	"kpi-dashboard/pkg/kpi"
	"kpi-dashboard/pkg/logging"
	"kpi-dashboard/pkg/metrics"
	"kpi-dashboard/pkg/models"
)

// app is the wired service shared by every command.
type app struct {
	cfg       config.Config
	log       *logrus.Logger
	store     *database.Store
	engine    *calculator.Engine
	loader    *ingestion.Loader
	metrics   *metrics.Metrics
	bus       *events.Bus
	publisher *events.Publisher
	closers   []io.Closer
}

func newApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	log, logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, closers: []io.Closer{logCloser}}
	entry := logrus.NewEntry(log)

	db, dialect, err := database.Open(cfg.DSN, cfg.Pool)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = database.NewStore(db, dialect, entry)
	a.closers = append(a.closers, a.store)
	log.WithField("dialect", dialect).Debug("connected")

	a.metrics = metrics.New()
	a.engine = calculator.NewEngine(
		database.NewPushdown(db, dialect, entry),
		kpi.NewMemory(a.store),
		calculator.Options{
			DefaultStrategy: cfg.DefaultStrategy,
			CacheTTL:        cfg.CacheTTL,
			Observer:        a.metrics,
			Log:             entry,
		},
	)

	a.loader = ingestion.NewLoader(database.NewWriter(db, dialect, entry), a.metrics, entry)
	a.loader.OnLoaded(func(context.Context, models.LoadReport) { a.engine.Invalidate() })
	if cfg.Kafka.Enabled() {
		a.bus = events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, entry)
		a.publisher = a.bus.Publisher()
		a.loader.OnLoaded(a.publisher.OnLoaded)
		a.closers = append(a.closers, a.publisher)
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && a.log != nil {
			a.log.WithError(err).Warn("close failed")
		}
	}
	a.closers = nil
}

// withApp wires the service for the duration of fn.
func withApp(opts *rootOptions, fn func(a *app) error) error {
	a, err := newApp(opts)
	if err != nil {
		return errors.Wrap(err, "startup")
	}
	defer a.Close()
	return fn(a)
}
