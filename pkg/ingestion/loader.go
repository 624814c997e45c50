package ingestion

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"kpi-dashboard/pkg/models"
)

// Writer persists validated batches. database.Writer implements it.
type Writer interface {
	WriteCustomers(ctx context.Context, cs []models.Customer, mode models.LoadMode) (int, error)
	WriteOrders(ctx context.Context, orders []models.Order, mode models.LoadMode) (int, error)
}

// Observer receives the outcome of every batch, e.g. for metrics.
type Observer interface {
	ObserveLoad(entity, mode string, loaded int, ok bool)
}

// Hook runs after a batch has been committed.
type Hook func(ctx context.Context, rep models.LoadReport)

// Loader runs the parse → validate → write pipeline and notifies hooks.
type Loader struct {
	w     Writer
	obs   Observer
	hooks []Hook
	log   *logrus.Entry
	now   func() time.Time
}

func NewLoader(w Writer, obs Observer, log *logrus.Entry) *Loader {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Loader{w: w, obs: obs, log: log.WithField("component", "ingestion"), now: time.Now}
}

// OnLoaded registers a hook invoked after each successful batch, in order.
func (l *Loader) OnLoaded(h Hook) {
	l.hooks = append(l.hooks, h)
}

// LoadCustomers ingests a customers CSV.
func (l *Loader) LoadCustomers(ctx context.Context, r io.Reader, mode models.LoadMode) (models.LoadReport, error) {
	return l.run(ctx, "customers", mode, func(rep *models.LoadReport) (int, error) {
		batch, err := ParseCustomersCSV(r)
		if err != nil {
			return 0, err
		}
		rep.RecordsRead = batch.Read
		rep.DuplicatesRemoved = batch.Duplicates
		return l.w.WriteCustomers(ctx, batch.Customers, mode)
	})
}

// LoadOrders ingests an orders XML.
func (l *Loader) LoadOrders(ctx context.Context, r io.Reader, mode models.LoadMode) (models.LoadReport, error) {
	return l.run(ctx, "orders", mode, func(rep *models.LoadReport) (int, error) {
		batch, err := ParseOrdersXML(r)
		if err != nil {
			return 0, err
		}
		rep.RecordsRead = batch.Read
		rep.DuplicatesRemoved = batch.Duplicates
		return l.w.WriteOrders(ctx, batch.Orders, mode)
	})
}

func (l *Loader) run(ctx context.Context, entity string, mode models.LoadMode, load func(*models.LoadReport) (int, error)) (models.LoadReport, error) {
	start := l.now()
	rep := models.LoadReport{BatchID: uuid.NewString(), Entity: entity, Mode: mode}
	log := l.log.WithFields(logrus.Fields{"batch": rep.BatchID, "entity": entity, "mode": mode})

	if mode != models.LoadReplace && mode != models.LoadAppend {
		err := &ValidationError{Entity: entity, Problems: []string{"invalid load mode " + string(mode)}}
		rep.Errors = err.Problems
		return rep, err
	}

	log.Info("loading batch")
	n, err := load(&rep)
	rep.Duration = l.now().Sub(start)
	if l.obs != nil {
		l.obs.ObserveLoad(entity, string(mode), n, err == nil)
	}
	if err != nil {
		var v *ValidationError
		if errors.As(err, &v) {
			rep.Errors = v.Problems
			log.WithField("problems", len(v.Problems)).Warn("batch rejected")
		} else {
			rep.Errors = []string{err.Error()}
			log.WithError(err).Error("batch failed")
		}
		return rep, err
	}

	rep.RecordsLoaded = n
	rep.Success = true
	log.WithFields(logrus.Fields{
		"read":       rep.RecordsRead,
		"loaded":     n,
		"duplicates": rep.DuplicatesRemoved,
		"elapsed":    rep.Duration.String(),
	}).Info("batch loaded")
	for _, h := range l.hooks {
		h(ctx, rep)
	}
	return rep, nil
}
