package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/sirupsen/logrus"

	"kpi-dashboard/pkg/calculator"
	"kpi-dashboard/pkg/database"
	"kpi-dashboard/pkg/kpi"
	"kpi-dashboard/pkg/models"
)

// Engine is the KPI side of the API. calculator.Engine implements it.
type Engine interface {
	Catalog() []models.KPIInfo
	Compute(ctx context.Context, name, strategy string, params kpi.Params) (*models.KPIResult, error)
	Verify(ctx context.Context, name string, params kpi.Params) (*calculator.Verification, error)
	Invalidate()
}

// Ingester loads uploaded files. ingestion.Loader implements it.
type Ingester interface {
	LoadCustomers(ctx context.Context, r io.Reader, mode models.LoadMode) (models.LoadReport, error)
	LoadOrders(ctx context.Context, r io.Reader, mode models.LoadMode) (models.LoadReport, error)
}

// Store answers health and overview requests. database.Store implements it.
type Store interface {
	Ping(ctx context.Context) error
	Overview(ctx context.Context) (models.Overview, error)
	TableStats(ctx context.Context) ([]database.TableStat, error)
}

// Deps are the collaborators of the router. Metrics and AccessLog are optional.
type Deps struct {
	Engine    Engine
	Loader    Ingester
	Store     Store
	Metrics   http.Handler
	AccessLog io.Writer
	Log       *logrus.Entry
}

// Responses smaller than this are sent uncompressed.
const gzipMinSize = 256

// NewRouter builds the dashboard API with its middleware chain.
func NewRouter(d Deps) (http.Handler, error) {
	if d.Log == nil {
		d.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	h := &handler{engine: d.Engine, loader: d.Loader, store: d.Store, log: d.Log.WithField("component", "api")}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", h.ready).Methods(http.MethodGet)

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/kpis", h.catalog).Methods(http.MethodGet)
	a.HandleFunc("/kpis/{name}", h.compute).Methods(http.MethodGet)
	a.HandleFunc("/kpis/{name}/verify", h.verify).Methods(http.MethodGet)
	a.HandleFunc("/overview", h.overview).Methods(http.MethodGet)
	a.HandleFunc("/ingest/{entity:customers|orders}", h.ingest).Methods(http.MethodPost)
	a.HandleFunc("/cache/invalidate", h.invalidate).Methods(http.MethodPost)

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics).Methods(http.MethodGet)
	}

	gz, err := gzhttp.NewWrapper(gzhttp.MinSize(gzipMinSize))
	if err != nil {
		return nil, errors.Wrap(err, "gzip middleware")
	}
	var out http.Handler = r
	out = requestID(out)
	out = gz(out)
	out = handlers.RecoveryHandler(handlers.RecoveryLogger(h.log), handlers.PrintRecoveryStack(true))(out)
	if d.AccessLog != nil {
		out = handlers.LoggingHandler(d.AccessLog, out)
	}
	return out, nil
}

const requestIDHeader = "X-Request-ID"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// Server wraps the http.Server of the dashboard.
type Server struct {
	HTTP *http.Server
	Log  *logrus.Entry
}

func NewServer(addr string, h http.Handler, log *logrus.Entry) *Server {
	hs := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second, // uploads
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{HTTP: hs, Log: log}
}

func (s *Server) Start() error {
	s.Log.WithField("addr", s.HTTP.Addr).Info("http server starting")
	return s.HTTP.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.Log.Info("http server stopping")
	return s.HTTP.Shutdown(ctx)
}
