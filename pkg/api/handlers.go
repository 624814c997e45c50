package api

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"kpi-dashboard/pkg/calculator"
	"kpi-dashboard/pkg/database"
	"kpi-dashboard/pkg/ingestion"
	"kpi-dashboard/pkg/kpi"
	"kpi-dashboard/pkg/models"
)

const maxUpload = 64 << 20

type handler struct {
	engine Engine
	loader Ingester
	store  Store
	log    *logrus.Entry
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handler) catalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"kpis": h.engine.Catalog()})
}

// ResultJSON is the wire form of a KPI result; rows keep their column order.
type ResultJSON struct {
	KPI        models.KPIName             `json:"kpi"`
	Title      string                     `json:"title"`
	Strategy   models.Strategy            `json:"strategy"`
	Params     map[string]int             `json:"params"`
	Columns    []string                   `json:"columns"`
	Rows       []json.RawMessage          `json:"rows"`
	Summary    map[string]json.RawMessage `json:"summary"`
	ComputedAt time.Time                  `json:"computed_at"`
	Cached     bool                       `json:"cached"`
}

// RenderResult converts res to its wire form.
func RenderResult(res *models.KPIResult) ResultJSON {
	out := ResultJSON{
		KPI:        res.KPI,
		Title:      res.Title,
		Strategy:   res.Strategy,
		Params:     res.Params,
		Columns:    make([]string, 0, len(res.Columns)),
		Rows:       make([]json.RawMessage, 0, len(res.Rows)),
		Summary:    make(map[string]json.RawMessage, len(res.Summary)),
		ComputedAt: res.ComputedAt,
		Cached:     res.Cached,
	}
	if out.Params == nil {
		out.Params = map[string]int{}
	}
	for _, c := range res.Columns {
		out.Columns = append(out.Columns, c.Name)
	}
	for _, r := range res.Rows {
		out.Rows = append(out.Rows, kpi.RowJSON(res.Columns, r))
	}
	for _, s := range res.Summary {
		out.Summary[s.Name] = kpi.ValueJSON(s.Value)
	}
	return out
}

func (h *handler) compute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params, err := kpiParams(q, "strategy", "dense")
	if err != nil {
		h.fail(w, err)
		return
	}
	dense, err := parseBool(q.Get("dense"))
	if err != nil {
		h.fail(w, err)
		return
	}

	res, err := h.engine.Compute(r.Context(), mux.Vars(r)["name"], q.Get("strategy"), params)
	if err != nil {
		h.fail(w, err)
		return
	}
	if dense {
		if res, err = calculator.FillMonthGaps(res); err != nil {
			h.fail(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, RenderResult(res))
}

func (h *handler) verify(w http.ResponseWriter, r *http.Request) {
	params, err := kpiParams(r.URL.Query())
	if err != nil {
		h.fail(w, err)
		return
	}
	v, err := h.engine.Verify(r.Context(), mux.Vars(r)["name"], params)
	if err != nil {
		var div *kpi.StrategyDivergenceError
		if errors.As(err, &div) && v != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":        kpi.Class(err),
				"message":      err.Error(),
				"verification": v,
			})
			return
		}
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handler) overview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.store.Overview(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	tables, err := h.store.TableStats(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overview": ov, "tables": tables})
}

func (h *handler) ingest(w http.ResponseWriter, r *http.Request) {
	mode, err := ingestion.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_parameter", Message: err.Error()})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	body, closeBody, err := uploadBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_upload", Message: err.Error()})
		return
	}
	defer closeBody()

	var rep models.LoadReport
	switch mux.Vars(r)["entity"] {
	case "customers":
		rep, err = h.loader.LoadCustomers(r.Context(), body, mode)
	default:
		rep, err = h.loader.LoadOrders(r.Context(), body, mode)
	}
	if err != nil {
		writeJSON(w, statusFor(err), rep)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// uploadBody returns the multipart "file" part when present, the raw body otherwise.
func uploadBody(r *http.Request) (io.Reader, func(), error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "multipart/form-data" {
		return r.Body, func() {}, nil
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, nil, errors.Wrap(err, "multipart field \"file\"")
	}
	return f, func() { _ = f.Close() }, nil
}

func (h *handler) invalidate(w http.ResponseWriter, _ *http.Request) {
	h.engine.Invalidate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// kpiParams extracts the KPI options from a query string. Keys other than the
// options and the route's own flags are rejected rather than ignored.
func kpiParams(q map[string][]string, flags ...string) (kpi.Params, error) {
	known := map[string]bool{kpi.OptWindowDays: true, kpi.OptLimit: true}
	for _, f := range flags {
		known[f] = true
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !known[k] {
			return nil, &kpi.InvalidParameterError{Field: k, Detail: "unknown query parameter"}
		}
	}

	raw := map[string]string{}
	for _, k := range []string{kpi.OptWindowDays, kpi.OptLimit} {
		if v, ok := q[k]; ok && len(v) > 0 {
			raw[k] = v[0]
		}
	}
	return kpi.ParseParams(raw)
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, &kpi.InvalidParameterError{Field: "dense", Detail: "not a boolean: " + strconv.Quote(s)}
	}
	return b, nil
}

/*
ERRORS → HTTP status
*/

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(err error) int {
	var (
		unknown    *kpi.UnknownKPIError
		invalid    *kpi.InvalidParameterError
		integrity  *kpi.DataIntegrityError
		divergence *kpi.StrategyDivergenceError
		maxBytes   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &unknown):
		return http.StatusNotFound
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &integrity), ingestion.IsValidation(err), errors.Is(err, database.ErrConstraint):
		return http.StatusUnprocessableEntity
	case kpi.IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &divergence):
		return http.StatusInternalServerError
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("class", kpi.Class(err)).Error("request failed")
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, errorBody{Error: kpi.Class(err), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
