// Package rest serves the system resources over HTTP. Requests are routed
// with chi, authorized by a store.Gate, executed through the batch executor
// and rendered as JSON, XML or CSV.
package rest

import (
	"context"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"

	"dsp/store"
)

// MethodMerge is the MERGE verb, an alias of PUT.
const MethodMerge = "MERGE"

var errMethodNotAllowed = store.NewBadRequestError("method not allowed")

func init() {
	chi.RegisterMethod(MethodMerge)
}

// Handler dispatches requests on /{resource} and /{resource}/{id}.
type Handler struct {
	log       *zap.Logger
	records   *store.RecordStore
	registry  *store.Registry
	batch     *store.BatchExecutor
	projector *store.Projector
	criteria  *store.CriteriaBuilder
	gate      store.Gate
	metrics   *Metrics
	maxBody   int64
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLog sets the handler's logger.
func WithLog(log *zap.Logger) HandlerOption {
	return func(h *Handler) {
		h.log = log
	}
}

// WithGate sets the permission gate. The default requires a session.
func WithGate(gate store.Gate) HandlerOption {
	return func(h *Handler) {
		h.gate = gate
	}
}

// WithPagination sets the collection read limits.
func WithPagination(config store.PaginationConfig) HandlerOption {
	return func(h *Handler) {
		h.criteria = store.NewCriteriaBuilder(config)
	}
}

// WithMetrics records batch outcomes.
func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithMaxBodySize limits request bodies. 0 disables the limit.
func WithMaxBodySize(n int64) HandlerOption {
	return func(h *Handler) {
		h.maxBody = n
	}
}

// NewHandler creates a handler over records.
func NewHandler(records *store.RecordStore, opts ...HandlerOption) *Handler {
	h := &Handler{
		log:      zap.NewNop(),
		records:  records,
		registry: records.Registry(),
		gate:     store.RequireSession,
		criteria: store.NewCriteriaBuilder(store.DefaultPaginationConfig()),
		maxBody:  10 << 20,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.batch = store.NewBatchExecutor(records, h.log)
	h.projector = store.NewProjector(records, h.log)
	return h
}

// Routes returns the router for the handler.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.HandleFunc("/{resource}", h.handleResource)
	r.HandleFunc("/{resource}/{id}", h.handleResource)
	return r
}

// handleList is the HTTP handler for GET /. It lists the resources the
// caller may read.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	out, err := negotiate(r)
	if err != nil {
		h.fail(w, r, output{format: FormatJSON}, err)
		return
	}
	rc := RequestContextFrom(r.Context())

	items := []any{}
	for _, name := range h.registry.Names() {
		res, err := h.registry.Lookup(name)
		if err != nil {
			h.fail(w, r, out, err)
			return
		}
		if err := h.gate.Check(r.Context(), rc, res, store.ActionRead); err != nil {
			if store.IsPermissionDeniedError(err) {
				continue
			}
			h.fail(w, r, out, err)
			return
		}
		items = append(items, store.RecordOf("name", name))
	}
	h.respond(w, out, http.StatusOK, store.RecordOf("resource", items))
}

// handleResource is the HTTP handler for every verb on /{resource} and
// /{resource}/{id}.
func (h *Handler) handleResource(w http.ResponseWriter, r *http.Request) {
	out, err := negotiate(r)
	if err != nil {
		h.fail(w, r, output{format: FormatJSON}, err)
		return
	}
	action, ok := store.ActionForMethod(r.Method)
	if !ok {
		h.fail(w, r, out, errMethodNotAllowed)
		return
	}

	ctx := r.Context()
	rc := RequestContextFrom(ctx)
	res, err := h.resource(chi.URLParam(r, "resource"))
	if err != nil {
		h.fail(w, r, out, err)
		return
	}
	if err := h.gate.Check(ctx, rc, res, action); err != nil {
		h.fail(w, r, out, err)
		return
	}
	req, err := parseRequest(r, h.maxBody)
	if err != nil {
		h.fail(w, r, out, err)
		return
	}

	var body *store.Record
	status := http.StatusOK
	switch action {
	case store.ActionRead:
		body, err = h.read(ctx, rc, res, req)
	case store.ActionCreate:
		body, err = h.write(ctx, rc, res, req, store.BatchInsert)
		status = http.StatusCreated
	case store.ActionUpdate:
		body, err = h.write(ctx, rc, res, req, store.BatchUpdate)
	case store.ActionDelete:
		body, err = h.write(ctx, rc, res, req, store.BatchDelete)
	}
	if err != nil {
		h.fail(w, r, out, err)
		return
	}
	h.respond(w, out, status, body)
}

// resource resolves a routable resource.
func (h *Handler) resource(name string) (*store.Resource, error) {
	res, err := h.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if res.Internal {
		return nil, store.NewRecordNotFoundError(name, "")
	}
	return res, nil
}

func (h *Handler) read(ctx context.Context, rc *store.RequestContext, res *store.Resource, req *request) (*store.Record, error) {
	opts := store.ProjectOptions{Fields: store.AllFields(), Relations: req.related, Gate: h.gate}
	if req.fieldsSet {
		opts.Fields = store.ParseFieldSpec(req.fields)
	}

	if req.id != "" {
		rec, err := h.records.Find(ctx, rc, res, req.id)
		if err != nil {
			return nil, err
		}
		return h.projector.Project(ctx, rc, res, rec, opts)
	}

	var (
		recs []*store.Record
		crit store.Criteria
		err  error
	)
	if len(req.ids) > 0 {
		recs, err = h.records.FindByIDs(ctx, rc, res, req.ids)
	} else {
		if crit, err = h.criteria.Build(rc, req.criteria); err != nil {
			return nil, err
		}
		recs, err = h.records.FindAll(ctx, rc, res, crit)
	}
	if err != nil {
		return nil, err
	}

	items := make([]any, len(recs))
	for i, rec := range recs {
		if items[i], err = h.projector.Project(ctx, rc, res, rec, opts); err != nil {
			return nil, err
		}
	}
	body := store.RecordOf("record", items)

	meta := store.NewRecord()
	if req.includeCount {
		n := int64(len(recs))
		if len(req.ids) == 0 {
			if n, err = h.records.Count(ctx, rc, res, crit); err != nil {
				return nil, err
			}
		}
		meta.Set("count", n)
		if len(req.ids) == 0 {
			if next, ok := store.NextOffset(crit.Offset, crit.Limit, len(recs), n); ok {
				meta.Set("next", next)
			}
		}
	}
	if req.includeSchema {
		meta.Set("schema", res.Schema())
	}
	if meta.Len() > 0 {
		body.Set("meta", meta)
	}
	return body, nil
}

func (h *Handler) write(ctx context.Context, rc *store.RequestContext, res *store.Resource, req *request, op store.BatchOp) (*store.Record, error) {
	records, single, err := batchRecords(res, req, op)
	if err != nil {
		return nil, err
	}
	opts := store.ProjectOptions{Relations: req.related, Refresh: op != store.BatchDelete, Gate: h.gate}
	if req.fieldsSet {
		opts.Fields = store.ParseFieldSpec(req.fields)
	}

	result, err := h.batch.Execute(ctx, rc, res, store.BatchRequest{
		Op:              op,
		Records:         records,
		Rollback:        req.rollback,
		ContinueOnError: req.continueOnError,
		Single:          single,
		Project:         h.projector.Func(rc, res, opts),
	})
	h.metrics.observeBatch(res.Name, op, len(records), err)
	if err != nil {
		return nil, err
	}
	if result.Single {
		return result.Record(), nil
	}
	items := make([]any, len(result.Records))
	for i, rec := range result.Records {
		items[i] = rec
	}
	return store.RecordOf("record", items), nil
}

// batchRecords builds the records of a write from the path id, the ids list
// or the body.
func batchRecords(res *store.Resource, req *request, op store.BatchOp) ([]*store.Record, bool, error) {
	pk := res.PrimaryKey
	switch {
	case req.id != "":
		if op == store.BatchInsert {
			return nil, false, store.NewBadRequestError("records can not be created on an id path")
		}
		rec := store.NewRecord()
		if op == store.BatchUpdate {
			if len(req.records) != 1 {
				return nil, false, store.NewBadRequestError("update of %s %s needs one record", res.Name, req.id)
			}
			rec = req.records[0].Clone()
		}
		rec.Set(pk, req.id)
		return []*store.Record{rec}, true, nil

	case len(req.ids) > 0 && op != store.BatchInsert:
		var template *store.Record
		if op == store.BatchUpdate {
			if len(req.records) != 1 {
				return nil, false, store.NewBadRequestError("update by ids needs exactly one record")
			}
			template = req.records[0]
		}
		out := make([]*store.Record, len(req.ids))
		for i, id := range req.ids {
			rec := store.NewRecord()
			if template != nil {
				rec = template.Clone()
			}
			out[i] = rec.Set(pk, id)
		}
		return out, false, nil
	}

	if op == store.BatchDelete && len(req.records) == 0 {
		return nil, false, store.NewBadRequestError("no records or ids supplied for delete")
	}
	return req.records, req.single, nil
}

func (h *Handler) respond(w http.ResponseWriter, out output, status int, body *store.Record) {
	writeResponse(h.log, w, out, status, body)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, out output, err error) {
	writeError(h.log, w, r, out, err)
}

func writeResponse(log *zap.Logger, w http.ResponseWriter, out output, status int, body *store.Record) {
	data, contentType, err := out.encode(body)
	if err != nil {
		log.Error("Failed to encode response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType+"; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		log.Debug("Failed to write response", zap.Error(err))
	}
}

// writeError writes the error envelope. CSV callers get JSON errors.
func writeError(log *zap.Logger, w http.ResponseWriter, r *http.Request, out output, err error) {
	status := http.StatusMethodNotAllowed
	if err != errMethodNotAllowed {
		status = StatusFor(err)
	}
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", fields...)
	} else {
		log.Debug("Request rejected", fields...)
	}

	if out.format == FormatCSV {
		out = output{format: FormatJSON}
	}
	w.Header().Set(ErrorCodeHeader, string(store.ErrorKindOf(err)))
	writeResponse(log, w, out, status, errorBody(err, status))
}
