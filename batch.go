package store

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// BatchOp is the write a batch applies to each record.
type BatchOp string

const (
	BatchInsert BatchOp = "insert"
	BatchUpdate BatchOp = "update"
	BatchDelete BatchOp = "delete"
)

// Action returns the permission a batch operation requires.
func (op BatchOp) Action() Action {
	switch op {
	case BatchInsert:
		return ActionCreate
	case BatchUpdate:
		return ActionUpdate
	case BatchDelete:
		return ActionDelete
	}
	return ""
}

// ProjectFunc shapes a written record for output.
type ProjectFunc func(ctx context.Context, rec *Record) (*Record, error)

// BatchRequest is one bulk write.
type BatchRequest struct {
	Op      BatchOp
	Records []*Record
	// Rollback makes the batch all-or-nothing. It supersedes ContinueOnError.
	Rollback        bool
	ContinueOnError bool
	// Single marks a one-record request whose outcome is returned unwrapped.
	Single bool
	// Project is applied to each written record. For deletes it sees the
	// record before removal. A nil Project returns records as stored.
	Project ProjectFunc
}

// BatchResult holds one output record per input index.
type BatchResult struct {
	Records []*Record
	Single  bool
}

// Record returns the outcome of a single request.
func (r *BatchResult) Record() *Record {
	if r == nil || len(r.Records) == 0 {
		return nil
	}
	return r.Records[0]
}

// BatchError reports a batch in which some records failed. Indices refer to
// positions in the request. Records that were never attempted appear in
// neither map.
type BatchError struct {
	Total   int
	Records map[int]*Record
	Errors  map[int]error
}

func (e *BatchError) Error() string {
	var errs error
	for _, i := range e.FailedIndices() {
		errs = multierr.Append(errs, fmt.Errorf("record %d: %w", i, e.Errors[i]))
	}
	return fmt.Sprintf("batch failed for %d of %d records: %v", len(e.Errors), e.Total, errs)
}

// FailedIndices returns the indices of failed records in ascending order.
func (e *BatchError) FailedIndices() []int {
	return sortedKeys(e.Errors)
}

// SucceededIndices returns the indices of written records in ascending order.
func (e *BatchError) SucceededIndices() []int {
	return sortedKeys(e.Records)
}

func sortedKeys[V any](m map[int]V) []int {
	out := make([]int, 0, len(m))
	for i := range m {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// BatchExecutor runs bulk writes through a RecordStore.
type BatchExecutor struct {
	store *RecordStore
	log   *zap.Logger
}

// NewBatchExecutor creates a batch executor.
func NewBatchExecutor(store *RecordStore, log *zap.Logger) *BatchExecutor {
	if log == nil {
		log = zap.NewNop()
	}
	return &BatchExecutor{store: store, log: log}
}

// Execute applies req to res record by record, in order.
//
// A single request returns its first error as is. With Rollback the batch
// runs in one transaction and the first error is returned after rolling
// back. Otherwise failures are collected into a *BatchError; without
// ContinueOnError processing stops at the first failure and records written
// before it stay written.
func (e *BatchExecutor) Execute(ctx context.Context, rc *RequestContext, res *Resource, req BatchRequest) (*BatchResult, error) {
	if len(req.Records) == 0 {
		return nil, NewBadRequestError("no records supplied")
	}
	if req.Single && len(req.Records) > 1 {
		return nil, NewBadRequestError("single request carries %d records", len(req.Records))
	}

	results := make([]*Record, len(req.Records))

	if req.Single {
		out, err := e.apply(ctx, rc, res, req, req.Records[0])
		if err != nil {
			return nil, err
		}
		results[0] = out
		return &BatchResult{Records: results, Single: true}, nil
	}

	if req.Rollback {
		failed := -1
		err := e.store.WithTx(ctx, func(ctx context.Context) error {
			for i, rec := range req.Records {
				out, err := e.apply(ctx, rc, res, req, rec)
				if err != nil {
					failed = i
					return err
				}
				results[i] = out
			}
			return nil
		})
		if err != nil {
			e.log.Debug("Batch rolled back",
				zap.String("resource", res.Name),
				zap.String("op", string(req.Op)),
				zap.Int("index", failed),
				zap.Error(err))
			return nil, err
		}
		e.logDone(res, req, 0)
		return &BatchResult{Records: results}, nil
	}

	errs := make(map[int]error)
	for i, rec := range req.Records {
		out, err := e.apply(ctx, rc, res, req, rec)
		if err != nil {
			errs[i] = err
			if !req.ContinueOnError {
				break
			}
			continue
		}
		results[i] = out
	}
	e.logDone(res, req, len(errs))

	if len(errs) > 0 {
		written := make(map[int]*Record, len(req.Records)-len(errs))
		for i, rec := range results {
			if rec != nil {
				written[i] = rec
			}
		}
		return nil, &BatchError{Total: len(req.Records), Records: written, Errors: errs}
	}
	return &BatchResult{Records: results}, nil
}

func (e *BatchExecutor) apply(ctx context.Context, rc *RequestContext, res *Resource, req BatchRequest, rec *Record) (*Record, error) {
	switch req.Op {
	case BatchInsert:
		saved, err := e.store.Insert(ctx, rc, res, rec)
		if err != nil {
			return nil, err
		}
		return e.project(ctx, req, saved)

	case BatchUpdate:
		if FormatID(rec.Value(res.PrimaryKey)) == "" {
			return nil, NewBadRequestError("missing id")
		}
		saved, err := e.store.Update(ctx, rc, res, rec)
		if err != nil {
			return nil, err
		}
		return e.project(ctx, req, saved)

	case BatchDelete:
		id := FormatID(rec.Value(res.PrimaryKey))
		if id == "" {
			return nil, NewBadRequestError("missing id")
		}
		var out *Record
		err := e.store.WithTx(ctx, func(ctx context.Context) error {
			if req.Project != nil {
				existing, err := e.store.Find(ctx, rc, res, id)
				if err != nil {
					return err
				}
				if out, err = req.Project(ctx, existing); err != nil {
					return err
				}
			}
			deleted, err := e.store.Delete(ctx, rc, res, id)
			if err != nil {
				return err
			}
			if out == nil {
				out = deleted
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, NewBadRequestError("unsupported batch operation %s", string(req.Op))
}

func (e *BatchExecutor) project(ctx context.Context, req BatchRequest, rec *Record) (*Record, error) {
	if req.Project == nil {
		return rec, nil
	}
	return req.Project(ctx, rec)
}

func (e *BatchExecutor) logDone(res *Resource, req BatchRequest, failed int) {
	e.log.Debug("Batch executed",
		zap.String("resource", res.Name),
		zap.String("op", string(req.Op)),
		zap.Int("records", len(req.Records)),
		zap.Int("failed", failed),
		zap.Bool("rollback", req.Rollback))
}
