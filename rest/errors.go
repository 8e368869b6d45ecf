package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"dsp/store"
)

// ErrorCodeHeader carries the error kind of a failed request.
const ErrorCodeHeader = "X-DSP-Error-Code"

var statusByKind = map[store.ErrorKind]int{
	store.KindBadRequest:  http.StatusBadRequest,
	store.KindValidation:  http.StatusBadRequest,
	store.KindBatch:       http.StatusBadRequest,
	store.KindNotFound:    http.StatusNotFound,
	store.KindPersistence: http.StatusInternalServerError,
}

// StatusFor returns the HTTP status of err. Permission errors are 401 without
// a session and 403 otherwise.
func StatusFor(err error) int {
	var denied *store.PermissionDeniedError
	if errors.As(err, &denied) {
		if denied.Authenticated {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	}
	if status, ok := statusByKind[store.ErrorKindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// errorBody builds the {error: [...]} envelope. Batch errors carry the
// per-index messages and the records written before or around the failure.
func errorBody(err error, status int) *store.Record {
	entry := store.RecordOf("message", errorMessage(err, status), "code", int64(status))

	var batchErr *store.BatchError
	if errors.As(err, &batchErr) {
		// Each failure is reported by its own kind, so driver text stays
		// hidden even when the batch itself is a 400.
		entry.Set("message", fmt.Sprintf("batch failed for %d of %d records", len(batchErr.Errors), batchErr.Total))
		msgs := store.NewRecord()
		for _, i := range batchErr.FailedIndices() {
			e := batchErr.Errors[i]
			msgs.Set(strconv.Itoa(i), errorMessage(e, StatusFor(e)))
		}
		written := store.NewRecord()
		for _, i := range batchErr.SucceededIndices() {
			written.Set(strconv.Itoa(i), batchErr.Records[i])
		}
		entry.Set("context", store.RecordOf("errors", msgs, "record", written))
	}
	return store.RecordOf("error", []any{entry})
}

// errorMessage hides the details of internal failures from clients.
func errorMessage(err error, status int) string {
	if status >= http.StatusInternalServerError {
		return "an internal error has occurred"
	}
	return err.Error()
}
