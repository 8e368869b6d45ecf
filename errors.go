package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for common storage operations.
var (
	ErrConnectionFailed  = errors.New("connection failed")
	ErrDriverNotFound    = errors.New("driver not found")
	ErrTransactionFailed = errors.New("transaction failed")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrRecordNotFound    = errors.New("record not found")
	ErrValidationFailed  = errors.New("validation failed")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrNotSupported      = errors.New("operation not supported")
)

// ErrorKind classifies an error for the transport layer.
type ErrorKind string

// Error kinds surfaced to clients.
const (
	KindBadRequest       ErrorKind = "bad_request"
	KindNotFound         ErrorKind = "not_found"
	KindValidation       ErrorKind = "validation"
	KindPersistence      ErrorKind = "persistence"
	KindBatch            ErrorKind = "batch"
	KindPermissionDenied ErrorKind = "permission_denied"
)

// ErrorKindOf returns the kind of err. Errors that carry no kind of their own
// are persistence failures.
func ErrorKindOf(err error) ErrorKind {
	var (
		batchErr *BatchError
		permErr  *PermissionDeniedError
		badErr   *BadRequestError
		notFound *RecordNotFoundError
		validErr *ValidationError
	)
	switch {
	case errors.As(err, &batchErr):
		return KindBatch
	case errors.As(err, &permErr):
		return KindPermissionDenied
	case errors.As(err, &badErr):
		return KindBadRequest
	case errors.As(err, &notFound), errors.Is(err, ErrRecordNotFound):
		return KindNotFound
	case errors.As(err, &validErr), errors.Is(err, ErrValidationFailed):
		return KindValidation
	default:
		return KindPersistence
	}
}

// BadRequestError reports malformed client input.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

// NewBadRequestError creates a new bad request error.
func NewBadRequestError(format string, args ...any) *BadRequestError {
	return &BadRequestError{Message: fmt.Sprintf(format, args...)}
}

// PermissionDeniedError reports a rejected operation. Authenticated is false
// when no session was presented at all.
type PermissionDeniedError struct {
	Resource      string
	Action        Action
	Authenticated bool
}

func (e *PermissionDeniedError) Error() string {
	if !e.Authenticated {
		return "there is no valid session for the current request"
	}
	if e.Resource == "" {
		return "access forbidden"
	}
	return fmt.Sprintf("%s access to %s is not allowed", e.Action, e.Resource)
}

// NewPermissionDeniedError creates a new permission error.
func NewPermissionDeniedError(resource string, action Action, authenticated bool) *PermissionDeniedError {
	return &PermissionDeniedError{
		Resource:      resource,
		Action:        action,
		Authenticated: authenticated,
	}
}

// ConnectionError represents connection-related errors.
type ConnectionError struct {
	Operation string
	Driver    string
	Host      string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s with %s driver at %s: %v",
		e.Operation, e.Driver, e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DriverError represents driver-related errors.
type DriverError struct {
	Driver    string
	Operation string
	Err       error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver error with %s during %s: %v",
		e.Driver, e.Operation, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// TransactionError represents transaction-related errors.
type TransactionError struct {
	Operation string
	Err       error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction error during %s: %v", e.Operation, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// QueryError represents a backend failure while reading or writing records.
type QueryError struct {
	Operation string
	Table     string
	Query     string
	Args      []any
	Err       error
}

func (e *QueryError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("query error during %s on table %s: %v",
			e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("query error during %s: %v", e.Operation, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// RecordNotFoundError represents a missing resource or record.
type RecordNotFoundError struct {
	Resource string
	ID       string
}

func (e *RecordNotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("resource %s not found", e.Resource)
	}
	return fmt.Sprintf("record with id '%s' not found in %s", e.ID, e.Resource)
}

// Is lets errors.Is match ErrRecordNotFound.
func (e *RecordNotFoundError) Is(target error) bool {
	return target == ErrRecordNotFound
}

// ValidationError represents validation errors.
type ValidationError struct {
	Field   string
	Value   any
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ConfigError represents configuration errors.
type ConfigError struct {
	Field   string
	Value   any
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Constructor functions for custom errors

// NewConnectionError creates a new connection error.
func NewConnectionError(err error, operation, driver, host string) *ConnectionError {
	return &ConnectionError{
		Operation: operation,
		Driver:    driver,
		Host:      host,
		Err:       err,
	}
}

// NewDriverError creates a new driver error.
func NewDriverError(err error, driver, operation string) *DriverError {
	return &DriverError{
		Driver:    driver,
		Operation: operation,
		Err:       err,
	}
}

// NewTransactionError creates a new transaction error.
func NewTransactionError(err error, operation string) *TransactionError {
	return &TransactionError{
		Operation: operation,
		Err:       err,
	}
}

// NewQueryError creates a new query error.
func NewQueryError(err error, operation, table, query string, args []any) *QueryError {
	return &QueryError{
		Operation: operation,
		Table:     table,
		Query:     query,
		Args:      args,
		Err:       err,
	}
}

// NewRecordNotFoundError creates a new record not found error.
func NewRecordNotFoundError(resource, id string) *RecordNotFoundError {
	return &RecordNotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		Message: message,
	}
}

// NewValidationErrorForField creates a new validation error for a specific field.
func NewValidationErrorForField(field string, value any, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewConfigError creates a new config error.
func NewConfigError(message string) *ConfigError {
	return &ConfigError{
		Message: message,
	}
}

// NewConfigErrorForField creates a new config error for a specific field.
func NewConfigErrorForField(field string, value any, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrapper functions for adding context to errors

// WrapConnectionError wraps an error as a connection error.
func WrapConnectionError(err error, operation, driver, host string) error {
	if err == nil {
		return nil
	}
	return NewConnectionError(err, operation, driver, host)
}

// WrapDriverError wraps an error as a driver error.
func WrapDriverError(err error, driver, operation string) error {
	if err == nil {
		return nil
	}
	return NewDriverError(err, driver, operation)
}

// WrapTransactionError wraps an error as a transaction error.
func WrapTransactionError(err error, operation string) error {
	if err == nil {
		return nil
	}
	return NewTransactionError(err, operation)
}

// WrapQueryError wraps an error as a query error.
func WrapQueryError(err error, operation, table, query string, args []any) error {
	if err == nil {
		return nil
	}
	return NewQueryError(err, operation, table, query, args)
}

// Error checking functions

// IsBadRequestError checks if an error is a bad request error.
func IsBadRequestError(err error) bool {
	var badErr *BadRequestError
	return errors.As(err, &badErr)
}

// IsPermissionDeniedError checks if an error is a permission error.
func IsPermissionDeniedError(err error) bool {
	var permErr *PermissionDeniedError
	return errors.As(err, &permErr)
}

// IsRecordNotFoundError checks if an error is a record not found error.
func IsRecordNotFoundError(err error) bool {
	var notFoundErr *RecordNotFoundError
	return errors.As(err, &notFoundErr)
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// IsConfigError checks if an error is a config error.
func IsConfigError(err error) bool {
	var configErr *ConfigError
	return errors.As(err, &configErr)
}

// IsBatchError checks if an error is a batch error.
func IsBatchError(err error) bool {
	var batchErr *BatchError
	return errors.As(err, &batchErr)
}
