// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrChartNotFound    = errors.New("chart not found")
	ErrInference        = errors.New("inference failed")
	ErrDataSource       = errors.New("data source failed")
	ErrValidation       = errors.New("validation failed")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrRecordExists     = errors.New("record already exists")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrTimeout          = errors.New("operation timed out")
)

// InsufficientDataError is returned when a snapshot has fewer periods than
// the quantitative stage requires.
type InsufficientDataError struct {
	Symbol    string
	Timeframe string
	Got       int
	Required  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s %s: got %d periods, need at least %d",
		e.Symbol, e.Timeframe, e.Got, e.Required)
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// NewInsufficientDataError creates a new InsufficientDataError.
func NewInsufficientDataError(symbol, timeframe string, got, required int) *InsufficientDataError {
	return &InsufficientDataError{
		Symbol:    symbol,
		Timeframe: timeframe,
		Got:       got,
		Required:  required,
	}
}

// ChartNotFoundError is returned when a chart image path does not resolve.
type ChartNotFoundError struct {
	Path string
	Err  error
}

func (e *ChartNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chart image not found: %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("chart image not found: %s", e.Path)
}

func (e *ChartNotFoundError) Unwrap() error {
	return e.Err
}

func (e *ChartNotFoundError) Is(target error) bool {
	return target == ErrChartNotFound
}

// NewChartNotFoundError creates a new ChartNotFoundError.
func NewChartNotFoundError(path string, err error) *ChartNotFoundError {
	return &ChartNotFoundError{
		Path: path,
		Err:  err,
	}
}

// InferenceError represents a failed call to a model-serving endpoint.
type InferenceError struct {
	Provider   string
	Model      string
	Operation  string
	StatusCode int
	Err        error
}

func (e *InferenceError) Error() string {
	msg := fmt.Sprintf("inference error [%s/%s] %s", e.Provider, e.Model, e.Operation)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

func (e *InferenceError) Is(target error) bool {
	return target == ErrInference
}

// NewInferenceError creates a new InferenceError.
func NewInferenceError(provider, model, operation string, statusCode int, err error) *InferenceError {
	return &InferenceError{
		Provider:   provider,
		Model:      model,
		Operation:  operation,
		StatusCode: statusCode,
		Err:        err,
	}
}

// DataSourceError represents a failure of the market data collaborator.
type DataSourceError struct {
	Source  string
	Symbol  string
	Message string
	Err     error
}

func (e *DataSourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data source error [%s] %s: %s: %v", e.Source, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data source error [%s] %s: %s", e.Source, e.Symbol, e.Message)
}

func (e *DataSourceError) Unwrap() error {
	return e.Err
}

func (e *DataSourceError) Is(target error) bool {
	return target == ErrDataSource
}

// NewDataSourceError creates a new DataSourceError.
func NewDataSourceError(source, symbol, message string, err error) *DataSourceError {
	return &DataSourceError{
		Source:  source,
		Symbol:  symbol,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Kind returns the taxonomy name of err for user-facing output.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientData):
		return "InsufficientDataError"
	case errors.Is(err, ErrChartNotFound):
		return "ChartNotFoundError"
	case errors.Is(err, ErrInference), errors.Is(err, ErrCircuitOpen):
		return "InferenceError"
	case errors.Is(err, ErrDataSource):
		return "DataSourceError"
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrConfigInvalid):
		return "ConfigError"
	case errors.Is(err, ErrRecordExists):
		return "PersistenceError"
	default:
		return "Error"
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
