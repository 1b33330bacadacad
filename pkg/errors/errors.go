// Package errors defines the error taxonomy shared by all PowerTrader
// components: every failure carries a category used for routing (retry,
// surface to user, halt trading) and a severity used for alerting.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Category classifies an error by origin.
type Category string

const (
	CategoryAPI           Category = "api_error"
	CategoryNetwork       Category = "network_error"
	CategoryTrading       Category = "trading_error"
	CategoryValidation    Category = "validation_error"
	CategoryConfiguration Category = "configuration_error"
	CategoryData          Category = "data_error"
	CategorySystem        Category = "system_error"
)

// Severity ranks an error for alerting purposes.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is the base error type. All constructors below return *Error so
// callers can branch on Category with errors.As.
type Error struct {
	Message   string
	Category  Category
	Severity  Severity
	Context   map[string]interface{}
	Timestamp time.Time
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a system error with the given message.
func New(message string) *Error {
	return newError(message, CategorySystem, SeverityMedium, nil, nil)
}

// Wrap annotates err with a message, keeping the category and severity of the
// wrapped error when it is already a taxonomy error.
func Wrap(err error, message string) *Error {
	var te *Error
	if errors.As(err, &te) {
		return newError(message, te.Category, te.Severity, nil, err)
	}
	return newError(message, CategorySystem, SeverityMedium, nil, err)
}

// NewAPIError reports a failed exchange API call.
func NewAPIError(exchange string, statusCode int, message string, cause error) *Error {
	ctx := map[string]interface{}{"exchange": exchange}
	if statusCode != 0 {
		ctx["status_code"] = statusCode
	}
	return newError(message, CategoryAPI, SeverityMedium, ctx, cause)
}

// NewNetworkError reports a transport-level failure (timeout, refused
// connection, broken stream).
func NewNetworkError(url string, cause error) *Error {
	return newError("network request failed", CategoryNetwork, SeverityMedium,
		map[string]interface{}{"url": url}, cause)
}

// NewTradingError reports a rejected or failed trading operation.
func NewTradingError(message string) *Error {
	return newError(message, CategoryTrading, SeverityHigh, nil, nil)
}

// NewValidationError reports invalid input for the named field.
func NewValidationError(field, message string) *Error {
	return newError(message, CategoryValidation, SeverityLow,
		map[string]interface{}{"field": field}, nil)
}

// NewConfigError reports an invalid or missing configuration value.
func NewConfigError(message string) *Error {
	return newError(message, CategoryConfiguration, SeverityHigh, nil, nil)
}

// NewDataError reports malformed or missing data from an external source.
func NewDataError(message string, cause error) *Error {
	return newError(message, CategoryData, SeverityMedium, nil, cause)
}

func newError(message string, cat Category, sev Severity, ctx map[string]interface{}, cause error) *Error {
	if ctx == nil {
		ctx = map[string]interface{}{}
	}
	return &Error{
		Message:   message,
		Category:  cat,
		Severity:  sev,
		Context:   ctx,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// CategoryOf returns the taxonomy category of err, or CategorySystem for
// errors from outside the taxonomy.
func CategoryOf(err error) Category {
	var te *Error
	if errors.As(err, &te) {
		return te.Category
	}
	return CategorySystem
}

// Is reports whether err belongs to the given category.
func Is(err error, cat Category) bool {
	var te *Error
	return errors.As(err, &te) && te.Category == cat
}
