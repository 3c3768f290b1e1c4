package types

import (
	"errors"
	"fmt"
	"strings"
)

// OrderError is a business rejection returned by a venue for a single order.
// Business rejections are not retryable; the leg fails.
type OrderError struct {
	Venue         Venue
	Code          string
	Message       string
	ClientOrderID string
}

func (e *OrderError) Error() string {
	if e.ClientOrderID != "" {
		return fmt.Sprintf("%s rejected order %s: %s (%s)", e.Venue, e.ClientOrderID, e.Message, e.Code)
	}
	return fmt.Sprintf("%s rejected order: %s (%s)", e.Venue, e.Message, e.Code)
}

// Common venue rejection codes normalized across exchanges.
const (
	ErrCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrCodePrecision           = "PRECISION_VIOLATION"
	ErrCodeMarketClosed        = "MARKET_CLOSED"
	ErrCodeUnknownSymbol       = "UNKNOWN_SYMBOL"
	ErrCodeRateLimited         = "RATE_LIMITED"
)

// ErrEmergencyStop is returned when the risk controller has latched the
// process-wide emergency stop.
var ErrEmergencyStop = errors.New("emergency stop latched")

// ClassifyError buckets an execution error for metrics and retry decisions.
func ClassifyError(err error) string {
	if err == nil {
		return "unknown"
	}

	var orderErr *OrderError
	if errors.As(err, &orderErr) {
		return "business"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "dial"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "reset by peer"),
		strings.Contains(msg, "tls"):
		return "transport"
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "emergency stop"):
		return "policy"
	default:
		return "unknown"
	}
}

// Retryable reports whether an error class may be retried by the orchestrator.
func Retryable(err error) bool {
	return ClassifyError(err) == "transport"
}
