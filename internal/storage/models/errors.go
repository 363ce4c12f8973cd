package models

// ErrorCode is the closed taxonomy surfaced to callers. Clarification-class
// codes carry candidate options; the rest map to generic user messages.
type ErrorCode string

const (
	ErrAmbiguousQuery    ErrorCode = "ambiguous_query"
	ErrUnsupportedMetric ErrorCode = "unsupported_metric"
	ErrUnsupportedBank   ErrorCode = "unsupported_bank"
	ErrGenerationFailed  ErrorCode = "generation_failed"
	ErrInvalidSQL        ErrorCode = "invalid_sql"
	ErrExecutionError    ErrorCode = "execution_error"
)
