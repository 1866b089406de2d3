package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrSessionExpired = errors.New("broker session expired")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNoAccounts     = errors.New("no trading accounts enabled")
	ErrContextDone    = errors.New("context cancelled")
)

// FatalExecutionError marks a broker failure that must not be retried
// (insufficient funds, restricted account, invalid order parameters).
// It is produced by the executor's error classifier and consumed at the
// executor boundary; it never propagates out of a run.
type FatalExecutionError struct {
	Message string
}

func (e *FatalExecutionError) Error() string {
	return "fatal execution error: " + e.Message
}

// IsFatalExecution reports whether err is a non-retryable execution
// failure.
func IsFatalExecution(err error) bool {
	var fe *FatalExecutionError
	return errors.As(err, &fe)
}
