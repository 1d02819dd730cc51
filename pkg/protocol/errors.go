package protocol

// Error codes returned in ErrorShape.Code.
const (
	ErrInvalidRequest  = "INVALID_REQUEST"
	ErrMethodNotFound  = "METHOD_NOT_FOUND"
	ErrUnknownSession  = "UNKNOWN_SESSION"
	ErrNotFound        = "NOT_FOUND"
	ErrAlreadyResolved = "ALREADY_RESOLVED"
	ErrIterationLimit  = "ITERATION_LIMIT"
	ErrUpstream        = "UPSTREAM_ERROR"
	ErrInternal        = "INTERNAL"
)
