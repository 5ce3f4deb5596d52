package schedule

import "errors"

var (
	// ErrNotFound means no schedule with the given id exists.
	ErrNotFound = errors.New("schedule not found")
	// ErrForbidden means the schedule exists but belongs to another user.
	ErrForbidden = errors.New("not the schedule owner")
)

// ValidationError reports bad schedule input and is surfaced synchronously to
// the caller of Create/Update.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
