package update

import "fmt"

// Error codes surfaced in task-update-response payloads.
const (
	CodeMissingField     = "MISSING_FIELD"
	CodeInvalidValue     = "INVALID_VALUE"
	CodeConcurrentUpdate = "CONCURRENT_UPDATE"
	CodeNotFound         = "NOT_FOUND"
	CodeStaleVersion     = "STALE_VERSION"
	CodePermission       = "PERMISSION_DENIED"
	CodePersistence      = "PERSISTENCE"
)

// Error is a terminal failure of one update intent. Conflict marks the
// retryable cases (lock contention, stale version) so clients can back off
// and retry instead of surfacing a hard failure.
type Error struct {
	Code            string
	Message         string
	Field           string
	Conflict        bool
	CurrentVersion  int64
	ProvidedVersion int64
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errMissingField(what string) *Error {
	return &Error{Code: CodeMissingField, Message: fmt.Sprintf("missing %s", what)}
}

func errInvalidValue(field string, value any) *Error {
	return &Error{
		Code:    CodeInvalidValue,
		Field:   field,
		Message: fmt.Sprintf("invalid value for field %s: %v", field, value),
	}
}

func errConcurrentUpdate(field string) *Error {
	return &Error{
		Code:     CodeConcurrentUpdate,
		Field:    field,
		Conflict: true,
		Message:  fmt.Sprintf("field %s is being updated by another user", field),
	}
}

func errNotFound(what string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s not found", what)}
}

func errStaleVersion(current, provided int64) *Error {
	return &Error{
		Code:            CodeStaleVersion,
		Conflict:        true,
		CurrentVersion:  current,
		ProvidedVersion: provided,
		Message:         fmt.Sprintf("task changed since version %d (now %d), refetch and retry", provided, current),
	}
}

func errPermission() *Error {
	return &Error{Code: CodePermission, Message: "not allowed to update this task"}
}

func errPersistence(err error) *Error {
	return &Error{Code: CodePersistence, Message: fmt.Sprintf("update failed: %v", err)}
}
