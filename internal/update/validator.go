package update

import "time"

const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

var validStatuses = map[string]struct{}{
	StatusTodo:       {},
	StatusInProgress: {},
	StatusCompleted:  {},
}

var validPriorities = map[string]struct{}{
	"low":    {},
	"medium": {},
	"high":   {},
}

// ValidateField reports whether value is an acceptable candidate for field.
// The check is shape-level only: assignee identities are verified during
// lookup, date strings are parsed during coercion. Unknown field names pass
// unconditionally; they are routed to the task's custom-field document at
// persist time, so they cannot touch schema columns.
func ValidateField(field string, value any) bool {
	switch field {
	case "status":
		s, ok := value.(string)
		if !ok {
			return false
		}
		_, ok = validStatuses[s]
		return ok
	case "priority":
		s, ok := value.(string)
		if !ok {
			return false
		}
		_, ok = validPriorities[s]
		return ok
	case "assignedTo", "tags":
		return isSequence(value)
	case "dueDate":
		switch value.(type) {
		case nil, time.Time, string:
			return true
		}
		return false
	case "title", "description":
		_, ok := value.(string)
		return ok
	default:
		return true
	}
}

// isSequence accepts both decoded JSON ([]any) and already-typed lists.
func isSequence(value any) bool {
	switch value.(type) {
	case []any, []string:
		return true
	}
	return false
}
