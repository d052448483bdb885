package update

import (
	"encoding/json"
	"fmt"
	"time"

	"taskboard/api/internal/store"
)

// dueDateLayouts are tried in order. The DD-MM-YYYY form is what the web
// client sends from its date picker; the rest cover API callers.
var dueDateLayouts = []string{
	"02-01-2006",
	time.RFC3339,
	"2006-01-02",
}

// coerceValue normalizes a validated candidate value into the shape the
// store expects for the field. It returns an InvalidValueError when a string
// that must parse (dueDate) does not.
func coerceValue(field string, value any) (any, *Error) {
	switch field {
	case "title", "description", "status", "priority", "color", "taskType":
		s, ok := value.(string)
		if !ok {
			return nil, errInvalidValue(field, value)
		}
		return s, nil
	case "assignedTo", "tags":
		list, err := toStringList(value)
		if err != nil {
			return nil, errInvalidValue(field, value)
		}
		return list, nil
	case "dueDate":
		switch v := value.(type) {
		case nil:
			return (*time.Time)(nil), nil
		case time.Time:
			return &v, nil
		case string:
			for _, layout := range dueDateLayouts {
				if parsed, err := time.Parse(layout, v); err == nil {
					return &parsed, nil
				}
			}
			return nil, errInvalidValue(field, value)
		}
		return nil, errInvalidValue(field, value)
	default:
		return value, nil
	}
}

func toStringList(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		list := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("non-string element %v", item)
			}
			list = append(list, s)
		}
		return list, nil
	}
	return nil, fmt.Errorf("not a sequence: %T", value)
}

// fieldValue extracts the current value of a named field from a task, so the
// broadcast can carry the previous value alongside the new one. Unknown
// fields are read from the custom-field document.
func fieldValue(task store.Task, field string) any {
	switch field {
	case "title":
		return task.Title
	case "description":
		return task.Description
	case "status":
		return task.Status
	case "priority":
		return task.Priority
	case "color":
		return task.Color
	case "taskType":
		return task.TaskType
	case "dueDate":
		if task.DueDate == nil {
			return nil
		}
		return *task.DueDate
	case "assignedTo":
		return append([]string(nil), task.AssignedTo...)
	case "tags":
		return append([]string(nil), task.Tags...)
	default:
		if len(task.CustomFields) == 0 {
			return nil
		}
		var fields map[string]any
		if err := json.Unmarshal(task.CustomFields, &fields); err != nil {
			return nil
		}
		return fields[field]
	}
}
