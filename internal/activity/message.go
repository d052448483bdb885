// Package activity builds the human-readable audit messages attached to
// accepted task changes. Every change gets two phrasings of the same event:
// one addressed to the acting user ("You moved ...") and one for everybody
// else ("Alice moved ...").
package activity

import (
	"fmt"
	"strings"
	"time"
)

type Message struct {
	ForCreator string `json:"forCreator"`
	ForOthers  string `json:"forOthers"`
}

// BuildFieldChange formats one accepted field change. previous and next are
// the already-coerced values the store saw.
func BuildFieldChange(field, actorName string, previous, next any, taskTitle string) Message {
	prev := formatValue(previous)
	now := formatValue(next)

	var verb string
	switch field {
	case "status":
		verb = fmt.Sprintf("moved %q from %s to %s", taskTitle, prev, now)
	case "priority":
		verb = fmt.Sprintf("set priority of %q to %s", taskTitle, now)
	case "assignedTo":
		verb = fmt.Sprintf("changed assignees of %q to %s", taskTitle, now)
	case "dueDate":
		if next == nil {
			verb = fmt.Sprintf("cleared the due date of %q", taskTitle)
		} else {
			verb = fmt.Sprintf("set the due date of %q to %s", taskTitle, now)
		}
	case "title":
		verb = fmt.Sprintf("renamed %q to %s", prev, now)
	default:
		verb = fmt.Sprintf("changed %s of %q from %s to %s", field, taskTitle, prev, now)
	}

	return Message{
		ForCreator: "You " + verb,
		ForOthers:  actorName + " " + verb,
	}
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "none"
	case string:
		if v == "" {
			return "none"
		}
		return v
	case []string:
		if len(v) == 0 {
			return "nobody"
		}
		return strings.Join(v, ", ")
	case time.Time:
		return v.Format("02 Jan 2006")
	case *time.Time:
		if v == nil {
			return "none"
		}
		return v.Format("02 Jan 2006")
	default:
		return fmt.Sprintf("%v", v)
	}
}
