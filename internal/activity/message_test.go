package activity

import (
	"testing"
	"time"
)

func TestBuildFieldChange(t *testing.T) {
	due := time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		field      string
		previous   any
		next       any
		wantOthers string
	}{
		{
			name:       "status move",
			field:      "status",
			previous:   "todo",
			next:       "in_progress",
			wantOthers: `Alice moved "Ship it" from todo to in_progress`,
		},
		{
			name:       "priority",
			field:      "priority",
			previous:   "medium",
			next:       "high",
			wantOthers: `Alice set priority of "Ship it" to high`,
		},
		{
			name:       "assignees",
			field:      "assignedTo",
			previous:   []string{},
			next:       []string{"Bob", "Carol"},
			wantOthers: `Alice changed assignees of "Ship it" to Bob, Carol`,
		},
		{
			name:       "assignees cleared",
			field:      "assignedTo",
			previous:   []string{"Bob"},
			next:       []string{},
			wantOthers: `Alice changed assignees of "Ship it" to nobody`,
		},
		{
			name:       "due date set",
			field:      "dueDate",
			previous:   nil,
			next:       due,
			wantOthers: `Alice set the due date of "Ship it" to 15 Mar 2026`,
		},
		{
			name:       "due date cleared",
			field:      "dueDate",
			previous:   due,
			next:       nil,
			wantOthers: `Alice cleared the due date of "Ship it"`,
		},
		{
			name:       "rename",
			field:      "title",
			previous:   "Old name",
			next:       "Ship it",
			wantOthers: `Alice renamed "Old name" to Ship it`,
		},
		{
			name:       "generic field",
			field:      "storyPoints",
			previous:   nil,
			next:       float64(8),
			wantOthers: `Alice changed storyPoints of "Ship it" from none to 8`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := BuildFieldChange(tc.field, "Alice", tc.previous, tc.next, "Ship it")
			if msg.ForOthers != tc.wantOthers {
				t.Errorf("ForOthers = %q, want %q", msg.ForOthers, tc.wantOthers)
			}
			wantCreator := "You " + tc.wantOthers[len("Alice "):]
			if msg.ForCreator != wantCreator {
				t.Errorf("ForCreator = %q, want %q", msg.ForCreator, wantCreator)
			}
		})
	}
}

func TestFormatValue(t *testing.T) {
	if got := formatValue(""); got != "none" {
		t.Errorf("empty string = %q, want none", got)
	}
	if got := formatValue((*time.Time)(nil)); got != "none" {
		t.Errorf("nil time = %q, want none", got)
	}
	if got := formatValue(true); got != "true" {
		t.Errorf("bool = %q", got)
	}
}
