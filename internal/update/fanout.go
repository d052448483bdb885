package update

import (
	"fmt"

	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

// deriveNotifications decides who must be told about an accepted field
// change and builds the notification records. The records are not persisted
// here; the coordinator stores and emits them as a best-effort side channel.
//
// Assignment changes notify only the newly added assignees, excluding the
// actor. A move to in_progress notifies the task creator even when the
// creator made the change themselves; that asymmetry matches the product
// behavior the frontend expects.
func deriveNotifications(field string, previous, next any, task store.Task, project store.Project, actor store.User, contextPath, message string) []store.Notification {
	base := store.Notification{
		ChannelID:   project.ChannelID,
		TabID:       project.TabID,
		ProjectID:   project.ID,
		TaskID:      task.ID,
		CreatedBy:   actor.ID,
		Message:     message,
		ContextPath: contextPath,
	}

	switch field {
	case "assignedTo":
		prevList, _ := previous.([]string)
		nextList, _ := next.([]string)
		existing := make(map[string]struct{}, len(prevList))
		for _, userID := range prevList {
			existing[userID] = struct{}{}
		}
		var out []store.Notification
		for _, userID := range nextList {
			if _, already := existing[userID]; already {
				continue
			}
			if userID == actor.ID {
				continue
			}
			n := base
			n.ID = util.NewID("notif")
			n.UserID = userID
			n.Type = store.NotificationMention
			n.Title = fmt.Sprintf("%s assigned you to %q", actor.Name, task.Title)
			out = append(out, n)
		}
		return out
	case "status":
		if nextStatus, _ := next.(string); nextStatus == StatusInProgress {
			n := base
			n.ID = util.NewID("notif")
			n.UserID = task.CreatedBy
			n.Type = store.NotificationWorkInProgress
			n.Title = fmt.Sprintf("Work started on %q", task.Title)
			return []store.Notification{n}
		}
		return channelNotification(base, task, actor)
	default:
		return channelNotification(base, task, actor)
	}
}

func channelNotification(base store.Notification, task store.Task, actor store.User) []store.Notification {
	n := base
	n.ID = util.NewID("notif")
	n.UserID = task.CreatedBy
	n.Type = store.NotificationChannel
	n.Title = fmt.Sprintf("%s updated %q", actor.Name, task.Title)
	return []store.Notification{n}
}
