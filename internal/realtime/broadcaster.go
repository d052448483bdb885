package realtime

import (
	"fmt"

	"taskboard/api/internal/store"
	"taskboard/api/internal/update"
)

// Broadcaster shapes accepted updates into room messages. The task room gets
// a minimal delta (clients there already hold the task); the tab activity
// feed gets the full snapshot plus a display banner; each notified user's
// personal room gets the stored notification.
type Broadcaster struct {
	hub *Hub
}

func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

func (b *Broadcaster) EmitTaskEvent(evt update.Event) {
	act := activityPayload{
		ID: evt.Activity.ID,
		Message: messagePair{
			ForCreator: evt.Activity.ForCreator,
			ForOthers:  evt.Activity.ForOthers,
		},
		Timestamp: evt.Activity.CreatedAt,
		User: userRef{
			ID:    evt.Actor.ID,
			Name:  evt.Actor.Name,
			Email: evt.Actor.Email,
		},
	}

	b.hub.Publish(roomTask+evt.TaskID, updateSuccess{
		Type:          msgTaskUpdateResponse,
		Success:       true,
		TaskID:        evt.TaskID,
		Field:         evt.Field,
		PreviousValue: evt.Previous,
		NewValue:      evt.New,
		Version:       evt.Version,
		Activity:      act,
	})

	b.hub.Publish(roomTab+evt.TabID, tabActivity{
		Type:     msgTabActivity,
		TabID:    evt.TabID,
		TaskID:   evt.TaskID,
		Field:    evt.Field,
		Task:     snapshotTask(evt.Task),
		Activity: act,
		Banner:   fmt.Sprintf("%s updated %s in %q", evt.Actor.Name, evt.Field, evt.Task.Title),
		User:     act.User,
	})
}

func (b *Broadcaster) EmitUserNotification(userID string, n store.Notification) {
	b.hub.Publish(roomUser+userID, notificationMessage{
		Type: msgNotification,
		Notification: notificationShape{
			ID:          n.ID,
			UserID:      n.UserID,
			Kind:        n.Type,
			TaskID:      n.TaskID,
			ProjectID:   n.ProjectID,
			CreatedBy:   n.CreatedBy,
			Title:       n.Title,
			Message:     n.Message,
			ContextPath: n.ContextPath,
			CreatedAt:   n.CreatedAt,
		},
	})
}
