package realtime

import (
	"encoding/json"
	"testing"

	"taskboard/api/internal/store"
	"taskboard/api/internal/update"
)

// testSession registers a connectionless session whose outbound channel the
// test drains directly.
func testSession(t *testing.T, h *Hub, id, userID string) *Session {
	t.Helper()
	s := newSession(id, userID, "User "+userID, nil)
	h.Register(s)
	t.Cleanup(func() { h.Unregister(s) })
	return s
}

func drainOne(t *testing.T, s *Session) map[string]any {
	t.Helper()
	select {
	case payload, ok := <-s.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var decoded map[string]any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("bad payload %s: %v", payload, err)
		}
		return decoded
	default:
		t.Fatal("no message queued")
	}
	return nil
}

func assertEmpty(t *testing.T, s *Session) {
	t.Helper()
	select {
	case payload := <-s.send:
		t.Fatalf("unexpected message: %s", payload)
	default:
	}
}

func TestPublishReachesRoomMembersOnly(t *testing.T) {
	h := NewHub()
	inRoom := testSession(t, h, "s1", "u1")
	alsoIn := testSession(t, h, "s2", "u2")
	outside := testSession(t, h, "s3", "u3")

	h.Join(inRoom, roomTask+"task1")
	h.Join(alsoIn, roomTask+"task1")
	h.Join(outside, roomTask+"task2")

	h.Publish(roomTask+"task1", map[string]string{"type": "ping"})

	if msg := drainOne(t, inRoom); msg["type"] != "ping" {
		t.Errorf("member 1 got %v", msg)
	}
	if msg := drainOne(t, alsoIn); msg["type"] != "ping" {
		t.Errorf("member 2 got %v", msg)
	}
	assertEmpty(t, outside)
}

func TestPublishExceptSkipsSender(t *testing.T) {
	h := NewHub()
	sender := testSession(t, h, "s1", "u1")
	peer := testSession(t, h, "s2", "u2")
	h.Join(sender, roomTask+"task1")
	h.Join(peer, roomTask+"task1")

	h.PublishExcept(roomTask+"task1", sender, map[string]string{"type": "user-editing"})

	drainOne(t, peer)
	assertEmpty(t, sender)
}

func TestSetUserRoomsIsIdempotentSwap(t *testing.T) {
	h := NewHub()
	s := testSession(t, h, "s1", "u1")
	h.Join(s, roomTask+"task1")

	h.SetUserRooms(s, "u1", []string{"tabA", "tabB"})
	if h.RoomSize(roomTab+"tabA") != 1 || h.RoomSize(roomUser+"u1") != 1 {
		t.Fatal("initial rooms not joined")
	}

	// Re-sending with a different tab set swaps tab membership but leaves
	// task rooms alone.
	h.SetUserRooms(s, "u1", []string{"tabB", "tabC"})
	if h.RoomSize(roomTab + "tabA") != 0 {
		t.Error("stale tab room retained")
	}
	if h.RoomSize(roomTab+"tabB") != 1 || h.RoomSize(roomTab+"tabC") != 1 {
		t.Error("new tab rooms not joined")
	}
	if h.RoomSize(roomUser+"u1") != 1 {
		t.Error("user room lost on re-join")
	}
	if h.RoomSize(roomTask+"task1") != 1 {
		t.Error("task room membership disturbed")
	}
}

func TestLeaveAndUnregister(t *testing.T) {
	h := NewHub()
	s := testSession(t, h, "s1", "u1")
	h.Join(s, roomTask+"task1")
	h.Join(s, roomTask+"task2")

	h.Leave(s, roomTask+"task1")
	if h.RoomSize(roomTask+"task1") != 0 {
		t.Error("leave did not remove membership")
	}
	if h.RoomSize(roomTask+"task2") != 1 {
		t.Error("leave removed unrelated membership")
	}

	h.Unregister(s)
	if h.RoomSize(roomTask+"task2") != 0 {
		t.Error("unregister left session in room")
	}
	// Publishing to an emptied room is a no-op, not a panic.
	h.Publish(roomTask+"task2", map[string]string{"type": "ping"})
}

func TestSlowSessionIsDropped(t *testing.T) {
	h := NewHub()
	slow := testSession(t, h, "s1", "u1")
	healthy := testSession(t, h, "s2", "u2")
	h.Join(slow, roomTab+"tab1")
	h.Join(healthy, roomTab+"tab1")

	for i := 0; i < sendBuffer+1; i++ {
		h.Publish(roomTab+"tab1", map[string]int{"seq": i})
	}

	if h.RoomSize(roomTab+"tab1") != 0 {
		// healthy also overflowed since nothing drains it; both must be
		// dropped rather than blocking the publisher.
		t.Errorf("room size = %d, want 0 after overflow", h.RoomSize(roomTab+"tab1"))
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	h := NewHub()
	s := newSession("s1", "u1", "User", nil)
	h.Register(s)
	h.Join(s, roomTask+"task1")

	h.Shutdown()

	if _, ok := <-s.send; ok {
		t.Error("send channel still open after shutdown")
	}
	// Late registration after shutdown closes the session immediately.
	late := newSession("s2", "u2", "User", nil)
	h.Register(late)
	if _, ok := <-late.send; ok {
		t.Error("post-shutdown session not closed")
	}
}

func TestBroadcasterShapesRoomMessages(t *testing.T) {
	h := NewHub()
	b := NewBroadcaster(h)

	taskViewer := testSession(t, h, "s1", "u1")
	tabViewer := testSession(t, h, "s2", "u2")
	h.Join(taskViewer, roomTask+"task1")
	h.Join(tabViewer, roomTab+"tab1")

	b.EmitTaskEvent(update.Event{
		TaskID:   "task1",
		TabID:    "tab1",
		Field:    "status",
		Previous: "todo",
		New:      "in_progress",
		Version:  4,
		Task:     store.Task{ID: "task1", Title: "Ship it", Status: "in_progress", Version: 4},
		Activity: store.Activity{ID: "act1", ForCreator: "You moved it", ForOthers: "Alice moved it"},
		Actor:    store.User{ID: "u9", Name: "Alice"},
	})

	taskMsg := drainOne(t, taskViewer)
	if taskMsg["type"] != msgTaskUpdateResponse || taskMsg["success"] != true {
		t.Errorf("task room message = %v", taskMsg)
	}
	if taskMsg["field"] != "status" || taskMsg["newValue"] != "in_progress" || taskMsg["previousValue"] != "todo" {
		t.Errorf("task room delta = %v", taskMsg)
	}
	if taskMsg["version"] != float64(4) {
		t.Errorf("version = %v, want 4", taskMsg["version"])
	}

	tabMsg := drainOne(t, tabViewer)
	if tabMsg["type"] != msgTabActivity || tabMsg["tabId"] != "tab1" {
		t.Errorf("tab room message = %v", tabMsg)
	}
	if _, ok := tabMsg["task"].(map[string]any); !ok {
		t.Error("tab activity missing task snapshot")
	}

	b.EmitUserNotification("u1", store.Notification{ID: "n1", UserID: "u1", Type: store.NotificationMention})
	assertEmpty(t, taskViewer) // u1's session is not in its user room yet

	h.SetUserRooms(taskViewer, "u1", nil)
	b.EmitUserNotification("u1", store.Notification{ID: "n2", UserID: "u1", Type: store.NotificationMention})
	notifMsg := drainOne(t, taskViewer)
	if notifMsg["type"] != msgNotification {
		t.Errorf("notification message = %v", notifMsg)
	}
}
