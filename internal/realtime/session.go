package realtime

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Session is one connected client. UserID comes from the connect ticket and
// is the trusted identity for everything the session sends.
type Session struct {
	ID       string
	UserID   string
	UserName string

	conn *websocket.Conn
	mu   sync.Mutex
	send chan []byte
	dead bool
}

func newSession(id, userID, userName string, conn *websocket.Conn) *Session {
	return &Session{
		ID:       id,
		UserID:   userID,
		UserName: userName,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}
}

// enqueue offers a message without blocking. False means the buffer is full
// and the hub should drop the session.
func (s *Session) enqueue(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return true
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	if !s.dead {
		s.dead = true
		close(s.send)
	}
	s.mu.Unlock()
}

// writePump drains the outbound channel onto the wire and keeps the
// connection alive with pings. It exits when close() is called or a write
// fails.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("realtime: write to session %s: %v", s.ID, err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
