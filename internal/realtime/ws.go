package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"taskboard/api/internal/store"
	"taskboard/api/internal/update"
	"taskboard/api/internal/util"
)

// Updater applies one task-field update intent end to end.
type Updater interface {
	Apply(ctx context.Context, intent update.Intent) (update.Result, *update.Error)
}

// TicketStore resolves a one-time connect ticket to a verified user.
type TicketStore interface {
	TakeTicket(ctx context.Context, ticketHash string) (store.User, error)
}

// HashTicket hashes the raw ticket before the store lookup; wired from
// internal/auth so this package does not pick its own hash.
type HashTicket func(raw string) string

// Server upgrades websocket connections and dispatches client messages to
// the hub and the update coordinator.
type Server struct {
	hub        *Hub
	updater    Updater
	tickets    TicketStore
	hashTicket HashTicket
	upgrader   websocket.Upgrader

	applyTimeout time.Duration
}

func NewServer(hub *Hub, updater Updater, tickets TicketStore, hashTicket HashTicket) *Server {
	return &Server{
		hub:        hub,
		updater:    updater,
		tickets:    tickets,
		hashTicket: hashTicket,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients send Origin; CORS policy is enforced at
			// ticket issue time, the upgrade itself accepts any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		applyTimeout: 15 * time.Second,
	}
}

// HandleWS is the GET /ws endpoint. The ticket in the query string was
// minted at login and is consumed on first use.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		http.Error(w, "missing ticket", http.StatusUnauthorized)
		return
	}
	user, err := s.tickets.TakeTicket(r.Context(), s.hashTicket(ticket))
	if err != nil {
		http.Error(w, "invalid ticket", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: upgrade for user %s: %v", user.ID, err)
		return
	}

	sess := newSession(util.NewID("sess"), user.ID, user.Name, conn)
	s.hub.Register(sess)
	go sess.writePump()
	s.readPump(sess)
}

func (s *Server) readPump(sess *Session) {
	defer s.hub.Unregister(sess)

	sess.conn.SetReadLimit(maxMessageSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("realtime: session %s read: %v", sess.ID, err)
			}
			return
		}
		s.dispatch(sess, payload)
	}
}

func (s *Server) dispatch(sess *Session, payload []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("realtime: session %s sent malformed message: %v", sess.ID, err)
		return
	}

	switch msg.Type {
	case msgJoinUserTabs:
		// The session identity is authoritative; the userId in the message
		// is ignored beyond shape.
		s.hub.SetUserRooms(sess, sess.UserID, msg.TabIDs)
	case msgJoinTask:
		if msg.TaskID != "" {
			s.hub.Join(sess, roomTask+msg.TaskID)
		}
	case msgLeaveTask:
		if msg.TaskID != "" {
			s.hub.Leave(sess, roomTask+msg.TaskID)
		}
	case msgTaskUpdate:
		// Each intent runs on its own goroutine so a slow update to one
		// field never blocks this client's edits to other fields. Per-field
		// ordering comes from the coordinator's lock table, not from here.
		go s.applyUpdate(sess, msg)
	case msgTaskEditing:
		s.hub.PublishExcept(roomTask+msg.TaskID, sess, userEditing{
			Type:      msgUserEditing,
			TaskID:    msg.TaskID,
			Field:     msg.Field,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
			IsEditing: msg.IsEditing,
		})
	default:
		log.Printf("realtime: session %s sent unknown message type %q", sess.ID, msg.Type)
	}
}

func (s *Server) applyUpdate(sess *Session, msg inboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), s.applyTimeout)
	defer cancel()

	var value any
	if len(msg.Value) > 0 {
		if err := json.Unmarshal(msg.Value, &value); err != nil {
			s.sendFailure(sess, msg, &update.Error{
				Code:    update.CodeInvalidValue,
				Field:   msg.Field,
				Message: "value is not valid JSON",
			})
			return
		}
	}

	_, uerr := s.updater.Apply(ctx, update.Intent{
		TaskID:  msg.TaskID,
		Field:   msg.Field,
		Value:   value,
		UserID:  sess.UserID,
		Version: msg.Version,
	})
	if uerr != nil {
		// Failures go to the requester only; the success path was already
		// broadcast to the task room by the coordinator.
		s.sendFailure(sess, msg, uerr)
	}
}

func (s *Server) sendFailure(sess *Session, msg inboundMessage, uerr *update.Error) {
	encoded, err := json.Marshal(updateFailure{
		Type:            msgTaskUpdateResponse,
		Success:         false,
		Error:           uerr.Message,
		TaskID:          msg.TaskID,
		Field:           msg.Field,
		Conflict:        uerr.Conflict,
		CurrentVersion:  uerr.CurrentVersion,
		ProvidedVersion: uerr.ProvidedVersion,
	})
	if err != nil {
		return
	}
	if !sess.enqueue(encoded) {
		s.hub.Unregister(sess)
	}
}
