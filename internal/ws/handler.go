package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"chat-relay/internal/models"
	"chat-relay/internal/observability"
	"chat-relay/internal/protocol"
	"chat-relay/internal/relay"
	"chat-relay/internal/telemetry"
)

// Error codes carried in error frames.
const (
	errBadJSON      = "bad_json"
	errInvalidName  = "invalid_name"
	errUnauthorized = "unauthorized"
	errEmptyMessage = "empty_message"
	errUnknownType  = "unknown_type"
)

var tracer trace.Tracer = otel.Tracer("chat-relay/ws")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests and runs the per-session protocol
// loop against the coordinator.
type Handler struct {
	coordinator *relay.Coordinator
	audit       *telemetry.AuditEmitter
}

// NewHandler constructs a Handler. audit may be nil.
func NewHandler(coordinator *relay.Coordinator, audit *telemetry.AuditEmitter) *Handler {
	return &Handler{coordinator: coordinator, audit: audit}
}

// Handle upgrades the connection, assigns a session id, sends the
// hello frame and blocks in the read loop until the peer goes away.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	sess := newSession(newSessionID(), conn)
	go sess.writePump()

	info := ConnInfo{
		SessionID:   sess.id,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	observability.IncSessionsActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(ctx, info, "ws_connect", "")

	hello, _ := json.Marshal(models.Hello{Type: models.EventHello, AskName: true})
	sess.Deliver(hello)

	h.readLoop(ctx, sess, info)
}

func (h *Handler) readLoop(ctx context.Context, sess *session, info ConnInfo) {
	var closeReason string
	defer func() {
		name, wasAuthed := h.coordinator.Disconnect(sess.id)
		sess.close()
		observability.DecSessionsActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycle(ctx, info, "ws_disconnect", closeReason)
		if wasAuthed {
			h.audit.Emit(ctx, "INFO", fmt.Sprintf("session disconnected name=%s", name), info.RequestID, &sess.id)
		}
	}()

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("websocket read error session=%s: %v", sess.id, err)
				observability.IncWSEvent("ws_error")
				h.publishLifecycle(ctx, info, "ws_error", closeReason)
			}
			return
		}
		h.handleFrame(ctx, sess, info, data)
	}
}

// handleFrame runs one inbound frame to completion. Protocol errors
// are answered in-band and never close the connection.
func (h *Handler) handleFrame(ctx context.Context, sess *session, info ConnInfo, data []byte) {
	frame, err := protocol.ParseFrame(data)
	if err != nil {
		var unknown *protocol.UnknownTypeError
		switch {
		case errors.As(err, &unknown):
			// An unrecognized type from an unauthenticated session is
			// still an unauthorized frame, not an unknown one.
			if h.coordinator.Authenticated(sess.id) {
				h.sendError(sess, errUnknownType)
			} else {
				h.sendError(sess, errUnauthorized)
			}
		default:
			h.sendError(sess, errBadJSON)
		}
		observability.IncWSEvent("frame_error")
		return
	}

	switch f := frame.(type) {
	case protocol.Auth:
		user, err := h.coordinator.Authenticate(sess.id, f.Name, sess)
		if err != nil {
			h.sendRelayError(sess, err)
			return
		}
		observability.IncWSEvent("auth")
		h.publishLifecycle(ctx, info, "ws_authenticated", "")
		h.audit.Emit(ctx, "INFO", fmt.Sprintf("session authenticated name=%s", user.Name), info.RequestID, &sess.id)
	case protocol.Typing:
		if err := h.coordinator.Typing(sess.id, f.Text); err != nil {
			h.sendRelayError(sess, err)
			return
		}
		observability.IncWSEvent("typing")
	case protocol.Message:
		if _, err := h.coordinator.Post(sess.id, f.Text, f.Files); err != nil {
			h.sendRelayError(sess, err)
			return
		}
		observability.IncWSEvent("message")
	case protocol.Who:
		if err := h.coordinator.Who(sess.id); err != nil {
			h.sendRelayError(sess, err)
			return
		}
		observability.IncWSEvent("who")
	}
}

func (h *Handler) sendRelayError(sess *session, err error) {
	switch {
	case errors.Is(err, relay.ErrInvalidName):
		h.sendError(sess, errInvalidName)
	case errors.Is(err, relay.ErrUnauthorized):
		h.sendError(sess, errUnauthorized)
	case errors.Is(err, relay.ErrEmptyMessage):
		h.sendError(sess, errEmptyMessage)
	default:
		log.Printf("relay error session=%s: %v", sess.id, err)
	}
	observability.IncWSEvent("frame_error")
}

func (h *Handler) sendError(sess *session, code string) {
	payload, _ := json.Marshal(models.ErrorEvent{Type: models.EventError, Message: code})
	sess.Deliver(payload)
}

func (h *Handler) publishLifecycle(ctx context.Context, info ConnInfo, event, reason string) {
	_ = observability.PublishEvent(ctx, "ws_events.relay", observability.EventEnvelope{
		EventID:   uuid.NewString(),
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"session_id":  info.SessionID,
				"event":       event,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
