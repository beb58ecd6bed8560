package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chatsync/internal/middleware"
	"chatsync/internal/observability"
)

// FeedWebSocketHandler serves the live state feed consumed by the rendering
// layer.
type FeedWebSocketHandler struct {
	hub      *Hub
	verifier middleware.TokenVerifier
}

// NewFeedWebSocketHandler constructs a FeedWebSocketHandler.
func NewFeedWebSocketHandler(hub *Hub, verifier middleware.TokenVerifier) *FeedWebSocketHandler {
	return &FeedWebSocketHandler{hub: hub, verifier: verifier}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the client for state pushes.
func (h *FeedWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chatsync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
	} else if len(token) > 7 {
		token = token[7:] // strip "Bearer "
	}

	userID, err := h.verifier.Validate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		IP:          c.ClientIP(),
		RequestID:   c.GetHeader("X-Request-Id"),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(userID, conn, info)

	observability.IncWSActive("feed")
	observability.IncWSEvent("feed", "ws_connect")
	_ = observability.PublishEvent(ctx, "ws_events.feed", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":   "ws_connect",
				"conn_id": info.ConnID,
			},
			"identity": map[string]interface{}{
				"user_id": info.UserID,
				"ip":      info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))

	// Keep connection alive and clean up on close.
	go func() {
		defer func() {
			h.hub.RemoveClient(userID, conn)
			observability.DecWSActive("feed")
			observability.IncWSEvent("feed", "ws_disconnect")
			_ = observability.PublishEvent(ctx, "ws_events.feed", observability.EventEnvelope{
				EventType: "ws_events",
				EventName: "ws_disconnect",
				Payload: map[string]interface{}{
					"ws": map[string]interface{}{
						"event":       "ws_disconnect",
						"conn_id":     info.ConnID,
						"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
					},
					"identity": map[string]interface{}{
						"user_id": info.UserID,
						"ip":      info.IP,
					},
				},
			}, observability.BuildHeaders(info.RequestID, info.TraceID))
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
