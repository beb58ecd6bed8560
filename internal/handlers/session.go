package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chatsync/internal/media"
	"chatsync/internal/session"
	"chatsync/internal/telemetry"
)

// SessionHandler exposes the per-user session over HTTP. Every endpoint acts
// on the caller's own session; state updates flow back over the feed socket.
type SessionHandler struct {
	manager *SessionManager
	audit   *telemetry.AuditEmitter
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(manager *SessionManager, audit *telemetry.AuditEmitter) *SessionHandler {
	return &SessionHandler{manager: manager, audit: audit}
}

// Open handles POST /session.
func (h *SessionHandler) Open(c *gin.Context) {
	userID := userIDFromContext(c)
	if _, err := h.manager.Open(c.Request.Context(), userID); err != nil {
		h.emitAudit(c, "ERROR", "session open failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not open session"})
		return
	}
	h.emitAudit(c, "INFO", "Session opened")
	c.Status(http.StatusCreated)
}

// Close handles DELETE /session. Closing cancels the deferred offline write;
// it does not itself publish an offline status.
func (h *SessionHandler) Close(c *gin.Context) {
	userID := userIDFromContext(c)
	h.manager.Close(c.Request.Context(), userID)
	h.emitAudit(c, "INFO", "Session closed")
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) liveSession(c *gin.Context) (*session.Session, bool) {
	s, ok := h.manager.Get(userIDFromContext(c))
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no open session"})
		return nil, false
	}
	return s, true
}

// State handles GET /session/state: a full snapshot for late-joining feeds.
func (h *SessionHandler) State(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}

	target := s.Target()
	c.JSON(http.StatusOK, gin.H{
		"target": gin.H{
			"kind":     targetKindName(target.Kind),
			"peer_id":  target.PeerID,
			"group_id": target.GroupID,
		},
		"messages":   s.Messages(),
		"users":      s.Users(),
		"groups":     s.Groups(),
		"ai_loading": s.AILoading(),
	})
}

// SelectTarget handles PUT /session/target.
func (h *SessionHandler) SelectTarget(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}

	var req struct {
		Kind    string `json:"kind" binding:"required"`
		PeerID  string `json:"peer_id"`
		GroupID string `json:"group_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	switch req.Kind {
	case "user":
		if req.PeerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "peer_id is required"})
			return
		}
		err = s.SelectUser(c.Request.Context(), req.PeerID)
	case "group":
		if req.GroupID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "group_id is required"})
			return
		}
		err = s.SelectGroup(c.Request.Context(), req.GroupID)
	case "ai":
		err = s.SelectAI(c.Request.Context())
	case "none":
		s.Deselect()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown target kind"})
		return
	}
	if err != nil {
		h.emitAudit(c, "ERROR", "target selection failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not select target"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Typing handles POST /session/typing.
func (h *SessionHandler) Typing(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.InputChanged(c.Request.Context(), req.Text)
	c.Status(http.StatusNoContent)
}

// SendMessage handles POST /session/messages. The request is JSON for plain
// text, or multipart form data with a "text" field and an "attachment" file.
func (h *SessionHandler) SendMessage(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}

	text, file, err := readComposeRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.Send(c.Request.Context(), text, file); err != nil {
		h.respondSendError(c, err)
		return
	}

	h.emitAudit(c, "INFO", "Message sent")
	c.Status(http.StatusCreated)
}

func readComposeRequest(c *gin.Context) (string, *media.File, error) {
	if c.ContentType() != "multipart/form-data" {
		var req struct {
			Text string `json:"text"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			return "", nil, err
		}
		return req.Text, nil, nil
	}

	text := c.PostForm("text")
	header, err := c.FormFile("attachment")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return text, nil, nil
		}
		return "", nil, err
	}

	f, err := header.Open()
	if err != nil {
		return "", nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, media.MaxFileSize+1))
	if err != nil {
		return "", nil, err
	}

	return text, &media.File{
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}

func (h *SessionHandler) respondSendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNoTarget):
		c.JSON(http.StatusConflict, gin.H{"error": "no conversation selected"})
	case errors.Is(err, session.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "message needs text or an attachment"})
	case errors.Is(err, session.ErrSendInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "a send is already in progress"})
	case errors.Is(err, media.ErrFileTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "attachment too large"})
	case errors.Is(err, media.ErrUnsupportedType), errors.Is(err, media.ErrEmptyFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.emitAudit(c, "ERROR", "send failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send message"})
	}
}

// AddReaction handles POST /session/messages/:message_id/reactions.
func (h *SessionHandler) AddReaction(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}

	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.AddReaction(c.Request.Context(), c.Param("message_id"), req.Emoji); err != nil {
		h.respondReactionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveReaction handles DELETE /session/messages/:message_id/reactions/:emoji.
func (h *SessionHandler) RemoveReaction(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}

	if err := s.RemoveReaction(c.Request.Context(), c.Param("message_id"), c.Param("emoji")); err != nil {
		h.respondReactionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) respondReactionError(c *gin.Context, err error) {
	if errors.Is(err, session.ErrUnknownMessage) {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	h.emitAudit(c, "ERROR", "reaction write failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update reaction"})
}

// Summarize handles POST /session/summary.
func (h *SessionHandler) Summarize(c *gin.Context) {
	s, ok := h.liveSession(c)
	if !ok {
		return
	}

	var req struct {
		From time.Time `json:"from" binding:"required"`
		To   time.Time `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.To.After(req.From) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
		return
	}

	summary, err := s.Summarize(c.Request.Context(), req.From, req.To)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNoTarget):
			c.JSON(http.StatusConflict, gin.H{"error": "no conversation selected"})
		case errors.Is(err, session.ErrNoMessagesInRange):
			c.JSON(http.StatusNotFound, gin.H{"error": "no messages in range"})
		default:
			h.emitAudit(c, "ERROR", "summary failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not summarize"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

func targetKindName(kind session.TargetKind) string {
	switch kind {
	case session.TargetUser:
		return "user"
	case session.TargetGroup:
		return "group"
	case session.TargetAI:
		return "ai"
	default:
		return "none"
	}
}

func (h *SessionHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
