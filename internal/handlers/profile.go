package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatsync/internal/models"
	"chatsync/internal/repositories"
	"chatsync/internal/telemetry"
)

// tokenIssuer mints session tokens after a profile is established.
type tokenIssuer interface {
	Issue(userID string, remember bool) (string, error)
}

// feedInvalidator pushes fresh snapshots to live subscribers after a
// directory write.
type feedInvalidator interface {
	InvalidateUsers()
	InvalidateGroups()
}

// ProfileHandler manages sign-up and profile endpoints.
type ProfileHandler struct {
	userRepo repositories.UserRepository
	tokens   tokenIssuer
	feeds    feedInvalidator
	audit    *telemetry.AuditEmitter
}

// NewProfileHandler constructs a ProfileHandler.
func NewProfileHandler(userRepo repositories.UserRepository, tokens tokenIssuer, feeds feedInvalidator, audit *telemetry.AuditEmitter) *ProfileHandler {
	return &ProfileHandler{
		userRepo: userRepo,
		tokens:   tokens,
		feeds:    feeds,
		audit:    audit,
	}
}

// Signup handles POST /auth/signup. The profile must be completed before any
// other endpoint is usable; a duplicate identifier is rejected whole.
func (h *ProfileHandler) Signup(c *gin.Context) {
	var req struct {
		ID        string `json:"id" binding:"required"`
		Name      string `json:"name" binding:"required"`
		PhotoURL  string `json:"photo_url"`
		AvatarURL string `json:"avatar_url"`
		Remember  bool   `json:"remember"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userRepo.CreateUser(c.Request.Context(), models.User{
		ID:        req.ID,
		Name:      req.Name,
		PhotoURL:  req.PhotoURL,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrUserExists) {
			h.emitAudit(c, "ERROR", "duplicate profile")
			c.JSON(http.StatusConflict, gin.H{"error": "profile already exists"})
			return
		}
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create profile"})
		return
	}

	token, err := h.tokens.Issue(user.ID, req.Remember)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}

	h.feeds.InvalidateUsers()
	h.emitAudit(c, "INFO", "Profile created")
	c.JSON(http.StatusCreated, gin.H{"token": token, "user": user})
}

// Login handles POST /auth/login for an already established profile.
func (h *ProfileHandler) Login(c *gin.Context) {
	var req struct {
		ID       string `json:"id" binding:"required"`
		Remember bool   `json:"remember"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userRepo.GetUser(c.Request.Context(), req.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such profile"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load profile"})
		return
	}

	token, err := h.tokens.Issue(user.ID, req.Remember)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}

	h.emitAudit(c, "INFO", "Login")
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// GetProfile returns the caller's own profile.
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	userID := userIDFromContext(c)
	user, err := h.userRepo.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such profile"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load profile"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateProfile edits the mutable profile fields and pushes a fresh directory
// snapshot to every subscriber.
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	userID := userIDFromContext(c)

	var req struct {
		Name      string `json:"name" binding:"required"`
		PhotoURL  string `json:"photo_url"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.userRepo.UpdateProfile(c.Request.Context(), models.User{
		ID:        userID,
		Name:      req.Name,
		PhotoURL:  req.PhotoURL,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no such profile"})
			return
		}
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update profile"})
		return
	}

	h.feeds.InvalidateUsers()
	h.emitAudit(c, "INFO", "Profile updated")
	c.Status(http.StatusNoContent)
}

func (h *ProfileHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
