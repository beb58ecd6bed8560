package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatsync/internal/repositories"
	"chatsync/internal/telemetry"
)

// GroupHandler manages group-related endpoints. Member mutations are admin
// only; the repository enforces the invariant, the handler maps it to HTTP.
type GroupHandler struct {
	groupRepo repositories.GroupRepository
	feeds     feedInvalidator
	audit     *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(groupRepo repositories.GroupRepository, feeds feedInvalidator, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{
		groupRepo: groupRepo,
		feeds:     feeds,
		audit:     audit,
	}
}

// CreateGroup handles POST /groups.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	userID := userIDFromContext(c)

	var req struct {
		Name      string   `json:"name" binding:"required"`
		MemberIDs []string `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.groupRepo.CreateGroup(c.Request.Context(), userID, req.Name, req.MemberIDs)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create group"})
		return
	}

	h.feeds.InvalidateGroups()
	h.emitAudit(c, "INFO", "Group created")
	c.JSON(http.StatusCreated, group)
}

// ListGroups returns groups the caller belongs to.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	userID := userIDFromContext(c)
	groups, err := h.groupRepo.ListGroupsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load groups"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// AddMembers handles POST /groups/:group_id/members.
func (h *GroupHandler) AddMembers(c *gin.Context) {
	groupID := c.Param("group_id")
	userID := userIDFromContext(c)

	var req struct {
		MemberIDs []string `json:"member_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.groupRepo.AddMembers(c.Request.Context(), groupID, userID, req.MemberIDs); err != nil {
		h.respondMembershipError(c, err, "could not add members")
		return
	}

	h.feeds.InvalidateGroups()
	h.emitAudit(c, "INFO", "Group members added")
	c.Status(http.StatusNoContent)
}

// RemoveMember handles DELETE /groups/:group_id/members/:member_id.
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	groupID := c.Param("group_id")
	memberID := c.Param("member_id")
	userID := userIDFromContext(c)

	if err := h.groupRepo.RemoveMember(c.Request.Context(), groupID, userID, memberID); err != nil {
		h.respondMembershipError(c, err, "could not remove member")
		return
	}

	h.feeds.InvalidateGroups()
	h.emitAudit(c, "INFO", "Group member removed")
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) respondMembershipError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, repositories.ErrGroupNotFound):
		h.emitAudit(c, "ERROR", "group not found")
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
	case errors.Is(err, repositories.ErrNotGroupAdmin):
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "only the admin may change members"})
	case errors.Is(err, repositories.ErrAdminRemoval):
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "the admin cannot be removed"})
	default:
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
