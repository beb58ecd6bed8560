package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatsync/internal/mocks"
	"chatsync/internal/models"
	"chatsync/internal/repositories"
)

type invalidatorFake struct {
	mu     sync.Mutex
	users  int
	groups int
}

func (f *invalidatorFake) InvalidateUsers() {
	f.mu.Lock()
	f.users++
	f.mu.Unlock()
}

func (f *invalidatorFake) InvalidateGroups() {
	f.mu.Lock()
	f.groups++
	f.mu.Unlock()
}

func setupGroupRouter(handler *GroupHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "alice")
		c.Next()
	})
	r.POST("/groups", handler.CreateGroup)
	r.GET("/groups", handler.ListGroups)
	r.POST("/groups/:group_id/members", handler.AddMembers)
	r.DELETE("/groups/:group_id/members/:member_id", handler.RemoveMember)
	return r
}

func TestCreateGroupSuccess(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	feeds := &invalidatorFake{}
	router := setupGroupRouter(NewGroupHandler(groupRepo, feeds, nil))

	groupRepo.On("CreateGroup", mock.Anything, "alice", "team", []string{"bob"}).
		Return(models.Group{ID: "g1", Name: "team", AdminID: "alice", Members: []string{"alice", "bob"}}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/groups", bytes.NewBufferString(`{"name":"team","member_ids":["bob"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 1, feeds.groups)
	groupRepo.AssertExpectations(t)
}

func TestCreateGroupInvalidBody(t *testing.T) {
	router := setupGroupRouter(NewGroupHandler(new(mocks.GroupRepositoryMock), &invalidatorFake{}, nil))

	req := httptest.NewRequest(http.MethodPost, "/groups", bytes.NewBufferString(`{"name":5}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddMembersRequiresAdmin(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	feeds := &invalidatorFake{}
	router := setupGroupRouter(NewGroupHandler(groupRepo, feeds, nil))

	groupRepo.On("AddMembers", mock.Anything, "g1", "alice", []string{"carol"}).
		Return(repositories.ErrNotGroupAdmin).Once()

	req := httptest.NewRequest(http.MethodPost, "/groups/g1/members", bytes.NewBufferString(`{"member_ids":["carol"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Zero(t, feeds.groups)
	groupRepo.AssertExpectations(t)
}

func TestRemoveMemberRejectsAdminRemoval(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	router := setupGroupRouter(NewGroupHandler(groupRepo, &invalidatorFake{}, nil))

	groupRepo.On("RemoveMember", mock.Anything, "g1", "alice", "alice").
		Return(repositories.ErrAdminRemoval).Once()

	req := httptest.NewRequest(http.MethodDelete, "/groups/g1/members/alice", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	groupRepo.AssertExpectations(t)
}

func TestRemoveMemberUnknownGroup(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	router := setupGroupRouter(NewGroupHandler(groupRepo, &invalidatorFake{}, nil))

	groupRepo.On("RemoveMember", mock.Anything, "missing", "alice", "bob").
		Return(repositories.ErrGroupNotFound).Once()

	req := httptest.NewRequest(http.MethodDelete, "/groups/missing/members/bob", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveMemberSuccess(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	feeds := &invalidatorFake{}
	router := setupGroupRouter(NewGroupHandler(groupRepo, feeds, nil))

	groupRepo.On("RemoveMember", mock.Anything, "g1", "alice", "bob").Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/groups/g1/members/bob", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, 1, feeds.groups)
}

func TestListGroups(t *testing.T) {
	groupRepo := new(mocks.GroupRepositoryMock)
	router := setupGroupRouter(NewGroupHandler(groupRepo, &invalidatorFake{}, nil))

	groupRepo.On("ListGroupsForUser", mock.Anything, "alice").
		Return([]models.Group{{ID: "g1", Name: "team"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/groups", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"g1"`)
}
