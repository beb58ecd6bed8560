package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chatsync/internal/genai"
	"chatsync/internal/media"
	"chatsync/internal/models"
	"chatsync/internal/realtime"
	"chatsync/internal/repositories"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	var out models.User
	if val := args.Get(0); val != nil {
		out = val.(models.User)
	}
	return out, args.Error(1)
}

func (m *UserRepositoryMock) UpdateProfile(ctx context.Context, user models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID string) (models.User, error) {
	args := m.Called(ctx, userID)
	var out models.User
	if val := args.Get(0); val != nil {
		out = val.(models.User)
	}
	return out, args.Error(1)
}

func (m *UserRepositoryMock) ListUsers(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	var out []models.User
	if val := args.Get(0); val != nil {
		out = val.([]models.User)
	}
	return out, args.Error(1)
}

type GroupRepositoryMock struct {
	mock.Mock
}

func (m *GroupRepositoryMock) CreateGroup(ctx context.Context, adminID, name string, memberIDs []string) (models.Group, error) {
	args := m.Called(ctx, adminID, name, memberIDs)
	var out models.Group
	if val := args.Get(0); val != nil {
		out = val.(models.Group)
	}
	return out, args.Error(1)
}

func (m *GroupRepositoryMock) GetGroup(ctx context.Context, groupID string) (models.Group, error) {
	args := m.Called(ctx, groupID)
	var out models.Group
	if val := args.Get(0); val != nil {
		out = val.(models.Group)
	}
	return out, args.Error(1)
}

func (m *GroupRepositoryMock) ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error) {
	args := m.Called(ctx, userID)
	var out []models.Group
	if val := args.Get(0); val != nil {
		out = val.([]models.Group)
	}
	return out, args.Error(1)
}

func (m *GroupRepositoryMock) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	args := m.Called(ctx, groupID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *GroupRepositoryMock) AddMembers(ctx context.Context, groupID, actorID string, memberIDs []string) error {
	args := m.Called(ctx, groupID, actorID, memberIDs)
	return args.Error(0)
}

func (m *GroupRepositoryMock) RemoveMember(ctx context.Context, groupID, actorID, memberID string) error {
	args := m.Called(ctx, groupID, actorID, memberID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, q repositories.MessageQuery) ([]models.Message, error) {
	args := m.Called(ctx, q)
	var out []models.Message
	if val := args.Get(0); val != nil {
		out = val.([]models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) AddReaction(ctx context.Context, ai bool, messageID string, reaction models.Reaction) error {
	args := m.Called(ctx, ai, messageID, reaction)
	return args.Error(0)
}

func (m *MessageRepositoryMock) RemoveReaction(ctx context.Context, ai bool, messageID string, reaction models.Reaction) error {
	args := m.Called(ctx, ai, messageID, reaction)
	return args.Error(0)
}

type UploaderMock struct {
	mock.Mock
}

func (m *UploaderMock) Upload(ctx context.Context, file media.File) (media.Asset, error) {
	args := m.Called(ctx, file)
	var out media.Asset
	if val := args.Get(0); val != nil {
		out = val.(media.Asset)
	}
	return out, args.Error(1)
}

type GeneratorMock struct {
	mock.Mock
}

func (m *GeneratorMock) Generate(ctx context.Context, prompt string, inline *genai.InlineData) (string, error) {
	args := m.Called(ctx, prompt, inline)
	return args.String(0), args.Error(1)
}

var (
	_ repositories.UserRepository    = (*UserRepositoryMock)(nil)
	_ repositories.GroupRepository   = (*GroupRepositoryMock)(nil)
	_ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
)

// DisconnectWriteMock records how often the deferred write was withdrawn.
type DisconnectWriteMock struct {
	Cancelled int
}

func (w *DisconnectWriteMock) Cancel() {
	w.Cancelled++
}

var _ realtime.DisconnectWrite = (*DisconnectWriteMock)(nil)
