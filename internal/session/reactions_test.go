package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatsync/internal/models"
)

func seedConversation(t *testing.T, s *Session, env *testEnv, msgs ...models.Message) string {
	t.Helper()
	key := "c:" + models.ConversationKey("alice", "bob")
	env.feeds.mu.Lock()
	env.feeds.byPartition[key] = msgs
	env.feeds.mu.Unlock()
	require.NoError(t, s.SelectUser(context.Background(), "bob"))
	return key
}

func TestAddReactionOptimisticThenConfirmed(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	convID := models.ConversationKey("alice", "bob")
	key := seedConversation(t, s, env, models.Message{ID: "m1", ConversationID: convID})

	env.msgRepo.On("AddReaction", mock.Anything, false, "m1", mock.MatchedBy(func(r models.Reaction) bool {
		return r.Emoji == "👍" && r.UserID == "alice"
	})).Return(nil).Once()

	require.NoError(t, s.AddReaction(context.Background(), "m1", "👍"))

	msgs := s.Messages()
	require.Len(t, msgs[0].Reactions, 1)
	require.Equal(t, "👍", msgs[0].Reactions[0].Emoji)
	require.Contains(t, env.feeds.invalidations, key)
	env.msgRepo.AssertExpectations(t)
}

func TestAddReactionRollsBackOnWriteFailure(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	convID := models.ConversationKey("alice", "bob")
	seedConversation(t, s, env, models.Message{ID: "m1", ConversationID: convID})

	env.msgRepo.On("AddReaction", mock.Anything, false, "m1", mock.Anything).
		Return(errors.New("write denied")).Once()

	require.Error(t, s.AddReaction(context.Background(), "m1", "👍"))
	require.Empty(t, s.Messages()[0].Reactions)
	require.Empty(t, env.feeds.invalidations)
}

func TestAddReactionRollbackRemovesMatchingPairs(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	convID := models.ConversationKey("alice", "bob")
	// A matching reaction already confirmed on the server.
	seedConversation(t, s, env, models.Message{
		ID:             "m1",
		ConversationID: convID,
		Reactions:      []models.Reaction{{Emoji: "👍", UserID: "alice"}},
	})

	env.msgRepo.On("AddReaction", mock.Anything, false, "m1", mock.Anything).
		Return(errors.New("write denied")).Once()

	require.Error(t, s.AddReaction(context.Background(), "m1", "👍"))
	// The rollback predicate matches (emoji, user), so the pre-existing
	// entry is swept away with the optimistic one.
	require.Empty(t, s.Messages()[0].Reactions)
}

func TestAddReactionAllowsDuplicates(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	convID := models.ConversationKey("alice", "bob")
	seedConversation(t, s, env, models.Message{ID: "m1", ConversationID: convID})

	env.msgRepo.On("AddReaction", mock.Anything, false, "m1", mock.Anything).Return(nil).Twice()

	require.NoError(t, s.AddReaction(context.Background(), "m1", "👍"))
	require.NoError(t, s.AddReaction(context.Background(), "m1", "👍"))
	require.Len(t, s.Messages()[0].Reactions, 2)
}

func TestRemoveReactionRestoresOnWriteFailure(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	convID := models.ConversationKey("alice", "bob")
	seedConversation(t, s, env, models.Message{
		ID:             "m1",
		ConversationID: convID,
		Reactions:      []models.Reaction{{Emoji: "👍", UserID: "alice"}, {Emoji: "👍", UserID: "bob"}},
	})

	env.msgRepo.On("RemoveReaction", mock.Anything, false, "m1", mock.Anything).
		Return(errors.New("write denied")).Once()

	require.Error(t, s.RemoveReaction(context.Background(), "m1", "👍"))

	// Both entries survive: bob's was never touched, alice's was restored.
	msgs := s.Messages()
	require.Len(t, msgs[0].Reactions, 2)
}

func TestRemoveReactionOnlyTouchesOwnEntries(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	convID := models.ConversationKey("alice", "bob")
	seedConversation(t, s, env, models.Message{
		ID:             "m1",
		ConversationID: convID,
		Reactions:      []models.Reaction{{Emoji: "👍", UserID: "alice"}, {Emoji: "👍", UserID: "bob"}},
	})

	env.msgRepo.On("RemoveReaction", mock.Anything, false, "m1", mock.Anything).Return(nil).Once()

	require.NoError(t, s.RemoveReaction(context.Background(), "m1", "👍"))
	msgs := s.Messages()
	require.Len(t, msgs[0].Reactions, 1)
	require.Equal(t, "bob", msgs[0].Reactions[0].UserID)
}

func TestSnapshotsUnaffectedByLaterReactionWrites(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	convID := models.ConversationKey("alice", "bob")
	seedConversation(t, s, env, models.Message{
		ID:             "m1",
		ConversationID: convID,
		Reactions:      []models.Reaction{{Emoji: "👍", UserID: "alice"}, {Emoji: "🎉", UserID: "bob"}},
	})

	env.msgRepo.On("RemoveReaction", mock.Anything, false, "m1", mock.Anything).Return(nil).Once()
	env.msgRepo.On("AddReaction", mock.Anything, false, "m1", mock.Anything).Return(nil).Once()

	snap := s.Messages()
	require.NoError(t, s.RemoveReaction(context.Background(), "m1", "👍"))
	require.NoError(t, s.AddReaction(context.Background(), "m1", "❤️"))

	// The list handed out earlier is a read-only view; later writes must not
	// reach into it.
	require.Len(t, snap[0].Reactions, 2)
	require.Equal(t, "👍", snap[0].Reactions[0].Emoji)
	require.Equal(t, "alice", snap[0].Reactions[0].UserID)
	require.Equal(t, "🎉", snap[0].Reactions[1].Emoji)

	msgs := s.Messages()
	require.Len(t, msgs[0].Reactions, 2)
	require.Equal(t, "🎉", msgs[0].Reactions[0].Emoji)
	require.Equal(t, "❤️", msgs[0].Reactions[1].Emoji)
}

func TestReactionOnUnknownMessage(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	seedConversation(t, s, env)
	require.ErrorIs(t, s.AddReaction(context.Background(), "ghost", "👍"), ErrUnknownMessage)
	require.ErrorIs(t, s.RemoveReaction(context.Background(), "ghost", "👍"), ErrUnknownMessage)
}

func TestAIReactionUsesAIPartition(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	env.feeds.mu.Lock()
	env.feeds.byPartition["ai:alice"] = []models.Message{{ID: "m1", UserID: "alice", IsAI: true}}
	env.feeds.mu.Unlock()
	require.NoError(t, s.SelectAI(context.Background()))

	env.msgRepo.On("AddReaction", mock.Anything, true, "m1", mock.Anything).Return(nil).Once()
	require.NoError(t, s.AddReaction(context.Background(), "m1", "🎉"))
	env.msgRepo.AssertExpectations(t)
	require.Contains(t, env.feeds.invalidations, "ai:alice")
}
