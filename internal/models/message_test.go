package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationKeyIsOrderIndependent(t *testing.T) {
	require.Equal(t, ConversationKey("alice", "bob"), ConversationKey("bob", "alice"))
	require.Equal(t, "alice_bob", ConversationKey("bob", "alice"))
}

func TestConversationKeyDistinctPairs(t *testing.T) {
	require.NotEqual(t, ConversationKey("alice", "bob"), ConversationKey("alice", "carol"))
}

func TestValidateRoutingExactlyOne(t *testing.T) {
	require.NoError(t, Message{ConversationID: "a_b"}.ValidateRouting())
	require.NoError(t, Message{GroupID: "g1"}.ValidateRouting())
	require.NoError(t, Message{UserID: "alice"}.ValidateRouting())

	require.ErrorIs(t, Message{}.ValidateRouting(), ErrInvalidRouting)
	require.ErrorIs(t, Message{ConversationID: "a_b", GroupID: "g1"}.ValidateRouting(), ErrInvalidRouting)
	require.ErrorIs(t, Message{GroupID: "g1", UserID: "alice"}.ValidateRouting(), ErrInvalidRouting)
}

func TestConstructorsRouteExclusively(t *testing.T) {
	direct := NewDirectMessage("alice", "bob", "hi", nil)
	require.NoError(t, direct.ValidateRouting())
	require.Equal(t, ConversationKey("alice", "bob"), direct.ConversationID)

	group := NewGroupMessage("alice", "g1", "hi", nil)
	require.NoError(t, group.ValidateRouting())

	prompt := NewAIPrompt("alice", "hi", nil)
	require.NoError(t, prompt.ValidateRouting())
	require.Equal(t, "alice", prompt.SenderID)
	require.False(t, prompt.IsAI)

	reply := NewAIReply("alice", "hello", false)
	require.NoError(t, reply.ValidateRouting())
	require.True(t, reply.IsAI)
	require.Empty(t, reply.SenderID)
}

func TestGroupIsMember(t *testing.T) {
	g := Group{ID: "g1", AdminID: "alice", Members: []string{"alice", "bob"}}
	require.True(t, g.IsMember("bob"))
	require.False(t, g.IsMember("carol"))
}
