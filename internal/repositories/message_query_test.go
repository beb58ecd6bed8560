package repositories

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chatsync/internal/models"
)

func TestMessageQueryValidate(t *testing.T) {
	require.NoError(t, MessageQuery{ConversationID: "a_b"}.Validate())
	require.NoError(t, MessageQuery{GroupID: "g1"}.Validate())
	require.NoError(t, MessageQuery{AISessionUserID: "alice"}.Validate())

	require.ErrorIs(t, MessageQuery{}.Validate(), ErrInvalidQuery)
	require.ErrorIs(t, MessageQuery{ConversationID: "a_b", GroupID: "g1"}.Validate(), ErrInvalidQuery)
}

func TestMessageQueryPartitionKey(t *testing.T) {
	require.Equal(t, "c:a_b", MessageQuery{ConversationID: "a_b"}.PartitionKey())
	require.Equal(t, "g:g1", MessageQuery{GroupID: "g1"}.PartitionKey())
	require.Equal(t, "ai:alice", MessageQuery{AISessionUserID: "alice"}.PartitionKey())
	require.Empty(t, MessageQuery{}.PartitionKey())
}

func TestPartitionKeyForMessage(t *testing.T) {
	require.Equal(t, "c:a_b", PartitionKeyFor(models.Message{ConversationID: "a_b"}))
	require.Equal(t, "g:g1", PartitionKeyFor(models.Message{GroupID: "g1"}))
	require.Equal(t, "ai:alice", PartitionKeyFor(models.Message{UserID: "alice"}))
}
