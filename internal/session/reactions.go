package session

import (
	"context"
	"errors"
	"fmt"

	"chatsync/internal/models"
	"chatsync/internal/repositories"
)

var ErrUnknownMessage = errors.New("message not in local state")

// AddReaction optimistically appends the reaction locally, then issues the
// authoritative write. On write failure the optimistic entry is removed
// again; the rollback predicate matches (emoji, user), which is broader than
// the single added instance when duplicates exist.
func (s *Session) AddReaction(ctx context.Context, messageID, emoji string) error {
	reaction := models.Reaction{Emoji: emoji, UserID: s.userID, ReactedAt: clientTimestamp()}

	s.mu.Lock()
	idx := s.indexOfLocked(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	ai := s.target.Kind == TargetAI
	s.msgs[idx].Reactions = withReactions(s.msgs[idx].Reactions, reaction)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(Event{Type: "messages", Messages: snapshot})

	if err := s.messages.AddReaction(ctx, ai, messageID, reaction); err != nil {
		s.mu.Lock()
		if idx := s.indexOfLocked(messageID); idx >= 0 {
			s.msgs[idx].Reactions = withoutReaction(s.msgs[idx].Reactions, emoji, s.userID)
		}
		snapshot := s.snapshotLocked()
		s.mu.Unlock()
		s.emit(Event{Type: "messages", Messages: snapshot})
		return fmt.Errorf("add reaction: %w", err)
	}

	s.invalidateCurrentPartition(messageID)
	return nil
}

// RemoveReaction optimistically removes matching entries locally, then issues
// the authoritative write. On write failure the removed entries are restored.
func (s *Session) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	reaction := models.Reaction{Emoji: emoji, UserID: s.userID}

	s.mu.Lock()
	idx := s.indexOfLocked(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	ai := s.target.Kind == TargetAI
	removed := matchingReactions(s.msgs[idx].Reactions, emoji, s.userID)
	s.msgs[idx].Reactions = withoutReaction(s.msgs[idx].Reactions, emoji, s.userID)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(Event{Type: "messages", Messages: snapshot})

	if err := s.messages.RemoveReaction(ctx, ai, messageID, reaction); err != nil {
		s.mu.Lock()
		if idx := s.indexOfLocked(messageID); idx >= 0 {
			s.msgs[idx].Reactions = withReactions(s.msgs[idx].Reactions, removed...)
		}
		snapshot := s.snapshotLocked()
		s.mu.Unlock()
		s.emit(Event{Type: "messages", Messages: snapshot})
		return fmt.Errorf("remove reaction: %w", err)
	}

	s.invalidateCurrentPartition(messageID)
	return nil
}

func (s *Session) indexOfLocked(messageID string) int {
	for i := range s.msgs {
		if s.msgs[i].ID == messageID {
			return i
		}
	}
	return -1
}

func (s *Session) snapshotLocked() []models.Message {
	out := make([]models.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *Session) invalidateCurrentPartition(messageID string) {
	s.mu.Lock()
	idx := s.indexOfLocked(messageID)
	var key string
	if idx >= 0 {
		key = repositories.PartitionKeyFor(s.msgs[idx])
	}
	s.mu.Unlock()
	if key != "" {
		s.feeds.InvalidateMessages(key)
	}
}

func matchingReactions(reactions []models.Reaction, emoji, userID string) []models.Reaction {
	var out []models.Reaction
	for _, r := range reactions {
		if r.Emoji == emoji && r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

// withReactions and withoutReaction always allocate: reaction slices may be
// shared with snapshots already handed to the rendering layer, so they are
// never grown or filtered in place.
func withReactions(reactions []models.Reaction, add ...models.Reaction) []models.Reaction {
	out := make([]models.Reaction, 0, len(reactions)+len(add))
	out = append(out, reactions...)
	return append(out, add...)
}

func withoutReaction(reactions []models.Reaction, emoji, userID string) []models.Reaction {
	out := make([]models.Reaction, 0, len(reactions))
	for _, r := range reactions {
		if r.Emoji == emoji && r.UserID == userID {
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
