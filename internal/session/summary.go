package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatsync/internal/models"
	"chatsync/internal/repositories"
)

const summaryPageSize = 1000

var ErrNoMessagesInRange = errors.New("no messages found in selected date range")

// Summarize runs a bounded time-range query over the active target's
// partition and asks the generator for a summary.
func (s *Session) Summarize(ctx context.Context, from, to time.Time) (string, error) {
	s.mu.Lock()
	target := s.target
	users := make([]models.User, len(s.users))
	copy(users, s.users)
	s.mu.Unlock()

	q := repositories.MessageQuery{From: &from, To: &to, Limit: summaryPageSize}
	switch target.Kind {
	case TargetUser:
		q.ConversationID = models.ConversationKey(s.userID, target.PeerID)
	case TargetGroup:
		q.GroupID = target.GroupID
	case TargetAI:
		q.AISessionUserID = s.userID
	default:
		return "", ErrNoTarget
	}

	msgs, err := s.messages.ListMessages(ctx, q)
	if err != nil {
		return "", fmt.Errorf("load range: %w", err)
	}
	if len(msgs) == 0 {
		return "", ErrNoMessagesInRange
	}

	nameByID := make(map[string]string, len(users))
	for _, u := range users {
		nameByID[u.ID] = u.Name
	}

	var lines []string
	for _, m := range msgs {
		sender := nameByID[m.SenderID]
		if m.IsAI {
			sender = "AI Assistant"
		} else if sender == "" {
			sender = "Unknown"
		}
		line := fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format(time.RFC1123), sender, m.Text)
		if m.Attachment != nil {
			line += " (attached image)"
		}
		lines = append(lines, line)
	}

	prompt := fmt.Sprintf("Summarize the following conversation between %s and %s.\nHighlight key points, decisions, and important information. Include any images mentioned.\n\nConversation:\n%s",
		from.Format(time.RFC1123), to.Format(time.RFC1123), strings.Join(lines, "\n"))

	return s.generator.Generate(ctx, prompt, nil)
}
