package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"chatsync/internal/genai"
	"chatsync/internal/media"
	"chatsync/internal/models"
	"chatsync/internal/observability"
	"chatsync/internal/repositories"
)

var (
	ErrNoTarget     = errors.New("no conversation target selected")
	ErrEmptyMessage = errors.New("message needs text or an attachment")
	ErrSendInFlight = errors.New("a send is already in progress")
)

// aiFailureReply keeps the assistant conversation coherent when generation
// fails; the AI path never leaves the thread without a reply.
const aiFailureReply = "Sorry, I encountered an error while processing your request. Please try again."

// Send validates, uploads, appends and (for the AI target) generates — in
// that order, sequentially. An upload failure aborts the whole send and
// leaves compose state to the caller, untouched. A second Send is refused
// while one is in flight.
func (s *Session) Send(ctx context.Context, text string, file *media.File) error {
	ctx, span := otel.Tracer("chatsync/session").Start(ctx, "session.send")
	defer span.End()

	s.mu.Lock()
	target := s.target
	if target.Kind == TargetNone {
		s.mu.Unlock()
		return ErrNoTarget
	}
	if strings.TrimSpace(text) == "" && file == nil {
		s.mu.Unlock()
		return ErrEmptyMessage
	}
	if s.sending {
		s.mu.Unlock()
		return ErrSendInFlight
	}
	s.sending = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	var att *models.Attachment
	if file != nil {
		if err := media.Validate(*file); err != nil {
			return err
		}
		asset, err := s.uploader.Upload(ctx, *file)
		if err != nil {
			observability.IncUpload("error")
			return fmt.Errorf("upload attachment: %w", err)
		}
		observability.IncUpload("ok")
		att = &models.Attachment{
			URL:         asset.URL,
			MimeType:    file.MimeType,
			SizeBytes:   asset.Bytes,
			DisplayName: file.Name,
		}
	}

	switch target.Kind {
	case TargetUser:
		return s.append(ctx, "user", models.NewDirectMessage(s.userID, target.PeerID, text, att))
	case TargetGroup:
		return s.append(ctx, "group", models.NewGroupMessage(s.userID, target.GroupID, text, att))
	case TargetAI:
		return s.sendToAssistant(ctx, text, att, file)
	}
	return ErrNoTarget
}

func (s *Session) append(ctx context.Context, kind string, msg models.Message) error {
	stored, err := s.messages.CreateMessage(ctx, msg)
	if err != nil {
		observability.IncDispatch(kind, "error")
		return fmt.Errorf("append message: %w", err)
	}
	observability.IncDispatch(kind, "ok")
	s.feeds.InvalidateMessages(repositories.PartitionKeyFor(stored))
	return nil
}

// sendToAssistant appends the user prompt, then sequentially requests a
// generation and appends the reply. A generation failure is converted into a
// synthetic assistant message instead of surfacing as an error.
func (s *Session) sendToAssistant(ctx context.Context, text string, att *models.Attachment, file *media.File) error {
	if err := s.append(ctx, "ai", models.NewAIPrompt(s.userID, text, att)); err != nil {
		return err
	}

	s.setAILoading(true)
	defer s.setAILoading(false)

	var inline *genai.InlineData
	if att != nil && file != nil {
		inline = &genai.InlineData{MimeType: file.MimeType, Data: file.Data}
	}

	reply, err := s.generator.Generate(ctx, text, inline)
	if err != nil {
		log.Printf("session %s: generation failed: %v", s.userID, err)
		observability.IncGenerationFailure()
		return s.append(ctx, "ai", models.NewAIReply(s.userID, aiFailureReply, true))
	}
	return s.append(ctx, "ai", models.NewAIReply(s.userID, reply, false))
}

func (s *Session) setAILoading(loading bool) {
	s.mu.Lock()
	s.aiLoading = loading
	s.mu.Unlock()
	s.emit(Event{Type: "ai_loading", AILoading: &loading})
}

// clientTimestamp is the reaction timestamp source; reactions carry a
// client-side time, unlike messages whose timestamps are server-assigned.
func clientTimestamp() time.Time {
	return time.Now()
}
