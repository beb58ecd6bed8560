package models

import (
	"errors"
	"time"
)

var ErrInvalidRouting = errors.New("message must target exactly one of conversation, group or AI session")

// Attachment describes an uploaded media file referenced by a message.
type Attachment struct {
	URL         string `db:"attachment_url" json:"url"`
	MimeType    string `db:"attachment_mime" json:"mime_type"`
	SizeBytes   int64  `db:"attachment_size" json:"size_bytes"`
	DisplayName string `db:"attachment_name" json:"display_name"`
}

// Reaction is an emoji applied to a message by a user. Identical reactions
// from the same user are kept; deduplication is deliberately not applied.
type Reaction struct {
	Emoji     string    `db:"emoji" json:"emoji"`
	UserID    string    `db:"user_id" json:"user_id"`
	ReactedAt time.Time `db:"reacted_at" json:"reacted_at"`
}

// Message is a single chat entry. Exactly one of ConversationID, GroupID or
// (IsAI session) UserID routes it; SenderID is empty for AI-authored replies.
type Message struct {
	ID             string      `db:"id" json:"id"`
	Text           string      `db:"text" json:"text"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	SenderID       string      `db:"sender_id" json:"sender_id,omitempty"`
	ConversationID string      `db:"conversation_id" json:"conversation_id,omitempty"`
	GroupID        string      `db:"group_id" json:"group_id,omitempty"`
	UserID         string      `db:"user_id" json:"user_id,omitempty"`
	IsAI           bool        `db:"is_ai" json:"is_ai"`
	IsError        bool        `db:"is_error" json:"is_error,omitempty"`
	Timestamp      time.Time   `db:"created_at" json:"timestamp"`
	Reactions      []Reaction  `json:"reactions,omitempty"`
}

// NewDirectMessage builds a message addressed to a 1:1 conversation.
func NewDirectMessage(senderID, peerID, text string, att *Attachment) Message {
	return Message{
		Text:           text,
		Attachment:     att,
		SenderID:       senderID,
		ConversationID: ConversationKey(senderID, peerID),
	}
}

// NewGroupMessage builds a message addressed to a group.
func NewGroupMessage(senderID, groupID, text string, att *Attachment) Message {
	return Message{
		Text:       text,
		Attachment: att,
		SenderID:   senderID,
		GroupID:    groupID,
	}
}

// NewAIPrompt builds the user half of an AI exchange.
func NewAIPrompt(userID, text string, att *Attachment) Message {
	return Message{
		Text:       text,
		Attachment: att,
		SenderID:   userID,
		UserID:     userID,
	}
}

// NewAIReply builds the assistant half of an AI exchange.
func NewAIReply(userID, text string, isError bool) Message {
	return Message{
		Text:    text,
		UserID:  userID,
		IsAI:    true,
		IsError: isError,
	}
}

// ValidateRouting enforces the exactly-one-of routing invariant.
func (m Message) ValidateRouting() error {
	set := 0
	if m.ConversationID != "" {
		set++
	}
	if m.GroupID != "" {
		set++
	}
	if m.UserID != "" {
		set++
	}
	if set != 1 {
		return ErrInvalidRouting
	}
	return nil
}
