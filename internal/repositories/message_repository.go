package repositories

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chatsync/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidQuery    = errors.New("message query must target exactly one partition")
)

// MessageQuery selects one message partition, optionally bounded by a time
// range. Results are always ordered by server timestamp ascending.
type MessageQuery struct {
	ConversationID  string
	GroupID         string
	AISessionUserID string
	From            *time.Time
	To              *time.Time
	Limit           int
}

// Validate enforces the exactly-one-partition rule.
func (q MessageQuery) Validate() error {
	set := 0
	if q.ConversationID != "" {
		set++
	}
	if q.GroupID != "" {
		set++
	}
	if q.AISessionUserID != "" {
		set++
	}
	if set != 1 {
		return ErrInvalidQuery
	}
	return nil
}

// PartitionKey returns the invalidation key for the queried partition.
func (q MessageQuery) PartitionKey() string {
	switch {
	case q.ConversationID != "":
		return "c:" + q.ConversationID
	case q.GroupID != "":
		return "g:" + q.GroupID
	case q.AISessionUserID != "":
		return "ai:" + q.AISessionUserID
	}
	return ""
}

// PartitionKeyFor returns the invalidation key for the partition a message
// belongs to.
func PartitionKeyFor(msg models.Message) string {
	switch {
	case msg.ConversationID != "":
		return "c:" + msg.ConversationID
	case msg.GroupID != "":
		return "g:" + msg.GroupID
	case msg.UserID != "":
		return "ai:" + msg.UserID
	}
	return ""
}

// MessageRepository persists messages and reactions across the direct/group
// partition and the per-user AI partition.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListMessages(ctx context.Context, q MessageQuery) ([]models.Message, error)
	AddReaction(ctx context.Context, ai bool, messageID string, reaction models.Reaction) error
	RemoveReaction(ctx context.Context, ai bool, messageID string, reaction models.Reaction) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message in the partition its routing fields select.
// The timestamp is server-assigned.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := msg.ValidateRouting(); err != nil {
		return models.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	att := msg.Attachment
	if att == nil {
		att = &models.Attachment{}
	}

	if msg.UserID != "" {
		err := r.db.QueryRowxContext(ctx, `INSERT INTO ai_messages (id, user_id, sender_id, text, is_ai, is_error, attachment_url, attachment_mime, attachment_size, attachment_name)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING created_at`,
			msg.ID, msg.UserID, msg.SenderID, msg.Text, msg.IsAI, msg.IsError, att.URL, att.MimeType, att.SizeBytes, att.DisplayName).
			Scan(&msg.Timestamp)
		return msg, err
	}

	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (id, conversation_id, group_id, sender_id, text, attachment_url, attachment_mime, attachment_size, attachment_name)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at`,
		msg.ID, msg.ConversationID, msg.GroupID, msg.SenderID, msg.Text, att.URL, att.MimeType, att.SizeBytes, att.DisplayName).
		Scan(&msg.Timestamp)
	return msg, err
}

// ListMessages returns ordered messages for one partition with reactions
// attached.
func (r *MessageRepo) ListMessages(ctx context.Context, q MessageQuery) ([]models.Message, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		query string
		args  []interface{}
		ai    bool
	)
	switch {
	case q.AISessionUserID != "":
		ai = true
		query = `SELECT id, user_id, sender_id, text, is_ai, is_error, attachment_url, attachment_mime, attachment_size, attachment_name, created_at
            FROM ai_messages WHERE user_id=$1`
		args = append(args, q.AISessionUserID)
	case q.ConversationID != "":
		query = `SELECT id, conversation_id, group_id, sender_id, text, attachment_url, attachment_mime, attachment_size, attachment_name, created_at
            FROM messages WHERE conversation_id=$1`
		args = append(args, q.ConversationID)
	default:
		query = `SELECT id, conversation_id, group_id, sender_id, text, attachment_url, attachment_mime, attachment_size, attachment_name, created_at
            FROM messages WHERE group_id=$1`
		args = append(args, q.GroupID)
	}

	if q.From != nil {
		args = append(args, *q.From)
		query += ` AND created_at >= $` + strconv.Itoa(len(args))
	}
	if q.To != nil {
		args = append(args, *q.To)
		query += ` AND created_at <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at ASC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var (
			msg models.Message
			att models.Attachment
		)
		if ai {
			err = rows.Scan(&msg.ID, &msg.UserID, &msg.SenderID, &msg.Text, &msg.IsAI, &msg.IsError,
				&att.URL, &att.MimeType, &att.SizeBytes, &att.DisplayName, &msg.Timestamp)
		} else {
			err = rows.Scan(&msg.ID, &msg.ConversationID, &msg.GroupID, &msg.SenderID, &msg.Text,
				&att.URL, &att.MimeType, &att.SizeBytes, &att.DisplayName, &msg.Timestamp)
		}
		if err != nil {
			return nil, err
		}
		if att.URL != "" {
			msg.Attachment = &att
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.attachReactions(ctx, ai, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *MessageRepo) attachReactions(ctx context.Context, ai bool, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	byID := make(map[string]*models.Message, len(msgs))
	for i := range msgs {
		ids = append(ids, msgs[i].ID)
		byID[msgs[i].ID] = &msgs[i]
	}

	query, args, err := sqlx.In(`SELECT message_id, emoji, user_id, reacted_at FROM reactions WHERE ai = ? AND message_id IN (?) ORDER BY reacted_at ASC`, ai, ids)
	if err != nil {
		return err
	}
	rows, err := r.db.QueryxContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			messageID string
			reaction  models.Reaction
		)
		if err := rows.Scan(&messageID, &reaction.Emoji, &reaction.UserID, &reaction.ReactedAt); err != nil {
			return err
		}
		if msg, ok := byID[messageID]; ok {
			msg.Reactions = append(msg.Reactions, reaction)
		}
	}
	return rows.Err()
}

// AddReaction appends a reaction. Duplicate identical reactions are allowed;
// multiplicity is intentional.
func (r *MessageRepo) AddReaction(ctx context.Context, ai bool, messageID string, reaction models.Reaction) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO reactions (message_id, ai, emoji, user_id, reacted_at) VALUES ($1, $2, $3, $4, $5)`,
		messageID, ai, reaction.Emoji, reaction.UserID, reaction.ReactedAt)
	return err
}

// RemoveReaction deletes every reaction matching (emoji, user) on the
// message, mirroring array-remove semantics. Removing a reaction that is not
// present is a no-op.
func (r *MessageRepo) RemoveReaction(ctx context.Context, ai bool, messageID string, reaction models.Reaction) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM reactions WHERE message_id=$1 AND ai=$2 AND emoji=$3 AND user_id=$4`,
		messageID, ai, reaction.Emoji, reaction.UserID)
	return err
}
