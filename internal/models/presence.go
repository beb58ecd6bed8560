package models

import "time"

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// PresenceRecord is the single live online/offline entry per user. It is
// written by that user's own session; a deferred offline write covers
// ungraceful disconnects.
type PresenceRecord struct {
	Status      string    `msgpack:"status" json:"status"`
	LastChanged time.Time `msgpack:"last_changed" json:"last_changed"`
}

// TypingRecord is the per-user transient typing flag. A user signals typing
// to a single destination at a time; the record is addressed by sender, and
// readers are expected to check To themselves.
type TypingRecord struct {
	IsTyping  bool      `msgpack:"is_typing" json:"is_typing"`
	To        string    `msgpack:"to" json:"to,omitempty"`
	Timestamp time.Time `msgpack:"timestamp" json:"timestamp"`
}
