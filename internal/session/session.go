package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"chatsync/internal/genai"
	"chatsync/internal/livequery"
	"chatsync/internal/media"
	"chatsync/internal/models"
	"chatsync/internal/observability"
	"chatsync/internal/realtime"
	"chatsync/internal/repositories"
)

const (
	messagePageSize  = 50
	defaultTypingTTL = 3 * time.Second
)

// TargetKind identifies what kind of conversation is active.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetUser
	TargetGroup
	TargetAI
)

// Target is the active conversation selection.
type Target struct {
	Kind    TargetKind
	PeerID  string
	GroupID string
}

// Feeds is the live-query surface the session consumes.
type Feeds interface {
	SubscribeMessages(ctx context.Context, q repositories.MessageQuery, fn func([]models.Message)) (livequery.Subscription, error)
	SubscribeUsers(ctx context.Context, fn func([]models.User)) (livequery.Subscription, error)
	SubscribeGroups(ctx context.Context, memberID string, fn func([]models.Group)) (livequery.Subscription, error)
	InvalidateMessages(partitionKey string)
}

// Realtime is the presence/typing surface the session consumes.
type Realtime interface {
	SetPresence(ctx context.Context, userID string, rec models.PresenceRecord) error
	RegisterOfflineWrite(ctx context.Context, userID string, rec models.PresenceRecord) (realtime.DisconnectWrite, error)
	SubscribePresence(ctx context.Context, userID string, fn func(models.PresenceRecord)) (realtime.Subscription, error)
	SetTyping(ctx context.Context, userID string, rec models.TypingRecord) error
	SubscribeTyping(ctx context.Context, userID string, fn func(models.TypingRecord)) (realtime.Subscription, error)
}

// Uploader pushes a pending attachment to external storage.
type Uploader interface {
	Upload(ctx context.Context, file media.File) (media.Asset, error)
}

// Generator produces assistant text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, inline *genai.InlineData) (string, error)
}

// Event is pushed to the rendering layer whenever local reactive state
// changes.
type Event struct {
	Type      string                 `json:"type"`
	Messages  []models.Message       `json:"messages,omitempty"`
	Users     []models.User          `json:"users,omitempty"`
	Groups    []models.Group         `json:"groups,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Presence  *models.PresenceRecord `json:"presence,omitempty"`
	Typing    *models.TypingRecord   `json:"typing,omitempty"`
	AILoading *bool                  `json:"ai_loading,omitempty"`
}

// Config wires a session's collaborators. All service handles are injected;
// the session never reaches for ambient globals.
type Config struct {
	UserID    string
	Feeds     Feeds
	Realtime  Realtime
	Messages  repositories.MessageRepository
	Uploader  Uploader
	Generator Generator
	TypingTTL time.Duration
	Notify    func(Event)
}

// Session owns one user's local reactive state and keeps it consistent with
// push updates from the live-query and realtime layers. State is mutated only
// by subscription callbacks (authoritative) and the optimistic reaction paths
// (provisional, always reconciled).
type Session struct {
	userID    string
	feeds     Feeds
	rt        Realtime
	messages  repositories.MessageRepository
	uploader  Uploader
	generator Generator
	typingTTL time.Duration
	notify    func(Event)

	mu       sync.Mutex
	epoch    int
	target   Target
	msgs     []models.Message
	users    []models.User
	groups   []models.Group
	presence map[string]models.PresenceRecord
	typing   map[string]models.TypingRecord

	msgSub   livequery.Subscription
	userSub  livequery.Subscription
	groupSub livequery.Subscription
	presSub  realtime.Subscription
	typSub   realtime.Subscription
	offline  realtime.DisconnectWrite

	typingTimers []*time.Timer
	sending      bool
	aiLoading    bool
	closed       bool
}

// Start brings a session online: publishes presence with a deferred offline
// write, then establishes the two always-on subscriptions (user directory and
// member groups).
func Start(ctx context.Context, cfg Config) (*Session, error) {
	s := &Session{
		userID:    cfg.UserID,
		feeds:     cfg.Feeds,
		rt:        cfg.Realtime,
		messages:  cfg.Messages,
		uploader:  cfg.Uploader,
		generator: cfg.Generator,
		typingTTL: cfg.TypingTTL,
		notify:    cfg.Notify,
		presence:  make(map[string]models.PresenceRecord),
		typing:    make(map[string]models.TypingRecord),
	}
	if s.typingTTL <= 0 {
		s.typingTTL = defaultTypingTTL
	}

	if err := s.rt.SetPresence(ctx, s.userID, models.PresenceRecord{Status: models.StatusOnline, LastChanged: time.Now()}); err != nil {
		return nil, fmt.Errorf("publish presence: %w", err)
	}
	offline, err := s.rt.RegisterOfflineWrite(ctx, s.userID, models.PresenceRecord{Status: models.StatusOffline, LastChanged: time.Now()})
	if err != nil {
		return nil, fmt.Errorf("register offline write: %w", err)
	}
	s.offline = offline

	userSub, err := s.feeds.SubscribeUsers(ctx, func(users []models.User) {
		s.mu.Lock()
		s.users = users
		s.mu.Unlock()
		s.emit(Event{Type: "users", Users: users})
	})
	if err != nil {
		offline.Cancel()
		return nil, fmt.Errorf("subscribe users: %w", err)
	}
	s.userSub = userSub
	observability.IncSubscriptions("users")

	groupSub, err := s.feeds.SubscribeGroups(ctx, s.userID, func(groups []models.Group) {
		s.mu.Lock()
		s.groups = groups
		s.mu.Unlock()
		s.emit(Event{Type: "groups", Groups: groups})
	})
	if err != nil {
		userSub.Cancel()
		observability.DecSubscriptions("users")
		offline.Cancel()
		return nil, fmt.Errorf("subscribe groups: %w", err)
	}
	s.groupSub = groupSub
	observability.IncSubscriptions("groups")

	return s, nil
}

func (s *Session) emit(event Event) {
	if s.notify != nil {
		s.notify(event)
	}
}

// teardownTargetLocked cancels the target-scoped subscriptions. Callers must
// hold s.mu. Bumping the epoch invalidates any snapshot still in flight from
// the torn-down subscriptions.
func (s *Session) teardownTargetLocked() {
	s.epoch++
	if s.msgSub != nil {
		s.msgSub.Cancel()
		s.msgSub = nil
		observability.DecSubscriptions("messages")
	}
	if s.presSub != nil {
		s.presSub.Cancel()
		s.presSub = nil
		observability.DecSubscriptions("presence")
	}
	if s.typSub != nil {
		s.typSub.Cancel()
		s.typSub = nil
		observability.DecSubscriptions("typing")
	}
}

func (s *Session) messagesFn(epoch int) func([]models.Message) {
	return func(msgs []models.Message) {
		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		s.msgs = msgs
		s.mu.Unlock()
		s.emit(Event{Type: "messages", Messages: msgs})
	}
}

// installMessageSub establishes the message subscription for the current
// target. A failed subscribe is logged and the previous message list is kept;
// stale-but-available beats blanking.
func (s *Session) installMessageSub(ctx context.Context, epoch int, q repositories.MessageQuery) error {
	sub, err := s.feeds.SubscribeMessages(ctx, q, s.messagesFn(epoch))
	if err != nil {
		log.Printf("session %s: message subscription failed for %s: %v", s.userID, q.PartitionKey(), err)
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// Target changed while subscribing; this subscription lost the race.
		s.mu.Unlock()
		sub.Cancel()
		return nil
	}
	s.msgSub = sub
	s.mu.Unlock()
	observability.IncSubscriptions("messages")
	return nil
}

// SelectUser makes a 1:1 conversation the active target. The previous message
// subscription is torn down before the new one is established; exactly one is
// live at any time.
func (s *Session) SelectUser(ctx context.Context, peerID string) error {
	s.mu.Lock()
	s.teardownTargetLocked()
	s.target = Target{Kind: TargetUser, PeerID: peerID}
	epoch := s.epoch
	s.mu.Unlock()

	q := repositories.MessageQuery{
		ConversationID: models.ConversationKey(s.userID, peerID),
		Limit:          messagePageSize,
	}
	if err := s.installMessageSub(ctx, epoch, q); err != nil {
		return err
	}

	presSub, err := s.rt.SubscribePresence(ctx, peerID, func(rec models.PresenceRecord) {
		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		s.presence[peerID] = rec
		s.mu.Unlock()
		s.emit(Event{Type: "presence", UserID: peerID, Presence: &rec})
	})
	if err != nil {
		log.Printf("session %s: presence subscription failed for %s: %v", s.userID, peerID, err)
	}

	typSub, err := s.rt.SubscribeTyping(ctx, peerID, func(rec models.TypingRecord) {
		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		s.typing[peerID] = rec
		s.mu.Unlock()
		s.emit(Event{Type: "typing", UserID: peerID, Typing: &rec})
	})
	if err != nil {
		log.Printf("session %s: typing subscription failed for %s: %v", s.userID, peerID, err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		if presSub != nil {
			presSub.Cancel()
		}
		if typSub != nil {
			typSub.Cancel()
		}
		return nil
	}
	s.presSub = presSub
	s.typSub = typSub
	s.mu.Unlock()
	if presSub != nil {
		observability.IncSubscriptions("presence")
	}
	if typSub != nil {
		observability.IncSubscriptions("typing")
	}
	return nil
}

// SelectGroup makes a group the active target.
func (s *Session) SelectGroup(ctx context.Context, groupID string) error {
	s.mu.Lock()
	s.teardownTargetLocked()
	s.target = Target{Kind: TargetGroup, GroupID: groupID}
	epoch := s.epoch
	s.mu.Unlock()

	q := repositories.MessageQuery{GroupID: groupID, Limit: messagePageSize}
	return s.installMessageSub(ctx, epoch, q)
}

// SelectAI makes the assistant conversation the active target.
func (s *Session) SelectAI(ctx context.Context) error {
	s.mu.Lock()
	s.teardownTargetLocked()
	s.target = Target{Kind: TargetAI}
	epoch := s.epoch
	s.mu.Unlock()

	q := repositories.MessageQuery{AISessionUserID: s.userID, Limit: messagePageSize}
	return s.installMessageSub(ctx, epoch, q)
}

// Deselect clears the active target and the message list.
func (s *Session) Deselect() {
	s.mu.Lock()
	s.teardownTargetLocked()
	s.target = Target{}
	s.msgs = nil
	s.mu.Unlock()
	s.emit(Event{Type: "messages"})
}

// InputChanged publishes the typing flag for the local user. A true write
// schedules an unconditional false write after the typing TTL; later
// keystrokes do not cancel it, matching the observed protocol.
func (s *Session) InputChanged(ctx context.Context, text string) {
	s.mu.Lock()
	if s.closed || s.target.Kind != TargetUser {
		s.mu.Unlock()
		return
	}
	peerID := s.target.PeerID
	s.mu.Unlock()

	rec := models.TypingRecord{IsTyping: len(text) > 0, To: peerID, Timestamp: time.Now()}
	if err := s.rt.SetTyping(ctx, s.userID, rec); err != nil {
		log.Printf("session %s: typing write failed: %v", s.userID, err)
		return
	}

	if rec.IsTyping {
		// Register under the lock so the callback's removal cannot run
		// before the timer is in the list.
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		var timer *time.Timer
		timer = time.AfterFunc(s.typingTTL, func() {
			err := s.rt.SetTyping(context.Background(), s.userID, models.TypingRecord{Timestamp: time.Now()})
			if err != nil {
				log.Printf("session %s: typing expiry write failed: %v", s.userID, err)
			}
			s.removeTypingTimer(timer)
		})
		s.typingTimers = append(s.typingTimers, timer)
		s.mu.Unlock()
	}
}

func (s *Session) removeTypingTimer(timer *time.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.typingTimers {
		if t == timer {
			s.typingTimers = append(s.typingTimers[:i], s.typingTimers[i+1:]...)
			return
		}
	}
}

// Close tears the session down: every subscription is cancelled exactly once,
// typing is cleared, expiry timers are stopped, and the deferred offline
// write is withdrawn. Note that a clean close does not itself write offline;
// it only cancels the pending auto-write, matching the observed behavior.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.teardownTargetLocked()
	if s.userSub != nil {
		s.userSub.Cancel()
		s.userSub = nil
		observability.DecSubscriptions("users")
	}
	if s.groupSub != nil {
		s.groupSub.Cancel()
		s.groupSub = nil
		observability.DecSubscriptions("groups")
	}
	timers := s.typingTimers
	s.typingTimers = nil
	offline := s.offline
	s.offline = nil
	s.mu.Unlock()

	for _, timer := range timers {
		timer.Stop()
	}
	if err := s.rt.SetTyping(ctx, s.userID, models.TypingRecord{Timestamp: time.Now()}); err != nil {
		log.Printf("session %s: typing clear failed on close: %v", s.userID, err)
	}
	if offline != nil {
		offline.Cancel()
	}
}

// Target returns the active conversation selection.
func (s *Session) Target() Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Messages returns a snapshot of the active conversation's message list.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Users returns a snapshot of the user directory.
func (s *Session) Users() []models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, len(s.users))
	copy(out, s.users)
	return out
}

// Groups returns a snapshot of the groups the user belongs to.
func (s *Session) Groups() []models.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Group, len(s.groups))
	copy(out, s.groups)
	return out
}

// Presence returns the cached presence record for a peer.
func (s *Session) Presence(peerID string) (models.PresenceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.presence[peerID]
	return rec, ok
}

// Typing returns the cached typing record for a peer.
func (s *Session) Typing(peerID string) (models.TypingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.typing[peerID]
	return rec, ok
}

// AILoading reports whether an assistant reply is being generated.
func (s *Session) AILoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aiLoading
}
