package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatsync/internal/livequery"
	"chatsync/internal/mocks"
	"chatsync/internal/models"
	"chatsync/internal/realtime"
	"chatsync/internal/repositories"
)

type fakeSub struct {
	mu        sync.Mutex
	cancelled bool
}

func (s *fakeSub) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

func (s *fakeSub) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

type msgFeedSub struct {
	fakeSub
	key string
	fn  func([]models.Message)
}

// feedsFake is an in-memory stand-in for the live-query hub.
type feedsFake struct {
	mu            sync.Mutex
	byPartition   map[string][]models.Message
	users         []models.User
	groups        []models.Group
	msgSubs       []*msgFeedSub
	subscribeErr  error
	invalidations []string
}

func newFeedsFake() *feedsFake {
	return &feedsFake{byPartition: make(map[string][]models.Message)}
}

func (f *feedsFake) SubscribeMessages(ctx context.Context, q repositories.MessageQuery, fn func([]models.Message)) (livequery.Subscription, error) {
	f.mu.Lock()
	if f.subscribeErr != nil {
		err := f.subscribeErr
		f.mu.Unlock()
		return nil, err
	}
	sub := &msgFeedSub{key: q.PartitionKey(), fn: fn}
	f.msgSubs = append(f.msgSubs, sub)
	initial := f.byPartition[sub.key]
	f.mu.Unlock()
	fn(initial)
	return sub, nil
}

func (f *feedsFake) SubscribeUsers(ctx context.Context, fn func([]models.User)) (livequery.Subscription, error) {
	f.mu.Lock()
	users := f.users
	f.mu.Unlock()
	fn(users)
	return &fakeSub{}, nil
}

func (f *feedsFake) SubscribeGroups(ctx context.Context, memberID string, fn func([]models.Group)) (livequery.Subscription, error) {
	f.mu.Lock()
	groups := f.groups
	f.mu.Unlock()
	fn(groups)
	return &fakeSub{}, nil
}

func (f *feedsFake) InvalidateMessages(partitionKey string) {
	f.mu.Lock()
	f.invalidations = append(f.invalidations, partitionKey)
	subs := make([]*msgFeedSub, 0, len(f.msgSubs))
	for _, sub := range f.msgSubs {
		if !sub.isCancelled() && sub.key == partitionKey {
			subs = append(subs, sub)
		}
	}
	msgs := f.byPartition[partitionKey]
	f.mu.Unlock()
	for _, sub := range subs {
		sub.fn(msgs)
	}
}

func (f *feedsFake) liveMessageSubs() []*msgFeedSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var live []*msgFeedSub
	for _, sub := range f.msgSubs {
		if !sub.isCancelled() {
			live = append(live, sub)
		}
	}
	return live
}

// realtimeFake records presence and typing writes in order.
type realtimeFake struct {
	mu             sync.Mutex
	presenceWrites []models.PresenceRecord
	typingWrites   []models.TypingRecord
	offline        *mocks.DisconnectWriteMock
	presSubs       []*fakeSub
	typSubs        []*fakeSub
}

func newRealtimeFake() *realtimeFake {
	return &realtimeFake{offline: &mocks.DisconnectWriteMock{}}
}

func (r *realtimeFake) SetPresence(ctx context.Context, userID string, rec models.PresenceRecord) error {
	r.mu.Lock()
	r.presenceWrites = append(r.presenceWrites, rec)
	r.mu.Unlock()
	return nil
}

func (r *realtimeFake) RegisterOfflineWrite(ctx context.Context, userID string, rec models.PresenceRecord) (realtime.DisconnectWrite, error) {
	return r.offline, nil
}

func (r *realtimeFake) SubscribePresence(ctx context.Context, userID string, fn func(models.PresenceRecord)) (realtime.Subscription, error) {
	sub := &fakeSub{}
	r.mu.Lock()
	r.presSubs = append(r.presSubs, sub)
	r.mu.Unlock()
	return sub, nil
}

func (r *realtimeFake) SetTyping(ctx context.Context, userID string, rec models.TypingRecord) error {
	r.mu.Lock()
	r.typingWrites = append(r.typingWrites, rec)
	r.mu.Unlock()
	return nil
}

func (r *realtimeFake) SubscribeTyping(ctx context.Context, userID string, fn func(models.TypingRecord)) (realtime.Subscription, error) {
	sub := &fakeSub{}
	r.mu.Lock()
	r.typSubs = append(r.typSubs, sub)
	r.mu.Unlock()
	return sub, nil
}

func (r *realtimeFake) typingRecords() []models.TypingRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TypingRecord, len(r.typingWrites))
	copy(out, r.typingWrites)
	return out
}

type testEnv struct {
	feeds     *feedsFake
	rt        *realtimeFake
	msgRepo   *mocks.MessageRepositoryMock
	uploader  *mocks.UploaderMock
	generator *mocks.GeneratorMock
}

func startTestSession(t *testing.T, userID string) (*Session, *testEnv) {
	t.Helper()
	env := &testEnv{
		feeds:     newFeedsFake(),
		rt:        newRealtimeFake(),
		msgRepo:   new(mocks.MessageRepositoryMock),
		uploader:  new(mocks.UploaderMock),
		generator: new(mocks.GeneratorMock),
	}
	s, err := Start(context.Background(), Config{
		UserID:    userID,
		Feeds:     env.feeds,
		Realtime:  env.rt,
		Messages:  env.msgRepo,
		Uploader:  env.uploader,
		Generator: env.generator,
		TypingTTL: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	return s, env
}

func TestStartPublishesOnlineAndArmsOfflineWrite(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	require.Len(t, env.rt.presenceWrites, 1)
	require.Equal(t, models.StatusOnline, env.rt.presenceWrites[0].Status)
	require.Zero(t, env.rt.offline.Cancelled)
}

func TestSingleMessageSubscriptionAcrossSwitches(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, s.SelectUser(ctx, "bob"))
	require.NoError(t, s.SelectGroup(ctx, "g1"))
	require.NoError(t, s.SelectAI(ctx))
	require.NoError(t, s.SelectUser(ctx, "carol"))

	live := env.feeds.liveMessageSubs()
	require.Len(t, live, 1)
	require.Equal(t, "c:"+models.ConversationKey("alice", "carol"), live[0].key)
	require.Len(t, env.feeds.msgSubs, 4)
}

func TestSelectDeliversInitialSnapshot(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	key := "g:g1"
	env.feeds.byPartition[key] = []models.Message{{ID: "m1", GroupID: "g1", Text: "hi"}}

	require.NoError(t, s.SelectGroup(context.Background(), "g1"))
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "m1", msgs[0].ID)
}

func TestFailedSubscribeKeepsPreviousMessages(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	env.feeds.byPartition["g:g1"] = []models.Message{{ID: "m1", GroupID: "g1"}}
	require.NoError(t, s.SelectGroup(context.Background(), "g1"))

	env.feeds.mu.Lock()
	env.feeds.subscribeErr = context.DeadlineExceeded
	env.feeds.mu.Unlock()

	require.Error(t, s.SelectGroup(context.Background(), "g2"))
	// The old list stays visible even though its subscription is gone.
	require.Len(t, s.Messages(), 1)
	require.Empty(t, env.feeds.liveMessageSubs())
}

func TestStaleSnapshotDiscardedAfterSwitch(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	ctx := context.Background()
	env.feeds.byPartition["g:g1"] = []models.Message{{ID: "old", GroupID: "g1"}}
	env.feeds.byPartition["g:g2"] = []models.Message{{ID: "new", GroupID: "g2"}}

	require.NoError(t, s.SelectGroup(ctx, "g1"))
	stale := env.feeds.msgSubs[0]
	require.NoError(t, s.SelectGroup(ctx, "g2"))

	// A snapshot arriving late from the torn-down subscription must not
	// overwrite the new target's list.
	stale.fn([]models.Message{{ID: "late", GroupID: "g1"}})
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "new", msgs[0].ID)
}

func TestDeselectClearsMessages(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	env.feeds.byPartition["g:g1"] = []models.Message{{ID: "m1", GroupID: "g1"}}
	require.NoError(t, s.SelectGroup(context.Background(), "g1"))
	require.NotEmpty(t, s.Messages())

	s.Deselect()
	require.Empty(t, s.Messages())
	require.Empty(t, env.feeds.liveMessageSubs())
	require.Equal(t, TargetNone, s.Target().Kind)
}

func TestTypingExpiresUnconditionally(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	require.NoError(t, s.SelectUser(context.Background(), "bob"))
	s.InputChanged(context.Background(), "hel")
	s.InputChanged(context.Background(), "hello")

	require.Eventually(t, func() bool {
		return len(env.rt.typingRecords()) >= 4
	}, time.Second, 10*time.Millisecond)

	recs := env.rt.typingRecords()
	require.True(t, recs[0].IsTyping)
	require.Equal(t, "bob", recs[0].To)
	require.True(t, recs[1].IsTyping)
	// Both expiry timers fire; the second keystroke does not cancel the first.
	require.False(t, recs[len(recs)-1].IsTyping)
	require.False(t, recs[len(recs)-2].IsTyping)
}

func TestTypingTimersPrunedAfterExpiry(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	require.NoError(t, s.SelectUser(context.Background(), "bob"))
	s.InputChanged(context.Background(), "h")
	s.InputChanged(context.Background(), "he")

	// Fired timers remove themselves; the list must not grow for the life
	// of the session.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.typingTimers) == 0
	}, time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, len(env.rt.typingRecords()), 4)
}

func TestClearedInputWritesNotTyping(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	require.NoError(t, s.SelectUser(context.Background(), "bob"))
	s.InputChanged(context.Background(), "")

	recs := env.rt.typingRecords()
	require.Len(t, recs, 1)
	require.False(t, recs[0].IsTyping)
}

func TestTypingIgnoredWithoutUserTarget(t *testing.T) {
	s, env := startTestSession(t, "alice")
	defer s.Close(context.Background())

	require.NoError(t, s.SelectGroup(context.Background(), "g1"))
	s.InputChanged(context.Background(), "hello")
	require.Empty(t, env.rt.typingRecords())
}

func TestCloseCancelsOfflineWriteWithoutGoingOffline(t *testing.T) {
	s, env := startTestSession(t, "alice")

	s.Close(context.Background())

	require.Equal(t, 1, env.rt.offline.Cancelled)
	// Presence holds the initial online write only; close does not publish
	// offline.
	require.Len(t, env.rt.presenceWrites, 1)
	require.Equal(t, models.StatusOnline, env.rt.presenceWrites[0].Status)

	// Typing is cleared on the way out.
	recs := env.rt.typingRecords()
	require.Len(t, recs, 1)
	require.False(t, recs[0].IsTyping)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, env := startTestSession(t, "alice")

	s.Close(context.Background())
	s.Close(context.Background())

	require.Equal(t, 1, env.rt.offline.Cancelled)
	require.Len(t, env.rt.typingRecords(), 1)
}

func TestCloseCancelsEverySubscription(t *testing.T) {
	s, env := startTestSession(t, "alice")
	require.NoError(t, s.SelectUser(context.Background(), "bob"))

	s.Close(context.Background())

	require.Empty(t, env.feeds.liveMessageSubs())
	for _, sub := range env.rt.presSubs {
		require.True(t, sub.isCancelled())
	}
	for _, sub := range env.rt.typSubs {
		require.True(t, sub.isCancelled())
	}
}
