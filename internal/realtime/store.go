package realtime

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"chatsync/internal/models"
)

// Subscription is a live value handle. Cancel must be called exactly once.
type Subscription interface {
	Cancel()
}

// DisconnectWrite is a deferred write registered to fire when the connection
// is lost without explicit teardown. Cancel withdraws it; a cancelled write
// never fires.
type DisconnectWrite interface {
	Cancel()
}

// Store keeps presence and typing records in Redis. Every write also
// publishes the encoded record on a channel named after the key, so
// subscribers see value changes pushed rather than polled.
type Store struct {
	client *redis.Client

	mu      sync.Mutex
	pending map[string][]byte
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Store{client: client, pending: make(map[string][]byte)}, nil
}

func presenceKey(userID string) string { return "status:" + userID }
func typingKey(userID string) string   { return "typing:" + userID }

func (s *Store) write(ctx context.Context, key string, value interface{}) error {
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, payload, 0).Err(); err != nil {
		return err
	}
	return s.client.Publish(ctx, key, payload).Err()
}

// SetPresence writes the user's own presence record.
func (s *Store) SetPresence(ctx context.Context, userID string, rec models.PresenceRecord) error {
	return s.write(ctx, presenceKey(userID), rec)
}

// SetTyping writes the user's typing record.
func (s *Store) SetTyping(ctx context.Context, userID string, rec models.TypingRecord) error {
	return s.write(ctx, typingKey(userID), rec)
}

type disconnectWrite struct {
	store *Store
	key   string
}

func (w *disconnectWrite) Cancel() {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	delete(w.store.pending, w.key)
}

// RegisterOfflineWrite registers a presence record to be written when the
// store connection closes. The platform, not the session, owns its firing.
func (s *Store) RegisterOfflineWrite(ctx context.Context, userID string, rec models.PresenceRecord) (DisconnectWrite, error) {
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, err
	}
	key := presenceKey(userID)
	s.mu.Lock()
	s.pending[key] = payload
	s.mu.Unlock()
	return &disconnectWrite{store: s, key: key}, nil
}

type valueSub struct {
	pubsub *redis.PubSub
	done   chan struct{}
	once   sync.Once
}

func (s *valueSub) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.pubsub.Close()
	})
}

func (s *Store) subscribe(ctx context.Context, key string, handle func([]byte)) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, key)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	sub := &valueSub{pubsub: pubsub, done: make(chan struct{})}

	// Initial value, if any, before live updates.
	if payload, err := s.client.Get(ctx, key).Bytes(); err == nil {
		handle(payload)
	} else if err != redis.Nil {
		pubsub.Close()
		return nil, err
	}

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-sub.done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handle([]byte(msg.Payload))
			}
		}
	}()

	return sub, nil
}

// SubscribePresence watches a single peer's presence record.
func (s *Store) SubscribePresence(ctx context.Context, userID string, fn func(models.PresenceRecord)) (Subscription, error) {
	return s.subscribe(ctx, presenceKey(userID), func(payload []byte) {
		var rec models.PresenceRecord
		if err := msgpack.Unmarshal(payload, &rec); err != nil {
			log.Printf("realtime: bad presence payload for %s: %v", userID, err)
			return
		}
		fn(rec)
	})
}

// SubscribeTyping watches a single peer's typing record. The record is keyed
// by sender only; callers that care must check the To field themselves.
func (s *Store) SubscribeTyping(ctx context.Context, userID string, fn func(models.TypingRecord)) (Subscription, error) {
	return s.subscribe(ctx, typingKey(userID), func(payload []byte) {
		var rec models.TypingRecord
		if err := msgpack.Unmarshal(payload, &rec); err != nil {
			log.Printf("realtime: bad typing payload for %s: %v", userID, err)
			return
		}
		fn(rec)
	})
}

// Close fires all still-registered disconnect writes, then closes the client.
func (s *Store) Close() error {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string][]byte)
	s.mu.Unlock()

	ctx := context.Background()
	for key, payload := range pending {
		if err := s.client.Set(ctx, key, payload, 0).Err(); err != nil {
			log.Printf("realtime: disconnect write failed for %s: %v", key, err)
			continue
		}
		if err := s.client.Publish(ctx, key, payload).Err(); err != nil {
			log.Printf("realtime: disconnect publish failed for %s: %v", key, err)
		}
	}
	return s.client.Close()
}
