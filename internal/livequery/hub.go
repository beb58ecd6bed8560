package livequery

import (
	"context"
	"log"
	"sync"

	"chatsync/internal/models"
	"chatsync/internal/repositories"
)

// Subscription is a live-query handle. Cancel must be called exactly once
// when the owning scope ends; after Cancel no further snapshots are pushed.
type Subscription interface {
	Cancel()
}

// Hub turns the document store's request/response repositories into live
// queries: a subscriber receives an initial snapshot and a fresh one every
// time a writer invalidates the partition it watches. A failed re-query is
// logged and the subscriber keeps its last snapshot; stale-but-available
// beats blanking.
type Hub struct {
	messages repositories.MessageRepository
	users    repositories.UserRepository
	groups   repositories.GroupRepository

	mu        sync.RWMutex
	msgSubs   map[string]map[*messageSub]bool
	userSubs  map[*userSub]bool
	groupSubs map[*groupSub]bool
}

// NewHub creates an empty hub over the given repositories.
func NewHub(messages repositories.MessageRepository, users repositories.UserRepository, groups repositories.GroupRepository) *Hub {
	return &Hub{
		messages:  messages,
		users:     users,
		groups:    groups,
		msgSubs:   make(map[string]map[*messageSub]bool),
		userSubs:  make(map[*userSub]bool),
		groupSubs: make(map[*groupSub]bool),
	}
}

type messageSub struct {
	hub   *Hub
	key   string
	query repositories.MessageQuery
	fn    func([]models.Message)
}

func (s *messageSub) Cancel() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if subs, ok := s.hub.msgSubs[s.key]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.hub.msgSubs, s.key)
		}
	}
}

type userSub struct {
	hub *Hub
	fn  func([]models.User)
}

func (s *userSub) Cancel() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	delete(s.hub.userSubs, s)
}

type groupSub struct {
	hub      *Hub
	memberID string
	fn       func([]models.Group)
}

func (s *groupSub) Cancel() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	delete(s.hub.groupSubs, s)
}

// SubscribeMessages registers a live message query. The callback receives the
// initial snapshot before SubscribeMessages returns.
func (h *Hub) SubscribeMessages(ctx context.Context, q repositories.MessageQuery, fn func([]models.Message)) (Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	msgs, err := h.messages.ListMessages(ctx, q)
	if err != nil {
		return nil, err
	}

	sub := &messageSub{hub: h, key: q.PartitionKey(), query: q, fn: fn}
	h.mu.Lock()
	if _, ok := h.msgSubs[sub.key]; !ok {
		h.msgSubs[sub.key] = make(map[*messageSub]bool)
	}
	h.msgSubs[sub.key][sub] = true
	h.mu.Unlock()

	fn(msgs)
	return sub, nil
}

// SubscribeUsers registers a live query over the full user directory.
func (h *Hub) SubscribeUsers(ctx context.Context, fn func([]models.User)) (Subscription, error) {
	users, err := h.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	sub := &userSub{hub: h, fn: fn}
	h.mu.Lock()
	h.userSubs[sub] = true
	h.mu.Unlock()

	fn(users)
	return sub, nil
}

// SubscribeGroups registers a live query over the groups the user belongs to.
func (h *Hub) SubscribeGroups(ctx context.Context, memberID string, fn func([]models.Group)) (Subscription, error) {
	groups, err := h.groups.ListGroupsForUser(ctx, memberID)
	if err != nil {
		return nil, err
	}

	sub := &groupSub{hub: h, memberID: memberID, fn: fn}
	h.mu.Lock()
	h.groupSubs[sub] = true
	h.mu.Unlock()

	fn(groups)
	return sub, nil
}

// InvalidateMessages re-queries and pushes to every subscriber of the
// partition. Writers call this after appending or mutating a message.
func (h *Hub) InvalidateMessages(partitionKey string) {
	h.mu.RLock()
	subs := make([]*messageSub, 0, len(h.msgSubs[partitionKey]))
	for sub := range h.msgSubs[partitionKey] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		msgs, err := h.messages.ListMessages(context.Background(), sub.query)
		if err != nil {
			log.Printf("livequery: message re-query failed for %s: %v", partitionKey, err)
			continue
		}
		sub.fn(msgs)
	}
}

// InvalidateUsers pushes a fresh directory snapshot to every user subscriber.
func (h *Hub) InvalidateUsers() {
	h.mu.RLock()
	subs := make([]*userSub, 0, len(h.userSubs))
	for sub := range h.userSubs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		users, err := h.users.ListUsers(context.Background())
		if err != nil {
			log.Printf("livequery: user re-query failed: %v", err)
			continue
		}
		sub.fn(users)
	}
}

// InvalidateGroups pushes fresh group snapshots to every group subscriber.
func (h *Hub) InvalidateGroups() {
	h.mu.RLock()
	subs := make([]*groupSub, 0, len(h.groupSubs))
	for sub := range h.groupSubs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		groups, err := h.groups.ListGroupsForUser(context.Background(), sub.memberID)
		if err != nil {
			log.Printf("livequery: group re-query failed for %s: %v", sub.memberID, err)
			continue
		}
		sub.fn(groups)
	}
}
