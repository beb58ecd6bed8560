package handlers

import (
	"context"
	"sync"

	"chatsync/internal/repositories"
	"chatsync/internal/session"
	"chatsync/internal/ws"
)

// SessionManager owns the live sessions, one per authenticated user. Session
// state events are pushed to the user's feed connections.
type SessionManager struct {
	feeds     session.Feeds
	rt        session.Realtime
	messages  repositories.MessageRepository
	uploader  session.Uploader
	generator session.Generator
	hub       *ws.Hub

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(feeds session.Feeds, rt session.Realtime, messages repositories.MessageRepository, uploader session.Uploader, generator session.Generator, hub *ws.Hub) *SessionManager {
	return &SessionManager{
		feeds:     feeds,
		rt:        rt,
		messages:  messages,
		uploader:  uploader,
		generator: generator,
		hub:       hub,
		sessions:  make(map[string]*session.Session),
	}
}

// Open starts a session for the user, or returns the existing one. Opening is
// what flips the user online and arms the deferred offline write.
func (m *SessionManager) Open(ctx context.Context, userID string) (*session.Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[userID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := session.Start(ctx, session.Config{
		UserID:    userID,
		Feeds:     m.feeds,
		Realtime:  m.rt,
		Messages:  m.messages,
		Uploader:  m.uploader,
		Generator: m.generator,
		Notify: func(event session.Event) {
			m.hub.PushEvent(userID, event)
		},
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[userID]; ok {
		// Lost the race; keep the first session.
		m.mu.Unlock()
		s.Close(ctx)
		return existing, nil
	}
	m.sessions[userID] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns the user's live session, if any.
func (m *SessionManager) Get(userID string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// Close tears down the user's session if one is live.
func (m *SessionManager) Close(ctx context.Context, userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if ok {
		s.Close(ctx)
	}
}

// Shutdown closes every live session.
func (m *SessionManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session.Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close(ctx)
	}
}
