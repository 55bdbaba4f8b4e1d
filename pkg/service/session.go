package service

import (
	"sync"
)

// Session holds the per-caller mutable state of one interaction stream.
// The last-produced-path pointer lives here, on an explicit object keyed by
// channel and chat, so concurrent sessions never observe each other's
// results.
type Session struct {
	mu            sync.Mutex
	lastImagePath string
}

// LastImagePath returns the path of the most recent successful generate or
// edit in this session, or "" when none happened yet.
func (s *Session) LastImagePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastImagePath
}

func (s *Session) setLastImagePath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastImagePath = path
}

// SessionManager hands out Session objects keyed by the transport session
// identifier (channelID_chatID). Sessions are created on first use and live
// for the process lifetime.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// Get returns the session for the key, creating it when absent.
func (m *SessionManager) Get(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		s = &Session{}
		m.sessions[key] = s
	}
	return s
}
