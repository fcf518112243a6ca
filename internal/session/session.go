// Package session keeps bounded per-session chat history.
//
// History is keyed by (bot id, session id) and holds at most the bot's
// configured window of messages, dropping the oldest first. Appends for the
// same key are serialized; different keys never contend.
package session

import (
	"context"
	"sync"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one utterance in a session.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Store persists session history. Implementations must be safe for
// concurrent use and must keep each (bot, session) window independent.
type Store interface {
	// Append adds messages to the session's history and trims it to the
	// newest limit messages. A limit of zero keeps no history.
	Append(ctx context.Context, botID, sessionID string, limit int, msgs ...Message) error

	// History returns the session's messages, oldest first. An unknown
	// session returns an empty slice.
	History(ctx context.Context, botID, sessionID string) ([]Message, error)

	// Clear removes the session's history and reports whether it existed.
	Clear(ctx context.Context, botID, sessionID string) (bool, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.RWMutex // guards the sessions map itself
	sessions map[string]*window
}

type window struct {
	mu   sync.Mutex
	msgs []Message
}

// NewMemory creates an empty session store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*window)}
}

// Append implements Store.
func (m *Memory) Append(_ context.Context, botID, sessionID string, limit int, msgs ...Message) error {
	w := m.window(botID, sessionID)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.msgs = append(w.msgs, msgs...)
	if limit < 0 {
		limit = 0
	}
	if len(w.msgs) > limit {
		// Drop oldest; copy so the backing array does not pin dropped
		// messages.
		trimmed := make([]Message, limit)
		copy(trimmed, w.msgs[len(w.msgs)-limit:])
		w.msgs = trimmed
	}
	return nil
}

// History implements Store.
func (m *Memory) History(_ context.Context, botID, sessionID string) ([]Message, error) {
	m.mu.RLock()
	w, ok := m.sessions[key(botID, sessionID)]
	m.mu.RUnlock()
	if !ok {
		return []Message{}, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Message, len(w.msgs))
	copy(out, w.msgs)
	return out, nil
}

// Clear implements Store.
func (m *Memory) Clear(_ context.Context, botID, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(botID, sessionID)
	_, ok := m.sessions[k]
	delete(m.sessions, k)
	return ok, nil
}

func (m *Memory) window(botID, sessionID string) *window {
	k := key(botID, sessionID)

	m.mu.RLock()
	w, ok := m.sessions[k]
	m.mu.RUnlock()
	if ok {
		return w
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.sessions[k]; ok {
		return w
	}
	w = &window{}
	m.sessions[k] = w
	return w
}

func key(botID, sessionID string) string {
	return botID + "\x00" + sessionID
}
