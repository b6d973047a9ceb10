// Package notices holds per-session "errors to display once". The host's
// request pipeline attaches a session id to the context; messages recorded
// during that request are drained on the next storefront render and then
// forgotten. Entries expire so abandoned sessions do not accumulate.
package notices

import (
	"context"
	"strings"
	"sync"
	"time"
)

type sessionKey struct{}

// WithSession tags the context with the visitor's session id.
func WithSession(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionFrom extracts the session id, if any, from the context.
func SessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

type sessionNotices struct {
	messages  []string
	touchedAt time.Time
}

// Buffer is the process-wide store of displayable errors keyed by session.
type Buffer struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionNotices
}

// NewBuffer builds the buffer. The ttl bounds how long undrained messages
// survive; zero uses a 15 minute default.
func NewBuffer(ttl time.Duration) *Buffer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Buffer{ttl: ttl, now: time.Now, sessions: make(map[string]*sessionNotices)}
}

// RecordCtx appends a message for the context's session. Contexts without a
// session id drop the message silently; there is nowhere to display it.
func (b *Buffer) RecordCtx(ctx context.Context, message string) {
	b.Record(SessionFrom(ctx), message)
}

// Record appends a message for the given session.
func (b *Buffer) Record(sessionID, message string) {
	if b == nil || sessionID == "" || strings.TrimSpace(message) == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	entry, ok := b.sessions[sessionID]
	if !ok {
		entry = &sessionNotices{}
		b.sessions[sessionID] = entry
	}
	entry.messages = append(entry.messages, message)
	entry.touchedAt = b.now()
}

// Drain returns and clears the session's pending messages.
func (b *Buffer) Drain(sessionID string) []string {
	if b == nil || sessionID == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	entry, ok := b.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(b.sessions, sessionID)
	return entry.messages
}

func (b *Buffer) pruneLocked() {
	cutoff := b.now().Add(-b.ttl)
	for id, entry := range b.sessions {
		if entry.touchedAt.Before(cutoff) {
			delete(b.sessions, id)
		}
	}
}
