// Package session implements the default Session type and a guarded Store
// with TTL eviction, used by the server to track authenticated connections.
package session

import "time"

// Session is the default phantomrpc.Session implementation. Applications
// that need extra per-session fields can embed Session the same way
// application packet types embed packet.Base.
type Session struct {
	IDField        string        `json:"id"`
	CreatedAtField int64         `json:"created_at"`
	LifespanField  time.Duration `json:"lifespan"`
}

// New creates a session stamped with the current time.
func New(id string, lifespan time.Duration) *Session {
	return &Session{
		IDField:        id,
		CreatedAtField: time.Now().Unix(),
		LifespanField:  lifespan,
	}
}

// Empty creates a session record carrying only an id, with a zero creation
// time and lifespan — used as a placeholder before the real session is
// known (e.g. client-side bookkeeping prior to receiving the server's OK).
func Empty(id string) *Session {
	return &Session{IDField: id}
}

func (s *Session) ID() string             { return s.IDField }
func (s *Session) CreatedAt() int64       { return s.CreatedAtField }
func (s *Session) Lifespan() time.Duration { return s.LifespanField }

// IsExpired reports whether now >= CreatedAt+Lifespan, compared in whole
// Unix seconds (Lifespan is truncated to whole seconds).
func (s *Session) IsExpired() bool {
	return time.Now().Unix() >= s.CreatedAtField+int64(s.LifespanField.Seconds())
}
