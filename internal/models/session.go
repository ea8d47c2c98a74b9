// internal/models/session.go
package models

import "time"

// SessionStatus 会话状态
type SessionStatus string

const (
	StatusIdle    SessionStatus = "idle"
	StatusLoading SessionStatus = "loading"
	StatusReady   SessionStatus = "ready"
	StatusFailed  SessionStatus = "failed"
)

// SessionView is the read-only snapshot of one browser session handed to the
// rendering layer and the JSON API.
type SessionView struct {
	ID        string        `json:"id"`
	Status    SessionStatus `json:"status"`
	ImageURI  string        `json:"image_uri,omitempty"`
	ImageMIME string        `json:"image_mime,omitempty"`
	Analysis  string        `json:"analysis"`
	Segments  []Segment     `json:"segments"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// SessionEvent is pushed to WebSocket subscribers on every transition.
type SessionEvent struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
	Segments  []Segment     `json:"segments,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
