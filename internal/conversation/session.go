package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"homework_bot/internal/domain"
)

const sessionVersion = 1

// Data is the scratch context collected across the steps of one flow.
type Data struct {
	UserID         int64                 `json:"user_id,omitempty"`
	GroupID        int64                 `json:"group_id,omitempty"`
	AssignmentID   int64                 `json:"assignment_id,omitempty"`
	AssignmentType domain.AssignmentType `json:"assignment_type,omitempty"`
	AssignmentName string                `json:"assignment_name,omitempty"`
	TaskID         int                   `json:"task_id,omitempty"`
}

type Session struct {
	State State `json:"state"`
	Data  Data  `json:"data"`
}

func NewSession() *Session {
	return &Session{State: StateStart}
}

// SessionStore persists one session per chat. Load returns a fresh session
// when nothing is stored.
type SessionStore interface {
	Load(ctx context.Context, chatID int64) (*Session, error)
	Save(ctx context.Context, chatID int64, s *Session) error
	Reset(ctx context.Context, chatID int64) error
}

type encodedSession struct {
	Version int `json:"v"`
	Session
}

func EncodeSession(s *Session) ([]byte, error) {
	return json.Marshal(encodedSession{Version: sessionVersion, Session: *s})
}

// DecodeSession restores a stored session. Sessions written by another
// version, or carrying an unknown state, decode as a fresh session.
func DecodeSession(b []byte) (*Session, error) {
	var enc encodedSession
	if err := json.Unmarshal(b, &enc); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if enc.Version != sessionVersion || !enc.State.IsValid() {
		return NewSession(), nil
	}
	s := enc.Session
	return &s, nil
}
