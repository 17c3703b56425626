// Package session wraps the remote POS-session resource in a small state
// machine. The server enforces that one session is current per configuration;
// this package observes that, guards ownership locally, and verifies every
// state-changing call with a read-back.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/tillworks/possync/internal/rpc"
)

// Session states, in lifecycle order. Closed is terminal.
const (
	StateOpeningControl = "opening_control"
	StateOpened         = "opened"
	StateClosingControl = "closing_control"
	StateClosed         = "closed"
)

// ErrPermissionDenied indicates the caller is not the session owner. The
// guard fires before any remote call is attempted.
var ErrPermissionDenied = errors.New("permission denied: not the session owner")

// Session mirrors the remote pos.session record.
type Session struct {
	ID          int64  `json:"id"`
	OwnerUserID int64  `json:"user_id"`
	ConfigID    int64  `json:"config_id"`
	State       string `json:"state"`
}

// Manager drives session transitions against the backend.
type Manager struct {
	backend rpc.Invoker
}

// NewManager returns a Manager over the backend.
func NewManager(backend rpc.Invoker) *Manager {
	return &Manager{backend: backend}
}

var sessionFields = []interface{}{"id", "user_id", "config_id", "state"}

// Read fetches the current remote state of a session.
func (m *Manager) Read(ctx context.Context, id int64) (*Session, error) {
	raw, err := m.backend.Call(ctx, "pos.session", "read",
		[]interface{}{[]interface{}{id}, sessionFields}, nil)
	if err != nil {
		return nil, err
	}
	sessions, err := decodeSessions(raw)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("session %d not found", id)
	}
	return &sessions[0], nil
}

// findCurrent looks up a non-closed session for the configuration.
func (m *Manager) findCurrent(ctx context.Context, configID int64) (*Session, error) {
	domain := []interface{}{
		[]interface{}{"config_id", "=", configID},
		[]interface{}{"state", "!=", StateClosed},
	}
	raw, err := m.backend.Call(ctx, "pos.session", "search_read",
		[]interface{}{domain, sessionFields},
		map[string]interface{}{"limit": 1})
	if err != nil {
		return nil, err
	}
	sessions, err := decodeSessions(raw)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

// EnsureOpen returns an OPENED session for the configuration, creating one
// when none exists and driving a found one forward when it is still in
// opening control. If a transition cannot be verified, the best-known state
// is returned rather than asserting success.
func (m *Manager) EnsureOpen(ctx context.Context, configID, userID int64) (*Session, error) {
	s, err := m.findCurrent(ctx, configID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s, err = m.create(ctx, configID, userID)
		if err != nil {
			return nil, err
		}
	}
	switch s.State {
	case StateOpened:
		return s, nil
	case StateOpeningControl:
		return m.transition(ctx, s, "action_pos_session_open", StateOpened)
	case StateClosingControl:
		// mid-close; not this core's place to yank it back open
		return s, nil
	default:
		return s, nil
	}
}

// Close drives a session to CLOSED. Only the owning user may close; the
// guard fails before any remote call.
func (m *Manager) Close(ctx context.Context, s *Session, callerID int64) (*Session, error) {
	if callerID != s.OwnerUserID {
		return s, ErrPermissionDenied
	}
	switch s.State {
	case StateClosed:
		return s, nil
	case StateOpened:
		s2, err := m.transition(ctx, s, "action_pos_session_closing_control", StateClosingControl)
		if err != nil {
			return s2, err
		}
		s = s2
		if s.State != StateClosingControl {
			return s, nil
		}
		fallthrough
	case StateClosingControl:
		return m.transition(ctx, s, "action_pos_session_close", StateClosed)
	default:
		return s, fmt.Errorf("cannot close session %d from state %s", s.ID, s.State)
	}
}

// Reopen drives a CLOSING_CONTROL session back to OPENED. Owner only.
func (m *Manager) Reopen(ctx context.Context, s *Session, callerID int64) (*Session, error) {
	if callerID != s.OwnerUserID {
		return s, ErrPermissionDenied
	}
	if s.State != StateClosingControl {
		return s, fmt.Errorf("cannot reopen session %d from state %s", s.ID, s.State)
	}
	return m.transition(ctx, s, "action_pos_session_open", StateOpened)
}

func (m *Manager) create(ctx context.Context, configID, userID int64) (*Session, error) {
	raw, err := m.backend.Call(ctx, "pos.session", "create",
		[]interface{}{map[string]interface{}{"config_id": configID, "user_id": userID}}, nil)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil || id == 0 {
		return nil, fmt.Errorf("create session: unrecognized id in %s", raw)
	}
	return m.Read(ctx, id)
}

// transition invokes a state-changing method and verifies with a read-back.
// An unverifiable transition returns whatever state is best known, nil error.
func (m *Manager) transition(ctx context.Context, s *Session, method, want string) (*Session, error) {
	_, err := m.backend.Call(ctx, "pos.session", method, []interface{}{[]interface{}{s.ID}}, nil)
	if err != nil {
		return s, fmt.Errorf("session %d %s: %w", s.ID, method, err)
	}
	verified, err := m.Read(ctx, s.ID)
	if err != nil {
		log.Printf("[session] read-back after %s on session %d failed: %v", method, s.ID, err)
		return s, nil
	}
	if verified.State != want {
		log.Printf("[session] session %d in state %s after %s (wanted %s)", s.ID, verified.State, method, want)
	}
	return verified, nil
}

func decodeSessions(raw json.RawMessage) ([]Session, error) {
	var sessions []Session
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return sessions, nil
}
