package srp

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tetherhq/tether/internal/model"
)

// Record is one resumable authenticated session (§4.10).
type Record struct {
	SessionID        string    `json:"sessionId"`
	Username         string    `json:"username"`
	SessionKey       []byte    `json:"sessionKey"`
	LastConnectedAt  time.Time `json:"lastConnectedAt"`
	BrowserProfileID string    `json:"browserProfileId,omitempty"`
	UserAgent        string    `json:"userAgent,omitempty"`
	Origin           string    `json:"origin,omitempty"`
}

// FileStore is the subset of internal/storage.Storage the session store
// needs, kept narrow so tests can fake it without touching disk.
type FileStore interface {
	Get(ctx context.Context, path []string, v any) error
	PutSensitive(ctx context.Context, path []string, v any) error
	Delete(ctx context.Context, path []string) error
	List(ctx context.Context, path []string) ([]string, error)
}

// SessionTTL is how long an idle resumable session stays valid.
const SessionTTL = 30 * 24 * time.Hour

// SessionStore persists auth sessions under "srp-sessions/<sessionId>",
// each file created 0600 via PutSensitive since it holds live key material.
type SessionStore struct {
	fs FileStore
}

// NewSessionStore wraps fs for SRP session persistence.
func NewSessionStore(fs FileStore) *SessionStore {
	return &SessionStore{fs: fs}
}

// Create mints a new session id and persists rec under it.
func (s *SessionStore) Create(ctx context.Context, rec Record) (Record, error) {
	rec.SessionID = ulid.Make().String()
	rec.LastConnectedAt = time.Now()
	if err := s.fs.PutSensitive(ctx, []string{"srp-sessions", rec.SessionID}, rec); err != nil {
		return Record{}, model.WrapError(model.ErrFatal, "persist srp session", err)
	}
	return rec, nil
}

// Lookup returns the record for sessionID, or (Record{}, false) if missing
// or expired (expired records are deleted on read, matching file-driven
// eviction elsewhere in the core).
func (s *SessionStore) Lookup(ctx context.Context, sessionID string) (Record, bool) {
	var rec Record
	if err := s.fs.Get(ctx, []string{"srp-sessions", sessionID}, &rec); err != nil {
		return Record{}, false
	}
	if time.Since(rec.LastConnectedAt) > SessionTTL {
		_ = s.fs.Delete(ctx, []string{"srp-sessions", sessionID})
		return Record{}, false
	}
	return rec, true
}

// Touch updates a session's lastConnectedAt, extending its TTL.
func (s *SessionStore) Touch(ctx context.Context, rec Record) error {
	rec.LastConnectedAt = time.Now()
	if err := s.fs.PutSensitive(ctx, []string{"srp-sessions", rec.SessionID}, rec); err != nil {
		return model.WrapError(model.ErrFatal, "refresh srp session", err)
	}
	return nil
}

// InvalidateUserSessions wipes every persisted session for username (used
// on password change or an explicit "sign out everywhere").
func (s *SessionStore) InvalidateUserSessions(ctx context.Context, username string) error {
	ids, err := s.fs.List(ctx, []string{"srp-sessions"})
	if err != nil {
		return model.WrapError(model.ErrTransient, "list srp sessions", err)
	}
	for _, id := range ids {
		var rec Record
		if err := s.fs.Get(ctx, []string{"srp-sessions", id}, &rec); err != nil {
			continue
		}
		if rec.Username == username {
			_ = s.fs.Delete(ctx, []string{"srp-sessions", id})
		}
	}
	return nil
}
