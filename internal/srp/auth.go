package srp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"math/big"

	"github.com/tetherhq/tether/internal/model"
)

// Auth ties account lookup, handshake arithmetic, and session persistence
// into the four plaintext handshake messages §4.10 names.
type Auth struct {
	accounts AccountStore
	sessions *SessionStore
}

// New builds an Auth over the given account store and session store.
func New(accounts AccountStore, sessions *SessionStore) *Auth {
	return &Auth{accounts: accounts, sessions: sessions}
}

// Hello is the client's opening message: {identity, A, browserProfileId?, originMetadata?}.
type Hello struct {
	Identity         string
	A                *big.Int
	BrowserProfileID string
	Origin           string
}

// Challenge responds to Hello with {salt, B}, keeping the in-progress
// Handshake keyed internally by the caller (typically the connection).
func (a *Auth) Challenge(hello Hello) (*Handshake, []byte, *big.Int, error) {
	return Challenge(a.accounts, hello.Identity, hello.A)
}

// Proof is the client's third message: {A, M1}.
type Proof struct {
	M1 []byte
}

// VerifyResult is what the server answers with: either a fresh session or
// a typed error (invalid_identity | invalid_proof | server_error, §4.10).
type VerifyResult struct {
	SessionID  string
	M2         []byte
	SessionKey []byte
}

// Verify completes the handshake, persisting a new session on success.
func (a *Auth) Verify(ctx context.Context, hs *Handshake, hello Hello, proof Proof) (VerifyResult, error) {
	key, m2, err := hs.Verify(proof.M1)
	if err != nil {
		return VerifyResult{}, err
	}

	rec, err := a.sessions.Create(ctx, Record{
		Username:         hello.Identity,
		SessionKey:       key,
		BrowserProfileID: hello.BrowserProfileID,
		Origin:           hello.Origin,
	})
	if err != nil {
		return VerifyResult{}, err
	}

	return VerifyResult{SessionID: rec.SessionID, M2: m2, SessionKey: key}, nil
}

// ResumeRequest is the client's resume message: {identity, sessionId, proof}.
// proof is HMAC-SHA256(sessionKey, sessionId) — proves possession of the
// stored session key without re-running the full exchange.
type ResumeRequest struct {
	Identity  string
	SessionID string
	Proof     []byte
}

// Resume validates a resume request against the persisted session record.
// On success it touches the record's TTL and returns the session key so
// the caller can re-establish its encrypted transport without a fresh
// handshake.
func (a *Auth) Resume(ctx context.Context, req ResumeRequest) (sessionKey []byte, ok bool) {
	rec, found := a.sessions.Lookup(ctx, req.SessionID)
	if !found || rec.Username != req.Identity {
		return nil, false
	}

	mac := hmac.New(sha256.New, rec.SessionKey)
	mac.Write([]byte(req.SessionID))
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, req.Proof) {
		return nil, false
	}

	_ = a.sessions.Touch(ctx, rec)
	return rec.SessionKey, true
}

// InvalidateUserSessions delegates to the session store.
func (a *Auth) InvalidateUserSessions(ctx context.Context, username string) error {
	return a.sessions.InvalidateUserSessions(ctx, username)
}

// ResumeProof computes the client-side proof for a resume request, exposed
// for tests and for any in-process client exercising the same protocol.
func ResumeProof(sessionKey []byte, sessionID string) []byte {
	mac := hmac.New(sha256.New, sessionKey)
	mac.Write([]byte(sessionID))
	return mac.Sum(nil)
}

// wrapServerError is the catch-all §4.10 server_error surface for anything
// that isn't a well-formed invalid_identity/invalid_proof outcome.
func wrapServerError(cause error) error {
	return model.WrapError(model.ErrFatal, "srp server error", cause)
}
