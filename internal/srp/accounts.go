package srp

import (
	"context"
	"math/big"

	"github.com/tetherhq/tether/internal/model"
)

// storedAccount is an Account's on-disk form: the verifier serializes as
// decimal text since JSON has no native big-integer type.
type storedAccount struct {
	Identity string `json:"identity"`
	Salt     []byte `json:"salt"`
	Verifier string `json:"verifier"`
}

// FileAccountStore persists SRP accounts (salt + verifier, never a
// password) under "accounts/<identity>", one file per registered user.
// It implements AccountStore.
type FileAccountStore struct {
	fs FileStore
}

// NewFileAccountStore wraps fs for account persistence.
func NewFileAccountStore(fs FileStore) *FileAccountStore {
	return &FileAccountStore{fs: fs}
}

// Enroll computes a fresh salt/verifier pair for identity/password and
// persists it, overwriting any existing account for that identity. This is
// the only place a password is ever seen; nothing else in this package
// stores or compares it directly.
func (s *FileAccountStore) Enroll(ctx context.Context, identity, password string) error {
	salt, verifier, err := NewVerifier(identity, password)
	if err != nil {
		return err
	}
	rec := storedAccount{Identity: identity, Salt: salt, Verifier: verifier.Text(10)}
	if err := s.fs.PutSensitive(ctx, []string{"accounts", identity}, rec); err != nil {
		return model.WrapError(model.ErrFatal, "persist srp account", err)
	}
	return nil
}

// Lookup implements AccountStore.
func (s *FileAccountStore) Lookup(identity string) (Account, bool) {
	var rec storedAccount
	if err := s.fs.Get(context.Background(), []string{"accounts", identity}, &rec); err != nil {
		return Account{}, false
	}
	verifier, ok := new(big.Int).SetString(rec.Verifier, 10)
	if !ok {
		return Account{}, false
	}
	return Account{Identity: rec.Identity, Salt: rec.Salt, Verifier: verifier}, true
}
