package srp

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"

	"github.com/tetherhq/tether/internal/model"
)

// Account is what the server needs on record for one identity to run a
// handshake: the salt and verifier computed at password-set time.
type Account struct {
	Identity string
	Salt     []byte
	Verifier *big.Int
}

// AccountStore resolves an identity to its stored Account. Unknown
// identities return (Account{}, false) — the server still completes a dummy
// round with a salt derived from the identity and a useless verifier so the
// challenge doesn't reveal account existence (RFC 2945 §3 guidance).
type AccountStore interface {
	Lookup(identity string) (Account, bool)
}

// Handshake holds one in-progress SRP-6a exchange (hello → challenge →
// proof → verify). It is not safe for concurrent use by multiple callers;
// callers key one Handshake per connection attempt.
type Handshake struct {
	account Account
	known   bool

	b    *big.Int // server secret
	a    *big.Int // client public (A), captured at hello
	bPub *big.Int

	sessionKey []byte
}

// k is the SRP-6a multiplier, k = H(N, g).
func multiplierK() *big.Int {
	n, g := Group()
	return hashInts(n, g)
}

// Challenge begins a handshake for identity with client public value a.
// Per RFC 2945, an unknown identity still produces a syntactically valid
// (salt, B) pair so the client cannot distinguish "no such user" from a
// real account by response shape alone; Verify will simply never
// succeed for it.
func Challenge(store AccountStore, identity string, a *big.Int) (*Handshake, []byte, *big.Int, error) {
	n, _ := Group()
	if a.Sign() == 0 || new(big.Int).Mod(a, n).Sign() == 0 {
		return nil, nil, nil, model.NewError(model.ErrInvalidInput, "invalid client public value A")
	}

	acct, known := store.Lookup(identity)
	if !known {
		acct = dummyAccount(identity)
	}

	hs := &Handshake{account: acct, known: known, a: a}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, nil, nil, model.WrapError(model.ErrFatal, "generate srp secret", err)
	}
	hs.b = new(big.Int).SetBytes(b)

	_, g := Group()
	k := multiplierK()
	gb := new(big.Int).Exp(g, hs.b, n)
	kv := new(big.Int).Mul(k, acct.Verifier)
	bPubVal := new(big.Int).Mod(new(big.Int).Add(kv, gb), n)
	hs.bPub = bPubVal

	return hs, acct.Salt, bPubVal, nil
}

func dummyAccount(identity string) Account {
	h := sha256.Sum256([]byte("no-such-account:" + identity))
	salt := h[:SaltLen]
	n, _ := Group()
	v := new(big.Int).SetBytes(h[:])
	v.Mod(v, n)
	return Account{Identity: identity, Salt: salt, Verifier: v}
}

// Verify checks the client's M1 proof and, on success, returns the derived
// 32-byte session key (HKDF-SHA256 over the shared secret S) and the
// server's own M2 confirmation proof.
func (hs *Handshake) Verify(clientM1 []byte) (sessionKey, serverM2 []byte, err error) {
	if !hs.known {
		return nil, nil, model.NewError(model.ErrAuthFailed, "invalid_identity")
	}

	n, _ := Group()
	u := hashInts(hs.a, hs.bPub)
	if u.Sign() == 0 {
		return nil, nil, model.NewError(model.ErrAuthFailed, "invalid_proof")
	}

	// S = (A * v^u) ^ b mod N
	vu := new(big.Int).Exp(hs.account.Verifier, u, n)
	avu := new(big.Int).Mul(hs.a, vu)
	avu.Mod(avu, n)
	s := new(big.Int).Exp(avu, hs.b, n)

	expectedM1 := hashInts(hs.a, hs.bPub, s)
	if !constantTimeEqual(expectedM1.Bytes(), clientM1) {
		return nil, nil, model.NewError(model.ErrAuthFailed, "invalid_proof")
	}

	m2 := hashInts(hs.a, expectedM1, s)

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, s.Bytes(), nil, []byte("tether-srp-session-key"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, nil, model.WrapError(model.ErrFatal, "derive session key", err)
	}
	hs.sessionKey = key

	return key, m2.Bytes(), nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
