package srp

import (
	"crypto/rand"
	"crypto/sha256"
	"math/big"
)

// SaltLen is the byte length of a newly generated salt.
const SaltLen = 16

// NewVerifier computes the (salt, verifier) pair stored for a user at
// password-set time: x = H(salt || H(identity || ":" || password)),
// v = g^x mod N. The verifier is safe to persist; the password never is.
func NewVerifier(identity, password string) (salt []byte, verifier *big.Int, err error) {
	salt = make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, err
	}
	x := computeX(salt, identity, password)
	n, g := Group()
	v := new(big.Int).Exp(g, x, n)
	return salt, v, nil
}

func computeX(salt []byte, identity, password string) *big.Int {
	inner := sha256.Sum256([]byte(identity + ":" + password))
	h := sha256.New()
	h.Write(salt)
	h.Write(inner[:])
	return new(big.Int).SetBytes(h.Sum(nil))
}

// hashInts hashes the big-endian byte representation of each argument in
// order, as SRP's H(...) notation requires.
func hashInts(ints ...*big.Int) *big.Int {
	h := sha256.New()
	for _, i := range ints {
		h.Write(i.Bytes())
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}
