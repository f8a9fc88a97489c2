package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"

	"github.com/tetherhq/tether/internal/eventbus"
	"github.com/tetherhq/tether/internal/srp"
	"github.com/tetherhq/tether/pkg/protocol"
)

// The client-side SRP math below deliberately re-derives the same formulas
// internal/srp/server.go and internal/srp/verifier.go implement, since
// those are unexported server internals and a real client lives outside
// this module entirely.

func srpHashInts(ints ...*big.Int) *big.Int {
	h := sha256.New()
	for _, i := range ints {
		h.Write(i.Bytes())
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}

func srpMultiplierK(t *testing.T) *big.Int {
	t.Helper()
	n, g := srp.Group()
	return srpHashInts(n, g)
}

func srpComputeX(t *testing.T, salt []byte, identity, password string) *big.Int {
	t.Helper()
	inner := sha256.Sum256([]byte(identity + ":" + password))
	h := sha256.New()
	h.Write(salt)
	h.Write(inner[:])
	return new(big.Int).SetBytes(h.Sum(nil))
}

func hexDecodeForTest(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func hkdfSessionKey(t *testing.T, secret []byte) [32]byte {
	t.Helper()
	var key [32]byte
	kdf := hkdf.New(sha256.New, secret, nil, []byte("tether-srp-session-key"))
	_, err := kdf.Read(key[:])
	require.NoError(t, err)
	return key
}

type memAccounts struct {
	accounts map[string]srp.Account
}

func (m *memAccounts) Lookup(identity string) (srp.Account, bool) {
	a, ok := m.accounts[identity]
	return a, ok
}

type memFileStore struct {
	files map[string]srp.Record
}

func newMemFileStore() *memFileStore { return &memFileStore{files: make(map[string]srp.Record)} }

func (m *memFileStore) Get(ctx context.Context, path []string, v any) error {
	rec, ok := m.files[strings.Join(path, "/")]
	if !ok {
		return errNotFound{}
	}
	*(v.(*srp.Record)) = rec
	return nil
}

func (m *memFileStore) PutSensitive(ctx context.Context, path []string, v any) error {
	m.files[strings.Join(path, "/")] = v.(srp.Record)
	return nil
}

func (m *memFileStore) Delete(ctx context.Context, path []string) error {
	delete(m.files, strings.Join(path, "/"))
	return nil
}

func (m *memFileStore) List(ctx context.Context, path []string) ([]string, error) {
	return nil, nil
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

// testClient drives the client side of an SRP handshake against a real
// Hub over a real httptest WebSocket server — exercising the same wire
// messages a real client would send.
type testClient struct {
	ws *websocket.Conn
}

func dialTestServer(t *testing.T, hub *Hub) *testClient {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &testClient{ws: ws}
}

func (tc *testClient) send(v any) {
	data, _ := json.Marshal(v)
	_ = tc.ws.WriteMessage(websocket.TextMessage, data)
}

func (tc *testClient) recvJSON(t *testing.T, v any) {
	t.Helper()
	_, data, err := tc.ws.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func setupAuth(t *testing.T, identity, password string) *srp.Auth {
	t.Helper()
	salt, verifier, err := srp.NewVerifier(identity, password)
	require.NoError(t, err)
	accounts := &memAccounts{accounts: map[string]srp.Account{identity: {Identity: identity, Salt: salt, Verifier: verifier}}}
	store := srp.NewSessionStore(newMemFileStore())
	return srp.New(accounts, store)
}

// performHandshake runs the full hello/challenge/proof/verify exchange and
// returns the negotiated session key and id.
func performHandshake(t *testing.T, tc *testClient, identity, password string) (sessionKey [32]byte, sessionID string) {
	t.Helper()
	n, g := srp.Group()

	aSecret := make([]byte, 32)
	aVal := new(big.Int).SetBytes(append(aSecret, 7)) // non-zero
	aPub := new(big.Int).Exp(g, aVal, n)

	tc.send(map[string]any{"type": protocol.TypeHello, "identity": identity, "a": aPub.Text(16)})

	var challenge struct {
		Salt string `json:"salt"`
		B    string `json:"B"`
	}
	tc.recvJSON(t, &challenge)

	saltBytes, err := hexDecodeForTest(challenge.Salt)
	require.NoError(t, err)
	bPub, ok := new(big.Int).SetString(challenge.B, 16)
	require.True(t, ok)

	x := srpComputeX(t, saltBytes, identity, password)
	u := srpHashInts(aPub, bPub)
	k := srpMultiplierK(t)
	gx := new(big.Int).Exp(g, x, n)
	kgx := new(big.Int).Mul(k, gx)
	base := new(big.Int).Sub(bPub, kgx)
	base.Mod(base, n)
	exp := new(big.Int).Add(aVal, new(big.Int).Mul(u, x))
	s := new(big.Int).Exp(base, exp, n)
	m1 := srpHashInts(aPub, bPub, s).Bytes()

	tc.send(map[string]any{"type": protocol.TypeProof, "m1": hexEncode(m1)})

	var verify struct {
		M2        string `json:"M2"`
		SessionID string `json:"sessionId"`
	}
	tc.recvJSON(t, &verify)
	require.NotEmpty(t, verify.SessionID)

	key := hkdfSessionKey(t, s.Bytes())
	return key, verify.SessionID
}

func TestHandshakeSucceedsAndRegistersConnection(t *testing.T) {
	auth := setupAuth(t, "alice", "swordfish")
	bus := eventbus.New()
	hub := New(Options{Auth: auth, Bus: bus, Log: zerolog.Nop()})

	tc := dialTestServer(t, hub)
	_, _ = performHandshake(t, tc, "alice", "swordfish")

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, time.Millisecond)
}

func TestWrongPasswordRejected(t *testing.T) {
	auth := setupAuth(t, "bob", "correct")
	hub := New(Options{Auth: auth, Log: zerolog.Nop()})
	tc := dialTestServer(t, hub)

	n, g := srp.Group()
	aVal := big.NewInt(99999)
	aPub := new(big.Int).Exp(g, aVal, n)
	tc.send(map[string]any{"type": protocol.TypeHello, "identity": "bob", "a": aPub.Text(16)})

	var challenge struct {
		Salt string `json:"salt"`
		B    string `json:"B"`
	}
	tc.recvJSON(t, &challenge)

	// Send a garbage M1 — never derived from the real password.
	tc.send(map[string]any{"type": protocol.TypeProof, "m1": "deadbeef"})

	var resp struct {
		Type string `json:"type"`
		Code string `json:"code"`
	}
	tc.recvJSON(t, &resp)
	require.Equal(t, string(protocol.TypeAuthError), resp.Type)
	require.Equal(t, "invalid_proof", resp.Code)
}
