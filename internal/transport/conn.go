package transport

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/tetherhq/tether/internal/eventbus"
	"github.com/tetherhq/tether/internal/process"
	"github.com/tetherhq/tether/internal/srp"
	"github.com/tetherhq/tether/pkg/protocol"
)

// wireMessage is the minimal envelope every plaintext/JSON message shares:
// enough to dispatch on Type before decoding the rest.
type wireMessage struct {
	Type protocol.MessageType `json:"type"`
	Raw  json.RawMessage      `json:"-"`
}

type helloWire struct {
	Identity         string `json:"identity"`
	A                string `json:"a"`
	BrowserProfileID string `json:"browserProfileId,omitempty"`
}

type proofWire struct {
	M1 string `json:"m1"`
}

type resumeWire struct {
	Identity  string `json:"identity"`
	SessionID string `json:"sessionId"`
	Proof     string `json:"proof"`
}

// subscription tracks one live subscribe{} request.
type subscription struct {
	id          string
	channel     protocol.Channel
	unsubscribe func()
	eventSeq    uint64
}

// uploadState tracks one in-flight binary upload.
type uploadState struct {
	meta     protocol.UploadStartMsg
	received int64
	data     []byte
}

// Conn is one client connection: plaintext SRP handshake, then encrypted
// envelopes. Reads happen on the goroutine that calls run(); writes are
// serialized through send to avoid concurrent writes to the same
// *websocket.Conn (gorilla/websocket requires external write serialization).
type Conn struct {
	hub *Hub
	ws  *websocket.Conn

	send chan []byte

	id string

	mu            sync.Mutex
	authenticated bool
	sessionKey    [32]byte
	sessionID     string
	username      string
	handshake     *srp.Handshake
	hello         srp.Hello

	subs    map[string]*subscription
	uploads map[string]*uploadState

	// preread holds a text frame already pulled off the wire before this
	// Conn existed — set when the Relay Client probes a claimed
	// connection's first frame to detect it isn't a control message, then
	// hands the connection off still owning that frame.
	preread []byte

	cancel context.CancelFunc
}

func newConn(hub *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		hub:     hub,
		ws:      ws,
		send:    make(chan []byte, 64),
		id:      ulid.Make().String(),
		subs:    make(map[string]*subscription),
		uploads: make(map[string]*uploadState),
	}
}

func (c *Conn) run() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	defer c.teardown()

	go c.writeLoop()
	c.readLoop(ctx)
}

func (c *Conn) teardown() {
	c.cancel()
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = make(map[string]*subscription)
	c.uploads = make(map[string]*uploadState)
	c.mu.Unlock()

	for _, s := range subs {
		s.unsubscribe()
	}
	close(c.send)
	_ = c.ws.Close()
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		mt := websocket.TextMessage
		if c.isAuthenticated() {
			mt = websocket.BinaryMessage
		}
		if err := c.ws.WriteMessage(mt, msg); err != nil {
			return
		}
	}
}

func (c *Conn) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Conn) readLoop(ctx context.Context) {
	if c.preread != nil {
		data := c.preread
		c.preread = nil
		if !c.handlePlaintext(ctx, data) {
			return
		}
	}

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		if !c.isAuthenticated() {
			if mt != websocket.TextMessage {
				return
			}
			if !c.handlePlaintext(ctx, data) {
				return
			}
			continue
		}

		if mt != websocket.BinaryMessage {
			continue // non-binary frames after authentication are ignored
		}
		if !c.handleEnvelope(ctx, data) {
			return
		}
	}
}

// handlePlaintext dispatches one of the SRP handshake JSON messages.
// Returns false when the connection should close.
func (c *Conn) handlePlaintext(ctx context.Context, data []byte) bool {
	var env wireMessage
	if err := json.Unmarshal(data, &env); err != nil {
		c.sendAuthError("server_error", "malformed message")
		return false
	}

	switch env.Type {
	case protocol.TypeHello:
		var hw helloWire
		if err := json.Unmarshal(data, &hw); err != nil {
			c.sendAuthError("server_error", "malformed hello")
			return false
		}
		a, ok := new(big.Int).SetString(hw.A, 16)
		if !ok {
			c.sendAuthError("server_error", "malformed A")
			return false
		}
		hello := srp.Hello{Identity: hw.Identity, A: a, BrowserProfileID: hw.BrowserProfileID}
		hs, salt, bPub, err := c.hub.auth.Challenge(hello)
		if err != nil {
			c.sendAuthError("invalid_identity", err.Error())
			return true
		}
		c.mu.Lock()
		c.handshake = hs
		c.hello = hello
		c.mu.Unlock()
		c.sendJSON(map[string]any{
			"type": protocol.TypeChallenge,
			"salt": hexEncode(salt),
			"B":    bPub.Text(16),
		})
		return true

	case protocol.TypeProof:
		var pw proofWire
		if err := json.Unmarshal(data, &pw); err != nil {
			c.sendAuthError("server_error", "malformed proof")
			return false
		}
		c.mu.Lock()
		hs, hello := c.handshake, c.hello
		c.mu.Unlock()
		if hs == nil {
			c.sendAuthError("server_error", "proof without challenge")
			return false
		}
		m1 := hexDecode(pw.M1)
		result, err := c.hub.auth.Verify(ctx, hs, hello, srp.Proof{M1: m1})
		if err != nil {
			c.sendAuthError("invalid_proof", err.Error())
			return true
		}
		c.completeAuth(hello.Identity, result.SessionID, result.SessionKey, result.M2)
		return true

	case protocol.TypeResume:
		var rw resumeWire
		if err := json.Unmarshal(data, &rw); err != nil {
			c.sendAuthError("server_error", "malformed resume")
			return false
		}
		key, ok := c.hub.auth.Resume(ctx, srp.ResumeRequest{
			Identity: rw.Identity, SessionID: rw.SessionID, Proof: hexDecode(rw.Proof),
		})
		if !ok {
			c.sendJSON(map[string]any{"type": protocol.TypeInvalid, "reason": "invalid_proof"})
			return true
		}
		c.mu.Lock()
		c.authenticated = true
		c.sessionKey = [32]byte{}
		copy(c.sessionKey[:], key)
		c.sessionID = rw.SessionID
		c.username = rw.Identity
		c.mu.Unlock()
		c.sendJSON(map[string]any{"type": protocol.TypeResumed, "sessionId": rw.SessionID})
		return true

	default:
		c.sendAuthError("server_error", "unexpected message before authentication")
		return false
	}
}

func (c *Conn) completeAuth(username, sessionID string, sessionKey, m2 []byte) {
	c.mu.Lock()
	c.authenticated = true
	c.username = username
	c.sessionID = sessionID
	c.sessionKey = [32]byte{}
	copy(c.sessionKey[:], sessionKey)
	c.mu.Unlock()
	c.sendJSON(map[string]any{
		"type":      protocol.TypeVerify,
		"M2":        hexEncode(m2),
		"sessionId": sessionID,
	})
}

func (c *Conn) sendAuthError(code, message string) {
	c.sendJSON(map[string]any{"type": protocol.TypeAuthError, "code": code, "message": message})
}

func (c *Conn) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// handleEnvelope decrypts one binary frame and dispatches on its inner
// format. Returns false when a protocol violation requires closing the
// connection (§4.11's close-4002 rule).
func (c *Conn) handleEnvelope(ctx context.Context, raw []byte) bool {
	env, err := protocol.DecryptEnvelope(c.sessionKeyCopy(), raw)
	if err != nil {
		if envErr, ok := err.(*protocol.EnvelopeError); ok && envErr.Close {
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(int(protocol.CloseUnknownVersion), envErr.Message))
			return false
		}
		return true
	}

	switch env.Format {
	case protocol.InnerFormatJSON, protocol.InnerFormatGzipJSON:
		return c.handleJSONMessage(ctx, env.Payload, env.Format == protocol.InnerFormatGzipJSON)
	case protocol.InnerFormatUploadByte:
		c.handleUploadChunkBinary(env.Payload)
		return true
	default:
		return true
	}
}

func (c *Conn) sessionKeyCopy() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionKey
}

func (c *Conn) handleJSONMessage(ctx context.Context, payload []byte, gzipped bool) bool {
	body := payload
	if gzipped {
		decoded, err := gunzip(payload)
		if err != nil {
			return true
		}
		body = decoded
	}

	var env wireMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return true
	}

	switch env.Type {
	case protocol.TypeRequest:
		c.handleRequest(body)
	case protocol.TypeSubscribe:
		c.handleSubscribe(body)
	case protocol.TypeUnsubscribe:
		c.handleUnsubscribe(body)
	case protocol.TypeUploadStart:
		c.handleUploadStart(body)
	case protocol.TypeUploadChunk:
		c.handleUploadChunkJSON(body)
	case protocol.TypeCapabilities:
		// advisory only; no per-connection format negotiation is enforced.
	}
	return true
}

func (c *Conn) handleRequest(body []byte) {
	var req protocol.RequestMsg
	if err := json.Unmarshal(body, &req); err != nil {
		return
	}
	if c.hub.handler == nil {
		c.replyEnvelope(protocol.InnerFormatJSON, protocol.ResponseMsg{ID: req.ID, Status: 501})
		return
	}
	resp := c.hub.handler.Handle(req, c.id, c.sessionIDCopy())
	c.replyEnvelope(protocol.InnerFormatJSON, resp)
}

func (c *Conn) sessionIDCopy() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Conn) replyEnvelope(format protocol.InnerFormat, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	raw, err := protocol.EncryptEnvelope(c.sessionKeyCopy(), format, payload)
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
	}
}

func (c *Conn) handleSubscribe(body []byte) {
	var sub protocol.SubscribeMsg
	if err := json.Unmarshal(body, &sub); err != nil {
		return
	}

	switch sub.Channel {
	case protocol.ChannelSession:
		c.subscribeSession(sub)
	case protocol.ChannelActivity:
		c.subscribeActivity(sub)
	}
}

func (c *Conn) subscribeSession(sub protocol.SubscribeMsg) {
	if sub.SessionID == "" || c.hub.procs == nil {
		return
	}
	proc, ok := c.hub.procs.GetProcessForSession(sub.SessionID)
	if !ok {
		return
	}

	state := &subscription{id: sub.SubscriptionID, channel: sub.Channel}
	unsubscribe := proc.Subscribe(func(ev process.Event) {
		c.deliverEvent(state, "process."+string(ev.Type), ev)
	})
	state.unsubscribe = unsubscribe

	c.mu.Lock()
	c.subs[sub.SubscriptionID] = state
	c.mu.Unlock()

	c.replyEnvelope(protocol.InnerFormatJSON, map[string]any{
		"type":           protocol.TypeConnected,
		"subscriptionId": sub.SubscriptionID,
		"state":          proc.State(),
		"history":        proc.MessageHistory(),
	})

	go c.heartbeatLoop(state)
}

func (c *Conn) subscribeActivity(sub protocol.SubscribeMsg) {
	if c.hub.bus == nil {
		return
	}
	state := &subscription{id: sub.SubscriptionID, channel: sub.Channel}
	state.unsubscribe = c.hub.bus.Subscribe(func(ev eventbus.Event) {
		c.deliverEvent(state, string(ev.Type), ev)
	})

	c.mu.Lock()
	c.subs[sub.SubscriptionID] = state
	c.mu.Unlock()

	go c.heartbeatLoop(state)
}

func (c *Conn) deliverEvent(state *subscription, typ string, data any) {
	state.eventSeq++
	c.replyEnvelope(protocol.InnerFormatJSON, protocol.EventMsg{
		SubscriptionID: state.id,
		EventID:        state.eventSeq,
		Type:           typ,
		Data:           data,
	})
}

func (c *Conn) heartbeatLoop(state *subscription) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		_, stillSubscribed := c.subs[state.id]
		c.mu.Unlock()
		if !stillSubscribed {
			return
		}
		c.deliverEvent(state, string(protocol.TypeHeartbeat), nil)
	}
}

func (c *Conn) handleUnsubscribe(body []byte) {
	var msg protocol.UnsubscribeMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return
	}
	c.mu.Lock()
	state, ok := c.subs[msg.SubscriptionID]
	delete(c.subs, msg.SubscriptionID)
	c.mu.Unlock()
	if ok {
		state.unsubscribe()
	}
}

func (c *Conn) handleUploadStart(body []byte) {
	var start protocol.UploadStartMsg
	if err := json.Unmarshal(body, &start); err != nil {
		return
	}
	c.mu.Lock()
	c.uploads[start.UploadID] = &uploadState{meta: start, data: make([]byte, 0, start.Size)}
	c.mu.Unlock()
}

func (c *Conn) handleUploadChunkJSON(body []byte) {
	var chunk protocol.UploadChunkMsg
	if err := json.Unmarshal(body, &chunk); err != nil {
		return
	}
	data := base64Decode(chunk.DataB64)
	c.applyUploadChunk(chunk.UploadID, chunk.Offset, data)
}

func (c *Conn) handleUploadChunkBinary(payload []byte) {
	id, offset, chunk, err := protocol.DecodeUploadChunk(payload)
	if err != nil {
		return
	}
	c.applyUploadChunk(ulidFromBytes(id), int64(offset), chunk)
}

func (c *Conn) applyUploadChunk(uploadID string, offset int64, chunk []byte) {
	c.mu.Lock()
	up, ok := c.uploads[uploadID]
	c.mu.Unlock()
	if !ok {
		c.replyEnvelope(protocol.InnerFormatJSON, map[string]any{"type": protocol.TypeUploadError, "uploadId": uploadID, "reason": "unknown upload"})
		return
	}
	if offset != up.received {
		c.replyEnvelope(protocol.InnerFormatJSON, map[string]any{"type": protocol.TypeUploadError, "uploadId": uploadID, "reason": "offset mismatch"})
		return
	}
	up.data = append(up.data, chunk...)
	up.received += int64(len(chunk))

	if up.received >= up.meta.Size {
		c.mu.Lock()
		delete(c.uploads, uploadID)
		c.mu.Unlock()
		c.replyEnvelope(protocol.InnerFormatJSON, map[string]any{"type": protocol.TypeUploadDone, "uploadId": uploadID})
		return
	}
	c.replyEnvelope(protocol.InnerFormatJSON, map[string]any{"type": protocol.TypeUploadProg, "uploadId": uploadID, "received": up.received})
}

// cancelUploads releases any partial upload buffers. teardown clears the
// same map itself and does not call this.
func (c *Conn) cancelUploads() {
	c.mu.Lock()
	c.uploads = make(map[string]*uploadState)
	c.mu.Unlock()
}
