// Package protocol defines the wire constants and message envelopes for
// the Secure Transport (§4.11): frame versioning, inner payload formats,
// and the tagged-union message types carried once a connection is
// authenticated.
package protocol

// EnvelopeVersion is the only version byte any server in this line has
// ever emitted; any other value closes the socket with CloseUnknownVersion.
const EnvelopeVersion byte = 0x01

// NonceSize is the secretbox nonce length carried in every encrypted
// envelope.
const NonceSize = 24

// UploadIDSize is the byte length of the upload-uuid prefix in a binary
// upload-chunk payload.
const UploadIDSize = 16

// MinEnvelopeLen is the minimum total length of a valid encrypted envelope:
// 1 version byte + 24 nonce bytes + 16 upload-id-sized minimum ciphertext
// overhead + 1 inner-format byte, per §4.11.
const MinEnvelopeLen = 1 + NonceSize + UploadIDSize + 1

// InnerFormat tags what an envelope's decrypted payload contains.
type InnerFormat byte

const (
	InnerFormatJSON       InnerFormat = 0x01
	InnerFormatUploadByte InnerFormat = 0x02
	InnerFormatGzipJSON   InnerFormat = 0x03
)

// CloseCode is the WebSocket close code used for transport-layer protocol
// violations.
type CloseCode int

const (
	// CloseUnknownVersion closes the connection on an envelope whose
	// version byte isn't 0x01, or whose inner format byte is unrecognized.
	CloseUnknownVersion CloseCode = 4002
)

// MessageType tags every message exchanged after a connection has
// authenticated (or during the plaintext SRP phase, for the auth messages
// themselves).
type MessageType string

const (
	// SRP handshake (§4.10), always plaintext/text frames.
	TypeHello     MessageType = "hello"
	TypeChallenge MessageType = "challenge"
	TypeProof     MessageType = "proof"
	TypeVerify    MessageType = "verify"
	TypeAuthError MessageType = "error"
	TypeResume    MessageType = "resume"
	TypeResumed   MessageType = "resumed"
	TypeInvalid   MessageType = "invalid"

	// Request/response and subscription surface (§4.11).
	TypeRequest      MessageType = "request"
	TypeResponse     MessageType = "response"
	TypeSubscribe    MessageType = "subscribe"
	TypeUnsubscribe  MessageType = "unsubscribe"
	TypeConnected    MessageType = "connected"
	TypeEvent        MessageType = "event"
	TypeHeartbeat    MessageType = "heartbeat"
	TypeUploadStart  MessageType = "upload_start"
	TypeUploadChunk  MessageType = "upload_chunk"
	TypeUploadProg   MessageType = "upload_progress"
	TypeUploadDone   MessageType = "upload_complete"
	TypeUploadError  MessageType = "upload_error"
	TypeCapabilities MessageType = "client_capabilities"

	// Relay control messages (§4.12), carried over the relay's own
	// outbound WebSocket before a claim hands a connection to the
	// Secure Transport machinery.
	TypeServerRegister  MessageType = "server_register"
	TypeServerRegistered MessageType = "server_registered"
	TypeServerRejected  MessageType = "server_rejected"
	TypeServerKeepalive MessageType = "server_keepalive"
	// TypeServerKeepaliveAck is the Relay Client's no-op reply to a
	// server_keepalive, used only to reset the relay's own liveness timer
	// for this registration (§3 supplemented feature).
	TypeServerKeepaliveAck MessageType = "server_keepalive_ack"
)

// Channel names a subscribe target (§4.11).
type Channel string

const (
	ChannelSession  Channel = "session"
	ChannelActivity Channel = "activity"
)

// Envelope is the decoded form of one binary encrypted frame: the inner
// format tag plus its raw payload. Callers switch on Format to know how
// to interpret Payload.
type Envelope struct {
	Format  InnerFormat
	Payload []byte
}

// RequestMsg is {id, method, path, headers?, body?} — the `request` type.
type RequestMsg struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// ResponseMsg answers a RequestMsg.
type ResponseMsg struct {
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// SubscribeMsg is {subscriptionId, channel, sessionId?, browserProfileId?, originMetadata?}.
type SubscribeMsg struct {
	SubscriptionID   string         `json:"subscriptionId"`
	Channel          Channel        `json:"channel"`
	SessionID        string         `json:"sessionId,omitempty"`
	BrowserProfileID string         `json:"browserProfileId,omitempty"`
	OriginMetadata   map[string]any `json:"originMetadata,omitempty"`
}

// UnsubscribeMsg is {subscriptionId}.
type UnsubscribeMsg struct {
	SubscriptionID string `json:"subscriptionId"`
}

// EventMsg carries one delivered event on a subscription, strictly
// monotonic within that subscription's own EventID sequence (§4.11
// ordering invariant).
type EventMsg struct {
	SubscriptionID string `json:"subscriptionId"`
	EventID        uint64 `json:"eventId"`
	Type           string `json:"type"`
	Data           any    `json:"data"`
}

// UploadStartMsg is {uploadId, projectId, sessionId, filename, size, mimeType}.
type UploadStartMsg struct {
	UploadID  string `json:"uploadId"`
	ProjectID string `json:"projectId"`
	SessionID string `json:"sessionId"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
}

// UploadChunkMsg is the JSON-framed alternative to the binary 0x02 format.
type UploadChunkMsg struct {
	UploadID string `json:"uploadId"`
	Offset   int64  `json:"offset"`
	DataB64  string `json:"data"`
}

// ClientCapabilitiesMsg advertises which InnerFormat values a client
// supports. The server accepts it but does not restrict the formats it
// sends by it.
type ClientCapabilitiesMsg struct {
	Formats []InnerFormat `json:"formats"`
}

// RequestHeaderConnID and RequestHeaderSessionID are the two well-known
// headers the server adds to an internal request forwarded from a
// `request` message, so HTTP handlers can distinguish transport-origin
// requests from direct HTTP ones (§4.11).
const (
	RequestHeaderConnID    = "X-Tether-Conn-Id"
	RequestHeaderSessionID = "X-Tether-Session-Id"
)
