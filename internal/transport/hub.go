// Package transport implements the Secure Transport (§4.11): one WebSocket
// connection per client, SRP handshake in plaintext JSON, then binary
// encrypted envelopes carrying request/response, subscribe/unsubscribe, and
// upload messages.
package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tetherhq/tether/internal/eventbus"
	"github.com/tetherhq/tether/internal/process"
	"github.com/tetherhq/tether/internal/srp"
	"github.com/tetherhq/tether/pkg/protocol"
)

// HeartbeatInterval is how often a subscription receives a liveness event.
const HeartbeatInterval = 30 * time.Second

// RequestHandler routes a forwarded `request` message into the same
// internal HTTP handler stack used by direct HTTP (§4.11). connID and
// sessionID back the two well-known headers the server adds to the
// internal request so handlers can distinguish transport-origin requests.
type RequestHandler interface {
	Handle(req protocol.RequestMsg, connID, sessionID string) protocol.ResponseMsg
}

// ProcessLookup is the subset of internal/supervisor.Supervisor the
// transport needs for the `session` channel.
type ProcessLookup interface {
	GetProcessForSession(sessionID string) (*process.Process, bool)
}

// Hub accepts inbound WebSocket connections (direct, or handed off from a
// Relay Client claim) and runs each one's handshake + message loop.
type Hub struct {
	upgrader websocket.Upgrader
	auth     *srp.Auth
	bus      *eventbus.Bus
	procs    ProcessLookup
	handler  RequestHandler
	log      zerolog.Logger

	allowedOrigins map[string]bool

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// Options configures a Hub.
type Options struct {
	Auth           *srp.Auth
	Bus            *eventbus.Bus
	Processes      ProcessLookup
	RequestHandler RequestHandler
	AllowedOrigins []string
	Log            zerolog.Logger
}

// New builds a Hub.
func New(opts Options) *Hub {
	allowed := make(map[string]bool, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		allowed[o] = true
	}
	h := &Hub{
		auth:           opts.Auth,
		bus:            opts.Bus,
		procs:          opts.Processes,
		handler:        opts.RequestHandler,
		log:            opts.Log.With().Str("component", "transport").Logger(),
		allowedOrigins: allowed,
		conns:          make(map[*Conn]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin allows every origin when none are configured (dev mode),
// matching the permissive-by-default posture of the gateway this is
// grounded on.
func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	return h.allowedOrigins[r.Header.Get("Origin")]
}

// ServeHTTP upgrades an inbound HTTP request to a WebSocket and runs the
// connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.Adopt(ws)
}

// Adopt takes ownership of an already-upgraded *websocket.Conn — used both
// by ServeHTTP and by the Relay Client handing off a claimed connection.
func (h *Hub) Adopt(ws *websocket.Conn) {
	c := newConn(h, ws)
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go func() {
		c.run()
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
	}()
}

// AdoptClaimed is like Adopt, but for a connection the Relay Client has
// already read one text frame from while probing whether it was a control
// message. firstFrame is replayed into the new Conn's read loop before it
// resumes reading from ws directly.
func (h *Hub) AdoptClaimed(ws *websocket.Conn, firstFrame []byte) {
	c := newConn(h, ws)
	c.preread = firstFrame
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go func() {
		c.run()
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
	}()
}

// ConnectionCount reports how many connections are currently live.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
