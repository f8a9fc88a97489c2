// Package relay implements the Relay Client (§4.12): a single outbound
// WebSocket to a rendezvous server that registers this server under a
// username, waits to be "claimed" by an incoming browser connection, and
// hands the claimed socket off to the Secure Transport hub exactly as if it
// had arrived over a direct inbound listener.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tetherhq/tether/pkg/protocol"
)

// State is the Relay Client's own lifecycle, independent of the underlying
// socket's state: a client can be "waiting" across many reconnects of the
// same logical registration.
type State string

const (
	StateDisabled    State = "disabled"
	StateConnecting  State = "connecting"
	StateRegistering State = "registering"
	StateWaiting     State = "waiting"
	StateRejected    State = "rejected"
)

// Hub is the subset of internal/transport.Hub the Relay Client hands claimed
// connections off to. AdoptClaimed takes both the socket and the first text
// frame already read off it while probing for a claim.
type Hub interface {
	AdoptClaimed(ws *websocket.Conn, firstFrame []byte)
}

// Config configures one relay registration.
type Config struct {
	RelayURL  string
	Username  string
	InstallID string
}

// reconnectBaseInterval and reconnectMaxInterval bound the exponential
// backoff §4.12 specifies for reconnecting after an unexpected close in any
// of the connecting/registering/waiting states.
const (
	reconnectBaseInterval = time.Second
	reconnectMaxInterval  = 60 * time.Second
)

// keepaliveTimeout bounds how long the client will wait for a
// server_keepalive (or any other frame) before deciding the relay has gone
// silent and forcing a reconnect (§3 relay keepalive).
const keepaliveTimeout = 90 * time.Second

// Client maintains the single outbound relay connection.
type Client struct {
	hub    Hub
	log    zerolog.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	cfg     Config
	enabled bool
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Client that hands claimed connections to hub.
func New(hub Hub, log zerolog.Logger) *Client {
	return &Client{
		hub:    hub,
		log:    log.With().Str("component", "relay").Logger(),
		dialer: websocket.DefaultDialer,
		state:  StateDisabled,
	}
}

// Start begins (or restarts) the relay loop under cfg. Calling Start while
// already running stops the previous loop first, matching updateRelayUrl
// and updateUsername's "restarts" semantics from §4.12.
func (c *Client) Start(cfg Config) {
	c.stopLocked()

	c.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	c.cfg = cfg
	c.enabled = true
	c.cancel = cancel
	c.state = StateConnecting
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	go c.run(ctx, cfg, done)
}

// Stop halts the relay loop. isEnabled() reports false afterward.
func (c *Client) Stop() {
	c.stopLocked()
}

func (c *Client) stopLocked() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.enabled = false
	c.state = StateDisabled
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// UpdateRelayURL changes the rendezvous URL and restarts the connection.
func (c *Client) UpdateRelayURL(url string) {
	c.mu.Lock()
	cfg := c.cfg
	enabled := c.enabled
	c.mu.Unlock()
	if !enabled {
		return
	}
	cfg.RelayURL = url
	c.Start(cfg)
}

// UpdateUsername changes the registered username and restarts the connection.
func (c *Client) UpdateUsername(name string) {
	c.mu.Lock()
	cfg := c.cfg
	enabled := c.enabled
	c.mu.Unlock()
	if !enabled {
		return
	}
	cfg.Username = name
	c.Start(cfg)
}

// GetState reports the current lifecycle state.
func (c *Client) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsEnabled reports whether Start has been called without a matching Stop.
func (c *Client) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// run owns one logical registration: it reconnects with exponential backoff
// until ctx is cancelled (by Stop or by a restart).
func (c *Client) run(ctx context.Context, cfg Config, done chan struct{}) {
	defer close(done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectBaseInterval
	b.MaxInterval = reconnectMaxInterval
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // retry forever until stopped
	b.Reset()

	for {
		if ctx.Err() != nil {
			return
		}

		rejected, claimed, err := c.connectOnce(ctx, cfg, b)
		if rejected {
			c.setState(StateRejected)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if claimed {
			// A claim was handed off to the hub; immediately open a fresh
			// outbound connection to remain available, per §4.12 step 3.
			continue
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("relay connection lost, reconnecting")
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connectOnce dials the relay, registers, and then either waits to be
// claimed (handing the claiming socket to the hub and redialing to remain
// available) or is rejected outright. It returns rejected=true only for a
// server_rejected response, per §4.12's "no auto-reconnect" rule, and
// claimed=true when the socket was handed off (and so must not be closed
// here).
func (c *Client) connectOnce(ctx context.Context, cfg Config, b *backoff.ExponentialBackOff) (rejected, claimed bool, err error) {
	c.setState(StateConnecting)

	ws, _, dialErr := c.dialer.DialContext(ctx, cfg.RelayURL, nil)
	if dialErr != nil {
		return false, false, dialErr
	}
	defer func() {
		if !claimed {
			ws.Close()
		}
	}()

	c.setState(StateRegistering)
	reg := map[string]any{
		"type":      protocol.TypeServerRegister,
		"username":  cfg.Username,
		"installId": cfg.InstallID,
	}
	if writeErr := ws.WriteJSON(reg); writeErr != nil {
		return false, false, writeErr
	}

	var ack struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if readErr := ws.ReadJSON(&ack); readErr != nil {
		return false, false, readErr
	}

	switch protocol.MessageType(ack.Type) {
	case protocol.TypeServerRejected:
		c.log.Warn().Str("reason", ack.Reason).Msg("relay rejected registration")
		return true, false, errors.New("server_rejected: " + ack.Reason)
	case protocol.TypeServerRegistered:
		// success, fall through
	default:
		return false, false, errors.New("unexpected relay response: " + ack.Type)
	}

	// A successful registration resets the backoff, per §4.12.
	b.Reset()
	c.setState(StateWaiting)

	rejected, claimed, err = c.waitForClaim(ctx, ws)
	return rejected, claimed, err
}

// waitForClaim reads control frames (keepalives) until either the socket
// closes or a non-control message arrives — which §4.12 defines as a claim:
// the first message that isn't a recognized control type looks like an SRP
// hello, and ownership of the socket passes to the Secure Transport hub.
func (c *Client) waitForClaim(ctx context.Context, ws *websocket.Conn) (rejected bool, claimed bool, err error) {
	_ = ws.SetReadDeadline(time.Now().Add(keepaliveTimeout))
	for {
		if ctx.Err() != nil {
			return false, false, ctx.Err()
		}

		msgType, data, readErr := ws.ReadMessage()
		if readErr != nil {
			return false, false, readErr
		}
		_ = ws.SetReadDeadline(time.Now().Add(keepaliveTimeout))
		if msgType != websocket.TextMessage {
			// A claimed connection speaks binary once authenticated, but
			// the first frame after server_registered is always the
			// plaintext SRP hello (§4.10), so a non-text first frame here
			// is not a valid claim.
			continue
		}

		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &probe) != nil {
			continue
		}

		switch protocol.MessageType(probe.Type) {
		case protocol.TypeServerKeepalive:
			// A no-op ack: the relay doesn't require a reply, but sending one
			// lets it reset its own liveness timer for this registration.
			ack, _ := json.Marshal(map[string]string{"type": string(protocol.TypeServerKeepaliveAck)})
			_ = ws.WriteMessage(websocket.TextMessage, ack)
			continue
		default:
			// Not a recognized relay control message: treat as a claim
			// and hand the socket to the hub, replaying the frame already
			// consumed off the wire so its hello handler still sees it.
			c.hub.AdoptClaimed(ws, data)
			return false, true, nil
		}
	}
}
