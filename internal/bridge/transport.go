// Package bridge implements the duplex JSON channel between the control
// plane and the external policy server: a reconnecting WebSocket transport
// with heartbeat and an outbound queue, and a sidecar-backed variant that
// lets the socket outlive a hibernated main process.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	ilog "github.com/cdp-agent/browserctl/internal/logger"
	"github.com/cdp-agent/browserctl/pkg/model"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// knownEnvelopeTypes is the closed-enough set of message kinds this
// transport forwards for decoding; anything else is logged and dropped
// rather than unmarshaled, so a policy server ahead of this build's
// taxonomy doesn't trip a decode error.
var knownEnvelopeTypes = map[string]bool{
	model.MsgStartSession:    true,
	model.MsgStopSession:     true,
	model.MsgObservation:     true,
	model.MsgPing:            true,
	model.MsgStatus:          true,
	model.MsgAction:          true,
	model.MsgError:           true,
	model.MsgPong:            true,
	model.MsgStartAutomation: true,
	model.MsgReloadExtension: true,
}

// ErrClosed is returned by Send/Receive once Close has been called.
var ErrClosed = errors.New("bridge: transport closed")

// ErrNotConnected is returned by Send/Receive before the first successful
// Connect, or after reconnection attempts are exhausted.
var ErrNotConnected = errors.New("bridge: not connected")

// Transport is the duplex channel a session.Controller drives its bridge
// traffic over, independent of whether the underlying socket lives inline
// or inside the sidecar.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, env model.Envelope) error
	Receive(ctx context.Context) (model.Envelope, error)
	State() model.BridgeState
	OnStateChange(fn func(model.BridgeState))
	Close() error
}

// Config parameterizes reconnect and heartbeat behavior. Field names and
// defaults mirror spec.md's bridge transport section exactly.
type Config struct {
	URL              string
	BaseDelay        time.Duration // default 1s
	MaxAttempts      int           // default 5
	MaxBackoff       time.Duration // default 30s
	HeartbeatPeriod  time.Duration // default 20s, under the host's 30s idle-kill
	SendBufferSize   int           // default 256
}

// withDefaults fills zero-value fields so a caller only sets what it cares
// about.
func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.HeartbeatPeriod <= 0 {
		c.HeartbeatPeriod = 20 * time.Second
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 256
	}
	return c
}

// wsTransport is the inline (no-sidecar) implementation, a direct analogue
// of the pack's WebSocketTransport: one live socket, a heartbeat goroutine,
// exponential-backoff reconnect, and a send-time buffer that drains FIFO
// once a new connection is up.
type wsTransport struct {
	cfg Config
	log ilog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	state         model.BridgeState
	onStateChange func(model.BridgeState)
	reconnecting  bool
	outbound      []model.Envelope
	closed        bool
	done          chan struct{}
}

// NewWSTransport builds the inline bridge transport.
func NewWSTransport(cfg Config, l ilog.Logger) Transport {
	if l == nil {
		l = ilog.NewNop()
	}
	return &wsTransport{
		cfg:   cfg.withDefaults(),
		log:   l.With("component", "bridge.wsTransport"),
		state: model.BridgeDisconnected,
		done:  make(chan struct{}),
	}
}

func (t *wsTransport) OnStateChange(fn func(model.BridgeState)) {
	t.mu.Lock()
	t.onStateChange = fn
	t.mu.Unlock()
}

func (t *wsTransport) setState(s model.BridgeState) {
	t.mu.Lock()
	t.state = s
	fn := t.onStateChange
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *wsTransport) State() model.BridgeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect dials the policy server and starts the heartbeat goroutine.
func (t *wsTransport) Connect(ctx context.Context) error {
	t.setState(model.BridgeConnecting)
	conn, _, err := websocket.Dial(ctx, t.cfg.URL, nil)
	if err != nil {
		t.setState(model.BridgeDisconnected)
		return fmt.Errorf("dial bridge: %w", err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.setState(model.BridgeConnected)
	go t.heartbeat(ctx)
	return nil
}

// Send marshals env and writes it as a text frame. A write failure while
// reconnect is disallowed or exhausted buffers the message for the next
// successful reconnect instead of dropping it.
func (t *wsTransport) Send(ctx context.Context, env model.Envelope) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.reconnecting {
		t.outbound = append(t.outbound, env)
		if len(t.outbound) > t.cfg.SendBufferSize {
			t.outbound = t.outbound[1:]
		}
		t.mu.Unlock()
		return nil
	}
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	// Stamp a client-side send timestamp onto the already-encoded frame
	// without round-tripping it back through the Envelope struct.
	if patched, perr := sjson.SetBytes(body, "client_time", time.Now().Unix()); perr == nil {
		body = patched
	}
	if err := conn.Write(ctx, websocket.MessageText, body); err != nil {
		t.log.Warn("send failed, reconnecting", "err", err.Error())
		if rerr := t.reconnect(ctx); rerr != nil {
			return fmt.Errorf("send failed and reconnect failed: %w", err)
		}
		return t.Send(ctx, env)
	}
	return nil
}

// Receive reads the next frame, transparently consuming pong replies and
// reconnecting once on a read failure.
func (t *wsTransport) Receive(ctx context.Context) (model.Envelope, error) {
	for {
		t.mu.Lock()
		closed := t.closed
		conn := t.conn
		t.mu.Unlock()
		if closed {
			return model.Envelope{}, ErrClosed
		}
		if conn == nil {
			return model.Envelope{}, ErrNotConnected
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return model.Envelope{}, ctx.Err()
			case <-t.done:
				return model.Envelope{}, ErrClosed
			default:
			}
			t.log.Warn("receive failed, reconnecting", "err", err.Error())
			if rerr := t.reconnect(ctx); rerr != nil {
				return model.Envelope{}, fmt.Errorf("receive failed and reconnect failed: %w", err)
			}
			continue
		}

		msgType := gjson.GetBytes(data, "type").String()
		if !knownEnvelopeTypes[msgType] {
			t.log.Warn("dropping unknown envelope type", "type", msgType)
			continue
		}

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return model.Envelope{}, fmt.Errorf("decode envelope: %w", err)
		}
		if env.Type == model.MsgPong {
			continue
		}
		return env, nil
	}
}

func (t *wsTransport) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.Send(ctx, model.Envelope{Type: model.MsgPing}); err != nil {
				t.log.Warn("heartbeat ping failed", "err", err.Error())
			}
		}
	}
}

// reconnect runs the exponential-backoff dial loop. Only one reconnect runs
// at a time; a concurrent caller waits for it to finish.
func (t *wsTransport) reconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.reconnecting {
		t.mu.Unlock()
		return t.waitForReconnect(ctx)
	}
	t.reconnecting = true
	old := t.conn
	t.conn = nil
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.reconnecting = false
		t.mu.Unlock()
	}()

	if old != nil {
		_ = old.Close(websocket.StatusNormalClosure, "reconnecting")
	}
	t.setState(model.BridgeConnecting)

	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		delay := backoffDelay(t.cfg.BaseDelay, attempt, t.cfg.MaxBackoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return ErrClosed
		case <-time.After(delay):
		}

		conn, _, err := websocket.Dial(ctx, t.cfg.URL, nil)
		if err != nil {
			t.log.Warn("reconnect attempt failed", "attempt", attempt, "err", err.Error())
			continue
		}

		t.mu.Lock()
		t.conn = conn
		buffered := t.outbound
		t.outbound = nil
		t.mu.Unlock()
		t.setState(model.BridgeConnected)
		t.log.Info("bridge reconnected", "attempt", attempt)

		for _, env := range buffered {
			if err := t.Send(ctx, env); err != nil {
				t.log.Warn("failed to flush buffered envelope", "type", env.Type, "err", err.Error())
			}
		}
		return nil
	}

	t.setState(model.BridgeError)
	return fmt.Errorf("bridge: exhausted %d reconnect attempts", t.cfg.MaxAttempts)
}

func (t *wsTransport) waitForReconnect(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return ErrClosed
		case <-ticker.C:
			t.mu.Lock()
			reconnecting := t.reconnecting
			state := t.state
			t.mu.Unlock()
			if !reconnecting {
				if state == model.BridgeConnected {
					return nil
				}
				return fmt.Errorf("bridge: reconnect finished in state %s", state)
			}
		}
	}
}

// Close shuts down the heartbeat loop and closes the underlying socket.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	t.setState(model.BridgeDisconnected)
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}
