package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	ilog "github.com/cdp-agent/browserctl/internal/logger"
	"github.com/cdp-agent/browserctl/pkg/model"
)

// Mailbox is a controller incarnation's view onto the sidecar: Out carries
// frames the controller wants sent to the policy server, In delivers
// frames the sidecar received on the controller's behalf. Dialed from
// internal/sidecar, consumed here so the two packages don't import each
// other both ways.
type Mailbox struct {
	In  <-chan model.Envelope
	Out chan<- model.Envelope
}

// Dialer opens a fresh Mailbox against the sidecar, scoped to ctx.
type Dialer func(ctx context.Context) Mailbox

const (
	handshakeTimeout = 500 * time.Millisecond
	handshakeRetries = 3
	handshakeBackoff = 300 * time.Millisecond
)

// sidecarTransport satisfies Transport by talking to internal/sidecar over
// an in-process Mailbox instead of owning a socket directly. The sidecar
// holds the real wsTransport; this type exists so session.Controller never
// needs to branch on placement.
type sidecarTransport struct {
	dial Dialer
	log  ilog.Logger

	mu            sync.Mutex
	box           Mailbox
	cancel        context.CancelFunc
	state         model.BridgeState
	onStateChange func(model.BridgeState)
}

// NewSidecarTransport builds a Transport backed by the given mailbox
// dialer, typically *sidecar.Sidecar.Dial.
func NewSidecarTransport(dial Dialer, l ilog.Logger) Transport {
	if l == nil {
		l = ilog.NewNop()
	}
	return &sidecarTransport{dial: dial, log: l.With("component", "bridge.sidecarTransport"), state: model.BridgeDisconnected}
}

func (t *sidecarTransport) OnStateChange(fn func(model.BridgeState)) {
	t.mu.Lock()
	t.onStateChange = fn
	t.mu.Unlock()
}

func (t *sidecarTransport) setState(s model.BridgeState) {
	t.mu.Lock()
	t.state = s
	fn := t.onStateChange
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *sidecarTransport) State() model.BridgeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect dials the mailbox and confirms the sidecar is actually alive with
// a local ready? probe, retried up to handshakeRetries times.
func (t *sidecarTransport) Connect(ctx context.Context) error {
	t.setState(model.BridgeConnecting)
	boxCtx, cancel := context.WithCancel(ctx)
	box := t.dial(boxCtx)

	for attempt := 1; attempt <= handshakeRetries; attempt++ {
		select {
		case box.Out <- model.Envelope{Type: "ready?"}:
		case <-ctx.Done():
			cancel()
			return ctx.Err()
		}

		select {
		case env := <-box.In:
			if env.Type == "ready" {
				t.mu.Lock()
				t.box = box
				t.cancel = cancel
				t.mu.Unlock()
				t.setState(model.BridgeConnected)
				return nil
			}
		case <-time.After(handshakeTimeout):
		case <-ctx.Done():
			cancel()
			return ctx.Err()
		}

		if attempt < handshakeRetries {
			select {
			case <-time.After(handshakeBackoff):
			case <-ctx.Done():
				cancel()
				return ctx.Err()
			}
		}
	}

	cancel()
	t.setState(model.BridgeError)
	return fmt.Errorf("bridge: sidecar handshake failed after %d attempts", handshakeRetries)
}

func (t *sidecarTransport) Send(ctx context.Context, env model.Envelope) error {
	t.mu.Lock()
	box := t.box
	t.mu.Unlock()
	if box.Out == nil {
		return ErrNotConnected
	}
	select {
	case box.Out <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *sidecarTransport) Receive(ctx context.Context) (model.Envelope, error) {
	t.mu.Lock()
	box := t.box
	t.mu.Unlock()
	if box.In == nil {
		return model.Envelope{}, ErrNotConnected
	}
	select {
	case env, ok := <-box.In:
		if !ok {
			return model.Envelope{}, ErrClosed
		}
		return env, nil
	case <-ctx.Done():
		return model.Envelope{}, ctx.Err()
	}
}

// Close tears down this incarnation's mailbox. The sidecar and its
// underlying socket keep running for the next controller incarnation.
func (t *sidecarTransport) Close() error {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.setState(model.BridgeDisconnected)
	return nil
}
