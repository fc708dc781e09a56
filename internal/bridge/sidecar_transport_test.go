package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ilog "github.com/cdp-agent/browserctl/internal/logger"
	"github.com/cdp-agent/browserctl/pkg/model"
)

// fakeSidecar answers the ready?/ready handshake and otherwise echoes
// whatever is sent back on the In channel, standing in for
// internal/sidecar's real Dial without needing a live socket.
type fakeSidecar struct {
	respondReady bool
	in           chan model.Envelope
	out          chan model.Envelope
}

func newFakeSidecar(respondReady bool) *fakeSidecar {
	return &fakeSidecar{respondReady: respondReady, in: make(chan model.Envelope, 4), out: make(chan model.Envelope, 4)}
}

func (f *fakeSidecar) dial(ctx context.Context) Mailbox {
	go func() {
		for {
			select {
			case env, ok := <-f.out:
				if !ok {
					return
				}
				if env.Type == "ready?" {
					if f.respondReady {
						select {
						case f.in <- model.Envelope{Type: "ready"}:
						case <-ctx.Done():
							return
						}
					}
					continue
				}
				select {
				case f.in <- env:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return Mailbox{In: f.in, Out: f.out}
}

func TestSidecarTransport_ConnectSucceedsOnReadyHandshake(t *testing.T) {
	fs := newFakeSidecar(true)
	tr := NewSidecarTransport(fs.dial, ilog.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	require.NoError(t, tr.Connect(ctx))
	assert.Equal(t, model.BridgeConnected, tr.State())
}

func TestSidecarTransport_ConnectFailsWithoutReadyReply(t *testing.T) {
	fs := newFakeSidecar(false)
	tr := NewSidecarTransport(fs.dial, ilog.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)

	err := tr.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, model.BridgeError, tr.State())
}

func TestSidecarTransport_SendReceiveRoundTrip(t *testing.T) {
	fs := newFakeSidecar(true)
	tr := NewSidecarTransport(fs.dial, ilog.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, tr.Connect(ctx))

	require.NoError(t, tr.Send(ctx, model.Envelope{Type: model.MsgAction, Action: "click"}))

	env, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.MsgAction, env.Type)
	assert.Equal(t, "click", env.Action)
}

func TestSidecarTransport_SendBeforeConnectReturnsNotConnected(t *testing.T) {
	fs := newFakeSidecar(true)
	tr := NewSidecarTransport(fs.dial, ilog.NewNop())
	err := tr.Send(context.Background(), model.Envelope{Type: model.MsgPing})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSidecarTransport_CloseIsIdempotentAndLeavesSidecarChannelsOpen(t *testing.T) {
	fs := newFakeSidecar(true)
	tr := NewSidecarTransport(fs.dial, ilog.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, tr.Connect(ctx))

	require.NoError(t, tr.Close())
	assert.Equal(t, model.BridgeDisconnected, tr.State())
	require.NoError(t, tr.Close())

	// Close only cancels this incarnation's dial context; the sidecar's own
	// mailbox channels, owned by fakeSidecar, are never closed by it.
	assert.NotPanics(t, func() {
		select {
		case fs.in <- model.Envelope{Type: model.MsgPing}:
		default:
		}
	})
}
