package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ilog "github.com/cdp-agent/browserctl/internal/logger"
	"github.com/cdp-agent/browserctl/pkg/model"
)

// newEchoServer upgrades to a WebSocket and echoes back whatever it reads,
// except a "ping" envelope, which draws a "pong" reply.
func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var env model.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				return
			}
			if env.Type == model.MsgPing {
				body, _ := json.Marshal(model.Envelope{Type: model.MsgPong})
				if err := conn.Write(r.Context(), websocket.MessageText, body); err != nil {
					return
				}
				continue
			}
			if err := conn.Write(r.Context(), websocket.MessageText, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSTransport_ConnectAndClose(t *testing.T) {
	srv := newEchoServer(t)
	tr := NewWSTransport(Config{URL: wsURL(srv), HeartbeatPeriod: time.Hour}, ilog.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	assert.Equal(t, model.BridgeDisconnected, tr.State())
	require.NoError(t, tr.Connect(ctx))
	assert.Equal(t, model.BridgeConnected, tr.State())

	require.NoError(t, tr.Close())
	assert.Equal(t, model.BridgeDisconnected, tr.State())
	require.NoError(t, tr.Close())
}

func TestWSTransport_ConnectFailureLeavesDisconnected(t *testing.T) {
	tr := NewWSTransport(Config{URL: "ws://127.0.0.1:1", HeartbeatPeriod: time.Hour}, ilog.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	err := tr.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, model.BridgeDisconnected, tr.State())
}

func TestWSTransport_SendReceiveRoundTrip(t *testing.T) {
	srv := newEchoServer(t)
	tr := NewWSTransport(Config{URL: wsURL(srv), HeartbeatPeriod: time.Hour}, ilog.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, tr.Connect(ctx))
	t.Cleanup(func() { _ = tr.Close() })

	require.NoError(t, tr.Send(ctx, model.Envelope{Type: model.MsgAction, Action: "click"}))

	env, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.MsgAction, env.Type)
	assert.Equal(t, "click", env.Action)
}

func TestWSTransport_ReceiveFiltersPong(t *testing.T) {
	srv := newEchoServer(t)
	tr := NewWSTransport(Config{URL: wsURL(srv), HeartbeatPeriod: time.Hour}, ilog.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, tr.Connect(ctx))
	t.Cleanup(func() { _ = tr.Close() })

	require.NoError(t, tr.Send(ctx, model.Envelope{Type: model.MsgPing}))
	require.NoError(t, tr.Send(ctx, model.Envelope{Type: model.MsgAction, Action: "wait"}))

	env, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.MsgAction, env.Type)
}

func TestWSTransport_ReceiveDropsUnknownEnvelopeType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		unknown, _ := json.Marshal(map[string]any{"type": "some_future_kind"})
		_ = conn.Write(r.Context(), websocket.MessageText, unknown)
		known, _ := json.Marshal(model.Envelope{Type: model.MsgStatus, Status: "ok"})
		_ = conn.Write(r.Context(), websocket.MessageText, known)
	}))
	t.Cleanup(srv.Close)

	tr := NewWSTransport(Config{URL: wsURL(srv), HeartbeatPeriod: time.Hour}, ilog.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, tr.Connect(ctx))
	t.Cleanup(func() { _ = tr.Close() })

	env, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.MsgStatus, env.Type)
}

func TestWSTransport_SendBeforeConnectReturnsNotConnected(t *testing.T) {
	tr := NewWSTransport(Config{URL: "ws://127.0.0.1:1"}, ilog.NewNop())
	err := tr.Send(context.Background(), model.Envelope{Type: model.MsgPing})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestWSTransport_OnStateChangeObservesTransitions(t *testing.T) {
	srv := newEchoServer(t)
	tr := NewWSTransport(Config{URL: wsURL(srv), HeartbeatPeriod: time.Hour}, ilog.NewNop())

	var states []model.BridgeState
	tr.OnStateChange(func(s model.BridgeState) { states = append(states, s) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.Close())

	require.GreaterOrEqual(t, len(states), 3)
	assert.Equal(t, model.BridgeConnecting, states[0])
	assert.Contains(t, states, model.BridgeConnected)
	assert.Equal(t, model.BridgeDisconnected, states[len(states)-1])
}

func TestWSTransport_SendAfterCloseReturnsClosed(t *testing.T) {
	srv := newEchoServer(t)
	tr := NewWSTransport(Config{URL: wsURL(srv), HeartbeatPeriod: time.Hour}, ilog.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	require.NoError(t, tr.Connect(ctx))
	require.NoError(t, tr.Close())

	err := tr.Send(ctx, model.Envelope{Type: model.MsgPing})
	assert.ErrorIs(t, err, ErrClosed)
}
