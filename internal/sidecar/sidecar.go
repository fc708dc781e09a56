// Package sidecar hosts the long-lived goroutine tree that owns the bridge
// socket independent of any one session controller incarnation. On a host
// that can hibernate the main process between sessions, the sidecar is the
// only thing keeping the policy-server connection — and its backlog of
// inbound frames — alive across that gap.
package sidecar

import (
	"context"
	"sync"

	"github.com/cdp-agent/browserctl/internal/bridge"
	ilog "github.com/cdp-agent/browserctl/internal/logger"
	"github.com/cdp-agent/browserctl/pkg/model"
)

// inboundBacklog caps how many server-originated frames the sidecar holds
// onto while no controller mailbox is open.
const inboundBacklog = 64

// Sidecar owns a single bridge.Transport and fans its traffic out to
// whichever controller currently has a mailbox open, buffering inbound
// frames in between.
type Sidecar struct {
	transport bridge.Transport
	log       ilog.Logger

	mu       sync.Mutex
	inbound  chan model.Envelope // delivered to the live mailbox, if any
	backlog  []model.Envelope    // buffered while no mailbox is open
	hasBox   bool
	stopOnce sync.Once
	stop     chan struct{}
}

// New builds a Sidecar around transport, which it owns exclusively — no
// other component may call Send/Receive on it directly once the sidecar is
// running.
func New(transport bridge.Transport, l ilog.Logger) *Sidecar {
	if l == nil {
		l = ilog.NewNop()
	}
	return &Sidecar{
		transport: transport,
		log:       l.With("component", "sidecar.Sidecar"),
		inbound:   make(chan model.Envelope, inboundBacklog),
		stop:      make(chan struct{}),
	}
}

// Run connects the transport and pumps inbound frames until ctx is
// cancelled or Close is called. Intended to run for the lifetime of the
// host process, independent of any session.
func (s *Sidecar) Run(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		default:
		}
		env, err := s.transport.Receive(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.stop:
				return nil
			default:
			}
			s.log.Warn("receive failed", "err", err.Error())
			continue
		}
		s.deliver(env)
	}
}

func (s *Sidecar) deliver(env model.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasBox {
		s.backlog = append(s.backlog, env)
		if len(s.backlog) > inboundBacklog {
			s.backlog = s.backlog[1:]
		}
		return
	}
	select {
	case s.inbound <- env:
	default:
		s.log.Warn("inbound mailbox full, dropping frame", "type", env.Type)
	}
}

// Dial opens a Mailbox for one controller incarnation, first flushing any
// backlog accumulated while no mailbox was open. Closing ctx tears the
// mailbox's outbound pump down; the sidecar itself keeps running.
func (s *Sidecar) Dial(ctx context.Context) bridge.Mailbox {
	s.mu.Lock()
	s.hasBox = true
	backlog := s.backlog
	s.backlog = nil
	s.mu.Unlock()

	for _, env := range backlog {
		select {
		case s.inbound <- env:
		default:
		}
	}

	out := make(chan model.Envelope, inboundBacklog)
	go func() {
		for {
			select {
			case <-ctx.Done():
				s.mu.Lock()
				s.hasBox = false
				s.mu.Unlock()
				return
			case env := <-out:
				// "ready?" is the local handshake probe sidecarTransport.Connect
				// sends; answer it directly instead of forwarding it to the
				// policy server.
				if env.Type == "ready?" {
					select {
					case s.inbound <- model.Envelope{Type: "ready"}:
					default:
					}
					continue
				}
				if err := s.transport.Send(ctx, env); err != nil {
					s.log.Warn("sidecar send failed", "type", env.Type, "err", err.Error())
				}
			}
		}
	}()

	return bridge.Mailbox{In: s.inbound, Out: out}
}

// Close stops Run and closes the underlying transport.
func (s *Sidecar) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.transport.Close()
}
