package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cdp-agent/browserctl/internal/cdp"
	ilog "github.com/cdp-agent/browserctl/internal/logger"
	"github.com/cdp-agent/browserctl/internal/storage"
	"github.com/cdp-agent/browserctl/pkg/model"

	"github.com/google/uuid"
)

var (
	ErrSessionActive = errors.New("session: a session is already active")
	ErrNoSuchSession = errors.New("session: no such active session")
)

// cleanupPollInterval is how often withCleanupMutex re-checks the lock
// while waiting for a cleanup already in progress -- the Go analogue of
// spec.md's single-boolean wait-loop.
const cleanupPollInterval = 200 * time.Millisecond

// detachSettleDelay is how long CLEANING waits after a Detach before the
// next Attach, giving the browser time to release the debugger so the new
// attachment doesn't race the old one's teardown.
const detachSettleDelay = 500 * time.Millisecond

// idleSettleDelay is how long CLEANING waits after Stop's Detach before the
// controller signals IDLE.
const idleSettleDelay = 300 * time.Millisecond

// settle blocks for d, returning early with ctx's error if ctx is cancelled
// first.
func settle(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Controller drives the single active session this host runs at a time
// through IDLE -> CLEANING -> ATTACHING -> RUNNING -> CLEANING -> IDLE,
// backed by a persistent record so an unclean restart is reconciled before
// any new session is accepted.
type Controller struct {
	driver  *cdp.Driver
	store   *storage.Store
	manager *Manager
	log     ilog.Logger

	cleanupMutex sync.Mutex
	mu           sync.Mutex
	state        State
	active       *Session
}

// NewController wires a Controller around an already-constructed driver
// and store.
func NewController(driver *cdp.Driver, store *storage.Store, l ilog.Logger) *Controller {
	if l == nil {
		l = ilog.NewNop()
	}
	return &Controller{
		driver:  driver,
		store:   store,
		manager: NewManager(l),
		log:     l.With("component", "session.Controller"),
		state:   StateIdle,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Active returns the currently running session, if any.
func (c *Controller) Active() (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.active != nil
}

// Reconcile reads the persistent record at startup. A record left
// isActive, or carrying a non-nil ActiveTabID (which a clean Stop also
// retains), means a previous incarnation may have left an attachment on
// that tab, so it is cleaned before any Start is accepted.
func (c *Controller) Reconcile(ctx context.Context) error {
	rec, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("reconcile: load record: %w", err)
	}
	if !rec.IsActive && rec.ActiveTabID == nil {
		return nil
	}
	return c.withCleanupMutex(ctx, func() error {
		if rec.ActiveTabID != nil {
			if err := c.driver.Attach(ctx, *rec.ActiveTabID); err == nil {
				_ = c.driver.Detach()
				if err := settle(ctx, detachSettleDelay); err != nil {
					return err
				}
			}
		}
		return c.store.MarkInactive(nil)
	})
}

// withCleanupMutex runs fn while holding the process-wide cleanup mutex,
// polling every cleanupPollInterval so a caller still observes ctx
// cancellation while waiting for a cleanup already in progress elsewhere.
func (c *Controller) withCleanupMutex(ctx context.Context, fn func() error) error {
	ticker := time.NewTicker(cleanupPollInterval)
	defer ticker.Stop()
	for !c.cleanupMutex.TryLock() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	defer c.cleanupMutex.Unlock()
	c.setState(StateCleaning)
	return fn()
}

// Start cleans up any stale attachment, attaches to tab, and transitions
// the controller into RUNNING. Only one session may be active at a time.
func (c *Controller) Start(ctx context.Context, cfg model.SessionConfig, tab model.TabHandle) (*Session, error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, ErrSessionActive
	}
	c.mu.Unlock()

	detached := false
	if err := c.withCleanupMutex(ctx, func() error {
		if c.driver.IsAttached() {
			detached = true
			return c.driver.Detach()
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if detached {
		if err := settle(ctx, detachSettleDelay); err != nil {
			return nil, err
		}
	}

	c.setState(StateAttaching)
	id := model.SessionID(uuid.NewString())
	if err := c.driver.Attach(ctx, tab); err != nil {
		c.setState(StateIdle)
		return nil, fmt.Errorf("attach: %w", err)
	}

	sess := New(id, tab, cfg)
	c.manager.Put(sess)

	c.mu.Lock()
	c.active = sess
	c.mu.Unlock()

	if err := c.store.Save(model.SessionRecord{ActiveTabID: &tab, SessionID: &id, IsActive: true}); err != nil {
		c.log.Warn("persist session start failed", "err", err.Error())
	}

	sess.setState(StateRunning)
	c.setState(StateRunning)
	c.log.Info("session started", "sessionID", string(id), "tab", int64(tab))
	return sess, nil
}

// Stop signals the session to wind down, detaches the driver, and marks
// the persistent record inactive while deliberately retaining its
// ActiveTabID -- the persistence trick that lets the next boot's
// Reconcile find the stale tab even after a clean stop.
func (c *Controller) Stop(ctx context.Context, id model.SessionID) error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active == nil || active.ID != id {
		return ErrNoSuchSession
	}

	return c.withCleanupMutex(ctx, func() error {
		active.Stop()
		active.setState(StateCleaning)

		select {
		case <-active.Done():
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}

		err := c.driver.Detach()

		if serr := settle(ctx, idleSettleDelay); serr != nil && err == nil {
			err = serr
		}

		sid := active.ID
		if merr := c.store.MarkInactive(&sid); merr != nil {
			c.log.Warn("persist session stop failed", "err", merr.Error())
		}

		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
		c.manager.Delete(id)
		c.setState(StateIdle)
		c.log.Info("session stopped", "sessionID", string(id))
		return err
	})
}
