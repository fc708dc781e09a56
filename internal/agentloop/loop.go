// Package agentloop runs the cooperative observation/policy/action cycle
// that drives one session's tab to its goal, step by step, over the bridge
// transport.
package agentloop

import (
	"context"
	"fmt"
	"time"

	"github.com/cdp-agent/browserctl/internal/bridge"
	"github.com/cdp-agent/browserctl/internal/cdp"
	ilog "github.com/cdp-agent/browserctl/internal/logger"
	"github.com/cdp-agent/browserctl/internal/session"
	"github.com/cdp-agent/browserctl/internal/storage"
	"github.com/cdp-agent/browserctl/pkg/model"
)

// stuckClickThreshold consecutive clicks producing no navigation before the
// loop injects a diagnostic error into the next observation.
const stuckClickThreshold = 3

// recentWindow bounds how many trailing actions feed the escalation ladder.
const recentWindow = 3

// Loop owns one session's run: a driver attachment, a bridge connection,
// and the session record it's driving.
type Loop struct {
	driver    *cdp.Driver
	transport bridge.Transport
	store     *storage.Store
	sess      *session.Session
	log       ilog.Logger

	recentActions []ActionKey
	stuckClicks   int
}

// New builds a Loop for one session.
func New(driver *cdp.Driver, transport bridge.Transport, store *storage.Store, sess *session.Session, l ilog.Logger) *Loop {
	if l == nil {
		l = ilog.NewNop()
	}
	return &Loop{
		driver:    driver,
		transport: transport,
		store:     store,
		sess:      sess,
		log:       l.With("component", "agentloop.Loop", "sessionID", string(sess.ID)),
	}
}

// Run drives the loop until the session is stopped, the policy reports
// done, an unrecoverable error occurs, or the step budget is exhausted.
func (lp *Loop) Run(ctx context.Context) (model.Outcome, error) {
	defer lp.sess.MarkDone()
	pendingError := ""

	for step := 1; step <= lp.sess.MaxSteps; step++ {
		select {
		case <-lp.sess.Stopped():
			return model.OutcomeStopped, nil
		case <-ctx.Done():
			return model.OutcomeStopped, ctx.Err()
		default:
		}

		obs, err := lp.observe(ctx, step)
		if err != nil {
			return model.OutcomeFailed, fmt.Errorf("observe: %w", err)
		}
		obs.LastActionError = pendingError
		pendingError = ""

		if err := lp.transport.Send(ctx, model.FromObservation(lp.sess.ID, obs)); err != nil {
			return model.OutcomeFailed, fmt.Errorf("send observation: %w", err)
		}

		env, err := lp.transport.Receive(ctx)
		if err != nil {
			return model.OutcomeFailed, fmt.Errorf("receive action: %w", err)
		}

		action := escalate(lp.recentActions, env.ToAction())
		lp.pushRecent(ActionKey{Kind: action.Kind, Selector: action.Selector})

		if action.Done {
			lp.recordAction(step, action, true, obs.URL, "")
			return model.OutcomeDone, nil
		}

		urlBefore := obs.URL
		execErr := lp.execute(ctx, action)
		lp.recordAction(step, action, execErr == nil, obs.URL, errString(execErr))
		if execErr != nil {
			lp.log.Warn("action execution failed", "kind", action.Kind, "selector", action.Selector, "err", execErr.Error())
		}

		pendingError = lp.trackStuckClicks(ctx, action, execErr, urlBefore)
	}
	return model.OutcomeMaxSteps, nil
}

// trackStuckClicks updates the no-navigation-click counter and, once it
// reaches stuckClickThreshold, returns the diagnostic text to surface on
// the next observation. Any non-click action, or a click that did
// navigate, resets the counter.
func (lp *Loop) trackStuckClicks(ctx context.Context, a model.Action, execErr error, urlBefore string) string {
	isClick := a.Kind == "click" || a.Kind == "submit"
	if execErr != nil || !isClick {
		lp.stuckClicks = 0
		return ""
	}

	state, err := lp.driver.GetPageState(ctx)
	if err != nil || state.URL != urlBefore {
		lp.stuckClicks = 0
		return ""
	}

	lp.stuckClicks++
	if lp.stuckClicks < stuckClickThreshold {
		return ""
	}
	lp.stuckClicks = 0
	return "CLICK DID NOT NAVIGATE: the last three clicks produced no page navigation, try a different selector or action"
}

func (lp *Loop) pushRecent(k ActionKey) {
	lp.recentActions = append(lp.recentActions, k)
	if len(lp.recentActions) > recentWindow {
		lp.recentActions = lp.recentActions[len(lp.recentActions)-recentWindow:]
	}
}

func (lp *Loop) recordAction(step int, a model.Action, success bool, url, errMsg string) {
	rec := model.ActionRecord{
		Step: step, Kind: a.Kind, Selector: a.Selector,
		Success: success, URL: url, Error: errMsg, At: time.Now(),
	}
	if err := lp.store.AppendAction(lp.sess.ID, rec); err != nil {
		lp.log.Warn("append action record failed", "err", err.Error())
	}
}

func (lp *Loop) observe(ctx context.Context, step int) (model.Observation, error) {
	state, err := lp.driver.GetPageState(ctx)
	if err != nil {
		return model.Observation{}, fmt.Errorf("get page state: %w", err)
	}

	shot, err := lp.driver.CaptureScreenshot(ctx, "jpeg", model.ScreenshotQuality)
	if err != nil {
		lp.log.Warn("screenshot capture failed", "err", err.Error())
	}

	elements, err := lp.driver.GetClickableElements(ctx)
	if err != nil {
		lp.log.Warn("clickable element scan failed", "err", err.Error())
	}
	if len(elements) > model.MaxObservationElements {
		elements = elements[:model.MaxObservationElements]
	}

	recent, err := lp.store.RecentActions(lp.sess.ID)
	if err != nil {
		lp.log.Warn("load recent actions failed", "err", err.Error())
	}
	if len(recent) > model.MaxRecentActionsInObservation {
		recent = recent[len(recent)-model.MaxRecentActionsInObservation:]
	}

	return model.Observation{
		Task:          lp.sess.Goal,
		URL:           state.URL,
		Title:         state.Title,
		Screenshot:    shot,
		Elements:      elements,
		RecentActions: recent,
		OriginalGoal:  lp.sess.Goal,
		StepNumber:    step,
	}, nil
}

func (lp *Loop) execute(ctx context.Context, a model.Action) error {
	switch a.Kind {
	case "click":
		return lp.driver.ClickElement(ctx, a.Selector, a.ClickMethod)
	case "submit":
		return lp.driver.ClickElement(ctx, a.Selector, model.ClickFocus)
	case "type":
		return lp.driver.TypeInElement(ctx, a.Selector, a.Text)
	case "scroll":
		dy := 400.0
		if a.Direction == model.ScrollUp {
			dy = -400
		}
		return lp.driver.Scroll(ctx, 0, dy)
	case "navigate":
		return lp.driver.Navigate(ctx, a.URL)
	case "wait":
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
