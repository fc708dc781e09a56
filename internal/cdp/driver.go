// Package cdp wraps a single per-tab Chrome DevTools Protocol attachment
// and the higher-level click/type/scroll/observe operations the agent loop
// drives it with. Built on github.com/mafredri/cdp, the same low-level CDP
// client the teacher repo uses for its network-interception driver — a
// helper library like chromedp would hide the DOM/Input primitives the
// clickElement fallback chain needs direct access to.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	ilog "github.com/cdp-agent/browserctl/internal/logger"
	"github.com/cdp-agent/browserctl/pkg/model"
	"github.com/cdp-agent/browserctl/pkg/protocol"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/dom"
	"github.com/mafredri/cdp/protocol/input"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
)

// Sentinel errors surfaced verbatim to callers, per the spec's "no
// control-flow exceptions upward" contract.
var (
	ErrNotAttached     = errors.New("cdp: not attached")
	ErrAlreadyAttached = errors.New("cdp: already attached")
	ErrNoTarget        = errors.New("cdp: no matching target")
	ErrInvalidSelector = errors.New("cdp: invalid selector")
	ErrNoElement       = errors.New("cdp: no element matched selector")
)

// EvaluationError distinguishes a JavaScript exception raised inside
// Runtime.evaluate from a protocol-level transport failure.
type EvaluationError struct {
	Text string
}

func (e *EvaluationError) Error() string { return "cdp: evaluation exception: " + e.Text }

// PageState is the combined DOM-document + tab-metadata snapshot returned
// by GetPageState.
type PageState struct {
	URL            string
	Title          string
	DocumentNodeID dom.NodeID
}

// Rect is a box-model rectangle in viewport coordinates.
type Rect struct {
	X, Y, Width, Height float64
}

// Driver owns zero or one CDP attachment to a single browser tab.
type Driver struct {
	devtoolsURL string
	log         ilog.Logger

	mu       sync.Mutex
	tab      model.TabHandle
	attached bool
	conn     *rpcc.Conn
	client   *cdp.Client
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a Driver that will dial devtoolsURL on Attach.
func New(devtoolsURL string, l ilog.Logger) *Driver {
	if l == nil {
		l = ilog.NewNop()
	}
	return &Driver{devtoolsURL: devtoolsURL, log: l.With("component", "cdp.Driver")}
}

// Attach is idempotent: attaching to the tab it is already attached to is a
// no-op success, and attaching while attached to a *different* tab fails.
func (d *Driver) Attach(ctx context.Context, tab model.TabHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.attached {
		if d.tab == tab {
			return nil
		}
		return ErrAlreadyAttached
	}

	dt := devtool.New(d.devtoolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	var sel *devtool.Target
	for i := range targets {
		if targetMatchesTab(targets[i], tab) {
			sel = targets[i]
			break
		}
	}
	if sel == nil {
		return ErrNoTarget
	}

	dctx, cancel := context.WithCancel(context.Background())
	conn, err := rpcc.DialContext(dctx, sel.WebSocketDebuggerURL)
	if err != nil {
		cancel()
		return fmt.Errorf("dial target: %w", err)
	}
	client := cdp.NewClient(conn)

	if err := client.DOM.Enable(dctx, nil); err != nil {
		conn.Close()
		cancel()
		return fmt.Errorf("enable DOM: %w", err)
	}
	if err := client.Page.Enable(dctx); err != nil {
		conn.Close()
		cancel()
		return fmt.Errorf("enable Page: %w", err)
	}
	if err := client.Runtime.Enable(dctx); err != nil {
		conn.Close()
		cancel()
		return fmt.Errorf("enable Runtime: %w", err)
	}
	if err := client.Network.Enable(dctx, nil); err != nil {
		conn.Close()
		cancel()
		return fmt.Errorf("enable Network: %w", err)
	}

	d.tab = tab
	d.conn = conn
	d.client = client
	d.ctx = dctx
	d.cancel = cancel
	d.attached = true

	go d.watchDetach(dctx, conn)

	d.log.Info("attached", "tab", int64(tab))
	return nil
}

// watchDetach observes the connection closing (browser-initiated detach,
// tab close, user intervention) and marks the driver detached without
// issuing any cleanup calls — the attachment is already gone by the time
// this fires.
func (d *Driver) watchDetach(ctx context.Context, conn *rpcc.Conn) {
	<-conn.Context().Done()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == conn {
		d.log.Warn("attachment lost (host-initiated)", "tab", int64(d.tab))
		d.attached = false
		d.conn = nil
		d.client = nil
	}
}

// Detach is idempotent and safe against a concurrent host-initiated detach.
func (d *Driver) Detach() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.attached {
		return nil
	}
	d.attached = false
	if d.cancel != nil {
		d.cancel()
	}
	var err error
	if d.conn != nil {
		err = d.conn.Close()
	}
	d.conn = nil
	d.client = nil
	return err
}

// IsAttached reports whether the driver currently owns a live attachment.
func (d *Driver) IsAttached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached
}

func (d *Driver) clientLocked() (*cdp.Client, context.Context, error) {
	if !d.attached || d.client == nil {
		return nil, nil, ErrNotAttached
	}
	return d.client, d.ctx, nil
}

// Send is a raw passthrough to the underlying connection for CDP methods
// this package doesn't otherwise wrap.
func (d *Driver) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	d.mu.Lock()
	conn, dctx, err := d.conn, d.ctx, error(nil)
	if !d.attached || conn == nil {
		err = ErrNotAttached
	}
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var reply json.RawMessage
	if err := rpcc.Invoke(dctx, method, params, &reply, conn); err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	return reply, nil
}

// Navigate wraps Page.navigate.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	client, dctx, err := d.clientLocked()
	d.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = client.Page.Navigate(dctx, page.NewNavigateArgs(url))
	return err
}

// Scroll dispatches a synthetic mouse-wheel event of (dx, dy).
func (d *Driver) Scroll(ctx context.Context, dx, dy float64) error {
	d.mu.Lock()
	client, dctx, err := d.clientLocked()
	d.mu.Unlock()
	if err != nil {
		return err
	}
	args := input.NewDispatchMouseEventArgs("mouseWheel", 0, 0).
		SetDeltaX(dx).SetDeltaY(dy)
	return client.Input.DispatchMouseEvent(dctx, args)
}

// CaptureScreenshot wraps Page.captureScreenshot. quality is ignored for
// png/webp formats, exactly as the protocol defines.
func (d *Driver) CaptureScreenshot(ctx context.Context, format string, quality int) ([]byte, error) {
	d.mu.Lock()
	client, dctx, err := d.clientLocked()
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	args := page.NewCaptureScreenshotArgs().SetFormat(format)
	if format == "jpeg" {
		args = args.SetQuality(quality)
	}
	reply, err := client.Page.CaptureScreenshot(dctx, args)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return reply.Data, nil
}

// GetPageState combines a DOM-document fetch with tab metadata.
func (d *Driver) GetPageState(ctx context.Context) (PageState, error) {
	d.mu.Lock()
	client, dctx, err := d.clientLocked()
	d.mu.Unlock()
	if err != nil {
		return PageState{}, err
	}
	doc, err := client.DOM.GetDocument(dctx, nil)
	if err != nil {
		return PageState{}, fmt.Errorf("get document: %w", err)
	}
	var state PageState
	state.DocumentNodeID = doc.Root.NodeID

	urlv, err := d.evaluateString(ctx, "location.href")
	if err == nil {
		state.URL = urlv
	}
	titlev, err := d.evaluateString(ctx, "document.title")
	if err == nil {
		state.Title = titlev
	}
	return state, nil
}

// Evaluate evaluates expression in page context with await-promise and
// return-by-value semantics, distinguishing a JS exception from a protocol
// failure.
func (d *Driver) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	d.mu.Lock()
	client, dctx, err := d.clientLocked()
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	args := runtime.NewEvaluateArgs(expression).
		SetReturnByValue(true).
		SetAwaitPromise(true)
	reply, err := client.Runtime.Evaluate(dctx, args)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if reply.ExceptionDetails != nil {
		return nil, &EvaluationError{Text: reply.ExceptionDetails.Text}
	}
	return reply.Result.Value, nil
}

func (d *Driver) evaluateString(ctx context.Context, expression string) (string, error) {
	raw, err := d.Evaluate(ctx, expression)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("decode evaluate result: %w", err)
	}
	return s, nil
}

// Click dispatches mousePressed then mouseReleased at viewport coordinates.
func (d *Driver) Click(ctx context.Context, x, y float64) error {
	d.mu.Lock()
	client, dctx, err := d.clientLocked()
	d.mu.Unlock()
	if err != nil {
		return err
	}
	one := 1
	down := input.NewDispatchMouseEventArgs("mousePressed", x, y).
		SetButton(input.MouseButtonLeft).SetClickCount(one)
	if err := client.Input.DispatchMouseEvent(dctx, down); err != nil {
		return fmt.Errorf("mousePressed: %w", err)
	}
	up := input.NewDispatchMouseEventArgs("mouseReleased", x, y).
		SetButton(input.MouseButtonLeft).SetClickCount(one)
	if err := client.Input.DispatchMouseEvent(dctx, up); err != nil {
		return fmt.Errorf("mouseReleased: %w", err)
	}
	return nil
}

// Type inserts text atomically via Input.insertText. Per-character
// keystroke dispatch is deliberately avoided: it double-types on some
// platforms.
func (d *Driver) Type(ctx context.Context, text string) error {
	d.mu.Lock()
	client, dctx, err := d.clientLocked()
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return client.Input.InsertText(dctx, input.NewInsertTextArgs(text))
}

// pressEnter dispatches a keyDown/keyUp pair for the Enter key.
func (d *Driver) pressEnter(ctx context.Context) error {
	d.mu.Lock()
	client, dctx, err := d.clientLocked()
	d.mu.Unlock()
	if err != nil {
		return err
	}
	const enterVK = 13
	down := input.NewDispatchKeyEventArgs("keyDown").
		SetKey("Enter").SetCode("Enter").SetWindowsVirtualKeyCode(enterVK)
	if err := client.Input.DispatchKeyEvent(dctx, down); err != nil {
		return err
	}
	up := input.NewDispatchKeyEventArgs("keyUp").
		SetKey("Enter").SetCode("Enter").SetWindowsVirtualKeyCode(enterVK)
	return client.Input.DispatchKeyEvent(dctx, up)
}

// selectAllAndBackspace issues platform-agnostic select-all (both Meta+A
// and Control+A) followed by Backspace — part of typeInElement's
// triple-clear.
func (d *Driver) selectAllAndBackspace(ctx context.Context) error {
	d.mu.Lock()
	client, dctx, err := d.clientLocked()
	d.mu.Unlock()
	if err != nil {
		return err
	}
	const modControl = 2
	const modMeta = 4
	for _, mod := range []int{modControl, modMeta} {
		down := input.NewDispatchKeyEventArgs("keyDown").SetKey("a").SetModifiers(mod)
		if err := client.Input.DispatchKeyEvent(dctx, down); err != nil {
			return err
		}
		up := input.NewDispatchKeyEventArgs("keyUp").SetKey("a").SetModifiers(mod)
		if err := client.Input.DispatchKeyEvent(dctx, up); err != nil {
			return err
		}
	}
	const backspaceVK = 8
	down := input.NewDispatchKeyEventArgs("keyDown").SetKey("Backspace").SetWindowsVirtualKeyCode(backspaceVK)
	if err := client.Input.DispatchKeyEvent(dctx, down); err != nil {
		return err
	}
	up := input.NewDispatchKeyEventArgs("keyUp").SetKey("Backspace").SetWindowsVirtualKeyCode(backspaceVK)
	return client.Input.DispatchKeyEvent(dctx, up)
}

// ResolveNodeID finds selector's first match via the raw DOM domain
// (DOM.getDocument + DOM.querySelector) instead of a JS document.querySelector
// evaluation — the lookup BoxModel's CSP-blocked fallback path needs, since
// that path exists precisely because Runtime.evaluate isn't available either.
func (d *Driver) ResolveNodeID(ctx context.Context, selector string) (dom.NodeID, error) {
	d.mu.Lock()
	client, dctx, err := d.clientLocked()
	d.mu.Unlock()
	if err != nil {
		return 0, err
	}
	doc, err := client.DOM.GetDocument(dctx, nil)
	if err != nil {
		return 0, fmt.Errorf("get document: %w", err)
	}
	reply, err := client.DOM.QuerySelector(dctx, dom.NewQuerySelectorArgs(doc.Root.NodeID, selector))
	if err != nil {
		return 0, fmt.Errorf("query selector: %w", err)
	}
	if reply.NodeID == 0 {
		return 0, ErrNoElement
	}
	return reply.NodeID, nil
}

type boxModelResult struct {
	Model struct {
		Content []float64 `json:"content"`
	} `json:"model"`
}

// BoxModel fetches an element's box-model quad through the raw DOM domain
// (via Send, since mafredri/cdp's typed DOM.GetBoxModel wrapper lives behind
// this same protocol) rather than a JS getBoundingClientRect evaluation —
// the fallback path clickViaCoordinates takes on pages whose CSP blocks
// Runtime.evaluate.
func (d *Driver) BoxModel(ctx context.Context, nodeID dom.NodeID) (Rect, error) {
	if _, err := d.Send(ctx, protocol.MethodDOMScrollIntoViewIfNeeded, map[string]any{"nodeId": nodeID}); err != nil {
		return Rect{}, fmt.Errorf("scroll into view: %w", err)
	}
	raw, err := d.Send(ctx, protocol.MethodDOMGetBoxModel, map[string]any{"nodeId": nodeID})
	if err != nil {
		return Rect{}, fmt.Errorf("get box model: %w", err)
	}
	var res boxModelResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return Rect{}, fmt.Errorf("decode box model: %w", err)
	}
	quad := res.Model.Content
	if len(quad) < 8 {
		return Rect{}, ErrNoElement
	}
	minX, minY, maxX, maxY := quad[0], quad[1], quad[0], quad[1]
	for i := 0; i < 8; i += 2 {
		if quad[i] < minX {
			minX = quad[i]
		}
		if quad[i] > maxX {
			maxX = quad[i]
		}
		if quad[i+1] < minY {
			minY = quad[i+1]
		}
		if quad[i+1] > maxY {
			maxY = quad[i+1]
		}
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, nil
}

func targetMatchesTab(t *devtool.Target, tab model.TabHandle) bool {
	// devtool.Target.ID is a string; tab handles are a stable hash of that
	// string (see TabHandleFor below).
	return TabHandleFor(t.ID) == tab
}

// TabHandleFor derives the opaque integer tab handle for a devtools target
// id, so the same target always maps to the same model.TabHandle within one
// host incarnation.
func TabHandleFor(targetID string) model.TabHandle {
	var h int64
	for _, c := range string(targetID) {
		h = h*131 + int64(c)
	}
	if h < 0 {
		h = -h
	}
	return model.TabHandle(h)
}
