package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/cdp-agent/browserctl/pkg/model"
)

// invalidSelectorRe flags jQuery-only selector syntax that document.querySelector
// rejects outright: :contains(), :has(), and the jQuery factory call itself.
var invalidSelectorRe = regexp.MustCompile(`:contains\(|:has\(|\$\(`)

// containsTextRe pulls the quoted text out of a :contains("...") clause so the
// text-match fallback has something to search for.
var containsTextRe = regexp.MustCompile(`:contains\(\s*["']([^"']*)["']\s*\)`)

// clickableSelectors is the fixed candidate set scanned by GetClickableElements.
var clickableSelectors = `a[href], button, input, select, textarea, ` +
	`[role="button"], [role="link"], [onclick], [contenteditable="true"]`

// buildFindExpr turns a CSS selector (or a jQuery-style :contains(...)
// selector the DOM can't parse) into a JS expression that resolves to the
// matching element, or null.
func buildFindExpr(selector string) (string, error) {
	if invalidSelectorRe.MatchString(selector) {
		m := containsTextRe.FindStringSubmatch(selector)
		if m == nil {
			return "", ErrInvalidSelector
		}
		return textMatchFindExpr(m[1]), nil
	}
	sel, err := json.Marshal(selector)
	if err != nil {
		return "", fmt.Errorf("encode selector: %w", err)
	}
	return fmt.Sprintf(`(function(){ try { return document.querySelector(%s); } catch(e) { return null; } })()`, sel), nil
}

// textMatchFindExpr resolves to the smallest element whose text content
// contains want, the fallback path for :contains("...") selectors.
func textMatchFindExpr(want string) string {
	w, _ := json.Marshal(want)
	return fmt.Sprintf(`(function(){
  var want = %s;
  var all = document.querySelectorAll('*');
  var best = null;
  for (var i = 0; i < all.length; i++) {
    var el = all[i];
    var txt = (el.textContent || '').trim();
    if (txt.indexOf(want) !== -1) {
      if (!best || el.textContent.length < best.textContent.length) best = el;
    }
  }
  return best;
})()`, w)
}

// ClickElement resolves selector to a single element and clicks it, falling
// back through coordinate click, a plain JS .click(), and finally
// focus+Enter. method short-circuits straight to the js or focus step;
// model.ClickAuto (or empty) runs the full chain.
func (d *Driver) ClickElement(ctx context.Context, selector string, method model.ClickMethod) error {
	findExpr, err := buildFindExpr(selector)
	if err != nil {
		return err
	}

	switch method {
	case model.ClickJS:
		return d.clickViaJS(ctx, findExpr)
	case model.ClickFocus:
		return d.clickViaFocus(ctx, findExpr)
	}

	if err := d.clickViaCoordinates(ctx, findExpr, selector); err == nil {
		return nil
	}
	if err := d.clickViaJS(ctx, findExpr); err == nil {
		return nil
	}
	return d.clickViaFocus(ctx, findExpr)
}

type boundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (d *Driver) clickViaCoordinates(ctx context.Context, findExpr, selector string) error {
	expr := fmt.Sprintf(`(function(){
  var el = %s;
  if (!el) return null;
  el.scrollIntoView({block: 'center', inline: 'center'});
  var r = el.getBoundingClientRect();
  return {x: r.left + r.width / 2, y: r.top + r.height / 2, w: r.width, h: r.height};
})()`, findExpr)

	raw, err := d.Evaluate(ctx, expr)
	if err != nil {
		// Runtime.evaluate can be blocked outright by a page's CSP; fall back
		// to resolving the element through the raw DOM domain instead of JS.
		if rect, ferr := d.boxModelViaDOM(ctx, selector); ferr == nil {
			return d.settleThenClick(ctx, rect.X+rect.Width/2, rect.Y+rect.Height/2)
		}
		return err
	}
	if string(raw) == "null" {
		return ErrNoElement
	}
	var box boundingBox
	if err := json.Unmarshal(raw, &box); err != nil {
		return fmt.Errorf("decode bounding box: %w", err)
	}
	if box.W <= 0 || box.H <= 0 {
		return ErrNoElement
	}
	return d.settleThenClick(ctx, box.X, box.Y)
}

// boxModelViaDOM resolves selector and its box model entirely through the
// DOM domain, the CSP-blocked-Runtime.evaluate fallback clickViaCoordinates
// takes. It only understands plain CSS selectors: a :contains()/:has()/
// jQuery-style selector has no DOM.querySelector equivalent.
func (d *Driver) boxModelViaDOM(ctx context.Context, selector string) (Rect, error) {
	if invalidSelectorRe.MatchString(selector) {
		return Rect{}, ErrInvalidSelector
	}
	nodeID, err := d.ResolveNodeID(ctx, selector)
	if err != nil {
		return Rect{}, err
	}
	return d.BoxModel(ctx, nodeID)
}

// settleThenClick lets layout settle after scrollIntoView before dispatching
// the synthetic mouse event at the now-current coordinates.
func (d *Driver) settleThenClick(ctx context.Context, x, y float64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
	}
	return d.Click(ctx, x, y)
}

func (d *Driver) clickViaJS(ctx context.Context, findExpr string) error {
	expr := fmt.Sprintf(`(function(){
  var el = %s;
  if (!el) return false;
  el.click();
  return true;
})()`, findExpr)
	return d.evalBoolOrNoElement(ctx, expr)
}

func (d *Driver) clickViaFocus(ctx context.Context, findExpr string) error {
	expr := fmt.Sprintf(`(function(){
  var el = %s;
  if (!el) return false;
  el.focus();
  return true;
})()`, findExpr)
	if err := d.evalBoolOrNoElement(ctx, expr); err != nil {
		return err
	}
	return d.pressEnter(ctx)
}

func (d *Driver) evalBoolOrNoElement(ctx context.Context, expr string) error {
	raw, err := d.Evaluate(ctx, expr)
	if err != nil {
		return err
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if !ok {
		return ErrNoElement
	}
	return nil
}

// TypeInElement focuses selector, clears whatever it currently holds through
// three independent passes (JS value reset, select-all+Backspace, a
// verify-and-force-clear check), then inserts text.
func (d *Driver) TypeInElement(ctx context.Context, selector, text string) error {
	findExpr, err := buildFindExpr(selector)
	if err != nil {
		return err
	}

	if err := d.clickViaCoordinates(ctx, findExpr, selector); err != nil {
		if err := d.clickViaJS(ctx, findExpr); err != nil {
			return fmt.Errorf("focus target: %w", err)
		}
	}

	resetExpr := fmt.Sprintf(`(function(){
  var el = %s;
  if (!el) return false;
  el.value = '';
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return true;
})()`, findExpr)
	if _, err := d.Evaluate(ctx, resetExpr); err != nil {
		return fmt.Errorf("reset value: %w", err)
	}

	if err := d.selectAllAndBackspace(ctx); err != nil {
		return fmt.Errorf("select-all clear: %w", err)
	}

	valueExpr := fmt.Sprintf(`(function(){ var el = %s; return el ? el.value : null; })()`, findExpr)
	raw, err := d.Evaluate(ctx, valueExpr)
	if err == nil && string(raw) != "null" && string(raw) != `""` {
		if _, err := d.Evaluate(ctx, resetExpr); err != nil {
			return fmt.Errorf("force clear: %w", err)
		}
	}

	return d.Type(ctx, text)
}

type rawElement struct {
	Tag         string `json:"tag"`
	Kind        string `json:"kind"`
	Selector    string `json:"selector"`
	Text        string `json:"text"`
}

// GetClickableElements scans the fixed clickable selector set, filters to
// elements with a non-empty laid-out box inside a sane viewport range,
// synthesizes a selector for each, and caps the result at
// model.MaxClickableCandidates.
func (d *Driver) GetClickableElements(ctx context.Context) ([]model.InteractiveElement, error) {
	sel, _ := json.Marshal(clickableSelectors)
	maxLen, _ := json.Marshal(model.MaxActionTextLen)
	cap_, _ := json.Marshal(model.MaxClickableCandidates)

	expr := fmt.Sprintf(`(function(){
  function synthSelector(el) {
    if (el.id) return '#' + el.id;
    var name = el.getAttribute('name');
    if (name) return el.tagName.toLowerCase() + '[name="' + name + '"]';
    var testid = el.getAttribute('data-testid');
    if (testid) return '[data-testid="' + testid + '"]';
    var aria = el.getAttribute('aria-label');
    if (aria) return '[aria-label="' + aria + '"]';
    var cls = (el.className || '').toString().trim().split(/\s+/)[0];
    if (cls) return el.tagName.toLowerCase() + '.' + cls;
    return el.tagName.toLowerCase();
  }
  function kindOf(el) {
    var tag = el.tagName.toLowerCase();
    if (tag === 'a') return 'LINK';
    if (tag === 'button') return 'BUTTON';
    if (tag === 'select') return 'SELECT';
    if (tag === 'input' || tag === 'textarea') return 'INPUT';
    var role = el.getAttribute('role');
    if (role === 'button') return 'BUTTON';
    if (role === 'link') return 'LINK';
    return 'ELEMENT';
  }
  function textOf(el, maxLen) {
    var t = el.innerText || el.value || el.getAttribute('placeholder') || el.getAttribute('aria-label') || '';
    t = t.trim().replace(/\s+/g, ' ');
    if (t.length > maxLen) t = t.slice(0, maxLen);
    return t;
  }
  var nodes = document.querySelectorAll(%s);
  var maxLen = %s;
  var cap = %s;
  var seen = new Set();
  var out = [];
  for (var i = 0; i < nodes.length && out.length < cap; i++) {
    var el = nodes[i];
    if (seen.has(el)) continue;
    seen.add(el);
    var r = el.getBoundingClientRect();
    if (r.width <= 0 || r.height <= 0) continue;
    if (r.top < -2000 || r.top > 2000 || r.left < -2000 || r.left > 2000) continue;
    out.push({
      tag: el.tagName.toLowerCase(),
      kind: kindOf(el),
      selector: synthSelector(el),
      text: textOf(el, maxLen)
    });
  }
  return out;
})()`, sel, maxLen, cap_)

	raw, err := d.Evaluate(ctx, expr)
	if err != nil {
		return nil, fmt.Errorf("get clickable elements: %w", err)
	}
	var rawEls []rawElement
	if err := json.Unmarshal(raw, &rawEls); err != nil {
		return nil, fmt.Errorf("decode clickable elements: %w", err)
	}

	out := make([]model.InteractiveElement, 0, len(rawEls))
	for i, r := range rawEls {
		out = append(out, model.InteractiveElement{
			Index:    i + 1,
			Kind:     model.ElementKind(r.Kind),
			Selector: r.Selector,
			Tag:      r.Tag,
			Text:     r.Text,
		})
	}
	return out, nil
}
