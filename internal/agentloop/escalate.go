package agentloop

import (
	"strings"

	"github.com/cdp-agent/browserctl/pkg/model"
)

// ActionKey is the kind+selector identity used to detect an action
// repeating itself across consecutive steps.
type ActionKey struct {
	Kind     string
	Selector string
}

// escalate applies the loop-break ladder to a freshly decoded action given
// the window of recently executed actions (oldest first, length <= 3): a
// click repeating for the 2nd time in a row is forced to the js fallback
// method, and a click repeating for the 3rd time on a button/submit/search
// -like selector is converted into a submit instead. A pure function so
// the escalation ladder is testable without any I/O.
func escalate(history []ActionKey, next model.Action) model.Action {
	if next.Kind != "click" {
		return next
	}
	key := ActionKey{Kind: next.Kind, Selector: next.Selector}

	consecutive := 1
	for i := len(history) - 1; i >= 0 && history[i] == key; i-- {
		consecutive++
	}

	switch {
	case consecutive >= 3 && looksLikeSubmitTarget(next.Selector):
		out := next
		out.Kind = "submit"
		return out
	case consecutive >= 2:
		out := next
		out.ClickMethod = model.ClickJS
		return out
	default:
		return next
	}
}

func looksLikeSubmitTarget(selector string) bool {
	s := strings.ToLower(selector)
	for _, kw := range [...]string{"btn", "submit", "search"} {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
