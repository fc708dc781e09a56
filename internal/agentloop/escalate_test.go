package agentloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/cdp-agent/browserctl/pkg/model"
)

func TestEscalate_NonClickPassesThrough(t *testing.T) {
	a := model.Action{Kind: "scroll", Direction: model.ScrollDown}
	got := escalate(nil, a)
	assert.Equal(t, a, got)
}

func TestEscalate_FirstClickUnchanged(t *testing.T) {
	a := model.Action{Kind: "click", Selector: "#btn"}
	got := escalate(nil, a)
	assert.Equal(t, model.ClickMethod(""), got.ClickMethod)
	assert.Equal(t, "click", got.Kind)
}

func TestEscalate_SecondConsecutiveForcesJS(t *testing.T) {
	history := []ActionKey{{Kind: "click", Selector: "#btn"}}
	a := model.Action{Kind: "click", Selector: "#btn"}
	got := escalate(history, a)
	assert.Equal(t, model.ClickJS, got.ClickMethod)
	assert.Equal(t, "click", got.Kind)
}

func TestEscalate_ThirdConsecutiveOnSubmitLikeSelectorBecomesSubmit(t *testing.T) {
	history := []ActionKey{
		{Kind: "click", Selector: "#search-btn"},
		{Kind: "click", Selector: "#search-btn"},
	}
	a := model.Action{Kind: "click", Selector: "#search-btn"}
	got := escalate(history, a)
	assert.Equal(t, "submit", got.Kind)
}

func TestEscalate_ThirdConsecutiveOnOrdinarySelectorStaysJS(t *testing.T) {
	history := []ActionKey{
		{Kind: "click", Selector: "#panel-3"},
		{Kind: "click", Selector: "#panel-3"},
	}
	a := model.Action{Kind: "click", Selector: "#panel-3"}
	got := escalate(history, a)
	assert.Equal(t, "click", got.Kind)
	assert.Equal(t, model.ClickJS, got.ClickMethod)
}

func TestEscalate_InterruptedStreakResetsCount(t *testing.T) {
	history := []ActionKey{
		{Kind: "click", Selector: "#btn"},
		{Kind: "type", Selector: "#input"},
	}
	a := model.Action{Kind: "click", Selector: "#btn"}
	got := escalate(history, a)
	assert.Equal(t, model.ClickMethod(""), got.ClickMethod)
}

// TestEscalate_NeverEscalatesBelowTwoRepeats is a property check: whatever
// random window of history precedes a click, escalate leaves the action
// unchanged unless the history entry immediately before it is the same
// (kind, selector) pair, i.e. the click is at least the second in a row.
func TestEscalate_NeverEscalatesBelowTwoRepeats(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		selector := rapid.StringMatching(`#[a-z]{3,8}`).Draw(rt, "selector")
		historyLen := rapid.IntRange(0, 5).Draw(rt, "historyLen")

		history := make([]ActionKey, historyLen)
		for i := range history {
			history[i] = ActionKey{Kind: "click", Selector: rapid.StringMatching(`#[a-z]{3,8}`).Draw(rt, "histSel")}
		}

		a := model.Action{Kind: "click", Selector: selector}
		got := escalate(history, a)

		consecutive := 1
		for i := len(history) - 1; i >= 0 && history[i].Selector == selector; i-- {
			consecutive++
		}

		if consecutive < 2 {
			if got.Kind != "click" || got.ClickMethod != model.ClickAuto && got.ClickMethod != "" {
				t.Fatalf("escalated without two repeats: history=%v next=%v got=%v", history, a, got)
			}
		}
	})
}
