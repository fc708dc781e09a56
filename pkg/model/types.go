// Package model holds the wire and domain types shared across the control
// plane: tab handles, sessions, observations, actions and the persistent
// session record.
package model

import "time"

// TabHandle is an opaque identifier for a browser tab.
type TabHandle int64

// SessionID is an opaque session identifier.
type SessionID string

// ElementKind classifies an interactive element for the policy.
type ElementKind string

const (
	ElementLink    ElementKind = "LINK"
	ElementButton  ElementKind = "BUTTON"
	ElementInput   ElementKind = "INPUT"
	ElementSelect  ElementKind = "SELECT"
	ElementGeneric ElementKind = "ELEMENT"
)

// ClickMethod hints which fallback layer of clickElement to start from.
type ClickMethod string

const (
	ClickAuto  ClickMethod = "auto"
	ClickJS    ClickMethod = "js"
	ClickFocus ClickMethod = "focus"
)

// ScrollDirection is one of up/down for a scroll action.
type ScrollDirection string

const (
	ScrollUp   ScrollDirection = "up"
	ScrollDown ScrollDirection = "down"
)

// InteractiveElement is one entry of a page-state observation's element list.
type InteractiveElement struct {
	Index    int         `json:"index"`
	Kind     ElementKind `json:"type"`
	Selector string      `json:"selector"`
	Tag      string      `json:"tag"`
	Text     string      `json:"text"`
}

// ActionRecord is appended to a session's action log after every execution
// attempt.
type ActionRecord struct {
	Step     int       `json:"step"`
	Kind     string    `json:"kind"`
	Selector string    `json:"selector,omitempty"`
	Success  bool      `json:"success"`
	URL      string    `json:"url,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// MaxActionLog is the bounded length of a session's retained action log
// (spec: most-recent suffix kept, length <= 50).
const MaxActionLog = 50

// MaxObservationElements caps the interactive-element list shipped to the
// policy per observation.
const MaxObservationElements = 15

// MaxClickableCandidates caps GetClickableElements's returned candidates.
const MaxClickableCandidates = 30

// MaxRecentActionsInObservation caps the action-log suffix echoed back to
// the policy inside an observation.
const MaxRecentActionsInObservation = 5

// MaxActionTextLen is the cap on visible text extracted per element.
const MaxActionTextLen = 50

// DefaultMaxSteps is the default per-session step budget for
// controller-initiated sessions.
const DefaultMaxSteps = 15

// ScreenshotQuality is the JPEG quality used for agent-loop observations.
const ScreenshotQuality = 30

// Observation is the core's snapshot of a tab at one step, shipped to the
// policy ahead of each action request.
type Observation struct {
	Task             string                `json:"task"`
	URL              string                `json:"url"`
	Title            string                `json:"title"`
	Screenshot       []byte                `json:"screenshot"`
	Elements         []InteractiveElement  `json:"elements"`
	RecentActions    []ActionRecord        `json:"action_history"`
	ProgressNote     string                `json:"progress_notes"`
	OriginalGoal     string                `json:"original_goal"`
	LastActionError  string                `json:"last_action_error,omitempty"`
	StepNumber       int                   `json:"step_number"`
}

// Action is the policy's decision for one step. Kind is an open string set:
// Envelope.ToAction turns an empty kind into "wait" and keeps any other kind
// as sent; the agent loop executes a kind it does not handle as a no-op.
type Action struct {
	Kind        string          `json:"action"`
	Selector    string          `json:"selector,omitempty"`
	Text        string          `json:"text,omitempty"`
	URL         string          `json:"url,omitempty"`
	Direction   ScrollDirection `json:"direction,omitempty"`
	ClickMethod ClickMethod     `json:"clickMethod,omitempty"`
	Thought     string          `json:"thought,omitempty"`
	Done        bool            `json:"done,omitempty"`
}

// NormalizeAliases folds the text-slot aliases (value/key/query) and the
// element->selector alias into their canonical fields. Mutates in place.
func (a *Action) NormalizeAliases(rawValue, rawKey, rawQuery, rawElement string) {
	if a.Text == "" {
		switch {
		case rawValue != "":
			a.Text = rawValue
		case rawKey != "":
			a.Text = rawKey
		case rawQuery != "":
			a.Text = rawQuery
		}
	}
	if a.Selector == "" && rawElement != "" {
		a.Selector = rawElement
	}
}

// BridgeState is one of the four monotonic-within-an-attempt connection
// states of the bridge transport.
type BridgeState string

const (
	BridgeDisconnected BridgeState = "disconnected"
	BridgeConnecting   BridgeState = "connecting"
	BridgeConnected    BridgeState = "connected"
	BridgeError        BridgeState = "error"
)

// SessionRecord is the single persistent record, stored by internal/storage
// as row id=1 of its session_state table, surviving host restarts.
type SessionRecord struct {
	ActiveTabID *TabHandle `json:"activeTabId"`
	SessionID   *SessionID `json:"sessionId"`
	IsActive    bool       `json:"isActive"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// SessionConfig parameterizes a session start request.
type SessionConfig struct {
	Goal    string `json:"goal"`
	Model   string `json:"model"`
	MaxSteps int   `json:"maxSteps"`
}

// Outcome describes why a session's agent loop stopped running.
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeMaxSteps  Outcome = "max_steps"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFailed    Outcome = "failed"
)
