package model

// Envelope is one frame of the bridge's newline/frame-delimited JSON wire
// protocol. Reserved field names follow the spec's taxonomy; fields not
// relevant to a given Type are simply omitted on the wire.
type Envelope struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id,omitempty"`
	Goal      string  `json:"goal,omitempty"`
	Model     string  `json:"model,omitempty"`
	Status    string  `json:"status,omitempty"`
	Message   string  `json:"message,omitempty"`
	Error     string  `json:"error,omitempty"`

	StepNumber      int                  `json:"step_number,omitempty"`
	Task            string               `json:"task,omitempty"`
	URL             string               `json:"url,omitempty"`
	Title           string               `json:"title,omitempty"`
	Screenshot      []byte               `json:"screenshot,omitempty"`
	Elements        []InteractiveElement `json:"elements,omitempty"`
	ActionHistory   []ActionRecord       `json:"action_history,omitempty"`
	ProgressNotes   string               `json:"progress_notes,omitempty"`
	OriginalGoal    string               `json:"original_goal,omitempty"`
	LastActionError string               `json:"last_action_error,omitempty"`

	Action      string      `json:"action,omitempty"`
	Selector    string      `json:"selector,omitempty"`
	Element     string      `json:"element,omitempty"`
	Text        string      `json:"text,omitempty"`
	Value       string      `json:"value,omitempty"`
	Key         string      `json:"key,omitempty"`
	Query       string      `json:"query,omitempty"`
	Direction   string      `json:"direction,omitempty"`
	ClickMethod string      `json:"clickMethod,omitempty"`
	Thought     string      `json:"thought,omitempty"`
	Done        bool        `json:"done,omitempty"`
}

// Envelope type constants — the message taxonomy of the bridge wire
// protocol (controller<->server).
const (
	MsgStartSession     = "start_session"
	MsgStopSession      = "stop_session"
	MsgObservation      = "observation"
	MsgPing             = "ping"
	MsgStatus           = "status"
	MsgAction           = "action"
	MsgError            = "error"
	MsgPong             = "pong"
	MsgStartAutomation  = "start_automation"
	MsgReloadExtension  = "reload_extension"
)

// ToAction converts an action-carrying envelope into a model.Action,
// folding the text-slot and selector aliases.
func (e *Envelope) ToAction() Action {
	a := Action{
		Kind:        e.Action,
		Selector:    e.Selector,
		Text:        e.Text,
		URL:         e.URL,
		Direction:   ScrollDirection(e.Direction),
		ClickMethod: ClickMethod(e.ClickMethod),
		Thought:     e.Thought,
		Done:        e.Done,
	}
	a.NormalizeAliases(e.Value, e.Key, e.Query, e.Element)
	if a.Kind == "" {
		a.Kind = "wait"
	}
	return a
}

// FromObservation builds the wire envelope for an "observation" message.
func FromObservation(sessionID SessionID, obs Observation) Envelope {
	return Envelope{
		Type:            MsgObservation,
		SessionID:       string(sessionID),
		StepNumber:      obs.StepNumber,
		Task:            obs.Task,
		URL:             obs.URL,
		Title:           obs.Title,
		Screenshot:      obs.Screenshot,
		Elements:        obs.Elements,
		ActionHistory:   obs.RecentActions,
		ProgressNotes:   obs.ProgressNote,
		OriginalGoal:    obs.OriginalGoal,
		LastActionError: obs.LastActionError,
	}
}
