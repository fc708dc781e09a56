package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cdp-agent/browserctl/pkg/model"
)

func TestNew_AppliesDefaultMaxSteps(t *testing.T) {
	s := New(model.SessionID("s1"), model.TabHandle(1), model.SessionConfig{Goal: "find flights"})
	assert.Equal(t, model.DefaultMaxSteps, s.MaxSteps)
	assert.Equal(t, StateAttaching, s.State())
}

func TestNew_HonorsExplicitMaxSteps(t *testing.T) {
	s := New(model.SessionID("s1"), model.TabHandle(1), model.SessionConfig{MaxSteps: 7})
	assert.Equal(t, 7, s.MaxSteps)
}

func TestSession_StopIsIdempotent(t *testing.T) {
	s := New(model.SessionID("s1"), model.TabHandle(1), model.SessionConfig{})
	s.Stop()
	assert.NotPanics(t, func() { s.Stop() })

	select {
	case <-s.Stopped():
	default:
		t.Fatal("expected Stopped() to be closed")
	}
}

func TestSession_MarkDoneIsIdempotent(t *testing.T) {
	s := New(model.SessionID("s1"), model.TabHandle(1), model.SessionConfig{})
	s.MarkDone()
	assert.NotPanics(t, func() { s.MarkDone() })

	select {
	case <-s.Done():
	default:
		t.Fatal("expected Done() to be closed")
	}
}

func TestSession_OutcomeRoundTrip(t *testing.T) {
	s := New(model.SessionID("s1"), model.TabHandle(1), model.SessionConfig{})
	assert.Equal(t, model.Outcome(""), s.Outcome())
	s.SetOutcome(model.OutcomeDone)
	assert.Equal(t, model.OutcomeDone, s.Outcome())
}
