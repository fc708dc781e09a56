package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	ilog "github.com/cdp-agent/browserctl/internal/logger"
	"github.com/cdp-agent/browserctl/pkg/model"
)

func TestManager_PutGetDelete(t *testing.T) {
	m := NewManager(ilog.NewNop())
	s := New(model.SessionID("s1"), model.TabHandle(1), model.SessionConfig{})

	_, ok := m.Get(s.ID)
	assert.False(t, ok)

	m.Put(s)
	got, ok := m.Get(s.ID)
	assert.True(t, ok)
	assert.Equal(t, s, got)

	m.Delete(s.ID)
	_, ok = m.Get(s.ID)
	assert.False(t, ok)
}

func TestManager_ListReturnsAllSessions(t *testing.T) {
	m := NewManager(ilog.NewNop())
	s1 := New(model.SessionID("s1"), model.TabHandle(1), model.SessionConfig{})
	s2 := New(model.SessionID("s2"), model.TabHandle(2), model.SessionConfig{})
	m.Put(s1)
	m.Put(s2)

	list := m.List()
	assert.Len(t, list, 2)
}
