package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

var collectorNamespaceSeq uint64

// nextTestNamespace mints a unique namespace per test so repeated
// NewCollector calls across test functions don't trip promauto's
// duplicate-registration panic against the default registry.
func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector_RegistersEveryMetric(t *testing.T) {
	c := NewCollector(nextTestNamespace())
	assert.NotNil(t, c.sessionsActive)
	assert.NotNil(t, c.sessionsStartedTotal)
	assert.NotNil(t, c.sessionDuration)
	assert.NotNil(t, c.actionsExecutedTotal)
	assert.NotNil(t, c.actionDuration)
	assert.NotNil(t, c.bridgeReconnectsTotal)
	assert.NotNil(t, c.bridgeState)
}

func TestCollector_SessionLifecycleUpdatesGaugeAndCounter(t *testing.T) {
	c := NewCollector(nextTestNamespace())

	c.SessionStarted()
	assert.InDelta(t, 1, testutil.ToFloat64(c.sessionsActive), 0.0001)

	c.SessionFinished("done", 2*time.Second)
	assert.InDelta(t, 0, testutil.ToFloat64(c.sessionsActive), 0.0001)
	assert.Equal(t, 1, testutil.CollectAndCount(c.sessionsStartedTotal))
}

func TestCollector_RecordActionIncrementsByKindAndSuccess(t *testing.T) {
	c := NewCollector(nextTestNamespace())

	c.RecordAction("click", true, 10*time.Millisecond)
	c.RecordAction("click", false, 5*time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(c.actionsExecutedTotal))
}

func TestCollector_SetBridgeStateZeroesOtherStates(t *testing.T) {
	c := NewCollector(nextTestNamespace())
	states := []string{"disconnected", "connecting", "connected", "error"}

	c.SetBridgeState("connected", states)
	assert.InDelta(t, 1, testutil.ToFloat64(c.bridgeState.WithLabelValues("connected")), 0.0001)
	assert.InDelta(t, 0, testutil.ToFloat64(c.bridgeState.WithLabelValues("disconnected")), 0.0001)

	c.SetBridgeState("error", states)
	assert.InDelta(t, 0, testutil.ToFloat64(c.bridgeState.WithLabelValues("connected")), 0.0001)
	assert.InDelta(t, 1, testutil.ToFloat64(c.bridgeState.WithLabelValues("error")), 0.0001)
}

func TestCollector_RecordBridgeReconnect(t *testing.T) {
	c := NewCollector(nextTestNamespace())
	c.RecordBridgeReconnect()
	c.RecordBridgeReconnect()
	assert.InDelta(t, 2, testutil.ToFloat64(c.bridgeReconnectsTotal), 0.0001)
}
