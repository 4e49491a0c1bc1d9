package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/skiatlas/internal/config"
)

func testMonitoringConfig(url string) config.MonitoringConfig {
	return config.MonitoringConfig{
		WebhookURL:       url,
		BacklogThreshold: 100,
		StallChecks:      3,
	}
}

func TestEvaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(""))
	assert.Empty(t, a.Evaluate(&Snapshot{QueueBacklog: 50}, 0))
}

func TestEvaluate_Backlog(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(""))
	alerts := a.Evaluate(&Snapshot{QueueBacklog: 150}, 0)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertQueueBacklog, alerts[0].Type)
	assert.Equal(t, 150, alerts[0].Details["backlog"])
}

func TestEvaluate_Stalled(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(""))

	assert.Empty(t, a.Evaluate(&Snapshot{QueueBacklog: 20}, 2))

	alerts := a.Evaluate(&Snapshot{QueueBacklog: 20}, 3)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertQueueStalled, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)

	// An empty queue is never stalled.
	assert.Empty(t, a.Evaluate(&Snapshot{QueueBacklog: 0}, 10))
}

func TestEvaluate_ThresholdsDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Empty(t, a.Evaluate(&Snapshot{QueueBacklog: 1_000_000}, 100))
}

func TestSendAlerts(t *testing.T) {
	var got []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		got = append(got, a)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(testMonitoringConfig(srv.URL))
	sent := a.SendAlerts(context.Background(), a.Evaluate(&Snapshot{QueueBacklog: 500}, 5))
	assert.Equal(t, 2, sent)
	require.Len(t, got, 2)
	assert.Equal(t, AlertQueueBacklog, got[0].Type)
	assert.Equal(t, AlertQueueStalled, got[1].Type)
}

func TestSendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(testMonitoringConfig(srv.URL))
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertQueueBacklog}}))
}

func TestSendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(testMonitoringConfig(""))
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertQueueBacklog}}))
}

func TestChecker_TracksStall(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	backlog := &fakeBacklog{n: 20}
	m := NewMetrics(prometheus.NewRegistry())
	cfg := testMonitoringConfig(srv.URL)
	c := NewChecker(NewCollector(&fakeCounter{n: 5}, backlog), NewAlerter(cfg), m, cfg)
	log := zap.NewNop()

	for range 4 {
		c.check(context.Background(), log)
	}
	assert.Equal(t, 3, c.stalled)
	assert.Equal(t, int32(1), hits.Load())
	assert.InDelta(t, 20, testutil.ToFloat64(m.queueBacklog), 0)

	backlog.n = 10
	c.check(context.Background(), log)
	assert.Equal(t, 0, c.stalled)
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := testMonitoringConfig("")
	c := NewChecker(NewCollector(&fakeCounter{}, nil), NewAlerter(cfg), nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
}
