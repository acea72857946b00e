package observability

import (
	"testing"
	"time"

	"github.com/danmuck/bladectl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("bladectl", "GET", "/health", 200, 12*time.Millisecond)
	RecordRequest("session.execute", "ok", 24*time.Millisecond)
	RecordStateTransition("running")
	RecordConnect(true)
	RecordInbound("response")
	RecordNetcast("route.add", true)
	SetPendingRequests(3)
	SetQueuedFrames(1)

	assert.Equal(t, float64(3), testutil.ToFloat64(sessionPending))
	assert.Equal(t, float64(1), testutil.ToFloat64(sessionQueued))
	assert.GreaterOrEqual(t, testutil.ToFloat64(sessionConnects.WithLabelValues("restored")), float64(1))
}
