package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordAndServe(t *testing.T) {
	m := New()
	m.Frame("offer", OutcomeForwarded, "")
	m.Frame("offer", OutcomeForwarded, "")
	m.SetOnline(3)
	m.SetActiveCalls(1)
	m.PresenceBroadcast("register")
	m.AuthFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesCounter().WithLabelValues("offer", OutcomeForwarded, "")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OnlineGauge()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PresenceBroadcasts().WithLabelValues("register")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "intercom_frames_total")
	assert.Contains(t, string(body), "intercom_active_calls 1")
	assert.Contains(t, string(body), "intercom_auth_failures_total 1")
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Frame("ping", OutcomeReplied, "")
		m.SetOnline(1)
		m.SetActiveCalls(1)
		m.PresenceBroadcast("reconcile")
		m.AuthFailure()
	})
	assert.NotNil(t, m.Handler())
}
