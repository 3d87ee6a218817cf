package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.Ticks.Inc()
	a.Ticks.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(a.Ticks))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Ticks))
}

func TestSetStreamLive(t *testing.T) {
	m := New()

	m.SetStreamLive("kalshi", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamLive.WithLabelValues("kalshi")))

	m.SetStreamLive("kalshi", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StreamLive.WithLabelValues("kalshi")))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New()
	m.AlertsSent.WithLabelValues("polymarket").Inc()
	m.EventsSkipped.WithLabelValues("kalshi", "odds").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `whalewatch_alerts_dispatched_total{platform="polymarket"} 1`))
	assert.True(t, strings.Contains(string(body), `whalewatch_ingestion_events_market_skipped_total{platform="kalshi",reason="odds"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
