package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idlab-discover/sdnscen/internal/metrics"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveStage("build", time.Second, nil)
	m.Fault("link", errors.New("boom"))
	m.TrafficStart("server", nil)
	m.ScenarioStarted()("succeeded")
}

func TestMetricsExport(t *testing.T) {
	m := metrics.New()
	m.Fault("link", nil)
	m.Fault("link", nil)
	m.Fault("flow", errors.New("rejected"))
	m.TrafficStart("client", nil)
	m.ObserveStage("discovery", 5*time.Second, nil)
	done := m.ScenarioStarted()
	done("failed")

	count, err := testutil.GatherAndCount(m.Registry, "sdnscen_faults_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sdnscen_faults_total{result="ok",type="link"} 2`)
	assert.Contains(t, string(body), `sdnscen_scenarios_total{state="failed"} 1`)
	assert.Contains(t, string(body), `sdnscen_scenarios_active 0`)
}
