package sdn_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v2"

	"github.com/idlab-discover/sdnscen/internal/sdn"
)

func badBackupRule() sdn.FlowRule {
	return sdn.FlowRule{
		DeviceID:  "of:0000000000000001",
		Priority:  50000,
		Permanent: true,
		Selector:  sdn.Selector{Criteria: []sdn.Criterion{{"type": "ETH_TYPE", "ethType": "0x0800"}}},
		Treatment: sdn.Treatment{Instructions: []sdn.Instruction{{"type": "OUTPUT", "port": "1"}}},
	}
}

func newClient(t *testing.T, srv *httptest.Server) *sdn.Client {
	return sdn.NewClient(sdn.Config{BaseURL: srv.URL + "/onos/v1", RetryMax: 2}, zaptest.NewLogger(t))
}

func TestInstallFlow(t *testing.T) {
	bodies := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/onos/v1/flows/of:0000000000000001", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "onos", user)
		assert.Equal(t, "rocks", pass)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body
		w.Header().Set("Location", "http://controller/onos/v1/flows/of:0000000000000001/49539595")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	id, err := newClient(t, srv).InstallFlow(context.Background(), badBackupRule())
	require.NoError(t, err)
	assert.Equal(t, "49539595", id)
	body := <-bodies
	assert.Equal(t, true, body["isPermanent"])
	assert.Equal(t, float64(50000), body["priority"])
	assert.Equal(t, float64(0), body["timeout"])
	assert.Equal(t, "of:0000000000000001", body["deviceId"])
	criteria := body["selector"].(map[string]interface{})["criteria"].([]interface{})
	assert.Equal(t, map[string]interface{}{"type": "ETH_TYPE", "ethType": "0x0800"}, criteria[0])
}

func TestInstallFlowRejectedIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":400,"message":"Invalid device ID"}`)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).InstallFlow(context.Background(), badBackupRule())
	require.Error(t, err)
	assert.ErrorIs(t, err, sdn.ErrControllerRejected)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "Invalid device ID")
	var rej *sdn.RejectedError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, http.StatusBadRequest, rej.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInstallFlowControllerJudgesRule(t *testing.T) {
	testCases := map[string]sdn.FlowRule{
		"priority out of range":     {DeviceID: "of:1", Priority: 70000, Permanent: true},
		"negative priority":         {DeviceID: "of:1", Priority: -1, Permanent: true},
		"temporary without timeout": {DeviceID: "of:1", Priority: 10},
	}
	for name, rule := range testCases {
		name, rule := name, rule
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"code":400,"message":"Invalid flow rule"}`)
			}))
			defer srv.Close()

			_, err := newClient(t, srv).InstallFlow(context.Background(), rule)
			assert.ErrorIs(t, err, sdn.ErrControllerRejected)
			assert.Contains(t, err.Error(), "Invalid flow rule")
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestInstallFlowServerErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newClient(t, srv).InstallFlow(context.Background(), badBackupRule())
	assert.ErrorIs(t, err, sdn.ErrControllerRejected)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInstallFlowUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newClient(t, srv)
	srv.Close()

	_, err := c.InstallFlow(context.Background(), badBackupRule())
	assert.ErrorIs(t, err, sdn.ErrControllerUnavailable)
	assert.NotErrorIs(t, err, sdn.ErrControllerRejected)
}

func TestFlowRuleValidate(t *testing.T) {
	testCases := map[string]struct {
		rule    sdn.FlowRule
		wantErr bool
	}{
		"valid permanent": {rule: badBackupRule()},
		"missing device": {
			rule:    sdn.FlowRule{Priority: 1, Permanent: true},
			wantErr: true,
		},
		"priority out of range": {
			rule: sdn.FlowRule{DeviceID: "of:1", Priority: 70000, Permanent: true},
		},
		"temporary without timeout": {
			rule: sdn.FlowRule{DeviceID: "of:1", Priority: 10},
		},
		"temporary with timeout": {
			rule: sdn.FlowRule{DeviceID: "of:1", Priority: 10, TimeoutSec: 30},
		},
	}
	for name, tc := range testCases {
		name, tc := name, tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := tc.rule.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestInstallFlowFromYAML(t *testing.T) {
	raw := `
deviceId: "of:0000000000000002"
priority: 40000
permanent: true
selector:
  criteria:
    - {type: IPV4_DST, ip: 10.0.0.2/32}
treatment:
  instructions:
    - type: L2MODIFICATION
      subtype: ETH_DST
      extra: {mac: "00:00:00:00:00:09"}
`
	var rule sdn.FlowRule
	require.NoError(t, yaml.UnmarshalStrict([]byte(raw), &rule))

	bodies := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		bodies <- got
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	id, err := newClient(t, srv).InstallFlow(context.Background(), rule)
	require.NoError(t, err)
	assert.Empty(t, id)
	got := <-bodies
	instr := got["treatment"].(map[string]interface{})["instructions"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"mac": "00:00:00:00:00:09"}, instr["extra"])
}

func TestQueries(t *testing.T) {
	var deviceCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/onos/v1/devices", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&deviceCalls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"devices":[
			{"id":"of:0000000000000001","type":"SWITCH","available":true,"annotations":{"protocol":"OF_14"}},
			{"id":"of:0000000000000002","type":"SWITCH","available":false}]}`)
	})
	mux.HandleFunc("/onos/v1/links", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"links":[{"src":{"port":"2","device":"of:0000000000000001"},
			"dst":{"port":"1","device":"of:0000000000000002"},"type":"DIRECT","state":"ACTIVE"}]}`)
	})
	mux.HandleFunc("/onos/v1/hosts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"hosts":[{"id":"00:00:00:00:00:01/None","mac":"00:00:00:00:00:01",
			"ipAddresses":["10.0.0.1"],"locations":[{"elementId":"of:0000000000000001","port":"1"}]}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := newClient(t, srv)
	ctx := context.Background()

	n, err := c.AvailableDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(2), atomic.LoadInt32(&deviceCalls))

	links, err := c.Links(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, sdn.ConnectPoint{Device: "of:0000000000000002", Port: "1"}, links[0].Dst)

	hosts, err := c.Hosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, []string{"10.0.0.1"}, hosts[0].IPAddresses)
	assert.Equal(t, "of:0000000000000001", hosts[0].Locations[0].ElementID)
}

func TestRemoveFlow(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, r.URL.Path)
		if len(paths) == 1 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	c := newClient(t, srv)

	require.NoError(t, c.RemoveFlow(context.Background(), "of:0000000000000001", "42"))
	require.NoError(t, c.RemoveFlow(context.Background(), "of:0000000000000001", "42"))
	mu.Lock()
	assert.Equal(t, []string{"/onos/v1/flows/of:0000000000000001/42", "/onos/v1/flows/of:0000000000000001/42"}, paths)
	mu.Unlock()
	assert.Error(t, c.RemoveFlow(context.Background(), "", "42"))
}

func TestControllerHost(t *testing.T) {
	host, err := sdn.ControllerHost(sdn.DefaultBaseURL)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)

	_, err = sdn.ControllerHost("/onos/v1")
	assert.Error(t, err)
}

func TestPreflightLoopback(t *testing.T) {
	c := sdn.NewClient(sdn.DefaultConfig(), zaptest.NewLogger(t))
	res, err := c.Preflight(context.Background(), sdn.PreflightConfig{})
	require.NoError(t, err)
	assert.True(t, res.Reachable)
}
