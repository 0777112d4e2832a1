package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idlab-discover/sdnscen/internal/config"
	"github.com/idlab-discover/sdnscen/internal/sdn"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load("", "")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, sdn.DefaultBaseURL, cfg.Controller.BaseURL)
	assert.Equal(t, config.BackendNetns, cfg.Backend.Type)
	assert.Equal(t, 5*time.Second, cfg.Discovery)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := write(t, dir, "sdnscen.yaml", `
controller:
  url: http://onos.lab:8181/onos/v1
  user: karaf
  password: karaf
  timeout: 3s
backend:
  type: kube
  kube:
    namespace: sdn
    controller: tcp:10.96.0.10:6653
    pods:
      hostImage: registry.lab/host:1.2
    parallelism: 16
discovery: 8s
timeouts: {verify: 1m}
outputDir: /data/results
metricsAddr: ":9100"
`)
	cfg, err := config.Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "http://onos.lab:8181/onos/v1", cfg.Controller.BaseURL)
	assert.Equal(t, "karaf", cfg.Controller.User)
	assert.Equal(t, 3*time.Second, cfg.Controller.Timeout)
	assert.Equal(t, 3, cfg.Controller.RetryMax)
	assert.Equal(t, config.BackendKube, cfg.Backend.Type)
	assert.Equal(t, "sdn", cfg.Backend.Kube.Namespace)
	assert.Equal(t, "tcp:10.96.0.10:6653", cfg.Backend.Kube.Options.Controller)
	assert.Equal(t, "registry.lab/host:1.2", cfg.Backend.Kube.Options.Pods.HostImage)
	assert.Equal(t, 16, cfg.Backend.Kube.Options.Parallelism)
	assert.Equal(t, 8*time.Second, cfg.Discovery)
	assert.Equal(t, time.Minute, cfg.Timeouts.Verify)
	assert.Equal(t, "/data/results", cfg.OutputDir)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	env := write(t, dir, ".env", "SDNSCEN_CONTROLLER_URL=http://10.0.0.254:8181/onos/v1\nSDNSCEN_CONTROLLER_PASSWORD=secret\n")
	t.Setenv(config.EnvControllerPassword, "from-env")

	cfg, err := config.Load("", env)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.254:8181/onos/v1", cfg.Controller.BaseURL)
	assert.Equal(t, sdn.DefaultUser, cfg.Controller.User)
	assert.Equal(t, "from-env", cfg.Controller.Password)
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()
	testCases := map[string]string{
		"unknown field":    "controler: {}\n",
		"unknown backend":  "backend: {type: mininet}\n",
		"empty url":        "controller: {url: \"\"}\n",
		"zero parallelism": "parallelism: 0\n",
		"bad duration":     "discovery: soon\n",
	}
	for name, doc := range testCases {
		name, doc := name, doc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := config.Load(write(t, t.TempDir(), "c.yaml", doc), "")
			assert.Error(t, err)
		})
	}
}
