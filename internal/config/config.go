// Package config reads the harness configuration: where the controller is, which emulation
// backend to drive and where results go.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/idlab-discover/sdnscen/internal/emulation/kube"
	"github.com/idlab-discover/sdnscen/internal/emulation/netns"
	"github.com/idlab-discover/sdnscen/internal/scenarios"
	"github.com/idlab-discover/sdnscen/internal/sdn"
)

// Backend types.
const (
	BackendNetns  = "netns"
	BackendKube   = "kube"
	BackendDryRun = "dry-run"
)

// Environment variables that override the controller section.
const (
	EnvControllerURL      = "SDNSCEN_CONTROLLER_URL"
	EnvControllerUser     = "SDNSCEN_CONTROLLER_USER"
	EnvControllerPassword = "SDNSCEN_CONTROLLER_PASSWORD"
)

type Config struct {
	Controller sdn.Config `yaml:"controller"`
	// Preflight pings the controller host before the first scenario.
	Preflight bool    `yaml:"preflight"`
	Backend   Backend `yaml:"backend"`
	// Discovery is the grace period for scenarios that do not set one.
	Discovery   time.Duration      `yaml:"discovery"`
	Timeouts    scenarios.Timeouts `yaml:"timeouts,omitempty"`
	Parallelism int                `yaml:"parallelism"`
	OutputDir   string             `yaml:"outputDir"`
	MetricsAddr string             `yaml:"metricsAddr,omitempty"`
}

type Backend struct {
	Type  string        `yaml:"type"`
	Netns netns.Options `yaml:"netns,omitempty"`
	Kube  Kube          `yaml:"kube,omitempty"`
}

type Kube struct {
	// Kubeconfig defaults to $KUBECONFIG, then ~/.kube/config. In-cluster config is used when
	// neither exists.
	Kubeconfig string       `yaml:"kubeconfig,omitempty"`
	Namespace  string       `yaml:"namespace,omitempty"`
	Options    kube.Options `yaml:",inline"`
}

func Default() Config {
	return Config{
		Controller:  sdn.DefaultConfig(),
		Backend:     Backend{Type: BackendNetns, Kube: Kube{Namespace: "default"}},
		Discovery:   scenarios.DefaultDiscovery,
		Parallelism: 4,
		OutputDir:   "results",
	}
}

// Load reads the configuration file at path over the defaults. An empty path yields the
// defaults. Controller settings from the environment, or from envFile when it exists, win
// over the file.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
			return cfg, fmt.Errorf("error unmarshaling config %s: %w", path, err)
		}
	}
	dotenv, err := readDotEnv(envFile)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	})
	return cfg, cfg.Validate()
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return env, nil
}

// ApplyEnv overrides the controller settings with the values lookup finds.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvControllerURL); ok && v != "" {
		c.Controller.BaseURL = v
	}
	if v, ok := lookup(EnvControllerUser); ok && v != "" {
		c.Controller.User = v
	}
	if v, ok := lookup(EnvControllerPassword); ok {
		c.Controller.Password = v
	}
}

func (c Config) Validate() error {
	switch c.Backend.Type {
	case BackendNetns, BackendKube, BackendDryRun:
	default:
		return fmt.Errorf("unknown backend type %q (want %s, %s or %s)", c.Backend.Type, BackendNetns, BackendKube, BackendDryRun)
	}
	if c.Controller.BaseURL == "" {
		return errors.New("controller url must not be empty")
	}
	if c.Discovery < 0 {
		return fmt.Errorf("negative discovery period %s", c.Discovery)
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be positive, got %d", c.Parallelism)
	}
	return nil
}
