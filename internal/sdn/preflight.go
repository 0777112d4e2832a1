package sdn

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

type PreflightConfig struct {
	Count      int           `yaml:"count"`
	Interval   time.Duration `yaml:"interval"`
	Timeout    time.Duration `yaml:"timeout"`
	Privileged bool          `yaml:"privileged"`
}

func DefaultPreflightConfig() PreflightConfig {
	return PreflightConfig{Count: 3, Interval: 200 * time.Millisecond, Timeout: 3 * time.Second}
}

// PreflightResult summarises the ICMP ping of the controller host.
type PreflightResult struct {
	Host      string        `yaml:"host"`
	Addr      string        `yaml:"addr"`
	Sent      int           `yaml:"sent"`
	Received  int           `yaml:"received"`
	LossPct   float64       `yaml:"lossPercent"`
	AvgRtt    time.Duration `yaml:"avgRtt"`
	Reachable bool          `yaml:"reachable"`
}

// ControllerHost extracts the host part of the controller base URL.
func ControllerHost(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing controller url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("controller url %q has no host", baseURL)
	}
	return host, nil
}

// Preflight pings the controller host before a run. An unreachable host is reported in the
// result; an error means the ping itself could not run.
func (c *Client) Preflight(ctx context.Context, cfg PreflightConfig) (PreflightResult, error) {
	host, err := ControllerHost(c.cfg.BaseURL)
	if err != nil {
		return PreflightResult{}, err
	}
	if cfg.Count <= 0 {
		cfg = DefaultPreflightConfig()
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return PreflightResult{Host: host, Addr: host, Reachable: true}, nil
	}

	pr, err := probing.NewPinger(host)
	if err != nil {
		return PreflightResult{}, fmt.Errorf("resolving controller host %s: %w", host, err)
	}
	pr.Count = cfg.Count
	pr.Interval = cfg.Interval
	pr.Timeout = cfg.Timeout
	pr.RecordRtts = false
	pr.SetPrivileged(cfg.Privileged)
	pr.SetLogger(nil)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pr.Stop()
		case <-done:
		}
	}()
	if err := pr.Run(); err != nil {
		return PreflightResult{}, fmt.Errorf("pinging controller host %s: %w", host, err)
	}

	stats := pr.Statistics()
	res := PreflightResult{
		Host:      host,
		Addr:      stats.IPAddr.String(),
		Sent:      stats.PacketsSent,
		Received:  stats.PacketsRecv,
		LossPct:   stats.PacketLoss,
		AvgRtt:    stats.AvgRtt,
		Reachable: stats.PacketsRecv > 0,
	}
	c.log.Info("controller preflight",
		zap.String("host", host),
		zap.Int("received", res.Received),
		zap.Float64("loss", res.LossPct),
		zap.Duration("avgRtt", res.AvgRtt))
	return res, nil
}
