package sdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL  = "http://127.0.0.1:8181/onos/v1"
	DefaultUser     = "onos"
	DefaultPassword = "rocks"

	maxBodyBytes = 64 << 10
)

type Config struct {
	BaseURL  string        `yaml:"url"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
	// RetryMax bounds retries of read-only queries. Flow installation is never retried.
	RetryMax int `yaml:"retryMax"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:  DefaultBaseURL,
		User:     DefaultUser,
		Password: DefaultPassword,
		Timeout:  10 * time.Second,
		RetryMax: 3,
	}
}

// Client is safe for concurrent use.
type Client struct {
	cfg  Config
	http *retryablehttp.Client
	log  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.User == "" {
		cfg.User, cfg.Password = def.User, def.Password
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sdn")

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = leveledLogger{logger.Sugar()}
	// hand the last response back so its status and body end up in a RejectedError
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Client{cfg: cfg, http: rc, log: logger}
}

func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// InstallFlow posts rule to the controller and returns the flow id taken from the Location
// header, or "" when the controller did not send one. 200 and 201 are success; any other
// status is a *RejectedError. The request is sent exactly once.
func (c *Client) InstallFlow(ctx context.Context, rule FlowRule) (string, error) {
	if err := rule.Validate(); err != nil {
		return "", err
	}
	body, err := json.Marshal(rule.normalize())
	if err != nil {
		return "", fmt.Errorf("encoding flow rule: %w", err)
	}
	u := c.cfg.BaseURL + "/flows/" + url.PathEscape(rule.DeviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cfg.User, c.cfg.Password)

	resp, err := c.http.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrControllerUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", rejected(req.Method, u, resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	var flowID string
	if loc := resp.Header.Get("Location"); loc != "" {
		flowID = path.Base(loc)
	}
	c.log.Info("flow installed",
		zap.String("device", rule.DeviceID),
		zap.Int("priority", rule.Priority),
		zap.Int("status", resp.StatusCode),
		zap.String("flowId", flowID))
	return flowID, nil
}

// RemoveFlow deletes a flow. A flow that no longer exists is not an error.
func (c *Client) RemoveFlow(ctx context.Context, deviceID, flowID string) error {
	if deviceID == "" || flowID == "" {
		return fmt.Errorf("removing flow: device and flow id are required")
	}
	u := c.cfg.BaseURL + "/flows/" + url.PathEscape(deviceID) + "/" + url.PathEscape(flowID)
	resp, err := c.do(ctx, http.MethodDelete, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.log.Debug("flow already gone", zap.String("device", deviceID), zap.String("flowId", flowID))
		return nil
	case resp.StatusCode >= 300:
		return rejected(http.MethodDelete, u, resp)
	}
	c.log.Info("flow removed", zap.String("device", deviceID), zap.String("flowId", flowID))
	return nil
}

func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var out struct {
		Devices []Device `json:"devices"`
	}
	if err := c.getJSON(ctx, "/devices", &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

func (c *Client) Links(ctx context.Context) ([]Link, error) {
	var out struct {
		Links []Link `json:"links"`
	}
	if err := c.getJSON(ctx, "/links", &out); err != nil {
		return nil, err
	}
	return out.Links, nil
}

func (c *Client) Hosts(ctx context.Context) ([]Host, error) {
	var out struct {
		Hosts []Host `json:"hosts"`
	}
	if err := c.getJSON(ctx, "/hosts", &out); err != nil {
		return nil, err
	}
	return out.Hosts, nil
}

// AvailableDevices counts the devices the controller reports as available.
func (c *Client) AvailableDevices(ctx context.Context) (int, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range devices {
		if d.Available {
			n++
		}
	}
	return n, nil
}

func (c *Client) getJSON(ctx context.Context, p string, v interface{}) error {
	u := c.cfg.BaseURL + p
	resp, err := c.do(ctx, http.MethodGet, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return rejected(http.MethodGet, u, resp)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", p, err)
	}
	return nil
}

// do sends an idempotent request through the retrying client.
func (c *Client) do(ctx context.Context, method, u string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrControllerUnavailable, err)
	}
	return resp, nil
}

func rejected(method, u string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	return &RejectedError{Method: method, URL: u, StatusCode: resp.StatusCode, Body: string(b)}
}

// leveledLogger routes retryablehttp logging into zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
