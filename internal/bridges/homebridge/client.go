package homebridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// Logger is the minimal logging interface the client needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config holds connection settings for the accessory API.
type Config struct {
	// BaseURL is the accessory API root, e.g. "http://homebridge.local:8581".
	BaseURL string

	// Token is the static bearer token. Empty disables the
	// Authorization header.
	Token string

	// AccessoryID and CharacteristicID address the lock switch
	// characteristic. AccessoryID defaults to 1.
	AccessoryID      int
	CharacteristicID int

	// Timeout bounds each HTTP request. Defaults to 10s.
	Timeout time.Duration
}

// Client talks to the accessory API. It implements the lock actuator
// contract: SetLocked writes the switch, Locked reads it back.
type Client struct {
	cfg    Config
	http   *http.Client
	logger Logger
}

// NewClient validates cfg and builds a client. No network traffic
// happens here; use Ping to verify connectivity.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("homebridge: base URL is required")
	}
	if cfg.CharacteristicID <= 0 {
		return nil, errors.New("homebridge: characteristic id is required")
	}
	if cfg.AccessoryID <= 0 {
		cfg.AccessoryID = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: noopLogger{},
	}, nil
}

// SetLogger replaces the client's logger.
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Ping checks that the accessory API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/status", nil)
	if err != nil {
		return fmt.Errorf("homebridge ping: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("homebridge ping: %w", err)
	}
	drainClose(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("homebridge ping: %w: %s", ErrUnexpectedStatus, resp.Status)
	}
	return nil
}

type characteristic struct {
	AID   int `json:"aid"`
	IID   int `json:"iid"`
	Value any `json:"value"`
}

type characteristicsBody struct {
	Characteristics []characteristic `json:"characteristics"`
}

// SetLocked writes the lock switch characteristic.
func (c *Client) SetLocked(ctx context.Context, locked bool) error {
	body, err := json.Marshal(characteristicsBody{
		Characteristics: []characteristic{{
			AID:   c.cfg.AccessoryID,
			IID:   c.cfg.CharacteristicID,
			Value: locked,
		}},
	})
	if err != nil {
		return fmt.Errorf("homebridge set: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.cfg.BaseURL+"/characteristics", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("homebridge set: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	c.logger.Debug("writing lock characteristic", "locked", locked)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("homebridge set: %w", err)
	}
	drainClose(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("homebridge set: %w: %s", ErrUnexpectedStatus, resp.Status)
	}
	return nil
}

// Locked reads the lock switch characteristic.
func (c *Client) Locked(ctx context.Context) (bool, error) {
	url := fmt.Sprintf("%s/characteristics?id=%d.%d",
		c.cfg.BaseURL, c.cfg.AccessoryID, c.cfg.CharacteristicID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("homebridge get: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("homebridge get: %w", err)
	}
	defer drainClose(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("homebridge get: %w: %s", ErrUnexpectedStatus, resp.Status)
	}

	var out characteristicsBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("homebridge get: %w: %w", ErrMalformedResponse, err)
	}
	if len(out.Characteristics) == 0 {
		return false, fmt.Errorf("homebridge get: %w: no characteristics", ErrMalformedResponse)
	}
	return truthy(out.Characteristics[0].Value)
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

// truthy interprets the characteristic value. Accessory servers report
// switch values as booleans or as 0/1 numbers depending on firmware.
func truthy(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case float64:
		return val != 0, nil
	default:
		return false, fmt.Errorf("%w: value %T", ErrMalformedResponse, v)
	}
}

func drainClose(body io.ReadCloser) {
	io.Copy(io.Discard, body) //nolint:errcheck
	body.Close()
}
