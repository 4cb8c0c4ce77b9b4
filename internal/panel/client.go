package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SteelMorgan/mc-bridge/internal/domain"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Signal is a power action understood by the management API
type Signal string

const (
	SignalStart Signal = "start"
	SignalStop  Signal = "stop"
)

// Config holds management API settings
type Config struct {
	URL      string // panel base URL
	APIKey   string
	ServerID string
	Timeout  time.Duration
}

// Attributes is the subset of server attributes the bridge relies on
type Attributes struct {
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	IsMinecraft bool   `json:"is_minecraft"`
	IsSuspended bool   `json:"is_suspended"`
}

// StatusError is a non-success response from the management API
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

// Retryable reports whether another attempt may succeed
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Client talks to one server instance through the management API
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a management API client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Server returns the server attributes
func (c *Client) Server(ctx context.Context) (Attributes, error) {
	var envelope struct {
		Attributes Attributes `json:"attributes"`
	}
	if err := c.getJSON(ctx, "server attributes", c.serverURL(""), &envelope); err != nil {
		return Attributes{}, err
	}
	return envelope.Attributes, nil
}

// Status returns the current power state (running, starting, stopping, offline)
func (c *Client) Status(ctx context.Context) (string, error) {
	var envelope struct {
		Attributes struct {
			CurrentState string `json:"current_state"`
		} `json:"attributes"`
	}
	if err := c.getJSON(ctx, "server resources", c.serverURL("/resources"), &envelope); err != nil {
		return "", err
	}
	return envelope.Attributes.CurrentState, nil
}

// Power sends a power signal. 204 No Content is the only success response.
func (c *Client) Power(ctx context.Context, signal Signal) error {
	payload, err := json.Marshal(map[string]string{"signal": string(signal)})
	if err != nil {
		return fmt.Errorf("failed to encode power signal: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.serverURL("/power"), bytes.NewReader(payload))
	if err != nil {
		return err
	}

	op := "power " + string(signal)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return &domain.TransportError{Op: op, Err: statusError(op, resp)}
	}

	log.Info().
		Str("server_id", c.cfg.ServerID).
		Str("signal", string(signal)).
		Msg("Power signal accepted")

	return nil
}

func (c *Client) serverURL(suffix string) string {
	return fmt.Sprintf("%s/api/client/servers/%s%s", c.cfg.URL, c.cfg.ServerID, suffix)
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "Application/vnd.pterodactyl.v1+json")
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, op, url string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.TransportError{Op: op, Err: statusError(op, resp)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ParseError{Source: op, Err: err}
	}
	return nil
}

func statusError(op string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
