// Package gradio is a client for applications served by Gradio, such as
// Hugging Face Spaces. It resolves a Space, fetches its config and submits
// jobs whose progress arrives as an event stream.
package gradio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/chaincraft/internal/logging"
)

// Transport names.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "ws"
)

// Status stages reported through Options.OnStatus.
const (
	StageConnecting = "connecting"
	StageRunning    = "running"
	StageError      = "error"
)

// Status describes progress while connecting to an app.
type Status struct {
	Stage   string
	Message string
}

// Options configures Connect.
type Options struct {
	Token      string
	Transport  string
	HTTPClient *http.Client
	UserAgent  string
	OnStatus   func(Status)
}

// HTTPError is returned when the app answers with an unexpected status.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("gradio %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// AppConfig is the subset of /config the client needs.
type AppConfig struct {
	Version      string       `json:"version"`
	Protocol     string       `json:"protocol"`
	Dependencies []Dependency `json:"dependencies"`
}

// Dependency is one event handler of the app.
type Dependency struct {
	ID      int             `json:"id"`
	APIName json.RawMessage `json:"api_name"` // a string, or false when hidden
}

// Name returns the api name, or "" when the endpoint is not exposed.
func (d Dependency) Name() string {
	var s string
	if err := json.Unmarshal(d.APIName, &s); err != nil {
		return ""
	}
	return s
}

// FnIndex returns the dependency index serving endpoint ("/name" or "name").
func (c *AppConfig) FnIndex(endpoint string) (int, bool) {
	name := strings.TrimPrefix(endpoint, "/")
	for i, d := range c.Dependencies {
		if d.Name() == name {
			return i, true
		}
	}
	return 0, false
}

// Client is a connected Gradio app. It is safe for concurrent use; each
// Submit opens its own stream.
type Client struct {
	base        string
	token       string
	transport   string
	userAgent   string
	http        *http.Client
	config      *AppConfig
	sessionHash string
	log         *logging.Logger
}

// ResolveBaseURL turns a Space id ("owner/name") into its direct URL.
// Values that already look like URLs are returned without a trailing slash.
func ResolveBaseURL(space string) (string, error) {
	space = strings.TrimSpace(space)
	if strings.Contains(space, "://") {
		u, err := url.Parse(space)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("invalid app URL %q", space)
		}
		return strings.TrimRight(space, "/"), nil
	}

	owner, name, ok := strings.Cut(space, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid space id %q: want owner/name", space)
	}
	host := strings.ToLower(owner + "-" + name)
	host = strings.NewReplacer("_", "-", ".", "-").Replace(host)
	return "https://" + host + ".hf.space", nil
}

// Connect resolves space, fetches the app config and returns a Client.
func Connect(ctx context.Context, space string, opts Options, log *logging.Logger) (*Client, error) {
	base, err := ResolveBaseURL(space)
	if err != nil {
		return nil, err
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	transport := opts.Transport
	if transport == "" {
		transport = TransportSSE
	}

	c := &Client{
		base:        base,
		token:       opts.Token,
		transport:   transport,
		userAgent:   opts.UserAgent,
		http:        hc,
		sessionHash: strings.ReplaceAll(uuid.NewString(), "-", "")[:11],
		log:         log.Sub("gradio").With("app", base),
	}

	notify := func(s Status) {
		if opts.OnStatus != nil {
			opts.OnStatus(s)
		}
	}

	notify(Status{Stage: StageConnecting, Message: base})
	cfg, err := c.fetchConfig(ctx)
	if err != nil {
		notify(Status{Stage: StageError, Message: err.Error()})
		return nil, err
	}
	c.config = cfg
	notify(Status{Stage: StageRunning, Message: cfg.Version})

	c.log.Debug().
		Str("version", cfg.Version).
		Str("transport", transport).
		Int("dependencies", len(cfg.Dependencies)).
		Msg("connected")
	return c, nil
}

// Config returns the app config fetched at connect time.
func (c *Client) Config() *AppConfig { return c.config }

// BaseURL returns the resolved app URL.
func (c *Client) BaseURL() string { return c.base }

// Submit starts a job on endpoint with positional data. The returned channel
// is closed when the job finishes, fails, or ctx is cancelled.
func (c *Client) Submit(ctx context.Context, endpoint string, data []any) (<-chan Event, error) {
	if data == nil {
		data = []any{}
	}
	switch c.transport {
	case TransportWebSocket:
		return c.submitQueue(ctx, endpoint, data)
	default:
		return c.submitCall(ctx, endpoint, data)
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) fetchConfig(ctx context.Context) (*AppConfig, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.base+"/config", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching app config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpError("config", resp)
	}

	var cfg AppConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding app config: %w", err)
	}
	return &cfg, nil
}

func (c *Client) newRequest(ctx context.Context, method, u string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)
	return req, nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	if c.userAgent != "" {
		h.Set("User-Agent", c.userAgent)
	}
}

func httpError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// IsUnauthorized reports whether err is a 401 or 403 from the app.
func IsUnauthorized(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && (he.StatusCode == http.StatusUnauthorized || he.StatusCode == http.StatusForbidden)
}
