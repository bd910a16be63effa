// Package orderstore is the data-access layer between staff tooling and the
// hosted orders table. It speaks the store's REST surface, validates every row
// it receives, and never retries: each operation is attempted exactly once and
// its failure is returned to the caller as a typed error from package domain.
package orderstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

const (
	DefaultListLimit = 50

	defaultTimeout        = 10 * time.Second
	defaultReconnectDelay = 2 * time.Second
	maxResponseBytes      = 8 << 20
	maxErrorMessageBytes  = 200
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ChangeFeed is a live source of raw change payloads for the orders table.
type ChangeFeed interface {
	Consume(ctx context.Context, handler func(ctx context.Context, payload []byte) error) error
	Close() error
}

// FeedDialer opens a ChangeFeed positioned at the live end of the stream.
type FeedDialer func(ctx context.Context) (ChangeFeed, error)

type Client struct {
	ordersURL      *url.URL
	apiKey         string
	httpClient     *http.Client
	logger         *slog.Logger
	dialFeed       FeedDialer
	now            func() time.Time
	reconnectDelay time.Duration
	maxBody        int64
	metrics        *clientMetrics
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithChangeFeed(dial FeedDialer) Option {
	return func(c *Client) {
		c.dialFeed = dial
	}
}

// WithClock replaces the clock used to stamp updated_at on status updates.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		c.reconnectDelay = d
	}
}

// New builds a client. It fails with a *domain.ConfigError when the base URL
// or API key is missing, before anything touches the network.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, &domain.ConfigError{Key: "base URL", Reason: "is required"}
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &domain.ConfigError{Key: "API key", Reason: "is required"}
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, &domain.ConfigError{Key: "base URL", Reason: fmt.Sprintf("%q is not an absolute http(s) URL", cfg.BaseURL)}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		ordersURL: base.JoinPath("rest", "v1", domain.OrdersTable),
		apiKey:    cfg.APIKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:         slog.New(slog.DiscardHandler),
		now:            time.Now,
		reconnectDelay: defaultReconnectDelay,
		maxBody:        maxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.metrics, err = newClientMetrics()
	if err != nil {
		return nil, fmt.Errorf("create client metrics: %w", err)
	}

	return c, nil
}

// Close releases idle connections. Live subscriptions are not affected; they
// end only through Unsubscribe.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

type request struct {
	op     string
	method string
	query  url.Values
	body   any
	prefer string
}

// do performs one HTTP exchange and returns the raw 2xx body. Every failure
// to obtain it is a *domain.TransportError.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	u := *c.ordersURL
	u.RawQuery = r.query.Encode()

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", r.op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, &domain.TransportError{Op: r.op, Err: err}
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: r.op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, &domain.TransportError{Op: r.op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	tooLarge := int64(len(data)) > c.maxBody
	if tooLarge {
		data = data[:c.maxBody]
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.TransportError{Op: r.op, StatusCode: resp.StatusCode, Message: storeErrorMessage(data)}
	}
	if tooLarge {
		return nil, &domain.TransportError{Op: r.op, StatusCode: resp.StatusCode, Err: fmt.Errorf("response too large: more than %d bytes", c.maxBody)}
	}

	return data, nil
}

type storeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func storeErrorMessage(body []byte) string {
	var se storeError
	if err := json.Unmarshal(body, &se); err == nil && se.Message != "" {
		msg := se.Message
		if se.Details != "" {
			msg += " (" + se.Details + ")"
		}
		return msg
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorMessageBytes {
		cut := maxErrorMessageBytes
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrDataIntegrity):
		return "data_integrity"
	case errors.Is(err, domain.ErrTransport):
		return "transport"
	default:
		return "error"
	}
}
