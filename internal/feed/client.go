// Package feed is the HTTP client for the upstream indexer's event poll API.
// It is the only code that talks to the indexer.
package feed

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
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"domamart/internal/events"
	"domamart/pkg/platform/sentinel"
)

const (
	apiKeyHeader   = "Api-Key"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

var tracer = otel.Tracer("domamart/internal/feed")

// PollRequest selects events from the feed.
type PollRequest struct {
	EventTypes    []events.Type
	Limit         int
	FinalizedOnly bool
	Cursor        string
}

// PollResult is one page of events. Dropped counts entries without a usable
// id; they are logged and left out of Events.
type PollResult struct {
	Events        []events.Event
	HasMoreEvents bool
	LastID        int64
	Dropped       int
}

type wirePage struct {
	Events        []json.RawMessage `json:"events"`
	HasMoreEvents bool              `json:"hasMoreEvents"`
	LastID        int64             `json:"lastId"`
}

// AckResult is the body of an ack or reset call. The indexer sometimes answers
// with an empty body, which counts as success.
type AckResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("feed %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("feed %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap lets callers match transient upstream failures with sentinel.ErrUnavailable.
func (e *StatusError) Unwrap() error {
	if e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests {
		return sentinel.ErrUnavailable
	}
	return nil
}

// Client calls the indexer poll API.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every request made by the client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithAPIKey sets the key sent in the Api-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithLogger sets the logger used for upstream diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New builds a client for the indexer at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("feed base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse feed base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("feed base URL must be absolute: %q", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Poll fetches the next page of events. Events are returned in the order the
// indexer sent them; callers sort if they need ID order.
func (c *Client) Poll(ctx context.Context, req PollRequest) (*PollResult, error) {
	ctx, span := tracer.Start(ctx, "feed.Poll", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	q := url.Values{}
	for _, t := range req.EventTypes {
		q.Add("eventTypes", string(t))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	q.Set("finalizedOnly", strconv.FormatBool(req.FinalizedOnly))
	if req.Cursor != "" {
		q.Set("cursor", req.Cursor)
	}

	body, err := c.do(ctx, http.MethodGet, "/v1/poll", q, "poll")
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	result, err := c.decodePage(ctx, body)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("feed.events", len(result.Events)),
		attribute.Int("feed.dropped", result.Dropped),
		attribute.Bool("feed.has_more", result.HasMoreEvents),
	)
	return result, nil
}

// decodePage decodes each event on its own, so a malformed entry costs only
// that entry. Entries with a bad type, timestamp or payload keep their id and
// carry Err; entries with no usable id are dropped.
func (c *Client) decodePage(ctx context.Context, body []byte) (*PollResult, error) {
	var page wirePage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}

	result := &PollResult{
		Events:        make([]events.Event, 0, len(page.Events)),
		HasMoreEvents: page.HasMoreEvents,
		LastID:        page.LastID,
	}
	for i, raw := range page.Events {
		var evt events.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			result.Dropped++
			c.logger.WarnContext(ctx, "dropping undecodable feed event",
				"position", i,
				"error", err,
			)
			continue
		}
		result.Events = append(result.Events, evt)
	}
	return result, nil
}

// Ack tells the indexer that every event up to and including eventID was consumed.
func (c *Client) Ack(ctx context.Context, eventID int64) (*AckResult, error) {
	return c.cursorCall(ctx, "ack", eventID)
}

// Reset rewinds the indexer's server-side cursor to eventID.
func (c *Client) Reset(ctx context.Context, eventID int64) (*AckResult, error) {
	return c.cursorCall(ctx, "reset", eventID)
}

func (c *Client) cursorCall(ctx context.Context, op string, eventID int64) (*AckResult, error) {
	ctx, span := tracer.Start(ctx, "feed."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.Int64("feed.event_id", eventID))

	path := "/v1/poll/" + op + "/" + strconv.FormatInt(eventID, 10)
	body, err := c.do(ctx, http.MethodPost, path, nil, op)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return decodeAckBody(body), nil
}

// decodeAckBody treats an empty or non-JSON body as success. The indexer answers
// some acks with 200 and no content.
func decodeAckBody(body []byte) *AckResult {
	if len(bytes.TrimSpace(body)) == 0 {
		return &AckResult{Success: true}
	}
	var res AckResult
	if err := json.Unmarshal(body, &res); err != nil {
		return &AckResult{Success: true}
	}
	return &res
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, op string) ([]byte, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feed %s: read body: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := body
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		c.logger.WarnContext(ctx, "feed request failed",
			"op", op,
			"status", resp.StatusCode,
		)
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return body, nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
