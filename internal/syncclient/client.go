// Package syncclient talks to a rally-sync server and exposes it to the
// replication engine as a remote.Source.
package syncclient

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
	"time"

	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
	"github.com/marcus/rally/internal/remote"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// DefaultFeedWait is how long one change feed request blocks on the server.
const DefaultFeedWait = 20 * time.Second

// Client is an HTTP client for the rally-sync server.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	// FeedWait bounds each long-poll request of a subscription.
	FeedWait time.Duration
	Logger   *slog.Logger
}

var _ remote.Source = (*Client)(nil)

// New creates a new sync client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		HTTP:     &http.Client{Timeout: DefaultFeedWait + 15*time.Second},
		FeedWait: DefaultFeedWait,
		Logger:   slog.Default(),
	}
}

// --- Wire types (mirror internal/api, independently defined) ---

type rowsResponse struct {
	Rows []models.Document `json:"rows"`
}

type rowResponse struct {
	Row models.Document `json:"row"`
}

type changeEntry struct {
	Seq    int64             `json:"seq"`
	Action events.ActionType `json:"action"`
	Doc    models.Document   `json:"doc"`
}

type changesResponse struct {
	Changes []changeEntry `json:"changes"`
	LastSeq int64         `json:"last_seq"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// Ping hits /healthz to verify the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var resp HealthResponse
	return c.doNoAuth(ctx, "GET", "/healthz", nil, &resp)
}

// Me returns the user the API key belongs to.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var resp struct {
		UserID string `json:"user_id"`
		Email  string `json:"email"`
	}
	if err := c.do(ctx, "GET", "/v1/me", nil, &resp); err != nil {
		return nil, err
	}
	return &models.User{ID: resp.UserID, Email: resp.Email}, nil
}

func tablePath(collection events.Collection) string {
	return "/v1/tables/" + url.PathEscape(string(collection))
}

// Query pages rows changed after q.After.
func (c *Client) Query(ctx context.Context, q remote.Query) ([]models.Document, error) {
	params := url.Values{}
	if !q.After.IsZero() {
		params.Set("after", q.After.UTC().Format(time.RFC3339Nano))
	}
	if q.ScopeID != "" {
		params.Set("match_id", q.ScopeID)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	path := tablePath(q.Collection) + "/rows"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp rowsResponse
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// Upsert stores doc and returns it with the server's updated_at.
func (c *Client) Upsert(ctx context.Context, collection events.Collection, doc models.Document) (models.Document, error) {
	var resp rowResponse
	path := tablePath(collection) + "/rows/" + url.PathEscape(doc.ID)
	if err := c.do(ctx, "PUT", path, doc, &resp); err != nil {
		return models.Document{}, err
	}
	return resp.Row, nil
}

// Delete tombstones id on the server.
func (c *Client) Delete(ctx context.Context, collection events.Collection, id string) (models.Document, error) {
	var resp rowResponse
	path := tablePath(collection) + "/rows/" + url.PathEscape(id)
	if err := c.do(ctx, "DELETE", path, nil, &resp); err != nil {
		return models.Document{}, err
	}
	return resp.Row, nil
}

// Subscribe long-polls the change feed from the current head. The channel
// closes when ctx ends or a poll fails; the caller re-pulls and resubscribes.
func (c *Client) Subscribe(ctx context.Context, q remote.Query) (<-chan remote.Change, error) {
	var head changesResponse
	if err := c.do(ctx, "GET", tablePath(q.Collection)+"/changes", nil, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", remote.ErrFeedClosed, err)
	}

	ch := make(chan remote.Change, 64)
	go c.poll(ctx, q, head.LastSeq, ch)
	return ch, nil
}

func (c *Client) poll(ctx context.Context, q remote.Query, cursor int64, ch chan<- remote.Change) {
	defer close(ch)
	wait := c.FeedWait
	if wait <= 0 {
		wait = DefaultFeedWait
	}
	log := c.logger().With("collection", q.Collection, "scope", q.ScopeID)

	for {
		params := url.Values{}
		params.Set("after_seq", strconv.FormatInt(cursor, 10))
		params.Set("wait", wait.String())
		if q.ScopeID != "" {
			params.Set("match_id", q.ScopeID)
		}

		var resp changesResponse
		if err := c.do(ctx, "GET", tablePath(q.Collection)+"/changes?"+params.Encode(), nil, &resp); err != nil {
			if ctx.Err() == nil {
				log.Debug("change feed closed", "err", err)
			}
			return
		}

		for _, entry := range resp.Changes {
			select {
			case ch <- remote.Change{Action: entry.Action, Doc: entry.Doc}:
			case <-ctx.Done():
				return
			}
		}
		cursor = max(cursor, resp.LastSeq)
	}
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// --- HTTP helpers ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// do executes an authenticated HTTP request.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, true)
}

// doNoAuth executes an unauthenticated HTTP request.
func (c *Client) doNoAuth(ctx context.Context, method, path string, body, result any) error {
	return c.doRequest(ctx, method, path, body, result, false)
}

// doRequest classifies failures for the replication engine: transport
// errors, 401, 429 and 5xx are remote.ErrUnavailable; other 4xx are
// remote.ErrRejected.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any, auth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", remote.ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error apiError `json:"error"`
		}
		msg := string(respBody)
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error.Code != "" {
			msg = envelope.Error.Error()
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %w: %s", ErrUnauthorized, remote.ErrUnavailable, msg)
		case resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %w: %s", ErrForbidden, remote.ErrRejected, msg)
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %w: %s", ErrNotFound, remote.ErrRejected, msg)
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			return fmt.Errorf("%w: HTTP %d: %s", remote.ErrUnavailable, resp.StatusCode, msg)
		default:
			return fmt.Errorf("%w: HTTP %d: %s", remote.ErrRejected, resp.StatusCode, msg)
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
