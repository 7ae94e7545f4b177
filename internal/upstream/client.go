package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"julesboard/internal/models"
)

// Client talks to the remote session service. Every request carries the
// static API key header; responses are mapped onto the error taxonomy
// (TransportError, AuthError, ErrNotFound, UpstreamError, ProtocolError).
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates an upstream client. requestsPerSecond bounds the
// total request volume across the poller and user actions.
func NewClient(baseURL, apiKey string, timeout time.Duration, requestsPerSecond float64) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond*2)),
	}
}

// do executes one request and returns the response body.
func (c *Client) do(ctx context.Context, method, rawURL string, payload interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Err: err}
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Message: errorMessage(data, resp.StatusCode)}
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, &UpstreamError{Status: resp.StatusCode, Message: errorMessage(data, resp.StatusCode)}
	}
}

// errorMessage extracts the upstream-supplied message from an error body.
func errorMessage(data []byte, status int) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return http.StatusText(status)
}

// ListPage fetches one page of a paginated collection. path is relative
// to the base URL ("sessions", "sessions/<id>/activities", "sources");
// itemsKey names the JSON array field in the response.
func (c *Client) ListPage(ctx context.Context, path, itemsKey, pageToken string) ([]json.RawMessage, string, error) {
	u := c.baseURL + "/" + path
	if pageToken != "" {
		u += "?pageToken=" + url.QueryEscape(pageToken)
	}

	data, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, "", &ProtocolError{Message: fmt.Sprintf("malformed list response: %v", err)}
	}

	var items []json.RawMessage
	if raw, ok := envelope[itemsKey]; ok {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, "", &ProtocolError{Message: fmt.Sprintf("malformed %q field: %v", itemsKey, err)}
		}
	}

	var next string
	if raw, ok := envelope["nextPageToken"]; ok {
		if err := json.Unmarshal(raw, &next); err != nil {
			return nil, "", &ProtocolError{Message: fmt.Sprintf("malformed nextPageToken: %v", err)}
		}
	}
	return items, next, nil
}

// ListAll follows pagination cursors until exhausted, concatenating
// pages in order. A cursor identical to the previous one aborts with
// ProtocolError so a misbehaving server cannot loop us forever.
func (c *Client) ListAll(ctx context.Context, path, itemsKey string) ([]json.RawMessage, error) {
	var all []json.RawMessage
	token := ""
	for {
		items, next, err := c.ListPage(ctx, path, itemsKey, token)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if next == "" {
			return all, nil
		}
		if next == token {
			return nil, &ProtocolError{Message: fmt.Sprintf("pagination cursor %q repeated", next)}
		}
		token = next
	}
}

// GetSession fetches a single session snapshot by its resource name.
func (c *Client) GetSession(ctx context.Context, name string) (*models.Session, error) {
	data, err := c.do(ctx, http.MethodGet, c.baseURL+"/"+name, nil)
	if err != nil {
		return nil, err
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("malformed session: %v", err)}
	}
	return &session, nil
}

// ListSessions fetches every session the upstream service knows about.
func (c *Client) ListSessions(ctx context.Context) ([]models.Session, error) {
	raw, err := c.ListAll(ctx, "sessions", "sessions")
	if err != nil {
		return nil, err
	}
	sessions := make([]models.Session, 0, len(raw))
	for _, r := range raw {
		var s models.Session
		if err := json.Unmarshal(r, &s); err != nil {
			return nil, &ProtocolError{Message: fmt.Sprintf("malformed session in list: %v", err)}
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// ListActivities fetches the full activity log for a session, oldest
// first. sessionName is the session resource name, not the short id.
func (c *Client) ListActivities(ctx context.Context, sessionName string) ([]models.Activity, error) {
	raw, err := c.ListAll(ctx, sessionName+"/activities", "activities")
	if err != nil {
		return nil, err
	}
	activities := make([]models.Activity, 0, len(raw))
	for _, r := range raw {
		var a models.Activity
		if err := json.Unmarshal(r, &a); err != nil {
			return nil, &ProtocolError{Message: fmt.Sprintf("malformed activity: %v", err)}
		}
		activities = append(activities, a)
	}
	return activities, nil
}

// ListSources fetches the available sources.
func (c *Client) ListSources(ctx context.Context) ([]models.Source, error) {
	raw, err := c.ListAll(ctx, "sources", "sources")
	if err != nil {
		return nil, err
	}
	sources := make([]models.Source, 0, len(raw))
	for _, r := range raw {
		var s models.Source
		if err := json.Unmarshal(r, &s); err != nil {
			return nil, &ProtocolError{Message: fmt.Sprintf("malformed source: %v", err)}
		}
		sources = append(sources, s)
	}
	return sources, nil
}

// CreateSession creates a new session upstream.
func (c *Client) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	data, err := c.do(ctx, http.MethodPost, c.baseURL+"/sessions", req)
	if err != nil {
		return nil, err
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("malformed created session: %v", err)}
	}
	return &session, nil
}

// Invoke issues an action command ("sendMessage", "approvePlan") against
// a session resource name.
func (c *Client) Invoke(ctx context.Context, name, action string, payload interface{}) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	return c.do(ctx, http.MethodPost, c.baseURL+"/"+name+":"+action, payload)
}
