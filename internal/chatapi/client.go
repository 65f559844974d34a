// Package chatapi is the REST collaborator for contacts, history, profiles
// and the send fallback used while the realtime transport is down.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

// Client calls the chat REST API with the caller's ambient credential.
type Client struct {
	base   *url.URL
	client *http.Client
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat api returned %d", e.Code)
	}
	return fmt.Sprintf("chat api returned %d: %s", e.Code, e.Message)
}

// New creates a client rooted at baseURL.
func New(baseURL string, src oauth2.TokenSource) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api url %q must be absolute", baseURL)
	}
	return &Client{
		base:   u,
		client: oauth2.NewClient(context.Background(), src),
	}, nil
}

// Contacts returns the caller's conversation summaries.
func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	var out []Contact
	if err := c.do(ctx, http.MethodGet, "/api/chat/contacts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Conversation returns the message history with peerID, oldest first.
func (c *Client) Conversation(ctx context.Context, peerID int64) ([]HistoryMessage, error) {
	var out []HistoryMessage
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversation/"+strconv.FormatInt(peerID, 10), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Profile returns the public profile of peerID.
func (c *Client) Profile(ctx context.Context, peerID int64) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/api/chat/profile/"+strconv.FormatInt(peerID, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send posts a direct message over REST.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.MessageType == "" {
		req.MessageType = "text"
	}
	var out SendResult
	if err := c.do(ctx, http.MethodPost, "/api/chat/send", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
