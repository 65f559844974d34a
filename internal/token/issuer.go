// Package token obtains short-lived transport tokens from the backend.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// Grant is the token endpoint response.
type Grant struct {
	Token        string `json:"token"`
	TransportURL string `json:"websocket_url"`
}

// StatusError is returned for non-2xx responses from the token endpoint.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("token endpoint returned %d", e.Code)
	}
	return fmt.Sprintf("token endpoint returned %d: %s", e.Code, e.Message)
}

// ErrEmptyToken is returned when the endpoint answers 2xx without a token.
var ErrEmptyToken = errors.New("token endpoint returned an empty token")

// Issuer calls the token endpoint with the caller's ambient credential.
type Issuer struct {
	endpoint string
	client   *http.Client
}

// Credential wraps a bearer credential as an oauth2.TokenSource.
func Credential(bearer string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearer, TokenType: "Bearer"})
}

// NewIssuer creates an issuer that authenticates with src.
func NewIssuer(endpoint string, src oauth2.TokenSource) *Issuer {
	return &Issuer{
		endpoint: endpoint,
		client:   oauth2.NewClient(context.Background(), src),
	}
}

// Issue requests a fresh transport token.
func (i *Issuer) Issue(ctx context.Context) (*Grant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return nil, &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}

	var g Grant
	if err := json.Unmarshal(body, &g); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if g.Token == "" {
		return nil, ErrEmptyToken
	}
	return &g, nil
}
