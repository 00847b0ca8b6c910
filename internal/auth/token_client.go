package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OAuthProvider names an upstream OAuth account type at the auth
// server.
type OAuthProvider string

const (
	OAuthGoogle    OAuthProvider = "google"
	OAuthMicrosoft OAuthProvider = "microsoft"
)

// Token represents OAuth tokens for a connected mailbox account.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// TokenClient fetches OAuth tokens from the external auth server,
// which owns storage and refresh.
type TokenClient struct {
	baseURL string
	client  *http.Client
}

// NewTokenClient creates a client against authServerURL.
func NewTokenClient(authServerURL string) *TokenClient {
	return &TokenClient{
		baseURL: authServerURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetToken fetches the OAuth token for the given provider account
// using the caller's JWT.
func (c *TokenClient) GetToken(ctx context.Context, userJWT string, provider OAuthProvider) (*Token, error) {
	url := fmt.Sprintf("%s/api/auth/accounts/%s/token", c.baseURL, provider)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+userJWT)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no %s account connected", provider)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		Expiry:       time.Unix(result.ExpiresAt, 0),
	}, nil
}
