package graph

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// Token is an access token returned by the OAuth endpoints.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
}

// ExpiresAt converts ExpiresIn to an absolute time relative to now. Returns
// the zero time when the token carries no expiry.
func (t *Token) ExpiresAt(now time.Time) time.Time {
	if t.ExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// User is the owner of a token.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ExchangeCode exchanges an authorization code from the login redirect for a
// short-lived user token.
func (c *Client) ExchangeCode(ctx context.Context, appID, appSecret, redirectURI, code string) (*Token, error) {
	params := url.Values{
		"client_id":     {appID},
		"client_secret": {appSecret},
		"redirect_uri":  {redirectURI},
		"code":          {code},
	}
	log.Debug().Str("redirectUri", redirectURI).Msg("Exchanging authorization code")

	var tok Token
	if err := c.get(ctx, "/oauth/access_token", params, &tok); err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("exchange code: no access token in response")
	}
	return &tok, nil
}

// ExchangeLongLivedToken trades a short-lived user token for a long-lived one
// (about 60 days).
func (c *Client) ExchangeLongLivedToken(ctx context.Context, appID, appSecret, shortToken string) (*Token, error) {
	params := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {appID},
		"client_secret":     {appSecret},
		"fb_exchange_token": {shortToken},
	}
	var tok Token
	if err := c.get(ctx, "/oauth/access_token", params, &tok); err != nil {
		return nil, fmt.Errorf("exchange long-lived token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("exchange long-lived token: no access token in response")
	}
	log.Info().Int64("expiresInDays", tok.ExpiresIn/86400).Msg("Long-lived token obtained")
	return &tok, nil
}

// Me returns the user that owns token, which also validates the token.
func (c *Client) Me(ctx context.Context, token string) (*User, error) {
	params := url.Values{
		"fields":       {"id,name"},
		"access_token": {token},
	}
	var u User
	if err := c.get(ctx, "/me", params, &u); err != nil {
		return nil, fmt.Errorf("fetch token owner: %w", err)
	}
	return &u, nil
}
