package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// SignIn exchanges email and password for session tokens.
func (c *Client) SignIn(ctx context.Context, email, password string) (Tokens, error) {
	if c == nil {
		return Tokens{}, fmt.Errorf("client is nil")
	}
	if strings.TrimSpace(email) == "" || password == "" {
		return Tokens{}, fmt.Errorf("email and password required")
	}
	body := map[string]string{"email": strings.TrimSpace(email), "password": password}
	return c.grantToken(ctx, "password", body)
}

// RefreshSession trades a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (Tokens, error) {
	if c == nil {
		return Tokens{}, fmt.Errorf("client is nil")
	}
	if strings.TrimSpace(refreshToken) == "" {
		return Tokens{}, fmt.Errorf("refresh token required")
	}
	return c.grantToken(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

// SignOut revokes the current access token.
func (c *Client) SignOut(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	rel := &url.URL{Path: authPrefix + "logout"}
	if err := c.doURL(ctx, http.MethodPost, rel, nil, nil, nil); err != nil {
		return err
	}
	c.SetAccessToken("")
	return nil
}

func (c *Client) grantToken(ctx context.Context, grant string, body map[string]string) (Tokens, error) {
	values := url.Values{}
	values.Set("grant_type", grant)
	rel := &url.URL{Path: authPrefix + "token", RawQuery: values.Encode()}

	var tokens Tokens
	if err := c.doURL(ctx, http.MethodPost, rel, body, nil, &tokens); err != nil {
		return Tokens{}, err
	}
	if tokens.AccessToken == "" {
		return Tokens{}, fmt.Errorf("auth response missing access token")
	}
	c.SetAccessToken(tokens.AccessToken)
	return tokens, nil
}
