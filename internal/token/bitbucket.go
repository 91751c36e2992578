package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBitbucketTokenURL is Bitbucket's OAuth2 token endpoint.
const DefaultBitbucketTokenURL = "https://bitbucket.org/site/oauth2/access_token"

// BitbucketSource exchanges a stored OAuth2 refresh token for a bearer token.
// Bitbucket declares the token TTL in the exchange response (typically 7200
// seconds).
type BitbucketSource struct {
	clientID     string
	clientSecret string
	refreshToken string
	tokenURL     string
	httpClient   *http.Client
}

// NewBitbucketSource creates a source for the given OAuth consumer and
// refresh token. tokenURL may be empty to use the Bitbucket endpoint.
func NewBitbucketSource(clientID, clientSecret, refreshToken, tokenURL string) *BitbucketSource {
	if tokenURL == "" {
		tokenURL = DefaultBitbucketTokenURL
	}
	return &BitbucketSource{
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		tokenURL:     tokenURL,
		httpClient:   http.DefaultClient,
	}
}

// Identity implements Source.
func (s *BitbucketSource) Identity() string {
	return "bitbucket/" + s.clientID
}

// Acquire implements Source.
func (s *BitbucketSource) Acquire(ctx context.Context) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", s.refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(s.clientID, s.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Token{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return Token{}, fmt.Errorf("token endpoint returned an empty access token")
	}

	return Token{
		Value:     body.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}
