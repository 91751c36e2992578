package token

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v75/github"
)

// GitHubAppSource mints installation access tokens for a GitHub App. Each
// request signs a short-lived app assertion (handled by the apps transport)
// and exchanges it for a token scoped to one installation, treated here as
// the team.
type GitHubAppSource struct {
	client *github.Client
	team   string
}

// NewGitHubAppSource creates a source for the given app credentials and team
// (installation account) name.
func NewGitHubAppSource(appID int64, privateKey []byte, team string) (*GitHubAppSource, error) {
	transport, err := ghinstallation.NewAppsTransport(http.DefaultTransport, appID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub App transport: %w", err)
	}
	return &GitHubAppSource{
		client: github.NewClient(&http.Client{Transport: transport}),
		team:   team,
	}, nil
}

// Identity implements Source.
func (s *GitHubAppSource) Identity() string {
	return "github/" + s.team
}

// Acquire implements Source: it resolves the team to an installation and
// mints an installation access token (valid for one hour on GitHub's side).
func (s *GitHubAppSource) Acquire(ctx context.Context) (Token, error) {
	installations, _, err := s.client.Apps.ListInstallations(ctx, &github.ListOptions{PerPage: 100})
	if err != nil {
		return Token{}, fmt.Errorf("failed to list installations: %w", err)
	}

	installation, err := pickInstallation(installations, s.team)
	if err != nil {
		return Token{}, err
	}

	tok, _, err := s.client.Apps.CreateInstallationToken(ctx, installation.GetID(), nil)
	if err != nil {
		return Token{}, fmt.Errorf("failed to create installation token: %w", err)
	}
	return Token{Value: tok.GetToken(), ExpiresAt: tok.GetExpiresAt().Time}, nil
}

// pickInstallation selects the installation for a team: the first exact
// account-login match, else the first installation.
func pickInstallation(installations []*github.Installation, team string) (*github.Installation, error) {
	if len(installations) == 0 {
		return nil, fmt.Errorf("app has no installations")
	}
	for _, inst := range installations {
		if inst.GetAccount().GetLogin() == team {
			return inst, nil
		}
	}
	return installations[0], nil
}
