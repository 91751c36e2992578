package web

import (
	"context"
	"fmt"

	"github.com/perbu/teamdigest/internal/period"
	"github.com/perbu/teamdigest/internal/provider"
	"github.com/perbu/teamdigest/internal/provider/bitbucket"
	"github.com/perbu/teamdigest/internal/provider/github"
	"github.com/perbu/teamdigest/internal/token"
)

// Credentials holds the per-provider credentials clients are minted from.
// Either provider may be left unconfigured; requests for it then fail with a
// configuration error.
type Credentials struct {
	GitHubAppID      int64
	GitHubPrivateKey []byte

	BitbucketClientID     string
	BitbucketClientSecret string
	BitbucketRefreshToken string
}

// NewClientFactory builds the factory that resolves a service discriminant
// into a provider client. Token acquisition goes through the shared broker so
// repeated requests reuse live tokens.
func NewClientFactory(creds Credentials, broker *token.Broker) ClientFactory {
	return func(service provider.Service, owner string, p period.Period) (provider.Client, string, error) {
		switch service {
		case provider.ServiceGitHub:
			if creds.GitHubAppID == 0 || len(creds.GitHubPrivateKey) == 0 {
				return nil, "", fmt.Errorf("github app credentials are not configured")
			}
			src, err := token.NewGitHubAppSource(creds.GitHubAppID, creds.GitHubPrivateKey, owner)
			if err != nil {
				return nil, "", err
			}
			client := github.New(github.Options{
				Owner:  owner,
				Period: p,
				Token: func(ctx context.Context) (string, error) {
					return broker.Get(ctx, src)
				},
			})
			return client, src.Identity(), nil

		case provider.ServiceBitbucket:
			if creds.BitbucketClientID == "" || creds.BitbucketRefreshToken == "" {
				return nil, "", fmt.Errorf("bitbucket credentials are not configured")
			}
			src := token.NewBitbucketSource(creds.BitbucketClientID, creds.BitbucketClientSecret, creds.BitbucketRefreshToken, "")
			client := bitbucket.New(bitbucket.Options{
				Workspace: owner,
				Period:    p,
				Token: func(ctx context.Context) (string, error) {
					return broker.Get(ctx, src)
				},
			})
			// One OAuth consumer serves every workspace, so the token source's
			// identity alone would key all workspaces to the same cache
			// entries. Scope it by the requested workspace.
			return client, src.Identity() + "/" + owner, nil
		}
		return nil, "", fmt.Errorf("unknown service %q", service)
	}
}
