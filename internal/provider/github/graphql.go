package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/perbu/teamdigest/internal/page"
	"github.com/perbu/teamdigest/internal/provider"
)

// Result caps for the organization-wide PR activity query. The query has no
// pagination past these: a busy org's long tail is deliberately cut off.
const (
	maxActivityRepos   = 10
	maxPullsPerRepo    = 20
	maxCommentsPerPull = 50
	maxCommitsPerPull  = 50
)

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// graphql posts a query and decodes the data field into out. GraphQL errors
// arrive inside a 200 response body, never as an HTTP error status.
func (c *Client) graphql(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to encode GraphQL request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build GraphQL request: %w", err)
	}
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GraphQL request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GraphQL endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode GraphQL response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("GraphQL query failed: %s", envelope.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode GraphQL data: %w", err)
		}
	}
	return nil
}

const membersQuery = `
query($login: String!, $pageSize: Int!, $cursor: String) {
  organization(login: $login) {
    membersWithRole(first: $pageSize, after: $cursor) {
      nodes { login name avatarUrl }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

type memberNode struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

// Members implements provider.Client. The full-name query is rejected by
// organizations that restrict third-party application access; in that case
// the REST members listing serves the same shape with logins as names, and
// callers cannot tell which path answered.
func (c *Client) Members(ctx context.Context) ([]provider.Member, error) {
	fetch := func(ctx context.Context, cursor page.Cursor) (page.Page[memberNode], error) {
		variables := map[string]any{"login": c.owner, "pageSize": page.DefaultSize}
		if cursor != "" {
			variables["cursor"] = string(cursor)
		}
		var data struct {
			Organization struct {
				MembersWithRole struct {
					Nodes    []memberNode `json:"nodes"`
					PageInfo struct {
						HasNextPage bool   `json:"hasNextPage"`
						EndCursor   string `json:"endCursor"`
					} `json:"pageInfo"`
				} `json:"membersWithRole"`
			} `json:"organization"`
		}
		if err := c.graphql(ctx, membersQuery, variables, &data); err != nil {
			return page.Page[memberNode]{}, err
		}
		p := page.Page[memberNode]{Items: data.Organization.MembersWithRole.Nodes}
		if data.Organization.MembersWithRole.PageInfo.HasNextPage {
			p.Next = page.Cursor(data.Organization.MembersWithRole.PageInfo.EndCursor)
		}
		return p, nil
	}

	nodes, err := page.WalkAll(ctx, fetch)
	if err != nil {
		slog.Debug("members query rejected, falling back to listing", "owner", c.owner, "error", err)
		return c.restMembers(ctx)
	}

	members := make([]provider.Member, 0, len(nodes))
	for _, n := range nodes {
		name := n.Name
		if name == "" {
			name = n.Login
		}
		members = append(members, provider.Member{Login: n.Login, Name: name, Avatar: n.AvatarURL})
	}
	return members, nil
}

const pullFields = `
author { login }
title
number
createdAt
mergedAt
closedAt
state
url
comments(first: %d) { nodes { author { login } body createdAt } }
commits(first: %d) { nodes { commit { oid messageHeadline } } }`

type pullNode struct {
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
	Title     string     `json:"title"`
	Number    int        `json:"number"`
	CreatedAt time.Time  `json:"createdAt"`
	MergedAt  *time.Time `json:"mergedAt"`
	ClosedAt  *time.Time `json:"closedAt"`
	State     string     `json:"state"`
	URL       string     `json:"url"`
	Comments  struct {
		Nodes []struct {
			Author *struct {
				Login string `json:"login"`
			} `json:"author"`
			Body      string    `json:"body"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"nodes"`
	} `json:"comments"`
	Commits struct {
		Nodes []struct {
			Commit struct {
				OID             string `json:"oid"`
				MessageHeadline string `json:"messageHeadline"`
			} `json:"commit"`
		} `json:"nodes"`
	} `json:"commits"`
}

func (n pullNode) toPullRequest() provider.PullRequest {
	pr := provider.PullRequest{
		Title:     n.Title,
		Number:    n.Number,
		CreatedAt: n.CreatedAt,
		MergedAt:  n.MergedAt,
		ClosedAt:  n.ClosedAt,
		State:     n.State,
		URL:       n.URL,
	}
	if n.Author != nil {
		pr.Author = n.Author.Login
	}
	for _, cm := range n.Comments.Nodes {
		comment := provider.Comment{Body: cm.Body, CreatedAt: cm.CreatedAt}
		if cm.Author != nil {
			comment.Author = cm.Author.Login
		}
		pr.Comments = append(pr.Comments, comment)
	}
	for _, ci := range n.Commits.Nodes {
		pr.Commits = append(pr.Commits, provider.CommitRef{SHA: ci.Commit.OID, Message: ci.Commit.MessageHeadline})
	}
	return pr
}

// inWindow reports whether a pull request saw activity after the start of
// the previous reporting week.
func (c *Client) inWindow(pr provider.PullRequest) bool {
	since := c.period.Previous.Start
	if pr.CreatedAt.After(since) {
		return true
	}
	if pr.MergedAt != nil && pr.MergedAt.After(since) {
		return true
	}
	if pr.ClosedAt != nil && pr.ClosedAt.After(since) {
		return true
	}
	return false
}

// Pulls implements provider.Client: one repository's recent pull requests,
// reshaped by author.
func (c *Client) Pulls(ctx context.Context, repo string) ([]provider.AuthorPulls, error) {
	pulls, err := c.fetchRepoPulls(ctx, repo)
	if err != nil {
		return nil, err
	}
	return provider.GroupPullsByAuthor(pulls), nil
}

func (c *Client) fetchRepoPulls(ctx context.Context, repo string) ([]provider.PullRequest, error) {
	query := fmt.Sprintf(`
query($owner: String!, $name: String!) {
  repository(owner: $owner, name: $name) {
    pullRequests(first: %d, orderBy: {field: UPDATED_AT, direction: DESC}) {
      nodes {%s
      }
    }
  }
}`, maxPullsPerRepo, fmt.Sprintf(pullFields, maxCommentsPerPull, maxCommitsPerPull))

	var data struct {
		Repository struct {
			PullRequests struct {
				Nodes []pullNode `json:"nodes"`
			} `json:"pullRequests"`
		} `json:"repository"`
	}
	err := c.graphql(ctx, query, map[string]any{"owner": c.owner, "name": repo}, &data)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pull requests for %s/%s: %w", c.owner, repo, err)
	}

	var pulls []provider.PullRequest
	for _, n := range data.Repository.PullRequests.Nodes {
		if pr := n.toPullRequest(); c.inWindow(pr) {
			pulls = append(pulls, pr)
		}
	}
	return pulls, nil
}

// PRActivity implements provider.Client: recent pull requests across the
// organization's most recently updated repositories, grouped by repository.
func (c *Client) PRActivity(ctx context.Context) ([]provider.RepoPulls, error) {
	query := fmt.Sprintf(`
query($login: String!) {
  organization(login: $login) {
    repositories(first: %d, orderBy: {field: UPDATED_AT, direction: DESC}) {
      nodes {
        name
        pullRequests(first: %d, orderBy: {field: UPDATED_AT, direction: DESC}) {
          nodes {%s
          }
        }
      }
    }
  }
}`, maxActivityRepos, maxPullsPerRepo, fmt.Sprintf(pullFields, maxCommentsPerPull, maxCommitsPerPull))

	var data struct {
		Organization struct {
			Repositories struct {
				Nodes []struct {
					Name         string `json:"name"`
					PullRequests struct {
						Nodes []pullNode `json:"nodes"`
					} `json:"pullRequests"`
				} `json:"nodes"`
			} `json:"repositories"`
		} `json:"organization"`
	}
	if err := c.graphql(ctx, query, map[string]any{"login": c.owner}, &data); err != nil {
		return nil, fmt.Errorf("failed to fetch PR activity for %s: %w", c.owner, err)
	}

	var out []provider.RepoPulls
	for _, repo := range data.Organization.Repositories.Nodes {
		var pulls []provider.PullRequest
		for _, n := range repo.PullRequests.Nodes {
			if pr := n.toPullRequest(); c.inWindow(pr) {
				pulls = append(pulls, pr)
			}
		}
		if len(pulls) > 0 {
			out = append(out, provider.RepoPulls{Repo: repo.Name, Pulls: pulls})
		}
	}
	return out, nil
}
