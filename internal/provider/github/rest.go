package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/perbu/teamdigest/internal/page"
	"github.com/perbu/teamdigest/internal/poll"
	"github.com/perbu/teamdigest/internal/provider"
	"golang.org/x/sync/errgroup"
)

type orgResponse struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type repoResponse struct {
	Name            string    `json:"name"`
	HTMLURL         string    `json:"html_url"`
	Description     string    `json:"description"`
	Private         bool      `json:"private"`
	Fork            bool      `json:"fork"`
	StargazersCount int       `json:"stargazers_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type commitResponse struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string    `json:"name"`
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
}

type memberResponse struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

type contributorStats struct {
	Author struct {
		Login string `json:"login"`
	} `json:"author"`
	Weeks []struct {
		WeekStart int64 `json:"w"`
		Added     int   `json:"a"`
		Deleted   int   `json:"d"`
		Commits   int   `json:"c"`
	} `json:"weeks"`
}

type starEvent struct {
	StarredAt time.Time `json:"starred_at"`
}

// OwnerInfo implements provider.Client.
func (c *Client) OwnerInfo(ctx context.Context) (provider.Team, error) {
	var org orgResponse
	if _, _, err := c.get(ctx, c.restURL("/orgs/"+c.owner, nil), "", &org); err != nil {
		return provider.Team{}, fmt.Errorf("failed to fetch organization %s: %w", c.owner, err)
	}
	name := org.Name
	if name == "" {
		name = org.Login
	}
	return provider.Team{
		Login:   org.Login,
		Name:    name,
		Avatar:  org.AvatarURL,
		Service: provider.ServiceGitHub,
	}, nil
}

// Repos implements provider.Client: a full walk of the organization's
// repositories, filtered to those updated after the previous week's start.
func (c *Client) Repos(ctx context.Context) ([]provider.Repo, error) {
	query := url.Values{"per_page": {strconv.Itoa(page.DefaultSize)}}
	fetch := restPage[repoResponse](c, c.restURL("/orgs/"+c.owner+"/repos", query), "")

	raw, err := page.WalkAll(ctx, fetch)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repositories for %s: %w", c.owner, err)
	}

	var repos []provider.Repo
	for _, r := range raw {
		if !r.UpdatedAt.After(c.period.Previous.Start) {
			continue
		}
		repos = append(repos, provider.Repo{
			Name:        r.Name,
			URL:         r.HTMLURL,
			Description: r.Description,
			Private:     r.Private,
			Fork:        r.Fork,
			Stargazers:  r.StargazersCount,
			UpdatedAt:   r.UpdatedAt,
		})
	}
	return repos, nil
}

// restMembers is the fallback members listing used when the organization
// rejects the full-name GraphQL query. Logins double as display names.
func (c *Client) restMembers(ctx context.Context) ([]provider.Member, error) {
	query := url.Values{"per_page": {strconv.Itoa(page.DefaultSize)}}
	fetch := restPage[memberResponse](c, c.restURL("/orgs/"+c.owner+"/members", query), "")

	raw, err := page.WalkAll(ctx, fetch)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch members for %s: %w", c.owner, err)
	}

	members := make([]provider.Member, 0, len(raw))
	for _, m := range raw {
		members = append(members, provider.Member{Login: m.Login, Name: m.Login, Avatar: m.AvatarURL})
	}
	return members, nil
}

// Commits implements provider.Client: the current week's commits for one
// repository, walked newest-first and stopped at the week boundary.
func (c *Client) Commits(ctx context.Context, repo string) ([]provider.RepoCommits, error) {
	query := url.Values{
		"per_page": {strconv.Itoa(page.DefaultSize)},
		"until":    {c.period.Current.End.Format(time.RFC3339)},
	}
	fetch := restPage[commitResponse](c, c.restURL("/repos/"+c.owner+"/"+repo+"/commits", query), "")

	raw, err := page.WalkNewestFirst(ctx, fetch, c.period.Current.Start, func(cr commitResponse) time.Time {
		return cr.Commit.Author.Date
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch commits for %s/%s: %w", c.owner, repo, err)
	}

	commits := make([]provider.CommitRecord, 0, len(raw))
	for _, cr := range raw {
		author := cr.Commit.Author.Name
		if cr.Author != nil && cr.Author.Login != "" {
			author = cr.Author.Login
		}
		commits = append(commits, provider.CommitRecord{
			Author:  author,
			Date:    cr.Commit.Author.Date,
			Message: cr.Commit.Message,
			SHA:     cr.SHA,
		})
	}
	return provider.GroupCommitsByAuthor(commits), nil
}

// AllCommits implements provider.Client. The GitHub App's permissions only
// cover public repositories for commit listings, so private repos are
// skipped here.
func (c *Client) AllCommits(ctx context.Context) ([]provider.RepoCommitList, error) {
	repos, err := c.Repos(ctx)
	if err != nil {
		return nil, err
	}

	var public []provider.Repo
	for _, r := range repos {
		if !r.Private {
			public = append(public, r)
		}
	}

	out := make([]provider.RepoCommitList, len(public))
	g, ctx := errgroup.WithContext(ctx)
	for i, r := range public {
		g.Go(func() error {
			commits, err := c.Commits(ctx, r.Name)
			if err != nil {
				return err
			}
			out[i] = provider.RepoCommitList{Repo: r.Name, Commits: commits}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Statistics implements provider.Client. The contributor-statistics endpoint
// computes asynchronously: 202 means still computing, 204 means no data
// (a valid empty result), 200 carries the payload. A short poll absorbs the
// common 202-then-200 sequence; anything slower surfaces as IsPending so the
// dashboard can ask again.
func (c *Client) Statistics(ctx context.Context, repo string) (provider.RepoStats, error) {
	statsURL := c.restURL("/repos/"+c.owner+"/"+repo+"/stats/contributors", nil)

	stats, err := poll.UntilReady(ctx, c.statsPoll, func(ctx context.Context) (poll.Result[[]contributorStats], error) {
		var body []contributorStats
		_, status, err := c.get(ctx, statsURL, "", &body)
		if err != nil {
			return poll.Result[[]contributorStats]{}, err
		}
		if status == http.StatusAccepted {
			return poll.Result[[]contributorStats]{Pending: true}, nil
		}
		// 204: no contributors, a valid empty success.
		return poll.Result[[]contributorStats]{Value: body}, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return provider.RepoStats{}, ctx.Err()
		}
		// Still computing (or transiently failing): a stable intermediate
		// state, not an error.
		return provider.RepoStats{IsPending: true}, nil
	}

	return c.buildStats(stats), nil
}

// buildStats projects the raw contributor weeks onto the report's trailing
// stat weeks.
func (c *Client) buildStats(stats []contributorStats) provider.RepoStats {
	weeks := c.period.StatWeeks()

	authors := make([]provider.AuthorStats, 0, len(stats))
	for _, s := range stats {
		a := provider.AuthorStats{
			Login:        s.Author.Login,
			Commits:      make([]provider.WeekStat, len(weeks)),
			LinesAdded:   make([]provider.WeekStat, len(weeks)),
			LinesDeleted: make([]provider.WeekStat, len(weeks)),
		}
		for i, ws := range weeks {
			unix := ws.Unix()
			a.Commits[i] = provider.WeekStat{WeekStart: unix}
			a.LinesAdded[i] = provider.WeekStat{WeekStart: unix}
			a.LinesDeleted[i] = provider.WeekStat{WeekStart: unix}
			for _, w := range s.Weeks {
				if w.WeekStart != unix {
					continue
				}
				a.Commits[i].Value += w.Commits
				a.LinesAdded[i].Value += w.Added
				a.LinesDeleted[i].Value += w.Deleted
			}
		}
		authors = append(authors, a)
	}
	return provider.RepoStats{Authors: authors}
}

// NewStars implements provider.Client. The stargazers endpoint lists oldest
// first, so the walk starts at the last page and scans backward until it
// leaves the current week.
func (c *Client) NewStars(ctx context.Context, repo string) (int, error) {
	query := url.Values{"per_page": {strconv.Itoa(page.DefaultSize)}}
	fetch := restPage[starEvent](c, c.restURL("/repos/"+c.owner+"/"+repo+"/stargazers", query), "application/vnd.github.star+json")

	events, err := page.WalkOldestFirst(ctx, fetch, c.period.Current.Start, func(e starEvent) time.Time {
		return e.StarredAt
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch stargazers for %s/%s: %w", c.owner, repo, err)
	}

	count := 0
	for _, e := range events {
		if c.period.Current.Contains(e.StarredAt) {
			count++
		}
	}
	return count, nil
}
