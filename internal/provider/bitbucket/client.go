// Package bitbucket implements the provider contract against the Bitbucket
// 2.0 REST API. Bitbucket paginates through next/previous URLs embedded in
// the response body, not headers.
package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/perbu/teamdigest/internal/page"
	"github.com/perbu/teamdigest/internal/period"
	"github.com/perbu/teamdigest/internal/provider"
	"golang.org/x/sync/errgroup"
)

// DefaultBaseURL is the Bitbucket 2.0 API root.
const DefaultBaseURL = "https://api.bitbucket.org/2.0"

// TokenFunc resolves a live access token for the request being made.
type TokenFunc func(ctx context.Context) (string, error)

// Client fetches one workspace's activity for one reporting period.
type Client struct {
	workspace  string
	period     period.Period
	token      TokenFunc
	httpClient *http.Client
	baseURL    string

	mu        sync.Mutex
	pullsMemo map[string][]provider.PullRequest
}

// Options configures a Client. BaseURL and HTTPClient exist for tests.
type Options struct {
	Workspace  string
	Period     period.Period
	Token      TokenFunc
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a Bitbucket client.
func New(opts Options) *Client {
	c := &Client{
		workspace:  opts.Workspace,
		period:     opts.Period,
		token:      opts.Token,
		httpClient: opts.HTTPClient,
		baseURL:    opts.BaseURL,
		pullsMemo:  make(map[string][]provider.PullRequest),
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	return c
}

// get performs an authenticated GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s returned status %d: %s", rawURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
	}
	return nil
}

// pagedBody is Bitbucket's pagination envelope: cursors live in the body.
type pagedBody[T any] struct {
	Values   []T    `json:"values"`
	Next     string `json:"next"`
	Previous string `json:"previous"`
}

// bodyPage adapts one Bitbucket listing to the pagination engine. An empty
// next field ends the walk; a response without any pagination fields is one
// complete page.
func bodyPage[T any](c *Client, firstURL string) page.FetchFunc[T] {
	return func(ctx context.Context, cursor page.Cursor) (page.Page[T], error) {
		u := firstURL
		if cursor != "" {
			u = string(cursor)
		}
		var body pagedBody[T]
		if err := c.get(ctx, u, &body); err != nil {
			return page.Page[T]{}, err
		}
		return page.Page[T]{
			Items: body.Values,
			Next:  page.Cursor(body.Next),
			Prev:  page.Cursor(body.Previous),
		}, nil
	}
}

func (c *Client) listURL(path string, pagelen int, extra url.Values) string {
	query := url.Values{"pagelen": {strconv.Itoa(pagelen)}}
	for k, vs := range extra {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	return c.baseURL + path + "?" + query.Encode()
}

type workspaceResponse struct {
	Slug  string `json:"slug"`
	Name  string `json:"name"`
	Links struct {
		Avatar struct {
			Href string `json:"href"`
		} `json:"avatar"`
	} `json:"links"`
}

type repoResponse struct {
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	IsPrivate   bool      `json:"is_private"`
	UpdatedOn   time.Time `json:"updated_on"`
	Parent      *struct {
		Slug string `json:"slug"`
	} `json:"parent"`
	Links struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
}

type memberResponse struct {
	User struct {
		Nickname    string `json:"nickname"`
		DisplayName string `json:"display_name"`
		Links       struct {
			Avatar struct {
				Href string `json:"href"`
			} `json:"avatar"`
		} `json:"links"`
	} `json:"user"`
}

type commitResponse struct {
	Hash    string    `json:"hash"`
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
	Author  struct {
		Raw  string `json:"raw"`
		User *struct {
			Nickname    string `json:"nickname"`
			DisplayName string `json:"display_name"`
		} `json:"user"`
	} `json:"author"`
}

type pullResponse struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	CreatedOn time.Time `json:"created_on"`
	UpdatedOn time.Time `json:"updated_on"`
	Author    struct {
		Nickname    string `json:"nickname"`
		DisplayName string `json:"display_name"`
	} `json:"author"`
	Links struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
}

// OwnerInfo implements provider.Client.
func (c *Client) OwnerInfo(ctx context.Context) (provider.Team, error) {
	var ws workspaceResponse
	if err := c.get(ctx, c.baseURL+"/workspaces/"+c.workspace, &ws); err != nil {
		return provider.Team{}, fmt.Errorf("failed to fetch workspace %s: %w", c.workspace, err)
	}
	return provider.Team{
		Login:   ws.Slug,
		Name:    ws.Name,
		Avatar:  ws.Links.Avatar.Href,
		Service: provider.ServiceBitbucket,
	}, nil
}

// Repos implements provider.Client.
func (c *Client) Repos(ctx context.Context) ([]provider.Repo, error) {
	fetch := bodyPage[repoResponse](c, c.listURL("/repositories/"+c.workspace, page.DefaultSize, nil))

	raw, err := page.WalkAll(ctx, fetch)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repositories for %s: %w", c.workspace, err)
	}

	var repos []provider.Repo
	for _, r := range raw {
		if !r.UpdatedOn.After(c.period.Previous.Start) {
			continue
		}
		repos = append(repos, provider.Repo{
			Name:        r.Slug,
			URL:         r.Links.HTML.Href,
			Description: r.Description,
			Private:     r.IsPrivate,
			Fork:        r.Parent != nil,
			UpdatedAt:   r.UpdatedOn,
		})
	}
	return repos, nil
}

// Members implements provider.Client.
func (c *Client) Members(ctx context.Context) ([]provider.Member, error) {
	fetch := bodyPage[memberResponse](c, c.listURL("/workspaces/"+c.workspace+"/members", page.DefaultSize, nil))

	raw, err := page.WalkAll(ctx, fetch)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch members for %s: %w", c.workspace, err)
	}

	members := make([]provider.Member, 0, len(raw))
	for _, m := range raw {
		name := m.User.DisplayName
		if name == "" {
			name = m.User.Nickname
		}
		members = append(members, provider.Member{
			Login:  m.User.Nickname,
			Name:   name,
			Avatar: m.User.Links.Avatar.Href,
		})
	}
	return members, nil
}

// commitsSince walks the newest-first commit listing down to the given
// window start.
func (c *Client) commitsSince(ctx context.Context, repo string, since time.Time) ([]commitResponse, error) {
	fetch := bodyPage[commitResponse](c, c.listURL("/repositories/"+c.workspace+"/"+repo+"/commits", page.DefaultSize, nil))

	raw, err := page.WalkNewestFirst(ctx, fetch, since, func(cr commitResponse) time.Time {
		return cr.Date
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch commits for %s/%s: %w", c.workspace, repo, err)
	}
	return raw, nil
}

func commitAuthor(cr commitResponse) string {
	if cr.Author.User != nil && cr.Author.User.Nickname != "" {
		return cr.Author.User.Nickname
	}
	return cr.Author.Raw
}

// Commits implements provider.Client: the current week's commits grouped by
// author. The listing has no upper time bound, so commits after the
// reporting week (when reporting on a past week) are dropped here.
func (c *Client) Commits(ctx context.Context, repo string) ([]provider.RepoCommits, error) {
	raw, err := c.commitsSince(ctx, repo, c.period.Current.Start)
	if err != nil {
		return nil, err
	}

	var commits []provider.CommitRecord
	for _, cr := range raw {
		if !c.period.Current.Contains(cr.Date) {
			continue
		}
		commits = append(commits, provider.CommitRecord{
			Author:  commitAuthor(cr),
			Date:    cr.Date,
			Message: cr.Message,
			SHA:     cr.Hash,
		})
	}
	return provider.GroupCommitsByAuthor(commits), nil
}

// AllCommits implements provider.Client. Unlike GitHub, the workspace token
// covers private repositories, so nothing is filtered out.
func (c *Client) AllCommits(ctx context.Context) ([]provider.RepoCommitList, error) {
	repos, err := c.Repos(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]provider.RepoCommitList, len(repos))
	g, ctx := errgroup.WithContext(ctx)
	for i, r := range repos {
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

// Statistics implements provider.Client. Bitbucket has no server-side
// statistics job: the weekly series is computed here by bucketing raw commit
// timestamps into the trailing stat weeks, so the result is never pending.
// Line counts would need one diffstat call per commit and are left at zero.
func (c *Client) Statistics(ctx context.Context, repo string) (provider.RepoStats, error) {
	window := c.period.StatWindow()
	raw, err := c.commitsSince(ctx, repo, window.Start)
	if err != nil {
		return provider.RepoStats{}, err
	}

	weeks := c.period.StatWeeks()
	index := make(map[int64]int, len(weeks))
	for i, ws := range weeks {
		index[ws.Unix()] = i
	}

	byAuthor := make(map[string][]provider.WeekStat)
	var order []string
	for _, cr := range raw {
		if !window.Contains(cr.Date) {
			continue
		}
		author := commitAuthor(cr)
		series, ok := byAuthor[author]
		if !ok {
			series = make([]provider.WeekStat, len(weeks))
			for i, ws := range weeks {
				series[i] = provider.WeekStat{WeekStart: ws.Unix()}
			}
			byAuthor[author] = series
			order = append(order, author)
		}
		if i, ok := index[period.WeekOf(cr.Date).Unix()]; ok {
			series[i].Value++
		}
	}

	zeroSeries := func() []provider.WeekStat {
		s := make([]provider.WeekStat, len(weeks))
		for i, ws := range weeks {
			s[i] = provider.WeekStat{WeekStart: ws.Unix()}
		}
		return s
	}

	authors := make([]provider.AuthorStats, 0, len(order))
	for _, author := range order {
		authors = append(authors, provider.AuthorStats{
			Login:        author,
			Commits:      byAuthor[author],
			LinesAdded:   zeroSeries(),
			LinesDeleted: zeroSeries(),
		})
	}
	return provider.RepoStats{Authors: authors}, nil
}

// NewStars implements provider.Client. Bitbucket has no star concept.
func (c *Client) NewStars(context.Context, string) (int, error) {
	return 0, nil
}

// fetchRepoPulls lists one repository's recent pull requests, memoized for
// the client's lifetime so Pulls and PRActivity share a single listing per
// repo.
func (c *Client) fetchRepoPulls(ctx context.Context, repo string) ([]provider.PullRequest, error) {
	c.mu.Lock()
	pulls, ok := c.pullsMemo[repo]
	c.mu.Unlock()
	if ok {
		return pulls, nil
	}

	pulls, err := c.listRepoPulls(ctx, repo)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.pullsMemo[repo] = pulls
	c.mu.Unlock()
	return pulls, nil
}

func (c *Client) listRepoPulls(ctx context.Context, repo string) ([]provider.PullRequest, error) {
	extra := url.Values{"state": {"MERGED", "OPEN", "DECLINED"}, "sort": {"-created_on"}}
	fetch := bodyPage[pullResponse](c, c.listURL("/repositories/"+c.workspace+"/"+repo+"/pullrequests", page.PullRequestSize, extra))

	raw, err := page.WalkNewestFirst(ctx, fetch, c.period.Previous.Start, func(pr pullResponse) time.Time {
		return pr.CreatedOn
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pull requests for %s/%s: %w", c.workspace, repo, err)
	}

	pulls := make([]provider.PullRequest, 0, len(raw))
	for _, r := range raw {
		author := r.Author.Nickname
		if author == "" {
			author = r.Author.DisplayName
		}
		pr := provider.PullRequest{
			Author:    author,
			Title:     r.Title,
			Number:    r.ID,
			CreatedAt: r.CreatedOn,
			State:     r.State,
			URL:       r.Links.HTML.Href,
		}
		switch r.State {
		case "MERGED":
			t := r.UpdatedOn
			pr.MergedAt = &t
			pr.ClosedAt = &t
		case "DECLINED":
			t := r.UpdatedOn
			pr.ClosedAt = &t
		}
		pulls = append(pulls, pr)
	}
	return pulls, nil
}

// Pulls implements provider.Client.
func (c *Client) Pulls(ctx context.Context, repo string) ([]provider.AuthorPulls, error) {
	pulls, err := c.fetchRepoPulls(ctx, repo)
	if err != nil {
		return nil, err
	}
	return provider.GroupPullsByAuthor(pulls), nil
}

// PRActivity implements provider.Client: per-repo pull requests across the
// workspace's report-eligible repositories.
func (c *Client) PRActivity(ctx context.Context) ([]provider.RepoPulls, error) {
	repos, err := c.Repos(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]provider.RepoPulls, len(repos))
	g, ctx := errgroup.WithContext(ctx)
	for i, r := range repos {
		g.Go(func() error {
			pulls, err := c.fetchRepoPulls(ctx, r.Name)
			if err != nil {
				return err
			}
			out[i] = provider.RepoPulls{Repo: r.Name, Pulls: pulls}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var filtered []provider.RepoPulls
	for _, rp := range out {
		if len(rp.Pulls) > 0 {
			filtered = append(filtered, rp)
		}
	}
	return filtered, nil
}
