// Package report assembles the weekly activity report for one team: it fans
// out over a provider client, caches whole-operation results and merges the
// per-repository pieces into the shapes the dashboard and email digest
// consume.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/perbu/teamdigest/internal/cache"
	"github.com/perbu/teamdigest/internal/period"
	"github.com/perbu/teamdigest/internal/poll"
	"github.com/perbu/teamdigest/internal/provider"
	"golang.org/x/sync/errgroup"
)

// DefaultTTL is how long cached provider responses stay valid.
const DefaultTTL = 10 * time.Minute

// Report is the assembled weekly report for one team.
type Report struct {
	Team    provider.Team     `json:"team"`
	Period  period.Period     `json:"period"`
	Members []provider.Member `json:"members"`
	Repos   []RepoReport      `json:"repos"`
}

// RepoReport is one repository's slice of the report. Stats may be pending
// when the provider is still computing; the dashboard asks again until
// resolved.
type RepoReport struct {
	provider.Repo
	Stats    provider.RepoStats     `json:"stats"`
	Pulls    []provider.AuthorPulls `json:"pulls"`
	NewStars int                    `json:"newStars"`
}

// Aggregator builds reports for one team and reporting period.
type Aggregator struct {
	client    provider.Client
	cache     *cache.Cache
	identity  string
	period    period.Period
	ttl       time.Duration
	statsPoll poll.Policy
}

// Options configures an Aggregator. Identity keys the cache per caller so
// differently-permissioned callers never share cached responses.
type Options struct {
	Client   provider.Client
	Cache    *cache.Cache
	Identity string
	Period   period.Period
	TTL      time.Duration
	// StatsPoll bounds how long EmailReport waits for pending statistics.
	StatsPoll poll.Policy
}

// New creates an Aggregator.
func New(opts Options) *Aggregator {
	a := &Aggregator{
		client:    opts.Client,
		cache:     opts.Cache,
		identity:  opts.Identity,
		period:    opts.Period,
		ttl:       opts.TTL,
		statsPoll: opts.StatsPoll,
	}
	if a.ttl == 0 {
		a.ttl = DefaultTTL
	}
	return a
}

func (a *Aggregator) key(path string) string {
	return cache.Fingerprint(a.identity, path, a.period.Current.Start)
}

// Report assembles the dashboard report. Fetching runs in three sequential
// phases: the team-level listings first, then per-repo statistics, then
// per-repo pull requests, because the later phases need the repo list. Within
// a phase every fetch runs concurrently, and one failed fetch fails the whole
// report.
func (a *Aggregator) Report(ctx context.Context) (*Report, error) {
	return a.assemble(ctx, a.repoStats)
}

// EmailReport assembles the same report with every repository's statistics
// fully resolved: email content is final, so pending rows are polled until
// the provider finishes (or the poll budget runs out).
func (a *Aggregator) EmailReport(ctx context.Context) (*Report, error) {
	return a.assemble(ctx, a.resolvedStats)
}

func (a *Aggregator) assemble(ctx context.Context, stats func(context.Context, string) (provider.RepoStats, error)) (*Report, error) {
	team, repos, members, err := a.fetchBase(ctx)
	if err != nil {
		return nil, err
	}

	statsByRepo, starsByRepo, err := a.fetchStats(ctx, repos, stats)
	if err != nil {
		return nil, err
	}

	pullsByRepo, err := a.fetchPulls(ctx, repos)
	if err != nil {
		return nil, err
	}

	// Merge keyed by repo name, never by slice position.
	out := &Report{Team: team, Period: a.period, Members: members}
	for _, r := range repos {
		out.Repos = append(out.Repos, RepoReport{
			Repo:     r,
			Stats:    statsByRepo[r.Name],
			Pulls:    pullsByRepo[r.Name],
			NewStars: starsByRepo[r.Name],
		})
	}
	return out, nil
}

// fetchBase runs the team-level phase: owner, repos and members concurrently.
func (a *Aggregator) fetchBase(ctx context.Context) (provider.Team, []provider.Repo, []provider.Member, error) {
	var (
		team    provider.Team
		repos   []provider.Repo
		members []provider.Member
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		team, err = cache.Fetch(ctx, a.cache, a.key("owner"), a.ttl, a.client.OwnerInfo)
		return err
	})
	g.Go(func() error {
		var err error
		repos, err = cache.Fetch(ctx, a.cache, a.key("repos"), a.ttl, a.client.Repos)
		return err
	})
	g.Go(func() error {
		var err error
		members, err = cache.Fetch(ctx, a.cache, a.key("members"), a.ttl, a.client.Members)
		return err
	})
	if err := g.Wait(); err != nil {
		return provider.Team{}, nil, nil, fmt.Errorf("failed to fetch team listings: %w", err)
	}
	return team, repos, members, nil
}

func (a *Aggregator) fetchStats(ctx context.Context, repos []provider.Repo, get func(context.Context, string) (provider.RepoStats, error)) (map[string]provider.RepoStats, map[string]int, error) {
	stats := make([]provider.RepoStats, len(repos))
	stars := make([]int, len(repos))

	g, ctx := errgroup.WithContext(ctx)
	for i, r := range repos {
		g.Go(func() error {
			s, err := get(ctx, r.Name)
			if err != nil {
				return err
			}
			stats[i] = s

			n, err := cache.Fetch(ctx, a.cache, a.key("repos/"+r.Name+"/stars"), a.ttl, func(ctx context.Context) (int, error) {
				return a.client.NewStars(ctx, r.Name)
			})
			if err != nil {
				return err
			}
			stars[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("failed to fetch repository statistics: %w", err)
	}

	statsByRepo := make(map[string]provider.RepoStats, len(repos))
	starsByRepo := make(map[string]int, len(repos))
	for i, r := range repos {
		statsByRepo[r.Name] = stats[i]
		starsByRepo[r.Name] = stars[i]
	}
	return statsByRepo, starsByRepo, nil
}

func (a *Aggregator) fetchPulls(ctx context.Context, repos []provider.Repo) (map[string][]provider.AuthorPulls, error) {
	pulls := make([][]provider.AuthorPulls, len(repos))

	g, ctx := errgroup.WithContext(ctx)
	for i, r := range repos {
		g.Go(func() error {
			p, err := cache.Fetch(ctx, a.cache, a.key("repos/"+r.Name+"/pulls"), a.ttl, func(ctx context.Context) ([]provider.AuthorPulls, error) {
				return a.client.Pulls(ctx, r.Name)
			})
			if err != nil {
				return err
			}
			pulls[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch pull requests: %w", err)
	}

	byRepo := make(map[string][]provider.AuthorPulls, len(repos))
	for i, r := range repos {
		byRepo[r.Name] = pulls[i]
	}
	return byRepo, nil
}

// repoStats fetches one repository's statistics through the cache. Pending
// results pass through uncached so the next request recomputes.
func (a *Aggregator) repoStats(ctx context.Context, name string) (provider.RepoStats, error) {
	return cache.FetchResolved(ctx, a.cache, a.key("repos/"+name+"/stats"), a.ttl,
		func(s provider.RepoStats) bool { return !s.IsPending },
		func(ctx context.Context) (provider.RepoStats, error) {
			return a.client.Statistics(ctx, name)
		})
}

// resolvedStats keeps asking for one repository's statistics until they stop
// being pending.
func (a *Aggregator) resolvedStats(ctx context.Context, name string) (provider.RepoStats, error) {
	stats, err := poll.UntilReady(ctx, a.statsPoll, func(ctx context.Context) (poll.Result[provider.RepoStats], error) {
		s, err := a.repoStats(ctx, name)
		if err != nil {
			return poll.Result[provider.RepoStats]{}, err
		}
		if s.IsPending {
			return poll.Result[provider.RepoStats]{Pending: true}, nil
		}
		return poll.Result[provider.RepoStats]{Value: s}, nil
	})
	if err != nil {
		return provider.RepoStats{}, fmt.Errorf("statistics for %s never resolved: %w", name, err)
	}
	return stats, nil
}

// Statistics exposes one repository's cached statistics for dashboard
// re-polling of pending rows.
func (a *Aggregator) Statistics(ctx context.Context, repo string) (provider.RepoStats, error) {
	return a.repoStats(ctx, repo)
}

// Commits returns the current week's commits for one repository, grouped by
// author.
func (a *Aggregator) Commits(ctx context.Context, repo string) ([]provider.RepoCommits, error) {
	return cache.Fetch(ctx, a.cache, a.key("repos/"+repo+"/commits"), a.ttl, func(ctx context.Context) ([]provider.RepoCommits, error) {
		return a.client.Commits(ctx, repo)
	})
}

// AllCommits returns the current week's commits for every report-eligible
// repository.
func (a *Aggregator) AllCommits(ctx context.Context) ([]provider.RepoCommitList, error) {
	return cache.Fetch(ctx, a.cache, a.key("commits"), a.ttl, a.client.AllCommits)
}

// PRActivity returns recent pull requests across the team, grouped by
// repository.
func (a *Aggregator) PRActivity(ctx context.Context) ([]provider.RepoPulls, error) {
	return cache.Fetch(ctx, a.cache, a.key("pr-activity"), a.ttl, a.client.PRActivity)
}
