package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/perbu/teamdigest/internal/cache"
	"github.com/perbu/teamdigest/internal/period"
	"github.com/perbu/teamdigest/internal/poll"
	"github.com/perbu/teamdigest/internal/provider"
)

// fakeClient serves canned data and counts calls per operation.
type fakeClient struct {
	mu    sync.Mutex
	calls map[string]int

	team    provider.Team
	repos   []provider.Repo
	members []provider.Member
	// statsScript holds per-repo result sequences; the last entry repeats.
	statsScript map[string][]provider.RepoStats
	pulls       map[string][]provider.AuthorPulls
	statsErr    error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		calls: make(map[string]int),
		team:  provider.Team{Login: "acme", Name: "Acme Corp", Service: provider.ServiceGitHub},
		repos: []provider.Repo{
			{Name: "widget", UpdatedAt: time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC)},
			{Name: "gadget", UpdatedAt: time.Date(2023, 1, 9, 0, 0, 0, 0, time.UTC)},
		},
		members: []provider.Member{{Login: "alice", Name: "Alice Smith"}},
		statsScript: map[string][]provider.RepoStats{
			"widget": {{Authors: []provider.AuthorStats{{Login: "alice"}}}},
			"gadget": {{}},
		},
		pulls: map[string][]provider.AuthorPulls{
			"widget": {{Author: "alice", Pulls: []provider.PullRequest{{Number: 1, Author: "alice"}}}},
		},
	}
}

func (f *fakeClient) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.calls[op]
}

func (f *fakeClient) calledTimes(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeClient) OwnerInfo(context.Context) (provider.Team, error) {
	f.count("owner")
	return f.team, nil
}

func (f *fakeClient) Repos(context.Context) ([]provider.Repo, error) {
	f.count("repos")
	return f.repos, nil
}

func (f *fakeClient) Members(context.Context) ([]provider.Member, error) {
	f.count("members")
	return f.members, nil
}

func (f *fakeClient) Statistics(_ context.Context, repo string) (provider.RepoStats, error) {
	n := f.count("stats/" + repo)
	if f.statsErr != nil {
		return provider.RepoStats{}, f.statsErr
	}
	script := f.statsScript[repo]
	if n > len(script) {
		n = len(script)
	}
	return script[n-1], nil
}

func (f *fakeClient) Commits(_ context.Context, repo string) ([]provider.RepoCommits, error) {
	f.count("commits/" + repo)
	return []provider.RepoCommits{{Author: "alice"}}, nil
}

func (f *fakeClient) AllCommits(context.Context) ([]provider.RepoCommitList, error) {
	f.count("allcommits")
	return []provider.RepoCommitList{{Repo: "widget"}}, nil
}

func (f *fakeClient) NewStars(_ context.Context, repo string) (int, error) {
	f.count("stars/" + repo)
	if repo == "widget" {
		return 3, nil
	}
	return 0, nil
}

func (f *fakeClient) Pulls(_ context.Context, repo string) ([]provider.AuthorPulls, error) {
	f.count("pulls/" + repo)
	return f.pulls[repo], nil
}

func (f *fakeClient) PRActivity(context.Context) ([]provider.RepoPulls, error) {
	f.count("practivity")
	return []provider.RepoPulls{{Repo: "widget"}}, nil
}

func testAggregator(t *testing.T, client provider.Client) *Aggregator {
	t.Helper()
	p, err := period.Parse("2023-01-08")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return New(Options{
		Client:    client,
		Cache:     cache.New(cache.NewMemoryStore()),
		Identity:  "github/acme",
		Period:    p,
		StatsPoll: poll.Policy{Interval: time.Millisecond, MaxAttempts: 10},
	})
}

func TestReportAssemblesAllPhases(t *testing.T) {
	fake := newFakeClient()
	a := testAggregator(t, fake)

	r, err := a.Report(context.Background())
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	if r.Team.Login != "acme" {
		t.Errorf("team = %+v", r.Team)
	}
	if len(r.Members) != 1 || r.Members[0].Login != "alice" {
		t.Errorf("members = %+v", r.Members)
	}
	if len(r.Repos) != 2 {
		t.Fatalf("got %d repos, want 2", len(r.Repos))
	}

	// Each repo's stats and pulls land on the row with the matching name.
	byName := map[string]RepoReport{}
	for _, rr := range r.Repos {
		byName[rr.Name] = rr
	}
	widget := byName["widget"]
	if len(widget.Stats.Authors) != 1 || widget.Stats.Authors[0].Login != "alice" {
		t.Errorf("widget stats = %+v", widget.Stats)
	}
	if len(widget.Pulls) != 1 || widget.Pulls[0].Author != "alice" {
		t.Errorf("widget pulls = %+v", widget.Pulls)
	}
	if widget.NewStars != 3 {
		t.Errorf("widget stars = %d, want 3", widget.NewStars)
	}
	if gadget := byName["gadget"]; len(gadget.Pulls) != 0 || gadget.NewStars != 0 {
		t.Errorf("gadget = %+v, want no pulls and no stars", gadget)
	}
}

func TestReportServesSecondCallFromCache(t *testing.T) {
	fake := newFakeClient()
	a := testAggregator(t, fake)

	for i := 0; i < 2; i++ {
		if _, err := a.Report(context.Background()); err != nil {
			t.Fatalf("Report() #%d error = %v", i+1, err)
		}
	}

	for _, op := range []string{"owner", "repos", "members", "stats/widget", "pulls/widget", "stars/widget"} {
		if got := fake.calledTimes(op); got != 1 {
			t.Errorf("%s fetched %d times, want 1 (second report must hit the cache)", op, got)
		}
	}
}

func TestReportDoesNotCachePendingStats(t *testing.T) {
	fake := newFakeClient()
	fake.statsScript["widget"] = []provider.RepoStats{
		{IsPending: true},
		{Authors: []provider.AuthorStats{{Login: "alice"}}},
	}
	a := testAggregator(t, fake)

	r, err := a.Report(context.Background())
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	var widget RepoReport
	for _, rr := range r.Repos {
		if rr.Name == "widget" {
			widget = rr
		}
	}
	if !widget.Stats.IsPending {
		t.Fatal("first report should carry the pending row through")
	}

	// The dashboard asks again: the pending row was not cached, so the repo's
	// stats are recomputed and resolve, while everything else stays cached.
	r, err = a.Report(context.Background())
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	for _, rr := range r.Repos {
		if rr.Name == "widget" && rr.Stats.IsPending {
			t.Error("second report still pending, want resolved stats")
		}
	}
	if got := fake.calledTimes("stats/widget"); got != 2 {
		t.Errorf("stats fetched %d times, want 2", got)
	}
	if got := fake.calledTimes("repos"); got != 1 {
		t.Errorf("repos fetched %d times, want 1", got)
	}
}

func TestEmailReportResolvesPendingStats(t *testing.T) {
	fake := newFakeClient()
	fake.statsScript["widget"] = []provider.RepoStats{
		{IsPending: true},
		{IsPending: true},
		{Authors: []provider.AuthorStats{{Login: "alice"}}},
	}
	a := testAggregator(t, fake)

	r, err := a.EmailReport(context.Background())
	if err != nil {
		t.Fatalf("EmailReport() error = %v", err)
	}
	for _, rr := range r.Repos {
		if rr.Stats.IsPending {
			t.Errorf("repo %s still pending: email content must be final", rr.Name)
		}
	}
	if got := fake.calledTimes("stats/widget"); got != 3 {
		t.Errorf("stats fetched %d times, want 3 (two pending polls then ready)", got)
	}
}

func TestEmailReportFailsWhenStatsNeverResolve(t *testing.T) {
	fake := newFakeClient()
	fake.statsScript["widget"] = []provider.RepoStats{{IsPending: true}}
	a := testAggregator(t, fake)

	if _, err := a.EmailReport(context.Background()); err == nil {
		t.Fatal("EmailReport() error = nil, want poll-budget failure for forever-pending stats")
	}
}

func TestReportFailsWhenOneSubFetchFails(t *testing.T) {
	fake := newFakeClient()
	fake.statsErr = errors.New("upstream down")
	a := testAggregator(t, fake)

	if _, err := a.Report(context.Background()); err == nil {
		t.Fatal("Report() error = nil, want the failed sub-fetch to fail the aggregate")
	}
}

func TestWorkspacesWithDistinctIdentitiesDoNotShareCache(t *testing.T) {
	shared := cache.New(cache.NewMemoryStore())
	p, err := period.Parse("2023-01-08")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	one := newFakeClient()
	one.team = provider.Team{Login: "workspace-one", Name: "Workspace One", Service: provider.ServiceBitbucket}
	two := newFakeClient()
	two.team = provider.Team{Login: "workspace-two", Name: "Workspace Two", Service: provider.ServiceBitbucket}

	newAgg := func(client provider.Client, identity string) *Aggregator {
		return New(Options{
			Client:    client,
			Cache:     shared,
			Identity:  identity,
			Period:    p,
			StatsPoll: poll.Policy{Interval: time.Millisecond, MaxAttempts: 10},
		})
	}
	a1 := newAgg(one, "bitbucket/consumer-key/workspace-one")
	a2 := newAgg(two, "bitbucket/consumer-key/workspace-two")

	if _, err := a1.Report(context.Background()); err != nil {
		t.Fatalf("Report() for workspace-one error = %v", err)
	}
	r2, err := a2.Report(context.Background())
	if err != nil {
		t.Fatalf("Report() for workspace-two error = %v", err)
	}

	// With owner-scoped identities the second workspace must fetch its own
	// data instead of reading the first workspace's cached entries.
	if r2.Team.Login != "workspace-two" {
		t.Errorf("workspace-two report served team %q from the shared cache", r2.Team.Login)
	}
	if got := two.calledTimes("owner"); got != 1 {
		t.Errorf("workspace-two owner fetched %d times, want 1", got)
	}
}

func TestPassthroughOperationsAreCached(t *testing.T) {
	fake := newFakeClient()
	a := testAggregator(t, fake)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := a.Commits(ctx, "widget"); err != nil {
			t.Fatalf("Commits() error = %v", err)
		}
		if _, err := a.AllCommits(ctx); err != nil {
			t.Fatalf("AllCommits() error = %v", err)
		}
		if _, err := a.PRActivity(ctx); err != nil {
			t.Fatalf("PRActivity() error = %v", err)
		}
	}
	for _, op := range []string{"commits/widget", "allcommits", "practivity"} {
		if got := fake.calledTimes(op); got != 1 {
			t.Errorf("%s fetched %d times, want 1", op, got)
		}
	}
}
