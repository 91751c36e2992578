package email

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/perbu/teamdigest/internal/period"
	"github.com/perbu/teamdigest/internal/provider"
	"github.com/perbu/teamdigest/internal/report"
)

func testReport(t *testing.T) *report.Report {
	t.Helper()
	p, err := period.Parse("2023-01-08")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	weekUnix := p.Current.Start.Unix()
	merged := time.Date(2023, 1, 11, 0, 0, 0, 0, time.UTC)
	return &report.Report{
		Team:    provider.Team{Login: "acme", Name: "Acme Corp", Service: provider.ServiceGitHub},
		Period:  p,
		Members: []provider.Member{{Login: "alice"}, {Login: "bob"}},
		Repos: []report.RepoReport{
			{
				Repo: provider.Repo{Name: "widget", URL: "https://example.com/widget"},
				Stats: provider.RepoStats{Authors: []provider.AuthorStats{
					{Login: "alice", Commits: []provider.WeekStat{
						{WeekStart: weekUnix - 7*24*3600, Value: 2},
						{WeekStart: weekUnix, Value: 5},
					}},
				}},
				Pulls: []provider.AuthorPulls{
					{Author: "alice", Pulls: []provider.PullRequest{
						{Number: 41, Title: "Add widget", URL: "https://example.com/41", MergedAt: &merged},
					}},
				},
				NewStars: 2,
			},
			{
				// No commits, pulls or stars: omitted from the digest.
				Repo: provider.Repo{Name: "idle", URL: "https://example.com/idle"},
			},
		},
	}
}

func TestComposeBuildsDigest(t *testing.T) {
	c := NewComposer("[digest]")

	msg, err := c.Compose("team@example.com", testReport(t))
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if msg == nil {
		t.Fatal("Compose() = nil, want a digest")
	}
	if msg.To != "team@example.com" {
		t.Errorf("To = %q", msg.To)
	}
	if want := "[digest] Acme Corp activity for the week of January 8, 2023"; msg.Subject != want {
		t.Errorf("Subject = %q, want %q", msg.Subject, want)
	}

	// The idle repo is left out of both renderings.
	for _, body := range []string{msg.HTMLContent, msg.TextContent} {
		if !strings.Contains(body, "widget") {
			t.Error("digest body missing the active repo")
		}
		if strings.Contains(body, "idle") {
			t.Error("digest body contains a repo with no activity")
		}
	}
	if !strings.Contains(msg.HTMLContent, "5 commits") {
		t.Error("HTML body missing the current-week commit count")
	}
	if !strings.Contains(msg.HTMLContent, "image-charts.com") {
		t.Error("HTML body missing the chart image")
	}
	// The markdown highlight list renders as HTML in the HTML body only.
	if !strings.Contains(msg.HTMLContent, "<strong>alice</strong> merged") {
		t.Error("HTML body missing the rendered pull highlight")
	}
	if !strings.Contains(msg.TextContent, "**alice** merged") {
		t.Error("text body missing the markdown pull highlight")
	}
}

func TestComposeDistinguishesClosedFromOpenPulls(t *testing.T) {
	r := testReport(t)
	closed := time.Date(2023, 1, 12, 0, 0, 0, 0, time.UTC)
	r.Repos[0].Pulls = append(r.Repos[0].Pulls, provider.AuthorPulls{
		Author: "bob",
		Pulls: []provider.PullRequest{
			{Number: 42, Title: "Drop legacy endpoint", URL: "https://example.com/42", ClosedAt: &closed, State: "DECLINED"},
			{Number: 43, Title: "Refactor parser", URL: "https://example.com/43", State: "OPEN"},
		},
	})

	msg, err := NewComposer("").Compose("team@example.com", r)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if msg == nil {
		t.Fatal("Compose() = nil, want a digest")
	}
	if !strings.Contains(msg.TextContent, "**bob** closed [#42") {
		t.Error("a closed-unmerged pull should read as closed")
	}
	if !strings.Contains(msg.TextContent, "**bob** opened [#43") {
		t.Error("an open pull should read as opened")
	}
}

func TestComposeReturnsNilForQuietWeek(t *testing.T) {
	c := NewComposer("")
	r := testReport(t)
	r.Repos = r.Repos[1:] // only the idle repo

	msg, err := c.Compose("team@example.com", r)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if msg != nil {
		t.Errorf("Compose() = %+v, want nil for a week with no activity", msg)
	}
}

func TestChartURL(t *testing.T) {
	series := []provider.WeekStat{
		{WeekStart: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).Unix(), Value: 3},
		{WeekStart: time.Date(2023, 1, 8, 0, 0, 0, 0, time.UTC).Unix(), Value: 7},
	}

	raw := ChartURL(series)
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("ChartURL() produced an unparsable URL: %v", err)
	}
	q := u.Query()
	if got := q.Get("chd"); got != "t:3,7" {
		t.Errorf("chd = %q, want t:3,7", got)
	}
	if got := q.Get("chl"); got != "Jan 1|Jan 8" {
		t.Errorf("chl = %q, want week labels", got)
	}
}

func TestSumSeriesAlignsByWeekStart(t *testing.T) {
	w1, w2 := int64(1000), int64(2000)
	authors := []provider.AuthorStats{
		{Login: "alice", Commits: []provider.WeekStat{{WeekStart: w1, Value: 1}, {WeekStart: w2, Value: 2}}},
		// bob's series starts one week later.
		{Login: "bob", Commits: []provider.WeekStat{{WeekStart: w2, Value: 5}}},
	}

	got := sumSeries(authors)
	if len(got) != 2 {
		t.Fatalf("got %d points, want 2", len(got))
	}
	if got[0].WeekStart != w1 || got[0].Value != 1 {
		t.Errorf("first point = %+v", got[0])
	}
	if got[1].WeekStart != w2 || got[1].Value != 7 {
		t.Errorf("second point = %+v, want the two authors summed", got[1])
	}
}

func TestDryRunClientDoesNotFail(t *testing.T) {
	id, err := NewDryRunClient().Send(context.Background(), Email{To: "x@example.com"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if id == "" {
		t.Error("Send() returned an empty message ID")
	}
}
