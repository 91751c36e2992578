// Package provider defines the common contract the GitHub and Bitbucket
// clients implement, plus the report data model they produce. The aggregator
// only ever sees this contract; which provider serves a team is decided once,
// from the service discriminant stored with the team.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Service identifies the upstream source-control host for a team.
type Service string

const (
	ServiceGitHub    Service = "github"
	ServiceBitbucket Service = "bitbucket"
)

// ParseService validates a service discriminant.
func ParseService(s string) (Service, error) {
	switch Service(s) {
	case ServiceGitHub, ServiceBitbucket:
		return Service(s), nil
	}
	return "", fmt.Errorf("unknown service %q", s)
}

// Team describes the organization or workspace a report covers.
type Team struct {
	Login   string  `json:"login"`
	Name    string  `json:"name"`
	Avatar  string  `json:"avatar"`
	Service Service `json:"service"`
}

// Repo is one repository. A repo appears in a report only when updated after
// the start of the previous reporting week.
type Repo struct {
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	Private     bool      `json:"isPrivate"`
	Fork        bool      `json:"isFork"`
	Stargazers  int       `json:"stargazers"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Member is one team member.
type Member struct {
	Login  string `json:"login"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// CommitRecord is a single commit.
type CommitRecord struct {
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
	SHA     string    `json:"sha"`
}

// RepoCommits groups one author's commits within a repository.
type RepoCommits struct {
	Author  string         `json:"author"`
	Commits []CommitRecord `json:"commits"`
}

// RepoCommitList is the per-repository entry of an all-commits listing.
type RepoCommitList struct {
	Repo    string        `json:"repo"`
	Commits []RepoCommits `json:"commits"`
}

// Comment is a pull-request comment.
type Comment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// CommitRef is a lightweight reference to a commit inside a pull request.
type CommitRef struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
}

// PullRequest is one pull request with its nested activity.
type PullRequest struct {
	Author    string      `json:"author"`
	Title     string      `json:"title"`
	Number    int         `json:"number"`
	CreatedAt time.Time   `json:"createdAt"`
	MergedAt  *time.Time  `json:"mergedAt"`
	ClosedAt  *time.Time  `json:"closedAt"`
	State     string      `json:"state"`
	URL       string      `json:"url"`
	Comments  []Comment   `json:"comments"`
	Commits   []CommitRef `json:"commits"`
}

// AuthorPulls groups pull requests by author within one repository.
type AuthorPulls struct {
	Author string        `json:"author"`
	Pulls  []PullRequest `json:"pulls"`
}

// RepoPulls groups pull requests by repository across a team.
type RepoPulls struct {
	Repo  string        `json:"repo"`
	Pulls []PullRequest `json:"pulls"`
}

// WeekStat is one data point of a weekly series.
type WeekStat struct {
	WeekStart int64 `json:"weekStartUnix"`
	Value     int   `json:"value"`
}

// AuthorStats is one author's weekly series within a repository.
type AuthorStats struct {
	Login        string     `json:"login"`
	Commits      []WeekStat `json:"commits"`
	LinesAdded   []WeekStat `json:"linesAdded"`
	LinesDeleted []WeekStat `json:"linesDeleted"`
}

// RepoStats is a repository's contributor statistics over the trailing
// reporting weeks. IsPending is a valid intermediate state, not an error: the
// provider is still computing and the caller should ask again.
type RepoStats struct {
	IsPending bool          `json:"isPending"`
	Authors   []AuthorStats `json:"authors,omitempty"`
}

// Client is the provider-agnostic fetching contract.
type Client interface {
	// OwnerInfo fetches the team this client is bound to.
	OwnerInfo(ctx context.Context) (Team, error)
	// Repos fetches the repositories updated after the start of the previous
	// reporting week.
	Repos(ctx context.Context) ([]Repo, error)
	// Members fetches the team members.
	Members(ctx context.Context) ([]Member, error)
	// Statistics fetches per-author weekly statistics for one repository.
	// The result may be pending when the provider computes statistics
	// asynchronously.
	Statistics(ctx context.Context, repo string) (RepoStats, error)
	// Commits fetches the current week's commits for one repository, grouped
	// by author.
	Commits(ctx context.Context, repo string) ([]RepoCommits, error)
	// AllCommits fetches the current week's commits for every report-eligible
	// repository.
	AllCommits(ctx context.Context) ([]RepoCommitList, error)
	// NewStars counts the stars a repository gained during the current
	// reporting week. Providers without a star concept report zero.
	NewStars(ctx context.Context, repo string) (int, error)
	// Pulls fetches one repository's recent pull requests grouped by author.
	Pulls(ctx context.Context, repo string) ([]AuthorPulls, error)
	// PRActivity fetches recent pull requests across the team, grouped by
	// repository.
	PRActivity(ctx context.Context) ([]RepoPulls, error)
}
