package email

import (
	"fmt"
	"strings"

	"github.com/perbu/teamdigest/internal/provider"
	"github.com/perbu/teamdigest/internal/report"
)

// Composer builds the weekly digest email from a fully resolved report.
type Composer struct {
	subjectPrefix string
}

// NewComposer creates a digest composer.
func NewComposer(subjectPrefix string) *Composer {
	return &Composer{subjectPrefix: subjectPrefix}
}

// Compose renders the digest for one recipient. The report must come from
// EmailReport: pending statistics rows would render as empty sections.
// Returns nil when no repository saw any activity this week.
func (c *Composer) Compose(recipient string, r *report.Report) (*Email, error) {
	sections := make([]RepoSection, 0, len(r.Repos))
	for _, repo := range r.Repos {
		commits := currentWeekCommits(repo.Stats.Authors)
		pulls := 0
		for _, g := range repo.Pulls {
			pulls += len(g.Pulls)
		}
		if commits == 0 && pulls == 0 && repo.NewStars == 0 {
			continue
		}

		highlights := pullHighlights(repo)
		highlightsHTML, err := MarkdownToHTML(highlights)
		if err != nil {
			highlightsHTML = ""
		}

		sections = append(sections, RepoSection{
			RepoName:       repo.Name,
			URL:            repo.URL,
			CommitCount:    commits,
			PullCount:      pulls,
			NewStars:       repo.NewStars,
			ChartURL:       ChartURL(sumSeries(repo.Stats.Authors)),
			Highlights:     highlights,
			HighlightsHTML: highlightsHTML,
		})
	}
	if len(sections) == 0 {
		return nil, nil
	}

	data := &DigestData{
		TeamName:    r.Team.Name,
		WeekLabel:   r.Period.Current.Start.Format("January 2, 2006"),
		MemberCount: len(r.Members),
		Sections:    sections,
	}

	htmlContent, err := RenderHTML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to render HTML: %w", err)
	}
	textContent, err := RenderText(data)
	if err != nil {
		return nil, fmt.Errorf("failed to render text: %w", err)
	}

	return &Email{
		To:          recipient,
		Subject:     c.subject(data),
		HTMLContent: htmlContent,
		TextContent: textContent,
	}, nil
}

func (c *Composer) subject(data *DigestData) string {
	s := fmt.Sprintf("%s activity for the week of %s", data.TeamName, data.WeekLabel)
	if c.subjectPrefix != "" {
		s = c.subjectPrefix + " " + s
	}
	return s
}

// pullHighlights renders a repo's pull requests as a markdown list. A pull
// closed without merging (declined on Bitbucket) reads "closed", not
// "opened".
func pullHighlights(repo report.RepoReport) string {
	var b strings.Builder
	for _, g := range repo.Pulls {
		for _, pr := range g.Pulls {
			verb := "opened"
			switch {
			case pr.MergedAt != nil:
				verb = "merged"
			case pr.ClosedAt != nil:
				verb = "closed"
			}
			fmt.Fprintf(&b, "- **%s** %s [#%d %s](%s)\n", g.Author, verb, pr.Number, pr.Title, pr.URL)
		}
	}
	return b.String()
}

// currentWeekCommits sums the newest point of every author's commit series.
func currentWeekCommits(authors []provider.AuthorStats) int {
	total := 0
	for _, a := range authors {
		if len(a.Commits) > 0 {
			total += a.Commits[len(a.Commits)-1].Value
		}
	}
	return total
}
