package email

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/perbu/teamdigest/internal/provider"
)

// chartBaseURL is the third-party chart renderer the digest embeds images
// from. Only the URL is built here; the rendering happens in the recipient's
// mail client.
const chartBaseURL = "https://image-charts.com/chart"

// ChartURL builds an image URL for a weekly commit series: one bar per stat
// week, labelled with the week-start date.
func ChartURL(series []provider.WeekStat) string {
	values := make([]string, len(series))
	labels := make([]string, len(series))
	for i, p := range series {
		values[i] = strconv.Itoa(p.Value)
		labels[i] = time.Unix(p.WeekStart, 0).UTC().Format("Jan 2")
	}

	query := url.Values{
		"cht": {"bvs"},
		"chs": {"600x200"},
		"chd": {"t:" + strings.Join(values, ",")},
		"chl": {strings.Join(labels, "|")},
		"chco": {"3498db"},
	}
	return chartBaseURL + "?" + query.Encode()
}

// sumSeries merges every author's weekly commits into one team-wide series.
// Points are aligned by week start, not by position.
func sumSeries(authors []provider.AuthorStats) []provider.WeekStat {
	var order []int64
	totals := make(map[int64]int)
	for _, a := range authors {
		for _, p := range a.Commits {
			if _, seen := totals[p.WeekStart]; !seen {
				order = append(order, p.WeekStart)
			}
			totals[p.WeekStart] += p.Value
		}
	}

	out := make([]provider.WeekStat, len(order))
	for i, ws := range order {
		out[i] = provider.WeekStat{WeekStart: ws, Value: totals[ws]}
	}
	return out
}
