package email

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
)

// RepoSection represents a section of the digest for a single repository
type RepoSection struct {
	RepoName       string
	URL            string
	CommitCount    int
	PullCount      int
	NewStars       int
	ChartURL       string
	Highlights     string
	HighlightsHTML template.HTML
}

// DigestData holds all data needed to render a digest
type DigestData struct {
	TeamName    string
	WeekLabel   string
	MemberCount int
	Sections    []RepoSection
}

var htmlTemplate = template.Must(template.New("html").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Weekly Digest</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, sans-serif;
            line-height: 1.6;
            color: #333;
            max-width: 700px;
            margin: 0 auto;
            padding: 20px;
        }
        h1 {
            color: #2c3e50;
            border-bottom: 2px solid #3498db;
            padding-bottom: 10px;
        }
        h2 {
            color: #2980b9;
            margin-top: 30px;
        }
        .repo-section {
            background: #f8f9fa;
            border-left: 4px solid #3498db;
            padding: 15px 20px;
            margin: 20px 0;
        }
        .meta {
            color: #666;
            font-size: 0.9em;
            margin-bottom: 15px;
        }
        .chart img {
            max-width: 100%;
        }
        .footer {
            margin-top: 40px;
            padding-top: 20px;
            border-top: 1px solid #ddd;
            color: #666;
            font-size: 0.85em;
        }
    </style>
</head>
<body>
    <h1>{{.TeamName}} &mdash; week of {{.WeekLabel}}</h1>
    {{range .Sections}}
    <div class="repo-section">
        <h2><a href="{{.URL}}">{{.RepoName}}</a></h2>
        <div class="meta">
            {{.CommitCount}} commits &middot; {{.PullCount}} pull requests{{if .NewStars}} &middot; {{.NewStars}} new stars{{end}}
        </div>
        <div class="chart"><img src="{{.ChartURL}}" alt="weekly commits"></div>
        <div class="highlights">
            {{.HighlightsHTML}}
        </div>
    </div>
    {{end}}
    <div class="footer">
        <p>This digest covers {{.MemberCount}} team members.</p>
    </div>
</body>
</html>`))

var textTemplate = template.Must(template.New("text").Parse(`{{.TeamName}} - WEEK OF {{.WeekLabel}}
================================

{{range .Sections}}
## {{.RepoName}}

{{.CommitCount}} commits, {{.PullCount}} pull requests{{if .NewStars}}, {{.NewStars}} new stars{{end}}

{{.Highlights}}
---
{{end}}

This digest covers {{.MemberCount}} team members.
`))

// RenderHTML renders the digest as HTML
func RenderHTML(data *DigestData) (string, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderText renders the digest as plain text
func RenderText(data *DigestData) (string, error) {
	var buf bytes.Buffer
	if err := textTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// MarkdownToHTML converts markdown text to HTML
func MarkdownToHTML(markdown string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
