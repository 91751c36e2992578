// Package github implements the provider contract against the GitHub REST
// and GraphQL APIs. REST endpoints paginate through Link response headers;
// GraphQL is a single POST whose errors arrive inside a 200 response body.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/perbu/teamdigest/internal/page"
	"github.com/perbu/teamdigest/internal/period"
	"github.com/perbu/teamdigest/internal/poll"
)

// DefaultBaseURL is the GitHub REST API root.
const DefaultBaseURL = "https://api.github.com"

// TokenFunc resolves a live access token for the request being made.
type TokenFunc func(ctx context.Context) (string, error)

// Client fetches one organization's activity for one reporting period.
type Client struct {
	owner      string
	period     period.Period
	token      TokenFunc
	httpClient *http.Client
	baseURL    string
	statsPoll  poll.Policy
}

// Options configures a Client. BaseURL and HTTPClient exist for tests;
// StatsPoll bounds the short in-call poll of the contributor statistics job.
type Options struct {
	Owner      string
	Period     period.Period
	Token      TokenFunc
	BaseURL    string
	HTTPClient *http.Client
	StatsPoll  poll.Policy
}

// New creates a GitHub client.
func New(opts Options) *Client {
	c := &Client{
		owner:      opts.Owner,
		period:     opts.Period,
		token:      opts.Token,
		httpClient: opts.HTTPClient,
		baseURL:    opts.BaseURL,
		statsPoll:  opts.StatsPoll,
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.statsPoll.Interval <= 0 {
		c.statsPoll.Interval = poll.DefaultInterval
	}
	if c.statsPoll.MaxAttempts <= 0 {
		c.statsPoll.MaxAttempts = defaultStatsAttempts
	}
	return c
}

// defaultStatsAttempts bounds the in-call statistics poll: enough for the
// common 202-then-200 sequence to resolve invisibly, short enough that a slow
// job surfaces as pending instead of stalling a dashboard request.
const defaultStatsAttempts = 3

// get performs an authenticated GET and decodes the JSON body into out.
// The returned header gives callers access to pagination metadata.
func (c *Client) get(ctx context.Context, rawURL string, accept string, out any) (http.Header, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	tok, err := c.token(ctx)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if accept == "" {
		accept = "application/vnd.github+json"
	}
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request to %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, 0, fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
			}
		}
		return resp.Header, resp.StatusCode, nil
	case http.StatusAccepted, http.StatusNoContent:
		io.Copy(io.Discard, resp.Body)
		return resp.Header, resp.StatusCode, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, resp.StatusCode, fmt.Errorf("GET %s returned status %d: %s", rawURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// restURL builds a first-page URL for a REST path and query.
func (c *Client) restURL(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// restPage adapts one REST listing to the pagination engine: the cursor is
// the page URL taken from the Link header rels. An endpoint answering without
// a Link header yields a page with no cursors, which every walk treats as a
// single complete page.
func restPage[T any](c *Client, firstURL string, accept string) page.FetchFunc[T] {
	return func(ctx context.Context, cursor page.Cursor) (page.Page[T], error) {
		u := firstURL
		if cursor != "" {
			u = string(cursor)
		}
		var items []T
		header, _, err := c.get(ctx, u, accept, &items)
		if err != nil {
			return page.Page[T]{}, err
		}
		links := parseLinkHeader(header.Get("Link"))
		return page.Page[T]{
			Items: items,
			Next:  page.Cursor(links["next"]),
			Prev:  page.Cursor(links["prev"]),
			Last:  page.Cursor(links["last"]),
		}, nil
	}
}

// parseLinkHeader extracts the rel => URL pairs from a GitHub Link header,
// e.g. `<https://api.github.com/...?page=2>; rel="next"`. A malformed or
// absent header yields an empty map, which downstream treats as a single
// page rather than an error.
func parseLinkHeader(header string) map[string]string {
	links := make(map[string]string)
	if header == "" {
		return links
	}
	for _, part := range strings.Split(header, ",") {
		urlPart, relPart, ok := strings.Cut(part, ";")
		if !ok {
			continue
		}
		u := strings.TrimSpace(urlPart)
		if !strings.HasPrefix(u, "<") || !strings.HasSuffix(u, ">") {
			continue
		}
		rel := strings.TrimSpace(relPart)
		rel = strings.TrimPrefix(rel, `rel="`)
		rel = strings.TrimSuffix(rel, `"`)
		links[rel] = strings.Trim(u, "<>")
	}
	return links
}
