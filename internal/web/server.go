// Package web exposes the aggregation engine as a JSON API. The front
// controller terminates authentication upstream; this server resolves the
// provider from the request path, builds the right client and forwards the
// aggregator's output.
package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/perbu/teamdigest/internal/cache"
	"github.com/perbu/teamdigest/internal/email"
	"github.com/perbu/teamdigest/internal/period"
	"github.com/perbu/teamdigest/internal/poll"
	"github.com/perbu/teamdigest/internal/provider"
	"github.com/perbu/teamdigest/internal/report"
)

// ClientFactory builds a provider client bound to one team and reporting
// period. The returned identity keys the response cache so callers with
// different credentials never share cached data.
type ClientFactory func(service provider.Service, owner string, p period.Period) (provider.Client, string, error)

// Server is the HTTP server for the JSON API
type Server struct {
	factory   ClientFactory
	cache     *cache.Cache
	sender    email.Sender
	composer  *email.Composer
	mux       *http.ServeMux
	host      string
	port      int
	ttl       time.Duration
	statsPoll poll.Policy
}

// Options configures a Server.
type Options struct {
	Factory   ClientFactory
	Cache     *cache.Cache
	Sender    email.Sender
	Composer  *email.Composer
	Host      string
	Port      int
	TTL       time.Duration
	StatsPoll poll.Policy
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	s := &Server{
		factory:   opts.Factory,
		cache:     opts.Cache,
		sender:    opts.Sender,
		composer:  opts.Composer,
		mux:       http.NewServeMux(),
		host:      opts.Host,
		port:      opts.Port,
		ttl:       opts.TTL,
		statsPoll: opts.StatsPoll,
	}
	s.registerRoutes()
	return s
}

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/{service}/{owner}/report", s.handleReport)
	s.mux.HandleFunc("GET /api/{service}/{owner}/commits", s.handleAllCommits)
	s.mux.HandleFunc("GET /api/{service}/{owner}/pr-activity", s.handlePRActivity)
	s.mux.HandleFunc("GET /api/{service}/{owner}/repos/{repo}/stats", s.handleRepoStats)
	s.mux.HandleFunc("GET /api/{service}/{owner}/repos/{repo}/commits", s.handleRepoCommits)
	s.mux.HandleFunc("POST /api/{service}/{owner}/digest", s.handleDigest)
}

// Handler returns the route handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	slog.Info("starting API server", "address", addr)
	return http.ListenAndServe(addr, s.mux)
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s:%d", s.host, s.port)
}

// aggregatorFor resolves the request path and week parameter into an
// aggregator bound to the right provider client.
func (s *Server) aggregatorFor(r *http.Request) (*report.Aggregator, error) {
	service, err := provider.ParseService(r.PathValue("service"))
	if err != nil {
		return nil, err
	}
	owner := r.PathValue("owner")
	if owner == "" {
		return nil, fmt.Errorf("owner is required")
	}

	var p period.Period
	if week := r.URL.Query().Get("week"); week != "" {
		p, err = period.Parse(week)
	} else {
		p, err = period.New(period.WeekOf(time.Now()))
	}
	if err != nil {
		return nil, err
	}

	client, identity, err := s.factory(service, owner, p)
	if err != nil {
		return nil, err
	}

	return report.New(report.Options{
		Client:    client,
		Cache:     s.cache,
		Identity:  identity,
		Period:    p,
		TTL:       s.ttl,
		StatsPoll: s.statsPoll,
	}), nil
}
