package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/perbu/teamdigest/internal/cache"
	"github.com/perbu/teamdigest/internal/config"
	"github.com/perbu/teamdigest/internal/email"
	"github.com/perbu/teamdigest/internal/period"
	"github.com/perbu/teamdigest/internal/provider"
	"github.com/perbu/teamdigest/internal/report"
	"github.com/perbu/teamdigest/internal/token"
	"github.com/perbu/teamdigest/internal/web"
)

//go:embed .version
var version string

// setupLogger configures the global slog logger based on debug setting
func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if present (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	var (
		port       = flag.Int("port", 0, "Port to listen on (overrides config)")
		host       = flag.String("host", "", "Host to bind to (overrides config)")
		configPath = flag.String("config", "", "Config file path")
		dataDir    = flag.String("data-dir", "", "Data directory")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		showVer    = flag.Bool("version", false, "Show version")

		// One-shot digest mode: send and exit instead of serving.
		digestTo = flag.String("digest-to", "", "Send the weekly digest to this address and exit")
		service  = flag.String("service", "github", "Provider for -digest-to (github or bitbucket)")
		owner    = flag.String("owner", "", "Team or workspace for -digest-to")
		week     = flag.String("week", "", "Week start (YYYY-MM-DD, a Sunday) for -digest-to, default current week")
	)
	flag.Parse()

	if *showVer {
		fmt.Println(strings.TrimSpace(version))
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *host != "" {
		cfg.Web.Host = *host
	}
	if *port != 0 {
		cfg.Web.Port = *port
	}
	if *debug {
		cfg.Debug = true
	}

	setupLogger(cfg.Debug)
	slog.Info("starting teamdigest", "version", strings.TrimSpace(version))

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	creds := web.Credentials{
		BitbucketClientID:     cfg.GetBitbucketClientID(),
		BitbucketClientSecret: cfg.GetBitbucketClientSecret(),
		BitbucketRefreshToken: cfg.GetBitbucketRefreshToken(),
	}
	if cfg.HasGitHubApp() {
		key, err := cfg.GetGitHubPrivateKey()
		if err != nil {
			return fmt.Errorf("failed to get GitHub App private key: %w", err)
		}
		creds.GitHubAppID = cfg.GetGitHubAppID()
		creds.GitHubPrivateKey = key
	}

	factory := web.NewClientFactory(creds, token.NewBroker())
	responseCache := cache.New(store)
	composer := email.NewComposer(cfg.Email.SubjectPrefix)

	var sender email.Sender
	if apiKey := cfg.GetSendGridAPIKey(); apiKey != "" && !cfg.Email.DryRun {
		sender = email.NewClient(apiKey, cfg.Email.FromEmail, cfg.Email.FromName)
	} else {
		sender = email.NewDryRunClient()
	}

	if *digestTo != "" {
		return sendDigest(cfg, factory, responseCache, composer, sender, *service, *owner, *week, *digestTo)
	}

	server := web.NewServer(web.Options{
		Factory:   factory,
		Cache:     responseCache,
		Sender:    sender,
		Composer:  composer,
		Host:      cfg.Web.Host,
		Port:      cfg.Web.Port,
		TTL:       cfg.CacheTTL(),
		StatsPoll: cfg.PollPolicy(),
	})

	slog.Info("starting web server", "address", server.Address())
	return server.Start()
}

// openStore opens the configured cache backend.
func openStore(cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemoryStore(), nil
	case "postgres":
		dsn := cfg.GetPostgresDSN()
		if dsn == "" {
			return nil, fmt.Errorf("cache backend is postgres but no DSN is configured")
		}
		return cache.OpenPostgres(dsn)
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data directory must be specified via --data-dir flag or config file")
		}
		if err := cfg.EnsureDataDir(); err != nil {
			return nil, err
		}
		return cache.OpenSQLite(cfg.DataDir)
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
}

// sendDigest runs the one-shot digest mode: assemble a fully resolved report
// and email it.
func sendDigest(cfg *config.Config, factory web.ClientFactory, responseCache *cache.Cache, composer *email.Composer, sender email.Sender, service, owner, week, to string) error {
	if owner == "" {
		return fmt.Errorf("-digest-to requires -owner")
	}
	svc, err := provider.ParseService(service)
	if err != nil {
		return err
	}

	var p period.Period
	if week != "" {
		p, err = period.Parse(week)
	} else {
		p, err = period.New(period.WeekOf(time.Now()))
	}
	if err != nil {
		return err
	}

	client, identity, err := factory(svc, owner, p)
	if err != nil {
		return err
	}

	agg := report.New(report.Options{
		Client:    client,
		Cache:     responseCache,
		Identity:  identity,
		Period:    p,
		TTL:       cfg.CacheTTL(),
		StatsPoll: cfg.PollPolicy(),
	})

	ctx := context.Background()
	rep, err := agg.EmailReport(ctx)
	if err != nil {
		return fmt.Errorf("failed to assemble report: %w", err)
	}

	msg, err := composer.Compose(to, rep)
	if err != nil {
		return fmt.Errorf("failed to compose digest: %w", err)
	}
	if msg == nil {
		slog.Info("no activity this week, nothing to send", "owner", owner)
		return nil
	}

	id, err := sender.Send(ctx, *msg)
	if err != nil {
		return fmt.Errorf("failed to send digest: %w", err)
	}
	slog.Info("digest sent", "to", to, "messageId", id)
	return nil
}
