package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"micropub/api/internal/app"
	"micropub/api/internal/auth"
	"micropub/api/internal/config"
	"micropub/api/internal/github"
	"micropub/api/internal/gitrepo"
	"micropub/api/internal/logging"
	"micropub/api/internal/media"
	"micropub/api/internal/render"
	"micropub/api/internal/session"
	"micropub/api/internal/store"
	"micropub/api/internal/syndicate"
)

const defaultBranch = "gh-pages"

// rootOptions holds flags shared by every command. Empty values fall back
// to the environment.
type rootOptions struct {
	sitesPath string
	logLevel  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "micropub",
		Short: "Micropub endpoint for Jekyll sites",
		Long:  "Publishes Micropub posts as Jekyll documents committed to GitHub or local git repositories.",
	}
	cmd.PersistentFlags().StringVar(&opts.sitesPath, "sites", "", "sites config file (default $SITES_CONFIG_PATH)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (default $LOG_LEVEL)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSitesCommand(opts))
	cmd.AddCommand(newInitRepoCommand(opts))
	return cmd
}

func (o *rootOptions) load() (config.Config, *slog.Logger) {
	cfg := config.Load()
	if o.sitesPath != "" {
		cfg.SitesPath = o.sitesPath
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, JSON: cfg.LogFormat == "json"})
	return cfg, logger
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the Micropub HTTP server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := rootOpts.load()
			if addr != "" {
				cfg.Addr = addr
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $MICROPUB_ADDR)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	registry, err := config.LoadRegistry(cfg.SitesPath, cfg.SitesInline, logger)
	if err != nil {
		return err
	}
	sites := registry.Sites()

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		return fmt.Errorf("create repos dir: %w", err)
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	renderer, err := render.New(cfg.TemplatesDir)
	if err != nil {
		return err
	}

	var cache auth.Cache
	var redisStore *session.RedisStore
	if cfg.RedisURL != "" {
		logger.Info("caching verified tokens in redis")
		redisStore, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		cache = redisStore
	}
	verifier := auth.NewIntrospector(auth.Config{
		TokenEndpoint:   sites.Micropub.TokenEndpoint,
		Development:     cfg.Development(),
		StaticTokenHash: cfg.StaticTokenHash,
		CacheTTL:        cfg.TokenCacheTTL,
	}, httpClient, cache, logger)

	githubClient, err := github.New(cfg.GitHubAPIURL, cfg.GitHubToken, httpClient)
	if err != nil {
		return err
	}
	opts := app.Options{
		Sites: registry,
		Remotes: map[string]store.Remote{
			config.BackendGitHub: githubClient,
			config.BackendGit:    gitrepo.New(cfg.ReposDir, "Micropub"),
		},
		Renderer: renderer,
		Syndicator: syndicate.NewService(syndicate.Config{
			Endpoint: cfg.BridgyEndpoint,
			Options:  sites.Bridgy,
		}, httpClient, logger),
		Logger: logger,
	}
	mediaCfg := media.Config{
		Endpoint:  cfg.MediaEndpoint,
		AccessKey: cfg.MediaAccessKey,
		SecretKey: cfg.MediaSecretKey,
		UseSSL:    cfg.MediaUseSSL,
	}
	if mediaCfg.IsConfigured() {
		mediaStore, err := media.NewStore(mediaCfg)
		if err != nil {
			return err
		}
		opts.Media = mediaStore
	}
	service := app.NewService(opts)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := registry.Watch(ctx); err != nil {
			logger.Warn("sites config watcher stopped", "error", err)
		}
	}()

	httpServer := app.NewHTTPServer(service, verifier, logger)
	if redisStore != nil {
		httpServer.AddHealthCheck("token_cache", redisStore.Ping)
	}
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("micropub listening", "addr", cfg.Addr, "sites", len(sites.Sites))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newSitesCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "sites",
		Short:        "Validate the sites config and list its sites",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := rootOpts.load()
			sites, err := config.ReadSites(cfg.SitesPath, cfg.SitesInline)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SITE\tBACKEND\tREPOSITORY\tURL")
			for _, name := range sites.Names() {
				site, _ := sites.Site(name)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, site.Backend, site.GitHubRepo, site.SiteURL)
			}
			return w.Flush()
		},
	}
}

func newInitRepoCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "init-repo <site>",
		Short:        "Create the local repository of a git backed site",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := rootOpts.load()
			sites, err := config.ReadSites(cfg.SitesPath, cfg.SitesInline)
			if err != nil {
				return err
			}
			site, ok := sites.Site(args[0])
			if !ok {
				return fmt.Errorf("unknown site %q", args[0])
			}
			if site.Backend != config.BackendGit {
				return fmt.Errorf("site %q uses the %s backend", args[0], site.Backend)
			}
			branch := site.Branch
			if branch == "" {
				branch = defaultBranch
			}
			if err := gitrepo.New(cfg.ReposDir, "Micropub").EnsureRepo(site.GitHubRepo, branch); err != nil {
				return err
			}
			logger.Info("repository ready", "site", args[0], "repo", site.GitHubRepo, "branch", branch)
			return nil
		},
	}
}
