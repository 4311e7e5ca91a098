package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"matimeline/internal/api"
	"matimeline/internal/config"
	"matimeline/internal/i18n"
	"matimeline/internal/ics"
	appLog "matimeline/internal/log"
	"matimeline/internal/model"
	"matimeline/internal/refresh"
	"matimeline/internal/session"
	"matimeline/internal/source"
	"matimeline/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	exportUser string
}

func main() {
	flags := parseFlags()

	if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		appLog.Error("failed to load env file", err, "path", flags.envFile)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(os.LookupEnv)

	// CLI --listen overrides config file and env.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("matimeline starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"users", len(conf.Users),
		"upstream", conf.Upstream.URL != "",
		"products_file", conf.ProductsFile,
		"feed_count", len(conf.Feeds),
		"expand_recurrence", conf.ExpandRecurrence,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	catalog, err := i18n.Load()
	if err != nil {
		appLog.Error("failed to load locale catalogs", err)
		os.Exit(1)
	}

	src, client, err := buildSource(ctx, conf)
	if err != nil {
		appLog.Error("failed to set up product sources", err)
		os.Exit(1)
	}

	refresher := refresh.New(src, conf.Users, nil)
	if err := refresher.RefreshAll(ctx); err != nil {
		appLog.Error("initial refresh had failures", err)
	}

	if flags.exportUser != "" {
		if err := exportCalendar(ctx, refresher, flags.exportUser); err != nil {
			appLog.Error("export failed", err, "user", flags.exportUser)
			os.Exit(1)
		}
		return
	}
	if flags.once {
		appLog.Info("matimeline exiting after single refresh")
		return
	}

	loc := resolveLocation(conf.Timezone)
	if err := refresher.Start(ctx, conf.RefreshCron, loc); err != nil {
		appLog.Error("failed to start refresh scheduler", err)
		os.Exit(1)
	}

	opts := web.Options{Config: conf, Source: refresher, Catalog: catalog}
	if client != nil {
		opts.Upstream = client
	}
	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("http shutdown failed", err)
		}
	}()

	appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("http server failed", err)
		os.Exit(1)
	}

	if client != nil {
		logoutCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Logout(logoutCtx); err != nil {
			appLog.Error("upstream logout failed", err)
		}
		stop()
	}
	appLog.Info("matimeline exiting")
}

// buildSource combines every configured product source. The upstream
// client is returned separately so that it can also serve edits.
func buildSource(ctx context.Context, conf *config.Config) (source.Source, *api.Client, error) {
	var (
		multi  source.Multi
		client *api.Client
	)

	if conf.Upstream.URL != "" {
		c, err := api.New(api.Options{
			BaseURL:  conf.Upstream.URL,
			Timeout:  time.Duration(conf.Upstream.TimeoutSeconds) * time.Second,
			RetryMax: conf.Upstream.RetryMax,
		}, session.NewStore(nil))
		if err != nil {
			return nil, nil, err
		}
		if conf.Upstream.Username != "" {
			s, err := c.Login(ctx, model.Credentials{
				Username: conf.Upstream.Username,
				Password: conf.Upstream.Password,
			})
			if err != nil {
				return nil, nil, err
			}
			appLog.Info("upstream session opened", "user", s.User.Username, "expires_at", s.ExpiresAt)
		}
		client = c
		multi = append(multi, c)
	}

	if conf.ProductsFile != "" {
		multi = append(multi, source.NewFileSource(conf.ProductsFile))
	}

	if len(conf.Feeds) > 0 {
		feeds := make([]source.Feed, 0, len(conf.Feeds))
		for _, f := range conf.Feeds {
			feeds = append(feeds, source.Feed{
				User:      f.User,
				ProductID: f.ProductID,
				Name:      f.Name,
				Category:  model.Category{ID: f.Category, Name: f.Category},
				Location:  f.Location,
			})
		}
		timeout := time.Duration(conf.Upstream.TimeoutSeconds) * time.Second
		multi = append(multi, source.NewICSSource(feeds, ics.NewFetcher(timeout)))
	}

	if len(multi) == 0 {
		return nil, nil, errors.New("no product source configured (upstream.url, products_file or feeds)")
	}
	return multi, client, nil
}

func exportCalendar(ctx context.Context, src source.Source, userID string) error {
	products, err := src.Products(ctx, userID)
	if err != nil {
		return err
	}
	_, err = os.Stdout.WriteString(ics.Export(products, ics.ExportOptions{Name: "matimeline " + userID}))
	return err
}

func resolveLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/matimeline/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Path to .env file with MATIMELINE_* overrides")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh every configured user once and exit")
	flag.StringVar(&cfg.exportUser, "export", "", "Write the ICS feed of this user to stdout and exit")

	flag.Parse()

	return cfg
}
