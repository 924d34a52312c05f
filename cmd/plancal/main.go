package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"plancal/internal/capture"
	"plancal/internal/config"
	"plancal/internal/ics"
	appLog "plancal/internal/log"
	"plancal/internal/refresh"
	"plancal/internal/store"
	"plancal/internal/web"
)

var version = "0.1.0-dev"

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	snapshot   bool
}

func main() {
	flags := parseFlags()
	if err := run(flags); err != nil {
		appLog.Error("plancal failed", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Sync()
}

func run(flags flagConfig) error {
	if err := config.LoadDotEnv(flags.envFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	conf.ApplyEnv()
	// CLI --listen overrides config and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := appLog.Configure(appLog.Level(strings.ToUpper(conf.Log.Level)), conf.Log.Format); err != nil {
		return err
	}

	appLog.Info("plancal starting",
		"version", version,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"density", conf.Density,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"feeds", len(conf.Feeds),
		"once", flags.once,
		"snapshot", flags.snapshot,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, conf.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("invalid timezone, falling back to local", err, "timezone", conf.Timezone)
		loc = time.Local
	}

	srv := web.NewServer(conf, st)
	refresher := refresh.New(refresh.Config{
		Schedule:    conf.RefreshCron,
		HorizonDays: conf.HorizonDays,
		Location:    loc,
		Sources:     sources(conf.Feeds, loc),
		AfterRun:    srv.Purge,
	}, ics.NewFetcher(conf.CacheDir, &http.Client{Timeout: 30 * time.Second}), st)

	switch {
	case flags.once:
		return refresher.RunOnce(ctx)
	case flags.snapshot:
		return snapshot(ctx, conf, st)
	}

	if err := refresher.Start(ctx); err != nil {
		return err
	}
	defer refresher.Stop()

	err = srv.ListenAndServe(ctx)
	appLog.Info("plancal exiting")
	return err
}

func sources(feeds []config.FeedConfig, loc *time.Location) []ics.Source {
	out := make([]ics.Source, 0, len(feeds))
	for _, f := range feeds {
		if f.URL == "" {
			continue
		}
		out = append(out, ics.Source{
			ID:       f.SourceID(),
			URL:      f.URL,
			PlanType: f.PlanType,
			Project:  f.Project,
			Location: loc,
		})
	}
	return out
}

// snapshot serves the calendar on a loopback port without auth and captures
// it to conf.Preview.Output.
func snapshot(ctx context.Context, conf *config.Config, st *store.Store) error {
	local := *conf
	local.BasicAuth = nil

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("snapshot listen: %w", err)
	}
	hs := &http.Server{Handler: web.NewServer(&local, st).Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("snapshot server stopped", err)
		}
	}()
	defer hs.Close()

	return capture.CalendarPNG(ctx, capture.Options{
		URL:        "http://" + ln.Addr().String() + "/calendar",
		OutputPath: conf.Preview.Output,
		Width:      conf.Preview.Width,
		Height:     conf.Preview.Height,
	})
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Optional KEY=VALUE file loaded before the config")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Import all feeds once and exit")
	flag.BoolVar(&cfg.snapshot, "snapshot", false, "Capture the current month to the preview PNG and exit")

	flag.Parse()

	return cfg
}
