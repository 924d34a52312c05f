// Package refresh imports configured ICS feeds into the event store on a
// cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"plancal/internal/ics"
	appLog "plancal/internal/log"
	"plancal/internal/model"
)

// Sink receives the converted events of one feed. store.Store satisfies it.
type Sink interface {
	ReplaceSource(ctx context.Context, sourceID string, events []model.Event) error
}

// Fetcher downloads one feed. ics.Fetcher satisfies it.
type Fetcher interface {
	FetchOne(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

// Config controls a Refresher.
type Config struct {
	// Schedule is a standard five-field cron spec or an @descriptor.
	Schedule string
	// HorizonDays bounds materialized feed occurrences to now ± HorizonDays.
	HorizonDays int
	Location    *time.Location
	Sources     []ics.Source
	// AfterRun, if set, is called after every run that stored anything.
	AfterRun func()
}

// Refresher runs feed imports. Runs never overlap.
type Refresher struct {
	cfg     Config
	fetcher Fetcher
	sink    Sink
	now     func() time.Time

	running sync.Mutex // held for the duration of one import

	mu   sync.Mutex
	cron *cron.Cron
	wg   sync.WaitGroup
}

func New(cfg Config, fetcher Fetcher, sink Sink) *Refresher {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 400
	}
	return &Refresher{cfg: cfg, fetcher: fetcher, sink: sink, now: time.Now}
}

// RunOnce imports every source. A failing source does not stop the others;
// all failures are returned joined.
func (r *Refresher) RunOnce(ctx context.Context) error {
	r.running.Lock()
	defer r.running.Unlock()

	now := r.now().In(r.cfg.Location)
	horizonStart := now.AddDate(0, 0, -r.cfg.HorizonDays)
	horizonEnd := now.AddDate(0, 0, r.cfg.HorizonDays)

	var (
		errs     []error
		imported int
		stored   bool
	)
	for _, src := range r.cfg.Sources {
		if src.Location == nil {
			src.Location = r.cfg.Location
		}
		n, err := r.importSource(ctx, src, horizonStart, horizonEnd)
		if err != nil {
			appLog.Error("feed import failed", err, "id", src.ID)
			errs = append(errs, err)
			continue
		}
		imported += n
		stored = true
	}

	appLog.Info("feed refresh finished",
		"sources", len(r.cfg.Sources),
		"failed", len(errs),
		"events", imported,
	)
	if stored && r.cfg.AfterRun != nil {
		r.cfg.AfterRun()
	}
	return errors.Join(errs...)
}

func (r *Refresher) importSource(ctx context.Context, src ics.Source, horizonStart, horizonEnd time.Time) (int, error) {
	res, err := r.fetcher.FetchOne(ctx, src)
	if err != nil {
		return 0, err
	}
	parsed, err := ics.ParseICS(src, res.Body)
	if err != nil {
		return 0, err
	}
	events, err := ics.ToEvents(parsed, horizonStart, horizonEnd)
	if err != nil {
		return 0, fmt.Errorf("convert %s: %w", src.ID, err)
	}
	if err := r.sink.ReplaceSource(ctx, src.ID, events); err != nil {
		return 0, fmt.Errorf("store %s: %w", src.ID, err)
	}
	return len(events), nil
}

// Start runs one import immediately and then on the configured schedule
// until Stop is called or ctx is done.
func (r *Refresher) Start(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(r.cfg.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(r.cfg.Schedule, func() { r.run(ctx) }); err != nil {
		return fmt.Errorf("refresh: schedule %q: %w", r.cfg.Schedule, err)
	}

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
	c.Start()
	appLog.Info("feed refresh scheduled", "schedule", r.cfg.Schedule, "sources", len(r.cfg.Sources))
	return nil
}

// Stop halts the schedule and waits for a running import to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	r.wg.Wait()
}

func (r *Refresher) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// Errors are already logged per source.
	_ = r.RunOnce(ctx)
}

// cronLogger routes cron's own messages through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
