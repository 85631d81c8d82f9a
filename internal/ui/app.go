package ui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"irclog/internal/common"
	"irclog/internal/history"
	"irclog/internal/record"
	"irclog/internal/search"
	"irclog/internal/segments"
)

// App wires the configured account with a search engine.
type App struct {
	Config  Config
	Logger  *zap.Logger
	Account *history.Account
	Scanner *search.Scanner

	Registry *prometheus.Registry
	Metrics  *Metrics
}

func NewApp(cfg Config, logger *zap.Logger) (*App, error) {
	opts := []search.Option{search.WithWorkers(cfg.Concurrency)}
	if cfg.CacheSegments > 0 {
		cache, err := search.NewSegmentCache(cfg.CacheSegments, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, search.WithCache(cache))
	}

	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Account:  history.NewAccount(cfg.LogsRoot, cfg.Account, time.Now, logger),
		Scanner:  search.NewScanner(logger, opts...),
		Registry: reg,
		Metrics:  metrics,
	}, nil
}

// Appended describes where a message went.
type Appended struct {
	Segment segments.Segment
	Message record.Message
	Pending int // messages of the channel not committed yet
}

// Append adds a message to the channel, rotating its active segment if the day changed.
func (a *App) Append(channel string, m record.Message, commit bool) (Appended, error) {
	ch, err := a.Account.Channel(channel)
	if err != nil {
		return Appended{}, err
	}
	seg, stored, err := ch.Append(m)
	if err != nil {
		return Appended{}, err
	}
	a.Metrics.observeAppend()
	if commit {
		err = ch.Commit()
		a.Metrics.observeCommit(err)
		if err != nil {
			return Appended{}, err
		}
	}
	return Appended{Segment: seg, Message: stored, Pending: ch.Pending()}, nil
}

// Search scans every segment of the account and blocks until the scan is over.
func (a *App) Search(ctx context.Context, q search.Query, consumer search.Consumer, progress search.ProgressFunc) error {
	scope, err := a.Account.Scope()
	if err != nil {
		return fmt.Errorf("search scope: %w", err)
	}
	started, scanned := time.Now(), 0
	h, err := a.Scanner.Search(ctx, scope, q, consumer, func(done, total int) {
		scanned = done
		if progress != nil {
			progress(done, total)
		}
	})
	if err == nil {
		err = h.Wait()
	}
	a.Metrics.observeSearch(time.Since(started), scanned, err)
	return err
}

// Serve runs the HTTP API until ctx is done.
// Meanwhile pending messages are committed periodically and segment lists follow the disk.
func (a *App) Serve(ctx context.Context) error {
	w, err := segments.NewWatcher(a.Config.WatchDebounce(), a.Logger)
	if err != nil {
		return err
	}
	defer w.Close()
	if err = a.Account.Watch(w); err != nil {
		return err
	}
	go w.Run(ctx)

	common.RepeatEvery(ctx, a.Config.CommitInterval(), func() {
		err := a.Account.Commit()
		a.Metrics.observeCommit(err)
		if err != nil {
			a.Logger.Error("commit failed", zap.Error(err))
		}
	})

	a.Logger.Info("listening", zap.String("addr", a.Config.HttpAddr))
	err = NewHttpApp(ctx, a).Listen(a.Config.HttpAddr)

	// whatever arrived after the last tick
	return errors.Join(err, a.Account.Commit())
}
