// Package watch provides the polling change-detection loop behind live
// storage tailing: read a cheap version token from SQLite at an interval and
// re-run an action whenever the token moves.
//
//	w := watch.New(db, watch.Options{
//		Interval: 200 * time.Millisecond,
//		Detector: watch.MaxColumnDetector("pages", "rowid"),
//	})
//	w.Run(ctx, func(ctx context.Context) error { return feed.poll(ctx) })
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"
)

// Detector reads a version token from the database. Two calls that return
// different values mean "something changed". int64 maps naturally to rowids,
// pragma counters, or MAX(updated_at) queries.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes the watch loop.
type Options struct {
	// Interval is the polling frequency. Default: 200ms.
	Interval time.Duration
	// Detector reads the version token. Required.
	Detector Detector
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 200 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a SQLite database for changes and runs an action when a
// change is detected.
type Watcher struct {
	db   *sql.DB
	opts Options
}

// New creates a Watcher. Call Run to start the loop.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts}
}

// Run blocks until ctx is cancelled. The action is called once up front,
// then again after every poll that observes a moved version token.
//
// The token is only recorded after the action returns nil, and it starts
// below any real value, so the first tick always re-runs the action: a write
// landing between the initial call and the first poll is picked up, and a
// failed action is retried on the next cycle.
func (w *Watcher) Run(ctx context.Context, action func(context.Context) error) {
	log := w.opts.Logger

	if err := action(ctx); err != nil && ctx.Err() == nil {
		log.Warn("watch: initial action failed", "error", err)
	}
	last := int64(-1)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("watch: version check failed", "error", err)
				}
				continue
			}
			if cur == last {
				continue
			}
			if err := action(ctx); err != nil {
				if ctx.Err() == nil {
					log.Warn("watch: action failed", "error", err)
				}
				continue
			}
			last = cur
		}
	}
}

// MaxColumnDetector returns a Detector that polls MAX(column) on a table.
// Suited to append-only tables keyed by rowid or an increasing timestamp.
// Table and column names are quoted to prevent SQL injection.
func MaxColumnDetector(table, column string) Detector {
	query := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

// quoteIdent wraps a SQL identifier in double quotes, escaping any embedded quotes.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
