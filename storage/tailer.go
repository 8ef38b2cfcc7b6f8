package storage

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/thezedwards/arachnado/query"
	"github.com/thezedwards/arachnado/watch"
)

// NotifyFunc receives one change notification from a Tailer. The event name
// is fixed per feed ("jobs.tailed" or "pages.tailed"); data is the wire
// payload of the row.
type NotifyFunc func(event string, data map[string]any)

// tailRow is one row in tailing order.
type tailRow struct {
	rowid int64
	data  map[string]any
}

// listFunc reads rows stored after a position that match the predicate.
type listFunc func(ctx context.Context, afterRowID int64, q query.Query) ([]tailRow, error)

// TailOption configures a Tailer.
type TailOption func(*Tailer)

// WithTailInterval sets the change-detection poll interval. Default: 200ms.
func WithTailInterval(d time.Duration) TailOption {
	return func(t *Tailer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithTailLogger sets a custom logger.
func WithTailLogger(l *slog.Logger) TailOption {
	return func(t *Tailer) { t.logger = l }
}

// Tailer watches a store under a predicate and streams each newly visible
// matching row to a notify callback. On Subscribe it first delivers the
// already-matching backlog, then rows as they are written.
//
// Notifications are delivered one at a time in rowid order. Stop never
// blocks, so it is safe to call from inside the notify callback's consumer:
// after Stop returns no new delivery starts, but one notification already in
// flight may still arrive. Consumers that need a hard cut-off drop
// notifications for cancelled subscriptions themselves.
type Tailer struct {
	db       *sql.DB
	table    string
	event    string
	list     listFunc
	notify   NotifyFunc
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	q       query.Query
	last    int64
	stopped bool
	cancel  context.CancelFunc

	done chan struct{}
}

func newTailer(db *sql.DB, table, event string, list listFunc, notify NotifyFunc, opts ...TailOption) *Tailer {
	t := &Tailer{
		db:       db,
		table:    table,
		event:    event,
		list:     list,
		notify:   notify,
		interval: 200 * time.Millisecond,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Subscribe starts watching the store under predicate q. It returns
// immediately; the backlog and later rows are delivered on the tailer's own
// goroutine.
func (t *Tailer) Subscribe(q query.Query) {
	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.q = q
	t.cancel = cancel
	t.mu.Unlock()
	go t.run(ctx)
}

// Stop ends watching. After Stop returns no new delivery starts; at most
// the notification already in flight is still handed to the callback. Stop
// never blocks and is safe to call repeatedly.
func (t *Tailer) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed when the tailing goroutine has exited.
func (t *Tailer) Done() <-chan struct{} { return t.done }

func (t *Tailer) run(ctx context.Context) {
	defer close(t.done)

	// The watcher calls poll once for the backlog, then again whenever the
	// table's max rowid moves. Its first tick always re-polls, so a write
	// landing between the backlog pass and the first tick is never missed;
	// poll resumes from the last seen rowid, so re-polling never duplicates
	// a notification.
	w := watch.New(t.db, watch.Options{
		Interval: t.interval,
		Detector: watch.MaxColumnDetector(t.table, "rowid"),
		Logger:   t.logger,
	})
	w.Run(ctx, t.poll)
}

func (t *Tailer) poll(ctx context.Context) error {
	t.mu.Lock()
	last, q, stopped := t.last, t.q, t.stopped
	t.mu.Unlock()
	if stopped {
		return nil
	}

	rows, err := t.list(ctx, last, q)
	if err != nil {
		return err
	}
	for _, r := range rows {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if stopped {
			return nil
		}
		// No lock across notify: the callback may block on a busy consumer,
		// and that consumer must stay free to call Stop.
		t.notify(t.event, r.data)
		t.mu.Lock()
		t.last = r.rowid
		t.mu.Unlock()
	}
	return nil
}
