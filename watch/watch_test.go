package watch

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// Single connection so every caller sees the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestMaxColumnDetector(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	det := MaxColumnDetector("items", "id")

	v, err := det(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("empty table: got %d, want 0", v)
	}

	if _, err := db.Exec(`INSERT INTO items (name) VALUES ('a'), ('b')`); err != nil {
		t.Fatal(err)
	}
	v, err = det(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Fatalf("after inserts: got %d, want 2", v)
	}
}

func TestMaxColumnDetector_QuotesIdentifiers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// A hostile name must stay an identifier, not become SQL.
	det := MaxColumnDetector(`items"; DROP TABLE items; --`, "id")
	if _, err := det(ctx, db); err == nil {
		t.Fatal("expected an error for a nonexistent quoted table")
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		t.Fatalf("items table gone: %v", err)
	}
}

func TestWatcher_RerunsActionOnChange(t *testing.T) {
	db := testDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int64
	w := New(db, Options{
		Interval: 10 * time.Millisecond,
		Detector: MaxColumnDetector("items", "id"),
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, func(context.Context) error {
			runs.Add(1)
			return nil
		})
	}()

	waitFor(t, func() bool { return runs.Load() >= 1 }, "initial action run")
	if _, err := db.Exec(`INSERT INTO items (name) VALUES ('a')`); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return runs.Load() >= 2 }, "action re-run after insert")

	// No further writes: the count must settle.
	settled := runs.Load()
	time.Sleep(100 * time.Millisecond)
	if got := runs.Load(); got > settled+1 {
		t.Fatalf("action kept running without changes: %d then %d", settled, got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not exit on context cancellation")
	}
}

func TestWatcher_FailedActionRetried(t *testing.T) {
	db := testDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := db.Exec(`INSERT INTO items (name) VALUES ('a')`); err != nil {
		t.Fatal(err)
	}

	var runs atomic.Int64
	w := New(db, Options{
		Interval: 10 * time.Millisecond,
		Detector: MaxColumnDetector("items", "id"),
	})
	go w.Run(ctx, func(context.Context) error {
		// The initial call and the first retry fail; the token must not
		// advance until a call succeeds.
		if runs.Add(1) <= 2 {
			return errors.New("transient")
		}
		return nil
	})

	waitFor(t, func() bool { return runs.Load() >= 3 }, "action retried to success")
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
