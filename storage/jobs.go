package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thezedwards/arachnado/dbopen"
	"github.com/thezedwards/arachnado/idgen"
	"github.com/thezedwards/arachnado/query"
)

// Job is one crawl job as recorded in the persistent store.
type Job struct {
	ID      string // persistent storage id
	CrawlID string // ephemeral orchestrator id
	URLs    string // seed URL set, comma-joined
	State   string
	Stats   map[string]any
}

// Payload returns the wire representation of the job used in tailed and
// state events. The crawl id travels as "id"; the storage id as "_id".
func (j Job) Payload() map[string]any {
	return map[string]any{
		"id":    j.CrawlID,
		"_id":   j.ID,
		"urls":  j.URLs,
		"state": j.State,
		"stats": j.Stats,
	}
}

// JobStore persists crawl jobs.
type JobStore struct {
	db    *sql.DB
	newID idgen.Generator
}

// NewJobStore creates a JobStore over db. Call Init on the database first.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db, newID: idgen.ObjectID()}
}

// DB exposes the underlying database for change detection.
func (s *JobStore) DB() *sql.DB { return s.db }

// Insert stores a new job. When j.ID is empty a fresh storage id is
// assigned; the (possibly generated) id is returned.
func (s *JobStore) Insert(ctx context.Context, j Job) (string, error) {
	if j.ID == "" {
		j.ID = s.newID()
	}
	stats, err := json.Marshal(j.Stats)
	if err != nil {
		return "", fmt.Errorf("storage: marshal job stats: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.db,
		`INSERT INTO jobs (id, crawl_id, urls, state, stats, created_at) VALUES (?,?,?,?,?,?)`,
		j.ID, j.CrawlID, j.URLs, j.State, string(stats), time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("storage: insert job: %w", err)
	}
	return j.ID, nil
}

// UpdateState sets the state of the job with the given crawl id.
func (s *JobStore) UpdateState(ctx context.Context, crawlID, state string) error {
	_, err := dbopen.Exec(ctx, s.db, `UPDATE jobs SET state = ? WHERE crawl_id = ?`, state, crawlID)
	if err != nil {
		return fmt.Errorf("storage: update job state: %w", err)
	}
	return nil
}

// UpdateStats merges changes into the stored stats of the job with the
// given crawl id. The read-merge-write runs in a single transaction with
// busy retry. Returns an error wrapping sql.ErrNoRows when no such job
// exists.
func (s *JobStore) UpdateStats(ctx context.Context, crawlID string, changes map[string]any) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var raw string
		if err := tx.QueryRowContext(ctx, `SELECT stats FROM jobs WHERE crawl_id = ?`, crawlID).Scan(&raw); err != nil {
			return fmt.Errorf("storage: read job stats: %w", err)
		}
		stats := map[string]any{}
		if raw != "" {
			// Lenient: corrupt stored stats start over from the changes.
			json.Unmarshal([]byte(raw), &stats)
			if stats == nil {
				stats = map[string]any{}
			}
		}
		for k, v := range changes {
			stats[k] = v
		}
		merged, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("storage: marshal job stats: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET stats = ? WHERE crawl_id = ?`, string(merged), crawlID); err != nil {
			return fmt.Errorf("storage: update job stats: %w", err)
		}
		return nil
	})
}

// List returns jobs matching q in insertion order.
func (s *JobStore) List(ctx context.Context, q query.Query) ([]Job, error) {
	rows, err := s.listAfter(ctx, 0, q)
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.job)
	}
	return jobs, nil
}

// Jobs returns the wire payloads of every stored job, satisfying the resync
// source consumed on spider-closed broadcasts.
func (s *JobStore) Jobs(ctx context.Context) ([]map[string]any, error) {
	jobs, err := s.List(ctx, query.All)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		payloads = append(payloads, j.Payload())
	}
	return payloads, nil
}

type jobRow struct {
	rowid int64
	job   Job
}

func (s *JobStore) listAfter(ctx context.Context, afterRowID int64, q query.Query) ([]jobRow, error) {
	where, args := query.SQL(q)
	stmt := `SELECT rowid, id, crawl_id, urls, state, stats FROM jobs WHERE rowid > ?`
	qargs := append([]any{afterRowID}, args...)
	if where != "" {
		stmt += " AND " + where
	}
	stmt += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, stmt, qargs...)
	if err != nil {
		return nil, fmt.Errorf("storage: list jobs: %w", err)
	}
	defer rows.Close()

	var out []jobRow
	for rows.Next() {
		var r jobRow
		var stats string
		if err := rows.Scan(&r.rowid, &r.job.ID, &r.job.CrawlID, &r.job.URLs, &r.job.State, &stats); err != nil {
			return nil, fmt.Errorf("storage: scan job: %w", err)
		}
		if stats != "" {
			// Lenient: a job with corrupt stats is still listed.
			json.Unmarshal([]byte(stats), &r.job.Stats)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TailJobs returns a Tailer that streams "jobs.tailed" notifications for
// jobs matching the subscription predicate.
func (s *JobStore) TailJobs(notify NotifyFunc, opts ...TailOption) *Tailer {
	return newTailer(s.db, "jobs", "jobs.tailed", func(ctx context.Context, after int64, q query.Query) ([]tailRow, error) {
		rows, err := s.listAfter(ctx, after, q)
		if err != nil {
			return nil, err
		}
		out := make([]tailRow, 0, len(rows))
		for _, r := range rows {
			out = append(out, tailRow{rowid: r.rowid, data: r.job.Payload()})
		}
		return out, nil
	}, notify, opts...)
}
