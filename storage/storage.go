// Package storage implements the SQLite-backed job and page stores behind
// the real-time data API, plus the Tailer that live-streams newly stored
// rows to subscribers.
//
// Jobs carry two identifier spaces: the ephemeral crawl id assigned by the
// orchestrator for a running crawl, and the persistent storage id under
// which the job is recorded. Pages use ObjectID-style time-prefixed hex ids
// so an id doubles as a resume cursor for incremental tailing.
package storage

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id         TEXT PRIMARY KEY,
    crawl_id   TEXT NOT NULL,
    urls       TEXT NOT NULL DEFAULT '',
    state      TEXT NOT NULL DEFAULT '',
    stats      TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_crawl_id ON jobs (crawl_id);

CREATE TABLE IF NOT EXISTS pages (
    id          TEXT PRIMARY KEY,
    crawl_id    TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL,
    status      INTEGER NOT NULL DEFAULT 0,
    body_length INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pages_url ON pages (url);
`

// Init creates the jobs and pages tables if they do not exist.
func Init(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("storage: init schema: %w", err)
	}
	return nil
}
