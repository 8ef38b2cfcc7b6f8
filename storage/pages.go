package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thezedwards/arachnado/dbopen"
	"github.com/thezedwards/arachnado/idgen"
	"github.com/thezedwards/arachnado/query"
)

// Page is one crawled page as recorded in the persistent store.
type Page struct {
	ID         string // persistent storage id, ObjectID-style hex
	CrawlID    string
	URL        string
	Status     int
	BodyLength int
}

// Payload returns the wire representation of the page used in tailed events.
func (p Page) Payload() map[string]any {
	return map[string]any{
		"_id":         p.ID,
		"crawl_id":    p.CrawlID,
		"url":         p.URL,
		"status":      p.Status,
		"body_length": p.BodyLength,
	}
}

// PageStore persists crawled pages.
type PageStore struct {
	db    *sql.DB
	newID idgen.Generator
}

// NewPageStore creates a PageStore over db. Call Init on the database first.
func NewPageStore(db *sql.DB) *PageStore {
	return &PageStore{db: db, newID: idgen.ObjectID()}
}

// DB exposes the underlying database for change detection.
func (s *PageStore) DB() *sql.DB { return s.db }

// Insert stores a new page. When p.ID is empty a fresh storage id is
// assigned; the (possibly generated) id is returned.
func (s *PageStore) Insert(ctx context.Context, p Page) (string, error) {
	if p.ID == "" {
		p.ID = s.newID()
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO pages (id, crawl_id, url, status, body_length, created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.CrawlID, p.URL, p.Status, p.BodyLength, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("storage: insert page: %w", err)
	}
	return p.ID, nil
}

// List returns pages matching q in insertion order.
func (s *PageStore) List(ctx context.Context, q query.Query) ([]Page, error) {
	rows, err := s.listAfter(ctx, 0, q)
	if err != nil {
		return nil, err
	}
	pages := make([]Page, 0, len(rows))
	for _, r := range rows {
		pages = append(pages, r.page)
	}
	return pages, nil
}

type pageRow struct {
	rowid int64
	page  Page
}

func (s *PageStore) listAfter(ctx context.Context, afterRowID int64, q query.Query) ([]pageRow, error) {
	where, args := query.SQL(q)
	stmt := `SELECT rowid, id, crawl_id, url, status, body_length FROM pages WHERE rowid > ?`
	qargs := append([]any{afterRowID}, args...)
	if where != "" {
		stmt += " AND " + where
	}
	stmt += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, stmt, qargs...)
	if err != nil {
		return nil, fmt.Errorf("storage: list pages: %w", err)
	}
	defer rows.Close()

	var out []pageRow
	for rows.Next() {
		var r pageRow
		if err := rows.Scan(&r.rowid, &r.page.ID, &r.page.CrawlID, &r.page.URL, &r.page.Status, &r.page.BodyLength); err != nil {
			return nil, fmt.Errorf("storage: scan page: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TailPages returns a Tailer that streams "pages.tailed" notifications for
// pages matching the subscription predicate.
func (s *PageStore) TailPages(notify NotifyFunc, opts ...TailOption) *Tailer {
	return newTailer(s.db, "pages", "pages.tailed", func(ctx context.Context, after int64, q query.Query) ([]tailRow, error) {
		rows, err := s.listAfter(ctx, after, q)
		if err != nil {
			return nil, err
		}
		out := make([]tailRow, 0, len(rows))
		for _, r := range rows {
			out = append(out, tailRow{rowid: r.rowid, data: r.page.Payload()})
		}
		return out, nil
	}, notify, opts...)
}
