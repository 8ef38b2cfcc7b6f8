package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thezedwards/arachnado/crawl"
	"github.com/thezedwards/arachnado/storage"
)

// ingestAPI is the write surface the crawl orchestrator uses to record
// jobs, pages, and crawl signals. Everything the subscription layer streams
// out enters through here (or through direct writes to the same database).
type ingestAPI struct {
	jobs  *storage.JobStore
	pages *storage.PageStore
	bus   *crawl.Bus
}

func (a *ingestAPI) routes(r chi.Router) {
	r.Post("/jobs", a.handleInsertJob)
	r.Post("/jobs/{crawlID}/stats", a.handleJobStats)
	r.Post("/jobs/{crawlID}/close", a.handleJobClose)
	r.Post("/pages", a.handleInsertPage)
}

func (a *ingestAPI) handleInsertJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 256*1024)

	var req struct {
		CrawlID string         `json:"crawl_id"`
		URLs    string         `json:"urls"`
		State   string         `json:"state"`
		Stats   map[string]any `json:"stats"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.CrawlID == "" || req.URLs == "" {
		jsonErr(w, "crawl_id and urls are required", http.StatusBadRequest)
		return
	}

	id, err := a.jobs.Insert(r.Context(), storage.Job{
		CrawlID: req.CrawlID,
		URLs:    req.URLs,
		State:   req.State,
		Stats:   req.Stats,
	})
	if err != nil {
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"_id": id, "id": req.CrawlID})
}

// handleJobStats records a stats change and fans it out on the signal bus,
// mirroring the aggregate-stats-changed signal of the orchestrator.
func (a *ingestAPI) handleJobStats(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	crawlID := chi.URLParam(r, "crawlID")

	var changes map[string]any
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := a.jobs.UpdateStats(r.Context(), crawlID, changes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			jsonErr(w, "unknown crawl id", http.StatusNotFound)
			return
		}
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	a.bus.EmitStatsChanged(crawlID, changes)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleJobClose marks a job finished and fans out the spider-closed
// signal, which triggers a full state resync on every jobs session.
func (a *ingestAPI) handleJobClose(w http.ResponseWriter, r *http.Request) {
	crawlID := chi.URLParam(r, "crawlID")

	if err := a.jobs.UpdateState(r.Context(), crawlID, "finished"); err != nil {
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	a.bus.EmitSpiderClosed(crawlID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *ingestAPI) handleInsertPage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 256*1024)

	var req struct {
		CrawlID    string `json:"crawl_id"`
		URL        string `json:"url"`
		Status     int    `json:"status"`
		BodyLength int    `json:"body_length"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		jsonErr(w, "url is required", http.StatusBadRequest)
		return
	}

	id, err := a.pages.Insert(r.Context(), storage.Page{
		CrawlID:    req.CrawlID,
		URL:        req.URL,
		Status:     req.Status,
		BodyLength: req.BodyLength,
	})
	if err != nil {
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"_id": id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
