package datarpc

import (
	"encoding/json"
	"time"

	"github.com/thezedwards/arachnado/crawl"
	"github.com/thezedwards/arachnado/query"
	"github.com/thezedwards/arachnado/storage"
)

// Jobs-feed event names on the wire.
const (
	eventJobsTailed   = "jobs.tailed"
	eventStatsChanged = "stats:changed"
	eventJobsState    = "jobs:state"
)

// JobsSession serves the jobs data feed on one connection.
//
// RPC surface: subscribe_to_jobs(include, exclude, update_delay) and the
// shared cancel_subscription(id).
type JobsSession struct {
	*session
	store  *storage.JobStore
	bus    *crawl.Bus
	source crawl.JobSource

	// Identifier reconciliation, session-scoped: crawl id → persistent
	// storage id and crawl id → seed URLs, recorded when a job is observed
	// tailed. Entries persist for the life of the session.
	storageIDs map[string]string
	jobURLs    map[string]any

	unsubStats  func()
	unsubClosed func()
}

// NewJobsSession creates a jobs session over the given transport. Call Open
// to start it and Close to tear it down.
func NewJobsSession(t Transport, cfg Config) *JobsSession {
	source := cfg.Source
	if source == nil && cfg.Jobs != nil {
		source = cfg.Jobs
	}
	js := &JobsSession{
		session:    newSession(t, cfg, map[string]struct{}{eventStatsChanged: {}}),
		store:      cfg.Jobs,
		bus:        cfg.Bus,
		source:     source,
		storageIDs: make(map[string]string),
		jobURLs:    make(map[string]any),
	}
	js.session.feed = js
	return js
}

// Open marks the session live, registers for upstream crawl signals, and
// starts the session loop.
func (js *JobsSession) Open() {
	js.logger.Info("new connection")
	if js.bus != nil {
		js.unsubStats = js.bus.OnStatsChanged(func(crawlID string, changes map[string]any) {
			js.post(notification{event: eventStatsChanged, data: []any{crawlID, changes}})
		})
		js.unsubClosed = js.bus.OnSpiderClosed(func(string) {
			js.post(notification{kind: kindResync})
		})
	}
	go js.run()
}

func (js *JobsSession) shutdown() {
	if js.unsubStats != nil {
		js.unsubStats()
	}
	if js.unsubClosed != nil {
		js.unsubClosed()
	}
}

func (js *JobsSession) dispatch(req rpcRequest) (any, *rpcError) {
	switch req.Method {
	case "subscribe_to_jobs":
		var p subscribeJobsParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, invalidParams(err)
		}
		return js.subscribeToJobs(p), nil
	default:
		return nil, methodNotFound(req.Method)
	}
}

type subscribeJobsParams struct {
	Include     []string `json:"include"`
	Exclude     []string `json:"exclude"`
	UpdateDelay int      `json:"update_delay"` // milliseconds
}

// subscribeToJobs registers a live jobs query and returns its subscription id.
func (js *JobsSession) subscribeToJobs(p subscribeJobsParams) map[string]any {
	js.initHeartbeat(time.Duration(p.UpdateDelay) * time.Millisecond)

	id := js.nextSubID()
	link := js.store.TailJobs(js.notifyFor(id),
		storage.WithTailInterval(js.tailInterval), storage.WithTailLogger(js.logger))
	js.register(id, link, query.Jobs(p.Include, p.Exclude))

	return map[string]any{
		"datatype": "job_subscription_id",
		"id":       id,
	}
}

// route makes the per-event forward/drop/enrich/batch decision for the jobs
// feed.
func (js *JobsSession) route(n notification) {
	if n.kind == kindResync {
		js.resync()
		return
	}
	data := n.data

	if n.event == eventJobsTailed && n.subID != "" {
		if m, ok := data.(map[string]any); ok {
			if crawlID, ok := m["id"].(string); ok && crawlID != "" {
				if sub := js.subs[n.subID]; sub != nil {
					sub.jobIDs[crawlID] = struct{}{}
				}
				storageID, _ := m["_id"].(string)
				js.storageIDs[crawlID] = storageID
				js.jobURLs[crawlID] = m["urls"]
			}
		}
	}

	if n.event == eventStatsChanged || n.event == eventJobsState {
		var crawlID string
		if n.event == eventStatsChanged {
			if arr, ok := data.([]any); ok && len(arr) > 1 {
				crawlID, _ = arr[0].(string)
				urls := js.jobURLs[crawlID]
				if urls == nil {
					urls = ""
				}
				data = map[string]any{
					// stats and stats_dict carry the same content for
					// backward-compatible consumers.
					"stats":      arr[1],
					"stats_dict": arr[1],
					"id":         crawlID,
					"_id":        js.storageIDs[crawlID],
					"urls":       urls,
				}
			}
		} else if m, ok := data.(map[string]any); ok {
			crawlID, _ = m["id"].(string)
		}
		if !js.visible(crawlID) {
			return
		}
	}

	if m, ok := data.(map[string]any); ok {
		js.parseStats(m)
	}
	js.deliver(n.event, data)
}

// visible reports whether some active subscription has observed crawlID in
// its tailed jobs. Events for unobserved crawls are dropped entirely.
func (js *JobsSession) visible(crawlID string) bool {
	if crawlID == "" {
		return false
	}
	for _, sub := range js.subs {
		if _, ok := sub.jobIDs[crawlID]; ok {
			return true
		}
	}
	return false
}

// parseStats converts a stats field that arrived as a JSON string into a
// structured value. A field that cannot be parsed is logged and left as-is.
func (js *JobsSession) parseStats(m map[string]any) {
	raw, ok := m["stats"]
	if !ok {
		return
	}
	if _, structured := raw.(map[string]any); structured {
		return
	}
	str, ok := raw.(string)
	if !ok {
		js.logger.Warn("invalid stats field in job", "job", m["_id"])
		return
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(str), &parsed); err != nil {
		js.logger.Warn("invalid stats field in job", "job", m["_id"], "error", err)
		return
	}
	m["stats"] = parsed
}

// resync emits a state event for every known job, subject to the usual
// visibility and delivery rules. Fired when a spider closes.
func (js *JobsSession) resync() {
	if js.source == nil {
		return
	}
	jobs, err := js.source.Jobs(js.ctx)
	if err != nil {
		js.logger.Warn("job resync failed", "error", err)
		return
	}
	for _, job := range jobs {
		js.route(notification{event: eventJobsState, data: job})
	}
}
