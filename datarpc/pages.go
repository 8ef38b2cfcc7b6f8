package datarpc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/thezedwards/arachnado/query"
	"github.com/thezedwards/arachnado/storage"
)

// Pages-feed event name on the wire.
const eventPagesTailed = "pages.tailed"

// PagesSession serves the pages data feed on one connection. Unlike the
// jobs feed there is no identifier reconciliation and no visibility gating:
// a page event is already scoped by the predicate its storage link was
// created with.
type PagesSession struct {
	*session
	store *storage.PageStore
}

// NewPagesSession creates a pages session over the given transport. Call
// Open to start it and Close to tear it down.
func NewPagesSession(t Transport, cfg Config) *PagesSession {
	ps := &PagesSession{
		session: newSession(t, cfg, map[string]struct{}{eventPagesTailed: {}}),
		store:   cfg.Pages,
	}
	ps.session.feed = ps
	return ps
}

// Open marks the session live and starts the session loop.
func (ps *PagesSession) Open() {
	ps.logger.Info("new connection")
	go ps.run()
}

func (ps *PagesSession) shutdown() {}

func (ps *PagesSession) route(n notification) {
	ps.deliver(n.event, n.data)
}

func (ps *PagesSession) dispatch(req rpcRequest) (any, *rpcError) {
	switch req.Method {
	case "subscribe_to_pages":
		var p subscribePagesParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, invalidParams(err)
		}
		return ps.subscribeToPages(p)
	default:
		return nil, methodNotFound(req.Method)
	}
}

type subscribePagesParams struct {
	SiteIDs     json.RawMessage `json:"site_ids"`
	UpdateDelay int             `json:"update_delay"` // milliseconds
	Mode        string          `json:"mode"`         // "urls" (default) or "ids"
}

// subscribeToPages registers live page queries. In "urls" mode one
// subscription covers every requested site and the result carries a single
// subscription id; in "ids" mode each site gets its own independently
// cancellable subscription and the result maps site → subscription id.
func (ps *PagesSession) subscribeToPages(p subscribePagesParams) (any, *rpcError) {
	siteIDs, err := parseSiteIDs(p.SiteIDs)
	if err != nil {
		return nil, invalidParams(err)
	}
	ps.initHeartbeat(time.Duration(p.UpdateDelay) * time.Millisecond)

	result := map[string]any{
		"datatype":               "pages_subscription_id",
		"single_subscription_id": "",
		"id":                     map[string]any{},
	}
	mode := p.Mode
	if mode == "" {
		mode = "urls"
	}
	switch mode {
	case "urls":
		result["single_subscription_id"] = ps.subscribe(query.Pages(siteIDs))
	case "ids":
		ids := make(map[string]any, len(siteIDs))
		for site, value := range siteIDs {
			ids[site] = ps.subscribe(query.Pages(map[string]any{site: value}))
		}
		result["id"] = ids
	default:
		return nil, invalidParams(fmt.Errorf("unknown mode %q", p.Mode))
	}
	return result, nil
}

func (ps *PagesSession) subscribe(q query.Query) string {
	id := ps.nextSubID()
	link := ps.store.TailPages(ps.notifyFor(id),
		storage.WithTailInterval(ps.tailInterval), storage.WithTailLogger(ps.logger))
	ps.register(id, link, q)
	return id
}

// parseSiteIDs accepts either a mapping site → filter value or a plain list
// of sites, which is equivalent to a mapping with no filter values.
func parseSiteIDs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		if m == nil {
			m = map[string]any{}
		}
		return m, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		m = make(map[string]any, len(list))
		for _, site := range list {
			m[site] = nil
		}
		return m, nil
	}
	return nil, fmt.Errorf("site_ids must be a mapping or a list of sites")
}
