package datarpc

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/thezedwards/arachnado/storage"
)

func TestSubscribeToPages_URLsMode(t *testing.T) {
	fx := newFixture(t)
	ps := pagesSession(t, fx)

	result, rpcErr := ps.subscribeToPages(subscribePagesParams{
		SiteIDs: json.RawMessage(`["example.com", "shop.org"]`),
	})
	if rpcErr != nil {
		t.Fatalf("subscribe error: %v", rpcErr)
	}
	m := result.(map[string]any)
	if m["datatype"] != "pages_subscription_id" {
		t.Fatalf("datatype = %v", m["datatype"])
	}
	if m["single_subscription_id"] != "0" {
		t.Fatalf("single_subscription_id = %v, want 0", m["single_subscription_id"])
	}
	if ids := m["id"].(map[string]any); len(ids) != 0 {
		t.Fatalf("id map = %v, want empty in urls mode", ids)
	}
	if len(ps.subs) != 1 {
		t.Fatalf("subscriptions = %d, want 1", len(ps.subs))
	}
}

func TestSubscribeToPages_IDsModePerSite(t *testing.T) {
	fx := newFixture(t)
	ps := pagesSession(t, fx)

	result, rpcErr := ps.subscribeToPages(subscribePagesParams{
		SiteIDs: json.RawMessage(`{"a.com": null, "b.org": null}`),
		Mode:    "ids",
	})
	if rpcErr != nil {
		t.Fatalf("subscribe error: %v", rpcErr)
	}
	m := result.(map[string]any)
	if m["single_subscription_id"] != "" {
		t.Fatalf("single_subscription_id = %v, want empty in ids mode", m["single_subscription_id"])
	}
	ids := m["id"].(map[string]any)
	if len(ids) != 2 {
		t.Fatalf("id map = %v, want one entry per site", ids)
	}
	if len(ps.subs) != 2 {
		t.Fatalf("subscriptions = %d, want 2", len(ps.subs))
	}
	// Each site's subscription cancels independently.
	if !ps.cancelSubscription(ids["a.com"].(string)) {
		t.Fatal("cancel of a.com subscription failed")
	}
	if len(ps.subs) != 1 {
		t.Fatal("cancelling one site removed more than one subscription")
	}
}

func TestSubscribeToPages_UnknownModeRejected(t *testing.T) {
	fx := newFixture(t)
	ps := pagesSession(t, fx)

	_, rpcErr := ps.subscribeToPages(subscribePagesParams{Mode: "bogus"})
	if rpcErr == nil || rpcErr.Code != codeInvalidParams {
		t.Fatalf("error = %v, want invalid params", rpcErr)
	}
	if len(ps.subs) != 0 {
		t.Fatal("rejected call left subscriptions behind")
	}
}

func TestParseSiteIDs(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want map[string]any
		err  bool
	}{
		{name: "mapping", raw: `{"a.com": null, "b.org": "64f1aa00aabbccddeeff0011"}`,
			want: map[string]any{"a.com": nil, "b.org": "64f1aa00aabbccddeeff0011"}},
		{name: "list", raw: `["a.com", "b.org"]`,
			want: map[string]any{"a.com": nil, "b.org": nil}},
		{name: "absent", raw: "", want: map[string]any{}},
		{name: "null", raw: "null", want: map[string]any{}},
		{name: "scalar", raw: "5", err: true},
		{name: "list of numbers", raw: "[1, 2]", err: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseSiteIDs(json.RawMessage(tc.raw))
			if tc.err {
				if err == nil {
					t.Fatalf("parseSiteIDs(%q) succeeded, want error", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSiteIDs(%q): %v", tc.raw, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("parseSiteIDs(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestPagesRoute_DelayModeBatches(t *testing.T) {
	fx := newFixture(t)
	ps := pagesSession(t, fx)
	ctx := context.Background()

	if _, err := fx.pages.Insert(ctx, storage.Page{CrawlID: "c1", URL: "http://a.com/1", Status: 200}); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.pages.Insert(ctx, storage.Page{CrawlID: "c1", URL: "http://a.com/2", Status: 404}); err != nil {
		t.Fatal(err)
	}

	_, rpcErr := ps.subscribeToPages(subscribePagesParams{
		SiteIDs:     json.RawMessage(`["a.com"]`),
		UpdateDelay: 60_000,
	})
	if rpcErr != nil {
		t.Fatalf("subscribe error: %v", rpcErr)
	}

	ps.route(nextNotification(t, ps.session))
	ps.route(nextNotification(t, ps.session))
	if fx.transport.count() != 0 {
		t.Fatal("page events sent eagerly while in delay mode")
	}
	if len(ps.queue) != 2 {
		t.Fatalf("queue length = %d, want 2", len(ps.queue))
	}

	ps.sendUpdates()
	frames := fx.transport.decoded(t)
	if len(frames) != 2 {
		t.Fatalf("frames after drain = %d, want 2", len(frames))
	}
	first := frames[0]["data"].(map[string]any)
	second := frames[1]["data"].(map[string]any)
	if first["url"] != "http://a.com/1" || second["url"] != "http://a.com/2" {
		t.Fatalf("drained out of order: %v then %v", first["url"], second["url"])
	}
}

func TestPagesRoute_ImmediateWithoutDelay(t *testing.T) {
	fx := newFixture(t)
	ps := pagesSession(t, fx)
	ctx := context.Background()

	if _, err := fx.pages.Insert(ctx, storage.Page{CrawlID: "c1", URL: "http://a.com/1", Status: 200}); err != nil {
		t.Fatal(err)
	}
	_, rpcErr := ps.subscribeToPages(subscribePagesParams{SiteIDs: json.RawMessage(`["a.com"]`)})
	if rpcErr != nil {
		t.Fatalf("subscribe error: %v", rpcErr)
	}

	n := nextNotification(t, ps.session)
	if n.event != eventPagesTailed {
		t.Fatalf("event = %q", n.event)
	}
	ps.route(n)

	frames := fx.transport.decoded(t)
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	data := frames[0]["data"].(map[string]any)
	if data["url"] != "http://a.com/1" || data["crawl_id"] != "c1" {
		t.Fatalf("data = %v", data)
	}
	if id, _ := data["_id"].(string); len(id) != 24 {
		t.Fatalf("_id = %v, want a 24-char persistent id", data["_id"])
	}
}
