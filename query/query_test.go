package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thezedwards/arachnado/query"
)

func TestJobs_Empty(t *testing.T) {
	q := query.Jobs(nil, nil)
	assert.Equal(t, query.All, q)

	where, args := query.SQL(q)
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestJobs_SingleInclude_Unwrapped(t *testing.T) {
	q := query.Jobs([]string{"shop"}, nil)
	assert.Equal(t, query.Cond{Field: "urls", Op: query.OpContains, Value: "shop"}, q)

	where, args := query.SQL(q)
	assert.Equal(t, `urls LIKE ? ESCAPE '\'`, where)
	assert.Equal(t, []any{"%shop%"}, args)
}

func TestJobs_SingleExclude_Unwrapped(t *testing.T) {
	q := query.Jobs(nil, []string{"test"})
	assert.Equal(t, query.Cond{Field: "urls", Op: query.OpNotContains, Value: "test"}, q)
}

func TestJobs_IncludesUnionExcludesIntersect(t *testing.T) {
	q := query.Jobs([]string{"shop", "store"}, []string{"test", "staging"})

	want := query.And{
		query.Or{
			query.Cond{Field: "urls", Op: query.OpContains, Value: "shop"},
			query.Cond{Field: "urls", Op: query.OpContains, Value: "store"},
		},
		query.Cond{Field: "urls", Op: query.OpNotContains, Value: "test"},
		query.Cond{Field: "urls", Op: query.OpNotContains, Value: "staging"},
	}
	assert.Equal(t, want, q)

	where, args := query.SQL(q)
	assert.Equal(t,
		`((urls LIKE ? ESCAPE '\' OR urls LIKE ? ESCAPE '\') AND urls NOT LIKE ? ESCAPE '\' AND urls NOT LIKE ? ESCAPE '\')`,
		where)
	assert.Equal(t, []any{"%shop%", "%store%", "%test%", "%staging%"}, args)
}

func TestJobs_EscapesLikeMetacharacters(t *testing.T) {
	q := query.Jobs([]string{"100%_off"}, nil)
	_, args := query.SQL(q)
	assert.Equal(t, []any{`%100\%\_off%`}, args)
}

func TestPages_Empty(t *testing.T) {
	assert.Equal(t, query.All, query.Pages(nil))
	assert.Equal(t, query.All, query.Pages(map[string]any{}))
}

func TestPages_SiteOnly(t *testing.T) {
	q := query.Pages(map[string]any{"a.com": nil})
	assert.Equal(t, query.Cond{Field: "url", Op: query.OpMatches, Value: "a.com"}, q)
}

func TestPages_EmptyStringValueIsSiteOnly(t *testing.T) {
	q := query.Pages(map[string]any{"a.com": ""})
	assert.Equal(t, query.Cond{Field: "url", Op: query.OpMatches, Value: "a.com"}, q)
}

func TestPages_ValidCursor(t *testing.T) {
	q := query.Pages(map[string]any{"a.com": "64f1a2b3c4d5e6f708192a3b"})

	want := query.And{
		query.Cond{Field: "url", Op: query.OpMatches, Value: "a.com"},
		query.Cond{Field: "id", Op: query.OpGt, Value: "64f1a2b3c4d5e6f708192a3b"},
	}
	assert.Equal(t, want, q)

	where, args := query.SQL(q)
	assert.Equal(t, `(url LIKE ? ESCAPE '\' AND id > ?)`, where)
	assert.Equal(t, []any{"%a.com%", "64f1a2b3c4d5e6f708192a3b"}, args)
}

func TestPages_InvalidCursorFallsBackToURLOnly(t *testing.T) {
	q := query.Pages(map[string]any{"a.com": "not-an-object-id"})
	assert.Equal(t, query.Cond{Field: "url", Op: query.OpMatches, Value: "a.com"}, q)
}

func TestPages_URLFieldOverride(t *testing.T) {
	q := query.Pages(map[string]any{
		"a.com": map[string]any{"url_field": "canonical_url", "id": "64f1a2b3c4d5e6f708192a3b"},
	})

	want := query.And{
		query.Cond{Field: "canonical_url", Op: query.OpMatches, Value: "a.com"},
		query.Cond{Field: "id", Op: query.OpGt, Value: "64f1a2b3c4d5e6f708192a3b"},
	}
	assert.Equal(t, want, q)
}

func TestPages_MultipleSitesCombineViaOr(t *testing.T) {
	q := query.Pages(map[string]any{"b.org": nil, "a.com": nil})

	// Sites are sorted for deterministic output.
	want := query.Or{
		query.Cond{Field: "url", Op: query.OpMatches, Value: "a.com"},
		query.Cond{Field: "url", Op: query.OpMatches, Value: "b.org"},
	}
	assert.Equal(t, want, q)

	where, args := query.SQL(q)
	assert.Equal(t, `(url LIKE ? ESCAPE '\' OR url LIKE ? ESCAPE '\')`, where)
	assert.Equal(t, []any{"%a.com%", "%b.org%"}, args)
}
