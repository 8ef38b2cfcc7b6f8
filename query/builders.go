package query

import (
	"log/slog"
	"sort"

	"github.com/thezedwards/arachnado/idgen"
)

// jobsURLField is the column carrying a job's seed URLs.
const jobsURLField = "urls"

// pagesURLField is the default column carrying a page's URL. A per-site
// filter may override it.
const pagesURLField = "url"

// pagesIDField is the persistent page identifier used as a tailing cursor.
const pagesIDField = "id"

// Jobs builds the jobs-feed predicate. Include substrings form a permissive
// union: a job matches when its URLs contain at least one of them (or none
// were given). Exclude substrings form a restrictive intersection: the URLs
// must contain none of them. The two groups combine via AND.
func Jobs(include, exclude []string) Query {
	var incs []Query
	for _, s := range include {
		incs = append(incs, Cond{Field: jobsURLField, Op: OpContains, Value: s})
	}

	var parts []Query
	if g := disjoin(incs); g != All {
		parts = append(parts, g)
	}
	for _, s := range exclude {
		parts = append(parts, Cond{Field: jobsURLField, Op: OpNotContains, Value: s})
	}
	return conjoin(parts)
}

// Pages builds the pages-feed predicate for a set of requested sites.
//
// Each value in siteIDs may be:
//   - nil or "" — match the site by URL only;
//   - a cursor id string — match the site AND pages stored after that id;
//   - an object {"url_field": ..., "id": ...} — same, with the URL column
//     overridden.
//
// A cursor that does not parse as a persistent-store identifier degrades to
// the URL-only condition with a warning; the subscription itself never fails.
// Multiple sites combine via OR.
func Pages(siteIDs map[string]any) Query {
	sites := make([]string, 0, len(siteIDs))
	for site := range siteIDs {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	var parts []Query
	for _, site := range sites {
		parts = append(parts, siteCond(site, siteIDs[site]))
	}
	return disjoin(parts)
}

func siteCond(site string, value any) Query {
	urlField := pagesURLField
	itemID := ""

	switch v := value.(type) {
	case nil:
	case string:
		itemID = v
	case map[string]any:
		if f, ok := v["url_field"].(string); ok && f != "" {
			urlField = f
		}
		itemID, _ = v["id"].(string)
	}

	urlCond := Cond{Field: urlField, Op: OpMatches, Value: site}
	if itemID == "" {
		return urlCond
	}

	id, err := idgen.ParseObjectID(itemID)
	if err != nil {
		slog.Warn("invalid page id cursor, using url condition only",
			"site", site, "id", itemID, "error", err)
		return urlCond
	}
	return And{urlCond, Cond{Field: pagesIDField, Op: OpGt, Value: id}}
}
