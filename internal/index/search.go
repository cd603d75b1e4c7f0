package index

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/jward/elmls/internal/extract"
)

// DefaultLimit caps search results when no limit is given.
const DefaultLimit = 100

// Match tiers, best first.
const (
	tierExact = iota
	tierPrefix
	tierFuzzy
)

// kindPriority orders equally good matches: modules and types first, then
// functions and constructors, then constants, then imports.
func kindPriority(k extract.Kind) int {
	switch k {
	case extract.KindModule, extract.KindType, extract.KindTypeAlias:
		return 0
	case extract.KindConstructor, extract.KindFunction:
		return 1
	case extract.KindConstant:
		return 2
	}
	return 3
}

type ranked struct {
	sym  extract.Symbol
	tier int
}

// Search ranks every record against query: exact case-insensitive matches,
// then prefix matches, then fuzzy subsequence matches. Ties break on kind
// priority, then uri, then name. keep may be nil. A limit <= 0 uses the
// index default.
func (ix *Index) Search(query string, limit int, keep func(extract.Symbol) bool) []extract.Symbol {
	if limit <= 0 {
		limit = ix.limit
	}
	q := strings.ToLower(query)
	var hits []ranked
	ix.each(func(s extract.Symbol) {
		if keep != nil && !keep(s) {
			return
		}
		if tier, ok := matchTier(q, s.Name); ok {
			hits = append(hits, ranked{sym: s, tier: tier})
		}
	})
	return top(hits, limit)
}

// FindByPrefix returns records whose name starts with prefix, ignoring case,
// in ranking order.
func (ix *Index) FindByPrefix(prefix string, limit int) []extract.Symbol {
	if limit <= 0 {
		limit = ix.limit
	}
	p := strings.ToLower(prefix)
	var hits []ranked
	ix.each(func(s extract.Symbol) {
		name := strings.ToLower(s.Name)
		switch {
		case name == p:
			hits = append(hits, ranked{sym: s, tier: tierExact})
		case strings.HasPrefix(name, p):
			hits = append(hits, ranked{sym: s, tier: tierPrefix})
		}
	})
	return top(hits, limit)
}

func matchTier(q, name string) (int, bool) {
	lower := strings.ToLower(name)
	switch {
	case q == "":
		return tierPrefix, true
	case lower == q:
		return tierExact, true
	case strings.HasPrefix(lower, q):
		return tierPrefix, true
	case fuzzy.MatchFold(q, name):
		return tierFuzzy, true
	}
	return 0, false
}

func top(hits []ranked, limit int) []extract.Symbol {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		if pa, pb := kindPriority(a.sym.Kind), kindPriority(b.sym.Kind); pa != pb {
			return pa < pb
		}
		if a.sym.URI != b.sym.URI {
			return a.sym.URI < b.sym.URI
		}
		if a.sym.Name != b.sym.Name {
			return a.sym.Name < b.sym.Name
		}
		return a.sym.Selection.Start.Before(b.sym.Selection.Start)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]extract.Symbol, len(hits))
	for i, h := range hits {
		out[i] = h.sym
	}
	return out
}

// each visits every record of every file. Entries are immutable, so only the
// pointer snapshot is taken under the shard lock.
func (ix *Index) each(fn func(extract.Symbol)) {
	for _, sh := range ix.shards {
		sh.mu.RLock()
		entries := make([]*FileEntry, 0, len(sh.files))
		for _, e := range sh.files {
			entries = append(entries, e)
		}
		sh.mu.RUnlock()
		for _, e := range entries {
			for _, s := range e.Symbols {
				fn(s)
			}
		}
	}
}
