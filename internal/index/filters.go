package index

import (
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
)

// Filters restrict a query to documents by metadata. A document must match
// any listed language, any listed source kind and every listed tag.
type Filters struct {
	Languages   []string             `json:"languages,omitempty"`
	SourceKinds []snippet.SourceKind `json:"source_kinds,omitempty"`
	Tags        []string             `json:"tags,omitempty"`
}

func (f Filters) IsEmpty() bool {
	return len(f.Languages) == 0 && len(f.SourceKinds) == 0 && len(f.Tags) == 0
}

// Normalize canonicalizes, dedupes and sorts every facet so equal filters
// compare and cache-key equally.
func (f Filters) Normalize() Filters {
	var out Filters
	langs := make([]string, 0, len(f.Languages))
	for _, l := range f.Languages {
		if c := analysis.Canonical(l); c != "" {
			langs = append(langs, c)
		}
	}
	out.Languages = uniqueSorted(langs)
	kinds := make([]string, 0, len(f.SourceKinds))
	for _, k := range f.SourceKinds {
		kinds = append(kinds, string(k))
	}
	for _, k := range uniqueSorted(kinds) {
		out.SourceKinds = append(out.SourceKinds, snippet.SourceKind(k))
	}
	tags := make([]string, 0, len(f.Tags))
	for _, t := range f.Tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tags = append(tags, t)
		}
	}
	out.Tags = uniqueSorted(tags)
	return out
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// Match reports whether d satisfies f. f must be normalized.
func (f Filters) Match(d *Document) bool {
	if len(f.Languages) > 0 && !containsString(f.Languages, d.Language) {
		return false
	}
	if len(f.SourceKinds) > 0 {
		ok := false
		for _, k := range f.SourceKinds {
			if k == d.SourceKind {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, t := range f.Tags {
		if !containsString(d.Tags, t) {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Facets indexes a segment's documents by language, source kind and tag so
// filters resolve to ordinal bitmaps without touching stored documents.
type Facets struct {
	languages map[string]*roaring.Bitmap
	sources   map[snippet.SourceKind]*roaring.Bitmap
	tags      map[string]*roaring.Bitmap
	count     uint32
}

func NewFacets() *Facets {
	return &Facets{
		languages: make(map[string]*roaring.Bitmap),
		sources:   make(map[snippet.SourceKind]*roaring.Bitmap),
		tags:      make(map[string]*roaring.Bitmap),
	}
}

func bitmapFor[K comparable](m map[K]*roaring.Bitmap, k K) *roaring.Bitmap {
	b, ok := m[k]
	if !ok {
		b = roaring.New()
		m[k] = b
	}
	return b
}

// Add records d at ord. Ordinals must be added in ascending order.
func (fc *Facets) Add(ord uint32, d *Document) {
	bitmapFor(fc.languages, d.Language).Add(ord)
	bitmapFor(fc.sources, d.SourceKind).Add(ord)
	for _, t := range d.Tags {
		bitmapFor(fc.tags, t).Add(ord)
	}
	if ord+1 > fc.count {
		fc.count = ord + 1
	}
}

// Allowed returns the ordinals matching f, or nil when f is empty (every
// ordinal allowed).
func (fc *Facets) Allowed(f Filters) *roaring.Bitmap {
	if f.IsEmpty() {
		return nil
	}
	result := roaring.New()
	result.AddRange(0, uint64(fc.count))
	if len(f.Languages) > 0 {
		union := roaring.New()
		for _, l := range f.Languages {
			if b, ok := fc.languages[l]; ok {
				union.Or(b)
			}
		}
		result.And(union)
	}
	if len(f.SourceKinds) > 0 {
		union := roaring.New()
		for _, k := range f.SourceKinds {
			if b, ok := fc.sources[k]; ok {
				union.Or(b)
			}
		}
		result.And(union)
	}
	for _, t := range f.Tags {
		b, ok := fc.tags[t]
		if !ok {
			return roaring.New()
		}
		result.And(b)
	}
	return result
}
