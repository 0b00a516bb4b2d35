// Package navigation orders the catalog into filtered, sorted views and
// tracks the currently open document within one.
package navigation

import (
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/catalog"
)

type SortField string

const (
	SortByKey      SortField = "key"
	SortByUploaded SortField = "uploaded"
	SortBySize     SortField = "size"
)

// ParseSortField maps a query value to a SortField, defaulting to key order.
func ParseSortField(s string) SortField {
	switch SortField(strings.ToLower(s)) {
	case SortByUploaded:
		return SortByUploaded
	case SortBySize:
		return SortBySize
	default:
		return SortByKey
	}
}

type Sort struct {
	Field      SortField
	Descending bool
}

// Filter narrows a view. Zero fields match everything.
type Filter struct {
	Collection    string
	Entity        string
	MinConfidence float64
	Text          string
}

// EntityIndex answers which documents show a detected entity.
type EntityIndex interface {
	DocumentsWith(name string, minConfidence float64) []string
}

// View is an immutable ordered slice of the catalog.
type View struct {
	docs  []catalog.Document
	index map[string]int
}

// BuildView filters and sorts docs. Equal sort values are ordered by key so
// the same inputs always produce the same view.
func BuildView(docs []catalog.Document, f Filter, s Sort, entities EntityIndex) *View {
	var allowed map[string]struct{}
	if f.Entity != "" {
		allowed = make(map[string]struct{})
		if entities != nil {
			for _, k := range entities.DocumentsWith(f.Entity, f.MinConfidence) {
				allowed[k] = struct{}{}
			}
		}
	}
	words := queryWords(f.Text)

	out := make([]catalog.Document, 0, len(docs))
	for _, d := range docs {
		if f.Collection != "" && d.Collection() != f.Collection {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[d.Key]; !ok {
				continue
			}
		}
		if !matchesAll(d.Key, words) {
			continue
		}
		out = append(out, d)
	}

	sort.SliceStable(out, func(i, j int) bool {
		c := compare(out[i], out[j], s.Field)
		if c == 0 {
			return out[i].Key < out[j].Key
		}
		if s.Descending {
			return c > 0
		}
		return c < 0
	})

	v := &View{docs: out, index: make(map[string]int, len(out))}
	for i, d := range out {
		v.index[d.Key] = i
	}
	return v
}

func compare(a, b catalog.Document, field SortField) int {
	switch field {
	case SortByUploaded:
		return a.Uploaded.Compare(b.Uploaded)
	case SortBySize:
		switch {
		case a.Size < b.Size:
			return -1
		case a.Size > b.Size:
			return 1
		}
		return 0
	default:
		return strings.Compare(a.Key, b.Key)
	}
}

func (v *View) Len() int { return len(v.docs) }

// Documents returns the ordered view. Callers must not modify it.
func (v *View) Documents() []catalog.Document { return v.docs }

func (v *View) At(i int) (catalog.Document, bool) {
	if i < 0 || i >= len(v.docs) {
		return catalog.Document{}, false
	}
	return v.docs[i], true
}

// Position describes where a key sits in a view. Index is -1 when the key is
// not part of the view.
type Position struct {
	Key     string `json:"key"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
	HasPrev bool   `json:"hasPrev"`
	HasNext bool   `json:"hasNext"`
	Prev    string `json:"prev,omitempty"`
	Next    string `json:"next,omitempty"`
}

func (v *View) Position(key string) Position {
	i, ok := v.index[key]
	if !ok {
		return Position{Key: key, Index: -1, Total: len(v.docs)}
	}
	p := Position{
		Key:     key,
		Index:   i,
		Total:   len(v.docs),
		HasPrev: i > 0,
		HasNext: i < len(v.docs)-1,
	}
	if p.HasPrev {
		p.Prev = v.docs[i-1].Key
	}
	if p.HasNext {
		p.Next = v.docs[i+1].Key
	}
	return p
}

// Upcoming returns up to n keys after key, nearest first.
func (v *View) Upcoming(key string, n int) []string {
	i, ok := v.index[key]
	if !ok || n <= 0 {
		return nil
	}
	out := make([]string, 0, n)
	for j := i + 1; j < len(v.docs) && len(out) < n; j++ {
		out = append(out, v.docs[j].Key)
	}
	return out
}

// Preceding returns up to n keys before key, nearest first.
func (v *View) Preceding(key string, n int) []string {
	i, ok := v.index[key]
	if !ok || n <= 0 {
		return nil
	}
	out := make([]string, 0, n)
	for j := i - 1; j >= 0 && len(out) < n; j-- {
		out = append(out, v.docs[j].Key)
	}
	return out
}

// queryWords lower-cases text and splits it on whitespace. Punctuation stays
// inside a word, so "exhibit-2" only matches keys containing that exact run.
func queryWords(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

func matchesAll(key string, words []string) bool {
	if len(words) == 0 {
		return true
	}
	k := strings.ToLower(key)
	for _, w := range words {
		if !strings.Contains(k, w) {
			return false
		}
	}
	return true
}
