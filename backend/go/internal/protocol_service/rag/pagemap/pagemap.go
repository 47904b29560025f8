// Package pagemap resolves character offsets in a document's full text to page numbers.
package pagemap

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"sort"
	"unicode/utf8"
)

// DefaultPage is returned by Resolve when an offset cannot be placed on any page.
const DefaultPage = 1

// Mapper holds the page spans of one document. Offsets and lengths are in runes.
type Mapper struct {
	spans []schema.PageSpan
}

// New builds the span table by a cumulative sum over page text lengths in page order.
// separatorLen is the number of characters the extractor inserts between pages when
// it builds the full text; those characters are attributed to the preceding page.
func New(pages []schema.Page, separatorLen int) *Mapper {
	if separatorLen < 0 {
		separatorLen = 0
	}
	spans := make([]schema.PageSpan, 0, len(pages))
	offset := 0
	for i, p := range pages {
		number := p.Number
		if number < 1 {
			number = i + 1
		}
		start := offset
		offset += utf8.RuneCountInString(p.Text)
		if i < len(pages)-1 {
			offset += separatorLen
		}
		spans = append(spans, schema.PageSpan{Page: number, Start: start, End: offset})
	}
	return &Mapper{spans: spans}
}

// Lookup returns the page whose span contains offset, and false when none does.
func (m *Mapper) Lookup(offset int) (int, bool) {
	if m == nil || offset < 0 || len(m.spans) == 0 {
		return 0, false
	}
	i := sort.Search(len(m.spans), func(i int) bool { return m.spans[i].End > offset })
	if i == len(m.spans) || m.spans[i].Start > offset {
		return 0, false
	}
	return m.spans[i].Page, true
}

// Resolve is Lookup with the unresolved case mapped to DefaultPage.
func (m *Mapper) Resolve(offset int) int {
	if page, ok := m.Lookup(offset); ok {
		return page
	}
	return DefaultPage
}

// PageCount returns the number of pages the mapper was built from.
func (m *Mapper) PageCount() int {
	if m == nil {
		return 0
	}
	return len(m.spans)
}

// Spans returns a copy of the span table.
func (m *Mapper) Spans() []schema.PageSpan {
	if m == nil {
		return nil
	}
	return append([]schema.PageSpan(nil), m.spans...)
}
