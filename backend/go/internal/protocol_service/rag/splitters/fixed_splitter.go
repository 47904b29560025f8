package splitters

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/pagemap"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"sort"
	"strings"
)

// DefaultChunkSize is the number of characters per chunk.
const DefaultChunkSize = 3200

// FixedSplitter cuts text into consecutive fixed-size chunks with no overlap.
type FixedSplitter struct {
	ChunkSize int
}

// NewFixedSplitter creates a FixedSplitter; a non-positive size selects DefaultChunkSize.
func NewFixedSplitter(chunkSize int) *FixedSplitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &FixedSplitter{ChunkSize: chunkSize}
}

// Split returns chunks starting at offsets 0, size, 2*size... Offsets are rune positions
// in the untrimmed text; each chunk's text is trimmed. The page of a chunk is the page
// containing its start offset. Empty text yields no chunks.
func (s *FixedSplitter) Split(documentID, text string, pages *pagemap.Mapper) []schema.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	chunks := make([]schema.Chunk, 0, (len(runes)+s.ChunkSize-1)/s.ChunkSize)
	for start, index := 0, 0; start < len(runes); start, index = start+s.ChunkSize, index+1 {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		page, ok := pages.Lookup(start)
		if !ok {
			page = pagemap.DefaultPage
		}
		chunks = append(chunks, schema.Chunk{
			DocumentID:   documentID,
			Index:        index,
			Text:         strings.TrimSpace(string(runes[start:end])),
			StartOffset:  start,
			EndOffset:    end,
			PageNumber:   page,
			PageResolved: ok,
			SectionTitle: schema.UncategorizedSection,
		})
	}
	return chunks
}

// AssignSections labels every chunk with the title of the section whose extent
// contains the chunk's start offset. Chunks before the first section, or all chunks
// when there are no sections, keep the Uncategorized label.
func AssignSections(chunks []schema.Chunk, sections []schema.Section) {
	if len(sections) == 0 {
		return
	}
	sorted := append([]schema.Section(nil), sections...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartOffset < sorted[j].StartOffset })

	for i := range chunks {
		if title, ok := SectionAt(sorted, chunks[i].StartOffset); ok {
			chunks[i].SectionTitle = title
		}
	}
}

// SectionAt returns the title of the last section starting at or before offset.
// sections must be sorted by StartOffset.
func SectionAt(sections []schema.Section, offset int) (string, bool) {
	i := SectionIndexAt(sections, offset)
	if i < 0 {
		return "", false
	}
	return sections[i].Title, true
}

// SectionIndexAt is SectionAt returning the index into sections, or -1.
func SectionIndexAt(sections []schema.Section, offset int) int {
	return sort.Search(len(sections), func(i int) bool { return sections[i].StartOffset > offset }) - 1
}

// SectionExtent returns the text of sections[i]: from its start offset to the next
// section's start offset, or to the end of the text. sections must be sorted.
func SectionExtent(text []rune, sections []schema.Section, i int) string {
	start := clamp(sections[i].StartOffset, 0, len(text))
	end := len(text)
	if i+1 < len(sections) {
		end = clamp(sections[i+1].StartOffset, start, len(text))
	}
	return string(text[start:end])
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
