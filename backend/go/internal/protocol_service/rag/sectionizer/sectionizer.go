// Package sectionizer asks the completion service for a coarse outline of a document.
package sectionizer

import (
	"ckd-decision-support/backend/go/internal/models"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/llms"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/pagemap"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"ckd-decision-support/backend/go/pkg/logger"
	"context"
	"fmt"
	"sort"
	"strings"
)

// DefaultPrefixLimit is how many characters of the document are sent to the model.
const DefaultPrefixLimit = 30000

const systemPrompt = `You extract the outline of clinical protocol documents.
Respond with strict JSON only, no prose and no markdown, in exactly this shape:
{"sections":[{"title":"<heading text>","start_offset":<character offset where the heading starts>}]}
Offsets are 0-based character positions in the text you are given. List sections in document order.`

type outlineEntry struct {
	Title       string `json:"title"`
	StartOffset int    `json:"start_offset"`
}

type outline struct {
	Sections []outlineEntry `json:"sections"`
}

// Sectionizer extracts {title, start_offset} pairs and resolves their pages.
type Sectionizer struct {
	completer   interfaces.Completer
	prefixLimit int
	log         *logger.Logger
}

// New creates a Sectionizer. A non-positive prefixLimit selects DefaultPrefixLimit.
func New(completer interfaces.Completer, prefixLimit int, log *logger.Logger) *Sectionizer {
	if prefixLimit <= 0 {
		prefixLimit = DefaultPrefixLimit
	}
	return &Sectionizer{completer: completer, prefixLimit: prefixLimit, log: log}
}

// Sectionize returns the document's sections sorted by start offset. Any failure,
// whether in the call or in parsing, yields an empty list.
func (s *Sectionizer) Sectionize(ctx context.Context, text string, pages *pagemap.Mapper) []schema.Section {
	runes := []rune(text)
	if len(strings.TrimSpace(text)) == 0 {
		return nil
	}
	prefix := runes
	if len(prefix) > s.prefixLimit {
		prefix = prefix[:s.prefixLimit]
	}

	reply, err := s.completer.Complete(ctx, []schema.Message{
		{Role: schema.RoleSystem, Content: systemPrompt},
		{Role: schema.RoleUser, Content: string(prefix)},
	}, schema.GenerationParams{Temperature: schema.Temperature(0), JSON: true})
	if err != nil {
		s.log.WithError(models.NewErrorInfo("completion_error", err)).Warn("sectionize call failed, continuing without sections")
		return nil
	}

	var out outline
	if err := llms.DecodeJSON(reply, &out); err != nil {
		s.log.WithError(models.NewErrorInfo("parse_error", err)).Warn("sectionize reply was not JSON, continuing without sections")
		return nil
	}

	sections := normalize(out, len(runes))
	for i := range sections {
		sections[i].PageNumber = pages.Resolve(sections[i].StartOffset)
	}
	s.log.Debug(fmt.Sprintf("sectionizer found %d sections", len(sections)))
	return sections
}

// normalize drops blank titles, clamps offsets into [0, textLen], sorts by offset
// and removes entries that repeat an offset already taken.
func normalize(out outline, textLen int) []schema.Section {
	sections := make([]schema.Section, 0, len(out.Sections))
	for _, raw := range out.Sections {
		title := strings.Join(strings.Fields(raw.Title), " ")
		if title == "" {
			continue
		}
		offset := raw.StartOffset
		if offset < 0 {
			offset = 0
		}
		if offset > textLen {
			offset = textLen
		}
		sections = append(sections, schema.Section{Title: title, StartOffset: offset})
	}
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].StartOffset < sections[j].StartOffset })

	deduped := sections[:0]
	for i, sec := range sections {
		if i > 0 && sec.StartOffset == deduped[len(deduped)-1].StartOffset {
			continue
		}
		deduped = append(deduped, sec)
	}
	return deduped
}
