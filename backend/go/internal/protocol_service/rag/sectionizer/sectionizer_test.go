package sectionizer

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/pagemap"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"ckd-decision-support/backend/go/pkg/logger"
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	reply    string
	err      error
	messages []schema.Message
}

func (s *stubCompleter) Complete(_ context.Context, messages []schema.Message, _ schema.GenerationParams) (string, error) {
	s.messages = messages
	return s.reply, s.err
}

func twoPages() (string, *pagemap.Mapper) {
	pages := []schema.Page{{Number: 1, Text: strings.Repeat("a", 100)}, {Number: 2, Text: strings.Repeat("b", 100)}}
	return pages[0].Text + pages[1].Text, pagemap.New(pages, 0)
}

func TestSectionize_DirectJSON(t *testing.T) {
	text, pages := twoPages()
	c := &stubCompleter{reply: `{"sections":[{"title":"Management","start_offset":150},{"title":"Scope","start_offset":0}]}`}

	got := New(c, 0, logger.Discard()).Sectionize(context.Background(), text, pages)
	require.Len(t, got, 2)
	assert.Equal(t, schema.Section{Title: "Scope", StartOffset: 0, PageNumber: 1}, got[0])
	assert.Equal(t, schema.Section{Title: "Management", StartOffset: 150, PageNumber: 2}, got[1])
}

func TestSectionize_JSONInProse(t *testing.T) {
	text, pages := twoPages()
	c := &stubCompleter{reply: "Sure! Here is the outline:\n{\"sections\":[{\"title\":\"Scope\",\"start_offset\":0}]}\nLet me know."}

	got := New(c, 0, logger.Discard()).Sectionize(context.Background(), text, pages)
	require.Len(t, got, 1)
	assert.Equal(t, "Scope", got[0].Title)
}

func TestSectionize_FailuresYieldEmpty(t *testing.T) {
	text, pages := twoPages()

	for _, c := range []*stubCompleter{
		{err: errors.New("timeout")},
		{reply: "I cannot do that."},
		{reply: `{"sections": "nope"}`},
	} {
		assert.Empty(t, New(c, 0, logger.Discard()).Sectionize(context.Background(), text, pages))
	}
}

func TestSectionize_TruncatesInputToPrefix(t *testing.T) {
	text := strings.Repeat("肾", 50)
	c := &stubCompleter{reply: `{"sections":[]}`}

	New(c, 20, logger.Discard()).Sectionize(context.Background(), text, pagemap.New([]schema.Page{{Number: 1, Text: text}}, 0))
	require.Len(t, c.messages, 2)
	assert.Equal(t, 20, utf8.RuneCountInString(c.messages[1].Content))
}

func TestSectionize_BlankTextSkipsCall(t *testing.T) {
	c := &stubCompleter{}
	assert.Empty(t, New(c, 0, logger.Discard()).Sectionize(context.Background(), "  ", pagemap.New(nil, 0)))
	assert.Nil(t, c.messages)
}

func TestNormalize(t *testing.T) {
	out := outline{Sections: []outlineEntry{
		{Title: "  Dosing \n table ", StartOffset: 500},
		{Title: "", StartOffset: 10},
		{Title: "Intro", StartOffset: -4},
		{Title: "Duplicate", StartOffset: 0},
	}}

	got := normalize(out, 200)
	require.Len(t, got, 2)
	assert.Equal(t, "Intro", got[0].Title)
	assert.Equal(t, 0, got[0].StartOffset)
	assert.Equal(t, "Dosing table", got[1].Title)
	assert.Equal(t, 200, got[1].StartOffset)
}
