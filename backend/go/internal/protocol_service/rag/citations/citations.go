// Package citations rewrites loose page references into the canonical citation
// marker and extracts citation records from canonical text.
package citations

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"regexp"
	"strconv"
	"strings"
)

const snippetRunes = 120

var (
	// looseRef matches (p.N), [p.N], [↗ p.N] and the canonical form with its link.
	looseRef = regexp.MustCompile(`\[(?:↗\s*)?[pP]\.\s*\d+\](?:\([^)\s]*\))?|\([pP]\.\s*\d+\)`)
	// canonicalRef is the only form Extract accepts.
	canonicalRef = regexp.MustCompile(`\[↗ p\.(\d+)\]\(([^)\s]+)\)`)
)

// ViewerURL returns the document viewer link for a page: {base}/viewer?page={page}.
func ViewerURL(base string, page int) string {
	return strings.TrimRight(base, "/") + "/viewer?page=" + strconv.Itoa(page)
}

// Marker returns the canonical inline citation for a page.
func Marker(page int, base string) string {
	return "[↗ p." + strconv.Itoa(page) + "](" + ViewerURL(base, page) + ")"
}

// Normalize rewrites every page reference in text into the canonical marker for page.
// The digits in the matched reference are discarded: page is the chunk's known page.
func Normalize(text string, page int, viewerBase string) string {
	marker := Marker(page, viewerBase)
	return looseRef.ReplaceAllLiteralString(text, marker)
}

// Extract scans canonical text and returns one citation per marker, tagged with
// the index of the chunk whose summary contained it.
func Extract(text string, chunkIndex int) []schema.Citation {
	matches := canonicalRef.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]schema.Citation, 0, len(matches))
	for _, m := range matches {
		page, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		out = append(out, schema.Citation{
			Page:       page,
			URL:        text[m[4]:m[5]],
			ChunkIndex: chunkIndex,
			Snippet:    snippet(text, m[0]),
		})
	}
	return out
}

// Validate splits citations into those whose page was offered as evidence and those
// that reference a page the generation step was never given.
func Validate(cites []schema.Citation, evidence []schema.EvidenceItem) (valid, invalid []schema.Citation) {
	offered := make(map[int]struct{}, len(evidence))
	for _, e := range evidence {
		offered[e.Page] = struct{}{}
	}
	for _, c := range cites {
		if _, ok := offered[c.Page]; ok {
			valid = append(valid, c)
		} else {
			invalid = append(invalid, c)
		}
	}
	return valid, invalid
}

// snippet returns up to snippetRunes of whitespace-collapsed text preceding byte
// offset end, with any earlier markers stripped.
func snippet(text string, end int) string {
	before := canonicalRef.ReplaceAllString(text[:end], "")
	runes := []rune(before)
	if len(runes) > snippetRunes {
		runes = runes[len(runes)-snippetRunes:]
	}
	return strings.Join(strings.Fields(string(runes)), " ")
}
