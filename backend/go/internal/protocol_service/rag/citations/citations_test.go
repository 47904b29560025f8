package citations

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "https://ckd.example.org"

func TestViewerURL(t *testing.T) {
	assert.Equal(t, "https://ckd.example.org/viewer?page=3", ViewerURL(base, 3))
	assert.Equal(t, "https://ckd.example.org/viewer?page=3", ViewerURL(base+"/", 3))
}

func TestNormalize_RewritesEveryVariantToChunkPage(t *testing.T) {
	want := "[↗ p.4](https://ckd.example.org/viewer?page=4)"

	tests := []string{
		"(p.12)",
		"[p.12]",
		"[↗ p.12]",
		"[↗p. 12]",
		"[↗ p.12](https://elsewhere/viewer?page=12)",
		"[p.12](https://elsewhere)",
	}
	for _, in := range tests {
		assert.Equal(t, "Start ACE inhibitor "+want+".", Normalize("Start ACE inhibitor "+in+".", 4, base), in)
	}
}

func TestNormalize_LeavesOtherTextAlone(t *testing.T) {
	in := "eGFR (ml/min) [see table] p.5 of the appendix"
	assert.Equal(t, in, Normalize(in, 2, base))
}

func TestExtract(t *testing.T) {
	text := Normalize("Refer if eGFR < 30 (p.9). Review potassium [p.1].", 3, base)
	cites := Extract(text, 7)

	require.Len(t, cites, 2)
	for _, c := range cites {
		assert.Equal(t, 3, c.Page)
		assert.Equal(t, "https://ckd.example.org/viewer?page=3", c.URL)
		assert.Equal(t, 7, c.ChunkIndex)
	}
	assert.Equal(t, "Refer if eGFR < 30", cites[0].Snippet)
	assert.Equal(t, "Refer if eGFR < 30 . Review potassium", cites[1].Snippet)
}

func TestExtract_IgnoresLooseMarkers(t *testing.T) {
	assert.Empty(t, Extract("see (p.3) and [↗ p.3]", 0))
}

func TestValidate(t *testing.T) {
	evidence := []schema.EvidenceItem{{Page: 2}, {Page: 5}}
	valid, invalid := Validate([]schema.Citation{{Page: 2}, {Page: 3}, {Page: 5}}, evidence)

	assert.Equal(t, []schema.Citation{{Page: 2}, {Page: 5}}, valid)
	assert.Equal(t, []schema.Citation{{Page: 3}}, invalid)
}
