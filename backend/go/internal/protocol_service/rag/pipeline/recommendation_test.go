package pipeline

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/citations"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/hashcache"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/storages/vectorstore"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func sampleFeatures() PatientFeatures {
	return PatientFeatures{
		Age:          67,
		Sex:          "Female",
		EGFR:         ptr(42),
		ACR:          ptr(35),
		Diabetes:     true,
		Hypertension: true,
		Medications:  []string{"metformin", " ", "amlodipine"},
		Notes:        "  worsening   ankle oedema ",
	}
}

func TestGFRCategory(t *testing.T) {
	cases := map[float64]string{
		120: "G1", 90: "G1", 89.9: "G2", 60: "G2", 59.9: "G3a", 45: "G3a",
		44.9: "G3b", 30: "G3b", 29.9: "G4", 15: "G4", 14.9: "G5", 0: "G5",
	}
	for egfr, want := range cases {
		assert.Equal(t, want, GFRCategory(egfr), "eGFR %v", egfr)
	}
}

func TestAlbuminuriaCategory(t *testing.T) {
	cases := map[float64]string{0: "A1", 2.9: "A1", 3: "A2", 30: "A2", 30.1: "A3", 300: "A3"}
	for acr, want := range cases {
		assert.Equal(t, want, AlbuminuriaCategory(acr), "ACR %v", acr)
	}
}

func TestPatientFeatures_Validate(t *testing.T) {
	assert.NoError(t, sampleFeatures().Validate())
	assert.NoError(t, PatientFeatures{Notes: "new CKD referral"}.Validate())

	bad := []PatientFeatures{
		{},
		{Age: 40},
		{Age: -1, EGFR: ptr(50)},
		{EGFR: ptr(-3)},
		{ACR: ptr(-0.5)},
		{EGFR: ptr(50), Creatinine: ptr(-1)},
		{Notes: "   "},
	}
	for i, f := range bad {
		assert.ErrorIs(t, f.Validate(), ErrInvalidFeatures, "case %d", i)
	}
}

func TestBuildQuery(t *testing.T) {
	q := BuildQuery(sampleFeatures())

	assert.True(t, strings.HasPrefix(q, "67-year-old female patient with chronic kidney disease"))
	assert.Contains(t, q, "CKD stage G3b (eGFR 42 mL/min/1.73m²)")
	assert.Contains(t, q, "albuminuria category A3 (ACR 35 mg/mmol)")
	assert.Contains(t, q, "diabetes")
	assert.Contains(t, q, "hypertension")
	assert.Contains(t, q, "current medications: metformin, amlodipine")
	assert.Contains(t, q, "notes: worsening ankle oedema")
	assert.NotContains(t, q, "creatinine")
}

func TestBuildContext(t *testing.T) {
	items := []schema.EvidenceItem{
		{Page: 1, Section: "Staging", Excerpt: strings.Repeat("a", 100)},
		{Page: 2, Section: "Treatment", Excerpt: strings.Repeat("b", 100)},
	}

	text, offered := BuildContext(items, 2500)
	assert.Len(t, offered, 2)
	assert.True(t, strings.HasPrefix(text, "[Staging] (p.1)\n"))
	assert.Contains(t, text, "\n\n[Treatment] (p.2)\n")

	text, offered = BuildContext(items, 150)
	require.Len(t, offered, 1)
	assert.Equal(t, 1, offered[0].Page)
	assert.NotContains(t, text, "Treatment")

	text, offered = BuildContext(items, 40)
	require.Len(t, offered, 1)
	assert.Len(t, []rune(text), 40)

	text, offered = BuildContext(nil, 2500)
	assert.Empty(t, text)
	assert.Empty(t, offered)
}

func TestPageNumber(t *testing.T) {
	for in, want := range map[interface{}]int{float64(3): 3, "12": 12, "p.7": 7, "page 4": 4} {
		got, ok := pageNumber(in)
		assert.True(t, ok, "%v", in)
		assert.Equal(t, want, got)
	}
	for _, in := range []interface{}{nil, float64(0), 1.5, "none", "0", true} {
		_, ok := pageNumber(in)
		assert.False(t, ok, "%v", in)
	}
}

func TestRecommend_KeepsOnlyOfferedPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.ingestSample(t)
	env.completer.recommendation = func(string) (string, error) {
		return "```json\n" + `{"recommendation":"Start an ACE inhibitor and repeat ACR in 3 months.",
"investigations":["Repeat ACR", " "],"treatment":["Ramipril 2.5 mg daily"],"rationale":"A3 albuminuria.",
"evidence":[{"page":"p.1","link":"http://elsewhere/1","section":"made up","quote":"stage by eGFR"},
{"page":7,"link":"x","section":"y","quote":"not offered"}]}` + "\n```", nil
	}

	rec, err := env.recommender(nil, RecommendationConfig{}).Recommend(ctx, sampleFeatures())
	require.NoError(t, err)

	assert.False(t, rec.Degraded)
	assert.Equal(t, res.DocumentID, rec.DocumentID)
	assert.Equal(t, "Start an ACE inhibitor and repeat ACR in 3 months.", rec.Recommendation)
	assert.Equal(t, []string{"Repeat ACR"}, rec.Investigations)
	assert.Equal(t, []string{"Ramipril 2.5 mg daily"}, rec.Treatment)
	assert.Len(t, rec.Offered, 2)

	require.Len(t, rec.Evidence, 1)
	assert.Equal(t, EvidenceRef{
		Page:    1,
		Link:    citations.ViewerURL(testViewer, 1),
		Section: "Staging",
		Quote:   "stage by eGFR",
	}, rec.Evidence[0])
	assert.Equal(t, 1, rec.Dropped)

	user := env.completer.user("recommendation")
	assert.Contains(t, user, "Protocol summary:\nOverall protocol summary.")
	assert.Contains(t, user, "[Staging] (p.1)")
	assert.Contains(t, user, "Pages you may cite: ")
}

func TestRecommend_WritesAuditAndEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.ingestSample(t)

	rec, err := env.recommender(nil, RecommendationConfig{}).Recommend(ctx, sampleFeatures())
	require.NoError(t, err)

	audits := env.docs.Audits()
	require.Len(t, audits, 1)
	a := audits[0]
	assert.Equal(t, hashcache.HashParts("Overall protocol summary.", a.Context, rec.Query), a.CacheKey)
	assert.Equal(t, rec.DocumentID, a.DocumentID)
	assert.Equal(t, rec.Query, a.Query)
	assert.Len(t, a.Evidence, len(rec.Offered))
	assert.Contains(t, string(a.Response), `"recommendation":"Start an ACE inhibitor."`)
	assert.Contains(t, env.events.types(), EventRecommendation)

	// Audits are never read back: the same request calls the model again.
	_, err = env.recommender(nil, RecommendationConfig{}).Recommend(ctx, sampleFeatures())
	require.NoError(t, err)
	assert.Equal(t, 2, env.completer.count("recommendation"))
	assert.Len(t, env.docs.Audits(), 2)
}

func TestRecommend_NonJSONReplyIsDegraded(t *testing.T) {
	env := newTestEnv(t)
	env.ingestSample(t)
	env.completer.recommendation = func(string) (string, error) { return "I recommend an ACE inhibitor.", nil }

	rec, err := env.recommender(nil, RecommendationConfig{}).Recommend(context.Background(), sampleFeatures())
	require.NoError(t, err)

	assert.True(t, rec.Degraded)
	assert.Empty(t, rec.Recommendation)
	assert.NotNil(t, rec.Investigations)
	assert.NotNil(t, rec.Treatment)
	assert.NotNil(t, rec.Evidence)
	assert.Empty(t, rec.Evidence)
	assert.NotEmpty(t, rec.Offered)
	assert.Empty(t, env.docs.Audits(), "degraded responses are not audited")
	assert.Contains(t, env.events.types(), EventRecommendation)
}

func TestRecommend_CompletionErrorIsDegraded(t *testing.T) {
	env := newTestEnv(t)
	env.ingestSample(t)
	env.completer.recommendation = func(string) (string, error) { return "", errors.New("rate limited") }

	rec, err := env.recommender(nil, RecommendationConfig{}).Recommend(context.Background(), sampleFeatures())
	require.NoError(t, err)
	assert.True(t, rec.Degraded)
	assert.Empty(t, rec.Evidence)
}

func TestRecommend_QueryEmbeddingFailureSkipsCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.ingestSample(t)
	env.model.fail = func(string) bool { return true }

	rec, err := env.recommender(nil, RecommendationConfig{}).Recommend(context.Background(), sampleFeatures())
	require.NoError(t, err)

	assert.True(t, rec.Degraded)
	assert.Empty(t, rec.Recommendation)
	assert.Empty(t, rec.Rationale)
	assert.Empty(t, rec.Treatment)
	assert.Empty(t, rec.Evidence)
	assert.NotEmpty(t, rec.Offered, "fallback evidence is still returned")
	assert.Zero(t, env.completer.count("recommendation"))
	assert.Empty(t, env.docs.Audits())
}

func TestRecommend_InvalidFeatures(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.recommender(nil, RecommendationConfig{}).Recommend(context.Background(), PatientFeatures{Age: 50})
	assert.ErrorIs(t, err, ErrInvalidFeatures)
}

func TestRecommend_UnknownDocument(t *testing.T) {
	env := newTestEnv(t)
	env.ingestSample(t)
	f := sampleFeatures()
	f.DocumentID = "does-not-exist"

	_, err := env.recommender(nil, RecommendationConfig{}).Recommend(context.Background(), f)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRecommend_NoDocumentsIsDegradedWithoutCall(t *testing.T) {
	env := newTestEnv(t)

	rec, err := env.recommender(nil, RecommendationConfig{}).Recommend(context.Background(), sampleFeatures())
	require.NoError(t, err)

	assert.True(t, rec.Degraded)
	assert.Empty(t, rec.DocumentID)
	assert.Empty(t, rec.Offered)
	assert.Zero(t, env.completer.count("recommendation"))
}

func TestRecommend_UsesVectorStoreHits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.ingestSample(t)

	db, err := vectorstore.OpenChromem("")
	require.NoError(t, err)
	vectors, err := vectorstore.NewChromemStore(db, "protocol_chunks")
	require.NoError(t, err)
	chunks, err := env.docs.Chunks(ctx, res.DocumentID, 0)
	require.NoError(t, err)
	require.NoError(t, vectors.Upsert(ctx, chunks))

	rec, err := env.recommender(vectors, RecommendationConfig{Threshold: -1, CandidatePool: 1}).Recommend(ctx, sampleFeatures())
	require.NoError(t, err)
	assert.Len(t, rec.Offered, 1, "the pool bounds the nearest-neighbour hits")

	// Nothing clears a near-perfect threshold, so the first chunks are scanned instead.
	rec, err = env.recommender(vectors, RecommendationConfig{Threshold: 0.9999, CandidatePool: 12}).Recommend(ctx, sampleFeatures())
	require.NoError(t, err)
	assert.Len(t, rec.Offered, 2)
}

func TestHealSections_PersistsMissingEmbeddings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.docs.SaveChunks(ctx, []schema.Chunk{
		{DocumentID: "doc", Index: 0, Text: "staging by eGFR", StartOffset: 0, EndOffset: 100},
		{DocumentID: "doc", Index: 1, Text: "ramipril titration", StartOffset: 100, EndOffset: 200},
	}))
	require.NoError(t, env.docs.SaveSections(ctx, "doc", []schema.Section{
		{Title: "Treatment", StartOffset: 100},
		{Title: "Staging", StartOffset: 0, Embedding: []float32{9}},
	}))
	stored, err := env.docs.Sections(ctx, "doc")
	require.NoError(t, err)

	healed := env.embedder.HealSections(ctx, "doc", stored)

	require.Len(t, healed, 2)
	assert.Equal(t, []float32{9}, healed[0].Embedding, "existing vectors are kept")
	want, err := env.model.Embed(ctx, "ramipril titration")
	require.NoError(t, err)
	assert.Equal(t, want, healed[1].Embedding)

	persisted, err := env.docs.Sections(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, want, persisted[1].Embedding)
}
