package pipeline

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/embeddings"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/hashcache"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/rerankers"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/sectionizer"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/splitters"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/storages/blobstore"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/storages/docstore"
	"ckd-decision-support/backend/go/pkg/logger"
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testViewer = "https://ckd.example.org"

// fakeCompleter routes each call by the system prompt it was sent.
type fakeCompleter struct {
	mu             sync.Mutex
	calls          map[string]int
	outline        string
	chunkSummary   func(user string) (string, error)
	finalSummary   func(user string) (string, error)
	recommendation func(user string) (string, error)
	lastUser       map[string]string
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{
		calls:        make(map[string]int),
		lastUser:     make(map[string]string),
		outline:      `{"sections":[{"title":"Staging","start_offset":0},{"title":"Treatment","start_offset":2500}]}`,
		chunkSummary: func(string) (string, error) { return "Stage by eGFR and ACR (p.9)", nil },
		finalSummary: func(string) (string, error) { return "Overall protocol summary.", nil },
		recommendation: func(string) (string, error) {
			return `{"recommendation":"Start an ACE inhibitor.","investigations":["Repeat ACR"],"treatment":["Ramipril"],"rationale":"Albuminuria.","evidence":[]}`, nil
		},
	}
}

func (f *fakeCompleter) Complete(_ context.Context, messages []schema.Message, _ schema.GenerationParams) (string, error) {
	system, user := messages[0].Content, messages[len(messages)-1].Content
	kind := "outline"
	switch {
	case system == chunkSummaryPrompt:
		kind = "chunk"
	case system == finalSummaryPrompt:
		kind = "final"
	case system == recommendationPrompt:
		kind = "recommendation"
	}

	f.mu.Lock()
	f.calls[kind]++
	f.lastUser[kind] = user
	f.mu.Unlock()

	switch kind {
	case "chunk":
		return f.chunkSummary(user)
	case "final":
		return f.finalSummary(user)
	case "recommendation":
		return f.recommendation(user)
	default:
		return f.outline, nil
	}
}

func (f *fakeCompleter) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

func (f *fakeCompleter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeCompleter) user(kind string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUser[kind]
}

// hashModel is a deterministic bag-of-words embedding. The first dimension is a
// constant so no vector is ever all zeros.
type hashModel struct {
	fail func(text string) bool
}

func (m *hashModel) Embed(_ context.Context, text string) ([]float32, error) {
	if m.fail != nil && m.fail(text) {
		return nil, errors.New("embedding service unavailable")
	}
	vec := make([]float32, 16)
	vec[0] = 1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[1+h.Sum32()%15]++
	}
	return vec, nil
}

type fakeExtractor struct {
	ext *schema.Extraction
	err error
}

func (e *fakeExtractor) Extract(context.Context, []byte, string) (*schema.Extraction, error) {
	if e.err != nil {
		return nil, e.err
	}
	cp := *e.ext
	return &cp, nil
}

type publishedEvent struct {
	key       string
	eventType string
	payload   map[string]interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, key, eventType string, payload map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{key: key, eventType: eventType, payload: payload})
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.eventType)
	}
	return out
}

// pageText returns exactly n runes of repeated words.
func pageText(words string, n int) string {
	s := strings.Repeat(words+" ", n/len(words)+1)
	return string([]rune(s)[:n])
}

// twoPageExtraction is a 2000 + 2 + 2000 rune document: with 3200-rune chunks,
// chunk 0 starts on page 1 and chunk 1 on page 2.
func twoPageExtraction() *schema.Extraction {
	p1 := pageText("eGFR staging guidance for adults", 2000)
	p2 := pageText("ramipril dosing and potassium monitoring", 2000)
	return &schema.Extraction{
		FullText:  p1 + "\n\n" + p2,
		Pages:     []schema.Page{{Number: 1, Text: p1}, {Number: 2, Text: p2}},
		PageCount: 2,
	}
}

type testEnv struct {
	docs      *docstore.MemoryStore
	cache     *hashcache.MemoryStore
	blobs     *blobstore.MemoryStore
	events    *recordingPublisher
	completer *fakeCompleter
	model     *hashModel
	extractor *fakeExtractor
	client    *embeddings.Client
	embedder  *Embedder
	ingest    *IngestionPipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cache, err := hashcache.NewMemoryStore(16, time.Hour)
	require.NoError(t, err)

	env := &testEnv{
		docs:      docstore.NewMemoryStore(),
		cache:     cache,
		blobs:     blobstore.NewMemoryStore(testViewer),
		events:    &recordingPublisher{},
		completer: newFakeCompleter(),
		model:     &hashModel{},
		extractor: &fakeExtractor{ext: twoPageExtraction()},
	}
	env.client = embeddings.NewClient(env.model, logger.Discard(), embeddings.WithRetry(1, 0))
	env.embedder = NewEmbedder(env.client, env.docs, 3200, 3, logger.Discard())
	env.rebuildIngestion(env.docs)
	return env
}

// rebuildIngestion wires the ingestion pipeline against docs, which may wrap env.docs.
func (e *testEnv) rebuildIngestion(docs interfaces.DocStore) {
	e.ingest = NewIngestionPipeline(IngestionDeps{
		Extractor:   e.extractor,
		Completer:   e.completer,
		Sectionizer: sectionizer.New(e.completer, 0, logger.Discard()),
		Splitter:    splitters.NewFixedSplitter(3200),
		Embedder:    e.embedder,
		Docs:        docs,
		Cache:       e.cache,
		Blobs:       e.blobs,
		Events:      e.events,
	}, IngestionConfig{SeparatorLength: 2, ViewerBase: testViewer}, logger.Discard())
}

func (e *testEnv) recommender(vectors interfaces.VectorStore, cfg RecommendationConfig) *RecommendationPipeline {
	cfg.ViewerBase = testViewer
	return NewRecommendationPipeline(RecommendationDeps{
		Embeddings: e.client,
		Embedder:   e.embedder,
		Ranker:     rerankers.NewSectionBoostRanker(e.client, 1.0, 8, 600, testViewer),
		Completer:  e.completer,
		Docs:       e.docs,
		Vectors:    vectors,
		Events:     e.events,
	}, cfg, logger.Discard())
}

func (e *testEnv) ingestSample(t *testing.T) *IngestResult {
	t.Helper()
	res, err := e.ingest.Ingest(context.Background(), IngestRequest{
		Name:     "KDIGO CKD",
		Version:  "2024",
		Filename: "kdigo.pdf",
		Data:     []byte("%PDF-1.7 sample"),
	})
	require.NoError(t, err)
	return res
}
