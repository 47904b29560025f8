package loaders

import (
	"ckd-decision-support/backend/go/internal/config"
	pkghttp "ckd-decision-support/backend/go/pkg/http"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakePDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

func TestValidatePDF(t *testing.T) {
	assert.NoError(t, ValidatePDF(fakePDF, "guideline.PDF"))
	assert.NoError(t, ValidatePDF(fakePDF, ""))
	assert.ErrorIs(t, ValidatePDF(fakePDF, "guideline.docx"), ErrUnsupportedType)
	assert.ErrorIs(t, ValidatePDF([]byte("plain text, not a pdf"), "guideline.pdf"), ErrUnsupportedType)
	assert.ErrorIs(t, ValidatePDF(nil, "guideline.pdf"), ErrUnsupportedType)
}

func newClient(t *testing.T) *pkghttp.Client {
	c, err := pkghttp.NewClient(config.CircuitBreakerConfig{}, 5*time.Second)
	require.NoError(t, err)
	return c
}

func TestRemoteExtractor_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "kdigo.pdf", hdr.Filename)
		body, _ := io.ReadAll(f)
		assert.Equal(t, fakePDF, body)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "success",
			"page_count": 2,
			"ocr_used":   true,
			"pages": []map[string]interface{}{
				{"page_number": 1, "text": "page one"},
				{"page_number": 2, "text": "page two"},
			},
			"full_text": "page one\n\npage two",
		})
	}))
	defer srv.Close()

	ext, err := NewRemoteExtractor(srv.URL+"/", newClient(t)).Extract(context.Background(), fakePDF, "/tmp/kdigo.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, ext.PageCount)
	assert.True(t, ext.OCRUsed)
	assert.Equal(t, "page one\n\npage two", ext.FullText)
	assert.Equal(t, 2, ext.Pages[1].Number)
}

func TestRemoteExtractor_BuildsFullTextFromPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","pages":[{"page_number":1,"text":"a"},{"page_number":2,"text":"b"}]}`))
	}))
	defer srv.Close()

	ext, err := NewRemoteExtractor(srv.URL, newClient(t)).Extract(context.Background(), fakePDF, "x.pdf")
	require.NoError(t, err)
	assert.Equal(t, "a\n\nb", ext.FullText)
	assert.Equal(t, 2, ext.PageCount)
}

func TestRemoteExtractor_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"PDF read error: EOF"}`))
	}))
	defer srv.Close()

	_, err := NewRemoteExtractor(srv.URL, newClient(t)).Extract(context.Background(), fakePDF, "x.pdf")
	assert.ErrorContains(t, err, "PDF read error: EOF")
}

func TestRemoteExtractor_RejectsNonPDFBeforeCalling(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	_, err := NewRemoteExtractor(srv.URL, newClient(t)).Extract(context.Background(), []byte("hello"), "notes.txt")
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.False(t, called)
}

func TestLocalPDFExtractor_RejectsNonPDF(t *testing.T) {
	_, err := NewLocalPDFExtractor().Extract(context.Background(), []byte("hello"), "notes.txt")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestLocalPDFExtractor_MalformedPDFIsAnError(t *testing.T) {
	_, err := NewLocalPDFExtractor().Extract(context.Background(), []byte("%PDF-1.4\ngarbage"), "broken.pdf")
	assert.Error(t, err)
}
