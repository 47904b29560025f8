package loaders

import (
	"bytes"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	pkghttp "ckd-decision-support/backend/go/pkg/http"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

// RemoteExtractor calls the text/OCR extraction service: a multipart POST of the
// file to {baseURL}/extract.
type RemoteExtractor struct {
	baseURL string
	client  *pkghttp.Client
}

type extractPage struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

type extractResponse struct {
	Status    string        `json:"status"`
	PageCount int           `json:"page_count"`
	OCRUsed   bool          `json:"ocr_used"`
	Pages     []extractPage `json:"pages"`
	FullText  string        `json:"full_text"`
	Detail    string        `json:"detail"`
}

// NewRemoteExtractor creates a RemoteExtractor. client carries the timeout and breaker.
func NewRemoteExtractor(baseURL string, client *pkghttp.Client) *RemoteExtractor {
	return &RemoteExtractor{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Extract uploads data and converts the service's reply into an Extraction.
func (e *RemoteExtractor) Extract(ctx context.Context, data []byte, filename string) (*schema.Extraction, error) {
	if err := ValidatePDF(data, filename); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/extract", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction service unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read extraction response: %w", err)
	}

	var out extractResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(out.Detail)
		if msg == "" {
			msg = truncate(string(raw), 200)
		}
		return nil, fmt.Errorf("extraction service returned %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode extraction response: %w", decodeErr)
	}
	if out.Status != "" && out.Status != "success" {
		return nil, fmt.Errorf("extraction service reported status %q", out.Status)
	}
	return out.toExtraction(), nil
}

func (r extractResponse) toExtraction() *schema.Extraction {
	pages := make([]schema.Page, len(r.Pages))
	texts := make([]string, len(r.Pages))
	for i, p := range r.Pages {
		number := p.PageNumber
		if number < 1 {
			number = i + 1
		}
		pages[i] = schema.Page{Number: number, Text: p.Text}
		texts[i] = p.Text
	}

	full := r.FullText
	if full == "" && len(texts) > 0 {
		full = strings.Join(texts, PageSeparator)
	}
	if len(pages) == 0 && full != "" {
		pages = []schema.Page{{Number: 1, Text: full}}
	}
	count := r.PageCount
	if count < len(pages) {
		count = len(pages)
	}
	return &schema.Extraction{FullText: full, Pages: pages, PageCount: count, OCRUsed: r.OCRUsed}
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "…"
}

// compile-time check to ensure RemoteExtractor implements the Extractor interface
var _ interfaces.Extractor = (*RemoteExtractor)(nil)
