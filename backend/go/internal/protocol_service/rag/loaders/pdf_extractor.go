package loaders

import (
	"bytes"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"ckd-decision-support/backend/go/internal/protocol_service/rag/schema"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	// PageSeparator is placed between page texts in the full text.
	PageSeparator = "\n\n"
	// OCRUnavailableMarker replaces the text of pages that would need OCR.
	OCRUnavailableMarker = "[OCR UNAVAILABLE]"
	// minPageTextLength is the shortest text layer treated as real content.
	minPageTextLength = 20
)

// LocalPDFExtractor reads the PDF text layer in-process. It cannot OCR: pages
// with too little text are replaced by OCRUnavailableMarker and OCRUsed is set.
type LocalPDFExtractor struct{}

// NewLocalPDFExtractor creates a LocalPDFExtractor.
func NewLocalPDFExtractor() *LocalPDFExtractor {
	return &LocalPDFExtractor{}
}

// Extract returns the per-page plain text of data.
func (e *LocalPDFExtractor) Extract(ctx context.Context, data []byte, filename string) (ext *schema.Extraction, err error) {
	if err := ValidatePDF(data, filename); err != nil {
		return nil, err
	}
	// The pdf package panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			ext, err = nil, fmt.Errorf("PDF read error: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("PDF read error: %w", err)
	}

	n := reader.NumPage()
	pages := make([]schema.Page, 0, n)
	texts := make([]string, 0, n)
	ocrNeeded := false
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := ""
		if p := reader.Page(i); !p.V.IsNull() {
			if t, err := p.GetPlainText(nil); err == nil {
				text = strings.TrimSpace(t)
			}
		}
		if len([]rune(text)) < minPageTextLength {
			ocrNeeded = true
			text = OCRUnavailableMarker
		}
		pages = append(pages, schema.Page{Number: i, Text: text})
		texts = append(texts, text)
	}

	return &schema.Extraction{
		FullText:  strings.Join(texts, PageSeparator),
		Pages:     pages,
		PageCount: n,
		OCRUsed:   ocrNeeded,
	}, nil
}

// compile-time check to ensure LocalPDFExtractor implements the Extractor interface
var _ interfaces.Extractor = (*LocalPDFExtractor)(nil)
