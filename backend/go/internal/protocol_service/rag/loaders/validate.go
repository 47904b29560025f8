package loaders

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnsupportedType is returned for uploads that are not PDF documents.
var ErrUnsupportedType = errors.New("file must be a PDF")

const pdfMIME = "application/pdf"

// ValidatePDF checks the filename extension (when there is one) and the sniffed
// content type. Both must agree that the upload is a PDF.
func ValidatePDF(data []byte, filename string) error {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" && ext != ".pdf" {
		return fmt.Errorf("%w: extension %q", ErrUnsupportedType, ext)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty upload", ErrUnsupportedType)
	}
	if mt := mimetype.Detect(data); !mt.Is(pdfMIME) {
		return fmt.Errorf("%w: detected %s", ErrUnsupportedType, mt.String())
	}
	return nil
}
