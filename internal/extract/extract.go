// Package extract turns uploaded bytes into plain text.
package extract

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
)

// MIME types understood by the extractor.
const (
	MimePDF      = "application/pdf"
	MimeText     = "text/plain"
	MimeMarkdown = "text/markdown"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Extractor converts raw document bytes to text. All failures are marked
// errors.ErrExtractionFailure.
type Extractor struct{}

// New creates an extractor.
func New() *Extractor { return &Extractor{} }

// MimeFromFilename maps a file extension to a supported MIME type, or "".
func MimeFromFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return MimePDF
	case ".txt":
		return MimeText
	case ".md", ".markdown":
		return MimeMarkdown
	default:
		return ""
	}
}

// ExtractText returns the text of data interpreted as mimeType.
func (e *Extractor) ExtractText(ctx context.Context, data []byte, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.Mark(errors.New("file is empty"), errors.ErrExtractionFailure)
	}

	var text string
	var err error
	switch baseMime(mimeType) {
	case MimePDF:
		text, err = extractPDF(data)
	case MimeText, MimeMarkdown:
		text, err = extractPlain(data)
	default:
		err = errors.Newf("unsupported file type %q", mimeType)
	}
	if err != nil {
		return "", errors.Mark(err, errors.ErrExtractionFailure)
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.Mark(errors.New("no text content found in document"), errors.ErrExtractionFailure)
	}
	return text, nil
}

func baseMime(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}

func extractPlain(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", errors.WithHint(errors.New("text file is not valid UTF-8"), "re-save the file with UTF-8 encoding")
	}
	return string(data), nil
}
