package extract

import (
	"context"
	"testing"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText_Plain(t *testing.T) {
	e := New()
	ctx := context.Background()

	text, err := e.ExtractText(ctx, []byte("hello text"), MimeText)
	require.NoError(t, err)
	assert.Equal(t, "hello text", text)

	text, err = e.ExtractText(ctx, append([]byte{0xEF, 0xBB, 0xBF}, "# Title"...), "text/markdown; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "# Title", text)
}

func TestExtractText_Failures(t *testing.T) {
	e := New()
	ctx := context.Background()

	cases := []struct {
		name string
		data []byte
		mime string
	}{
		{"empty", nil, MimeText},
		{"whitespace only", []byte("  \n\t "), MimeText},
		{"invalid utf8", []byte{0xff, 0xfe, 0xfd}, MimeText},
		{"unsupported", []byte("PK\x03\x04"), "application/zip"},
		{"corrupt pdf", []byte("%PDF-1.4 this is not really a pdf"), MimePDF},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.ExtractText(ctx, tc.data, tc.mime)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrExtractionFailure))
		})
	}
}

func TestExtractText_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().ExtractText(ctx, []byte("x"), MimeText)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMimeFromFilename(t *testing.T) {
	assert.Equal(t, MimePDF, MimeFromFilename("Report.PDF"))
	assert.Equal(t, MimeText, MimeFromFilename("notes.txt"))
	assert.Equal(t, MimeMarkdown, MimeFromFilename("README.md"))
	assert.Equal(t, "", MimeFromFilename("sheet.xlsx"))
}

func TestTextFromContentStream(t *testing.T) {
	stream := []byte(`BT
/F1 12 Tf
72 712 Td
(Quarterly report) Tj
T*
[(Revenue ) -250 (grew \(12%\))] TJ
ET
BT
(A\102C) Tj
ET`)
	text := textFromContentStream(stream)
	assert.Equal(t, "Quarterly report\nRevenue grew (12%)\nABC", text)
}

func TestTextFromContentStream_Forms(t *testing.T) {
	cases := []struct {
		name   string
		stream string
		want   string
	}{
		{"single line", `BT /F1 12 Tf 72 712 Td (Hello world) Tj ET`, "Hello world"},
		{"hex string", `BT /F1 12 Tf <48656C6C6F> Tj ET`, "Hello"},
		{"hex with odd digits and spaces", `BT <48 65 6C 6C 6F 2> Tj ET`, "Hello"},
		{"kerned array", `BT [(Hel) 20 (lo) -300 <776F726C64>] TJ ET`, "Hello world"},
		{"quote operator", `BT (first) Tj (second) ' ET`, "first\nsecond"},
		{"nested parens", `BT (f(x) = y) Tj ET`, "f(x) = y"},
		{"comment and dict", `% header
/P <</MCID 0>> BDC BT (marked) Tj ET EMC`, "marked"},
		{"inline image", `BI /W 1 /H 1 ID \x00Tj(junk) EI BT (after) Tj ET`, "after"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, textFromContentStream([]byte(tc.stream)))
		})
	}
}

func TestDecodePDFString(t *testing.T) {
	assert.Equal(t, "a\nb", decodePDFString([]byte(`a\nb`)))
	assert.Equal(t, "(x)", decodePDFString([]byte(`\(x\)`)))
	assert.Equal(t, " ", decodePDFString([]byte(`\040`)))
}
