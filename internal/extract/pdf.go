package extract

import (
	"bytes"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// extractPDF reads the text operators of every page content stream.
// Scanned PDFs without a text layer yield no text.
func extractPDF(data []byte) (string, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return "", errors.Wrap(err, "failed to read PDF")
	}

	var pages []string
	for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
		if text := extractPageText(pdfCtx, pageNr); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return "", errors.WithHint(errors.New("no text content found in PDF"),
			"the PDF may be a scan without a text layer")
	}
	return strings.Join(pages, "\n\n"), nil
}

func extractPageText(pdfCtx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(pdfCtx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return textFromContentStream(data)
}

// kernSpace is the TJ displacement, in thousandths of an em, at or beyond
// which a gap is read as a word break.
const kernSpace = -200

// contentLexer splits a page content stream into operands and operators.
type contentLexer struct {
	data []byte
	pos  int
}

func isPDFSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', 0:
		return true
	}
	return false
}

func isPDFDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// regular reads a run of regular characters.
func (l *contentLexer) regular() []byte {
	start := l.pos
	for l.pos < len(l.data) && !isPDFSpace(l.data[l.pos]) && !isPDFDelim(l.data[l.pos]) {
		l.pos++
	}
	return l.data[start:l.pos]
}

// literal reads a parenthesised string with balanced nesting, l.pos at '('.
func (l *contentLexer) literal() []byte {
	l.pos++
	start, depth := l.pos, 1
	for l.pos < len(l.data) {
		switch l.data[l.pos] {
		case '\\':
			l.pos++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				raw := l.data[start:l.pos]
				l.pos++
				return raw
			}
		}
		l.pos++
	}
	return l.data[start:]
}

// hexString reads a <...> string, l.pos at '<'.
func (l *contentLexer) hexString() string {
	l.pos++
	var digits []byte
	for l.pos < len(l.data) && l.data[l.pos] != '>' {
		if c := l.data[l.pos]; !isPDFSpace(c) {
			digits = append(digits, c)
		}
		l.pos++
	}
	l.pos++
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, hex.DecodedLen(len(digits)))
	n, _ := hex.Decode(out, digits)
	return string(out[:n])
}

// skipInlineImage moves past binary inline image data up to "EI".
func (l *contentLexer) skipInlineImage() {
	for l.pos+2 < len(l.data) {
		if isPDFSpace(l.data[l.pos]) && l.data[l.pos+1] == 'E' && l.data[l.pos+2] == 'I' &&
			(l.pos+3 == len(l.data) || isPDFSpace(l.data[l.pos+3])) {
			l.pos += 3
			return
		}
		l.pos++
	}
	l.pos = len(l.data)
}

// textFromContentStream collects the string operands of the Tj, TJ, ' and "
// operators and turns T*, Td, TD, Tm and ET into line breaks and spaces.
// Operators may share a line with anything else.
func textFromContentStream(data []byte) string {
	var sb strings.Builder
	l := &contentLexer{data: data}
	var operands []string
	inArray := false

	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case isPDFSpace(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
		case c == '(':
			operands = append(operands, decodePDFString(l.literal()))
		case c == '<' && l.pos+1 < len(l.data) && l.data[l.pos+1] == '<':
			l.pos += 2
		case c == '<':
			operands = append(operands, l.hexString())
		case c == '>':
			l.pos++
		case c == '[':
			inArray = true
			l.pos++
		case c == ']':
			inArray = false
			l.pos++
		case c == '/':
			l.pos++
			l.regular()
		case c == '{', c == '}', c == ')':
			l.pos++
		default:
			tok := l.regular()
			if len(tok) == 0 {
				l.pos++
				continue
			}
			if num, err := strconv.ParseFloat(string(tok), 64); err == nil {
				if inArray && num <= kernSpace {
					operands = append(operands, " ")
				}
				continue
			}
			if tok[0] == '+' || tok[0] == '-' || tok[0] == '.' {
				continue
			}
			writeTextOperator(&sb, string(tok), operands)
			if string(tok) == "BI" {
				l.skipInlineImage()
			}
			operands = operands[:0]
			inArray = false
		}
	}

	return cleanText(sb.String())
}

func writeTextOperator(sb *strings.Builder, op string, operands []string) {
	switch op {
	case "Tj", "TJ":
		for _, s := range operands {
			sb.WriteString(s)
		}
	case "'", "\"":
		sb.WriteByte('\n')
		if len(operands) > 0 {
			sb.WriteString(operands[len(operands)-1])
		}
	case "Td", "TD", "Tm":
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
	case "T*", "ET":
		sb.WriteByte('\n')
	}
}

// decodePDFString handles the escape sequences of PDF literal strings.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] < '0' || raw[i] > '7' {
				sb.WriteByte(raw[i])
				continue
			}
			val := int(raw[i] - '0')
			for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}

// cleanText collapses runs of spaces, keeps single line breaks and drops
// non-printable runes.
func cleanText(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		var sb strings.Builder
		space := false
		for _, r := range line {
			switch {
			case unicode.IsSpace(r):
				space = sb.Len() > 0
			case unicode.IsPrint(r):
				if space {
					sb.WriteByte(' ')
					space = false
				}
				sb.WriteRune(r)
			}
		}
		if sb.Len() > 0 {
			out = append(out, sb.String())
		}
	}
	return strings.Join(out, "\n")
}
