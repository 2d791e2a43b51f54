package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_ShortTextSingleChunk(t *testing.T) {
	c := Chunker{MaxChars: 100, Overlap: 10}
	assert.False(t, c.NeedsSplit("short text"))

	chunks := c.Split("short text")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].OverlapPrev)
	assert.Equal(t, "short text", chunks[0].Text)
	assert.Nil(t, c.Split(""))
}

func TestChunker_Lossless(t *testing.T) {
	cases := []struct {
		name string
		text string
		c    Chunker
	}{
		{"words", strings.Repeat("the quick brown fox jumps over the lazy dog. ", 200), Chunker{MaxChars: 500, Overlap: 50}},
		{"no whitespace", strings.Repeat("x", 1234), Chunker{MaxChars: 100, Overlap: 20}},
		{"multibyte", strings.Repeat("résumé naïve 東京 ", 300), Chunker{MaxChars: 256, Overlap: 32}},
		{"no overlap", strings.Repeat("line\n", 700), Chunker{MaxChars: 333}},
		{"overlap clamped", strings.Repeat("ab ", 100), Chunker{MaxChars: 10, Overlap: 50}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.True(t, tc.c.NeedsSplit(tc.text))
			chunks := tc.c.Split(tc.text)
			require.Greater(t, len(chunks), 1)

			assert.Equal(t, tc.text, Join(chunks))

			runes := []rune(tc.text)
			prevEnd := 0
			for i, ch := range chunks {
				assert.Equal(t, i, ch.Index)
				assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), tc.c.MaxChars)
				assert.Equal(t, prevEnd, ch.Start+ch.OverlapPrev, "chunk %d must continue where the previous ended", i)
				assert.Equal(t, string(runes[ch.Start:ch.End]), ch.Text)
				prevEnd = ch.End
			}
			assert.Equal(t, len(runes), prevEnd)
		})
	}
}

func TestChunker_PrefersWhitespace(t *testing.T) {
	text := strings.Repeat("word ", 100)
	chunks := Chunker{MaxChars: 52, Overlap: 0}.Split(text)
	for _, ch := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(ch.Text, " "), "chunk %q should end at a word boundary", ch.Text)
	}
}

func TestChunker_Defaults(t *testing.T) {
	c := Chunker{}
	assert.False(t, c.NeedsSplit(strings.Repeat("a", DefaultChunkMaxChars)))
	assert.True(t, c.NeedsSplit(strings.Repeat("a", DefaultChunkMaxChars+1)))
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, LanguageEnglish, DetectLanguage("The results of the study show that the method works for most of the cases."))
	assert.Equal(t, LanguageUnknown, DetectLanguage("Die Ergebnisse zeigen deutlich eine Verbesserung gegenüber früher."))
	assert.Equal(t, LanguageUnknown, DetectLanguage(""))
	assert.Equal(t, LanguageUnknown, DetectLanguage("   \n "))
}
