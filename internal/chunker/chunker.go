// Package chunker splits source text into ordered, size-targeted chunks along paragraph and
// sentence boundaries.
package chunker

import (
	"regexp"
	"strings"

	"coherentrecon/internal/wordutil"
)

// Chunk is one ordered slice of the source document.
type Chunk struct {
	Text      string
	WordCount int
}

const (
	hardFloor = 200
)

var reSentenceBoundary = regexp.MustCompile(`(?s)([.!?])\s+`)

// Split divides input into ordered chunks targeting approximately target input words per chunk.
// Splitting prefers paragraph boundaries, falling back to sentence boundaries when a single
// paragraph exceeds the ceiling (2x target). A trailing chunk under hardFloor (200) words is merged
// into its predecessor; an earlier chunk can still end up under hardFloor when adding the next
// unit would push it past the ceiling. Split is stable: identical input always yields identical
// chunking.
func Split(input string, target int) []Chunk {
	input = strings.TrimRight(input, "\n")
	if target < hardFloor {
		target = hardFloor
	}
	ceiling := target * 2

	paragraphs := splitParagraphs(input)
	if len(paragraphs) == 0 {
		return nil
	}

	totalWords := wordutil.CountWords(input)
	if totalWords <= target {
		return []Chunk{{Text: strings.TrimSpace(input), WordCount: totalWords}}
	}

	var units []string
	for _, p := range paragraphs {
		if wordutil.CountWords(p) > ceiling {
			units = append(units, splitSentences(p, ceiling)...)
		} else {
			units = append(units, p)
		}
	}

	var chunks []Chunk
	var buf strings.Builder
	bufWords := 0

	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text == "" {
			return
		}
		chunks = append(chunks, Chunk{Text: text, WordCount: wordutil.CountWords(text)})
		buf.Reset()
		bufWords = 0
	}

	for _, u := range units {
		uWords := wordutil.CountWords(u)
		if bufWords > 0 && bufWords+uWords > ceiling {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(u)
		bufWords += uWords
		if bufWords >= target {
			flush()
		}
	}
	flush()

	return mergeUndersized(chunks, target)
}

// mergeUndersized folds any trailing chunk below hardFloor into its predecessor, so long as the
// input as a whole exceeds hardFloor (a genuinely tiny input is left as its own single chunk by
// the caller before reaching here).
func mergeUndersized(chunks []Chunk, target int) []Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	last := chunks[len(chunks)-1]
	if last.WordCount >= hardFloor {
		return chunks
	}
	prev := chunks[len(chunks)-2]
	merged := Chunk{
		Text:      prev.Text + "\n\n" + last.Text,
		WordCount: prev.WordCount + last.WordCount,
	}
	out := append([]Chunk{}, chunks[:len(chunks)-2]...)
	out = append(out, merged)
	return out
}

func splitParagraphs(input string) []string {
	raw := regexp.MustCompile(`\n\s*\n`).Split(input, -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences breaks an oversized paragraph into sentence-boundary groups, each under
// ceiling words.
func splitSentences(paragraph string, ceiling int) []string {
	sentences := splitOnSentenceBoundary(paragraph)
	var groups []string
	var buf strings.Builder
	bufWords := 0
	for _, s := range sentences {
		sWords := wordutil.CountWords(s)
		if bufWords > 0 && bufWords+sWords > ceiling {
			groups = append(groups, strings.TrimSpace(buf.String()))
			buf.Reset()
			bufWords = 0
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(s)
		bufWords += sWords
	}
	if buf.Len() > 0 {
		groups = append(groups, strings.TrimSpace(buf.String()))
	}
	return groups
}

func splitOnSentenceBoundary(paragraph string) []string {
	idxs := reSentenceBoundary.FindAllStringIndex(paragraph, -1)
	if len(idxs) == 0 {
		return []string{paragraph}
	}
	var out []string
	start := 0
	for _, m := range idxs {
		out = append(out, paragraph[start:m[1]])
		start = m[1]
	}
	if start < len(paragraph) {
		out = append(out, paragraph[start:])
	}
	return out
}
