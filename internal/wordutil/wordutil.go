// Package wordutil provides word counting and target-length derivation shared by the
// reconstruction pipeline and the Universal Expansion Engine.
package wordutil

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"coherentrecon/internal/models"
)

// CountWords returns the count of whitespace-separated non-empty tokens in s.
func CountWords(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
		switch {
		case isSpace:
			inWord = false
		case !inWord:
			inWord = true
			n++
		}
	}
	return n
}

var (
	reThousand  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*k\b`)
	reCommaNum  = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d+)\s*words?\b`)
	reRange     = regexp.MustCompile(`(\d{1,3}(?:,\d{3})*)\s*[-\x{2013}\x{2014}]\s*(\d{1,3}(?:,\d{3})*)\s*words?\b`)
	reBareNum   = regexp.MustCompile(`\b(\d+(?:,\d{3})*)\b`)
	reThesisKw  = regexp.MustCompile(`(?i)\b(thesis|master'?s)\b`)
	reDissKw    = regexp.MustCompile(`(?i)\b(dissertation|phd|ph\.d\.?)\b`)
)

// defaultThesisWords is the minimum default size implied by "thesis"/"master's" with no explicit
// number.
const defaultThesisWords = 20000

// defaultDissertationWords is the minimum default size implied by "dissertation"/"PhD" with no
// explicit number.
const defaultDissertationWords = 40000

// ParseTargetLength extracts a target word count from a free-form instruction string. It
// recognizes "Nk", "N,NNN words", ranges ("N-M words", taking the midpoint), and size keywords
// ("thesis", "dissertation", "PhD", "master's"). Returns 0 when no target can be determined.
func ParseTargetLength(instr string) int {
	if strings.TrimSpace(instr) == "" {
		return 0
	}

	// Range first: "20,000-25,000 words" -> midpoint.
	if m := reRange.FindStringSubmatch(instr); m != nil {
		lo := parseCommaInt(m[1])
		hi := parseCommaInt(m[2])
		if lo > 0 && hi > 0 {
			return (lo + hi) / 2
		}
	}

	// "Nk"/"N.Nk" shorthand, e.g. "20k", "2.5K".
	if m := reThousand.FindStringSubmatch(instr); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			return int(math.Round(f * 1000))
		}
	}

	// "N,NNN words" / "N words".
	if m := reCommaNum.FindStringSubmatch(instr); m != nil {
		n := parseCommaInt(m[1])
		if n > 0 {
			// A bare number under 500 combined with "thesis" is a page/chapter-count heuristic,
			// not a word count; multiply by 1000.
			if n < 500 && reThesisKw.MatchString(instr) {
				return n * 1000
			}
			return n
		}
	}

	isDiss := reDissKw.MatchString(instr)
	isThesis := reThesisKw.MatchString(instr)
	if isDiss || isThesis {
		if m := reBareNum.FindStringSubmatch(instr); m != nil {
			if n := parseCommaInt(m[1]); n > 0 {
				if n >= 500 {
					return n
				}
				if isThesis {
					// "a 5 page thesis" — a bare number < 500 combined with "thesis" is
					// multiplied by 1000 as a heuristic.
					return n * 1000
				}
			}
		}
		if isDiss {
			return defaultDissertationWords
		}
		return defaultThesisWords
	}

	return 0
}

func parseCommaInt(s string) int {
	s = strings.ReplaceAll(s, ",", "")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CalculateLengthConfig derives the job's LengthConfig from the input word count, an optional
// explicit [min,max] target band, and a free-form instruction string (consulted only when
// min/max are both zero).
func CalculateLengthConfig(inputWords, explicitMin, explicitMax int, instr string) models.LengthConfig {
	min, max := explicitMin, explicitMax
	if min == 0 && max == 0 {
		if target := ParseTargetLength(instr); target > 0 {
			min = int(float64(target) * 0.9)
			max = int(float64(target) * 1.1)
		} else {
			// No explicit target and nothing parseable: preserve length.
			min = inputWords
			max = inputWords
		}
	}
	if max < min {
		max = min
	}
	mid := (min + max) / 2
	if mid == 0 {
		mid = inputWords
	}

	ratio := 1.0
	if inputWords > 0 {
		ratio = float64(mid) / float64(inputWords)
	}

	mode := classifyMode(ratio)

	numChunks := estimateNumChunks(inputWords)
	chunkTarget := clamp(int(math.Round(float64(inputWords)*ratio/float64(numChunks))), 600, 4000)

	return models.LengthConfig{
		TargetMin:   min,
		TargetMax:   max,
		TargetMid:   mid,
		Ratio:       ratio,
		Mode:        mode,
		ChunkTarget: chunkTarget,
		NumChunks:   numChunks,
	}
}

func classifyMode(ratio float64) string {
	switch {
	case ratio < 0.8:
		return models.ModeCompress
	case ratio > 1.2:
		return models.ModeExpand
	case ratio >= 0.95 && ratio <= 1.05:
		return models.ModePreserve
	default:
		return models.ModeCustom
	}
}

// estimateNumChunks picks a chunk count assuming ~1500 input words per chunk, bounded to at
// least one chunk.
func estimateNumChunks(inputWords int) int {
	const perChunk = 1500
	n := int(math.Round(float64(inputWords) / perChunk))
	if n < 1 {
		n = 1
	}
	return n
}
