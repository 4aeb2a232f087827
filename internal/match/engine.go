// Package match scores normalized customer text against catalog questions
// and selects the best answer above configurable thresholds.
package match

import (
	"math"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/user/kasuwabot/internal/normalize"
	"github.com/user/kasuwabot/internal/types"
)

const (
	lexicalWeight = 0.6
	overlapWeight = 0.4
	shortInputMax = 2
)

// Thresholds controls when a candidate is accepted.
type Thresholds struct {
	// Accept is the minimum blended lexical score.
	Accept float64
	// Cosine is the minimum embedding similarity when both sides carry
	// an embedding vector.
	Cosine float64
	// ShortInput is the minimum token overlap for inputs of one or two
	// tokens, where edit distance is too noisy to trust.
	ShortInput float64
}

// Result is a scored catalog candidate.
type Result struct {
	Entry *types.CatalogEntry
	Score float64
}

// Engine matches normalized input against a catalog. Entries are scored
// by embedding cosine similarity when available, otherwise by a blend of
// normalized edit distance and token overlap. Ties keep the earliest
// catalog entry so results are deterministic.
type Engine struct {
	thresholds Thresholds
}

func NewEngine(t Thresholds) *Engine {
	return &Engine{thresholds: t}
}

// Match returns the best catalog entry for the normalized input, or nil
// when nothing clears the thresholds. The input must already be normalized.
func (e *Engine) Match(input string, inputEmbedding []float64, catalog []*types.CatalogEntry) *Result {
	if input == "" || len(catalog) == 0 {
		return nil
	}
	inTokens := normalize.Tokens(input)

	var best *Result
	for _, entry := range catalog {
		if entry == nil || entry.Question == "" {
			continue
		}
		score, ok := e.score(input, inTokens, inputEmbedding, entry)
		if !ok {
			continue
		}
		// Strictly-greater keeps the first entry on ties.
		if best == nil || score > best.Score {
			best = &Result{Entry: entry, Score: score}
		}
	}
	return best
}

func (e *Engine) score(input string, inTokens []string, inputEmbedding []float64, entry *types.CatalogEntry) (float64, bool) {
	qTokens := normalize.Tokens(entry.Question)
	overlap := tokenOverlap(inTokens, qTokens)

	// Embeddings win when both sides have them.
	if len(inputEmbedding) > 0 && len(entry.Embedding) > 0 {
		if cos := cosine(inputEmbedding, entry.Embedding); cos >= e.thresholds.Cosine {
			return cos, true
		}
		// Fall through to lexical scoring: a cheap exact-ish match should
		// not be lost to a weak embedding.
	}

	// One- and two-token inputs ("nawa", "farashi fa") are dominated by
	// edit-distance noise, so require token overlap alone.
	if len(inTokens) <= shortInputMax {
		if overlap >= e.thresholds.ShortInput {
			return overlap, true
		}
		return e.containment(input, entry.Question)
	}

	lex := lexicalSimilarity(input, entry.Question)
	blended := lexicalWeight*lex + overlapWeight*overlap
	if blended >= e.thresholds.Accept {
		return blended, true
	}
	return e.containment(input, entry.Question)
}

// containment accepts when one normalized string contains the other, a
// fallback for terse questions embedded in longer customer messages. Both
// sides need some length: a one- or two-letter input is a substring of
// almost any question.
func (e *Engine) containment(input, question string) (float64, bool) {
	if len(input) >= 4 && len(question) >= 4 &&
		(strings.Contains(input, question) || strings.Contains(question, input)) {
		return e.thresholds.Accept, true
	}
	return 0, false
}

// lexicalSimilarity is 1 minus the normalized Levenshtein distance.
func lexicalSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// tokenOverlap is the shared-token count divided by the smaller token set,
// so a short question fully contained in a long message scores 1.
func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	shared := 0
	for _, t := range b {
		if setB[t] {
			continue
		}
		setB[t] = true
		if setA[t] {
			shared++
		}
	}
	smaller := len(setA)
	if len(setB) < smaller {
		smaller = len(setB)
	}
	return float64(shared) / float64(smaller)
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
