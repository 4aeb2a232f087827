// Package normalize canonicalizes raw customer text before matching.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Rule folds a word or phrase to its canonical root token. Roots use
// underscores so multi-word concepts survive tokenization.
type Rule struct {
	From string
	To   string
}

// DefaultRules folds common Hausa sales vocabulary (synonyms, slang,
// English loanwords) to canonical roots. Phrases fold before single
// words; among phrases, the earlier rule wins at a given position.
func DefaultRules() []Rule {
	return []Rule{
		{"karin girma", "karin_girma"},
		{"kari girma", "karin_girma"},
		{"kara girma", "karin_girma"},
		{"babu illa", "babu_illa"},
		{"side effect", "babu_illa"},
		{"illoli", "babu_illa"},
		{"saurin kawowa", "saurin_kawowa"},
		{"magunguna", "magani"},
		{"hadin", "magani"},
		{"treatment", "magani"},
		{"medicine", "magani"},
		{"farashin", "farashi"},
		{"kudi", "farashi"},
		{"price", "farashi"},
		{"nawa", "farashi"},
		{"tabbaci", "inganci"},
		{"amfani", "inganci"},
		{"sakamako", "inganci"},
		{"delivery", "kawo"},
		{"turo", "kawo"},
		{"kai mani", "kawo"},
		{"maiduguri", "borno"},
	}
}

// hausaLetters maps Hausa hooked letters, which NFD decomposition leaves
// untouched, onto their plain Latin base.
var hausaLetters = strings.NewReplacer(
	"ƙ", "k",
	"ɗ", "d",
	"ɓ", "b",
	"ƴ", "y",
	"ṭ", "t",
	"’", "'",
	"‘", "'",
)

// Normalizer lowercases, strips diacritics and invisible characters,
// removes punctuation, collapses whitespace, and folds domain synonyms.
// Normalize is pure, deterministic, and idempotent.
type Normalizer struct {
	marks   transform.Transformer
	phrases []phraseRule
	words   map[string]string
}

// phraseRule is a multi-word rule pre-split into tokens for scanning.
type phraseRule struct {
	from []string
	to   string
}

// New returns a Normalizer with the default synonym table.
func New() *Normalizer {
	return NewWithRules(DefaultRules())
}

// NewWithRules returns a Normalizer with a caller-supplied synonym table.
// Single-word rules fold token by token; multi-word rules fold matching
// token runs. Rule outputs are never refolded, so folding stays a single
// pass no matter how rules chain.
func NewWithRules(rules []Rule) *Normalizer {
	n := &Normalizer{
		// NFD-decompose, drop combining marks, recompose.
		marks: transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		words: make(map[string]string, len(rules)),
	}
	for _, r := range rules {
		if strings.ContainsRune(r.From, ' ') {
			n.phrases = append(n.phrases, phraseRule{from: strings.Fields(r.From), to: r.To})
		} else if _, dup := n.words[r.From]; !dup {
			n.words[r.From] = r.To
		}
	}
	return n
}

func (n *Normalizer) Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	t := strings.ToLower(raw)
	if stripped, _, err := transform.String(n.marks, t); err == nil {
		t = stripped
	}
	t = hausaLetters.Replace(t)

	var b strings.Builder
	b.Grow(len(t))
	for _, r := range t {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '_':
			// Apostrophes are meaningful in Hausa (sha'awa, jima'i);
			// underscores appear in already-folded root tokens.
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r == '\u200b' || r == '\u200c' || r == '\u200d' || r == '\ufeff':
			// zero-width characters: drop entirely
		default:
			b.WriteByte(' ')
		}
	}
	tokens := n.foldPhrases(strings.Fields(b.String()))
	for i, tok := range tokens {
		if to, ok := n.words[tok]; ok {
			tokens[i] = to
		}
	}
	return strings.Join(tokens, " ")
}

// foldPhrases replaces every token run matching a phrase rule with the
// rule's root token. The first matching rule wins at each position, so
// longer phrases listed first shadow their sub-phrases.
func (n *Normalizer) foldPhrases(tokens []string) []string {
	if len(n.phrases) == 0 {
		return tokens
	}
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		folded := false
		for _, p := range n.phrases {
			if phraseAt(tokens, i, p.from) {
				out = append(out, p.to)
				i += len(p.from)
				folded = true
				break
			}
		}
		if !folded {
			out = append(out, tokens[i])
			i++
		}
	}
	return out
}

func phraseAt(tokens []string, i int, phrase []string) bool {
	if i+len(phrase) > len(tokens) {
		return false
	}
	for j, w := range phrase {
		if tokens[i+j] != w {
			return false
		}
	}
	return true
}

// Tokens returns the whitespace-delimited tokens of a normalized string.
func Tokens(normalized string) []string {
	return strings.Fields(normalized)
}
