package match

import (
	"testing"

	"github.com/user/kasuwabot/internal/types"
)

func testThresholds() Thresholds {
	return Thresholds{Accept: 0.45, Cosine: 0.50, ShortInput: 0.30}
}

func testCatalog() []*types.CatalogEntry {
	return []*types.CatalogEntry{
		{ID: "q1", Question: "nawa ne farashi", AnswerText: "Farashin naira dubu goma ne."},
		{ID: "q2", Question: "akwai babu_illa", AnswerText: "Babu wata illa, na halitta ne."},
		{ID: "q3", Question: "yaya ake amfani da magani", AnswerText: "Sha sau biyu a rana."},
		{ID: "q4", Question: "ina kuke", AnswerText: "Muna kano."},
	}
}

func TestMatch_ExactQuestion(t *testing.T) {
	e := NewEngine(testThresholds())

	got := e.Match("yaya ake amfani da magani", nil, testCatalog())
	if got == nil {
		t.Fatal("expected a match, got nil")
	}
	if got.Entry.ID != "q3" {
		t.Errorf("expected q3, got %s", got.Entry.ID)
	}
	if got.Score < 0.99 {
		t.Errorf("expected near-perfect score, got %v", got.Score)
	}
}

func TestMatch_CloseVariant(t *testing.T) {
	e := NewEngine(testThresholds())

	// Typo plus an extra word still clears the blended threshold.
	got := e.Match("yaya ake anfani da magani fa", nil, testCatalog())
	if got == nil {
		t.Fatal("expected a match, got nil")
	}
	if got.Entry.ID != "q3" {
		t.Errorf("expected q3, got %s", got.Entry.ID)
	}
}

func TestMatch_NoMatch(t *testing.T) {
	e := NewEngine(testThresholds())

	if got := e.Match("zan iya biya da kudin waje", nil, testCatalog()); got != nil {
		t.Errorf("expected no match, got %s (score %v)", got.Entry.ID, got.Score)
	}
}

func TestMatch_EmptyInput(t *testing.T) {
	e := NewEngine(testThresholds())

	if got := e.Match("", nil, testCatalog()); got != nil {
		t.Error("expected nil for empty input")
	}
	if got := e.Match("nawa ne farashi", nil, nil); got != nil {
		t.Error("expected nil for empty catalog")
	}
}

func TestMatch_ShortInputUsesOverlap(t *testing.T) {
	e := NewEngine(testThresholds())

	// One token shares 1 of min(1,3) unique tokens with q1.
	got := e.Match("farashi", nil, testCatalog())
	if got == nil {
		t.Fatal("expected short input to match via token overlap")
	}
	if got.Entry.ID != "q1" {
		t.Errorf("expected q1, got %s", got.Entry.ID)
	}

	// A short input with no shared token does not match.
	if got := e.Match("barka", nil, testCatalog()); got != nil {
		t.Errorf("expected no match for unrelated short input, got %s", got.Entry.ID)
	}
}

func TestMatch_ContainmentFallback(t *testing.T) {
	e := NewEngine(testThresholds())

	// The terse question "ina kuke" appears verbatim inside a longer
	// message whose blended score alone would fall short.
	got := e.Match("don allah ina kuke da shago saboda zan zo da kaina gobe", nil, testCatalog())
	if got == nil {
		t.Fatal("expected containment fallback to match")
	}
	if got.Entry.ID != "q4" {
		t.Errorf("expected q4, got %s", got.Entry.ID)
	}
}

func TestMatch_TinyInputNeverMatchesByContainment(t *testing.T) {
	e := NewEngine(testThresholds())

	// Fragments like "i" or "na" are substrings of several questions but
	// carry no signal and share no token.
	for _, in := range []string{"i", "na", "uke"} {
		if got := e.Match(in, nil, testCatalog()); got != nil {
			t.Errorf("expected no match for %q, got %s (score %v)", in, got.Entry.ID, got.Score)
		}
	}
}

func TestMatch_TieKeepsFirstEntry(t *testing.T) {
	e := NewEngine(testThresholds())

	catalog := []*types.CatalogEntry{
		{ID: "a", Question: "nawa ne", AnswerText: "answer a"},
		{ID: "b", Question: "nawa ne", AnswerText: "answer b"},
	}
	got := e.Match("nawa ne", nil, catalog)
	if got == nil {
		t.Fatal("expected a match")
	}
	if got.Entry.ID != "a" {
		t.Errorf("expected first entry on tie, got %s", got.Entry.ID)
	}
}

func TestMatch_SkipsEmptyQuestions(t *testing.T) {
	e := NewEngine(testThresholds())

	catalog := []*types.CatalogEntry{
		{ID: "blank", Question: "", AnswerText: "should never match"},
		{ID: "ok", Question: "nawa ne farashi", AnswerText: "real answer"},
	}
	got := e.Match("nawa ne farashi", nil, catalog)
	if got == nil || got.Entry.ID != "ok" {
		t.Fatalf("expected ok entry, got %+v", got)
	}
}

func TestMatch_EmbeddingsPreferred(t *testing.T) {
	e := NewEngine(testThresholds())

	catalog := []*types.CatalogEntry{
		{ID: "near", Question: "totally different words", AnswerText: "a", Embedding: []float64{1, 0, 0}},
		{ID: "far", Question: "also different words here", AnswerText: "b", Embedding: []float64{0, 1, 0}},
	}
	got := e.Match("wani abu daban", []float64{0.9, 0.1, 0}, catalog)
	if got == nil {
		t.Fatal("expected embedding match")
	}
	if got.Entry.ID != "near" {
		t.Errorf("expected near entry via cosine, got %s", got.Entry.ID)
	}
	if got.Score < e.thresholds.Cosine {
		t.Errorf("score below cosine threshold: %v", got.Score)
	}
}

func TestMatch_WeakEmbeddingFallsBackToLexical(t *testing.T) {
	e := NewEngine(testThresholds())

	catalog := []*types.CatalogEntry{
		{ID: "q1", Question: "nawa ne farashi", AnswerText: "a", Embedding: []float64{0, 0, 1}},
	}
	// Orthogonal embedding, but the text is an exact lexical match.
	got := e.Match("nawa ne farashi", []float64{1, 0, 0}, catalog)
	if got == nil {
		t.Fatal("expected lexical fallback when cosine is weak")
	}
	if got.Entry.ID != "q1" {
		t.Errorf("expected q1, got %s", got.Entry.ID)
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float64{1, 0}, []float64{1, 0}); got < 0.999 {
		t.Errorf("identical vectors should score 1, got %v", got)
	}
	if got := cosine([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors should score 0, got %v", got)
	}
	if got := cosine([]float64{1, 0}, []float64{1, 0, 0}); got != 0 {
		t.Errorf("mismatched lengths should score 0, got %v", got)
	}
	if got := cosine(nil, nil); got != 0 {
		t.Errorf("empty vectors should score 0, got %v", got)
	}
}

func TestTokenOverlap(t *testing.T) {
	tests := []struct {
		a, b []string
		want float64
	}{
		{[]string{"nawa", "ne"}, []string{"nawa", "ne"}, 1},
		{[]string{"nawa"}, []string{"nawa", "ne", "farashi"}, 1},
		{[]string{"a", "b", "c", "d"}, []string{"a", "b"}, 1},
		{[]string{"a", "b"}, []string{"c", "d"}, 0},
		{nil, []string{"a"}, 0},
		{[]string{"a", "a", "b"}, []string{"a", "c"}, 0.5},
	}
	for _, tt := range tests {
		if got := tokenOverlap(tt.a, tt.b); got != tt.want {
			t.Errorf("tokenOverlap(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
