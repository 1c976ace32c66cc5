package evaluation

import (
	"math"
	"testing"
)

func TestTextSimilarity_Identical(t *testing.T) {
	s := TextSimilarity("Glaucoma damages the optic nerve", "glaucoma damages the OPTIC nerve")
	if math.Abs(s-1) > 1e-9 {
		t.Errorf("identical texts = %v, want 1", s)
	}
}

func TestTextSimilarity_Disjoint(t *testing.T) {
	if s := TextSimilarity("glaucoma optic nerve", "weather sunny today"); s != 0 {
		t.Errorf("disjoint texts = %v, want 0", s)
	}
}

func TestTextSimilarity_Empty(t *testing.T) {
	for _, pair := range [][2]string{{"", "abc def"}, {"a b c", "abc"}, {"", ""}} {
		if s := TextSimilarity(pair[0], pair[1]); s != 0 {
			t.Errorf("TextSimilarity(%q, %q) = %v, want 0", pair[0], pair[1], s)
		}
	}
}

func TestTextSimilarity_KnownValue(t *testing.T) {
	// Shared "cat" gets idf 1, unique terms idf ln(1.5)+1.
	// v1 = (cat:1, dog:u), v2 = (cat:1, fish:u) => cos = 1 / (1 + u^2).
	u := math.Log(1.5) + 1
	want := 1 / (1 + u*u)

	got := TextSimilarity("cat dog", "cat fish")
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("TextSimilarity = %v, want %v", got, want)
	}
}

func TestTextSimilarity_Symmetric(t *testing.T) {
	a := "Le glaucome est une maladie de l'œil qui endommage le nerf optique."
	b := "Glaucoma is a group of diseases that can damage the eye's optic nerve."
	if TextSimilarity(a, b) != TextSimilarity(b, a) {
		t.Error("similarity should be symmetric")
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("L'œil, c'est 2x plus: a b OK_ok")
	want := []string{"œil", "est", "2x", "plus", "ok_ok"}
	if len(got) != len(want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}
