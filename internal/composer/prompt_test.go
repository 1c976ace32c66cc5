package composer

import (
	"errors"
	"strings"
	"testing"

	"github.com/sorakabot/soraka/internal/conversation"
)

func turns(pairs ...string) []conversation.Turn {
	var out []conversation.Turn
	for i, c := range pairs {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		out = append(out, conversation.Turn{Role: role, Content: c})
	}
	return out
}

func TestBuild_Grounded(t *testing.T) {
	c := New(0)
	p, err := c.Build(ModeGrounded, "What is glaucoma?", "Francais", "user: hi\nassistant: hello", "Glaucoma is a group of diseases...")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, want := range []string{
		"SorakaBot",
		"Voici une réponse de référence : Glaucoma is a group of diseases...",
		"en Francais",
		"Sois concis",
		"user: hi\nassistant: hello",
		"Question: What is glaucoma?",
	} {
		if !strings.Contains(p.System, want) {
			t.Errorf("system prompt missing %q:\n%s", want, p.System)
		}
	}
	if strings.Contains(p.System, "professionnel de santé") {
		t.Error("grounded prompt should not carry the free-mode disclaimer")
	}
	if p.User != "What is glaucoma?" {
		t.Errorf("User = %q", p.User)
	}
}

func TestBuild_GroundedRequiresReference(t *testing.T) {
	_, err := New(0).Build(ModeGrounded, "q", "English", "", "  ")
	if !errors.Is(err, ErrMissingReference) {
		t.Errorf("err = %v, want ErrMissingReference", err)
	}
}

func TestBuild_Free(t *testing.T) {
	p, err := New(0).Build(ModeFree, "What is the weather today?", "English", "", "ignored reference")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(p.System, "consulter un professionnel de santé") {
		t.Error("free prompt missing professional disclaimer")
	}
	if !strings.Contains(p.System, "en English") {
		t.Error("free prompt missing language")
	}
	if strings.Contains(p.System, "ignored reference") || strings.Contains(p.System, "réponse de référence") {
		t.Error("free prompt must not include a reference answer")
	}
	if !strings.Contains(p.System, NoHistory) {
		t.Error("empty history should render the placeholder")
	}
}

func TestBuild_UnknownMode(t *testing.T) {
	if _, err := New(0).Build(Mode("other"), "q", "fr", "", "r"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestRenderHistory(t *testing.T) {
	got := New(0).RenderHistory(turns("u1", "a1", "u2", "a2"))
	want := "user: u1\nassistant: a1\nuser: u2\nassistant: a2"
	if got != want {
		t.Errorf("RenderHistory = %q, want %q", got, want)
	}
}

func TestRenderHistory_Empty(t *testing.T) {
	if got := New(0).RenderHistory(nil); got != NoHistory {
		t.Errorf("RenderHistory(nil) = %q, want %q", got, NoHistory)
	}
}

func TestRenderHistory_TokenBudgetDropsOldest(t *testing.T) {
	long := strings.Repeat("x", 40)
	c := New(30)
	got := c.RenderHistory(turns(long, long, "u2", "a2"))

	if strings.HasPrefix(got, "user: "+long) {
		t.Errorf("oldest turn should be dropped: %q", got)
	}
	if !strings.HasSuffix(got, "user: u2\nassistant: a2") {
		t.Errorf("newest turns must be kept: %q", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tt.text), got, tt.want)
		}
	}
}
