package composer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sorakabot/soraka/internal/conversation"
)

const defaultMaxHistoryTokens = 2000

// NoHistory is rendered in place of an empty history window.
const NoHistory = "no prior history"

// ErrMissingReference is returned when a grounded prompt is requested
// without a reference answer.
var ErrMissingReference = errors.New("grounded prompt requires a reference answer")

// Mode selects the prompt variant.
type Mode string

const (
	// ModeGrounded anchors the answer in a retrieved reference answer.
	ModeGrounded Mode = "grounded"
	// ModeFree answers from general medical knowledge with a disclaimer.
	ModeFree Mode = "free"
)

// Prompt is the structured input for the generator.
type Prompt struct {
	System string
	User   string
}

// Composer builds generator prompts for both answer modes.
type Composer struct {
	// MaxHistoryTokens bounds the rendered history; oldest turns are dropped first.
	MaxHistoryTokens int
}

// New creates a Composer with the given token budget for rendered history.
// If maxHistoryTokens <= 0, the default (2000) is used.
func New(maxHistoryTokens int) *Composer {
	if maxHistoryTokens <= 0 {
		maxHistoryTokens = defaultMaxHistoryTokens
	}
	return &Composer{MaxHistoryTokens: maxHistoryTokens}
}

// Build assembles the prompt for mode. historyText is used verbatim; an
// empty value is replaced by NoHistory.
func (c *Composer) Build(mode Mode, question, language, historyText, reference string) (Prompt, error) {
	if strings.TrimSpace(historyText) == "" {
		historyText = NoHistory
	}

	var sb strings.Builder
	sb.WriteString("Tu es SorakaBot, un assistant médical virtuel spécialisé.\n\n")

	switch mode {
	case ModeGrounded:
		if strings.TrimSpace(reference) == "" {
			return Prompt{}, ErrMissingReference
		}
		fmt.Fprintf(&sb, "Voici une réponse de référence : %s\n\n", reference)
		fmt.Fprintf(&sb, "Utilise cette information pour répondre de manière précise à la question suivante en %s.\n", language)
		sb.WriteString("Sois concis et direct dans ta réponse.\n")
	case ModeFree:
		fmt.Fprintf(&sb, "Réponds à la question de manière claire et précise en %s.\n", language)
		sb.WriteString("Base ta réponse sur tes connaissances médicales générales.\n")
		sb.WriteString("N'oublie pas de recommander de consulter un professionnel de santé si nécessaire.\n")
	default:
		return Prompt{}, fmt.Errorf("unknown prompt mode %q", mode)
	}

	sb.WriteString("\nHistorique de la conversation :\n")
	sb.WriteString(historyText)
	fmt.Fprintf(&sb, "\n\nQuestion: %s", question)

	return Prompt{System: sb.String(), User: question}, nil
}

// RenderHistory renders turns as newline-joined "role: content" lines,
// oldest first. When the result exceeds the token budget the oldest turns
// are dropped. An empty window renders as NoHistory.
func (c *Composer) RenderHistory(turns []conversation.Turn) string {
	lines := make([]string, len(turns))
	total := 0
	for i, t := range turns {
		lines[i] = fmt.Sprintf("%s: %s", t.Role, t.Content)
		total += EstimateTokens(lines[i]) + 1
	}

	start := 0
	for start < len(lines) && total > c.MaxHistoryTokens {
		total -= EstimateTokens(lines[start]) + 1
		start++
	}

	if start == len(lines) {
		return NoHistory
	}
	return strings.Join(lines[start:], "\n")
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
