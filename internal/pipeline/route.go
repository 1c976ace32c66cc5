package pipeline

import (
	"github.com/sorakabot/soraka/internal/composer"
	"github.com/sorakabot/soraka/internal/retrieval"
)

// DefaultThreshold is the distance below which the best match grounds the
// answer. A distance equal to the threshold routes to free mode.
const DefaultThreshold = 0.2

// Route picks the answer mode from ordered search results. It returns the
// grounding result for ModeGrounded and nil for ModeFree.
func Route(results []retrieval.Result, threshold float64) (composer.Mode, *retrieval.Result) {
	if len(results) == 0 {
		return composer.ModeFree, nil
	}
	best := results[0]
	if best.Score < threshold {
		return composer.ModeGrounded, &best
	}
	return composer.ModeFree, nil
}
