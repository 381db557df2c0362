package agent

import (
	"strings"

	"github.com/zeroclaw-labs/zeroclaw/internal/autonomy"
	"github.com/zeroclaw-labs/zeroclaw/internal/config"
)

// ResearchOptions configure the optional read-only research phase that
// runs before the main tool loop with its own iteration budget.
type ResearchOptions struct {
	Strategy      config.ResearchStrategy
	MaxIterations int
	Keywords      []string
	MinLength     int
}

// shouldResearch decides from the strategy and the inbound message
// whether a research phase runs for this turn.
func shouldResearch(opts ResearchOptions, content string) bool {
	switch opts.Strategy {
	case config.ResearchAlways:
		return true
	case config.ResearchKeywords:
		lower := strings.ToLower(content)
		for _, kw := range opts.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	case config.ResearchLength:
		min := opts.MinLength
		if min <= 0 {
			min = 200
		}
		return len(content) >= min
	case config.ResearchQuestion:
		return strings.Contains(content, "?")
	default: // never
		return false
	}
}

// researchTools filters tool definitions down to read-only, low-risk
// tools for the research phase.
func researchTools(defs []ToolDefinition, highRisk []string) []ToolDefinition {
	var out []ToolDefinition
	for _, d := range defs {
		if autonomy.Classify(d.Name, nil, highRisk) == autonomy.RiskLow {
			out = append(out, d)
		}
	}
	return out
}
