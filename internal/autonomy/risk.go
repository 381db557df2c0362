// Package autonomy decides, per tool invocation, whether execution is
// permitted, must be gated behind human approval, or is blocked outright.
package autonomy

import (
	"encoding/json"
	"regexp"
	"strings"
)

// RiskTier classifies a tool invocation for approval routing.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// lowRiskTools are read-only by construction.
var lowRiskTools = map[string]struct{}{
	"read_file":     {},
	"list_files":    {},
	"list_dir":      {},
	"search_files":  {},
	"http_get":      {},
	"web_search":    {},
	"memory_recall": {},
	"memory_search": {},
	"get_time":      {},
}

var lowRiskPrefixes = []string{"read_", "list_", "search_", "get_"}

// destructivePatterns flag shell commands that can destroy the host.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*[rf][a-zA-Z]*\b`),
	regexp.MustCompile(`\brm\s+-rf\b`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;`),
	regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`),
	regexp.MustCompile(`\bdd\s+.*of=/dev/`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`),
	regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]+\s+)*777\s+/\s*$`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*\|\s*(ba)?sh\b`),
}

// Classify assigns a risk tier from the tool name and argument shape.
// extraHighRisk extends the built-in high-risk set from configuration.
func Classify(name string, input json.RawMessage, extraHighRisk []string) RiskTier {
	normalized := strings.ToLower(strings.TrimSpace(name))

	for _, t := range extraHighRisk {
		if strings.EqualFold(strings.TrimSpace(t), normalized) {
			return RiskHigh
		}
	}

	if normalized == "shell" || normalized == "exec" || normalized == "bash" {
		if containsDestructiveCommand(input) {
			return RiskHigh
		}
		return RiskMedium
	}

	if _, ok := lowRiskTools[normalized]; ok {
		return RiskLow
	}
	for _, prefix := range lowRiskPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return RiskLow
		}
	}

	return RiskMedium
}

func containsDestructiveCommand(input json.RawMessage) bool {
	if len(input) == 0 {
		return false
	}
	// The command may live under any of the conventional argument keys;
	// fall back to scanning the raw payload when parsing fails.
	var args map[string]any
	text := string(input)
	if err := json.Unmarshal(input, &args); err == nil {
		for _, key := range []string{"command", "cmd", "script", "input"} {
			if v, ok := args[key].(string); ok {
				text = v
				break
			}
		}
	}
	for _, pattern := range destructivePatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}
