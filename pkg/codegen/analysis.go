package codegen

import (
	"regexp"
	"strings"
)

// Analysis is the structural pre-check result for a generated script. It is a
// cheap filter in front of the sandbox, not a substitute for the verifier.
type Analysis struct {
	OK       bool
	Issues   []string
	Warnings []string
}

// Confidence maps the analysis onto the label recorded with the attempt.
func (a Analysis) Confidence() string {
	if !a.OK {
		return "LOW"
	}
	if len(a.Warnings) > 0 {
		return "MEDIUM"
	}
	return "HIGH"
}

var (
	resolveDefRe = regexp.MustCompile(`(?m)^def resolve_oracle\s*\(`)
	returnRe     = regexp.MustCompile(`(?m)^\s+return\b`)
	mainGuardRe  = regexp.MustCompile(`if __name__\s*==\s*["']__main__["']`)
)

// AnalyzeScript runs structural checks on a generated Python script: the
// resolve entrypoint must exist and return something, and markdown leakage is
// an outright failure.
func AnalyzeScript(code string) Analysis {
	var a Analysis

	if strings.TrimSpace(code) == "" {
		a.Issues = append(a.Issues, "empty script")
		return a
	}
	if strings.Contains(code, "```") {
		a.Issues = append(a.Issues, "markdown fence leaked into script")
	}
	if !resolveDefRe.MatchString(code) {
		a.Issues = append(a.Issues, "resolve_oracle() function not defined")
	} else if !returnRe.MatchString(code) {
		a.Issues = append(a.Issues, "resolve_oracle() does not return a value")
	}

	if !mainGuardRe.MatchString(code) {
		a.Warnings = append(a.Warnings, `missing if __name__ == "__main__" guard`)
	}
	if !strings.Contains(code, "import requests") && strings.Contains(code, "requests.") {
		a.Issues = append(a.Issues, "requests used but not imported")
	}
	if !strings.Contains(code, "import json") {
		a.Warnings = append(a.Warnings, "json module not imported")
	}

	a.OK = len(a.Issues) == 0
	return a
}
