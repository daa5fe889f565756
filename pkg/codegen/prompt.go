package codegen

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Placeholder captures one long hex literal lifted out of ancillary data
// before prompting. Models mangle long literals; handing them a short token
// plus a verbatim constant declaration avoids that.
type Placeholder struct {
	Token       string
	Value       string
	Const       string
	Description string
}

var longHexRe = regexp.MustCompile(`0x[0-9a-fA-F]{32,}`)

// SanitizeAncillary replaces long hex literals with placeholder tokens and
// returns the substitution table, keyed by token.
func SanitizeAncillary(ancillary string) (string, map[string]Placeholder) {
	placeholders := make(map[string]Placeholder)
	sanitized := longHexRe.ReplaceAllStringFunc(ancillary, func(literal string) string {
		n := len(placeholders) + 1
		token := fmt.Sprintf("__PLACEHOLDER_HEX_%d__", n)
		abbreviated := literal
		if len(literal) > 20 {
			abbreviated = literal[:10] + "…" + literal[len(literal)-6:]
		}
		placeholders[token] = Placeholder{
			Token:       token,
			Value:       literal,
			Const:       fmt.Sprintf("PLACEHOLDER_HEX_%d", n),
			Description: fmt.Sprintf("%s (length %d)", abbreviated, len(literal)),
		}
		return token
	})
	return sanitized, placeholders
}

// RestorePlaceholders substitutes the original literals back into generated
// code.
func RestorePlaceholders(code string, placeholders map[string]Placeholder) string {
	for token, p := range placeholders {
		code = strings.ReplaceAll(code, token, p.Value)
	}
	return code
}

// PromptContext carries the retry feedback loop: the previous script and the
// error it produced, so regeneration can correct rather than repeat.
type PromptContext struct {
	RequestID    string
	Identifier   string
	Timestamp    int64
	PreviousCode string
	PreviousErr  string
}

// BuildResolutionTask renders the deterministic prompt for one request. Same
// ancillary data and context produce byte-identical prompts, which keeps
// generation auditable.
func BuildResolutionTask(sanitizedAncillary string, placeholders map[string]Placeholder, pc PromptContext) string {
	var b strings.Builder
	rules := []string{
		"You are writing a Python script that resolves an oracle question.",
		"Follow these rules carefully:",
		"1. Determine whether the answer should be true or false.",
		"2. When the question references a data source (URL, API, dataset), download it using the 'requests' library and parse the relevant value (JSON/CSV as appropriate).",
		"3. Always guard against HTTP/network errors: retry once if the request fails, and return decision 'invalid' with a clear reason when data cannot be retrieved or parsed.",
		"4. Define a function `resolve_oracle()` that returns a dict with keys:",
		"   - decision: 'true', 'false', or 'invalid'",
		"   - reason: short human-readable explanation",
		"   - sources: list of URLs actually fetched",
		"   - data: optional supporting values (e.g. fetched price)",
		"5. KEEP EVERY STRING LITERAL (ESPECIALLY URLs) ON A SINGLE LINE AND WRAP IT IN DOUBLE QUOTES.",
		"6. NEVER break URLs across lines.",
		"7. If the question provides a numeric threshold, convert it to float and compare against the observed value. Equality counts as meeting the threshold when the question asks 'above' or 'at or above'.",
		"8. Place all imports at the top and include `from datetime import datetime` so you can parse timestamps. Do not use modules that are not imported.",
		"9. Return decision 'invalid' only when the evidence clearly requires it or the data source is unavailable.",
		"10. At the bottom of the script include:",
		"   if __name__ == \"__main__\":",
		"       import json",
		"       result = resolve_oracle()",
		"       print(json.dumps(result))",
		"11. Use only standard libraries plus 'requests', 'json', 'datetime', and 'time'.",
		"12. Output raw Python code only (no markdown fences, explanations, or JSON).",
		"13. Return complete runnable code with properly closed strings and functions.",
	}
	for _, r := range rules {
		b.WriteString(r)
		b.WriteByte('\n')
	}

	if len(placeholders) > 0 {
		b.WriteString("14. Use the placeholder tokens below exactly as written. Do not attempt to reconstruct or guess the underlying literal.\n")
		b.WriteString("15. Begin your script by declaring the following module-level constants (copy these lines verbatim), then reference those constants in your code:\n")
		tokens := make([]string, 0, len(placeholders))
		for token := range placeholders {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		for _, token := range tokens {
			p := placeholders[token]
			fmt.Fprintf(&b, "   %s = \"%s\"  # %s\n", p.Const, p.Token, p.Description)
		}
	}

	if pc.PreviousCode != "" {
		b.WriteString("\nYour previous script failed. Previous code:\n")
		b.WriteString(pc.PreviousCode)
		b.WriteString("\nError:\n")
		b.WriteString(pc.PreviousErr)
		b.WriteString("\nFix the problem and return the corrected full script.\n")
	}

	fmt.Fprintf(&b, "\nRequest id: %s\nIdentifier: %s\nRequest timestamp: %d\n", pc.RequestID, pc.Identifier, pc.Timestamp)
	b.WriteString("Oracle question:\n")
	b.WriteString(sanitizedAncillary)
	b.WriteByte('\n')
	return b.String()
}
