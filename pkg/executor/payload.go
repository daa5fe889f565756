package executor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractPayload pulls the resolution JSON out of a program transcript.
// Scripts print their result as the final JSON object on stdout, but debug
// prints above it are common, so we scan lines bottom-up for the first object
// carrying a decision key.
func extractPayload(stdout string) (map[string]any, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			continue
		}
		if _, ok := payload["decision"]; ok {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("no resolution payload found on stdout")
}

// payloadSources pulls the fetched-source URL list out of a payload.
func payloadSources(payload map[string]any) []string {
	raw, _ := payload["sources"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
