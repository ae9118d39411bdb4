// Package dispatch parses Loxone command URLs, routes them to handlers and
// serialises the response envelope.
package dispatch

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// CommandResult is what every handler resolves to. Raw results skip the
// "<name>_result" wrapper.
type CommandResult struct {
	Name    string
	Payload any
	Raw     bool
}

// EmptyResult is the envelope for unknown or unroutable commands.
func EmptyResult(name string) CommandResult {
	return CommandResult{Name: name, Payload: []any{}}
}

// Serialize renders the wire response for a command. Wrapped payloads use the
// legacy two-space indentation.
func Serialize(result CommandResult, command string) string {
	if result.Raw {
		if s, ok := result.Payload.(string); ok {
			return s
		}
		encoded, err := json.MarshalIndent(result.Payload, "", "  ")
		if err != nil {
			return "{}"
		}
		return string(encoded)
	}

	envelope := map[string]any{
		result.Name + "_result": result.Payload,
		"command":               command,
	}
	encoded, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return `{"command": "` + command + `"}`
	}
	return string(encoded)
}

// lastAlphaSegment picks the response name for unmatched URLs: the last
// segment consisting only of letters, else the last segment.
func lastAlphaSegment(url string) string {
	segments := strings.Split(strings.Trim(url, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" && isAlpha(segments[i]) {
			return segments[i]
		}
	}
	return segments[len(segments)-1]
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// DecodeURLSafeBase64 reverses the MiniServer payload encoding: URL-safe
// alphabet with padding stripped. The standard alphabet is also accepted.
func DecodeURLSafeBase64(encoded string) ([]byte, error) {
	normalized := strings.NewReplacer("-", "+", "_", "/").Replace(encoded)
	if pad := len(normalized) % 4; pad != 0 {
		normalized += strings.Repeat("=", 4-pad)
	}
	return base64.StdEncoding.DecodeString(normalized)
}
