package msconfig

import (
	"encoding/base64"
	"strings"

	"github.com/loxgrid/audioserver-bridge/internal/zone"
)

// MergeZoneConfigEntries appends the entries whose ids are not yet present.
// Merging the same entries twice returns the same list and an empty added
// slice on the second call.
func MergeZoneConfigEntries(existing, entries []zone.Override) (merged, added []zone.Override) {
	merged = append(merged, existing...)
	known := make(map[int]struct{}, len(existing))
	for _, entry := range existing {
		known[entry.ID] = struct{}{}
	}
	for _, entry := range entries {
		if _, ok := known[entry.ID]; ok {
			continue
		}
		known[entry.ID] = struct{}{}
		merged = append(merged, entry)
		added = append(added, entry)
	}
	return merged, added
}

// ComputeAuthorizationHeader builds the Basic auth header the MiniServer
// expects. Inputs are always trimmed.
func ComputeAuthorizationHeader(username, password string) string {
	credentials := strings.TrimSpace(username) + ":" + strings.TrimSpace(password)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}
