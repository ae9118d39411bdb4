package dispatch

import (
	"fmt"
	"regexp"
	"strings"
)

const maxLoggedCommandLength = 320

var (
	redactedMarker  = regexp.MustCompile(`^\[(token redacted|cert trimmed|payload)`)
	truncatedMarker = regexp.MustCompile(`… \(truncated \d+ chars\)$`)
)

// payloadRoutes carry opaque base64 blobs that would flood the log.
var payloadRoutes = []string{
	"audio/cfg/setconfig/",
	"audio/cfg/speakertype/",
	"audio/cfg/volumes/",
	"audio/cfg/playername/",
	"audio/cfg/groupopts/",
	"audio/cfg/playeropts/",
}

// SanitizeCommand rewrites a command URL for logging: secure tokens are
// redacted, bulk payloads replaced with a label, and overlong URLs
// truncated. The function is idempotent.
func SanitizeCommand(url string) string {
	if truncatedMarker.MatchString(url) {
		return url
	}

	sanitized := url
	segments := strings.Split(strings.Trim(url, "/"), "/")

	switch {
	case len(segments) >= 3 && segments[0] == "secure" && segments[1] == "init":
		if !redactedMarker.MatchString(segments[2]) {
			token := strings.Join(segments[2:], "/")
			sanitized = fmt.Sprintf("secure/init/[token redacted, %d chars]", len(token))
		}
	case len(segments) >= 4 && segments[0] == "secure" && segments[1] == "hello":
		if !redactedMarker.MatchString(segments[3]) {
			sanitized = strings.Join(segments[:3], "/") + "/[cert trimmed]"
		}
	case len(segments) >= 4 && segments[0] == "secure" && segments[1] == "authenticate":
		if !redactedMarker.MatchString(segments[3]) {
			sanitized = strings.Join(segments[:3], "/") + "/[token redacted]"
		}
	default:
		for _, prefix := range payloadRoutes {
			if strings.HasPrefix(sanitized, prefix) && sanitized != prefix+"[payload]" {
				sanitized = prefix + "[payload]"
				break
			}
		}
	}

	if len(sanitized) > maxLoggedCommandLength {
		over := len(sanitized) - maxLoggedCommandLength
		sanitized = sanitized[:maxLoggedCommandLength] + fmt.Sprintf("… (truncated %d chars)", over)
	}
	return sanitized
}
