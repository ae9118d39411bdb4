package dispatch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeRedactsSecureTokens(t *testing.T) {
	sanitized := SanitizeCommand("secure/init/eyJhbGciOiJIUzI1NiJ9.payload.signature")
	require.Equal(t, "secure/init/[token redacted, 38 chars]", sanitized)

	sanitized = SanitizeCommand("secure/authenticate/device-1/supersecret")
	require.Equal(t, "secure/authenticate/device-1/[token redacted]", sanitized)

	sanitized = SanitizeCommand("secure/hello/session-token/certificateblob")
	require.Equal(t, "secure/hello/session-token/[cert trimmed]", sanitized)
}

func TestSanitizeReplacesBulkPayloads(t *testing.T) {
	sanitized := SanitizeCommand("audio/cfg/setconfig/" + strings.Repeat("A", 500))
	require.Equal(t, "audio/cfg/setconfig/[payload]", sanitized)

	sanitized = SanitizeCommand("audio/cfg/playername/eyJuYW1lIjoiS2l0Y2hlbiJ9")
	require.Equal(t, "audio/cfg/playername/[payload]", sanitized)
}

func TestSanitizeTruncatesLongCommands(t *testing.T) {
	long := "audio/9/playurl/" + strings.Repeat("x", 400)
	sanitized := SanitizeCommand(long)
	require.True(t, len(sanitized) < len(long))
	require.Contains(t, sanitized, "(truncated")
}

func TestSanitizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"audio/7/volume/-5",
		"secure/init/" + strings.Repeat("t", 64),
		"secure/authenticate/device/token",
		"secure/hello/session/cert",
		"audio/cfg/setconfig/" + strings.Repeat("A", 500),
		"audio/9/playurl/" + strings.Repeat("x", 400),
	}
	for _, input := range inputs {
		once := SanitizeCommand(input)
		require.Equal(t, once, SanitizeCommand(once), "input %q", input)
	}
}
