package alerts

import (
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loxgrid/audioserver-bridge/internal/fade"
)

const maxTTSLength = 800

// langAliases maps the three-letter codes the MiniServer sends to the
// two-letter codes the TTS endpoint understands.
var langAliases = map[string]string{
	"nld": "nl",
	"dut": "nl",
	"eng": "en",
	"deu": "de",
	"ger": "de",
	"ita": "it",
	"spa": "es",
	"por": "pt",
	"fra": "fr",
	"fre": "fr",
}

// ParseTTS splits an optional leading language tag off a TTS payload.
// The payload is "LANG|text" or bare text; unknown tags are truncated to
// their first two characters. Text is capped at 800 characters.
func ParseTTS(payload string) (lang, text string) {
	lang = "en"
	text = payload
	if idx := strings.Index(payload, "|"); idx >= 0 {
		tag := strings.ToLower(strings.TrimSpace(payload[:idx]))
		text = payload[idx+1:]
		if alias, ok := langAliases[tag]; ok {
			lang = alias
		} else if len(tag) >= 2 {
			lang = tag[:2]
		}
	}
	if runes := []rune(text); len(runes) > maxTTSLength {
		text = string(runes[:maxTTSLength]) + "…"
	}
	return lang, text
}

// Options are the per-request alert tuning knobs.
type Options struct {
	Fading       bool
	FadeDuration time.Duration
}

// ParseOptions reads the trailing opts segment. The segment is query-string
// shaped and may be wrapped in "q&<base64>".
func ParseOptions(raw string) Options {
	options := Options{FadeDuration: fade.DefaultDuration}
	if raw == "" {
		return options
	}
	if encoded, ok := strings.CutPrefix(raw, "q&"); ok {
		decoded, err := decodeURLSafeBase64(encoded)
		if err != nil {
			return options
		}
		raw = decoded
	}
	raw = strings.TrimPrefix(raw, "?")

	values, err := url.ParseQuery(raw)
	if err != nil {
		return options
	}
	for _, key := range []string{"fading", "fade"} {
		if values.Has(key) {
			value := values.Get(key)
			options.Fading = value == "" || value == "1" || strings.EqualFold(value, "true")
		}
	}
	for _, key := range []string{"fadingTime", "fadeTime", "fadeDuration"} {
		if !values.Has(key) {
			continue
		}
		if seconds, err := strconv.ParseFloat(values.Get(key), 64); err == nil && seconds > 0 {
			options.FadeDuration = time.Duration(seconds * float64(time.Second))
			options.Fading = true
		}
	}
	return options
}

// decodeURLSafeBase64 accepts both URL-safe and standard alphabets and
// restores stripped padding.
func decodeURLSafeBase64(encoded string) (string, error) {
	normalized := strings.NewReplacer("-", "+", "_", "/").Replace(encoded)
	if pad := len(normalized) % 4; pad != 0 {
		normalized += strings.Repeat("=", 4-pad)
	}
	decoded, err := base64.StdEncoding.DecodeString(normalized)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
