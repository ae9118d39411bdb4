// Package alerts drives the grouped alert pipeline: alarms, bells, buzzers
// and TTS, including the fade and repeat save/restore handling around them.
package alerts

import (
	"fmt"
	"net/url"
)

// Alert types accepted on the wire.
const (
	TypeAlarm     = "alarm"
	TypeFireAlarm = "firealarm"
	TypeBuzzer    = "buzzer"
	TypeBell      = "bell"
	TypeTTS       = "tts"
)

// IsAlertType reports whether s names a known alert type.
func IsAlertType(s string) bool {
	switch s {
	case TypeAlarm, TypeFireAlarm, TypeBuzzer, TypeBell, TypeTTS:
		return true
	}
	return false
}

// looping alerts repeat their track until stopped.
func isLooping(alertType string) bool {
	switch alertType {
	case TypeAlarm, TypeFireAlarm, TypeBuzzer:
		return true
	}
	return false
}

// Media resolves alert sounds and synthesised speech to playable URLs.
type Media interface {
	AlertURL(alertType string) (string, bool)
	TTSURL(lang, text string) string
}

// StaticMedia serves the bundled alert sounds from a base URL and proxies
// TTS to the translate endpoint.
type StaticMedia struct {
	baseURL string
}

func NewStaticMedia(baseURL string) *StaticMedia {
	return &StaticMedia{baseURL: baseURL}
}

var alertFiles = map[string]string{
	TypeAlarm:     "alarm.mp3",
	TypeFireAlarm: "firealarm.mp3",
	TypeBuzzer:    "buzzer.mp3",
	TypeBell:      "bell.mp3",
}

func (m *StaticMedia) AlertURL(alertType string) (string, bool) {
	file, ok := alertFiles[alertType]
	if !ok {
		return "", false
	}
	return m.baseURL + "/sounds/" + file, true
}

func (m *StaticMedia) TTSURL(lang, text string) string {
	return fmt.Sprintf(
		"https://translate.google.com/translate_tts?ie=UTF-8&client=tw-ob&tl=%s&q=%s",
		url.QueryEscape(lang), url.QueryEscape(text))
}
