package types

import "strings"

// Prebuilt voices offered by the live model.
const (
	VoiceKore   = "Kore"
	VoicePuck   = "Puck"
	VoiceZephyr = "Zephyr"
	VoiceCharon = "Charon"
)

// DefaultVoice is used when no voice is configured.
const DefaultVoice = VoiceKore

// Voices lists every selectable voice.
var Voices = []string{VoiceKore, VoicePuck, VoiceZephyr, VoiceCharon}

// NormalizeVoice matches name case-insensitively against Voices. An empty
// name yields DefaultVoice.
func NormalizeVoice(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultVoice, true
	}
	for _, v := range Voices {
		if strings.EqualFold(v, name) {
			return v, true
		}
	}
	return "", false
}
