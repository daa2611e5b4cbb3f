package parser

import (
	"strings"
)

// AudioOnlyMarker tags the playlist entries that describe the audio-only variant.
const AudioOnlyMarker = "audio_only"

// secureURLPrefix is the only URL line shape accepted as a variant URL.
const secureURLPrefix = "https://"

// ExtractAudioOnlyStreamURL returns the first https:// line that follows a line
// mentioning audio_only. Scanning stops at the first match. Nothing is found
// for empty input or when no marker precedes a URL line.
func ExtractAudioOnlyStreamURL(playlist string) (string, bool) {
	if playlist == "" {
		return "", false
	}

	armed := false
	for _, line := range strings.Split(playlist, "\n") {
		line = strings.TrimRight(line, "\r")

		if strings.Contains(line, AudioOnlyMarker) {
			armed = true
		}
		if armed && strings.HasPrefix(line, secureURLPrefix) {
			return line, true
		}
	}

	return "", false
}
