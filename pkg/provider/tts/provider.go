// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., OpenAI, ElevenLabs, a
// local Coqui server or the operating system's speech synthesiser) and turns
// one reply text into one block of PCM audio. Replies are short, so the whole
// clip is synthesised before playback starts.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyText is returned when Synthesize is called with blank text.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text into PCM audio spoken with voice. The returned
	// Audio carries its own Format; callers convert as needed.
	//
	// Returns ErrEmptyText (wrapped) for blank input, or a provider error if
	// the service cannot be reached or returns no audio.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (Audio, error)
}

// CheckText trims text and reports ErrEmptyText when nothing is left.
func CheckText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	return text, nil
}
