package tts

import (
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// VoiceProfile describes the voice a reply is spoken with.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier. Empty selects the
	// provider's default voice.
	ID string

	// Name is the human-readable voice name.
	Name string

	// SpeedFactor adjusts speaking rate (0.25–4.0, 0 or 1.0 = default).
	SpeedFactor float64

	// Instructions is a free-form style hint for providers that accept one
	// (e.g., "Speak in a calm, measured tone").
	Instructions string
}

// Audio is a synthesised clip.
type Audio struct {
	// PCM is signed 16-bit little-endian interleaved sample data.
	PCM []byte

	// Format describes PCM.
	Format audio.Format
}

// Duration returns the playback duration of the clip.
func (a Audio) Duration() time.Duration {
	return a.Format.Duration(len(a.PCM))
}

// IsEmpty reports whether the clip contains no samples.
func (a Audio) IsEmpty() bool {
	return len(a.PCM) < audio.BytesPerSample
}
