package stt

import (
	"strings"
	"time"
)

// Transcript is the text recognised in one utterance. It is immutable once
// returned by a [Provider].
type Transcript struct {
	// Text is the transcribed speech content, trimmed of surrounding space.
	Text string

	// Language is the detected or requested language, when the provider reports one.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the provider
	// does not report confidence.
	Confidence float64

	// Duration is the length of the audio that was transcribed.
	Duration time.Duration
}

// IsEmpty reports whether the transcript carries no text.
func (t Transcript) IsEmpty() bool {
	return strings.TrimSpace(t.Text) == ""
}
