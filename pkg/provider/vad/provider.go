// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. The relay ships a single energy (RMS)
// detector in vad/energy; the interface exists so that a model-based
// detector can be substituted without touching the utterance recorder.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection
// result, which keeps the capture loop free of suspension points.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the expected duration of each audio frame in
	// milliseconds. Zero disables the frame size check.
	FrameSizeMs int

	// SpeechThreshold is the level at or above which a frame is classified as
	// speech. For energy engines this is an RMS amplitude in 16-bit PCM units
	// (0–32767); model-based engines interpret it as a probability.
	SpeechThreshold float64

	// SilenceThreshold is the level below which a frame inside a speech
	// segment is classified as silence. Zero means "same as
	// SpeechThreshold" (no hysteresis). Must be ≤ SpeechThreshold.
	SilenceThreshold float64
}

// SessionHandle represents an active VAD session for a single audio stream.
// Each session maintains its own detection state; Reset clears this state
// without closing the session.
type SessionHandle interface {
	// ProcessFrame classifies a single frame of raw little-endian 16-bit PCM.
	// Returns an error if the frame size is wrong or the session is closed.
	// It must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
