// Package audio holds the PCM primitives shared by every stage of the relay:
// frames, formats, format conversion, container decoding, and the capture
// [Source] and playback [Sink] abstractions.
//
// All PCM handled here is 16-bit signed little-endian, interleaved when
// multi-channel.
package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is the width of one 16-bit PCM sample.
const BytesPerSample = 2

// CaptureFormat is the single capture format the relay works in: 16 kHz mono,
// which is what every supported transcription backend accepts natively.
var CaptureFormat = Format{SampleRate: 16000, Channels: 1}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// IsZero reports whether f carries no format information.
func (f Format) IsZero() bool {
	return f.SampleRate == 0 && f.Channels == 0
}

// BytesPerSecond returns the PCM byte rate of f. Returns 0 for invalid formats.
func (f Format) BytesPerSecond() int {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return f.SampleRate * f.Channels * BytesPerSample
}

// Duration returns the playback length of n bytes of PCM in format f.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Bytes returns the number of PCM bytes that hold d of audio in format f,
// rounded down to a whole sample frame.
func (f Format) Bytes(d time.Duration) int {
	bps := f.BytesPerSecond()
	if bps == 0 || d <= 0 {
		return 0
	}
	n := int(int64(bps) * int64(d) / int64(time.Second))
	frame := f.Channels * BytesPerSample
	return n - n%frame
}

// String returns a human-readable form, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// AudioFrame is one fixed-duration chunk of captured PCM. Frames are produced
// by a [Source], classified by the VAD, and either discarded or buffered into
// an utterance; they are never retained past that.
type AudioFrame struct {
	// PCM audio data.
	Data []byte

	// SampleRate in Hz (16000 for capture).
	SampleRate int

	// Channels: 1 for mono capture.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format returns the frame's audio format.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return f.Format().Duration(len(f.Data))
}
