// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (OpenAI Whisper, a local
// whisper.cpp server or library, Deepgram) and exposes a uniform batch
// interface: one finished utterance in, one [Transcript] out. The relay never
// needs partial results, so streaming is left to the individual backends.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned by Transcribe when the request carries no PCM.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request is a single transcription job.
type Request struct {
	// PCM is 16-bit signed little-endian audio, interleaved if multi-channel.
	PCM []byte

	// SampleRate is the audio sample rate in Hz (16000 for captured speech).
	SampleRate int

	// Channels is the number of audio channels. 1 for captured speech.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en", "de-DE").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Prompt is optional vocabulary or context text that biases recognition
	// towards expected words. Providers that do not support it ignore it.
	Prompt string
}

// Validate reports whether the request can be transcribed.
func (r Request) Validate() error {
	if len(r.PCM) == 0 {
		return ErrEmptyAudio
	}
	if r.SampleRate <= 0 || r.Channels <= 0 {
		return errors.New("stt: request has no audio format")
	}
	return nil
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts req's audio to text. It blocks until the service has
	// answered or ctx is done. An utterance that contains no recognisable
	// speech yields an empty Transcript and a nil error.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
