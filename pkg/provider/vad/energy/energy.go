// Package energy implements a [vad.Engine] that classifies frames by their
// RMS amplitude against a fixed threshold.
//
// It needs no model and no cgo, and works well for a single close-talking
// microphone in a quiet room. Optional hysteresis (a lower silence threshold
// while inside speech) avoids flicker on trailing syllables.
package energy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/vad"
)

// DefaultThreshold is the RMS amplitude, in 16-bit PCM units, at or above
// which a frame counts as speech.
const DefaultThreshold = 300

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("energy: session closed")

// Engine is a stateless factory for energy sessions.
type Engine struct{}

var _ vad.Engine = (*Engine)(nil)

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine]. A zero SpeechThreshold selects
// [DefaultThreshold].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs < 0 {
		return nil, fmt.Errorf("energy: invalid frame size %dms", cfg.FrameSizeMs)
	}
	speech := cfg.SpeechThreshold
	if speech == 0 {
		speech = DefaultThreshold
	}
	if speech < 0 {
		return nil, fmt.Errorf("energy: negative speech threshold %v", speech)
	}
	silence := cfg.SilenceThreshold
	if silence == 0 {
		silence = speech
	}
	if silence < 0 || silence > speech {
		return nil, fmt.Errorf("energy: silence threshold %v must be in [0, %v]", silence, speech)
	}

	s := &Session{speech: speech, silence: silence}
	if cfg.FrameSizeMs > 0 {
		f := audio.Format{SampleRate: cfg.SampleRate, Channels: 1}
		s.frameBytes = f.Bytes(time.Duration(cfg.FrameSizeMs) * time.Millisecond)
	}
	return s, nil
}

// Session is a single-stream energy detector.
type Session struct {
	speech     float64
	silence    float64
	frameBytes int

	mu       sync.Mutex
	inSpeech bool
	closed   bool
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, ErrClosed
	}
	if s.frameBytes > 0 && len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	level := audio.RMS(frame)
	ev := vad.VADEvent{Level: level, Probability: min(level/32767, 1)}

	threshold := s.speech
	if s.inSpeech {
		threshold = s.silence
	}
	speech := level >= threshold

	switch {
	case speech && !s.inSpeech:
		ev.Type = vad.VADSpeechStart
	case speech:
		ev.Type = vad.VADSpeechContinue
	case s.inSpeech:
		ev.Type = vad.VADSpeechEnd
	default:
		ev.Type = vad.VADSilence
	}
	s.inSpeech = speech
	return ev, nil
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
