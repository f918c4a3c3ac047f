// Package mock provides a scripted vad.SessionHandle for recorder tests.
//
// Session classifies frames by a fixed speech/silence pattern instead of by
// their content, so tests can drive the utterance state machine with
// arbitrary PCM:
//
//	sess := &mock.Session{Pattern: []bool{true, true, false}}
package mock

import (
	"sync"

	"github.com/MrWong99/voxrelay/pkg/provider/vad"
)

var _ vad.SessionHandle = (*Session)(nil)

// Session is a scripted vad.SessionHandle. It is safe for concurrent use.
type Session struct {
	mu sync.Mutex

	// Pattern classifies the n-th processed frame as speech when
	// Pattern[n] is true. Frames past the end of Pattern are silence.
	Pattern []bool

	// ProcessFrameErr, if non-nil, is returned for every frame.
	ProcessFrameErr error

	// Frames holds a copy of every frame passed to ProcessFrame.
	Frames [][]byte

	ResetCallCount int
	CloseCallCount int

	speaking bool
}

// ProcessFrame records frame and classifies it from Pattern. Start and end
// events are reported on transitions the way a real engine would.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.Frames)
	s.Frames = append(s.Frames, append([]byte(nil), frame...))
	if s.ProcessFrameErr != nil {
		return vad.VADEvent{}, s.ProcessFrameErr
	}

	speech := n < len(s.Pattern) && s.Pattern[n]
	ev := vad.VADEvent{Type: vad.VADSilence}
	switch {
	case speech && !s.speaking:
		ev = vad.VADEvent{Type: vad.VADSpeechStart, Probability: 1}
	case speech:
		ev = vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 1}
	case s.speaking:
		ev.Type = vad.VADSpeechEnd
	}
	s.speaking = speech
	return ev, nil
}

// Reset counts the call and forgets the speaking state. The position in
// Pattern is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
	s.speaking = false
}

// Close counts the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}
