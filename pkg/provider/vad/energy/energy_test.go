package energy_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/provider/vad"
	"github.com/MrWong99/voxrelay/pkg/provider/vad/energy"
)

// constFrame returns n samples of constant amplitude, whose RMS is |amp|.
func constFrame(n int, amp int16) []byte {
	b := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(amp))
	}
	return b
}

func newSession(t *testing.T, cfg vad.Config) vad.SessionHandle {
	t.Helper()
	s, err := energy.New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_Transitions(t *testing.T) {
	t.Parallel()
	s := newSession(t, vad.Config{SampleRate: 16000, FrameSizeMs: 20})

	steps := []struct {
		amp  int16
		want vad.VADEventType
	}{
		{0, vad.VADSilence},
		{299, vad.VADSilence},
		{300, vad.VADSpeechStart},
		{1200, vad.VADSpeechContinue},
		{-1200, vad.VADSpeechContinue},
		{10, vad.VADSpeechEnd},
		{10, vad.VADSilence},
		{5000, vad.VADSpeechStart},
	}
	for i, st := range steps {
		ev, err := s.ProcessFrame(constFrame(320, st.amp))
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if ev.Type != st.want {
			t.Errorf("step %d (amp %d): Type = %v, want %v", i, st.amp, ev.Type, st.want)
		}
	}
}

func TestSession_Hysteresis(t *testing.T) {
	t.Parallel()
	s := newSession(t, vad.Config{SampleRate: 16000, SpeechThreshold: 1000, SilenceThreshold: 400})

	for i, st := range []struct {
		amp    int16
		speech bool
	}{
		{700, false}, // below start threshold
		{1000, true},
		{700, true}, // above silence threshold while speaking
		{399, false},
		{700, false},
	} {
		ev, err := s.ProcessFrame(constFrame(160, st.amp))
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if ev.IsSpeech() != st.speech {
			t.Errorf("step %d (amp %d): IsSpeech = %v, want %v", i, st.amp, ev.IsSpeech(), st.speech)
		}
	}
}

func TestSession_LevelAndReset(t *testing.T) {
	t.Parallel()
	s := newSession(t, vad.Config{SampleRate: 16000})

	ev, _ := s.ProcessFrame(constFrame(100, 600))
	if ev.Level != 600 {
		t.Errorf("Level = %v, want 600", ev.Level)
	}
	if ev.Probability <= 0 || ev.Probability > 1 {
		t.Errorf("Probability = %v, want in (0, 1]", ev.Probability)
	}

	s.Reset()
	ev, _ = s.ProcessFrame(constFrame(100, 600))
	if ev.Type != vad.VADSpeechStart {
		t.Errorf("after Reset: Type = %v, want speech_start", ev.Type)
	}
}

func TestSession_FrameSizeAndClose(t *testing.T) {
	t.Parallel()
	s := newSession(t, vad.Config{SampleRate: 16000, FrameSizeMs: 20})

	if _, err := s.ProcessFrame(constFrame(100, 0)); err == nil {
		t.Error("expected error for wrong frame size")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := s.ProcessFrame(constFrame(320, 0)); !errors.Is(err, energy.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestEngine_InvalidConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{name: "no sample rate", cfg: vad.Config{}},
		{name: "negative frame", cfg: vad.Config{SampleRate: 16000, FrameSizeMs: -1}},
		{name: "negative threshold", cfg: vad.Config{SampleRate: 16000, SpeechThreshold: -1}},
		{name: "silence above speech", cfg: vad.Config{SampleRate: 16000, SpeechThreshold: 100, SilenceThreshold: 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := energy.New().NewSession(tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
