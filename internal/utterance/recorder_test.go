package utterance_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/internal/utterance"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/vad"
	"github.com/MrWong99/voxrelay/pkg/provider/vad/energy"
	vadmock "github.com/MrWong99/voxrelay/pkg/provider/vad/mock"
)

const frameSamples = 320 // 20 ms at 16 kHz

func frameOf(amp int16, idx int) audio.AudioFrame {
	b := make([]byte, frameSamples*2)
	for i := range frameSamples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(amp))
	}
	return audio.AudioFrame{
		Data:       b,
		SampleRate: 16000,
		Channels:   1,
		Timestamp:  time.Duration(idx) * 20 * time.Millisecond,
	}
}

// script builds a frame sequence from (amplitude, count) runs.
func script(runs ...[2]int) []audio.AudioFrame {
	var out []audio.AudioFrame
	for _, r := range runs {
		for range r[1] {
			out = append(out, frameOf(int16(r[0]), len(out)))
		}
	}
	return out
}

func newRecorder(t *testing.T, cfg utterance.Config, opts ...utterance.Option) *utterance.Recorder {
	t.Helper()
	sess, err := energy.New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 20})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return utterance.New(sess, cfg, opts...)
}

// feed pushes frames and returns every emitted utterance with the index of
// the frame that completed it.
func feed(r *utterance.Recorder, frames []audio.AudioFrame) (utts []*utterance.Utterance, at []int) {
	for i, f := range frames {
		if u, ok := r.Push(f); ok {
			utts = append(utts, u)
			at = append(at, i)
		}
	}
	return utts, at
}

const (
	loud  = 2000
	quiet = 20
)

func TestRecorder_SilenceOnly(t *testing.T) {
	t.Parallel()
	r := newRecorder(t, utterance.Config{})
	utts, _ := feed(r, script([2]int{quiet, 500}, [2]int{0, 100}))
	if len(utts) != 0 {
		t.Errorf("emitted %d utterances from silence, want 0", len(utts))
	}
	if r.State() != utterance.Idle {
		t.Errorf("State() = %v, want idle", r.State())
	}
}

func TestRecorder_SpeechThenSilence(t *testing.T) {
	t.Parallel()
	r := newRecorder(t, utterance.Config{})

	// 0.5 s silence, 2 s speech, 2 s silence.
	frames := script([2]int{quiet, 25}, [2]int{loud, 100}, [2]int{quiet, 100})
	utts, at := feed(r, frames)
	if len(utts) != 1 {
		t.Fatalf("emitted %d utterances, want 1", len(utts))
	}

	// Finalized by the 90th silence frame (1.8 s).
	if want := 25 + 100 + 90 - 1; at[0] != want {
		t.Errorf("finalized at frame %d, want %d", at[0], want)
	}
	u := utts[0]
	if got := len(u.Frames()); got != 190 {
		t.Errorf("len(Frames()) = %d, want 190", got)
	}
	if u.Start() != frames[25].Timestamp {
		t.Errorf("Start() = %v, want %v (first speech frame)", u.Start(), frames[25].Timestamp)
	}
	if u.Duration() != 3800*time.Millisecond {
		t.Errorf("Duration() = %v, want 3.8s", u.Duration())
	}
	if u.SpeechDuration() != 2*time.Second {
		t.Errorf("SpeechDuration() = %v, want 2s", u.SpeechDuration())
	}
	if got := len(u.PCM()); got != 190*frameSamples*2 {
		t.Errorf("len(PCM()) = %d, want %d", got, 190*frameSamples*2)
	}
	if u.Format() != audio.CaptureFormat {
		t.Errorf("Format() = %v, want %v", u.Format(), audio.CaptureFormat)
	}
	if r.State() != utterance.Idle {
		t.Errorf("State() = %v after finalize, want idle", r.State())
	}
}

func TestRecorder_SilenceBelowThresholdKeepsRecording(t *testing.T) {
	t.Parallel()
	r := newRecorder(t, utterance.Config{})

	// A 1.78 s pause inside speech must not split the utterance.
	frames := script([2]int{loud, 10}, [2]int{quiet, 89}, [2]int{loud, 10}, [2]int{quiet, 90})
	utts, _ := feed(r, frames)
	if len(utts) != 1 {
		t.Fatalf("emitted %d utterances, want 1", len(utts))
	}
	if got := len(utts[0].Frames()); got != len(frames) {
		t.Errorf("len(Frames()) = %d, want %d", got, len(frames))
	}
}

func TestRecorder_States(t *testing.T) {
	t.Parallel()
	r := newRecorder(t, utterance.Config{Silence: 100 * time.Millisecond})
	if r.State() != utterance.Idle {
		t.Fatalf("initial State() = %v", r.State())
	}
	r.Push(frameOf(loud, 0))
	if r.State() != utterance.Recording {
		t.Fatalf("State() after speech = %v, want recording", r.State())
	}
	r.Reset()
	if r.State() != utterance.Idle {
		t.Fatalf("State() after Reset = %v, want idle", r.State())
	}
	// After reset, silence alone must not finalize anything.
	utts, _ := feed(r, script([2]int{quiet, 10}))
	if len(utts) != 0 {
		t.Errorf("emitted %d utterances after Reset, want 0", len(utts))
	}
}

func TestRecorder_MinSpeech(t *testing.T) {
	t.Parallel()
	var reasons []string
	r := newRecorder(t,
		utterance.Config{MinSpeech: 400 * time.Millisecond},
		utterance.WithDiscardHook(func(reason string) { reasons = append(reasons, reason) }),
	)

	utts, _ := feed(r, script([2]int{loud, 10}, [2]int{quiet, 90}))
	if len(utts) != 0 {
		t.Errorf("emitted %d utterances for 0.2 s of speech, want 0", len(utts))
	}
	if len(reasons) != 1 || reasons[0] != "too_short" {
		t.Errorf("discard reasons = %v, want [too_short]", reasons)
	}

	utts, _ = feed(r, script([2]int{loud, 20}, [2]int{quiet, 90}))
	if len(utts) != 1 {
		t.Errorf("emitted %d utterances for 0.4 s of speech, want 1", len(utts))
	}
}

func TestRecorder_MaxUtterance(t *testing.T) {
	t.Parallel()
	r := newRecorder(t, utterance.Config{MaxUtterance: time.Second})
	utts, at := feed(r, script([2]int{loud, 60}))
	if len(utts) != 1 {
		t.Fatalf("emitted %d utterances, want 1", len(utts))
	}
	if at[0] != 49 {
		t.Errorf("finalized at frame %d, want 49", at[0])
	}
	if r.State() != utterance.Recording {
		t.Errorf("State() = %v, want recording (speech continued)", r.State())
	}
}

func TestRecorder_VADErrorIsSilence(t *testing.T) {
	t.Parallel()
	sess := &vadmock.Session{ProcessFrameErr: errors.New("boom")}
	r := utterance.New(sess, utterance.Config{})
	utts, _ := feed(r, script([2]int{loud, 200}))
	if len(utts) != 0 {
		t.Errorf("emitted %d utterances, want 0", len(utts))
	}
	if len(sess.Frames) != 200 {
		t.Errorf("vad saw %d frames, want 200", len(sess.Frames))
	}
}

func TestRecorder_UsesSessionClassification(t *testing.T) {
	t.Parallel()
	pattern := make([]bool, 30)
	for i := range 10 {
		pattern[i] = true
	}
	sess := &vadmock.Session{Pattern: pattern}
	r := utterance.New(sess, utterance.Config{Silence: 200 * time.Millisecond})

	// Loud PCM everywhere: only the session decides what is speech.
	utts, _ := feed(r, script([2]int{loud, 30}))
	if len(utts) != 1 {
		t.Fatalf("emitted %d utterances, want 1", len(utts))
	}
	if got := utts[0].SpeechDuration(); got != 200*time.Millisecond {
		t.Errorf("SpeechDuration() = %v, want 200ms", got)
	}
}

func TestRecorder_ResetResetsVAD(t *testing.T) {
	t.Parallel()
	sess := &vadmock.Session{}
	r := utterance.New(sess, utterance.Config{})
	r.Reset()
	if sess.ResetCallCount != 1 {
		t.Errorf("vad ResetCallCount = %d, want 1", sess.ResetCallCount)
	}
}

func TestRecorder_Next(t *testing.T) {
	t.Parallel()

	t.Run("emits utterance", func(t *testing.T) {
		t.Parallel()
		r := newRecorder(t, utterance.Config{Silence: 200 * time.Millisecond})
		frames := script([2]int{loud, 5}, [2]int{quiet, 10})
		ch := make(chan audio.AudioFrame, len(frames))
		for _, f := range frames {
			ch <- f
		}
		u, err := r.Next(context.Background(), ch)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got := len(u.Frames()); got != 15 {
			t.Errorf("len(Frames()) = %d, want 15", got)
		}
	})

	t.Run("source closed", func(t *testing.T) {
		t.Parallel()
		r := newRecorder(t, utterance.Config{})
		ch := make(chan audio.AudioFrame, 1)
		ch <- frameOf(loud, 0)
		close(ch)
		if _, err := r.Next(context.Background(), ch); !errors.Is(err, utterance.ErrSourceClosed) {
			t.Errorf("err = %v, want ErrSourceClosed", err)
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		t.Parallel()
		r := newRecorder(t, utterance.Config{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := r.Next(ctx, make(chan audio.AudioFrame)); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}
