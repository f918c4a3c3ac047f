// Package utterance segments a live frame stream into utterances: spans of
// audio from the first speech frame to the point where the speaker has been
// silent long enough to be considered finished.
//
// The [Recorder] is a three-state machine (Idle → Recording → Finalizing →
// Idle) driven one frame at a time by a VAD session. It is not safe for
// concurrent use; the pipeline controller owns it.
package utterance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/vad"
)

// DefaultSilence is the trailing silence that ends an utterance.
const DefaultSilence = 1800 * time.Millisecond

// ErrSourceClosed is returned by [Recorder.Next] when the frame channel closes.
var ErrSourceClosed = errors.New("utterance: frame source closed")

// State is the recorder's position in its state machine.
type State int

const (
	// Idle waits for the first speech frame.
	Idle State = iota

	// Recording buffers every frame and tracks trailing silence.
	Recording

	// Finalizing is held only while the buffered frames are handed out.
	Finalizing
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Config controls segmentation.
type Config struct {
	// Silence is the trailing silence after which an utterance ends.
	// Zero selects [DefaultSilence].
	Silence time.Duration

	// MinSpeech drops utterances whose total speech is shorter. Zero keeps
	// every utterance that contains at least one speech frame.
	MinSpeech time.Duration

	// MaxUtterance finalizes an utterance as soon as it reaches this length.
	// Zero means unlimited.
	MaxUtterance time.Duration
}

// Utterance is the ordered run of frames from detected speech onset through
// the frame that completed the trailing silence. It always contains at least
// one speech frame.
type Utterance struct {
	frames []audio.AudioFrame
	speech time.Duration
	total  time.Duration
}

// Frames returns the utterance's frames in capture order.
func (u *Utterance) Frames() []audio.AudioFrame { return u.frames }

// PCM returns the concatenated audio of every frame.
func (u *Utterance) PCM() []byte {
	n := 0
	for _, f := range u.frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range u.frames {
		out = append(out, f.Data...)
	}
	return out
}

// Format returns the audio format of the utterance (that of its first frame).
func (u *Utterance) Format() audio.Format {
	if len(u.frames) == 0 {
		return audio.Format{}
	}
	return u.frames[0].Format()
}

// Duration returns the total length of the utterance, trailing silence included.
func (u *Utterance) Duration() time.Duration { return u.total }

// SpeechDuration returns the summed length of the frames classified as speech.
func (u *Utterance) SpeechDuration() time.Duration { return u.speech }

// Start returns the capture timestamp of the first frame.
func (u *Utterance) Start() time.Duration {
	if len(u.frames) == 0 {
		return 0
	}
	return u.frames[0].Timestamp
}

// Recorder turns frames into utterances.
type Recorder struct {
	vad vad.SessionHandle
	cfg Config
	log *slog.Logger

	onDiscard func(reason string)

	state    State
	buf      []audio.AudioFrame
	trailing time.Duration
	speech   time.Duration
	total    time.Duration

	vadErrLogged bool
}

// Option is a functional option for [New].
type Option func(*Recorder)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// WithDiscardHook registers a callback invoked whenever a recording is
// dropped instead of being emitted (currently only "too_short").
func WithDiscardHook(fn func(reason string)) Option {
	return func(r *Recorder) { r.onDiscard = fn }
}

// New returns an idle recorder classifying frames with sess.
func New(sess vad.SessionHandle, cfg Config, opts ...Option) *Recorder {
	if cfg.Silence <= 0 {
		cfg.Silence = DefaultSilence
	}
	r := &Recorder{vad: sess, cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// State returns the current state.
func (r *Recorder) State() State { return r.state }

// Reset drops any partial recording and returns to Idle. The VAD session is
// reset too, so the next frame is classified without history.
func (r *Recorder) Reset() {
	r.clear()
	r.vad.Reset()
}

func (r *Recorder) clear() {
	r.state = Idle
	r.buf = nil
	r.trailing = 0
	r.speech = 0
	r.total = 0
}

// Push feeds one frame to the state machine. It returns the finished
// utterance and true when f completed one.
//
// A frame the VAD cannot classify is treated as silence.
func (r *Recorder) Push(f audio.AudioFrame) (*Utterance, bool) {
	speech := r.classify(f)
	d := f.Duration()

	switch r.state {
	case Idle:
		if !speech {
			return nil, false
		}
		r.state = Recording
		r.buf = append(r.buf, f)
		r.speech = d
		r.total = d
		r.trailing = 0

	case Recording:
		r.buf = append(r.buf, f)
		r.total += d
		if speech {
			r.trailing = 0
			r.speech += d
		} else {
			r.trailing += d
		}
		if r.trailing < r.cfg.Silence {
			break
		}
		return r.finalize()
	}

	if r.cfg.MaxUtterance > 0 && r.total >= r.cfg.MaxUtterance {
		return r.finalize()
	}
	return nil, false
}

func (r *Recorder) classify(f audio.AudioFrame) bool {
	ev, err := r.vad.ProcessFrame(f.Data)
	if err != nil {
		if !r.vadErrLogged {
			r.vadErrLogged = true
			r.log.Warn("utterance: vad failed, treating frame as silence", "err", err)
		}
		return false
	}
	return ev.IsSpeech()
}

func (r *Recorder) finalize() (*Utterance, bool) {
	r.state = Finalizing
	u := &Utterance{frames: r.buf, speech: r.speech, total: r.total}
	r.buf = nil
	r.clear()

	if u.speech == 0 || u.speech < r.cfg.MinSpeech {
		r.log.Debug("utterance: discarding short recording",
			"speech", u.speech,
			"min_speech", r.cfg.MinSpeech,
		)
		if r.onDiscard != nil {
			r.onDiscard("too_short")
		}
		return nil, false
	}
	return u, true
}

// Next pulls frames until an utterance is emitted. It returns ctx.Err() when
// ctx ends and [ErrSourceClosed] when frames closes; any partial recording is
// kept so a later call continues it.
func (r *Recorder) Next(ctx context.Context, frames <-chan audio.AudioFrame) (*Utterance, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil, ErrSourceClosed
			}
			if u, done := r.Push(f); done {
				return u, nil
			}
		}
	}
}

// String is used in debug logs.
func (u *Utterance) String() string {
	return fmt.Sprintf("utterance(%d frames, %v, speech %v)", len(u.frames), u.total, u.speech)
}
