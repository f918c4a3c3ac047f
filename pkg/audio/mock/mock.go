// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for use in unit tests.
//
// Both mocks are safe for concurrent use. They record every call so that tests
// can assert on counts and arguments, and expose fields that control results.
//
// Typical usage:
//
//	src := mock.NewSource(16)
//	src.Emit(audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1})
//	sink := &mock.Sink{}
//	// ... run the code under test ...
//	if got := len(sink.PlayCalls()); got != 1 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source] backed by an [audio.FrameQueue]. Frames are
// injected with [Source.Emit]; a device failure is simulated with [Source.Fail].
type Source struct {
	queue *audio.FrameQueue

	mu sync.Mutex

	// StartErr is returned by Start when non-nil.
	StartErr error

	err         error
	startCalls  int
	muteCalls   int
	unmuteCalls int
	flushCalls  int
	closeCalls  int
}

var _ audio.Source = (*Source)(nil)

// NewSource returns a mock source whose queue holds capacity frames.
func NewSource(capacity int) *Source {
	return &Source{queue: audio.NewFrameQueue(capacity, nil)}
}

// Start implements [audio.Source].
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
	return s.StartErr
}

// Frames implements [audio.Source].
func (s *Source) Frames() <-chan audio.AudioFrame { return s.queue.Frames() }

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Mute implements [audio.Source].
func (s *Source) Mute() {
	s.mu.Lock()
	s.muteCalls++
	s.mu.Unlock()
	s.queue.SetMuted(true)
}

// Unmute implements [audio.Source].
func (s *Source) Unmute() {
	s.mu.Lock()
	s.unmuteCalls++
	s.mu.Unlock()
	s.queue.SetMuted(false)
}

// Flush implements [audio.Source].
func (s *Source) Flush() int {
	s.mu.Lock()
	s.flushCalls++
	s.mu.Unlock()
	return s.queue.Flush()
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.queue.Close()
	return nil
}

// Emit pushes frames as if captured by the device and reports whether all of
// them were accepted.
func (s *Source) Emit(frames ...audio.AudioFrame) bool {
	ok := true
	for _, f := range frames {
		if !s.queue.Push(f) {
			ok = false
		}
	}
	return ok
}

// Fail records err as the capture error and closes the frame channel.
func (s *Source) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.queue.Close()
}

// Muted reports whether the source is currently muted.
func (s *Source) Muted() bool { return s.queue.Muted() }

// Dropped returns the number of frames refused by the queue.
func (s *Source) Dropped() int64 { return s.queue.Dropped() }

// StartCalls returns the number of Start invocations.
func (s *Source) StartCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCalls
}

// MuteCalls returns the number of Mute invocations.
func (s *Source) MuteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muteCalls
}

// UnmuteCalls returns the number of Unmute invocations.
func (s *Source) UnmuteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unmuteCalls
}

// FlushCalls returns the number of Flush invocations.
func (s *Source) FlushCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushCalls
}

// CloseCalls returns the number of Close invocations.
func (s *Source) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Sink.Play] invocation.
type PlayCall struct {
	PCM    []byte
	Format audio.Format
}

// Sink is a mock [audio.Sink]. Play returns immediately unless OnPlay blocks.
type Sink struct {
	mu sync.Mutex

	// PlayErr is returned by Play when non-nil.
	PlayErr error

	// OnPlay, if set, is called synchronously inside Play before it returns.
	// Tests use it to observe state (such as source muting) during playback.
	OnPlay func(ctx context.Context, pcm []byte, f audio.Format)

	playCalls  []PlayCall
	closeCalls int
}

var _ audio.Sink = (*Sink)(nil)

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, pcm []byte, f audio.Format) error {
	s.mu.Lock()
	s.playCalls = append(s.playCalls, PlayCall{PCM: append([]byte(nil), pcm...), Format: f})
	hook := s.OnPlay
	err := s.PlayErr
	s.mu.Unlock()

	if hook != nil {
		hook(ctx, pcm, f)
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

// PlayCalls returns a copy of all recorded Play invocations.
func (s *Sink) PlayCalls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayCall, len(s.playCalls))
	copy(out, s.playCalls)
	return out
}

// CloseCalls returns the number of Close invocations.
func (s *Sink) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
