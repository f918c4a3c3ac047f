package audio

import "context"

// Source is a live capture device that delivers fixed-duration frames of
// [CaptureFormat] PCM.
//
// A Source is started once with [Source.Start] and delivers frames on the
// channel returned by [Source.Frames] until it is closed or the device fails.
// On failure the channel is closed and [Source.Err] reports the cause; a nil
// Err after close means a clean shutdown.
//
// While muted, a Source keeps draining the device but discards frames, so the
// relay never hears its own playback. Implementations must be safe for
// concurrent use.
type Source interface {
	// Start opens the device and begins delivering frames. It returns an
	// error if the device cannot be opened. ctx bounds the capture lifetime:
	// cancelling it has the same effect as Close.
	Start(ctx context.Context) error

	// Frames returns the receive side of the bounded capture queue. The same
	// channel is returned on every call.
	Frames() <-chan AudioFrame

	// Err returns the error that stopped capture, or nil.
	Err() error

	// Mute suspends frame delivery. Frames captured while muted are dropped.
	Mute()

	// Unmute resumes frame delivery.
	Unmute()

	// Flush discards every frame currently queued and returns the count.
	Flush() int

	// Close stops the device and closes the frame channel. Safe to call
	// more than once.
	Close() error
}

// Sink is an output device that plays PCM to the user.
type Sink interface {
	// Play renders pcm in format f and blocks until the device has finished
	// rendering it, ctx is cancelled, or the device fails. On cancellation
	// playback is stopped and ctx.Err() is returned.
	Play(ctx context.Context, pcm []byte, f Format) error

	// Close releases the device.
	Close() error
}
