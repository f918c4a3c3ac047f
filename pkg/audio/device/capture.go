// Package device binds the relay's [audio.Source] and [audio.Sink] to real
// sound hardware: capture through miniaudio (malgo) and playback through oto.
//
// Both require cgo on Linux (ALSA/PulseAudio headers) and are therefore kept
// out of the core audio package so unit tests elsewhere never link them.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/gen2brain/malgo"
)

// ErrDeviceStopped is reported by [Capture.Err] when the driver stopped the
// capture device without the relay asking it to (device unplugged, server
// restarted).
var ErrDeviceStopped = errors.New("device: capture device stopped unexpectedly")

// DefaultFrameDuration is the length of each delivered frame.
const DefaultFrameDuration = 20 * time.Millisecond

// Capture is an [audio.Source] reading the default input device.
type Capture struct {
	format      audio.Format
	frameDur    time.Duration
	queueFrames int
	deviceName  string
	onDrop      func(audio.DropReason)
	log         *slog.Logger

	queue *audio.FrameQueue
	cut   *frameCutter

	mu      sync.Mutex
	mctx    *malgo.AllocatedContext
	dev     *malgo.Device
	err     error
	started bool
	closed  bool
}

var _ audio.Source = (*Capture)(nil)

// CaptureOption is a functional option for [NewCapture].
type CaptureOption func(*Capture)

// WithFrameDuration sets the length of each delivered frame. Defaults to
// [DefaultFrameDuration].
func WithFrameDuration(d time.Duration) CaptureOption {
	return func(c *Capture) { c.frameDur = d }
}

// WithQueueFrames sets the capacity of the capture queue.
func WithQueueFrames(n int) CaptureOption {
	return func(c *Capture) { c.queueFrames = n }
}

// WithDropHook registers a callback invoked for every frame the capture
// queue refuses. It runs on the audio thread and must not block.
func WithDropHook(fn func(audio.DropReason)) CaptureOption {
	return func(c *Capture) { c.onDrop = fn }
}

// WithDeviceName is recorded in logs to identify the device. Device selection
// by name is not supported; the system default input is always used.
func WithDeviceName(name string) CaptureOption {
	return func(c *Capture) { c.deviceName = name }
}

// WithCaptureLogger sets the logger. Defaults to [slog.Default].
func WithCaptureLogger(l *slog.Logger) CaptureOption {
	return func(c *Capture) { c.log = l }
}

// NewCapture returns an unstarted capture source producing [audio.CaptureFormat] frames.
func NewCapture(opts ...CaptureOption) *Capture {
	c := &Capture{
		format:   audio.CaptureFormat,
		frameDur: DefaultFrameDuration,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.frameDur <= 0 {
		c.frameDur = DefaultFrameDuration
	}
	c.queue = audio.NewFrameQueue(c.queueFrames, c.onDrop)
	c.cut = newFrameCutter(c.format, c.frameDur)
	return c
}

// Start implements [audio.Source].
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("device: capture already started")
	}
	if c.closed {
		return errors.New("device: capture closed")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		c.log.Debug("device: miniaudio", "msg", msg)
	})
	if err != nil {
		return fmt.Errorf("device: init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(c.format.Channels)
	cfg.SampleRate = uint32(c.format.SampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(c.frameDur / time.Millisecond)

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.cut.Feed(input, func(f audio.AudioFrame) { c.queue.Push(f) })
		},
		Stop: c.onStop,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("device: init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("device: start capture device: %w", err)
	}

	c.mctx = mctx
	c.dev = dev
	c.started = true
	c.log.Info("device: capture started",
		"device", c.deviceName,
		"format", c.format.String(),
		"frame", c.frameDur,
	)

	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
	return nil
}

// onStop runs on the audio thread whenever the device stops, including on
// a requested Close.
func (c *Capture) onStop() {
	c.mu.Lock()
	unexpected := !c.closed
	if unexpected && c.err == nil {
		c.err = ErrDeviceStopped
	}
	c.mu.Unlock()
	if unexpected {
		c.log.Error("device: capture device stopped")
		c.queue.Close()
	}
}

// Frames implements [audio.Source].
func (c *Capture) Frames() <-chan audio.AudioFrame { return c.queue.Frames() }

// Err implements [audio.Source].
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Mute implements [audio.Source].
func (c *Capture) Mute() { c.queue.SetMuted(true) }

// Unmute implements [audio.Source].
func (c *Capture) Unmute() { c.queue.SetMuted(false) }

// Flush implements [audio.Source].
func (c *Capture) Flush() int { return c.queue.Flush() }

// Dropped returns the number of frames refused by the capture queue.
func (c *Capture) Dropped() int64 { return c.queue.Dropped() }

// Close implements [audio.Source].
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dev, mctx := c.dev, c.mctx
	c.dev, c.mctx = nil, nil
	c.mu.Unlock()

	var err error
	if dev != nil {
		err = dev.Stop()
		dev.Uninit()
	}
	if mctx != nil {
		err = errors.Join(err, mctx.Uninit())
		mctx.Free()
	}
	c.queue.Close()
	if err != nil {
		return fmt.Errorf("device: close capture: %w", err)
	}
	return nil
}

// frameCutter re-slices the driver's variably sized callback buffers into
// fixed-duration frames. It is used from a single goroutine (the audio thread).
type frameCutter struct {
	format  audio.Format
	size    int
	pending []byte
	ts      time.Duration
}

func newFrameCutter(f audio.Format, d time.Duration) *frameCutter {
	size := f.Bytes(d)
	if size == 0 {
		size = f.Channels * audio.BytesPerSample
	}
	return &frameCutter{format: f, size: size}
}

// Feed appends b and calls emit once for each complete frame now available.
// The emitted frame owns its data.
func (fc *frameCutter) Feed(b []byte, emit func(audio.AudioFrame)) {
	fc.pending = append(fc.pending, b...)
	for len(fc.pending) >= fc.size {
		data := make([]byte, fc.size)
		copy(data, fc.pending[:fc.size])
		fc.pending = fc.pending[fc.size:]

		f := audio.AudioFrame{
			Data:       data,
			SampleRate: fc.format.SampleRate,
			Channels:   fc.format.Channels,
			Timestamp:  fc.ts,
		}
		fc.ts += f.Duration()
		emit(f)
	}
	// Reclaim the consumed prefix so the buffer does not grow without bound.
	if len(fc.pending) == 0 {
		fc.pending = fc.pending[:0:0]
	}
}
