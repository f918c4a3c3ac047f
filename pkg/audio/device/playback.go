package device

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

const (
	// defaultPlaybackRate matches remote synthesis output, so the common
	// path plays without resampling.
	defaultPlaybackRate = 24000

	// drainPoll is how often Play checks whether the player has finished.
	drainPoll = 10 * time.Millisecond
)

// Speaker is an [audio.Sink] writing to the default output device.
//
// oto permits a single context per process, so create at most one Speaker.
// Play calls are serialised.
type Speaker struct {
	ctx    *oto.Context
	format audio.Format
	buffer time.Duration
	volume float64
	log    *slog.Logger

	mu   sync.Mutex
	conv audio.FormatConverter
}

var _ audio.Sink = (*Speaker)(nil)

// SpeakerOption is a functional option for [NewSpeaker].
type SpeakerOption func(*speakerConfig)

type speakerConfig struct {
	format audio.Format
	buffer time.Duration
	volume float64
	log    *slog.Logger
}

// WithOutputFormat sets the device format. Audio in any other format is
// converted before playback. Defaults to 24 kHz mono.
func WithOutputFormat(f audio.Format) SpeakerOption {
	return func(c *speakerConfig) { c.format = f }
}

// WithBufferSize sets the device buffer length. Smaller buffers lower latency
// at the risk of underruns.
func WithBufferSize(d time.Duration) SpeakerOption {
	return func(c *speakerConfig) { c.buffer = d }
}

// WithVolume scales playback loudness. v is clamped to (0, 1]; zero or
// negative keeps full volume.
func WithVolume(v float64) SpeakerOption {
	return func(c *speakerConfig) { c.volume = playerVolume(v) }
}

func playerVolume(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return min(v, 1)
}

// WithSpeakerLogger sets the logger. Defaults to [slog.Default].
func WithSpeakerLogger(l *slog.Logger) SpeakerOption {
	return func(c *speakerConfig) { c.log = l }
}

// NewSpeaker opens the output device and waits until it is ready.
func NewSpeaker(opts ...SpeakerOption) (*Speaker, error) {
	cfg := speakerConfig{
		format: audio.Format{SampleRate: defaultPlaybackRate, Channels: 1},
		buffer: 100 * time.Millisecond,
		volume: 1,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.format.SampleRate,
		ChannelCount: cfg.format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   cfg.buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("device: init output device: %w", err)
	}
	<-ready

	cfg.log.Info("device: playback ready", "format", cfg.format.String(), "buffer", cfg.buffer, "volume", cfg.volume)
	return &Speaker{
		ctx:    octx,
		format: cfg.format,
		buffer: cfg.buffer,
		volume: cfg.volume,
		log:    cfg.log,
		conv:   audio.FormatConverter{Target: cfg.format},
	}, nil
}

// Play implements [audio.Sink]. It returns once the player has handed its
// last sample to the device, or ctx.Err() after pausing the player if ctx
// ends first. Up to [Speaker.Latency] of audio may still be audible then.
func (s *Speaker) Play(ctx context.Context, pcm []byte, f audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.conv.Convert(pcm, f)
	if len(data) == 0 {
		return nil
	}
	if err := s.ctx.Err(); err != nil {
		return fmt.Errorf("device: output device: %w", err)
	}

	p := s.ctx.NewPlayer(bytes.NewReader(data))
	defer p.Close()
	p.SetVolume(s.volume)
	p.Play()

	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for p.IsPlaying() {
		select {
		case <-ctx.Done():
			p.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	if err := p.Err(); err != nil {
		return fmt.Errorf("device: playback: %w", err)
	}
	return nil
}

// Latency returns the device buffer length: audio still queued in the device
// when Play returns.
func (s *Speaker) Latency() time.Duration { return s.buffer }

// Format returns the device output format.
func (s *Speaker) Format() audio.Format { return s.format }

// Close implements [audio.Sink]. The device is suspended; oto offers no way
// to release the context itself.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctx.Suspend(); err != nil {
		return fmt.Errorf("device: suspend output device: %w", err)
	}
	return nil
}
