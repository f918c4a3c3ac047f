// Package local provides a TTS provider that shells out to the operating
// system's speech synthesiser: say(1) on macOS, espeak-ng or espeak
// elsewhere. It is the last resort when every remote backend fails, so it
// needs no network and no credentials.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// ErrNoSynthesizer is returned by New when no supported binary is on PATH.
var ErrNoSynthesizer = errors.New("local: no speech synthesiser found (tried say, espeak-ng, espeak)")

const (
	// baseRate is the default speaking rate of both engines in words per minute.
	baseRate = 175

	// sayFormat is the LEI16 layout requested from say(1).
	sayFormat = "LEI16@22050"

	// DefaultMaxChars caps the text handed to the synthesiser.
	DefaultMaxChars = 200
)

var _ tts.Provider = (*Provider)(nil)

// runFunc executes a command and returns its standard output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Provider implements tts.Provider on top of a local synthesiser binary.
type Provider struct {
	bin      string
	voice    string
	maxChars int
	run      runFunc
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBinary selects the synthesiser binary instead of probing PATH. The
// command-line dialect is chosen from the base name ("say" or espeak).
func WithBinary(path string) Option {
	return func(p *Provider) { p.bin = path }
}

// WithVoice sets the voice used when the VoiceProfile carries none (e.g.,
// "Samantha" for say, "en-us" for espeak-ng).
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithMaxChars overrides [DefaultMaxChars]. Zero or negative disables the cap.
func WithMaxChars(n int) Option {
	return func(p *Provider) { p.maxChars = n }
}

// New probes for a synthesiser and returns a ready Provider.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{maxChars: DefaultMaxChars, run: execRun}
	for _, o := range opts {
		o(p)
	}
	if p.bin == "" {
		bin, err := probe()
		if err != nil {
			return nil, err
		}
		p.bin = bin
	}
	return p, nil
}

// Binary returns the synthesiser in use.
func (p *Provider) Binary() string { return p.bin }

func probe() (string, error) {
	candidates := []string{"espeak-ng", "espeak"}
	if runtime.GOOS == "darwin" {
		candidates = append([]string{"say"}, candidates...)
	}
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path, nil
		}
	}
	return "", ErrNoSynthesizer
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (tts.Audio, error) {
	text, err := tts.CheckText(text)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("local: %w", err)
	}
	if p.maxChars > 0 {
		if r := []rune(text); len(r) > p.maxChars {
			text = string(r[:p.maxChars])
		}
	}
	v := voice.ID
	if v == "" {
		v = p.voice
	}
	rate := baseRate
	if voice.SpeedFactor > 0 {
		rate = int(float64(baseRate) * voice.SpeedFactor)
	}

	var wav []byte
	if filepath.Base(p.bin) == "say" {
		wav, err = p.say(ctx, text, v, rate)
	} else {
		args := []string{"--stdout", "-s", strconv.Itoa(rate)}
		if v != "" {
			args = append(args, "-v", v)
		}
		// "--" keeps replies starting with a dash from being read as flags.
		args = append(args, "--", text)
		wav, err = p.run(ctx, p.bin, args...)
	}
	if err != nil {
		return tts.Audio{}, fmt.Errorf("local: %s: %w", filepath.Base(p.bin), err)
	}

	pcm, f, err := audio.ParseWAV(wav)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("local: %w", err)
	}
	if len(pcm) == 0 {
		return tts.Audio{}, errors.New("local: synthesiser produced no audio")
	}
	return tts.Audio{PCM: pcm, Format: f}, nil
}

// say renders through a temporary file because say(1) cannot write WAV to
// standard output.
func (p *Provider) say(ctx context.Context, text, voice string, rate int) ([]byte, error) {
	dir, err := os.MkdirTemp("", "voxrelay-say-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	out := filepath.Join(dir, "reply.wav")

	args := []string{"-o", out, "--file-format=WAVE", "--data-format=" + sayFormat, "-r", strconv.Itoa(rate)}
	if voice != "" {
		args = append(args, "-v", voice)
	}
	args = append(args, "--", text)
	if _, err := p.run(ctx, p.bin, args...); err != nil {
		return nil, err
	}
	return os.ReadFile(out)
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
