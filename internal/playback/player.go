// Package playback turns an agent reply into sound.
//
// A [Player] tries three sources in order: an audio attachment on the reply,
// remote speech synthesis of the reply text, and local synthesis. The first
// source that yields audio which the sink plays to completion wins. Play is
// blocking, so at most one reply is ever audible.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/voxrelay/internal/channel"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
)

// ErrNoAudio is returned when no source produced playable audio.
var ErrNoAudio = errors.New("playback: no audio source succeeded")

// DefaultMaxChars is the longest text sent to remote synthesis.
const DefaultMaxChars = 400

// DefaultMaxAttachmentBytes bounds attachment downloads.
const DefaultMaxAttachmentBytes = 32 << 20

// Source names where the played audio came from.
type Source string

const (
	SourceAttachment Source = "attachment"
	SourceRemote     Source = "tts"
	SourceLocal      Source = "local"
)

// Result describes a completed playback.
type Result struct {
	// Source is the source whose audio was played.
	Source Source

	// Audio is the length of the played audio.
	Audio time.Duration

	// Elapsed is the wall time from resolving the first source to the end of
	// playback.
	Elapsed time.Duration

	// Attempts lists the errors of the sources tried before Source, in order.
	Attempts []error
}

// Opener downloads reply attachments. Every channel.Channel is one.
type Opener interface {
	Open(ctx context.Context, a channel.Attachment) (io.ReadCloser, error)
}

// Option is a functional option for [New].
type Option func(*Player)

// WithRemote sets the remote synthesizer (step two).
func WithRemote(p tts.Provider) Option {
	return func(pl *Player) { pl.remote = p }
}

// WithLocal sets the local synthesizer (step three).
func WithLocal(p tts.Provider) Option {
	return func(pl *Player) { pl.local = p }
}

// WithOpener sets the attachment downloader (step one). Without it
// attachments are ignored.
func WithOpener(o Opener) Option {
	return func(pl *Player) { pl.opener = o }
}

// WithVoice sets the voice passed to both synthesizers.
func WithVoice(v tts.VoiceProfile) Option {
	return func(pl *Player) { pl.voice = v }
}

// WithMaxChars sets the remote synthesis text limit. Default:
// [DefaultMaxChars].
func WithMaxChars(n int) Option {
	return func(pl *Player) { pl.maxChars = n }
}

// WithMaxAttachmentBytes bounds attachment downloads. Default:
// [DefaultMaxAttachmentBytes].
func WithMaxAttachmentBytes(n int64) Option {
	return func(pl *Player) { pl.maxAttachment = n }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(pl *Player) { pl.log = l }
}

// Player resolves replies into audio and plays them on a sink.
type Player struct {
	sink          audio.Sink
	opener        Opener
	remote        tts.Provider
	local         tts.Provider
	voice         tts.VoiceProfile
	maxChars      int
	maxAttachment int64
	log           *slog.Logger
}

// New creates a Player writing to sink.
func New(sink audio.Sink, opts ...Option) *Player {
	p := &Player{
		sink:          sink,
		maxChars:      DefaultMaxChars,
		maxAttachment: DefaultMaxAttachmentBytes,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type step struct {
	source  Source
	resolve func(ctx context.Context) ([]byte, audio.Format, error)
}

// Play resolves msg into audio and blocks until it has been played.
//
// A source that fails to produce audio, or whose audio the sink fails to
// play, hands over to the next one. When every source failed the returned
// error wraps [ErrNoAudio] and each source's failure. Cancellation of ctx
// returns ctx.Err() immediately.
func (p *Player) Play(ctx context.Context, msg channel.Message) (Result, error) {
	start := time.Now()
	var res Result
	for _, s := range p.steps(msg) {
		pcm, f, err := s.resolve(ctx)
		if err == nil && len(pcm) == 0 {
			err = errors.New("empty audio")
		}
		if err == nil {
			err = p.sink.Play(ctx, pcm, f)
			if err == nil {
				res.Source = s.source
				res.Audio = f.Duration(len(pcm))
				res.Elapsed = time.Since(start)
				return res, nil
			}
			err = fmt.Errorf("play: %w", err)
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		p.log.Warn("playback: source failed", "source", s.source, "seq", msg.Seq, "err", err)
		res.Attempts = append(res.Attempts, fmt.Errorf("%s: %w", s.source, err))
	}
	res.Elapsed = time.Since(start)
	return res, fmt.Errorf("%w: %w", ErrNoAudio, errors.Join(res.Attempts...))
}

func (p *Player) steps(msg channel.Message) []step {
	var steps []step
	if a, ok := msg.Audio(); ok && p.opener != nil {
		steps = append(steps, step{SourceAttachment, func(ctx context.Context) ([]byte, audio.Format, error) {
			return p.attachment(ctx, a)
		}})
	}
	if p.remote != nil {
		steps = append(steps, step{SourceRemote, func(ctx context.Context) ([]byte, audio.Format, error) {
			return synthesize(ctx, p.remote, truncate(msg.Text, p.maxChars), p.voice)
		}})
	}
	if p.local != nil {
		steps = append(steps, step{SourceLocal, func(ctx context.Context) ([]byte, audio.Format, error) {
			return synthesize(ctx, p.local, msg.Text, p.voice)
		}})
	}
	return steps
}

func (p *Player) attachment(ctx context.Context, a channel.Attachment) ([]byte, audio.Format, error) {
	rc, err := p.opener.Open(ctx, a)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("open %q: %w", a.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, p.maxAttachment+1))
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("read %q: %w", a.Name, err)
	}
	if int64(len(data)) > p.maxAttachment {
		return nil, audio.Format{}, fmt.Errorf("attachment %q exceeds %d bytes", a.Name, p.maxAttachment)
	}
	hint := a.ContentType
	if hint == "" {
		hint = a.Name
	}
	pcm, f, err := audio.Decode(data, hint)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("decode %q: %w", a.Name, err)
	}
	return pcm, f, nil
}

func synthesize(ctx context.Context, p tts.Provider, text string, voice tts.VoiceProfile) ([]byte, audio.Format, error) {
	out, err := p.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, audio.Format{}, err
	}
	return out.PCM, out.Format, nil
}

// truncate cuts text to at most n runes. n <= 0 disables the limit.
func truncate(text string, n int) string {
	if n <= 0 {
		return text
	}
	if r := []rune(text); len(r) > n {
		return string(r[:n])
	}
	return text
}
