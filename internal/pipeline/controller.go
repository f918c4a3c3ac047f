// Package pipeline drives the relay loop: listen for an utterance,
// transcribe it, post the transcript, wait for the agent's reply, play it,
// and listen again.
//
// Exactly one cycle is in flight at a time. Capture runs independently and
// keeps filling its queue while the controller is busy; whatever was queued
// when the controller returns to listening is flushed, and the source is
// muted while a reply plays so the relay never hears itself.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxrelay/internal/channel"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/playback"
	"github.com/MrWong99/voxrelay/internal/utterance"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
)

// Defaults.
const (
	// DefaultStageTimeout bounds transcription and sending.
	DefaultStageTimeout = 30 * time.Second

	// DefaultEchoTail is how long capture stays muted after the sink
	// returns. Output devices still hold buffered audio at that point.
	DefaultEchoTail = 250 * time.Millisecond
)

// Bridge is the request/reply protocol over the messaging channel.
// *channel.Bridge implements it.
type Bridge interface {
	Send(ctx context.Context, text string) (channel.Message, error)
	Poll(ctx context.Context) (channel.Reply, error)
}

// Player plays a reply. *playback.Player implements it.
type Player interface {
	Play(ctx context.Context, msg channel.Message) (playback.Result, error)
}

var (
	_ Bridge = (*channel.Bridge)(nil)
	_ Player = (*playback.Player)(nil)
)

// Config holds the controller's tunables.
type Config struct {
	// Language is forwarded to the transcriber. Empty lets it auto-detect.
	Language string

	// Prompt biases transcription towards expected vocabulary.
	Prompt string

	// StageTimeout bounds the transcribe and send stages. Default:
	// [DefaultStageTimeout].
	StageTimeout time.Duration

	// EchoTail keeps capture muted for this long after playback returns.
	// Zero means [DefaultEchoTail]; negative disables the hold.
	EchoTail time.Duration
}

// Option is a functional option for [New].
type Option func(*Controller)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithCycleHook registers fn to receive a report after every cycle. fn runs
// on the controller goroutine and must not block.
func WithCycleHook(fn func(CycleReport)) Option {
	return func(c *Controller) { c.onCycle = fn }
}

// Controller sequences the relay stages.
type Controller struct {
	source   audio.Source
	recorder *utterance.Recorder
	stt      stt.Provider
	bridge   Bridge
	player   Player
	cfg      Config

	log     *slog.Logger
	metrics *observe.Metrics
	onCycle func(CycleReport)

	cycle uint64
}

// New assembles a controller. The controller takes ownership of source: Run
// starts it and closes it on return.
func New(source audio.Source, rec *utterance.Recorder, transcriber stt.Provider, bridge Bridge, player Player, cfg Config, opts ...Option) *Controller {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	if cfg.EchoTail == 0 {
		cfg.EchoTail = DefaultEchoTail
	}
	c := &Controller{
		source:   source,
		recorder: rec,
		stt:      transcriber,
		bridge:   bridge,
		player:   player,
		cfg:      cfg,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Run executes cycles until ctx is cancelled or capture fails. It returns
// ctx.Err() on cancellation and an error wrapping [ErrCapture] when the
// source cannot be started or stops delivering frames. Every other failure
// is logged and the loop continues with the next utterance.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.source.Start(ctx); err != nil {
		if cerr := c.source.Close(); cerr != nil {
			c.log.Warn("pipeline: close capture source", "err", cerr)
		}
		return fmt.Errorf("%w: start: %w", ErrCapture, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.loop(gctx) })
	g.Go(func() error {
		// Release the device as soon as the loop ends or ctx is cancelled,
		// even while a network call is still in flight.
		<-gctx.Done()
		if err := c.source.Close(); err != nil {
			c.log.Warn("pipeline: close capture source", "err", err)
		}
		return nil
	})
	err := g.Wait()
	if ctx.Err() != nil && !errors.Is(err, ErrCapture) {
		return ctx.Err()
	}
	return err
}

func (c *Controller) loop(ctx context.Context) error {
	for {
		listenStart := time.Now()
		u, err := c.recorder.Next(ctx, c.source.Frames())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, utterance.ErrSourceClosed) {
				cause := c.source.Err()
				if cause == nil {
					cause = errors.New("frame source closed unexpectedly")
				}
				return fmt.Errorf("%w: %w", ErrCapture, cause)
			}
			return fmt.Errorf("%w: %w", ErrCapture, err)
		}
		c.metrics.RecordStage(ctx, observe.StageListen, time.Since(listenStart))
		c.metrics.UtteranceDuration.Record(ctx, u.Duration().Seconds())

		c.cycle++
		rep := c.runCycle(ctx, c.cycle, u)
		c.report(ctx, rep)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.listen(ctx)
	}
}

// listen returns the controller to the listening state: anything captured
// while it was busy is discarded and the recorder starts from scratch.
func (c *Controller) listen(ctx context.Context) {
	if n := c.source.Flush(); n > 0 {
		c.log.Debug("pipeline: discarded frames captured while busy", "frames", n)
		c.metrics.RecordDroppedFrames(ctx, "busy", n)
	}
	c.recorder.Reset()
}

func (c *Controller) runCycle(ctx context.Context, id uint64, u *utterance.Utterance) (rep CycleReport) {
	ctx, span := observe.StartCycle(ctx, id)
	rep = CycleReport{Cycle: id, Utterance: u.Duration(), Speech: u.SpeechDuration()}
	defer func() { observe.EndSpan(span, rep.Err) }()
	log := observe.Logger(ctx, c.log).With("cycle", id)
	log.Debug("pipeline: utterance captured", "duration", u.Duration(), "speech", u.SpeechDuration())

	// Transcribe.
	tr, err := stage(ctx, c, &rep, observe.StageSTT, c.cfg.StageTimeout, func(ctx context.Context) (stt.Transcript, error) {
		f := u.Format()
		return c.stt.Transcribe(ctx, stt.Request{
			PCM:        u.PCM(),
			SampleRate: f.SampleRate,
			Channels:   f.Channels,
			Language:   c.cfg.Language,
			Prompt:     c.cfg.Prompt,
		})
	})
	if err != nil {
		return c.fail(ctx, log, rep, OutcomeTranscription, ErrTranscription, observe.StageSTT, err)
	}
	rep.Transcript = tr.Text
	if tr.IsEmpty() {
		log.Info("pipeline: no speech recognised")
		rep.Outcome = OutcomeEmptyTranscript
		return rep
	}
	log.Info("pipeline: transcribed", "text", tr.Text, "language", tr.Language)

	// Send.
	sent, err := stage(ctx, c, &rep, observe.StageSend, c.cfg.StageTimeout, func(ctx context.Context) (channel.Message, error) {
		return c.bridge.Send(ctx, tr.Text)
	})
	if err != nil {
		return c.fail(ctx, log, rep, OutcomeSend, ErrSend, observe.StageSend, err)
	}
	rep.SentSeq = sent.Seq

	// Wait for the reply. The bridge enforces its own timeout.
	reply, err := stage(ctx, c, &rep, observe.StageReplyWait, 0, c.bridge.Poll)
	if err != nil {
		return c.fail(ctx, log, rep, OutcomeReplyTimeout, ErrReplyTimeout, observe.StageReplyWait, err)
	}
	rep.Reply = reply.Text
	rep.ReplySeq = reply.Seq
	log.Info("pipeline: reply received", "seq", reply.Seq, "author", reply.Author, "waited", reply.Waited, "text", reply.Text)

	// Play with capture muted, and keep it muted until the device has
	// rendered its buffered tail.
	c.source.Mute()
	res, err := stage(ctx, c, &rep, observe.StagePlayback, 0, func(ctx context.Context) (playback.Result, error) {
		return c.player.Play(ctx, reply.Message)
	})
	c.holdMute(ctx)
	c.source.Unmute()
	if err != nil {
		return c.fail(ctx, log, rep, OutcomePlayback, ErrPlayback, observe.StagePlayback, err)
	}
	rep.Source = res.Source
	c.metrics.RecordPlayback(ctx, string(res.Source))
	rep.Outcome = OutcomeOK
	return rep
}

func (c *Controller) holdMute(ctx context.Context) {
	if c.cfg.EchoTail <= 0 {
		return
	}
	t := time.NewTimer(c.cfg.EchoTail)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// stage runs fn under its own span, records its duration into rep and the
// stage histogram, and applies timeout when positive.
func stage[T any](ctx context.Context, c *Controller, rep *CycleReport, name string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := observe.StartStage(ctx, name)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	v, err := fn(ctx)
	d := time.Since(start)
	observe.EndSpan(span, err)
	rep.setStage(name, d)
	c.metrics.RecordStage(ctx, name, d)
	return v, err
}

func (c *Controller) fail(ctx context.Context, log *slog.Logger, rep CycleReport, outcome Outcome, sentinel error, stageName string, err error) CycleReport {
	if ctx.Err() != nil {
		rep.Outcome = OutcomeCancelled
		rep.Err = ctx.Err()
		return rep
	}
	rep.Outcome = outcome
	rep.Err = fmt.Errorf("%w: %w", sentinel, err)
	log.Warn("pipeline: cycle failed, listening again", "stage", stageName, "err", err)
	return rep
}

func (c *Controller) report(ctx context.Context, rep CycleReport) {
	c.metrics.RecordCycle(ctx, string(rep.Outcome))
	if c.onCycle != nil {
		c.onCycle(rep)
	}
}
