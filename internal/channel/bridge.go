package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Bridge defaults.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 90 * time.Second
)

// Reply is the agent message consumed for one request.
type Reply struct {
	Message

	// Waited is the time from the start of Poll to the reply being found.
	Waited time.Duration

	// Polls is the number of queries made before the reply was found.
	Polls int
}

// BridgeConfig configures a [Bridge].
type BridgeConfig struct {
	// AgentID is the author identifier of the remote agent. Empty enables
	// relaxed mode: any author other than the channel's own identity counts.
	AgentID string

	// Timeout bounds a single Poll. Default: [DefaultPollTimeout].
	Timeout time.Duration

	// Poller paces the polling loop. Default: FixedInterval(DefaultPollInterval).
	Poller Poller
}

// BridgeOption is a functional option for [NewBridge].
type BridgeOption func(*Bridge)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.log = l }
}

// Bridge posts transcripts into a [Channel] and retrieves the agent's reply.
//
// The watermark is the highest Seq the bridge has accounted for. It is
// raised to the channel's newest message before each Send and to the reply's
// Seq after each successful Poll, and never moves backwards. Poll only ever
// returns messages strictly above it.
//
// One exchange at a time: Send and Poll must not be called concurrently.
type Bridge struct {
	ch      Channel
	agentID string
	timeout time.Duration
	poller  Poller
	log     *slog.Logger

	mu        sync.Mutex
	watermark Seq
}

// NewBridge creates a Bridge over ch.
func NewBridge(ch Channel, cfg BridgeConfig, opts ...BridgeOption) *Bridge {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPollTimeout
	}
	if cfg.Poller == nil {
		cfg.Poller = FixedInterval(DefaultPollInterval)
	}
	b := &Bridge{
		ch:      ch,
		agentID: cfg.AgentID,
		timeout: cfg.Timeout,
		poller:  cfg.Poller,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Watermark returns the current watermark.
func (b *Bridge) Watermark() Seq {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.watermark
}

// Relaxed reports whether the bridge accepts replies from any other author.
func (b *Bridge) Relaxed() bool { return b.agentID == "" }

func (b *Bridge) raise(s Seq) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s > b.watermark {
		b.watermark = s
	}
}

// Send records the channel's newest Seq as the watermark and then posts text
// as the user. A failure to read the newest Seq aborts the send: posting
// without a watermark could let an older agent message pass as the reply.
func (b *Bridge) Send(ctx context.Context, text string) (Message, error) {
	latest, err := b.ch.Latest(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("channel: read watermark: %w", err)
	}
	b.raise(latest)

	msg, err := b.ch.Post(ctx, text)
	if err != nil {
		return Message{}, fmt.Errorf("channel: post: %w", err)
	}
	b.log.Debug("channel: transcript posted", "seq", msg.Seq, "watermark", b.Watermark())
	return msg, nil
}

// Poll waits for the agent's reply to the last Send. When several qualifying
// messages are visible at once, the lowest Seq is returned. On success the
// watermark advances to the reply's Seq.
//
// The timeout also bounds each query, so a hung channel request cannot
// stretch the wait. Returns [ErrReplyTimeout] (wrapping the last query error,
// if any) when the timeout elapses, or ctx.Err() when ctx is cancelled.
func (b *Bridge) Poll(ctx context.Context) (Reply, error) {
	start := time.Now()
	pollCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var notify <-chan struct{}
	if n, ok := b.ch.(Notifier); ok {
		notify = n.Notify()
	}

	var lastErr error
	for n := 0; ; n++ {
		reply, ok, err := b.check(pollCtx)
		if err != nil {
			if ctx.Err() != nil {
				return Reply{}, ctx.Err()
			}
			if pollCtx.Err() != nil {
				return Reply{}, b.timedOut(lastErr)
			}
			lastErr = err
			b.log.Warn("channel: poll failed", "attempt", n+1, "err", err)
		}
		if ok {
			b.raise(reply.Seq)
			reply.Waited = time.Since(start)
			reply.Polls = n + 1
			return reply, nil
		}

		wait := time.NewTimer(b.poller.Interval(n))
		select {
		case <-pollCtx.Done():
			wait.Stop()
			if ctx.Err() != nil {
				return Reply{}, ctx.Err()
			}
			return Reply{}, b.timedOut(lastErr)
		case <-notify:
			wait.Stop()
		case <-wait.C:
		}
	}
}

func (b *Bridge) timedOut(lastErr error) error {
	if lastErr != nil {
		return fmt.Errorf("%w after %s: %w", ErrReplyTimeout, b.timeout, lastErr)
	}
	return fmt.Errorf("%w after %s", ErrReplyTimeout, b.timeout)
}

// check runs one query and picks the qualifying message with the lowest Seq.
func (b *Bridge) check(ctx context.Context) (Reply, bool, error) {
	wm := b.Watermark()
	msgs, err := b.ch.Since(ctx, wm)
	if err != nil {
		return Reply{}, false, err
	}
	var (
		best  Message
		found bool
	)
	for _, m := range msgs {
		if m.Seq <= wm || !b.fromAgent(m) {
			continue
		}
		if !found || m.Seq < best.Seq {
			best, found = m, true
		}
	}
	return Reply{Message: best}, found, nil
}

func (b *Bridge) fromAgent(m Message) bool {
	if b.agentID != "" {
		return m.Author == b.agentID
	}
	return m.Author != b.ch.Self()
}
