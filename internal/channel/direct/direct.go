// Package direct implements channel.Channel without a messaging service: the
// "agent" is a language model called in-process through llm.Provider.
//
// Posting a transcript starts a completion in the background; the answer is
// appended as an agent message and announced through channel.Notifier, so a
// channel.Bridge picks it up without waiting for its next poll. Both sides of
// the exchange can be mirrored into another channel for visibility.
package direct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/internal/channel"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
)

// Author identifiers of the two participants.
const (
	SelfID  = "user"
	AgentID = "agent"
)

// Defaults.
const (
	DefaultMaxTokens     = 150
	DefaultHistoryTurns  = 10
	DefaultTimeout       = 60 * time.Second
	DefaultMirrorTimeout = 10 * time.Second
)

// keepMessages is how many recent messages survive a trim of the log.
const keepMessages = 100

var (
	_ channel.Channel  = (*Channel)(nil)
	_ channel.Notifier = (*Channel)(nil)
)

// Mirror receives a copy of every exchange. channel.Channel implementations
// satisfy it.
type Mirror interface {
	Post(ctx context.Context, text string) (channel.Message, error)
}

// Config configures a direct Channel.
type Config struct {
	// SystemPrompt is sent with every completion.
	SystemPrompt string

	// MaxTokens caps the completion length. Default: [DefaultMaxTokens].
	MaxTokens int

	// Temperature is passed through; zero uses the model default.
	Temperature float64

	// HistoryTurns is the number of previous exchanges sent as context.
	// Zero means [DefaultHistoryTurns]; negative disables history.
	HistoryTurns int

	// Timeout bounds one completion. Default: [DefaultTimeout].
	Timeout time.Duration

	// Mirror, if set, receives the transcript and the reply. Mirroring is
	// fire-and-forget: failures are logged and never affect the exchange.
	Mirror Mirror

	// MirrorPrefix is prepended to mirrored replies, e.g. "**[voice]** ".
	MirrorPrefix string
}

// Option is a functional option for [New].
type Option func(*Channel)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.log = l }
}

// Channel is an in-process channel.Channel answered by a language model.
type Channel struct {
	model llm.Provider
	cfg   Config
	log   *slog.Logger

	mu      sync.Mutex
	next    channel.Seq
	msgs    []channel.Message
	history []llm.Message
	failure error

	notify chan struct{}
	wg     sync.WaitGroup
}

// New creates a direct channel answered by model.
func New(model llm.Provider, cfg Config, opts ...Option) (*Channel, error) {
	if model == nil {
		return nil, errors.New("direct: model must not be nil")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.HistoryTurns == 0 {
		cfg.HistoryTurns = DefaultHistoryTurns
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Channel{
		model:  model,
		cfg:    cfg,
		log:    slog.Default(),
		next:   1,
		notify: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Self implements channel.Channel.
func (c *Channel) Self() string { return SelfID }

// Latest implements channel.Channel.
func (c *Channel) Latest(context.Context) (channel.Seq, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next - 1, nil
}

// Post implements channel.Channel. It records text and starts the completion
// for it in the background. The completion outlives ctx: callers cancel their
// send context as soon as Post returns, and the answer is collected later
// through Since. It is bounded by Config.Timeout instead.
func (c *Channel) Post(ctx context.Context, text string) (channel.Message, error) {
	c.mu.Lock()
	msg := c.appendLocked(SelfID, text)
	req := c.requestLocked(text)
	c.failure = nil
	c.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	c.mirror(bg, text)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.complete(bg, text, req)
	}()
	return msg, nil
}

// Since implements channel.Channel. A failed completion is reported by the
// next call after it happened.
func (c *Channel) Since(_ context.Context, after channel.Seq) ([]channel.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failure; err != nil {
		c.failure = nil
		return nil, err
	}
	var out []channel.Message
	for _, m := range c.msgs {
		if m.Seq > after {
			out = append(out, m)
		}
	}
	return out, nil
}

// Open implements channel.Channel. Model replies never carry attachments.
func (c *Channel) Open(_ context.Context, a channel.Attachment) (io.ReadCloser, error) {
	return nil, fmt.Errorf("direct: %w: %s", channel.ErrNoAttachment, a.Name)
}

// Notify implements channel.Notifier.
func (c *Channel) Notify() <-chan struct{} { return c.notify }

// Wait blocks until every background completion and mirror post finished.
func (c *Channel) Wait() { c.wg.Wait() }

func (c *Channel) complete(ctx context.Context, text string, req llm.CompletionRequest) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.model.Complete(ctx, req)
	if err == nil && resp.Content == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		c.log.Warn("direct: completion failed", "err", err)
		c.mu.Lock()
		c.failure = fmt.Errorf("direct: complete: %w", err)
		c.mu.Unlock()
		c.wake()
		return
	}
	c.log.Debug("direct: completion done",
		"latency", time.Since(start),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	c.mu.Lock()
	c.appendLocked(AgentID, resp.Content)
	if c.cfg.HistoryTurns > 0 {
		c.history = append(c.history,
			llm.Message{Role: llm.RoleUser, Content: text},
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
		)
		if over := len(c.history) - 2*c.cfg.HistoryTurns; over > 0 {
			c.history = append([]llm.Message(nil), c.history[over:]...)
		}
	}
	c.mu.Unlock()
	c.wake()

	c.mirror(ctx, c.cfg.MirrorPrefix+resp.Content)
}

func (c *Channel) requestLocked(text string) llm.CompletionRequest {
	msgs := make([]llm.Message, 0, len(c.history)+1)
	msgs = append(msgs, c.history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})
	return llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: c.cfg.SystemPrompt,
		Temperature:  c.cfg.Temperature,
		MaxTokens:    c.cfg.MaxTokens,
	}
}

func (c *Channel) mirror(ctx context.Context, text string) {
	if c.cfg.Mirror == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultMirrorTimeout)
		defer cancel()
		if _, err := c.cfg.Mirror.Post(ctx, text); err != nil {
			c.log.Debug("direct: mirror post failed", "err", err)
		}
	}()
}

func (c *Channel) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Channel) appendLocked(author, text string) channel.Message {
	m := channel.Message{
		ID:     strconv.FormatUint(uint64(c.next), 10),
		Seq:    c.next,
		Author: author,
		Text:   text,
		Time:   time.Now(),
	}
	c.next++
	c.msgs = append(c.msgs, m)
	if len(c.msgs) > 2*keepMessages {
		c.msgs = append([]channel.Message(nil), c.msgs[len(c.msgs)-keepMessages:]...)
	}
	return m
}
