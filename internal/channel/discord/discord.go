// Package discord implements channel.Channel over a Discord text channel
// using the REST API of github.com/bwmarrin/discordgo.
//
// Messages are ordered by their snowflake ID, which Discord allocates
// monotonically per channel, so the snowflake doubles as the channel.Seq.
// No gateway connection is opened; the relay only needs history reads and
// message creation.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxrelay/internal/channel"
)

// historyLimit is the page size of a history query; Discord caps it at 100.
const historyLimit = 100

// maxMessageLen is the longest content Discord accepts in one message.
const maxMessageLen = 2000

// API is the subset of *discordgo.Session the adapter uses.
type API interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

var (
	_ API             = (*discordgo.Session)(nil)
	_ channel.Channel = (*Channel)(nil)
)

// Config holds the Discord adapter settings.
type Config struct {
	// Token authenticates the posting identity. A user token is sent as-is;
	// set Bot to prefix it with "Bot ".
	Token string

	// Bot marks Token as a bot token.
	Bot bool

	// ChannelID is the text channel transcripts are posted into.
	ChannelID string
}

// Option is a functional option for [New].
type Option func(*Channel)

// WithHTTPClient sets the client used to download attachments. Defaults to a
// client with a 30 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(ch *Channel) { ch.http = c }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(ch *Channel) { ch.log = l }
}

// Channel is a channel.Channel backed by one Discord text channel.
type Channel struct {
	api       API
	channelID string
	selfID    string
	http      *http.Client
	log       *slog.Logger
}

// Dial creates a discordgo session for cfg and wraps it with [New]. The
// session's HTTP client is reused for attachment downloads unless
// [WithHTTPClient] overrides it.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Channel, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token must not be empty")
	}
	token := cfg.Token
	if cfg.Bot && !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	session, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return New(ctx, session, cfg.ChannelID, append([]Option{WithHTTPClient(session.Client)}, opts...)...)
}

// New wraps api for channelID. The posting identity is resolved once via
// the "@me" user lookup.
func New(ctx context.Context, api API, channelID string, opts ...Option) (*Channel, error) {
	if channelID == "" {
		return nil, errors.New("discord: channel ID must not be empty")
	}
	c := &Channel{
		api:       api,
		channelID: channelID,
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	me, err := api.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: resolve own identity: %w", err)
	}
	c.selfID = me.ID
	c.log.Info("discord: channel ready", "channel_id", channelID, "self", me.Username)
	return c, nil
}

// Self implements channel.Channel.
func (c *Channel) Self() string { return c.selfID }

// Latest implements channel.Channel. An empty channel yields 0.
func (c *Channel) Latest(ctx context.Context) (channel.Seq, error) {
	msgs, err := c.api.ChannelMessages(c.channelID, 1, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("discord: latest message: %w", err)
	}
	var latest channel.Seq
	for _, m := range msgs {
		if s, err := ParseSeq(m.ID); err == nil && s > latest {
			latest = s
		}
	}
	return latest, nil
}

// Post implements channel.Channel. Text beyond Discord's message limit is
// truncated.
func (c *Channel) Post(ctx context.Context, text string) (channel.Message, error) {
	if r := []rune(text); len(r) > maxMessageLen {
		text = string(r[:maxMessageLen])
	}
	m, err := c.api.ChannelMessageSend(c.channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return channel.Message{}, fmt.Errorf("discord: send message: %w", err)
	}
	msg, err := convert(m)
	if err != nil {
		return channel.Message{}, fmt.Errorf("discord: send message: %w", err)
	}
	return msg, nil
}

// Since implements channel.Channel. It returns at most one page of the
// oldest messages after the given Seq, in ascending order.
func (c *Channel) Since(ctx context.Context, after channel.Seq) ([]channel.Message, error) {
	var afterID string
	if after > 0 {
		afterID = FormatSeq(after)
	}
	msgs, err := c.api.ChannelMessages(c.channelID, historyLimit, "", afterID, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: list messages: %w", err)
	}
	out := make([]channel.Message, 0, len(msgs))
	for _, m := range msgs {
		msg, err := convert(m)
		if err != nil {
			c.log.Debug("discord: skipping message", "id", m.ID, "err", err)
			continue
		}
		if msg.Seq > after {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Open implements channel.Channel by downloading the attachment URL.
func (c *Channel) Open(ctx context.Context, a channel.Attachment) (io.ReadCloser, error) {
	if a.URL == "" {
		return nil, fmt.Errorf("discord: %w: attachment %q has no URL", channel.ErrNoAttachment, a.Name)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("discord: create attachment request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord: download attachment: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("discord: download attachment: HTTP %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// ParseSeq converts a snowflake ID into a channel.Seq.
func ParseSeq(id string) (channel.Seq, error) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", id, err)
	}
	return channel.Seq(n), nil
}

// FormatSeq converts a channel.Seq back into a snowflake ID.
func FormatSeq(s channel.Seq) string {
	return strconv.FormatUint(uint64(s), 10)
}

func convert(m *discordgo.Message) (channel.Message, error) {
	if m == nil {
		return channel.Message{}, errors.New("nil message")
	}
	seq, err := ParseSeq(m.ID)
	if err != nil {
		return channel.Message{}, err
	}
	msg := channel.Message{
		ID:   m.ID,
		Seq:  seq,
		Text: m.Content,
		Time: m.Timestamp,
	}
	if m.Author != nil {
		msg.Author = m.Author.ID
		msg.AuthorName = m.Author.Username
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, channel.Attachment{
			ID:          a.ID,
			Name:        a.Filename,
			ContentType: a.ContentType,
			URL:         a.URL,
			Size:        a.Size,
		})
	}
	return msg, nil
}
