// Package slack implements channel.Channel over a Slack conversation using
// the Web API client from github.com/slack-go/slack.
//
// Slack orders messages by their "ts" timestamp ("1712345678.123456"), which
// is unique within a conversation. It maps onto channel.Seq as microseconds
// since the epoch.
package slack

import (
	"bytes"
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

	"github.com/slack-go/slack"

	"github.com/MrWong99/voxrelay/internal/channel"
)

const historyLimit = 100

// maxFileBytes bounds attachment downloads.
const maxFileBytes = 32 << 20

var _ channel.Channel = (*Channel)(nil)

// Option is a functional option for [New].
type Option func(*options)

type options struct {
	apiURL     string
	httpClient *http.Client
	log        *slog.Logger
}

// WithAPIURL overrides the Slack API base URL (must end in "/").
func WithAPIURL(u string) Option {
	return func(o *options) { o.apiURL = u }
}

// WithHTTPClient sets the HTTP client for API calls and file downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Channel is a channel.Channel backed by one Slack conversation.
type Channel struct {
	client    *slack.Client
	channelID string
	selfID    string
	log       *slog.Logger
}

// New creates a Slack channel for channelID. The posting identity is
// resolved once with auth.test.
func New(ctx context.Context, token, channelID string, opts ...Option) (*Channel, error) {
	if token == "" {
		return nil, errors.New("slack: token must not be empty")
	}
	if channelID == "" {
		return nil, errors.New("slack: channel ID must not be empty")
	}
	o := options{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	copts := []slack.Option{slack.OptionHTTPClient(o.httpClient)}
	if o.apiURL != "" {
		copts = append(copts, slack.OptionAPIURL(o.apiURL))
	}
	client := slack.New(token, copts...)

	auth, err := client.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}
	o.log.Info("slack: channel ready", "channel_id", channelID, "self", auth.User)
	return &Channel{
		client:    client,
		channelID: channelID,
		selfID:    auth.UserID,
		log:       o.log,
	}, nil
}

// Self implements channel.Channel.
func (c *Channel) Self() string { return c.selfID }

// Latest implements channel.Channel. An empty conversation yields 0.
func (c *Channel) Latest(ctx context.Context) (channel.Seq, error) {
	resp, err := c.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: c.channelID,
		Limit:     1,
	})
	if err != nil {
		return 0, fmt.Errorf("slack: latest message: %w", err)
	}
	var latest channel.Seq
	for _, m := range resp.Messages {
		if s, err := ParseTS(m.Timestamp); err == nil && s > latest {
			latest = s
		}
	}
	return latest, nil
}

// Post implements channel.Channel.
func (c *Channel) Post(ctx context.Context, text string) (channel.Message, error) {
	_, ts, err := c.client.PostMessageContext(ctx, c.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return channel.Message{}, fmt.Errorf("slack: post message: %w", err)
	}
	seq, err := ParseTS(ts)
	if err != nil {
		return channel.Message{}, fmt.Errorf("slack: post message: %w", err)
	}
	return channel.Message{
		ID:     ts,
		Seq:    seq,
		Author: c.selfID,
		Text:   text,
		Time:   seqTime(seq),
	}, nil
}

// Since implements channel.Channel. Join/leave and other system subtypes
// are dropped.
func (c *Channel) Since(ctx context.Context, after channel.Seq) ([]channel.Message, error) {
	params := &slack.GetConversationHistoryParameters{
		ChannelID: c.channelID,
		Limit:     historyLimit,
	}
	if after > 0 {
		params.Oldest = FormatTS(after)
	}
	resp, err := c.client.GetConversationHistoryContext(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("slack: list messages: %w", err)
	}
	out := make([]channel.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if !conversational(m.SubType) {
			continue
		}
		msg, err := convert(m)
		if err != nil {
			c.log.Debug("slack: skipping message", "ts", m.Timestamp, "err", err)
			continue
		}
		if msg.Seq > after {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Open implements channel.Channel by downloading the file with the client's
// credentials.
func (c *Channel) Open(ctx context.Context, a channel.Attachment) (io.ReadCloser, error) {
	if a.URL == "" {
		return nil, fmt.Errorf("slack: %w: file %q has no download URL", channel.ErrNoAttachment, a.Name)
	}
	if a.Size > maxFileBytes {
		return nil, fmt.Errorf("slack: file %q is %d bytes, limit %d", a.Name, a.Size, maxFileBytes)
	}
	var buf bytes.Buffer
	if err := c.client.GetFileContext(ctx, a.URL, &buf); err != nil {
		return nil, fmt.Errorf("slack: download file: %w", err)
	}
	return io.NopCloser(&buf), nil
}

// ParseTS converts a Slack "seconds.micros" timestamp into a channel.Seq.
func ParseTS(ts string) (channel.Seq, error) {
	secStr, microStr, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseUint(secStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ts %q: %w", ts, err)
	}
	var micro uint64
	if microStr != "" {
		if len(microStr) > 6 {
			return 0, fmt.Errorf("invalid ts %q: fraction too long", ts)
		}
		micro, err = strconv.ParseUint(microStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ts %q: %w", ts, err)
		}
		for range 6 - len(microStr) {
			micro *= 10
		}
	}
	return channel.Seq(sec*1_000_000 + micro), nil
}

// FormatTS converts a channel.Seq back into a Slack timestamp.
func FormatTS(s channel.Seq) string {
	return fmt.Sprintf("%d.%06d", uint64(s)/1_000_000, uint64(s)%1_000_000)
}

func seqTime(s channel.Seq) time.Time {
	return time.UnixMicro(int64(s))
}

func conversational(subtype string) bool {
	switch subtype {
	case "", "bot_message", "file_share", "thread_broadcast", "me_message":
		return true
	}
	return false
}

func convert(m slack.Message) (channel.Message, error) {
	seq, err := ParseTS(m.Timestamp)
	if err != nil {
		return channel.Message{}, err
	}
	author := m.User
	if author == "" {
		author = m.BotID
	}
	msg := channel.Message{
		ID:         m.Timestamp,
		Seq:        seq,
		Author:     author,
		AuthorName: m.Username,
		Text:       m.Text,
		Time:       seqTime(seq),
	}
	for _, f := range m.Files {
		u := f.URLPrivateDownload
		if u == "" {
			u = f.URLPrivate
		}
		msg.Attachments = append(msg.Attachments, channel.Attachment{
			ID:          f.ID,
			Name:        f.Name,
			ContentType: f.Mimetype,
			URL:         u,
			Size:        f.Size,
		})
	}
	return msg, nil
}
