// Package channel relays transcripts to a remote conversational agent over a
// text messaging channel and waits for the agent's answer.
//
// A [Channel] is the thin adapter over one messaging service (Discord, Slack,
// an in-process model). The [Bridge] owns the request/reply protocol on top
// of it: it records a watermark before posting and then polls for the first
// agent message above that watermark.
package channel

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"
	"time"
)

// Sentinel errors.
var (
	// ErrReplyTimeout is returned by [Bridge.Poll] when no reply arrives in time.
	ErrReplyTimeout = errors.New("channel: timed out waiting for reply")

	// ErrNoAttachment is returned by Open when the attachment cannot be found.
	ErrNoAttachment = errors.New("channel: attachment not found")
)

// Seq is a channel-native, monotonically increasing ordering key (a Discord
// snowflake, a Slack ts in microseconds, a counter). Zero means "before the
// first message".
type Seq uint64

// Attachment references a file attached to a message.
type Attachment struct {
	// ID is the service-specific identifier, if any.
	ID string

	// Name is the file name as uploaded.
	Name string

	// ContentType is the MIME type reported by the service. May be empty.
	ContentType string

	// URL is where the content can be fetched from through [Channel.Open].
	URL string

	// Size is the content length in bytes, if known.
	Size int
}

// audioExts lists file extensions treated as audio when the service reports
// no usable content type.
var audioExts = map[string]bool{
	".wav": true, ".mp3": true, ".ogg": true, ".oga": true, ".opus": true,
}

// IsAudio reports whether the attachment looks like playable audio.
func (a Attachment) IsAudio() bool {
	if mt, _, err := mime.ParseMediaType(a.ContentType); err == nil && strings.HasPrefix(mt, "audio/") {
		return true
	}
	return audioExts[strings.ToLower(path.Ext(a.Name))]
}

// Message is one message in the channel. Sent and polled messages share
// this type.
type Message struct {
	// ID is the service-specific message identifier.
	ID string

	// Seq orders messages within the channel.
	Seq Seq

	// Author identifies the sender (user ID, bot ID).
	Author string

	// AuthorName is the human-readable sender name, if known.
	AuthorName string

	// Text is the message body. May be empty when only an attachment is sent.
	Text string

	// Attachments lists files attached to the message.
	Attachments []Attachment

	// Time is when the service accepted the message.
	Time time.Time
}

// Audio returns the first audio attachment, if any.
func (m Message) Audio() (Attachment, bool) {
	for _, a := range m.Attachments {
		if a.IsAudio() {
			return a, true
		}
	}
	return Attachment{}, false
}

// Channel is the adapter over a messaging service. Implementations must be
// safe for concurrent use.
type Channel interface {
	// Self returns the author identifier the channel posts as.
	Self() string

	// Latest returns the Seq of the newest message in the channel, or 0 when
	// the channel is empty.
	Latest(ctx context.Context) (Seq, error)

	// Post sends text as the user and returns the stored message.
	Post(ctx context.Context, text string) (Message, error)

	// Since returns messages with Seq strictly greater than after, in any
	// order. Implementations may cap the number returned.
	Since(ctx context.Context, after Seq) ([]Message, error)

	// Open streams the content of an attachment. The caller closes it.
	Open(ctx context.Context, a Attachment) (io.ReadCloser, error)
}

// Notifier is optionally implemented by channels that learn about new
// messages by push. The bridge polls immediately whenever the returned
// channel fires instead of waiting for the next interval.
type Notifier interface {
	Notify() <-chan struct{}
}
