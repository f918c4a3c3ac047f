// Package mock provides an in-memory channel.Channel for tests.
//
// Messages posted through Post are authored by [SelfID]; tests inject agent
// messages with Deliver, either directly or from the OnPost hook:
//
//	ch := mock.New()
//	ch.OnPost = func(m channel.Message) {
//	    time.AfterFunc(time.Second, func() { ch.Deliver("agent", "Acknowledged.") })
//	}
package mock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/voxrelay/internal/channel"
)

// SelfID is the author identifier of messages posted through the mock.
const SelfID = "user"

// Channel is an in-memory implementation of channel.Channel and
// channel.Notifier.
type Channel struct {
	mu      sync.Mutex
	next    channel.Seq
	msgs    []channel.Message
	files   map[string][]byte
	notify  chan struct{}
	posts   int
	queries int

	// OnPost, if set, is called after every successful Post with the stored
	// message. It runs without the lock held.
	OnPost func(m channel.Message)

	// LatestErr, PostErr and SinceErr, if non-nil, are returned by the
	// respective methods.
	LatestErr error
	PostErr   error
	SinceErr  error
}

var (
	_ channel.Channel  = (*Channel)(nil)
	_ channel.Notifier = (*Channel)(nil)
)

// New returns an empty channel whose first message gets Seq 1.
func New() *Channel {
	return &Channel{
		next:   1,
		files:  make(map[string][]byte),
		notify: make(chan struct{}, 1),
	}
}

// Self implements channel.Channel.
func (c *Channel) Self() string { return SelfID }

// Latest implements channel.Channel.
func (c *Channel) Latest(context.Context) (channel.Seq, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LatestErr != nil {
		return 0, c.LatestErr
	}
	return c.next - 1, nil
}

// Post implements channel.Channel.
func (c *Channel) Post(_ context.Context, text string) (channel.Message, error) {
	c.mu.Lock()
	if c.PostErr != nil {
		err := c.PostErr
		c.mu.Unlock()
		return channel.Message{}, err
	}
	m := c.appendLocked(channel.Message{Author: SelfID, Text: text})
	c.posts++
	hook := c.OnPost
	c.mu.Unlock()

	if hook != nil {
		hook(m)
	}
	return m, nil
}

// Since implements channel.Channel.
func (c *Channel) Since(_ context.Context, after channel.Seq) ([]channel.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries++
	if c.SinceErr != nil {
		return nil, c.SinceErr
	}
	var out []channel.Message
	for _, m := range c.msgs {
		if m.Seq > after {
			out = append(out, m)
		}
	}
	return out, nil
}

// Open implements channel.Channel. Content registered with AddFile is served
// by URL.
func (c *Channel) Open(_ context.Context, a channel.Attachment) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.files[a.URL]
	if !ok {
		return nil, fmt.Errorf("%w: %s", channel.ErrNoAttachment, a.URL)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Notify implements channel.Notifier.
func (c *Channel) Notify() <-chan struct{} { return c.notify }

// Deliver appends a message from author and wakes any waiting poll.
func (c *Channel) Deliver(author, text string, attachments ...channel.Attachment) channel.Message {
	c.mu.Lock()
	m := c.appendLocked(channel.Message{Author: author, Text: text, Attachments: attachments})
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return m
}

// Insert stores m verbatim, keeping its Seq. It models late delivery of an
// old message; it does not wake waiting polls.
func (c *Channel) Insert(m channel.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	if m.Seq >= c.next {
		c.next = m.Seq + 1
	}
}

// AddFile registers attachment content served by Open.
func (c *Channel) AddFile(url string, content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[url] = content
}

// Messages returns a copy of every stored message.
func (c *Channel) Messages() []channel.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]channel.Message(nil), c.msgs...)
}

// Posts returns the number of successful Post calls.
func (c *Channel) Posts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.posts
}

// Queries returns the number of Since calls.
func (c *Channel) Queries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries
}

func (c *Channel) appendLocked(m channel.Message) channel.Message {
	m.Seq = c.next
	m.ID = fmt.Sprintf("m%d", m.Seq)
	m.Time = time.Now()
	c.next++
	c.msgs = append(c.msgs, m)
	return m
}
