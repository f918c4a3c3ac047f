// Package mock provides a fake Discord REST session for adapter tests.
package mock

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// HistoryCall records one ChannelMessages invocation.
type HistoryCall struct {
	ChannelID string
	Limit     int
	AfterID   string
	Options   int
}

// Session is an in-memory stand-in for *discordgo.Session. Messages are
// stored oldest first and returned newest first, as Discord does.
type Session struct {
	mu   sync.Mutex
	next uint64
	msgs []*discordgo.Message

	// Me is returned by User("@me").
	Me discordgo.User

	// UserErr, HistoryErr and SendErr, if non-nil, are returned by the
	// respective methods.
	UserErr    error
	HistoryErr error
	SendErr    error

	// History records every ChannelMessages call.
	History []HistoryCall

	// Sent records the content of every ChannelMessageSend call.
	Sent []string
}

// New returns a Session whose first snowflake is base.
func New(base uint64, me discordgo.User) *Session {
	return &Session{next: base, Me: me}
}

// Add appends a message from author and returns it.
func (s *Session) Add(channelID string, author *discordgo.User, content string, atts ...*discordgo.MessageAttachment) *discordgo.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(channelID, author, content, atts)
}

// User returns Me for "@me".
func (s *Session) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	if s.UserErr != nil {
		return nil, s.UserErr
	}
	if userID != "@me" {
		return nil, errors.New("mock: unknown user " + userID)
	}
	u := s.Me
	return &u, nil
}

// ChannelMessages returns up to limit messages newer than afterID (or the
// newest messages when afterID is empty), newest first.
func (s *Session) ChannelMessages(channelID string, limit int, _ string, afterID string, _ string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, HistoryCall{ChannelID: channelID, Limit: limit, AfterID: afterID, Options: len(options)})
	if s.HistoryErr != nil {
		return nil, s.HistoryErr
	}

	var after uint64
	if afterID != "" {
		n, err := strconv.ParseUint(afterID, 10, 64)
		if err != nil {
			return nil, err
		}
		after = n
	}

	var out []*discordgo.Message
	for i := len(s.msgs) - 1; i >= 0; i-- {
		m := s.msgs[i]
		if m.ChannelID != channelID {
			continue
		}
		id, _ := strconv.ParseUint(m.ID, 10, 64)
		if afterID != "" && id <= after {
			continue
		}
		out = append(out, m)
	}
	// With an after cursor Discord pages from the oldest side.
	if len(out) > limit {
		if afterID != "" {
			out = out[len(out)-limit:]
		} else {
			out = out[:limit]
		}
	}
	return out, nil
}

// ChannelMessageSend stores content as a message authored by Me.
func (s *Session) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return nil, s.SendErr
	}
	s.Sent = append(s.Sent, content)
	me := s.Me
	return s.addLocked(channelID, &me, content, nil), nil
}

func (s *Session) addLocked(channelID string, author *discordgo.User, content string, atts []*discordgo.MessageAttachment) *discordgo.Message {
	m := &discordgo.Message{
		ID:          strconv.FormatUint(s.next, 10),
		ChannelID:   channelID,
		Content:     content,
		Timestamp:   time.Now(),
		Author:      author,
		Attachments: atts,
	}
	s.next++
	s.msgs = append(s.msgs, m)
	return m
}
