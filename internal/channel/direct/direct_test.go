package direct_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/internal/channel"
	"github.com/MrWong99/voxrelay/internal/channel/direct"
	chanmock "github.com/MrWong99/voxrelay/internal/channel/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxrelay/pkg/provider/llm/mock"
)

func newBridge(ch channel.Channel) *channel.Bridge {
	return channel.NewBridge(ch, channel.BridgeConfig{
		AgentID: direct.AgentID,
		Timeout: 2 * time.Second,
		Poller:  channel.FixedInterval(time.Minute),
	})
}

func TestNew_NilModel(t *testing.T) {
	t.Parallel()
	if _, err := direct.New(nil, direct.Config{}); err == nil {
		t.Error("expected error for nil model")
	}
}

func TestExchange(t *testing.T) {
	t.Parallel()
	model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Acknowledged."}}
	ch, err := direct.New(model, direct.Config{SystemPrompt: "Be brief."})
	if err != nil {
		t.Fatal(err)
	}
	b := newBridge(ch)

	if _, err := b.Send(context.Background(), "status report"); err != nil {
		t.Fatal(err)
	}
	// The poller interval is a minute; only the notification can wake Poll.
	reply, err := b.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if reply.Text != "Acknowledged." || reply.Author != direct.AgentID {
		t.Errorf("reply = %+v", reply.Message)
	}
	ch.Wait()

	calls := model.Calls()
	if len(calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != "Be brief." || req.MaxTokens != direct.DefaultMaxTokens {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "status report" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

// slowModel answers after delay unless ctx ends first.
func slowModel(delay time.Duration, answer string) *llmmock.Provider {
	return &llmmock.Provider{CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		select {
		case <-time.After(delay):
			return &llm.CompletionResponse{Content: answer}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}

func TestCompletionOutlivesSendContext(t *testing.T) {
	t.Parallel()
	ch, err := direct.New(slowModel(50*time.Millisecond, "Acknowledged."), direct.Config{})
	if err != nil {
		t.Fatal(err)
	}
	b := newBridge(ch)

	sendCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	if _, err := b.Send(sendCtx, "status report"); err != nil {
		t.Fatal(err)
	}
	cancel()

	reply, err := b.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if reply.Text != "Acknowledged." {
		t.Errorf("reply = %q, want Acknowledged.", reply.Text)
	}
	ch.Wait()
}

func TestCompletionTimeout(t *testing.T) {
	t.Parallel()
	ch, err := direct.New(slowModel(time.Minute, "too late"), direct.Config{Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	b := newBridge(ch)
	if _, err := b.Send(context.Background(), "status report"); err != nil {
		t.Fatal(err)
	}

	_, err = b.Poll(context.Background())
	if !errors.Is(err, channel.ErrReplyTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want ErrReplyTimeout wrapping DeadlineExceeded", err)
	}
	ch.Wait()
}

func TestHistory(t *testing.T) {
	t.Parallel()
	n := 0
	model := &llmmock.Provider{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		n++
		return &llm.CompletionResponse{Content: fmt.Sprintf("answer %d", n)}, nil
	}}
	ch, _ := direct.New(model, direct.Config{HistoryTurns: 2})
	b := newBridge(ch)

	for i := range 4 {
		if _, err := b.Send(context.Background(), fmt.Sprintf("question %d", i+1)); err != nil {
			t.Fatal(err)
		}
		if _, err := b.Poll(context.Background()); err != nil {
			t.Fatal(err)
		}
		ch.Wait()
	}

	calls := model.Calls()
	last := calls[len(calls)-1].Req.Messages
	// Two prior exchanges plus the new question.
	if len(last) != 5 {
		t.Fatalf("last request has %d messages, want 5", len(last))
	}
	if last[0].Content != "question 2" || last[1].Content != "answer 2" || last[4].Content != "question 4" {
		t.Errorf("history window = %+v", last)
	}
}

func TestHistoryDisabled(t *testing.T) {
	t.Parallel()
	model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	ch, _ := direct.New(model, direct.Config{HistoryTurns: -1})
	b := newBridge(ch)
	for range 2 {
		b.Send(context.Background(), "hi")
		if _, err := b.Poll(context.Background()); err != nil {
			t.Fatal(err)
		}
		ch.Wait()
	}
	for _, c := range model.Calls() {
		if len(c.Req.Messages) != 1 {
			t.Errorf("request carried %d messages, want 1", len(c.Req.Messages))
		}
	}
}

func TestCompletionFailureSurfacesOnce(t *testing.T) {
	t.Parallel()
	errModel := errors.New("overloaded")
	model := &llmmock.Provider{CompleteErr: errModel}
	ch, _ := direct.New(model, direct.Config{})

	if _, err := ch.Post(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	ch.Wait()

	if _, err := ch.Since(context.Background(), 0); !errors.Is(err, errModel) {
		t.Errorf("first Since err = %v, want model error", err)
	}
	msgs, err := ch.Since(context.Background(), 0)
	if err != nil {
		t.Fatalf("second Since err = %v, want nil", err)
	}
	if len(msgs) != 1 || msgs[0].Author != direct.SelfID {
		t.Errorf("messages = %+v, want only the transcript", msgs)
	}
}

func TestEmptyCompletionIsFailure(t *testing.T) {
	t.Parallel()
	ch, _ := direct.New(&llmmock.Provider{}, direct.Config{})
	ch.Post(context.Background(), "hi")
	ch.Wait()
	if _, err := ch.Since(context.Background(), 0); err == nil {
		t.Error("expected error for empty completion")
	}
}

type recordingMirror struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (m *recordingMirror) Post(_ context.Context, text string) (channel.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return channel.Message{}, m.err
}

func TestMirror(t *testing.T) {
	t.Parallel()

	t.Run("both sides posted", func(t *testing.T) {
		t.Parallel()
		mirror := &recordingMirror{}
		model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Done."}}
		ch, _ := direct.New(model, direct.Config{Mirror: mirror, MirrorPrefix: "**[voice]** "})
		ch.Post(context.Background(), "do it")
		ch.Wait()

		mirror.mu.Lock()
		defer mirror.mu.Unlock()
		joined := strings.Join(mirror.texts, "|")
		if len(mirror.texts) != 2 || !strings.Contains(joined, "do it") || !strings.Contains(joined, "**[voice]** Done.") {
			t.Errorf("mirrored = %q", mirror.texts)
		}
	})

	t.Run("failure ignored", func(t *testing.T) {
		t.Parallel()
		mirror := &recordingMirror{err: errors.New("discord down")}
		model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Done."}}
		ch, _ := direct.New(model, direct.Config{Mirror: mirror})
		b := newBridge(ch)
		b.Send(context.Background(), "do it")
		if _, err := b.Poll(context.Background()); err != nil {
			t.Errorf("Poll: %v", err)
		}
		ch.Wait()
	})

	t.Run("channel mock as mirror", func(t *testing.T) {
		t.Parallel()
		target := chanmock.New()
		model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Done."}}
		ch, _ := direct.New(model, direct.Config{Mirror: target})
		ch.Post(context.Background(), "do it")
		ch.Wait()
		if target.Posts() != 2 {
			t.Errorf("mirror posts = %d, want 2", target.Posts())
		}
	})
}

func TestOpen(t *testing.T) {
	t.Parallel()
	ch, _ := direct.New(&llmmock.Provider{}, direct.Config{})
	if _, err := ch.Open(context.Background(), channel.Attachment{Name: "x"}); !errors.Is(err, channel.ErrNoAttachment) {
		t.Errorf("err = %v, want ErrNoAttachment", err)
	}
}
