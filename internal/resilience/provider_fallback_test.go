package resilience_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxrelay/internal/resilience"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxrelay/pkg/provider/llm/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxrelay/pkg/provider/stt/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxrelay/pkg/provider/tts/mock"
)

var errDown = errors.New("backend down")

func TestSTTFallback_Transcribe(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Err: errDown}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "hello"}}

	f := resilience.NewSTTFallback(primary, "openai", resilience.FallbackConfig{})
	f.AddFallback("whisper", secondary)

	req := stt.Request{PCM: make([]byte, 640), SampleRate: 16000, Channels: 1}
	tr, err := f.Transcribe(context.Background(), req)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hello" {
		t.Errorf("Text = %q", tr.Text)
	}
	if len(primary.Calls()) != 1 || len(secondary.Calls()) != 1 {
		t.Errorf("calls = %d/%d, want 1/1", len(primary.Calls()), len(secondary.Calls()))
	}
}

func TestTTSFallback_Synthesize(t *testing.T) {
	t.Parallel()
	want := tts.Audio{PCM: []byte{1, 0}, Format: audio.CaptureFormat}
	primary := &ttsmock.Provider{Err: errDown}
	secondary := &ttsmock.Provider{Result: want}

	f := resilience.NewTTSFallback(primary, "elevenlabs", resilience.FallbackConfig{})
	f.AddFallback("openai", secondary)

	got, err := f.Synthesize(context.Background(), "Acknowledged.", tts.VoiceProfile{ID: "fable"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got.PCM) != string(want.PCM) {
		t.Errorf("PCM = %v", got.PCM)
	}
	if c := secondary.Calls(); len(c) != 1 || c[0].Text != "Acknowledged." || c[0].Voice.ID != "fable" {
		t.Errorf("secondary calls = %+v", c)
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	t.Parallel()
	f := resilience.NewTTSFallback(&ttsmock.Provider{Err: errDown}, "a", resilience.FallbackConfig{})
	f.AddFallback("b", &ttsmock.Provider{Err: errDown})
	if _, err := f.Synthesize(context.Background(), "x", tts.VoiceProfile{}); !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errDown}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Acknowledged."}}

	f := resilience.NewLLMFallback(primary, "openai", resilience.FallbackConfig{})
	f.AddFallback("ollama", secondary)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "status?"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Acknowledged." {
		t.Errorf("Content = %q", resp.Content)
	}
}
