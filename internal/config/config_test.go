package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/internal/channel"
	chanmock "github.com/MrWong99/voxrelay/internal/channel/mock"
	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxrelay/pkg/provider/llm/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxrelay/pkg/provider/stt/mock"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxrelay/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

audio:
  frame_ms: 20
  queue_frames: 256
  volume: 0.7

vad:
  rms_threshold: 500
  silence: 1.8s
  min_speech: 300ms

pipeline:
  language: en
  stage_timeout: 20s

providers:
  stt:
    name: openai
    api_key: sk-test
    model: whisper-1
  stt_fallbacks:
    - name: whisper
      base_url: http://localhost:8080
  tts:
    name: openai
    api_key: sk-test
    model: tts-1
    options:
      voice: nova
  local_tts:
    name: local

channel:
  kind: discord
  channel_id: "1234567890"
  token: user-token
  agent_id: "42"
  poll_interval: 1s
  poll_timeout: 90s
  backoff_multiplier: 2
  max_interval: 5s

playback:
  max_tts_chars: 400
  voice:
    id: nova
    speed_factor: 1.1

resilience:
  max_failures: 3
  reset_timeout: 1m
`

func loadSample(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := loadSample(t)

	if cfg.Server.LogLevel != config.LogDebug || cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.VAD.Silence != 1800*time.Millisecond || cfg.VAD.MinSpeech != 300*time.Millisecond {
		t.Errorf("vad durations = %v, %v", cfg.VAD.Silence, cfg.VAD.MinSpeech)
	}
	if cfg.Providers.STT.Model != "whisper-1" || len(cfg.Providers.STTFallbacks) != 1 {
		t.Errorf("stt = %+v, fallbacks = %d", cfg.Providers.STT, len(cfg.Providers.STTFallbacks))
	}
	if got := config.OptString(cfg.Providers.TTS.Options, "voice"); got != "nova" {
		t.Errorf("tts voice option = %q, want nova", got)
	}
	if cfg.Channel.Kind != config.ChannelDiscord || cfg.Channel.AgentID != "42" {
		t.Errorf("channel = %+v", cfg.Channel)
	}
	if cfg.Channel.BackoffMultiplier != 2 || cfg.Channel.MaxInterval != 5*time.Second {
		t.Errorf("backoff = %v, max = %v", cfg.Channel.BackoffMultiplier, cfg.Channel.MaxInterval)
	}
	if cfg.Audio.Volume != 0.7 {
		t.Errorf("audio.volume = %v, want 0.7", cfg.Audio.Volume)
	}
	if cfg.Resilience.ResetTimeout != time.Minute {
		t.Errorf("reset_timeout = %v", cfg.Resilience.ResetTimeout)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{
			name:    "bad log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = "verbose" },
			wantErr: "server.log_level",
		},
		{
			name:    "volume too loud",
			mutate:  func(c *config.Config) { c.Audio.Volume = 1.5 },
			wantErr: "audio.volume",
		},
		{
			name:    "stt required",
			mutate:  func(c *config.Config) { c.Providers.STT = config.ProviderEntry{} },
			wantErr: "providers.stt.name is required",
		},
		{
			name:    "unknown channel kind",
			mutate:  func(c *config.Config) { c.Channel.Kind = "irc" },
			wantErr: "channel.kind",
		},
		{
			name:    "discord needs channel id",
			mutate:  func(c *config.Config) { c.Channel.ChannelID = "" },
			wantErr: "channel.channel_id is required",
		},
		{
			name:    "slack needs token",
			mutate:  func(c *config.Config) { c.Channel.Kind = config.ChannelSlack; c.Channel.Token = "" },
			wantErr: "channel.token is required",
		},
		{
			name:    "bot flag only for discord",
			mutate:  func(c *config.Config) { c.Channel.Kind = config.ChannelSlack; c.Channel.Bot = true },
			wantErr: "bot only applies to discord",
		},
		{
			name:    "direct needs llm",
			mutate:  func(c *config.Config) { c.Channel.Kind = config.ChannelDirect },
			wantErr: "channel.direct.llm.name is required",
		},
		{
			name: "direct mirror cannot be direct",
			mutate: func(c *config.Config) {
				c.Channel.Kind = config.ChannelDirect
				c.Channel.Direct.LLM.Name = "openai"
				c.Channel.Direct.Mirror = &config.ChannelConfig{Kind: config.ChannelDirect}
			},
			wantErr: "mirror.kind must be discord or slack",
		},
		{
			name: "direct mirror validated",
			mutate: func(c *config.Config) {
				c.Channel.Kind = config.ChannelDirect
				c.Channel.Direct.LLM.Name = "openai"
				c.Channel.Direct.Mirror = &config.ChannelConfig{Kind: config.ChannelSlack, Token: "xoxp"}
			},
			wantErr: "channel.direct.mirror.channel_id is required",
		},
		{
			name: "direct llm fallback needs name",
			mutate: func(c *config.Config) {
				c.Channel.Kind = config.ChannelDirect
				c.Channel.Direct.LLM.Name = "openai"
				c.Channel.Direct.LLMFallbacks = []config.ProviderEntry{{Model: "llama3.2"}}
			},
			wantErr: "channel.direct.llm_fallbacks[0].name is required",
		},
		{
			name:    "backoff multiplier below one",
			mutate:  func(c *config.Config) { c.Channel.BackoffMultiplier = 0.5 },
			wantErr: "backoff_multiplier",
		},
		{
			name:    "negative poll timeout",
			mutate:  func(c *config.Config) { c.Channel.PollTimeout = -time.Second },
			wantErr: "channel.poll_timeout must not be negative",
		},
		{
			name:    "silence threshold above rms threshold",
			mutate:  func(c *config.Config) { c.VAD.SilenceThreshold = 600 },
			wantErr: "vad.silence_threshold",
		},
		{
			name:    "speed factor out of range",
			mutate:  func(c *config.Config) { c.Playback.Voice.SpeedFactor = 5 },
			wantErr: "speed_factor",
		},
		{
			name:    "tts fallbacks without primary",
			mutate:  func(c *config.Config) { c.Providers.TTS = config.ProviderEntry{}; c.Providers.TTSFallbacks = []config.ProviderEntry{{Name: "coqui"}} },
			wantErr: "providers.tts_fallbacks requires providers.tts",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := loadSample(t)
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	err := config.Validate(&config.Config{Server: config.ServerConfig{LogLevel: "loud"}})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.log_level", "providers.stt.name", "channel.kind"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotEntry config.ProviderEntry
	reg.RegisterSTT("fake", func(e config.ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return &sttmock.Provider{}, nil
	})
	reg.RegisterTTS("fake", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	reg.RegisterLLM("fake", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterChannel(config.ChannelDirect, func(_ context.Context, c config.ChannelConfig) (channel.Channel, error) {
		return chanmock.New(), nil
	})

	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "fake", Model: "m"}); err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory got entry %+v", gotEntry)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "fake"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "fake"}); err != nil {
		t.Errorf("CreateLLM: %v", err)
	}
	if _, err := reg.CreateChannel(context.Background(), config.ChannelConfig{Kind: config.ChannelDirect}); err != nil {
		t.Errorf("CreateChannel: %v", err)
	}

	for name, create := range map[string]func() error{
		"stt":     func() error { _, err := reg.CreateSTT(config.ProviderEntry{Name: "nope"}); return err },
		"tts":     func() error { _, err := reg.CreateTTS(config.ProviderEntry{Name: "nope"}); return err },
		"llm":     func() error { _, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"}); return err },
		"channel": func() error { _, err := reg.CreateChannel(context.Background(), config.ChannelConfig{Kind: config.ChannelSlack}); return err },
	} {
		if err := create(); !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("%s: err = %v, want ErrProviderNotRegistered", name, err)
		}
	}
}

func TestOptions(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"voice": "nova", "rate": 175, "speed": 1.5, "whole": 2.0}
	if got := config.OptString(opts, "voice"); got != "nova" {
		t.Errorf("OptString(voice) = %q", got)
	}
	if got := config.OptString(opts, "rate"); got != "" {
		t.Errorf("OptString(rate) = %q, want empty for non-string", got)
	}
	if got := config.OptString(nil, "voice"); got != "" {
		t.Errorf("OptString(nil) = %q", got)
	}
	if n, ok := config.OptInt(opts, "rate"); !ok || n != 175 {
		t.Errorf("OptInt(rate) = %d, %v", n, ok)
	}
	if n, ok := config.OptInt(opts, "whole"); !ok || n != 2 {
		t.Errorf("OptInt(whole) = %d, %v", n, ok)
	}
	if _, ok := config.OptInt(opts, "speed"); ok {
		t.Error("OptInt(speed) accepted a fractional value")
	}
}
