package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxrelay/internal/channel"
	"github.com/MrWong99/voxrelay/internal/channel/direct"
	"github.com/MrWong99/voxrelay/internal/channel/discord"
	"github.com/MrWong99/voxrelay/internal/channel/slack"
	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/resilience"
	"github.com/MrWong99/voxrelay/pkg/provider/llm"
	"github.com/MrWong99/voxrelay/pkg/provider/llm/anyllm"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/stt/deepgram"
	sttopenai "github.com/MrWong99/voxrelay/pkg/provider/stt/openai"
	"github.com/MrWong99/voxrelay/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/provider/tts/coqui"
	"github.com/MrWong99/voxrelay/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/voxrelay/pkg/provider/tts/local"
	ttsopenai "github.com/MrWong99/voxrelay/pkg/provider/tts/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. llmFB configures the
// breakers of the direct channel's model group.
func registerBuiltinProviders(reg *config.Registry, llmFB resilience.FallbackConfig, log *slog.Logger) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Local backends (ollama, llama.cpp, llamafile) only need BaseURL.
	for _, backend := range anyllm.Backends() {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" && anyllm.NeedsAPIKey(backend) {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if entry.Timeout > 0 {
			opts = append(opts, sttopenai.WithTimeout(entry.Timeout))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, sttopenai.WithLanguage(lang))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Timeout > 0 {
			opts = append(opts, whisper.WithHTTPClient(&http.Client{Timeout: entry.Timeout}))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		opts := []whisper.NativeOption{whisper.WithNativeLogger(log)}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		if entry.Timeout > 0 {
			opts = append(opts, ttsopenai.WithTimeout(entry.Timeout))
		}
		if voice := config.OptString(entry.Options, "voice"); voice != "" {
			opts = append(opts, ttsopenai.WithVoice(voice))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		if outputFmt := config.OptString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := config.OptString(entry.Options, "voice"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if entry.Timeout > 0 {
			opts = append(opts, coqui.WithTimeout(entry.Timeout))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := config.OptString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if speaker := config.OptString(entry.Options, "speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("local", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []local.Option
		if bin := config.OptString(entry.Options, "binary"); bin != "" {
			opts = append(opts, local.WithBinary(bin))
		}
		if voice := config.OptString(entry.Options, "voice"); voice != "" {
			opts = append(opts, local.WithVoice(voice))
		}
		if n, ok := config.OptInt(entry.Options, "max_chars"); ok {
			opts = append(opts, local.WithMaxChars(n))
		}
		return local.New(opts...)
	})

	// ── Channels ──────────────────────────────────────────────────────────────

	reg.RegisterChannel(config.ChannelDiscord, func(ctx context.Context, c config.ChannelConfig) (channel.Channel, error) {
		return discord.Dial(ctx, discord.Config{Token: c.Token, Bot: c.Bot, ChannelID: c.ChannelID}, discord.WithLogger(log))
	})

	reg.RegisterChannel(config.ChannelSlack, func(ctx context.Context, c config.ChannelConfig) (channel.Channel, error) {
		opts := []slack.Option{slack.WithLogger(log)}
		if c.APIURL != "" {
			opts = append(opts, slack.WithAPIURL(c.APIURL))
		}
		return slack.New(ctx, c.Token, c.ChannelID, opts...)
	})

	reg.RegisterChannel(config.ChannelDirect, func(ctx context.Context, c config.ChannelConfig) (channel.Channel, error) {
		model, err := buildLLM(c.Direct, reg, llmFB)
		if err != nil {
			return nil, fmt.Errorf("direct: %w", err)
		}
		dc := direct.Config{
			SystemPrompt: c.Direct.SystemPrompt,
			MaxTokens:    c.Direct.MaxTokens,
			Temperature:  c.Direct.Temperature,
			HistoryTurns: c.Direct.HistoryTurns,
			Timeout:      c.Direct.Timeout,
			MirrorPrefix: c.Direct.MirrorPrefix,
		}
		if c.Direct.Mirror != nil {
			m, err := reg.CreateChannel(ctx, *c.Direct.Mirror)
			if err != nil {
				return nil, fmt.Errorf("direct: create mirror: %w", err)
			}
			mirror, ok := m.(direct.Mirror)
			if !ok {
				return nil, errors.New("direct: mirror channel cannot post")
			}
			dc.Mirror = mirror
		}
		return direct.New(model, dc, direct.WithLogger(log))
	})
}

// buildSTT creates the primary transcriber and its fallbacks, each behind a
// circuit breaker. Backends holding resources (the in-process whisper model)
// are returned as closers.
func buildSTT(cfg *config.Config, reg *config.Registry, fb resilience.FallbackConfig) (stt.Provider, []io.Closer, error) {
	var closers []io.Closer
	create := func(e config.ProviderEntry) (stt.Provider, error) {
		p, err := reg.CreateSTT(e)
		if err != nil {
			return nil, err
		}
		if c, ok := p.(io.Closer); ok {
			closers = append(closers, c)
		}
		return p, nil
	}

	primary, err := create(cfg.Providers.STT)
	if err != nil {
		return nil, closers, fmt.Errorf("stt %q: %w", cfg.Providers.STT.Name, err)
	}
	group := resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, fb)
	for _, e := range cfg.Providers.STTFallbacks {
		p, err := create(e)
		if err != nil {
			return nil, closers, fmt.Errorf("stt fallback %q: %w", e.Name, err)
		}
		group.AddFallback(e.Name, p)
	}
	return group, closers, nil
}

// buildLLM creates the direct agent's model. Fallback models are tried in
// order when the primary fails or its breaker is open.
func buildLLM(d config.DirectConfig, reg *config.Registry, fb resilience.FallbackConfig) (llm.Provider, error) {
	primary, err := reg.CreateLLM(d.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm %q: %w", d.LLM.Name, err)
	}
	if len(d.LLMFallbacks) == 0 {
		return primary, nil
	}
	group := resilience.NewLLMFallback(primary, d.LLM.Name, fb)
	for _, e := range d.LLMFallbacks {
		p, err := reg.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("llm fallback %q: %w", e.Name, err)
		}
		group.AddFallback(e.Name, p)
	}
	return group, nil
}

// buildRemoteTTS returns nil when no remote synthesizer is configured.
func buildRemoteTTS(cfg *config.Config, reg *config.Registry, fb resilience.FallbackConfig) (tts.Provider, error) {
	if cfg.Providers.TTS.Name == "" {
		return nil, nil
	}
	primary, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("tts %q: %w", cfg.Providers.TTS.Name, err)
	}
	group := resilience.NewTTSFallback(primary, cfg.Providers.TTS.Name, fb)
	for _, e := range cfg.Providers.TTSFallbacks {
		p, err := reg.CreateTTS(e)
		if err != nil {
			return nil, fmt.Errorf("tts fallback %q: %w", e.Name, err)
		}
		group.AddFallback(e.Name, p)
	}
	return group, nil
}

// fallbackConfig builds the breaker settings shared by every backend group,
// reporting transitions and requests to m.
func fallbackConfig(cfg config.ResilienceConfig, kind string, m *observe.Metrics, log *slog.Logger) resilience.FallbackConfig {
	ctx := context.Background()
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.MaxFailures,
			ResetTimeout: cfg.ResetTimeout,
			Logger:       log,
			OnStateChange: func(name string, _, to resilience.State) {
				m.RecordBreakerTransition(ctx, kind+"/"+name, to.String())
			},
		},
		OnProviderError: func(name string, _ error) {
			m.RecordProviderError(ctx, name, kind)
		},
		OnProviderRequest: func(name string, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			m.RecordProviderRequest(ctx, name, kind, status)
		},
	}
}
