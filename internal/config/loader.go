package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/drone/envsubst"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "deepgram", "whisper", "whisper-native"},
	"tts": {"openai", "elevenlabs", "coqui", "local"},
}

// LoadEnv loads KEY=value pairs from the dotenv file at path into the
// process environment. Variables already set are left untouched. A missing
// file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env %q: %w", path, err)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references, decodes a YAML config from r and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded, err := ExpandEnv(raw)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces ${NAME} references in b with the value of the
// environment variable NAME. ${NAME:-default} yields default when NAME is
// unset or empty, and $$ is a literal dollar sign. Bare $NAME is left alone
// so tokens containing a dollar sign survive.
func ExpandEnv(b []byte) ([]byte, error) {
	out, err := envsubst.EvalEnv(string(b))
	if err != nil {
		return nil, fmt.Errorf("config: expand environment: %w", err)
	}
	return []byte(out), nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.FrameMs < 0 || cfg.Audio.FrameMs > 100 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is out of range [0, 100]", cfg.Audio.FrameMs))
	}
	if cfg.Audio.QueueFrames < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_frames %d must not be negative", cfg.Audio.QueueFrames))
	}
	if cfg.Audio.Volume < 0 || cfg.Audio.Volume > 1 {
		errs = append(errs, fmt.Errorf("audio.volume %.2f is out of range [0, 1]", cfg.Audio.Volume))
	}

	// VAD
	if cfg.VAD.RMSThreshold < 0 {
		errs = append(errs, fmt.Errorf("vad.rms_threshold %.1f must not be negative", cfg.VAD.RMSThreshold))
	}
	if cfg.VAD.SilenceThreshold != 0 && cfg.VAD.RMSThreshold != 0 && cfg.VAD.SilenceThreshold > cfg.VAD.RMSThreshold {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.1f must not exceed vad.rms_threshold %.1f", cfg.VAD.SilenceThreshold, cfg.VAD.RMSThreshold))
	}
	errs = appendNegative(errs, "vad.silence", cfg.VAD.Silence)
	errs = appendNegative(errs, "vad.min_speech", cfg.VAD.MinSpeech)
	errs = appendNegative(errs, "vad.max_utterance", cfg.VAD.MaxUtterance)
	errs = appendNegative(errs, "pipeline.stage_timeout", cfg.Pipeline.StageTimeout)

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, e := range cfg.Providers.STTFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", e.Name)
	}
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, e := range cfg.Providers.TTSFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", e.Name)
	}
	validateProviderName("tts", cfg.Providers.LocalTTS.Name)
	if cfg.Providers.TTS.Name == "" && cfg.Providers.LocalTTS.Name == "" {
		slog.Warn("no TTS provider configured; only replies with audio attachments can be played")
	}
	if cfg.Providers.TTS.Name == "" && len(cfg.Providers.TTSFallbacks) > 0 {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}

	// Channel
	errs = append(errs, validateChannel("channel", cfg.Channel)...)
	if cfg.Channel.Kind == ChannelDirect {
		d := cfg.Channel.Direct
		if d.LLM.Name == "" {
			errs = append(errs, errors.New("channel.direct.llm.name is required when channel.kind is direct"))
		}
		validateProviderName("llm", d.LLM.Name)
		for i, e := range d.LLMFallbacks {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("channel.direct.llm_fallbacks[%d].name is required", i))
			}
			validateProviderName("llm", e.Name)
		}
		if d.MaxTokens < 0 {
			errs = append(errs, fmt.Errorf("channel.direct.max_tokens %d must not be negative", d.MaxTokens))
		}
		if d.Temperature < 0 || d.Temperature > 2 {
			errs = append(errs, fmt.Errorf("channel.direct.temperature %.2f is out of range [0, 2]", d.Temperature))
		}
		if d.Mirror != nil {
			if d.Mirror.Kind == ChannelDirect {
				errs = append(errs, errors.New("channel.direct.mirror.kind must be discord or slack"))
			} else {
				errs = append(errs, validateChannel("channel.direct.mirror", *d.Mirror)...)
			}
		}
	}

	// Playback
	if cfg.Playback.MaxTTSChars < 0 {
		errs = append(errs, fmt.Errorf("playback.max_tts_chars %d must not be negative", cfg.Playback.MaxTTSChars))
	}
	if cfg.Playback.MaxAttachmentBytes < 0 {
		errs = append(errs, fmt.Errorf("playback.max_attachment_bytes %d must not be negative", cfg.Playback.MaxAttachmentBytes))
	}
	if sf := cfg.Playback.Voice.SpeedFactor; sf != 0 && (sf < 0.25 || sf > 4.0) {
		errs = append(errs, fmt.Errorf("playback.voice.speed_factor %.2f is out of range [0.25, 4.0]", sf))
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d must not be negative", cfg.Resilience.MaxFailures))
	}
	errs = appendNegative(errs, "resilience.reset_timeout", cfg.Resilience.ResetTimeout)

	return errors.Join(errs...)
}

func validateChannel(prefix string, c ChannelConfig) []error {
	var errs []error
	if !c.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: discord, slack, direct", prefix, c.Kind))
		return errs
	}
	if c.Kind != ChannelDirect {
		if c.ChannelID == "" {
			errs = append(errs, fmt.Errorf("%s.channel_id is required for %s", prefix, c.Kind))
		}
		if c.Token == "" {
			errs = append(errs, fmt.Errorf("%s.token is required for %s", prefix, c.Kind))
		}
	}
	if c.Bot && c.Kind != ChannelDiscord {
		errs = append(errs, fmt.Errorf("%s.bot only applies to discord", prefix))
	}
	errs = appendNegative(errs, prefix+".poll_interval", c.PollInterval)
	errs = appendNegative(errs, prefix+".poll_timeout", c.PollTimeout)
	errs = appendNegative(errs, prefix+".max_interval", c.MaxInterval)
	if c.BackoffMultiplier != 0 && c.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("%s.backoff_multiplier %.2f must be >= 1", prefix, c.BackoffMultiplier))
	}
	return errs
}

func appendNegative(errs []error, field string, d time.Duration) []error {
	if d < 0 {
		return append(errs, fmt.Errorf("%s must not be negative", field))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
