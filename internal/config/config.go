// Package config provides the configuration schema, loader, and provider
// registry for the voxrelay daemon.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ChannelKind selects the messaging channel the relay talks through.
type ChannelKind string

const (
	// ChannelDiscord posts into a Discord text channel.
	ChannelDiscord ChannelKind = "discord"

	// ChannelSlack posts into a Slack conversation.
	ChannelSlack ChannelKind = "slack"

	// ChannelDirect answers transcripts with an LLM in-process.
	ChannelDirect ChannelKind = "direct"
)

// IsValid reports whether k is a recognised channel kind.
func (k ChannelKind) IsValid() bool {
	switch k {
	case ChannelDiscord, ChannelSlack, ChannelDirect:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Audio      AudioConfig      `yaml:"audio"`
	VAD        VADConfig        `yaml:"vad"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Channel    ChannelConfig    `yaml:"channel"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds logging and the optional observability listener.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// JournalPath, if set, receives one JSON line per relay cycle.
	JournalPath string `yaml:"journal_path"`
}

// AudioConfig tunes the capture and playback devices.
type AudioConfig struct {
	// Device is the capture device name. Empty selects the system default.
	Device string `yaml:"device"`

	// FrameMs is the capture frame length in milliseconds. Default: 20.
	FrameMs int `yaml:"frame_ms"`

	// QueueFrames bounds the capture queue. Default: 500.
	QueueFrames int `yaml:"queue_frames"`

	// PlaybackBuffer is the speaker's internal buffer. Zero keeps the
	// driver default.
	PlaybackBuffer time.Duration `yaml:"playback_buffer"`

	// Volume scales speaker output in the range [0, 1]. Zero means full
	// volume.
	Volume float64 `yaml:"volume"`
}

// VADConfig configures the silence detector and utterance recorder.
type VADConfig struct {
	// RMSThreshold is the RMS level at or above which a frame is speech.
	RMSThreshold float64 `yaml:"rms_threshold"`

	// SilenceThreshold is the level below which a frame inside speech counts
	// as silence. Zero means the same as RMSThreshold.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// Silence is how long trailing silence must last to end an utterance.
	// Default: 1.8s.
	Silence time.Duration `yaml:"silence"`

	// MinSpeech discards utterances with less speech than this.
	MinSpeech time.Duration `yaml:"min_speech"`

	// MaxUtterance force-finalizes long utterances. Zero disables the cap.
	MaxUtterance time.Duration `yaml:"max_utterance"`
}

// PipelineConfig tunes the controller.
type PipelineConfig struct {
	// Language is the transcription language. Empty auto-detects.
	Language string `yaml:"language"`

	// Prompt biases transcription towards expected vocabulary.
	Prompt string `yaml:"prompt"`

	// StageTimeout bounds the transcribe and send stages.
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// ProvidersConfig declares the speech backends. Each entry selects a named
// provider registered in the [Registry].
type ProvidersConfig struct {
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`

	// LocalTTS is the last-resort synthesizer, usually "local".
	LocalTTS ProviderEntry `yaml:"local_tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "tts-1").
	Model string `yaml:"model"`

	// Timeout bounds a single request. Zero keeps the provider default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// ChannelConfig selects and configures the messaging channel.
type ChannelConfig struct {
	// Kind is discord, slack, or direct.
	Kind ChannelKind `yaml:"kind"`

	// ChannelID is the Discord channel or Slack conversation ID.
	ChannelID string `yaml:"channel_id"`

	// Token authenticates the posting identity.
	Token string `yaml:"token"`

	// Bot marks a Discord token as a bot token.
	Bot bool `yaml:"bot"`

	// APIURL overrides the Slack Web API base URL.
	APIURL string `yaml:"api_url"`

	// AgentID is the author ID of the agent. Empty accepts any author other
	// than the relay itself.
	AgentID string `yaml:"agent_id"`

	// PollInterval is the first (or only) wait between polls. Default: 2s.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollTimeout bounds one wait for a reply. Default: 90s.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// BackoffMultiplier grows the poll interval geometrically when > 1.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// MaxInterval caps the grown poll interval.
	MaxInterval time.Duration `yaml:"max_interval"`

	// Direct configures the in-process agent used when Kind is direct.
	Direct DirectConfig `yaml:"direct"`
}

// DirectConfig configures the in-process LLM agent.
type DirectConfig struct {
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`

	// HistoryTurns is the number of previous exchanges sent as context.
	// Negative disables history.
	HistoryTurns int `yaml:"history_turns"`

	Timeout time.Duration `yaml:"timeout"`

	// Mirror, if set, copies every exchange into a discord or slack channel.
	Mirror *ChannelConfig `yaml:"mirror"`

	// MirrorPrefix is prepended to mirrored replies.
	MirrorPrefix string `yaml:"mirror_prefix"`
}

// PlaybackConfig tunes the reply player.
type PlaybackConfig struct {
	// MaxTTSChars truncates text sent to remote synthesis. Default: 400.
	MaxTTSChars int `yaml:"max_tts_chars"`

	// MaxAttachmentBytes caps downloaded audio attachments.
	MaxAttachmentBytes int64 `yaml:"max_attachment_bytes"`

	Voice VoiceConfig `yaml:"voice"`
}

// VoiceConfig specifies the synthesis voice.
type VoiceConfig struct {
	// ID is the provider-specific voice identifier.
	ID string `yaml:"id"`

	// Name is a human-readable label.
	Name string `yaml:"name"`

	// SpeedFactor adjusts speaking rate in the range [0.25, 4.0]. 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`

	// Instructions is a style hint for providers that accept one.
	Instructions string `yaml:"instructions"`
}

// ResilienceConfig tunes the circuit breakers wrapping every backend.
type ResilienceConfig struct {
	// MaxFailures opens a breaker after this many consecutive failures.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before probing.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}
