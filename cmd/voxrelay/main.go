// Command voxrelay is a hands-free voice front end for a chat-based agent:
// it listens on the microphone, posts each utterance's transcript into a
// messaging channel, waits for the agent's reply and speaks it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxrelay/internal/channel"
	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/health"
	"github.com/MrWong99/voxrelay/internal/journal"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/pipeline"
	"github.com/MrWong99/voxrelay/internal/playback"
	"github.com/MrWong99/voxrelay/internal/utterance"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/device"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/provider/vad"
	"github.com/MrWong99/voxrelay/pkg/provider/vad/energy"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "dotenv file loaded before the configuration; missing is fine")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "voxrelay: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxrelay: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxrelay: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	log := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(log)
	log.Info("voxrelay starting",
		"version", version,
		"config", *configPath,
		"channel", cfg.Channel.Kind,
		"stt", cfg.Providers.STT.Name,
		"tts", cfg.Providers.TTS.Name,
		"local_tts", cfg.Providers.LocalTTS.Name,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		log.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			log.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, fallbackConfig(cfg.Resilience, "llm", metrics, log), log)

	transcriber, closers, err := buildSTT(cfg, reg, fallbackConfig(cfg.Resilience, "stt", metrics, log))
	defer closeAll(log, closers)
	if err != nil {
		log.Error("failed to build transcriber", "err", err)
		return 1
	}
	remote, err := buildRemoteTTS(cfg, reg, fallbackConfig(cfg.Resilience, "tts", metrics, log))
	if err != nil {
		log.Error("failed to build synthesizer", "err", err)
		return 1
	}
	var localTTS tts.Provider
	if cfg.Providers.LocalTTS.Name != "" {
		if localTTS, err = reg.CreateTTS(cfg.Providers.LocalTTS); err != nil {
			// The local synthesizer is the last resort, so run without it.
			log.Warn("local synthesis unavailable", "provider", cfg.Providers.LocalTTS.Name, "err", err)
			localTTS = nil
		}
	}

	ch, err := reg.CreateChannel(ctx, cfg.Channel)
	if err != nil {
		log.Error("failed to open channel", "kind", cfg.Channel.Kind, "err", err)
		return 1
	}
	log.Info("channel ready", "kind", cfg.Channel.Kind, "self", ch.Self(), "agent", cfg.Channel.AgentID)

	// ── Audio ─────────────────────────────────────────────────────────────────
	frameMs := cfg.Audio.FrameMs
	if frameMs == 0 {
		frameMs = 20
	}
	capture := device.NewCapture(
		device.WithFrameDuration(time.Duration(frameMs)*time.Millisecond),
		device.WithQueueFrames(cfg.Audio.QueueFrames),
		device.WithDeviceName(cfg.Audio.Device),
		device.WithDropHook(func(r audio.DropReason) { metrics.RecordDroppedFrames(ctx, string(r), 1) }),
		device.WithCaptureLogger(log),
	)
	speakerOpts := []device.SpeakerOption{
		device.WithSpeakerLogger(log),
		device.WithVolume(cfg.Audio.Volume),
	}
	if cfg.Audio.PlaybackBuffer > 0 {
		speakerOpts = append(speakerOpts, device.WithBufferSize(cfg.Audio.PlaybackBuffer))
	}
	speaker, err := device.NewSpeaker(speakerOpts...)
	if err != nil {
		log.Error("failed to open speaker", "err", err)
		return 1
	}
	defer speaker.Close()

	sess, err := energy.New().NewSession(vad.Config{
		SampleRate:       audio.CaptureFormat.SampleRate,
		FrameSizeMs:      frameMs,
		SpeechThreshold:  cfg.VAD.RMSThreshold,
		SilenceThreshold: cfg.VAD.SilenceThreshold,
	})
	if err != nil {
		log.Error("failed to create silence detector", "err", err)
		return 1
	}
	defer sess.Close()
	recorder := utterance.New(sess, utterance.Config{
		Silence:      cfg.VAD.Silence,
		MinSpeech:    cfg.VAD.MinSpeech,
		MaxUtterance: cfg.VAD.MaxUtterance,
	},
		utterance.WithLogger(log),
		utterance.WithDiscardHook(func(reason string) { log.Debug("utterance discarded", "reason", reason) }),
	)

	var cycles *journal.FileJournal
	if cfg.Server.JournalPath != "" {
		cycles = journal.NewFileJournal(cfg.Server.JournalPath)
	}

	// ── Relay ─────────────────────────────────────────────────────────────────
	bridge := channel.NewBridge(ch, channel.BridgeConfig{
		AgentID: cfg.Channel.AgentID,
		Timeout: cfg.Channel.PollTimeout,
		Poller:  poller(cfg.Channel),
	}, channel.WithLogger(log))
	if bridge.Relaxed() {
		log.Warn("channel.agent_id is empty; any message not posted by the relay counts as the reply")
	}

	playerOpts := []playback.Option{
		playback.WithOpener(ch),
		playback.WithVoice(tts.VoiceProfile{
			ID:           cfg.Playback.Voice.ID,
			Name:         cfg.Playback.Voice.Name,
			SpeedFactor:  cfg.Playback.Voice.SpeedFactor,
			Instructions: cfg.Playback.Voice.Instructions,
		}),
		playback.WithLogger(log),
	}
	if remote != nil {
		playerOpts = append(playerOpts, playback.WithRemote(remote))
	}
	if localTTS != nil {
		playerOpts = append(playerOpts, playback.WithLocal(localTTS))
	}
	if cfg.Playback.MaxTTSChars > 0 {
		playerOpts = append(playerOpts, playback.WithMaxChars(cfg.Playback.MaxTTSChars))
	}
	if cfg.Playback.MaxAttachmentBytes > 0 {
		playerOpts = append(playerOpts, playback.WithMaxAttachmentBytes(cfg.Playback.MaxAttachmentBytes))
	}
	player := playback.New(speaker, playerOpts...)

	ctrl := pipeline.New(capture, recorder, transcriber, bridge, player,
		pipeline.Config{
			Language:     cfg.Pipeline.Language,
			Prompt:       cfg.Pipeline.Prompt,
			StageTimeout: cfg.Pipeline.StageTimeout,
			EchoTail:     speaker.Latency() + pipeline.DefaultEchoTail,
		},
		pipeline.WithLogger(log),
		pipeline.WithMetrics(metrics),
		pipeline.WithCycleHook(func(r pipeline.CycleReport) {
			log.Info("cycle complete",
				"cycle", r.Cycle,
				"outcome", r.Outcome,
				"utterance", r.Utterance,
				"stages", r.Stages,
			)
			if cycles != nil {
				if err := cycles.Append(r); err != nil {
					log.Warn("journal append failed", "err", err)
				}
			}
		}),
	)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })

	if cfg.Server.ListenAddr != "" {
		srv := newServer(cfg.Server.ListenAddr, tel.MetricsHandler, metrics, log,
			health.Checker{Name: "capture", Check: func(context.Context) error { return capture.Err() }},
			health.Checker{Name: "channel", Check: func(ctx context.Context) error {
				_, err := ch.Latest(ctx)
				return err
			}},
		)
		g.Go(func() error {
			log.Info("observability listener started", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	log.Info("listening, press Ctrl+C to stop")
	err = g.Wait()
	if d, ok := ch.(interface{ Wait() }); ok {
		// Let an in-flight direct completion finish its mirror post.
		d.Wait()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("relay stopped", "err", err)
		return 1
	}
	log.Info("goodbye")
	return 0
}

// poller builds the bridge's polling schedule. A multiplier above 1 selects
// geometric backoff capped at max_interval.
func poller(c config.ChannelConfig) channel.Poller {
	interval := c.PollInterval
	if interval <= 0 {
		interval = channel.DefaultPollInterval
	}
	if c.BackoffMultiplier > 1 {
		return channel.Backoff{Initial: interval, Multiplier: c.BackoffMultiplier, Max: c.MaxInterval}
	}
	return channel.FixedInterval(interval)
}

// newServer serves /metrics, /healthz and /readyz behind the request
// logging middleware, with a server span per request.
func newServer(addr string, metricsHandler http.Handler, m *observe.Metrics, log *slog.Logger, checkers ...health.Checker) *http.Server {
	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", metricsHandler)
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m, log)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func closeAll(log *slog.Logger, closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Warn("close provider", "err", err)
		}
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
