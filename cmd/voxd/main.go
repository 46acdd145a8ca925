// Command voxd is the voxpipe dictation daemon. It captures microphone audio,
// segments it into utterances, transcribes them locally, and publishes the
// text over a unix-socket control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxpipe/voxd/internal/config"
	"github.com/voxpipe/voxd/internal/daemon"
	"github.com/voxpipe/voxd/internal/engine"
	"github.com/voxpipe/voxd/internal/models"
	"github.com/voxpipe/voxd/internal/observe"
	"github.com/voxpipe/voxd/internal/resilience"
	"github.com/voxpipe/voxd/internal/server"
	"github.com/voxpipe/voxd/internal/vad"
	"github.com/voxpipe/voxd/pkg/provider/stt"
	"github.com/voxpipe/voxd/pkg/provider/stt/whisper"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "voxd.yaml", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("voxd", version)
		return 0
	}

	// A missing config file is not an error for a daemon with sensible
	// defaults; anything else (unreadable, invalid YAML, bad values) is.
	cfg, err := config.Load(*configPath)
	haveConfigFile := true
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxd: %v\n", err)
			return 1
		}
		cfg = config.Default()
		haveConfigFile = false
	}

	// The level lives in a LevelVar so config reloads can adjust it without
	// rebuilding the logger.
	level := new(slog.LevelVar)
	level.Set(cfg.Daemon.LogLevel.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if !haveConfigFile {
		logger.Info("config file not found, using defaults", "path", *configPath)
	}
	logger.Info("voxd starting",
		"version", version,
		"socket", cfg.Daemon.SocketPath,
		"model", cfg.Models.Model,
		"initial_state", cfg.Daemon.InitialState,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxd",
		ServiceVersion: version,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown error", "err", err)
		}
	}()

	manager, err := models.NewManager(cfg.Models.Dir, models.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create model manager", "err", err)
		return 1
	}

	eng, err := buildEngine(cfg, manager, logger)
	if err != nil {
		logger.Error("failed to create engine", "err", err)
		return 1
	}

	ctrl := daemon.NewController(eng,
		daemon.WithControllerLogger(logger),
		daemon.WithAutoStart(cfg.Daemon.InitialState == config.StateListening),
	)

	runner, err := daemon.NewRunner(daemon.RunnerConfig{
		SocketPath:  cfg.Daemon.SocketPath,
		PIDFile:     cfg.Daemon.PIDFile,
		Model:       cfg.Models.Model,
		MetricsAddr: cfg.Daemon.MetricsAddr,
	}, ctrl, eng, daemon.WithRunnerLogger(logger))
	if err != nil {
		logger.Error("failed to create daemon runner", "err", err)
		return 1
	}

	srv := server.New(ctrl, runner,
		server.WithLogger(logger),
		server.WithModel(cfg.Models.Model),
	)

	// Config reloads apply the log level live; everything else needs a
	// restart and is only reported.
	if haveConfigFile {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				level.Set(d.NewLogLevel.SlogLevel())
				logger.Info("log level changed", "level", d.NewLogLevel)
			}
			for _, name := range d.RestartRequired {
				logger.Warn("config change requires restart to take effect", "setting", name)
			}
		})
		if err != nil {
			logger.Error("failed to watch config file", "err", err)
			return 1
		}
		defer watcher.Stop()
	}

	if err := runner.Run(ctx, srv.Handler()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon error", "err", err)
		return 1
	}
	logger.Info("goodbye")
	return 0
}

// buildEngine assembles the dictation pipeline from the config. When a
// fallback model is configured the transcriber is wrapped in a failover group
// so a repeatedly failing primary is bypassed for the smaller model.
func buildEngine(cfg *config.Config, manager *models.Manager, logger *slog.Logger) (*engine.Engine, error) {
	engCfg := engine.Config{
		Model:    cfg.Models.Model,
		Language: cfg.Models.Language,
		VAD: vad.Config{
			FrameSize:        vad.DefaultConfig().FrameSize,
			SpeechThreshold:  cfg.VAD.SpeechThreshold,
			SilenceThreshold: cfg.VAD.SilenceThreshold,
			MinSpeechFrames:  cfg.VAD.MinSpeechFrames,
			MinSilenceFrames: cfg.VAD.MinSilenceFrames,
		},
		DumpDir: cfg.Audio.DumpDir,
	}

	opts := []engine.Option{engine.WithLogger(logger)}
	if fb := cfg.Models.FallbackModel; fb != "" {
		opts = append(opts, engine.WithTranscriberFactory(func(modelPath string) (stt.Transcriber, error) {
			primary, err := whisper.New(modelPath, whisper.WithLanguage(cfg.Models.Language))
			if err != nil {
				return nil, err
			}
			fbPath, err := manager.Ensure(context.Background(), fb, nil)
			if err != nil {
				primary.Close()
				return nil, fmt.Errorf("ensure fallback model %q: %w", fb, err)
			}
			backup, err := whisper.New(fbPath, whisper.WithLanguage(cfg.Models.Language))
			if err != nil {
				primary.Close()
				return nil, err
			}
			group := resilience.NewSTTFallback(primary, string(cfg.Models.Model), resilience.FallbackConfig{
				CircuitBreaker: resilience.CircuitBreakerConfig{
					MaxFailures:  3,
					ResetTimeout: time.Minute,
				},
			})
			group.AddFallback(string(fb), backup)
			return group, nil
		}))
	}

	return engine.New(engCfg, manager, opts...)
}
