package config_test

import (
	"strings"
	"testing"

	"github.com/voxpipe/voxd/internal/config"
	"github.com/voxpipe/voxd/internal/models"
)

const sampleYAML = `
daemon:
  socket_path: /run/voxd/voxd.sock
  pid_file: /run/voxd/voxd.pid
  initial_state: listening
  log_level: debug

models:
  dir: /var/lib/voxd/models
  model: whisper-small
  fallback_model: whisper-tiny
  language: en

vad:
  speech_threshold: 0.6
  silence_threshold: 0.4
  min_speech_frames: 3
  min_silence_frames: 10

audio:
  dump_dir: /tmp/voxd-dumps
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Daemon.SocketPath != "/run/voxd/voxd.sock" {
		t.Errorf("daemon.socket_path: got %q", cfg.Daemon.SocketPath)
	}
	if cfg.Daemon.InitialState != config.StateListening {
		t.Errorf("daemon.initial_state: got %q, want %q", cfg.Daemon.InitialState, config.StateListening)
	}
	if cfg.Daemon.LogLevel != config.LogDebug {
		t.Errorf("daemon.log_level: got %q, want %q", cfg.Daemon.LogLevel, config.LogDebug)
	}
	if cfg.Models.Model != models.WhisperSmall {
		t.Errorf("models.model: got %q, want %q", cfg.Models.Model, models.WhisperSmall)
	}
	if cfg.Models.FallbackModel != models.WhisperTiny {
		t.Errorf("models.fallback_model: got %q, want %q", cfg.Models.FallbackModel, models.WhisperTiny)
	}
	if cfg.Models.Language != "en" {
		t.Errorf("models.language: got %q, want %q", cfg.Models.Language, "en")
	}
	if cfg.VAD.SpeechThreshold != 0.6 {
		t.Errorf("vad.speech_threshold: got %v, want 0.6", cfg.VAD.SpeechThreshold)
	}
	if cfg.VAD.MinSilenceFrames != 10 {
		t.Errorf("vad.min_silence_frames: got %d, want 10", cfg.VAD.MinSilenceFrames)
	}
	if cfg.Audio.DumpDir != "/tmp/voxd-dumps" {
		t.Errorf("audio.dump_dir: got %q", cfg.Audio.DumpDir)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}

	def := config.Default()
	if cfg.Daemon.SocketPath != def.Daemon.SocketPath {
		t.Errorf("socket_path: got %q, want default %q", cfg.Daemon.SocketPath, def.Daemon.SocketPath)
	}
	if cfg.Models.Model != def.Models.Model {
		t.Errorf("model: got %q, want default %q", cfg.Models.Model, def.Models.Model)
	}
	if cfg.VAD != def.VAD {
		t.Errorf("vad: got %+v, want default %+v", cfg.VAD, def.VAD)
	}
}

func TestLoadFromReader_PartialKeepsDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
models:
  model: whisper-tiny
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Models.Model != models.WhisperTiny {
		t.Errorf("model: got %q, want %q", cfg.Models.Model, models.WhisperTiny)
	}
	// Untouched sections keep their defaults.
	if cfg.Daemon.SocketPath != config.Default().Daemon.SocketPath {
		t.Errorf("socket_path should be default, got %q", cfg.Daemon.SocketPath)
	}
	if cfg.VAD.MinSilenceFrames != config.Default().VAD.MinSilenceFrames {
		t.Errorf("min_silence_frames should be default, got %d", cfg.VAD.MinSilenceFrames)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
daemon:
  sokcet_path: /tmp/typo.sock
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()
	if err := config.Validate(config.Default()); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantSub string
	}{
		{
			name:    "empty socket path",
			mutate:  func(c *config.Config) { c.Daemon.SocketPath = "" },
			wantSub: "socket_path",
		},
		{
			name:    "invalid initial state",
			mutate:  func(c *config.Config) { c.Daemon.InitialState = "standby" },
			wantSub: "initial_state",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *config.Config) { c.Daemon.LogLevel = "verbose" },
			wantSub: "log_level",
		},
		{
			name:    "empty models dir",
			mutate:  func(c *config.Config) { c.Models.Dir = "" },
			wantSub: "models.dir",
		},
		{
			name:    "unknown model",
			mutate:  func(c *config.Config) { c.Models.Model = "whisper-gigantic" },
			wantSub: "models.model",
		},
		{
			name:    "unknown fallback model",
			mutate:  func(c *config.Config) { c.Models.FallbackModel = "whisper-gigantic" },
			wantSub: "fallback_model",
		},
		{
			name:    "fallback equals primary",
			mutate:  func(c *config.Config) { c.Models.FallbackModel = c.Models.Model },
			wantSub: "must differ",
		},
		{
			name:    "speech threshold too high",
			mutate:  func(c *config.Config) { c.VAD.SpeechThreshold = 1.5 },
			wantSub: "speech_threshold",
		},
		{
			name:    "silence threshold zero",
			mutate:  func(c *config.Config) { c.VAD.SilenceThreshold = 0 },
			wantSub: "silence_threshold",
		},
		{
			name: "silence above speech",
			mutate: func(c *config.Config) {
				c.VAD.SpeechThreshold = 0.4
				c.VAD.SilenceThreshold = 0.6
			},
			wantSub: "exceeds",
		},
		{
			name:    "zero speech frames",
			mutate:  func(c *config.Config) { c.VAD.MinSpeechFrames = 0 },
			wantSub: "min_speech_frames",
		},
		{
			name:    "negative silence frames",
			mutate:  func(c *config.Config) { c.VAD.MinSilenceFrames = -1 },
			wantSub: "min_silence_frames",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tc.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error should mention %q, got: %v", tc.wantSub, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Daemon.SocketPath = ""
	cfg.Models.Model = "nope"
	cfg.VAD.MinSpeechFrames = 0

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, sub := range []string{"socket_path", "models.model", "min_speech_frames"} {
		if !strings.Contains(err.Error(), sub) {
			t.Errorf("joined error should mention %q, got: %v", sub, err)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	t.Parallel()
	if got := config.LogDebug.SlogLevel().String(); got != "DEBUG" {
		t.Errorf("debug: got %q", got)
	}
	if got := config.LogError.SlogLevel().String(); got != "ERROR" {
		t.Errorf("error: got %q", got)
	}
	// Unknown values fall back to info.
	if got := config.LogLevel("bananas").SlogLevel().String(); got != "INFO" {
		t.Errorf("unknown: got %q", got)
	}
}
