// Package config provides the configuration schema, loader, and file watcher
// for the voxd dictation daemon.
package config

import (
	"log/slog"

	"github.com/voxpipe/voxd/internal/models"
)

// LogLevel controls log verbosity for the daemon.
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

// SlogLevel maps l onto the slog level scale. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitialState selects the state the daemon enters once the engine is ready.
type InitialState string

const (
	// StatePaused keeps the microphone off until an explicit start.
	StatePaused InitialState = "paused"

	// StateListening turns the microphone on as soon as the engine is ready.
	StateListening InitialState = "listening"
)

// IsValid reports whether s is a recognised initial state.
func (s InitialState) IsValid() bool {
	return s == StatePaused || s == StateListening
}

// Config is the root configuration structure for voxd.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Daemon Daemon `yaml:"daemon"`
	Models Models `yaml:"models"`
	VAD    VAD    `yaml:"vad"`
	Audio  Audio  `yaml:"audio"`
}

// Daemon holds process-level settings.
type Daemon struct {
	// SocketPath is the unix socket the control API listens on.
	SocketPath string `yaml:"socket_path"`

	// PIDFile, when non-empty, is written with the daemon's pid on start.
	PIDFile string `yaml:"pid_file"`

	// InitialState selects paused or listening once the engine is ready.
	InitialState InitialState `yaml:"initial_state"`

	// LogLevel controls verbosity. Applied live on config reload.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr, when non-empty, is a TCP address serving /metrics for
	// Prometheus scraping. The unix socket serves /metrics regardless.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Models holds speech model settings.
type Models struct {
	// Dir is the directory model files are downloaded into.
	Dir string `yaml:"dir"`

	// Model selects the catalogued speech model (e.g. "whisper-base-en").
	Model models.ID `yaml:"model"`

	// FallbackModel, when set, is tried when transcription with Model fails
	// repeatedly. Typically a smaller model.
	FallbackModel models.ID `yaml:"fallback_model"`

	// Language is the transcription language, "auto" for detection.
	Language string `yaml:"language"`
}

// VAD holds the voice-activity segmentation parameters.
type VAD struct {
	// SpeechThreshold is the score at or above which a frame counts as
	// speech. Range (0, 1].
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceThreshold is the score below which a frame counts as silence.
	// Must not exceed SpeechThreshold; the gap between the two suppresses
	// chatter around a single noisy threshold.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// MinSpeechFrames is how many consecutive speech frames open an
	// utterance.
	MinSpeechFrames int `yaml:"min_speech_frames"`

	// MinSilenceFrames is how many consecutive silence frames close an
	// utterance.
	MinSilenceFrames int `yaml:"min_silence_frames"`
}

// Audio holds capture-side settings.
type Audio struct {
	// DumpDir, when non-empty, receives a WAV file per completed utterance.
	// Debugging aid; leave empty in normal use.
	DumpDir string `yaml:"dump_dir"`
}

// Default returns the configuration used when a field is absent from the
// loaded file.
func Default() *Config {
	return &Config{
		Daemon: Daemon{
			SocketPath:   "/tmp/voxd.sock",
			InitialState: StatePaused,
			LogLevel:     LogInfo,
		},
		Models: Models{
			Dir:      "models",
			Model:    models.WhisperBaseEn,
			Language: "auto",
		},
		VAD: VAD{
			SpeechThreshold:  0.5,
			SilenceThreshold: 0.35,
			MinSpeechFrames:  2,
			MinSilenceFrames: 8,
		},
	}
}
