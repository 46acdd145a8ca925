package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voxpipe/voxd/internal/models"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, fills absent fields from
// [Default], and validates the result. Unknown fields are rejected so typos
// fail loudly instead of being silently ignored.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Daemon
	if cfg.Daemon.SocketPath == "" {
		errs = append(errs, errors.New("daemon.socket_path must not be empty"))
	}
	if cfg.Daemon.InitialState != "" && !cfg.Daemon.InitialState.IsValid() {
		errs = append(errs, fmt.Errorf("daemon.initial_state %q is invalid; valid values: paused, listening", cfg.Daemon.InitialState))
	}
	if cfg.Daemon.LogLevel != "" && !cfg.Daemon.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("daemon.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Daemon.LogLevel))
	}

	// Models
	if cfg.Models.Dir == "" {
		errs = append(errs, errors.New("models.dir must not be empty"))
	}
	if !models.IsValid(cfg.Models.Model) {
		errs = append(errs, fmt.Errorf("models.model %q is not a known model", cfg.Models.Model))
	}
	if cfg.Models.FallbackModel != "" {
		if !models.IsValid(cfg.Models.FallbackModel) {
			errs = append(errs, fmt.Errorf("models.fallback_model %q is not a known model", cfg.Models.FallbackModel))
		}
		if cfg.Models.FallbackModel == cfg.Models.Model {
			errs = append(errs, errors.New("models.fallback_model must differ from models.model"))
		}
	}

	// VAD
	if cfg.VAD.SpeechThreshold <= 0 || cfg.VAD.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %v is outside (0, 1]", cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.SilenceThreshold <= 0 || cfg.VAD.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %v is outside (0, 1]", cfg.VAD.SilenceThreshold))
	}
	if cfg.VAD.SilenceThreshold > cfg.VAD.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %v exceeds vad.speech_threshold %v", cfg.VAD.SilenceThreshold, cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.MinSpeechFrames < 1 {
		errs = append(errs, fmt.Errorf("vad.min_speech_frames %d must be at least 1", cfg.VAD.MinSpeechFrames))
	}
	if cfg.VAD.MinSilenceFrames < 1 {
		errs = append(errs, fmt.Errorf("vad.min_silence_frames %d must be at least 1", cfg.VAD.MinSilenceFrames))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
