// Package models resolves speech model files on disk, downloading them from
// their upstream source when they are not present yet.
package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

var (
	// ErrMissing is returned when a model is not catalogued or not yet
	// downloaded and downloads are disabled.
	ErrMissing = errors.New("model missing")

	// ErrCorrupted is returned when a downloaded model file does not match
	// its expected size.
	ErrCorrupted = errors.New("model corrupted")
)

// Progress reports download progress for one model.
type Progress struct {
	Model      ID
	Downloaded int64
	Total      int64 // zero when the total size is unknown
}

// ProgressFunc receives download progress updates. Implementations must be
// fast; they are called from the download loop.
type ProgressFunc func(Progress)

// Manager locates and downloads speech models inside a single directory.
type Manager struct {
	fs     afero.Fs
	dir    string
	client *http.Client
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithFs overrides the filesystem, mainly for tests.
func WithFs(fs afero.Fs) Option {
	return func(m *Manager) { m.fs = fs }
}

// WithHTTPClient overrides the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager storing models under dir.
func NewManager(dir string, opts ...Option) (*Manager, error) {
	if dir == "" {
		return nil, errors.New("models: directory must not be empty")
	}
	m := &Manager{
		fs:     afero.NewOsFs(),
		dir:    dir,
		client: &http.Client{Timeout: 30 * time.Minute},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Path returns the on-disk path a model would occupy, whether or not it is
// downloaded.
func (m *Manager) Path(id ID) (string, error) {
	info, err := Lookup(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.dir, info.Filename), nil
}

// Exists reports whether the model file is already present and passes the
// size check.
func (m *Manager) Exists(id ID) (bool, error) {
	info, err := Lookup(id)
	if err != nil {
		return false, err
	}
	stat, err := m.fs.Stat(filepath.Join(m.dir, info.Filename))
	if err != nil {
		return false, nil
	}
	if info.SizeBytes > 0 && stat.Size() != info.SizeBytes {
		return false, nil
	}
	return true, nil
}

// Ensure returns the path to the model file, downloading it first when it is
// not present. A partially written file never becomes visible under the final
// name; downloads go through a temporary file and a rename.
func (m *Manager) Ensure(ctx context.Context, id ID, onProgress ProgressFunc) (string, error) {
	info, err := Lookup(id)
	if err != nil {
		return "", err
	}
	path := filepath.Join(m.dir, info.Filename)

	ok, err := m.Exists(id)
	if err != nil {
		return "", err
	}
	if ok {
		return path, nil
	}

	if err := m.fs.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating models directory: %w", err)
	}
	if err := m.download(ctx, info, id, path, onProgress); err != nil {
		return "", err
	}
	return path, nil
}

func (m *Manager) download(ctx context.Context, info Info, id ID, path string, onProgress ProgressFunc) error {
	m.logger.Info("downloading model", "model", id, "url", info.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return fmt.Errorf("building download request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading model %q: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading model %q: unexpected status %s", id, resp.Status)
	}

	total := info.SizeBytes
	if total == 0 && resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	tmpPath := path + ".partial"
	tmp, err := m.fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temporary model file: %w", err)
	}

	written, copyErr := m.copyWithProgress(ctx, tmp, resp.Body, id, total, onProgress)
	closeErr := tmp.Close()
	if copyErr != nil {
		m.fs.Remove(tmpPath)
		return copyErr
	}
	if closeErr != nil {
		m.fs.Remove(tmpPath)
		return fmt.Errorf("closing temporary model file: %w", closeErr)
	}
	if info.SizeBytes > 0 && written != info.SizeBytes {
		m.fs.Remove(tmpPath)
		return fmt.Errorf("%w: model %q is %d bytes, expected %d", ErrCorrupted, id, written, info.SizeBytes)
	}
	if err := m.fs.Rename(tmpPath, path); err != nil {
		m.fs.Remove(tmpPath)
		return fmt.Errorf("moving model into place: %w", err)
	}

	m.logger.Info("model downloaded", "model", id, "bytes", written)
	return nil
}

func (m *Manager) copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, id ID, total int64, onProgress ProgressFunc) (int64, error) {
	var written int64
	buf := make([]byte, 1<<20)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("writing model data: %w", err)
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(Progress{Model: id, Downloaded: written, Total: total})
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("reading model data: %w", readErr)
		}
	}
}
