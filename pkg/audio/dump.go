package audio

import (
	"fmt"
	"os"
	"path/filepath"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// DumpWAV writes the buffer to dir as a 16-bit mono WAV file with a generated
// name and returns the file path. Used for utterance debugging; callers treat
// failures as non-fatal.
func DumpWAV(dir string, buf Buffer) (string, error) {
	if buf.Empty() {
		return "", fmt.Errorf("audio: refusing to dump empty buffer")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("audio: create dump dir %q: %w", dir, err)
	}

	path := filepath.Join(dir, "utterance-"+uuid.NewString()+".wav")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("audio: create %q: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, buf.SampleRate, 16, 1, 1)
	samples := Float32ToInt16(buf.Samples)
	ib := &gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: 1,
			SampleRate:  buf.SampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		ib.Data[i] = int(s)
	}
	if err := enc.Write(ib); err != nil {
		enc.Close()
		return "", fmt.Errorf("audio: write wav %q: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("audio: close wav %q: %w", path, err)
	}
	return path, nil
}
