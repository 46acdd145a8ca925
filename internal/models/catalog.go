package models

import "fmt"

// whisperBaseURL is where the ggml whisper models are published.
const whisperBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// ID identifies a downloadable speech model.
type ID string

const (
	WhisperTiny         ID = "whisper-tiny"
	WhisperTinyEn       ID = "whisper-tiny-en"
	WhisperBase         ID = "whisper-base"
	WhisperBaseEn       ID = "whisper-base-en"
	WhisperSmall        ID = "whisper-small"
	WhisperSmallEn      ID = "whisper-small-en"
	WhisperMedium       ID = "whisper-medium"
	WhisperMediumEn     ID = "whisper-medium-en"
	WhisperLargeV3      ID = "whisper-large-v3"
	WhisperLargeV3Turbo ID = "whisper-large-v3-turbo"
)

// Info describes one model in the catalog.
type Info struct {
	// Filename is the on-disk name inside the models directory.
	Filename string

	// URL is where the model is downloaded from.
	URL string

	// SizeBytes is the expected file size, used for integrity checks.
	// Zero means the size is not known in advance.
	SizeBytes int64
}

// catalog maps every known model ID to its download metadata. Sizes are the
// published ggml file sizes.
var catalog = map[ID]Info{
	WhisperTiny:         ggml("ggml-tiny.bin", 77_691_713),
	WhisperTinyEn:       ggml("ggml-tiny.en.bin", 77_704_715),
	WhisperBase:         ggml("ggml-base.bin", 147_951_465),
	WhisperBaseEn:       ggml("ggml-base.en.bin", 147_964_211),
	WhisperSmall:        ggml("ggml-small.bin", 487_601_967),
	WhisperSmallEn:      ggml("ggml-small.en.bin", 487_614_201),
	WhisperMedium:       ggml("ggml-medium.bin", 1_533_774_781),
	WhisperMediumEn:     ggml("ggml-medium.en.bin", 1_533_774_781),
	WhisperLargeV3:      ggml("ggml-large-v3.bin", 3_094_623_691),
	WhisperLargeV3Turbo: ggml("ggml-large-v3-turbo.bin", 1_624_555_275),
}

func ggml(filename string, size int64) Info {
	return Info{
		Filename:  filename,
		URL:       fmt.Sprintf("%s/%s", whisperBaseURL, filename),
		SizeBytes: size,
	}
}

// Lookup returns the catalog entry for id.
func Lookup(id ID) (Info, error) {
	info, ok := catalog[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: unknown model %q", ErrMissing, id)
	}
	return info, nil
}

// IsValid reports whether id names a catalogued model.
func IsValid(id ID) bool {
	_, ok := catalog[id]
	return ok
}
