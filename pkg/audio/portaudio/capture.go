// Package portaudio implements [audio.Source] on top of the PortAudio
// callback API. The default input device is opened at its native sample rate;
// samples are buffered on an internal channel and drained by the engine run
// loop via TryRecv.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	palib "github.com/gordonklaus/portaudio"

	"github.com/voxpipe/voxd/pkg/audio"
)

// bufferedChunks bounds the number of callback chunks held between drains.
// At the default callback size this is several seconds of audio; overflowing
// it means the run loop has stalled, and older chunks are dropped.
const bufferedChunks = 64

// Source opens the default PortAudio input device. The zero value is ready to
// use; one Source may be reused across repeated Start/Stop cycles.
type Source struct{}

// Compile-time assertion that Source satisfies audio.Source.
var _ audio.Source = (*Source)(nil)

// Start initialises PortAudio, opens the default input device at its native
// rate, and begins streaming samples into an internal buffer.
func (s *Source) Start() (audio.CaptureHandle, error) {
	if err := palib.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	dev, err := palib.DefaultInputDevice()
	if err != nil {
		_ = palib.Terminate()
		return nil, fmt.Errorf("portaudio: no input device: %w", err)
	}

	sampleRate := int(dev.DefaultSampleRate)
	channels := dev.MaxInputChannels
	if channels > 2 {
		channels = 2
	}

	h := &handle{
		sampleRate: sampleRate,
		channels:   channels,
		chunks:     make(chan []float32, bufferedChunks),
	}

	stream, err := palib.OpenDefaultStream(channels, 0, dev.DefaultSampleRate, 0, h.onAudio)
	if err != nil {
		_ = palib.Terminate()
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	h.stream = stream

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = palib.Terminate()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}

	slog.Debug("portaudio capture started",
		"device", dev.Name,
		"sample_rate", sampleRate,
		"channels", channels,
	)
	return h, nil
}

// handle is an open PortAudio capture stream.
type handle struct {
	stream     *palib.Stream
	sampleRate int
	channels   int
	chunks     chan []float32

	stopOnce sync.Once
	stopErr  error
}

// onAudio is the PortAudio callback. It must not block: when the buffer is
// full the oldest chunk is dropped to make room.
func (h *handle) onAudio(in []float32) {
	chunk := make([]float32, len(in))
	copy(chunk, in)
	for {
		select {
		case h.chunks <- chunk:
			return
		default:
			select {
			case <-h.chunks:
			default:
			}
		}
	}
}

// SampleRate returns the native rate of the input device.
func (h *handle) SampleRate() int {
	return h.sampleRate
}

// TryRecv drains all buffered chunks, down-mixed to mono, without blocking.
func (h *handle) TryRecv() []float32 {
	var all []float32
	for {
		select {
		case chunk := <-h.chunks:
			all = append(all, chunk...)
		default:
			if all == nil {
				return nil
			}
			return audio.ToMono(all, h.channels)
		}
	}
}

// Stop closes the stream and releases PortAudio. Safe to call repeatedly.
func (h *handle) Stop() error {
	h.stopOnce.Do(func() {
		var errs []error
		if err := h.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
		}
		if err := h.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
		}
		if err := palib.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
		}
		h.stopErr = errors.Join(errs...)
	})
	return h.stopErr
}
