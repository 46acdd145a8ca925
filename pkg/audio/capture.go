// Package audio defines the types and interfaces for microphone capture and
// sample-rate conversion in the voxd pipeline.
//
// The two capture abstractions are:
//
//   - [Source] — opens the input device and returns a [CaptureHandle].
//   - [CaptureHandle] — an active capture stream, drained non-blockingly by
//     the engine's run loop and released with Stop.
//
// Implementations live in adapter subpackages (e.g. audio/portaudio); test
// doubles live in audio/mock. The interfaces are intentionally narrow so the
// engine never sees device, host-API, or callback details.
package audio

// CaptureHandle represents an open capture stream on the input device.
//
// A handle is obtained from [Source.Start] and remains valid until Stop is
// called. TryRecv is called from a single goroutine (the engine run loop);
// implementations do not need to support concurrent drains, but Stop may be
// called from a different goroutine than TryRecv.
type CaptureHandle interface {
	// SampleRate returns the native sample rate of the device in Hz.
	// The rate is fixed for the lifetime of the handle.
	SampleRate() int

	// TryRecv drains all samples buffered since the previous call without
	// blocking. The returned slice contains mono samples at the native rate;
	// nil means no audio has arrived yet. The caller owns the returned slice.
	TryRecv() []float32

	// Stop closes the stream and releases the device. After Stop returns the
	// device is free for other processes; TryRecv returns nil from then on.
	// Calling Stop more than once is safe and returns nil.
	Stop() error
}

// Source opens the audio input device.
//
// Start acquires the device exclusively; a second Start before Stop on the
// previous handle is implementation-defined and typically fails. Errors from
// Start are fatal to the caller — permission denials and missing devices are
// not retried at this layer.
type Source interface {
	// Start opens the default input device and begins buffering samples.
	// Returns an error if the device is unavailable or access is denied.
	Start() (CaptureHandle, error)
}
