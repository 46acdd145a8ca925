package audio

import "fmt"

// Resampler converts a mono sample stream from one rate to another using
// linear interpolation. It is streaming: interpolation state is carried across
// calls so chunk boundaries introduce no discontinuities. Feed it fixed-size
// input chunks via Process; one Resampler serves one stream and is not safe
// for concurrent use.
type Resampler struct {
	inRate    int
	outRate   int
	chunkSize int

	step    float64
	phase   float64
	prev    float32
	hasPrev bool
}

// NewResampler creates a resampler converting inRate to outRate. chunkSize is
// the number of input samples per Process chunk; inputs must arrive in whole
// multiples of it.
func NewResampler(inRate, outRate, chunkSize int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", inRate, outRate)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("audio: invalid resampler chunk size %d", chunkSize)
	}
	return &Resampler{
		inRate:    inRate,
		outRate:   outRate,
		chunkSize: chunkSize,
		step:      float64(inRate) / float64(outRate),
	}, nil
}

// ChunkSize returns the required input chunk size in samples.
func (r *Resampler) ChunkSize() int {
	return r.chunkSize
}

// Process resamples input and returns the converted samples. The input length
// must be a multiple of ChunkSize. When the input and output rates match the
// input is copied through unchanged.
func (r *Resampler) Process(input []float32) ([]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	if len(input)%r.chunkSize != 0 {
		return nil, fmt.Errorf("audio: input length %d is not a multiple of chunk size %d", len(input), r.chunkSize)
	}
	if r.inRate == r.outRate {
		out := make([]float32, len(input))
		copy(out, input)
		return out, nil
	}

	// Extend the input with the carried sample so interpolation can cross the
	// previous chunk boundary.
	var ext []float32
	if r.hasPrev {
		ext = make([]float32, 0, len(input)+1)
		ext = append(ext, r.prev)
		ext = append(ext, input...)
	} else {
		ext = input
	}

	out := make([]float32, 0, len(input)*r.outRate/r.inRate+1)
	pos := r.phase
	for int(pos)+1 < len(ext) {
		i := int(pos)
		frac := float32(pos - float64(i))
		out = append(out, ext[i]*(1-frac)+ext[i+1]*frac)
		pos += r.step
	}

	r.prev = ext[len(ext)-1]
	r.hasPrev = true
	r.phase = pos - float64(len(ext)-1)
	return out, nil
}

// Reset clears the carried interpolation state. Use when the input stream is
// interrupted and restarted.
func (r *Resampler) Reset() {
	r.phase = 0
	r.prev = 0
	r.hasPrev = false
}
