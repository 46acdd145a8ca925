package audio

import (
	"math"
	"testing"
)

func TestNewResampler_InvalidArgs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name            string
		in, out, chunk  int
	}{
		{"zero input rate", 0, 16000, 1024},
		{"zero output rate", 48000, 0, 1024},
		{"negative chunk", 48000, 16000, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewResampler(tc.in, tc.out, tc.chunk); err == nil {
				t.Fatal("NewResampler should return error")
			}
		})
	}
}

func TestResampler_SameRatePassthrough(t *testing.T) {
	t.Parallel()

	r, err := NewResampler(16000, 16000, 4)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	in := []float32{0.1, 0.2, 0.3, 0.4}
	out, err := r.Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("output length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %f, want %f", i, out[i], in[i])
		}
	}
}

func TestResampler_RejectsPartialChunk(t *testing.T) {
	t.Parallel()

	r, err := NewResampler(48000, 16000, 8)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	if _, err := r.Process(make([]float32, 5)); err == nil {
		t.Fatal("Process should reject input that is not a chunk multiple")
	}
}

func TestResampler_DownsamplesToExpectedLength(t *testing.T) {
	t.Parallel()

	const chunk = 480
	r, err := NewResampler(48000, 16000, chunk)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}

	// Feed one second of audio in chunks; a 3:1 downsample should produce
	// close to 16000 output samples in total.
	total := 0
	for range 100 {
		out, err := r.Process(make([]float32, chunk))
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		total += len(out)
	}
	want := 16000
	if total < want-4 || total > want+4 {
		t.Errorf("total output samples = %d, want ~%d", total, want)
	}
}

func TestResampler_PreservesConstantSignal(t *testing.T) {
	t.Parallel()

	r, err := NewResampler(44100, 16000, 441)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	in := make([]float32, 441*4)
	for i := range in {
		in[i] = 0.5
	}
	out, err := r.Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("no output produced")
	}
	for i, s := range out {
		if math.Abs(float64(s)-0.5) > 1e-6 {
			t.Fatalf("out[%d] = %f, want 0.5", i, s)
		}
	}
}

func TestResampler_Reset(t *testing.T) {
	t.Parallel()

	r, err := NewResampler(48000, 16000, 6)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	if _, err := r.Process(make([]float32, 6)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	r.Reset()

	// After Reset the first output sample must equal the first input sample
	// again (no carry from the previous stream).
	in := []float32{0.9, 0.9, 0.9, 0.9, 0.9, 0.9}
	out, err := r.Process(in)
	if err != nil {
		t.Fatalf("Process after Reset: %v", err)
	}
	if len(out) == 0 || out[0] != 0.9 {
		t.Fatalf("first sample after Reset = %v, want 0.9", out)
	}
}
