package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func assertSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	stereo := audio.MonoToStereo(samplesToBytes([]int16{100, 200, 300}))
	assertSamples(t, bytesToSamples(stereo), []int16{100, 100, 200, 200, 300, 300})
}

func TestMonoToStereo_OddLengthInput(t *testing.T) {
	t.Parallel()
	// 2 complete samples plus one trailing byte.
	stereo := audio.MonoToStereo([]byte{0x64, 0x00, 0xC8, 0x00, 0xFF})
	if len(stereo) != 8 {
		t.Fatalf("expected 8 bytes for 2 complete mono samples, got %d", len(stereo))
	}
	assertSamples(t, bytesToSamples(stereo), []int16{100, 100, 200, 200})
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []int16
		want []int16
	}{
		{name: "average", in: []int16{100, 200, -100, -200}, want: []int16{150, -150}},
		{name: "no overflow at max", in: []int16{32767, 32767}, want: []int16{32767}},
		{name: "no overflow at min", in: []int16{-32768, -32768}, want: []int16{-32768}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(audio.StereoToMono(samplesToBytes(tt.in)))
			assertSamples(t, got, tt.want)
		})
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	t.Run("same rate", func(t *testing.T) {
		pcm := samplesToBytes([]int16{100, 200, 300})
		if out := audio.ResampleMono16(pcm, 48000, 48000); len(out) != len(pcm) {
			t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
		}
	})

	t.Run("upsample", func(t *testing.T) {
		got := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{1000, 2000}), 16000, 48000))
		if len(got) != 6 {
			t.Fatalf("expected 6 samples, got %d", len(got))
		}
		if got[0] != 1000 {
			t.Errorf("first sample: got %d, want 1000", got[0])
		}
		if last := got[len(got)-1]; last < 1800 || last > 2200 {
			t.Errorf("last sample: got %d, want close to 2000", last)
		}
	})

	t.Run("downsample", func(t *testing.T) {
		got := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{100, 200, 300, 400, 500, 600}), 48000, 16000))
		if len(got) != 2 {
			t.Fatalf("expected 2 samples, got %d", len(got))
		}
	})

	t.Run("invalid rates pass through", func(t *testing.T) {
		pcm := samplesToBytes([]int16{100, 200})
		for _, rates := range [][2]int{{0, 48000}, {48000, 0}, {-1, 48000}} {
			if out := audio.ResampleMono16(pcm, rates[0], rates[1]); len(out) != len(pcm) {
				t.Errorf("rates %v: expected unchanged output, got len %d", rates, len(out))
			}
		}
	})
}

func TestResampleStereo16(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.ResampleStereo16(samplesToBytes([]int16{100, 200, 300, 400}), 16000, 48000))
	if len(got) != 12 {
		t.Fatalf("expected 12 samples, got %d", len(got))
	}
	// Channels must not bleed into each other.
	if got[0] != 100 || got[1] != 200 {
		t.Errorf("first frame = (%d, %d), want (100, 200)", got[0], got[1])
	}
}

func TestConvert_TTSToCapture(t *testing.T) {
	t.Parallel()
	// 24 kHz mono (remote synthesis) down to 16 kHz mono.
	pcm := make([]byte, 24000*2) // 1 s
	out := audio.Convert(pcm, audio.Format{SampleRate: 24000, Channels: 1}, audio.CaptureFormat)
	if want := 16000 * 2; len(out) != want {
		t.Errorf("len(out) = %d, want %d", len(out), want)
	}
}

func TestFormatConverter_NoOp(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
	pcm := samplesToBytes([]int16{100, 200})
	result := conv.Convert(pcm, audio.Format{SampleRate: 48000, Channels: 2})
	if &result[0] != &pcm[0] {
		t.Error("expected same slice (zero allocation) for matching format")
	}
}

func TestFormatConverter_MonoToStereo(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
	result := conv.Convert(samplesToBytes([]int16{100, 200, 300}), audio.Format{SampleRate: 48000, Channels: 1})
	assertSamples(t, bytesToSamples(result), []int16{100, 100, 200, 200, 300, 300})
}

func TestFormatConverter_FullConversion(t *testing.T) {
	t.Parallel()
	// 22050 Hz mono → 48000 Hz stereo
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
	got := bytesToSamples(conv.Convert(samplesToBytes([]int16{1000, 2000}), audio.Format{SampleRate: 22050, Channels: 1}))
	if len(got) == 0 {
		t.Fatal("expected non-empty output")
	}
	if len(got)%2 != 0 {
		t.Errorf("stereo output should have even number of samples, got %d", len(got))
	}
}

func TestFormatConverter_OddByteCount(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
	for _, src := range []audio.Format{
		{SampleRate: 22050, Channels: 1},
		{SampleRate: 48000, Channels: 1}, // matches target
	} {
		if result := conv.Convert([]byte{1, 2, 3}, src); len(result) != 0 {
			t.Errorf("src %s: expected empty data for odd byte count, got %d bytes", src, len(result))
		}
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	f := audio.CaptureFormat
	if got := f.BytesPerSecond(); got != 32000 {
		t.Errorf("BytesPerSecond() = %d, want 32000", got)
	}
	if got := f.Duration(32000); got.Seconds() != 1 {
		t.Errorf("Duration(32000) = %v, want 1s", got)
	}
	if got := (audio.Format{SampleRate: 48000, Channels: 2}).String(); got != "48000Hz stereo" {
		t.Errorf("String() = %q, want %q", got, "48000Hz stereo")
	}
	if !(audio.Format{}).IsZero() {
		t.Error("zero Format should report IsZero")
	}
	if got := (audio.Format{}).Duration(100); got != 0 {
		t.Errorf("invalid format Duration = %v, want 0", got)
	}
}

func TestFloat32Mono(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []float32
	}{
		{name: "empty", in: nil, channels: 1, want: []float32{}},
		{name: "full scale", in: []int16{32767, -32768, 0}, channels: 1, want: []float32{32767.0 / 32768.0, -1, 0}},
		{name: "stereo average", in: []int16{16384, -16384, 16384, 16384}, channels: 2, want: []float32{0, 0.5}},
		{name: "partial frame dropped", in: []int16{16384, 16384, 100}, channels: 2, want: []float32{0.5}},
		{name: "zero channels treated as mono", in: []int16{16384}, channels: 0, want: []float32{0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.Float32Mono(samplesToBytes(tt.in), tt.channels)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if d := got[i] - tt.want[i]; d > 1e-6 || d < -1e-6 {
					t.Errorf("sample %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
