package voice

import (
	"bytes"
	"math"
	"testing"
)

func pcmFromSamples(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		pcm[i*2] = byte(s & 0xFF)
		pcm[i*2+1] = byte((s >> 8) & 0xFF)
	}
	return pcm
}

func TestCalculateRMSEnergy(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{
			name:     "silence",
			samples:  []int16{0, 0, 0, 0},
			expected: 0.0,
		},
		{
			name:     "max amplitude",
			samples:  []int16{32767, 32767, 32767, 32767},
			expected: 1.0,
		},
		{
			name:     "half amplitude",
			samples:  []int16{16384, 16384, 16384, 16384},
			expected: 0.5,
		},
		{
			name:     "mixed signal",
			samples:  []int16{16384, -16384, 16384, -16384},
			expected: 0.5,
		},
		{
			name:     "empty",
			samples:  nil,
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateRMSEnergy(pcmFromSamples(tt.samples))
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("expected RMS %.3f, got %.3f", tt.expected, result)
			}
		})
	}
}

func TestCalculatePeakAmplitude(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{
			name:     "silence",
			samples:  []int16{0, 0, 0, 0},
			expected: 0.0,
		},
		{
			name:     "positive peak",
			samples:  []int16{0, 16384, 0, 0},
			expected: 0.5,
		},
		{
			name:     "negative peak",
			samples:  []int16{0, -32768, 0, 0},
			expected: 1.0,
		},
		{
			name:     "empty",
			samples:  nil,
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculatePeakAmplitude(pcmFromSamples(tt.samples))
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("expected peak %.3f, got %.3f", tt.expected, result)
			}
		})
	}
}

func TestAudioBufferTrimsOldest(t *testing.T) {
	// 10ms bound at 24kHz mono 16-bit = 480 bytes.
	buf := NewAudioBuffer(DefaultAudioConfig(), 10)

	first := bytes.Repeat([]byte{1, 0}, 200) // 400 bytes
	second := bytes.Repeat([]byte{2, 0}, 100)
	buf.Write(first)
	buf.Write(second) // total 600, oldest 120 bytes trimmed

	if got := buf.Len(); got != 480 {
		t.Fatalf("expected 480 bytes after trim, got %d", got)
	}
	data := buf.Read()
	if data[0] != 1 {
		t.Errorf("expected remaining head of first write, got %d", data[0])
	}
	if data[len(data)-2] != 2 {
		t.Errorf("expected tail of second write, got %d", data[len(data)-2])
	}
}

func TestAudioBufferClear(t *testing.T) {
	buf := NewAudioBuffer(DefaultAudioConfig(), 100)
	buf.Write([]byte{1, 2, 3, 4})
	buf.Clear()
	if buf.Len() != 0 {
		t.Errorf("expected empty buffer after Clear, got %d bytes", buf.Len())
	}
}

func TestPCMSampleRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	got := pcmToSamples(samplesToPCM(samples))
	if len(got) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(got))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}
}
