package voice

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/zaf/resample"
)

// Waveform is decoded mono audio ready for storage or export.
type Waveform struct {
	Samples    []int16
	SampleRate int
}

// SampleCount returns the number of samples in the waveform.
func (w *Waveform) SampleCount() int {
	return len(w.Samples)
}

// WAV encodes the waveform as a mono 16-bit WAV file.
func (w *Waveform) WAV() ([]byte, error) {
	return EncodeWAV(w.Samples, w.SampleRate)
}

// DecodePCM16 converts raw 16-bit LE mono PCM into a Waveform, resampling
// when source and target rates differ. It is pure and stateless: the same
// input always yields the same output.
func DecodePCM16(raw []byte, sourceRate, targetRate int) (*Waveform, error) {
	if len(raw) == 0 {
		return nil, NewDecodeError("empty audio payload")
	}
	if len(raw)%2 != 0 {
		return nil, NewDecodeError(fmt.Sprintf("odd PCM16 payload length %d", len(raw)))
	}
	if sourceRate <= 0 || targetRate <= 0 {
		return nil, NewDecodeError(fmt.Sprintf("invalid sample rates %d -> %d", sourceRate, targetRate))
	}

	if sourceRate == targetRate {
		return &Waveform{Samples: pcmToSamples(raw), SampleRate: targetRate}, nil
	}

	var out bytes.Buffer
	r, err := resample.New(&out, float64(sourceRate), float64(targetRate), 1, resample.I16, resample.HighQ)
	if err != nil {
		return nil, NewDecodeError(fmt.Sprintf("create resampler: %v", err))
	}
	if _, err := r.Write(raw); err != nil {
		_ = r.Close()
		return nil, NewDecodeError(fmt.Sprintf("resample %d -> %d: %v", sourceRate, targetRate, err))
	}
	if err := r.Close(); err != nil {
		return nil, NewDecodeError(fmt.Sprintf("flush resampler: %v", err))
	}

	return &Waveform{Samples: pcmToSamples(out.Bytes()), SampleRate: targetRate}, nil
}

// wavHeader is the 44-byte canonical PCM WAV header.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV encodes mono PCM16 samples into a WAV file.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, NewDecodeError("cannot encode empty sample buffer")
	}
	if sampleRate <= 0 {
		return nil, NewDecodeError(fmt.Sprintf("invalid sample rate %d", sampleRate))
	}

	const numChannels = 1
	const bitsPerSample = 16
	dataSize := uint32(len(samples) * 2)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * numChannels * bitsPerSample / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("write WAV data: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWAV decodes a mono 16-bit PCM WAV file back into samples and the
// sample rate it was encoded at.
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < 44 {
		return nil, 0, NewDecodeError(fmt.Sprintf("WAV data too short: %d bytes", len(data)))
	}

	var header wavHeader
	reader := bytes.NewReader(data)
	if err := binary.Read(reader, binary.LittleEndian, &header); err != nil {
		return nil, 0, NewDecodeError(fmt.Sprintf("read WAV header: %v", err))
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE":
		return nil, 0, NewDecodeError("not a RIFF/WAVE file")
	case string(header.Subchunk1ID[:]) != "fmt " || string(header.Subchunk2ID[:]) != "data":
		return nil, 0, NewDecodeError("missing fmt or data chunk")
	case header.AudioFormat != 1:
		return nil, 0, NewDecodeError(fmt.Sprintf("unsupported audio format %d", header.AudioFormat))
	case header.BitsPerSample != 16:
		return nil, 0, NewDecodeError(fmt.Sprintf("unsupported bit depth %d", header.BitsPerSample))
	case header.NumChannels != 1:
		return nil, 0, NewDecodeError(fmt.Sprintf("unsupported channel count %d", header.NumChannels))
	}

	numSamples := int(header.Subchunk2Size) / 2
	if numSamples <= 0 || 44+numSamples*2 > len(data) {
		return nil, 0, NewDecodeError("WAV data chunk size mismatch")
	}

	samples := make([]int16, numSamples)
	if err := binary.Read(reader, binary.LittleEndian, samples); err != nil {
		return nil, 0, NewDecodeError(fmt.Sprintf("read WAV data: %v", err))
	}
	return samples, int(header.SampleRate), nil
}
