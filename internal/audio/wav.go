package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrInvalidWAV is returned for data that is not mono PCM-16 RIFF/WAVE
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

const wavHeaderSize = 44

// WAVHeader is the canonical 44-byte header written by EncodeWAV
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// EncodeWAV encodes a buffer as a mono PCM-16 WAV file
func EncodeWAV(buf Buffer) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(wavHeaderSize + len(buf.Samples)*2)
	if err := WriteWAV(&out, buf); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// WriteWAV writes a buffer to w as a mono PCM-16 WAV file
func WriteWAV(w io.Writer, buf Buffer) error {
	if len(buf.Samples) == 0 {
		return fmt.Errorf("cannot encode empty audio samples")
	}
	if buf.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", buf.SampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(buf.Samples) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(buf.SampleRate),
		ByteRate:      uint32(buf.SampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, buf.Samples); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	return nil
}

// DecodeWAV decodes a mono PCM-16 WAV file. Chunks other than "fmt " and
// "data" (LIST, fact, ...) are skipped.
func DecodeWAV(data []byte) (Buffer, error) {
	format, pcm, err := parseChunks(data)
	if err != nil {
		return Buffer{}, err
	}

	if format.AudioFormat != 1 {
		return Buffer{}, fmt.Errorf("%w: unsupported audio format %d (only PCM is supported)", ErrInvalidWAV, format.AudioFormat)
	}
	if format.BitsPerSample != 16 {
		return Buffer{}, fmt.Errorf("%w: unsupported bit depth %d (only 16-bit is supported)", ErrInvalidWAV, format.BitsPerSample)
	}
	if format.NumChannels != 1 {
		return Buffer{}, fmt.Errorf("%w: unsupported channel count %d (only mono is supported)", ErrInvalidWAV, format.NumChannels)
	}
	if format.SampleRate == 0 {
		return Buffer{}, fmt.Errorf("%w: sample rate is zero", ErrInvalidWAV)
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return Buffer{Samples: samples, SampleRate: int(format.SampleRate)}, nil
}

// ReadWAVFile decodes the WAV file at path
func ReadWAVFile(path string) (Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Buffer{}, fmt.Errorf("failed to read WAV file: %w", err)
	}
	return DecodeWAV(data)
}

// ValidateWAV checks the RIFF structure without decoding the samples
func ValidateWAV(data []byte) error {
	_, _, err := parseChunks(data)
	return err
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	format, pcm, err := parseChunks(data)
	if err != nil {
		return nil, err
	}

	info := &WAVInfo{
		SampleRate:    format.SampleRate,
		Channels:      format.NumChannels,
		BitsPerSample: format.BitsPerSample,
		DataSize:      uint32(len(pcm)),
	}
	if frame := uint32(format.NumChannels) * uint32(format.BitsPerSample) / 8; frame > 0 {
		info.NumSamples = info.DataSize / frame
	}
	if format.SampleRate > 0 {
		info.Duration = float64(info.NumSamples) / float64(format.SampleRate)
	}
	return info, nil
}

type wavFormat struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// parseChunks walks the RIFF chunk list and returns the format chunk and the
// raw data chunk
func parseChunks(data []byte) (wavFormat, []byte, error) {
	var format wavFormat

	if len(data) < 12 {
		return format, nil, fmt.Errorf("%w: need at least 12 bytes, got %d", ErrInvalidWAV, len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return format, nil, fmt.Errorf("%w: missing RIFF header", ErrInvalidWAV)
	}
	if string(data[8:12]) != "WAVE" {
		return format, nil, fmt.Errorf("%w: missing WAVE format", ErrInvalidWAV)
	}

	var (
		haveFormat bool
		pcm        []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := data[off+8:]
		if size > len(body) {
			// Truncated files still carry usable samples in the data chunk
			if id != "data" {
				return format, nil, fmt.Errorf("%w: chunk %q truncated", ErrInvalidWAV, id)
			}
			size = len(body)
		}
		body = body[:size]

		switch id {
		case "fmt ":
			if size < 16 {
				return format, nil, fmt.Errorf("%w: fmt chunk too short", ErrInvalidWAV)
			}
			if err := binary.Read(bytes.NewReader(body[:16]), binary.LittleEndian, &format); err != nil {
				return format, nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
			}
			haveFormat = true
		case "data":
			pcm = body
		}

		off += 8 + size + size%2
	}

	if !haveFormat {
		return format, nil, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
	}
	if pcm == nil {
		return format, nil, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
	}
	return format, pcm, nil
}
