package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/youpy/go-wav"
)

const (
	MIMEMpeg = "audio/mpeg"
	MIMEWav  = "audio/wav"
	MIMEOgg  = "audio/ogg"
	MIMEFlac = "audio/flac"
	MIMEMP4  = "audio/mp4"
)

// Format describes a PCM stream.
type Format struct {
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
}

type WavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// WriteWavHeader writes a canonical 44 byte PCM header for dataSize bytes of
// samples in the given format.
func WriteWavHeader(w io.Writer, f Format, dataSize uint32) error {
	header := WavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     dataSize + 36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   f.Channels,
		SampleRate:    f.SampleRate,
		ByteRate:      f.SampleRate * uint32(f.Channels) * uint32(f.BitsPerSample) / 8,
		BlockAlign:    f.Channels * f.BitsPerSample / 8,
		BitsPerSample: f.BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	return binary.Write(w, binary.LittleEndian, header)
}

// EncodeWav wraps interleaved 16-bit samples in a WAV container.
func EncodeWav(f Format, samples []int16) ([]byte, error) {
	f.BitsPerSample = 16
	var buf bytes.Buffer
	if err := WriteWavHeader(&buf, f, uint32(len(samples)*2)); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write WAV samples: %w", err)
	}
	return buf.Bytes(), nil
}

// SniffMIME guesses the container type from the leading bytes. It returns
// an empty string when nothing matches.
func SniffMIME(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return MIMEWav
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return MIMEOgg
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return MIMEFlac
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return MIMEMP4
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return MIMEMpeg
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return MIMEMpeg
	}
	return ""
}

// Info is what Probe learns about an audio payload.
type Info struct {
	MIME     string
	Format   Format
	Duration time.Duration
}

var ErrNotWav = errors.New("audio: not a WAV payload")

// Probe sniffs the payload type and, for WAV payloads, reads the format chunk
// and duration.
func Probe(data []byte) (Info, error) {
	info := Info{MIME: SniffMIME(data)}
	if info.MIME != MIMEWav {
		return info, nil
	}

	reader := wav.NewReader(bytes.NewReader(data))
	format, err := reader.Format()
	if err != nil {
		return info, fmt.Errorf("failed to read WAV format: %w", err)
	}
	info.Format = Format{
		SampleRate:    format.SampleRate,
		Channels:      format.NumChannels,
		BitsPerSample: format.BitsPerSample,
	}

	duration, err := reader.Duration()
	if err != nil {
		return info, fmt.Errorf("failed to read WAV duration: %w", err)
	}
	info.Duration = duration
	return info, nil
}

// PCM is decoded interleaved 16-bit audio.
type PCM struct {
	Format  Format
	Samples []int16
}

// Frames returns the number of sample frames.
func (p *PCM) Frames() int {
	if p.Format.Channels == 0 {
		return 0
	}
	return len(p.Samples) / int(p.Format.Channels)
}

// Duration returns the playback length at 1x speed.
func (p *PCM) Duration() time.Duration {
	if p.Format.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(p.Frames()) / float64(p.Format.SampleRate) * float64(time.Second))
}

// DecodeWav reads every sample of a WAV payload. Only the first two channels
// are kept.
func DecodeWav(data []byte) (*PCM, error) {
	if SniffMIME(data) != MIMEWav {
		return nil, ErrNotWav
	}

	reader := wav.NewReader(bytes.NewReader(data))
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV format: %w", err)
	}

	channels := format.NumChannels
	if channels > 2 {
		channels = 2
	}
	pcm := &PCM{Format: Format{
		SampleRate:    format.SampleRate,
		Channels:      channels,
		BitsPerSample: 16,
	}}

	for {
		samples, err := reader.ReadSamples()
		for _, s := range samples {
			for ch := 0; ch < int(channels); ch++ {
				pcm.Samples = append(pcm.Samples, toInt16(reader.IntValue(s, uint(ch)), format.BitsPerSample))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read WAV samples: %w", err)
		}
	}
	return pcm, nil
}

func toInt16(v int, bits uint16) int16 {
	switch {
	case bits == 8:
		return int16((v - 128) << 8)
	case bits > 16:
		return int16(v >> (bits - 16))
	}
	return int16(v)
}
