package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Format describes interleaved little-endian PCM.
type Format struct {
	SampleRate  int
	SampleWidth int
	Channels    int
}

func (f Format) bytesPerSecond() int {
	return f.SampleRate * f.SampleWidth * f.Channels
}

// Duration returns the playback length of pcm in format f.
func Duration(pcm []byte, f Format) time.Duration {
	bps := f.bytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(len(pcm)) / float64(bps) * float64(time.Second))
}

// WritePCM encodes 16-bit pcm as a WAV stream into w.
func WritePCM(w io.WriteSeeker, pcm []byte, f Format) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           int16Samples(pcm),
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(w, f.SampleRate, 16, f.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// EncodeWAV returns a self-contained WAV clip of 16-bit pcm.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	out := &memFile{}
	if err := WritePCM(out, pcm, f); err != nil {
		return nil, err
	}
	return out.buf, nil
}

// DecodeWAV returns the samples of a PCM WAV clip and its source format.
func DecodeWAV(data []byte) (*goaudio.IntBuffer, Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, Format{}, errors.New("invalid wav data")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("decode wav: %w", err)
	}
	format := Format{
		SampleRate:  int(dec.SampleRate),
		SampleWidth: int(dec.BitDepth) / 8,
		Channels:    int(dec.NumChans),
	}
	return buf, format, nil
}

func int16Samples(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples
}

// memFile is an in-memory io.WriteSeeker for the WAV encoder, which seeks back
// to patch chunk sizes on Close.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(next)
	return next, nil
}
