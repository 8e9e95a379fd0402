package audio

import (
	"encoding/binary"
	"fmt"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/transforms"
	"github.com/loqalabs/loqa-asr/internal/protocol"
)

// Normalize converts an incoming frame to 16-bit PCM in the target format.
// WAV payloads are decoded first; raw PCM without a declared format is assumed
// to already match target.
func Normalize(payload protocol.AudioPayload, target Format) ([]byte, error) {
	if target.SampleWidth != 2 {
		return nil, fmt.Errorf("unsupported target sample width %d", target.SampleWidth)
	}
	if len(payload.WAV) > 0 {
		buf, source, err := DecodeWAV(payload.WAV)
		if err != nil {
			return nil, err
		}
		return convert(buf.Data, source, target)
	}

	source := Format{
		SampleRate:  orDefault(payload.SampleRate, target.SampleRate),
		SampleWidth: orDefault(payload.SampleWidth, target.SampleWidth),
		Channels:    orDefault(payload.Channels, target.Channels),
	}
	if source == target {
		return append([]byte(nil), payload.PCM...), nil
	}
	samples, err := decodePCM(payload.PCM, source.SampleWidth)
	if err != nil {
		return nil, err
	}
	return convert(samples, source, target)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func decodePCM(pcm []byte, width int) ([]int, error) {
	if width <= 0 || len(pcm)%width != 0 {
		return nil, fmt.Errorf("pcm payload not aligned to %d-byte samples", width)
	}
	samples := make([]int, len(pcm)/width)
	for i := range samples {
		chunk := pcm[i*width:]
		switch width {
		case 1:
			samples[i] = int(chunk[0]) - 128
		case 2:
			samples[i] = int(int16(binary.LittleEndian.Uint16(chunk)))
		case 3:
			v := int32(chunk[0]) | int32(chunk[1])<<8 | int32(chunk[2])<<16
			samples[i] = int(v<<8) >> 8
		case 4:
			samples[i] = int(int32(binary.LittleEndian.Uint32(chunk)))
		default:
			return nil, fmt.Errorf("unsupported sample width %d", width)
		}
	}
	return samples, nil
}

func convert(samples []int, source, target Format) ([]byte, error) {
	if source.Channels <= 0 || source.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid source format %+v", source)
	}
	in := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: source.Channels, SampleRate: source.SampleRate},
		Data:           samples,
		SourceBitDepth: source.SampleWidth * 8,
	}
	buf := in.AsFloatBuffer()
	scale := math.Exp2(float64(in.SourceBitDepth - 1))
	for i := range buf.Data {
		buf.Data[i] /= scale
	}

	if target.Channels == 1 {
		if err := transforms.MonoDownmix(buf); err != nil {
			return nil, fmt.Errorf("downmix: %w", err)
		}
	} else {
		buf = remix(buf, target.Channels)
	}
	buf = resample(buf, target.SampleRate)
	if err := transforms.PCMScale(buf, 16); err != nil {
		return nil, fmt.Errorf("scale pcm: %w", err)
	}

	out := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(clamp16(int(math.Round(s))))))
	}
	return out, nil
}

// remix duplicates mono up to n channels. Other layouts keep the first n
// channels; downmixing to mono goes through transforms.MonoDownmix.
func remix(buf *goaudio.FloatBuffer, channels int) *goaudio.FloatBuffer {
	from := buf.Format.NumChannels
	if from == channels {
		return buf
	}
	frames := len(buf.Data) / from
	out := make([]float64, frames*channels)
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			out[f*channels+c] = buf.Data[f*from+c%from]
		}
	}
	return &goaudio.FloatBuffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: buf.Format.SampleRate},
		Data:   out,
	}
}

// resample uses linear interpolation per channel.
func resample(buf *goaudio.FloatBuffer, rate int) *goaudio.FloatBuffer {
	from := buf.Format.SampleRate
	if from == rate {
		return buf
	}
	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	if frames == 0 {
		return &goaudio.FloatBuffer{Format: &goaudio.Format{NumChannels: channels, SampleRate: rate}}
	}
	outFrames := int(int64(frames) * int64(rate) / int64(from))
	out := make([]float64, outFrames*channels)
	step := float64(from) / float64(rate)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * step
		idx := min(int(pos), frames-1)
		frac := pos - float64(idx)
		next := min(idx+1, frames-1)
		for c := 0; c < channels; c++ {
			a := buf.Data[idx*channels+c]
			b := buf.Data[next*channels+c]
			out[i*channels+c] = a + (b-a)*frac
		}
	}
	return &goaudio.FloatBuffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:   out,
	}
}

func clamp16(s int) int {
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return s
}
