package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/loqalabs/loqa-asr/internal/protocol"
)

var mono16k = Format{SampleRate: 16000, SampleWidth: 2, Channels: 1}

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pcm := pcm16(0, 100, -100, 32767, -32768, 7)
	clip, err := EncodeWAV(pcm, mono16k)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasPrefix(clip, []byte("RIFF")) {
		t.Fatalf("expected RIFF header")
	}

	buf, format, err := DecodeWAV(clip)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if format != mono16k {
		t.Fatalf("unexpected format %+v", format)
	}
	if len(buf.Data) != 6 || buf.Data[3] != 32767 || buf.Data[4] != -32768 {
		t.Fatalf("unexpected samples %v", buf.Data)
	}
}

func TestNormalizePassThrough(t *testing.T) {
	pcm := pcm16(1, 2, 3, 4)
	out, err := Normalize(protocol.AudioPayload{PCM: pcm}, mono16k)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !bytes.Equal(out, pcm) {
		t.Fatalf("expected identical bytes")
	}
	out[0] = 99
	if pcm[0] == 99 {
		t.Fatalf("normalize must copy the payload")
	}
}

func TestNormalizeConversions(t *testing.T) {
	cases := []struct {
		name    string
		payload protocol.AudioPayload
		want    []byte
	}{
		{
			name:    "stereo downmix",
			payload: protocol.AudioPayload{PCM: pcm16(100, 300, -50, -150), SampleRate: 16000, SampleWidth: 2, Channels: 2},
			want:    pcm16(200, -100),
		},
		{
			name:    "8-bit unsigned",
			payload: protocol.AudioPayload{PCM: []byte{128, 129}, SampleRate: 16000, SampleWidth: 1, Channels: 1},
			want:    pcm16(0, 256),
		},
		{
			name:    "24-bit stereo",
			payload: protocol.AudioPayload{PCM: []byte{0x00, 0x01, 0x00, 0x00, 0x03, 0x00}, SampleRate: 16000, SampleWidth: 3, Channels: 2},
			want:    pcm16(2),
		},
		{
			name:    "downsample by two",
			payload: protocol.AudioPayload{PCM: pcm16(10, 20, 30, 40), SampleRate: 32000, SampleWidth: 2, Channels: 1},
			want:    pcm16(10, 30),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.payload, mono16k)
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestNormalizeUpmix(t *testing.T) {
	stereo := Format{SampleRate: 16000, SampleWidth: 2, Channels: 2}
	got, err := Normalize(protocol.AudioPayload{PCM: pcm16(7, -9), SampleRate: 16000, SampleWidth: 2, Channels: 1}, stereo)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if want := pcm16(7, 7, -9, -9); !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestNormalizeWAVPayload(t *testing.T) {
	pcm := pcm16(5, 6, 7, 8)
	clip, err := EncodeWAV(pcm, mono16k)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Normalize(protocol.AudioPayload{WAV: clip}, mono16k)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !bytes.Equal(out, pcm) {
		t.Fatalf("got %v want %v", out, pcm)
	}
}

func TestNormalizeRejectsMisalignedPCM(t *testing.T) {
	_, err := Normalize(protocol.AudioPayload{PCM: []byte{1, 2, 3}, SampleRate: 8000}, mono16k)
	if err == nil {
		t.Fatalf("expected alignment error")
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(make([]byte, 32000), mono16k); got != time.Second {
		t.Fatalf("expected 1s, got %s", got)
	}
}
