package silence

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/loqalabs/loqa-asr/internal/config"
)

// 10 samples per 10ms window at 1kHz.
func testParams() Params {
	return Params{
		SpeechSeconds:  0.02,
		SilenceSeconds: 0.03,
		BeforeSeconds:  0.01,
		WindowMS:       10,
		ThresholdDBFS:  -40,
		SampleRate:     1000,
		Channels:       1,
	}
}

func window(amplitude int16) []byte {
	out := make([]byte, 20)
	for i := 0; i < 10; i++ {
		s := amplitude
		if i%2 == 1 {
			s = -amplitude
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestRecorderEndsAfterTrailingSilence(t *testing.T) {
	rec, err := New(testParams())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	quiet, loud := window(0), window(8000)
	sequence := [][]byte{quiet, quiet, quiet, loud, loud, loud, loud, quiet, quiet}
	for i, chunk := range sequence {
		if rec.ProcessChunk(chunk) {
			t.Fatalf("ended early at chunk %d", i)
		}
	}
	if !rec.ProcessChunk(quiet) {
		t.Fatalf("expected end of command after trailing silence")
	}

	audio := rec.Stop()
	if len(audio) != 8*20 {
		t.Fatalf("expected 8 windows of audio, got %d bytes", len(audio))
	}
	if !bytes.Equal(audio[:20], quiet) || !bytes.Equal(audio[20:40], loud) {
		t.Fatalf("expected one window of lead-in before speech")
	}
}

func TestRecorderMaxDuration(t *testing.T) {
	p := testParams()
	p.MaxSeconds = 0.05
	rec, err := New(p)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	loud := window(8000)
	for i := 0; i < 4; i++ {
		if rec.ProcessChunk(loud) {
			t.Fatalf("ended early at chunk %d", i)
		}
	}
	if !rec.ProcessChunk(loud) {
		t.Fatalf("expected max duration to end the command")
	}
}

func TestRecorderSkipsLeadingAudio(t *testing.T) {
	p := testParams()
	p.SkipSeconds = 0.02
	rec, err := New(p)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	loud := window(8000)
	rec.ProcessChunk(loud)
	rec.ProcessChunk(loud)
	if got := rec.Stop(); len(got) != 0 {
		t.Fatalf("expected skipped audio to be dropped, got %d bytes", len(got))
	}

	rec.Start()
	rec.ProcessChunk(append(loud, 1, 0))
	if got := rec.Stop(); len(got) != 2 {
		t.Fatalf("expected only the partial window after restart, got %d bytes", len(got))
	}
}

func TestNewRejectsInvalidParams(t *testing.T) {
	cases := []Params{
		{WindowMS: 10, SampleRate: 0, Channels: 1},
		{WindowMS: 0, SampleRate: 16000, Channels: 1},
		{WindowMS: 1, SampleRate: 100, Channels: 1},
	}
	for _, p := range cases {
		if _, err := New(p); err == nil {
			t.Fatalf("expected error for %+v", p)
		}
	}
}

func TestParamsFromConfigDefaults(t *testing.T) {
	p := ParamsFromConfig(config.Default().Silence, 16000, 1)
	if p.WindowMS != 30 || p.ThresholdDBFS != -40 || p.SampleRate != 16000 {
		t.Fatalf("unexpected params %+v", p)
	}
	if _, err := New(p); err != nil {
		t.Fatalf("default params must be valid: %v", err)
	}
}
