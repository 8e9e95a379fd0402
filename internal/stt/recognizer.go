package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-asr/internal/audio"
	"github.com/loqalabs/loqa-asr/internal/config"
)

// Token is one recognized word with its position in the decoded audio.
type Token struct {
	Word       string
	Confidence float64
	StartTime  float64
	EndTime    float64
}

// Transcription captures recognizer output for one utterance.
type Transcription struct {
	Text              string
	Likelihood        float64
	TranscribeSeconds float64
	WavSeconds        float64
	Tokens            []Token
}

// FrameStream yields normalized PCM chunks until the utterance ends.
type FrameStream interface {
	// Next blocks until a chunk is available. ok is false once the
	// end-of-utterance marker has been consumed.
	Next() (chunk []byte, ok bool)
}

// Transcriber abstracts streaming STT backends. A Transcriber handles one
// utterance at a time and may be reused for the next one.
type Transcriber interface {
	TranscribeStream(ctx context.Context, frames FrameStream, format audio.Format) (*Transcription, error)
	Stop() error
}

// Factory constructs a Transcriber. It runs on the worker goroutine, so slow
// model loading does not hold up frame dispatch.
type Factory func() (Transcriber, error)

// NewFactory returns the factory for the configured recognizer mode.
func NewFactory(cfg config.RecognizerConfig, language string) (Factory, error) {
	switch cfg.Mode {
	case "", "mock":
		return func() (Transcriber, error) { return NewMockTranscriber(), nil }, nil
	case "exec":
		args, err := parseCommand(cfg.Command)
		if err != nil {
			return nil, err
		}
		return func() (Transcriber, error) {
			return newExecTranscriber(args, cfg, language), nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported recognizer mode %q", cfg.Mode)
	}
}

// ReadAll drains a stream into a single buffer.
func ReadAll(frames FrameStream) []byte {
	var pcm []byte
	for {
		chunk, ok := frames.Next()
		if !ok {
			return pcm
		}
		pcm = append(pcm, chunk...)
	}
}
