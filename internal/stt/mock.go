package stt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-asr/internal/audio"
)

type mockTranscriber struct{}

// NewMockTranscriber returns a recognizer that reports how much audio it
// received. Useful for wiring tests without a model.
func NewMockTranscriber() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) TranscribeStream(_ context.Context, frames FrameStream, format audio.Format) (*Transcription, error) {
	started := time.Now()
	pcm := ReadAll(frames)
	wavSeconds := audio.Duration(pcm, format).Seconds()

	text := fmt.Sprintf("transcript length=%d", len(pcm))
	words := strings.Fields(text)
	tokens := make([]Token, len(words))
	step := wavSeconds / float64(len(words))
	for i, w := range words {
		tokens[i] = Token{
			Word:       w,
			Confidence: 1,
			StartTime:  float64(i) * step,
			EndTime:    float64(i+1) * step,
		}
	}
	return &Transcription{
		Text:              text,
		Likelihood:        1,
		TranscribeSeconds: time.Since(started).Seconds(),
		WavSeconds:        wavSeconds,
		Tokens:            tokens,
	}, nil
}

func (m *mockTranscriber) Stop() error { return nil }
