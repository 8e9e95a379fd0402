package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-asr/internal/audio"
	"github.com/loqalabs/loqa-asr/internal/protocol"
	"github.com/loqalabs/loqa-asr/internal/stt"
)

// chunkStream replays a fixed set of chunks as one utterance.
type chunkStream struct {
	chunks [][]byte
}

func (s *chunkStream) Next() ([]byte, bool) {
	if len(s.chunks) == 0 {
		return nil, false
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, true
}

func splitChunks(pcm []byte, size int) [][]byte {
	var chunks [][]byte
	for len(pcm) > 0 {
		n := min(size, len(pcm))
		chunks = append(chunks, pcm[:n])
		pcm = pcm[n:]
	}
	return chunks
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav>...",
	Short: "Transcribe WAV files with the configured recognizer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		factory, err := stt.NewFactory(cfg.Recognizer, cfg.ASR.Language)
		if err != nil {
			return err
		}
		transcriber, err := factory()
		if err != nil {
			return fmt.Errorf("create transcriber: %w", err)
		}
		defer transcriber.Stop()

		format := audio.Format{SampleRate: cfg.ASR.SampleRate, SampleWidth: cfg.ASR.SampleWidth, Channels: cfg.ASR.Channels}
		frameBytes := format.SampleRate * format.SampleWidth * format.Channels / 10
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			pcm, err := audio.Normalize(protocol.AudioPayload{WAV: data}, format)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			logger.Debug("transcribing", "path", path, "seconds", audio.Duration(pcm, format).Seconds())
			result, err := transcriber.TranscribeStream(cmd.Context(), &chunkStream{chunks: splitChunks(pcm, frameBytes)}, format)
			if err != nil {
				log.Error("transcription failed", "path", path, "error", err)
				continue
			}
			if err := enc.Encode(map[string]any{
				"path":       path,
				"text":       result.Text,
				"likelihood": result.Likelihood,
				"seconds":    result.TranscribeSeconds,
			}); err != nil {
				return err
			}
		}
		return nil
	},
}
