package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loqalabs/loqa-asr/internal/audio"
	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/mattn/go-shellwords"
)

var errStopped = errors.New("transcriber stopped")

type execTranscriber struct {
	cmd      []string
	cfg      config.RecognizerConfig
	language string

	mu      sync.Mutex
	stopped bool
}

type execToken struct {
	Word       string  `json:"word"`
	Confidence float64 `json:"confidence"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
}

type execResult struct {
	Text       string      `json:"text"`
	Likelihood float64     `json:"likelihood"`
	Tokens     []execToken `json:"tokens"`
}

func parseCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	return args, nil
}

// NewExecTranscriber runs an external decoder per utterance. The command
// receives a WAV file and prints a JSON transcription on stdout.
func NewExecTranscriber(cfg config.RecognizerConfig, language string) (Transcriber, error) {
	args, err := parseCommand(cfg.Command)
	if err != nil {
		return nil, err
	}
	return newExecTranscriber(args, cfg, language), nil
}

func newExecTranscriber(args []string, cfg config.RecognizerConfig, language string) *execTranscriber {
	return &execTranscriber{cmd: args, cfg: cfg, language: language}
}

func (r *execTranscriber) TranscribeStream(ctx context.Context, frames FrameStream, format audio.Format) (*Transcription, error) {
	pcm := ReadAll(frames)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, errStopped
	}

	started := time.Now()
	file, err := os.CreateTemp(os.TempDir(), "loqa_asr_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.WritePCM(file, pcm, format); err != nil {
		return nil, err
	}

	base := r.cmd[0]
	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if r.cfg.ModelDir != "" {
		cmdArgs = append(cmdArgs, "--model-dir", r.cfg.ModelDir)
	}
	if r.cfg.GraphDir != "" {
		cmdArgs = append(cmdArgs, "--graph-dir", r.cfg.GraphDir)
	}
	if r.language != "" {
		cmdArgs = append(cmdArgs, "--language", r.language)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("recognizer command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode recognizer response: %w", err)
	}

	result := &Transcription{
		Text:              resp.Text,
		Likelihood:        resp.Likelihood,
		TranscribeSeconds: time.Since(started).Seconds(),
		WavSeconds:        audio.Duration(pcm, format).Seconds(),
	}
	for _, t := range resp.Tokens {
		result.Tokens = append(result.Tokens, Token(t))
	}
	return result, nil
}

func (r *execTranscriber) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return nil
}
