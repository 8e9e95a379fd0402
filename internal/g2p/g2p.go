package g2p

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/dictionary"
	"github.com/mattn/go-shellwords"
)

// Guess is one guessed pronunciation.
type Guess struct {
	Word     string
	Phonemes []string
}

// Guesser predicts pronunciations for words missing from the dictionary.
type Guesser interface {
	Guess(ctx context.Context, words []string, numGuesses int) ([]Guess, error)
}

// NewGuesser returns the exec guesser for cfg, or nil when no G2P model is
// configured.
func NewGuesser(cfg config.G2PConfig) (Guesser, error) {
	if cfg.ModelPath == "" || cfg.Command == "" {
		return nil, nil
	}
	args, err := shellwords.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse g2p command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("g2p command is empty")
	}
	transform, err := dictionary.WordTransform(cfg.Casing)
	if err != nil {
		return nil, err
	}
	return &execGuesser{cmd: args, model: cfg.ModelPath, transform: transform}, nil
}

// execGuesser feeds words to an external tool on stdin, one per line, and
// reads "word P1 P2 ..." lines back.
type execGuesser struct {
	cmd       []string
	model     string
	transform func(string) string
}

func (g *execGuesser) Guess(ctx context.Context, words []string, numGuesses int) ([]Guess, error) {
	if len(words) == 0 {
		return nil, nil
	}
	if numGuesses <= 0 {
		numGuesses = 1
	}

	// Guesses are reported under the caller's spelling.
	original := make(map[string]string, len(words))
	var stdin bytes.Buffer
	for _, w := range words {
		t := g.transform(w)
		original[t] = w
		stdin.WriteString(t)
		stdin.WriteByte('\n')
	}

	args := append([]string{}, g.cmd[1:]...)
	args = append(args, "--model", g.model, "--nbest", strconv.Itoa(numGuesses))
	command := exec.CommandContext(ctx, g.cmd[0], args...)
	command.Stdin = &stdin
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("g2p command failed: %w: %s", err, stderr.String())
	}

	var guesses []Guess
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		word := fields[0]
		if w, ok := original[word]; ok {
			word = w
		}
		guesses = append(guesses, Guess{Word: word, Phonemes: fields[1:]})
	}
	return guesses, scanner.Err()
}
