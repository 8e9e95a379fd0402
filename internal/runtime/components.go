package runtime

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/dictionary"
	"github.com/loqalabs/loqa-asr/internal/g2p"
	"github.com/loqalabs/loqa-asr/internal/training"
)

// NewPronouncer wires the base dictionaries and the optional G2P model.
func NewPronouncer(cfg config.Config, dicts *dictionary.Cache, logger *slog.Logger) (*g2p.Pronouncer, error) {
	guesser, err := g2p.NewGuesser(cfg.G2P)
	if err != nil {
		return nil, fmt.Errorf("g2p: %w", err)
	}
	return g2p.NewPronouncer(dicts, guesser, cfg.Training.DictionaryCasing, logger)
}

// NewTrainer wires the training pipeline to the external graph compiler.
func NewTrainer(cfg config.Config, dicts *dictionary.Cache, logger *slog.Logger) (*training.Pipeline, error) {
	compiler, err := training.NewExecCompiler(cfg.Training)
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}
	return training.NewPipeline(cfg.Training, cfg.G2P, dicts, compiler, logger), nil
}
