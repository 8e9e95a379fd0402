package g2p

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-asr/internal/dictionary"
	"github.com/loqalabs/loqa-asr/internal/protocol"
)

// Pronouncer answers pronunciation requests from the base dictionaries,
// guessing words they do not contain.
type Pronouncer struct {
	dicts     *dictionary.Cache
	guesser   Guesser
	transform func(string) string
	log       *slog.Logger
}

// NewPronouncer builds a Pronouncer. guesser may be nil, in which case
// missing words are left out of the reply.
func NewPronouncer(dicts *dictionary.Cache, guesser Guesser, casing string, log *slog.Logger) (*Pronouncer, error) {
	transform, err := dictionary.WordTransform(casing)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pronouncer{
		dicts:     dicts,
		guesser:   guesser,
		transform: transform,
		log:       log.With(slog.String("component", "g2p")),
	}, nil
}

func (p *Pronouncer) Pronounce(ctx context.Context, req protocol.Pronounce) (protocol.Phonemes, error) {
	result := protocol.Phonemes{
		ID:           req.ID,
		SiteID:       req.SiteID,
		SessionID:    req.SessionID,
		WordPhonemes: make(map[string][]protocol.Pronunciation),
	}

	known, err := p.dicts.Load()
	if err != nil {
		return protocol.Phonemes{}, fmt.Errorf("load dictionaries: %w", err)
	}

	var missing []string
	seen := make(map[string]bool)
	for _, w := range req.Words {
		word := p.transform(w)
		if prons := known[word]; len(prons) > 0 {
			out := make([]protocol.Pronunciation, 0, len(prons))
			for _, phonemes := range prons {
				out = append(out, protocol.Pronunciation{Phonemes: phonemes})
			}
			result.WordPhonemes[word] = out
			continue
		}
		if !seen[word] {
			seen[word] = true
			missing = append(missing, word)
		}
	}

	if len(missing) == 0 {
		return result, nil
	}
	if p.guesser == nil {
		p.log.Warn("no g2p model, cannot guess pronunciations", slog.Any("words", missing))
		return result, nil
	}

	p.log.Debug("guessing pronunciations", slog.Any("words", missing))
	guesses, err := p.guesser.Guess(ctx, missing, req.NumGuesses)
	if err != nil {
		return protocol.Phonemes{}, err
	}
	for _, g := range guesses {
		result.WordPhonemes[g.Word] = append(result.WordPhonemes[g.Word], protocol.Pronunciation{Phonemes: g.Phonemes, Guessed: true})
	}
	return result, nil
}
