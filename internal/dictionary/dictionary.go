package dictionary

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
)

// Pronunciations maps a word to its known phoneme sequences.
type Pronunciations map[string][][]string

// Read parses a pronunciation dictionary ("word P1 P2 ..." per line) into
// into, appending to words it already holds. CMU-style alternates such as
// "read(2)" are folded into the base word.
func Read(r io.Reader, into Pronunciations) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, ";;;") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 2 {
			return fmt.Errorf("line %d: word %q has no phonemes", line, fields[0])
		}
		word := baseWord(fields[0])
		into.add(word, fields[1:])
	}
	return scanner.Err()
}

// Write emits the dictionary sorted by word, one pronunciation per line.
func Write(w io.Writer, p Pronunciations) error {
	bw := bufio.NewWriter(w)
	for _, word := range p.Words() {
		for _, phonemes := range p[word] {
			if _, err := fmt.Fprintf(bw, "%s %s\n", word, strings.Join(phonemes, " ")); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// Merge adds every pronunciation from other that p does not already hold.
func (p Pronunciations) Merge(other Pronunciations) {
	for word, prons := range other {
		for _, phonemes := range prons {
			p.add(word, phonemes)
		}
	}
}

// Words returns the dictionary's words in sorted order.
func (p Pronunciations) Words() []string {
	words := make([]string, 0, len(p))
	for word := range p {
		words = append(words, word)
	}
	sort.Strings(words)
	return words
}

func (p Pronunciations) add(word string, phonemes []string) {
	for _, existing := range p[word] {
		if slices.Equal(existing, phonemes) {
			return
		}
	}
	p[word] = append(p[word], slices.Clone(phonemes))
}

func baseWord(word string) string {
	if i := strings.LastIndexByte(word, '('); i > 0 && strings.HasSuffix(word, ")") {
		return word[:i]
	}
	return word
}

// WordTransform returns the casing applied to words before lookup: "ignore"
// (or empty), "lower" or "upper".
func WordTransform(casing string) (func(string) string, error) {
	switch strings.ToLower(casing) {
	case "", "ignore":
		return func(s string) string { return s }, nil
	case "lower":
		return strings.ToLower, nil
	case "upper":
		return strings.ToUpper, nil
	default:
		return nil, fmt.Errorf("unknown dictionary casing %q", casing)
	}
}
