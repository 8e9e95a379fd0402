package training

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/mattn/go-shellwords"
)

// CompileRequest carries everything the model compiler needs to rebuild the
// decoding graph.
type CompileRequest struct {
	GraphPath      string
	DictionaryPath string
	ModelDir       string
	GraphDir       string

	LanguageModelPath       string
	LanguageModelType       string
	DictionaryCasing        string
	BaseLanguageModelFST    string
	BaseLanguageModelWeight float64
	MixedLanguageModelFST   string

	SpnPhone           string
	SilPhone           string
	SilenceProbability float64

	AllowUnknownWords       bool
	FrequentWordsPath       string
	UnknownWordsProbability float64
	UnknownToken            string
	MaxUnknownWords         int
	UnknownWordsPath        string
	CancelWord              string
	CancelProbability       float64

	G2PModel  string
	G2PCasing string
}

// Compiler rebuilds recognition models.
type Compiler interface {
	Compile(ctx context.Context, req CompileRequest) error
	// PrepareOnline refreshes online decoding files without rebuilding the
	// graph.
	PrepareOnline(ctx context.Context, modelDir, graphDir string) error
}

// ExecCompiler runs external training scripts.
type ExecCompiler struct {
	compile []string
	prepare []string
}

func NewExecCompiler(cfg config.TrainingConfig) (*ExecCompiler, error) {
	c := &ExecCompiler{}
	var err error
	if cfg.CompileCommand != "" {
		if c.compile, err = shellwords.Parse(cfg.CompileCommand); err != nil {
			return nil, fmt.Errorf("parse compile command: %w", err)
		}
	}
	if cfg.PrepareCommand != "" {
		if c.prepare, err = shellwords.Parse(cfg.PrepareCommand); err != nil {
			return nil, fmt.Errorf("parse prepare command: %w", err)
		}
	}
	return c, nil
}

func (c *ExecCompiler) Compile(ctx context.Context, req CompileRequest) error {
	if len(c.compile) == 0 {
		return fmt.Errorf("training.compile_command is not configured")
	}
	args := []string{
		"--graph", req.GraphPath,
		"--dictionary", req.DictionaryPath,
		"--model-dir", req.ModelDir,
		"--graph-dir", req.GraphDir,
		"--language-model-type", req.LanguageModelType,
		"--spn-phone", req.SpnPhone,
		"--sil-phone", req.SilPhone,
		"--silence-probability", formatFloat(req.SilenceProbability),
	}
	args = appendIf(args, "--language-model", req.LanguageModelPath)
	args = appendIf(args, "--dictionary-casing", req.DictionaryCasing)
	if req.BaseLanguageModelFST != "" {
		args = append(args,
			"--base-language-model-fst", req.BaseLanguageModelFST,
			"--base-language-model-weight", formatFloat(req.BaseLanguageModelWeight))
	}
	args = appendIf(args, "--mixed-language-model-fst", req.MixedLanguageModelFST)
	if req.AllowUnknownWords {
		args = append(args,
			"--allow-unknown-words",
			"--unknown-words-probability", formatFloat(req.UnknownWordsProbability),
			"--unknown-token", req.UnknownToken,
			"--max-unknown-words", strconv.Itoa(req.MaxUnknownWords))
		args = appendIf(args, "--frequent-words", req.FrequentWordsPath)
	}
	args = appendIf(args, "--missing-words", req.UnknownWordsPath)
	if req.CancelWord != "" {
		args = append(args, "--cancel-word", req.CancelWord, "--cancel-probability", formatFloat(req.CancelProbability))
	}
	if req.G2PModel != "" {
		args = append(args, "--g2p-model", req.G2PModel, "--g2p-casing", req.G2PCasing)
	}
	return run(ctx, c.compile, args)
}

func (c *ExecCompiler) PrepareOnline(ctx context.Context, modelDir, graphDir string) error {
	if len(c.prepare) == 0 {
		return fmt.Errorf("training.prepare_command is not configured")
	}
	return run(ctx, c.prepare, []string{"--model-dir", modelDir, "--graph-dir", graphDir})
}

func run(ctx context.Context, base, extra []string) error {
	args := append(append([]string{}, base[1:]...), extra...)
	command := exec.CommandContext(ctx, base[0], args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", base[0], err, stderr.String())
	}
	return nil
}

func appendIf(args []string, flag, value string) []string {
	if value == "" {
		return args
	}
	return append(args, flag, value)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
