package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/dictionary"
	"github.com/loqalabs/loqa-asr/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Pipeline rebuilds the recognition model and packages it for download.
type Pipeline struct {
	cfg      config.TrainingConfig
	g2p      config.G2PConfig
	dicts    *dictionary.Cache
	compiler Compiler
	log      *slog.Logger
	tracer   trace.Tracer

	// One training run at a time; runs share the model directory.
	mu sync.Mutex
}

func NewPipeline(cfg config.TrainingConfig, g2pCfg config.G2PConfig, dicts *dictionary.Cache, compiler Compiler, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		g2p:      g2pCfg,
		dicts:    dicts,
		compiler: compiler,
		log:      log.With(slog.String("component", "training")),
		tracer:   otel.Tracer("github.com/loqalabs/loqa-asr/internal/training"),
	}
}

// ArchivePath is where the model archive is written.
func (p *Pipeline) ArchivePath() string {
	if p.cfg.ArchivePath != "" {
		return p.cfg.ArchivePath
	}
	return filepath.Join(filepath.Dir(filepath.Dir(filepath.Clean(p.cfg.ModelDir))), "model.zip")
}

func (p *Pipeline) Train(ctx context.Context, req protocol.Train) (result protocol.TrainSuccess, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, span := p.tracer.Start(ctx, "asr.train", trace.WithAttributes(
		attribute.String("site_id", req.SiteID),
		attribute.String("train_id", req.ID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if p.cfg.ModelDir == "" || p.cfg.GraphDir == "" {
		return result, errors.New("model and graph dirs are required to train")
	}

	pronunciations, err := p.dicts.Load()
	if err != nil {
		return result, err
	}

	if p.cfg.NoOverwrite {
		p.log.Warn("not overwriting HCLG.fst")
		if err := p.compiler.PrepareOnline(ctx, p.cfg.ModelDir, p.cfg.GraphDir); err != nil {
			return result, fmt.Errorf("prepare online decoding: %w", err)
		}
	} else if err := p.compile(ctx, req, pronunciations); err != nil {
		return result, err
	}

	archive := p.ArchivePath()
	if err := writeArchive(p.cfg.ModelDir, archive); err != nil {
		return result, err
	}
	sum, err := md5File(archive)
	if err != nil {
		return result, fmt.Errorf("checksum archive: %w", err)
	}

	p.log.Info("training complete",
		slog.String("site_id", req.SiteID),
		slog.String("archive", archive),
		slog.String("model_md5", sum),
		slog.Int("words", len(pronunciations)),
	)
	return protocol.TrainSuccess{
		ID:       req.ID,
		SiteID:   req.SiteID,
		ModelMD5: sum,
		ModelURL: p.cfg.ArchiveURL,
	}, nil
}

func (p *Pipeline) compile(ctx context.Context, req protocol.Train, pronunciations dictionary.Pronunciations) error {
	if req.GraphPath == "" {
		return errors.New("train request has no graph path")
	}
	work, err := os.MkdirTemp("", "loqa_train_*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	graph := filepath.Join(work, "graph")
	p.log.Debug("loading graph", slog.String("path", req.GraphPath))
	if err := gunzip(req.GraphPath, graph); err != nil {
		return err
	}

	dictPath := p.cfg.DictionaryPath
	if dictPath == "" {
		dictPath = filepath.Join(p.cfg.ModelDir, "dictionary.txt")
	}
	if err := writeDictionary(dictPath, pronunciations); err != nil {
		return err
	}

	p.log.Debug("starting training", slog.String("graph_dir", p.cfg.GraphDir))
	compileReq := CompileRequest{
		GraphPath:               graph,
		DictionaryPath:          dictPath,
		ModelDir:                p.cfg.ModelDir,
		GraphDir:                p.cfg.GraphDir,
		LanguageModelPath:       p.cfg.LanguageModelPath,
		LanguageModelType:       p.cfg.LanguageModelType,
		DictionaryCasing:        p.cfg.DictionaryCasing,
		BaseLanguageModelFST:    p.cfg.BaseLanguageModelFST,
		BaseLanguageModelWeight: p.cfg.BaseLanguageModelWeight,
		MixedLanguageModelFST:   p.cfg.MixedLanguageModelFST,
		SpnPhone:                p.cfg.SpnPhone,
		SilPhone:                p.cfg.SilPhone,
		SilenceProbability:      p.cfg.SilenceProbability,
		AllowUnknownWords:       p.cfg.AllowUnknownWords,
		FrequentWordsPath:       p.cfg.FrequentWordsPath,
		UnknownWordsProbability: p.cfg.UnknownWordsProbability,
		UnknownToken:            p.cfg.UnknownToken,
		MaxUnknownWords:         p.cfg.MaxUnknownWords,
		UnknownWordsPath:        p.cfg.UnknownWordsPath,
		CancelWord:              p.cfg.CancelWord,
		CancelProbability:       p.cfg.CancelProbability,
		G2PModel:                p.g2p.ModelPath,
		G2PCasing:               p.g2p.Casing,
	}
	if err := p.compiler.Compile(ctx, compileReq); err != nil {
		return fmt.Errorf("compile model: %w", err)
	}
	return nil
}

func writeDictionary(path string, pronunciations dictionary.Pronunciations) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dictionary: %w", err)
	}
	if err := dictionary.Write(f, pronunciations); err != nil {
		f.Close()
		return fmt.Errorf("write dictionary: %w", err)
	}
	return f.Close()
}
