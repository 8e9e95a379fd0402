package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-asr/internal/audio"
	"github.com/loqalabs/loqa-asr/internal/config"
	"github.com/loqalabs/loqa-asr/internal/protocol"
	"github.com/loqalabs/loqa-asr/internal/silence"
	"github.com/loqalabs/loqa-asr/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrClosed is returned once the manager has shut down.
var ErrClosed = errors.New("asr manager closed")

// Emitter receives every event the manager produces, in emission order per
// session.
type Emitter func(protocol.Event)

// Options configures a Manager.
type Options struct {
	Format            audio.Format
	Language          string
	ReuseTranscribers bool
	ResultTimeout     time.Duration
	Transcribers      stt.Factory
	Recorders         func() (silence.Recorder, error)
	Emit              Emitter
	Logger            *slog.Logger
	Meter             metric.Meter
}

// OptionsFromConfig derives manager options from the runtime configuration.
func OptionsFromConfig(cfg config.Config, transcribers stt.Factory, emit Emitter, log *slog.Logger) Options {
	format := audio.Format{
		SampleRate:  cfg.ASR.SampleRate,
		SampleWidth: cfg.ASR.SampleWidth,
		Channels:    cfg.ASR.Channels,
	}
	params := silence.ParamsFromConfig(cfg.Silence, format.SampleRate, format.Channels)
	return Options{
		Format:            format,
		Language:          cfg.ASR.Language,
		ReuseTranscribers: cfg.ASR.ReuseTranscribers,
		ResultTimeout:     time.Duration(cfg.ASR.SessionResultTimeoutMS) * time.Millisecond,
		Transcribers:      transcribers,
		Recorders:         func() (silence.Recorder, error) { return silence.New(params) },
		Emit:              emit,
		Logger:            log,
	}
}

// Manager owns the session registry and the transcriber pool. Control
// messages and audio frames may arrive on different goroutines; finalizing a
// session blocks only the caller that finalizes it.
type Manager struct {
	opts    Options
	log     *slog.Logger
	metrics *metrics
	tracer  trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[protocol.SessionKey]*Session
	pool     pool
	closed   bool

	workers    sync.WaitGroup
	finalizers sync.WaitGroup
}

func NewManager(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Transcribers == nil {
		return nil, errors.New("asr: transcriber factory is required")
	}
	if opts.Recorders == nil {
		return nil, errors.New("asr: recorder factory is required")
	}
	if opts.ResultTimeout <= 0 {
		opts.ResultTimeout = 20 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Meter == nil {
		opts.Meter = defaultMeter()
	}

	ctx, cancel := context.WithCancel(ctx)
	m := &Manager{
		opts:     opts,
		log:      opts.Logger.With(slog.String("component", "asr-manager")),
		tracer:   otel.Tracer(instrumentationName),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[protocol.SessionKey]*Session),
	}

	mt, err := newMetrics(opts.Meter, m.counts)
	if err != nil {
		m.log.Warn("failed to initialize metrics", slogError(err))
	}
	m.metrics = mt
	return m, nil
}

// StartListening opens a session. A session already registered under the
// same key is finalized first; its result is awaited in the background.
func (m *Manager) StartListening(ctx context.Context, msg protocol.StartListening) {
	if prev := m.remove(msg.SessionID); prev != nil {
		m.background(m.detach(prev))
	}

	w, err := m.acquire()
	if err != nil {
		m.emitError(err, fmt.Sprintf("start listening: %+v", msg), msg.SiteID, msg.SessionID)
		return
	}

	var recorder silence.Recorder
	if msg.StopOnSilence {
		recorder, err = m.opts.Recorders()
		if err != nil {
			w.discard()
			m.emitError(fmt.Errorf("create silence recorder: %w", err), fmt.Sprintf("start listening: %+v", msg), msg.SiteID, msg.SessionID)
			return
		}
		recorder.Start()
	}

	w.activate()
	s := newSession(msg, w, recorder)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		w.discard()
		m.emitError(ErrClosed, "start listening", msg.SiteID, msg.SessionID)
		return
	}
	prev := m.sessions[msg.SessionID]
	m.sessions[msg.SessionID] = s
	m.mu.Unlock()

	if prev != nil {
		m.background(m.detach(prev))
	}

	m.metrics.sessionStarted(ctx, msg.SiteID)
	m.log.Debug("started listening",
		slog.String("site_id", msg.SiteID),
		slog.String("session_id", msg.SessionID.String()),
		slog.String("worker", w.ID()),
		slog.Bool("stop_on_silence", msg.StopOnSilence),
	)
}

// StopListening finalizes and unregisters a session, blocking until its
// transcript has been emitted or the result timeout expires. Unknown sessions
// are ignored.
func (m *Manager) StopListening(ctx context.Context, msg protocol.StopListening) {
	if complete := m.BeginStop(msg); complete != nil {
		complete(ctx)
	}
}

// BeginStop unregisters the session, emits RecordingFinished and closes the
// worker's utterance without waiting for the recognizer. The returned function
// waits for the result, emits the transcript and releases the worker. It is
// nil when no session is registered under the key.
func (m *Manager) BeginStop(msg protocol.StopListening) func(context.Context) {
	s := m.remove(msg.SessionID)
	if s == nil {
		m.log.Debug("stop for unknown session", slog.String("session_id", msg.SessionID.String()))
		return nil
	}
	m.log.Debug("stopping listening",
		slog.String("site_id", s.siteID),
		slog.String("session_id", s.key.String()),
	)
	return m.detach(s)
}

// HandleAudioFrame delivers a frame to every open session of its site.
func (m *Manager) HandleAudioFrame(ctx context.Context, frame protocol.AudioFrame) {
	m.route(ctx, frame.SiteID, nil, frame.Audio)
}

// HandleAudioSessionFrame delivers a frame to a single session.
func (m *Manager) HandleAudioSessionFrame(ctx context.Context, frame protocol.AudioSessionFrame) {
	key := frame.SessionID
	m.route(ctx, frame.SiteID, &key, frame.Audio)
}

func (m *Manager) route(_ context.Context, siteID string, target *protocol.SessionKey, payload protocol.AudioPayload) {
	m.mu.Lock()
	if len(m.sessions) == 0 {
		m.mu.Unlock()
		return
	}
	var targets []*Session
	if target != nil {
		if s := m.sessions[*target]; s != nil && s.siteID == siteID {
			targets = append(targets, s)
		}
	} else {
		for _, s := range m.sessions {
			if s.siteID == siteID {
				targets = append(targets, s)
			}
		}
	}
	m.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	chunk, err := audio.Normalize(payload, m.opts.Format)
	if err != nil {
		for _, s := range targets {
			m.emitError(fmt.Errorf("normalize audio frame: %w", err), "audio frame", s.siteID, s.key)
		}
		return
	}

	for _, s := range targets {
		if err := m.deliver(s, chunk); err != nil {
			m.emitError(err, fmt.Sprintf("worker %s", s.worker.ID()), s.siteID, s.key)
		}
	}
}

// deliver feeds one chunk to a session. When the recorder detects the end of
// the command the session starts finalizing; the result is awaited in the
// background so other sessions keep receiving frames.
func (m *Manager) deliver(s *Session, chunk []byte) (err error) {
	ended, err := m.accept(s, chunk)
	if err != nil || !ended {
		return err
	}
	captured, began, err := m.begin(s)
	if err != nil || !began {
		return err
	}
	m.background(func(ctx context.Context) {
		if err := m.complete(ctx, s, captured); err != nil {
			m.emitError(err, fmt.Sprintf("worker %s", s.worker.ID()), s.siteID, s.key)
		}
	})
	return nil
}

func (m *Manager) accept(s *Session, chunk []byte) (ended bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.worker.markUnusable()
			err = fmt.Errorf("route audio frame: %v", r)
		}
	}()
	return s.accept(chunk), nil
}

// begin emits RecordingFinished and pushes the end-of-utterance marker. began
// is false when finalize already started elsewhere.
func (m *Manager) begin(s *Session) (captured []byte, began bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.worker.markUnusable()
			s.markFinished()
			err = fmt.Errorf("finalize session: %v", r)
		}
	}()
	captured, began = s.beginFinalize()
	if !began {
		return nil, false, nil
	}
	m.emit(protocol.RecordingFinished{SiteID: s.siteID, SessionID: s.key})
	s.worker.endUtterance()
	return captured, true, nil
}

// detach begins finalizing an unregistered session and returns the function
// that completes it (or waits for an in-flight finalize) and then pools or
// discards the worker.
func (m *Manager) detach(s *Session) func(context.Context) {
	captured, began, err := m.begin(s)
	return func(ctx context.Context) {
		if err == nil {
			if began {
				err = m.complete(ctx, s, captured)
			} else {
				<-s.finished
			}
		}
		if err != nil {
			s.worker.discard()
			m.emitError(err, fmt.Sprintf("worker %s", s.worker.ID()), s.siteID, s.key)
			return
		}
		m.release(s.worker)
	}
}

// complete runs await, turning a panic into an error and retiring the worker.
func (m *Manager) complete(ctx context.Context, s *Session, captured []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.worker.markUnusable()
			err = fmt.Errorf("finalize session: %v", r)
		}
	}()
	m.await(ctx, s, captured)
	return nil
}

// background runs fn on a tracked goroutine bound to the manager's lifetime.
// After Close it runs inline against the cancelled context.
func (m *Manager) background(fn func(context.Context)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		fn(m.ctx)
		return
	}
	m.finalizers.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.finalizers.Done()
		fn(m.ctx)
	}()
}

// await waits up to the result timeout for the worker, then emits the
// transcript and, if requested, the captured audio.
func (m *Manager) await(ctx context.Context, s *Session, captured []byte) {
	defer s.markFinished()

	ctx, span := m.tracer.Start(ctx, "asr.finalize", trace.WithAttributes(
		attribute.String("site_id", s.siteID),
		attribute.String("session_id", s.key.String()),
	))
	defer span.End()

	waitCtx, cancel := context.WithTimeout(ctx, m.opts.ResultTimeout)
	result, ok := s.worker.wait(waitCtx)
	cancel()
	if !ok {
		s.worker.markUnusable()
		m.metrics.finalizeTimedOut(ctx)
		span.SetStatus(codes.Error, "result timeout")
		m.log.Warn("timed out waiting for transcription",
			slog.String("site_id", s.siteID),
			slog.String("session_id", s.key.String()),
			slog.Duration("timeout", m.opts.ResultTimeout),
		)
	}

	text := m.transcript(s, result)
	m.metrics.transcriptEmitted(ctx, text.Text == "")
	m.emit(text)

	if s.start.SendAudioCaptured {
		wav, err := audio.EncodeWAV(captured, m.opts.Format)
		if err != nil {
			m.emitError(fmt.Errorf("encode captured audio: %w", err), "audio captured", s.siteID, s.key)
			return
		}
		m.emit(protocol.AudioCaptured{SiteID: s.siteID, SessionID: s.key, WAV: wav})
	}
}

func (m *Manager) transcript(s *Session, result *stt.Transcription) protocol.TextCaptured {
	lang := s.start.Lang
	if lang == "" {
		lang = m.opts.Language
	}
	out := protocol.TextCaptured{
		SiteID:     s.siteID,
		SessionID:  s.key,
		WakewordID: s.start.WakewordID,
		Lang:       lang,
		Timestamp:  time.Now().UTC(),
	}
	if result == nil {
		return out
	}
	out.Text = result.Text
	out.Likelihood = result.Likelihood
	out.Seconds = result.TranscribeSeconds
	out.Tokens = transcriptTokens(result.Tokens)
	return out
}

// transcriptTokens lays tokens out over the text assuming one separating
// space after each word.
func transcriptTokens(tokens []stt.Token) [][]protocol.Token {
	if len(tokens) == 0 {
		return nil
	}
	inner := make([]protocol.Token, 0, len(tokens))
	start := 0
	for _, t := range tokens {
		end := start + len(t.Word) + 1
		inner = append(inner, protocol.Token{
			Value:      t.Word,
			Confidence: t.Confidence,
			RangeStart: start,
			RangeEnd:   end,
			Time:       &protocol.TokenTime{Start: t.StartTime, End: t.EndTime},
		})
		start = end
	}
	return [][]protocol.Token{inner}
}

// acquire pops a parked worker or launches a new one.
func (m *Manager) acquire() (*Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if w := m.pool.get(); w != nil {
		m.log.Debug("reusing transcriber", slog.String("worker", w.ID()))
		return w, nil
	}

	w := newWorker(m.opts.Transcribers, m.opts.Format, m.opts.ReuseTranscribers, m.opts.Logger, m.metrics)
	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		w.run(m.ctx)
	}()
	m.metrics.workerCreated(m.ctx)
	m.log.Debug("created transcriber", slog.String("worker", w.ID()))
	return w, nil
}

func (m *Manager) release(w *Worker) {
	if !m.opts.ReuseTranscribers || !w.canReuse() {
		w.discard()
		return
	}
	w.reset()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		w.discard()
		return
	}
	m.pool.put(w)
}

func (m *Manager) remove(key protocol.SessionKey) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[key]
	delete(m.sessions, key)
	return s
}

// Sessions returns a snapshot of the open sessions.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.info())
	}
	return out
}

// PooledWorkers returns the number of parked workers.
func (m *Manager) PooledWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.size()
}

func (m *Manager) counts() (int64, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sessions)), int64(m.pool.size())
}

// Close discards every worker without emitting transcripts for open sessions
// and waits for worker goroutines until ctx expires.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[protocol.SessionKey]*Session)
	free := m.pool.drain()
	m.mu.Unlock()

	m.cancel()
	for _, s := range sessions {
		s.worker.discard()
	}
	for _, w := range free {
		w.discard()
	}

	done := make(chan struct{})
	go func() {
		m.finalizers.Wait()
		m.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for transcriber workers: %w", ctx.Err())
	}
}

func (m *Manager) emit(evt protocol.Event) {
	if m.opts.Emit != nil {
		m.opts.Emit(evt)
	}
}

func (m *Manager) emitError(err error, detail, siteID string, key protocol.SessionKey) {
	m.log.Warn("asr error",
		slog.String("site_id", siteID),
		slog.String("session_id", key.String()),
		slog.String("context", detail),
		slogError(err),
	)
	m.emit(protocol.AsrError{
		Error:     err.Error(),
		Context:   detail,
		SiteID:    siteID,
		SessionID: key,
	})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
