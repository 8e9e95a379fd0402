package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-asr/internal/audio"
	"github.com/loqalabs/loqa-asr/internal/stt"
)

var errNoTranscription = errors.New("recognizer returned no transcription")

// Worker wraps one recognizer engine running on its own goroutine. It
// produces exactly one result per activation: the dispatch path sets ready,
// streams frames through the queue, pushes the end marker and waits on
// result.
type Worker struct {
	id      string
	factory stt.Factory
	format  audio.Format
	reuse   bool
	log     *slog.Logger
	metrics *metrics

	queue  *frameQueue
	ready  chan struct{}
	signal chan struct{}
	quit   chan struct{}
	done   chan struct{}

	quitOnce sync.Once
	reusable atomic.Bool
	engine   atomic.Bool

	mu     sync.Mutex
	result *stt.Transcription
}

func newWorker(factory stt.Factory, format audio.Format, reuse bool, log *slog.Logger, m *metrics) *Worker {
	id := uuid.NewString()
	w := &Worker{
		id:      id,
		factory: factory,
		format:  format,
		reuse:   reuse,
		log:     log.With(slog.String("worker", id)),
		metrics: m,
		queue:   newFrameQueue(),
		ready:   make(chan struct{}, 1),
		signal:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.reusable.Store(reuse)
	return w
}

// ID identifies the worker in logs and session snapshots.
func (w *Worker) ID() string { return w.id }

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	engine, err := w.construct()
	if err != nil {
		w.log.Warn("failed to construct recognizer", slogError(err))
		w.fail()
		return
	}
	w.engine.Store(true)
	defer w.stopEngine(engine)

	for {
		select {
		case <-w.ready:
		case <-w.quit:
			return
		}

		result, err := w.decode(ctx, engine)
		if err != nil {
			w.log.Warn("transcription failed", slogError(err))
			w.metrics.decodeFailed(ctx)
			w.fail()
			return
		}
		w.metrics.decoded(ctx, result.TranscribeSeconds)
		w.publish(result)

		if !w.reuse {
			return
		}
	}
}

func (w *Worker) construct() (engine stt.Transcriber, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recognizer construction panicked: %v", r)
		}
	}()
	engine, err = w.factory()
	if err == nil && engine == nil {
		err = errors.New("recognizer factory returned nil")
	}
	return engine, err
}

func (w *Worker) decode(ctx context.Context, engine stt.Transcriber) (result *stt.Transcription, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recognizer panicked: %v", r)
		}
	}()
	result, err = engine.TranscribeStream(ctx, &utteranceStream{q: w.queue}, w.format)
	if err == nil && (result == nil || result.Text == "") {
		err = errNoTranscription
	}
	return result, err
}

func (w *Worker) stopEngine(engine stt.Transcriber) {
	w.engine.Store(false)
	defer func() {
		if r := recover(); r != nil {
			w.log.Warn("recognizer stop panicked", slog.Any("panic", r))
		}
	}()
	if err := engine.Stop(); err != nil {
		w.log.Warn("failed to stop recognizer", slogError(err))
	}
}

// fail records an empty outcome and marks the worker unusable. The result
// signal is still raised so a waiting finalizer returns promptly.
func (w *Worker) fail() {
	w.reusable.Store(false)
	w.publish(nil)
}

func (w *Worker) publish(result *stt.Transcription) {
	w.mu.Lock()
	w.result = result
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// activate starts a new utterance.
func (w *Worker) activate() {
	select {
	case w.ready <- struct{}{}:
	default:
	}
}

func (w *Worker) push(chunk []byte) { w.queue.push(chunk) }

func (w *Worker) endUtterance() { w.queue.pushEnd() }

// wait blocks until the worker publishes a result or ctx expires. ok is false
// on expiry, in which case the last stored result (possibly nil) is returned.
func (w *Worker) wait(ctx context.Context) (result *stt.Transcription, ok bool) {
	select {
	case <-w.signal:
		ok = true
	case <-ctx.Done():
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result, ok
}

// canReuse reports whether the worker may go back to the pool.
func (w *Worker) canReuse() bool {
	return w.reuse && w.reusable.Load() && w.engine.Load()
}

func (w *Worker) markUnusable() {
	w.reusable.Store(false)
}

// reset clears per-session state before the worker is pooled.
func (w *Worker) reset() {
	w.mu.Lock()
	w.result = nil
	w.mu.Unlock()
	select {
	case <-w.signal:
	default:
	}
	select {
	case <-w.ready:
	default:
	}
	w.queue.drain()
}

// discard asks the goroutine to exit and stop its engine. A decode that never
// returns leaves the goroutine orphaned.
func (w *Worker) discard() {
	w.quitOnce.Do(func() {
		w.reusable.Store(false)
		close(w.quit)
		w.queue.close()
	})
}
