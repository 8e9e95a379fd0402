package asr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-asr/internal/audio"
	"github.com/loqalabs/loqa-asr/internal/protocol"
	"github.com/loqalabs/loqa-asr/internal/silence"
	"github.com/loqalabs/loqa-asr/internal/stt"
)

var testFormat = audio.Format{SampleRate: 16000, SampleWidth: 2, Channels: 1}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine echoes the first byte of each chunk it received as its text,
// e.g. "[1 2 3]", unless text is set. blank yields an empty transcript.
type fakeEngine struct {
	text   string
	blank  bool
	tokens []stt.Token
	hang   chan struct{}
	err    error
	panics bool

	mu      sync.Mutex
	chunks  [][]byte
	decodes int
	stopped atomic.Bool
}

func (e *fakeEngine) TranscribeStream(_ context.Context, frames stt.FrameStream, _ audio.Format) (*stt.Transcription, error) {
	var firsts []int
	for {
		chunk, ok := frames.Next()
		if !ok {
			break
		}
		e.mu.Lock()
		e.chunks = append(e.chunks, chunk)
		e.mu.Unlock()
		firsts = append(firsts, int(chunk[0]))
	}
	e.mu.Lock()
	e.decodes++
	e.mu.Unlock()

	if e.hang != nil {
		<-e.hang
	}
	if e.panics {
		panic("engine exploded")
	}
	if e.err != nil {
		return nil, e.err
	}
	text := e.text
	if text == "" && !e.blank {
		text = fmt.Sprint(firsts)
	}
	return &stt.Transcription{Text: text, Likelihood: 0.9, TranscribeSeconds: 0.25, Tokens: e.tokens}, nil
}

func (e *fakeEngine) Stop() error {
	e.stopped.Store(true)
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	engines []*fakeEngine
	build   func(n int) (*fakeEngine, error)
}

func (f *fakeFactory) factory() stt.Factory {
	return func() (stt.Transcriber, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var (
			e   *fakeEngine
			err error
		)
		if f.build != nil {
			e, err = f.build(len(f.engines))
		} else {
			e = &fakeEngine{}
		}
		if err != nil {
			return nil, err
		}
		f.engines = append(f.engines, e)
		return e, nil
	}
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

// countRecorder ends the command after endAfter chunks.
type countRecorder struct {
	endAfter int
	n        int
	audio    []byte
}

func (r *countRecorder) Start() {
	r.n = 0
	r.audio = nil
}

func (r *countRecorder) ProcessChunk(chunk []byte) bool {
	r.audio = append(r.audio, chunk...)
	r.n++
	return r.endAfter > 0 && r.n >= r.endAfter
}

func (r *countRecorder) Stop() []byte { return r.audio }

type collector struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (c *collector) emit(evt protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collector) snapshot() []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Event(nil), c.events...)
}

func (c *collector) waitFor(t *testing.T, what string, cond func([]protocol.Event) bool) []protocol.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		events := c.snapshot()
		if cond(events) {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; events: %+v", what, c.snapshot())
	return nil
}

func count[T protocol.Event](events []protocol.Event) int {
	n := 0
	for _, evt := range events {
		if _, ok := evt.(T); ok {
			n++
		}
	}
	return n
}

func first[T protocol.Event](events []protocol.Event) (T, bool) {
	for _, evt := range events {
		if v, ok := evt.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func hasTranscript(events []protocol.Event) bool {
	return count[protocol.TextCaptured](events) > 0
}

func newTestManager(t *testing.T, factory *fakeFactory, configure func(*Options)) (*Manager, *collector) {
	t.Helper()
	events := &collector{}
	opts := Options{
		Format:        testFormat,
		Language:      "en-US",
		ResultTimeout: 2 * time.Second,
		Transcribers:  factory.factory(),
		Recorders:     func() (silence.Recorder, error) { return &countRecorder{endAfter: 2}, nil },
		Emit:          events.emit,
		Logger:        discardLogger(),
	}
	if configure != nil {
		configure(&opts)
	}
	m, err := NewManager(context.Background(), opts)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.Close(ctx); err != nil {
			t.Errorf("close manager: %v", err)
		}
	})
	return m, events
}

func frame(site string, first byte) protocol.AudioFrame {
	return protocol.AudioFrame{SiteID: site, Audio: protocol.AudioPayload{PCM: []byte{first, 0, first, 0}}}
}

func sessionFrame(site, session string, first byte) protocol.AudioSessionFrame {
	return protocol.AudioSessionFrame{
		SiteID:    site,
		SessionID: protocol.NamedSession(session),
		Audio:     protocol.AudioPayload{PCM: []byte{first, 0, first, 0}},
	}
}
