package asr

import (
	"sync"
	"time"

	"github.com/loqalabs/loqa-asr/internal/protocol"
	"github.com/loqalabs/loqa-asr/internal/silence"
)

// Session is one open recognition request. It is registered from
// StartListening until StopListening and owns exactly one worker.
type Session struct {
	key       protocol.SessionKey
	siteID    string
	start     protocol.StartListening
	worker    *Worker
	startedAt time.Time

	mu       sync.Mutex
	recorder silence.Recorder
	audio    []byte
	// resultSent is set once finalize has begun; later attempts are no-ops.
	resultSent bool
	finished   chan struct{}
	finishOnce sync.Once
}

func newSession(msg protocol.StartListening, w *Worker, recorder silence.Recorder) *Session {
	s := &Session{
		key:       msg.SessionID,
		siteID:    msg.SiteID,
		start:     msg,
		worker:    w,
		startedAt: time.Now().UTC(),
		recorder:  recorder,
		finished:  make(chan struct{}),
	}
	if recorder == nil {
		s.audio = []byte{}
	}
	return s
}

// SessionInfo is a read-only snapshot of an open session.
type SessionInfo struct {
	SiteID        string              `json:"site_id"`
	SessionID     protocol.SessionKey `json:"session_id"`
	WorkerID      string              `json:"worker_id"`
	StopOnSilence bool                `json:"stop_on_silence"`
	Finalizing    bool                `json:"finalizing"`
	QueuedFrames  int                 `json:"queued_frames"`
	StartedAt     time.Time           `json:"started_at"`
}

func (s *Session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		SiteID:        s.siteID,
		SessionID:     s.key,
		WorkerID:      s.worker.ID(),
		StopOnSilence: s.recorder != nil,
		Finalizing:    s.resultSent,
		QueuedFrames:  s.worker.queue.len(),
		StartedAt:     s.startedAt,
	}
}

// accept routes one normalized chunk to the session. It reports whether the
// recorder detected the end of the command. Chunks for a finalizing session
// are dropped.
func (s *Session) accept(chunk []byte) (ended bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultSent {
		return false
	}
	s.worker.push(chunk)
	if s.recorder != nil {
		return s.recorder.ProcessChunk(chunk)
	}
	s.audio = append(s.audio, chunk...)
	return false
}

// beginFinalize marks the session finalized and returns the captured audio.
// ok is false if finalize already began. No chunk reaches the worker after
// this returns, so the caller may push the end marker.
func (s *Session) beginFinalize() (captured []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resultSent {
		return nil, false
	}
	s.resultSent = true
	if s.recorder != nil {
		captured = s.recorder.Stop()
	} else {
		captured = s.audio
	}
	return captured, true
}

// markFinished releases callers waiting for an in-flight finalize.
func (s *Session) markFinished() {
	s.finishOnce.Do(func() { close(s.finished) })
}
