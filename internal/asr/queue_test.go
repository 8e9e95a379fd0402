package asr

import (
	"testing"
	"time"
)

func TestUtteranceStreamStopsAtEndMarker(t *testing.T) {
	q := newFrameQueue()
	q.push([]byte{1})
	q.push([]byte{2})
	q.pushEnd()
	q.push([]byte{3})
	q.pushEnd()

	first := &utteranceStream{q: q}
	if got := drainStream(first); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("first utterance: %v", got)
	}
	if _, ok := first.Next(); ok {
		t.Fatalf("finished stream must stay finished")
	}

	second := &utteranceStream{q: q}
	if got := drainStream(second); len(got) != 1 || got[0] != 3 {
		t.Fatalf("second utterance: %v", got)
	}
}

func TestFrameQueueCloseUnblocksPop(t *testing.T) {
	q := newFrameQueue()
	done := make(chan bool)
	go func() {
		_, ok := q.pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.close()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("pop after close must report closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("pop did not return after close")
	}

	q.push([]byte{1})
	if q.len() != 0 {
		t.Fatalf("closed queue must not accept items")
	}
}

func TestFrameQueueDrain(t *testing.T) {
	q := newFrameQueue()
	q.push([]byte{1})
	q.pushEnd()
	q.drain()
	if q.len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.len())
	}
}

func TestPoolIsLIFO(t *testing.T) {
	var p pool
	a, b := &Worker{id: "a"}, &Worker{id: "b"}
	p.put(a)
	p.put(b)
	if got := p.get(); got != b {
		t.Fatalf("expected most recently parked worker")
	}
	if p.size() != 1 {
		t.Fatalf("expected one pooled worker")
	}
	if drained := p.drain(); len(drained) != 1 || drained[0] != a {
		t.Fatalf("unexpected drain %v", drained)
	}
	if p.get() != nil {
		t.Fatalf("empty pool must return nil")
	}
}

func drainStream(s *utteranceStream) []byte {
	var firsts []byte
	for {
		chunk, ok := s.Next()
		if !ok {
			return firsts
		}
		firsts = append(firsts, chunk[0])
	}
}
