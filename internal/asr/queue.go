package asr

import "sync"

type queueItem struct {
	chunk []byte
	end   bool
}

// frameQueue is an unbounded FIFO shared by the dispatch path (producer) and
// one worker goroutine (consumer). An end item marks the utterance boundary.
type frameQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []queueItem
	closed bool
}

func newFrameQueue() *frameQueue {
	q := &frameQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *frameQueue) push(chunk []byte) {
	q.put(queueItem{chunk: chunk})
}

func (q *frameQueue) pushEnd() {
	q.put(queueItem{end: true})
}

func (q *frameQueue) put(item queueItem) {
	q.mu.Lock()
	if !q.closed {
		q.items = append(q.items, item)
	}
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until an item is available. ok is false when the queue has been
// closed.
func (q *frameQueue) pop() (item queueItem, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return queueItem{}, false
	}
	item = q.items[0]
	q.items[0] = queueItem{}
	q.items = q.items[1:]
	return item, true
}

func (q *frameQueue) drain() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *frameQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.cond.Broadcast()
}

// utteranceStream adapts the queue to stt.FrameStream for one utterance.
type utteranceStream struct {
	q    *frameQueue
	done bool
}

func (s *utteranceStream) Next() ([]byte, bool) {
	if s.done {
		return nil, false
	}
	item, ok := s.q.pop()
	if !ok || item.end {
		s.done = true
		return nil, false
	}
	return item.chunk, true
}
