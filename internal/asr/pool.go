package asr

// pool is the free list of parked workers. It is guarded by Manager.mu.
type pool struct {
	free []*Worker
}

// get pops the most recently parked worker, if any.
func (p *pool) get() *Worker {
	n := len(p.free)
	if n == 0 {
		return nil
	}
	w := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	return w
}

func (p *pool) put(w *Worker) {
	p.free = append(p.free, w)
}

func (p *pool) size() int {
	return len(p.free)
}

// drain empties the pool and returns the workers it held.
func (p *pool) drain() []*Worker {
	free := p.free
	p.free = nil
	return free
}
