package engine

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ABERsara/worldplay-media/internal/config"
)

// WorkerPool owns a fixed set of workers sized at process start, typically
// one per CPU core. New routing domains are assigned round-robin.
type WorkerPool struct {
	mu      sync.Mutex
	workers []*Worker
	next    int
	faults  chan error
}

func NewWorkerPool(cfg config.Engine) (*WorkerPool, error) {
	n := cfg.NumWorkers
	if n <= 0 {
		n = 1
	}
	p := &WorkerPool{faults: make(chan error, n)}
	for i := 0; i < n; i++ {
		w, err := newWorker(i, cfg, p.onFault)
		if err != nil {
			return nil, fmt.Errorf("create worker %d: %w", i, err)
		}
		p.workers = append(p.workers, w)
	}
	log.Info().Str("module", "engine").Int("workers", n).Msg("worker pool ready")
	return p, nil
}

// Acquire returns the next healthy worker round-robin. It fails only when
// every worker has crashed, at which point the process is already on its
// way down.
func (p *WorkerPool) Acquire() (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < len(p.workers); i++ {
		w := p.workers[p.next]
		p.next = (p.next + 1) % len(p.workers)
		if !w.crashed.Load() {
			return w, nil
		}
	}
	return nil, fmt.Errorf("no healthy workers")
}

// Faults delivers fatal engine faults. The receiver is expected to
// terminate the process; engine state cannot be resumed in place.
func (p *WorkerPool) Faults() <-chan error { return p.faults }

func (p *WorkerPool) onFault(err error) {
	select {
	case p.faults <- err:
	default:
	}
}

func (p *WorkerPool) Close() {
	p.mu.Lock()
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.Unlock()
	for _, w := range workers {
		w.Close()
	}
}
