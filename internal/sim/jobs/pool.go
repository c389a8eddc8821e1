package jobs

import (
	"errors"
	"fmt"
	"io"
	"log"
	"runtime/debug"
	"sync"

	"go.uber.org/atomic"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Pool is a fixed set of worker goroutines. Each worker has its own input
// channel; all results funnel into one channel read by a single consumer.
// A worker holds at most one job at a time.
type Pool struct {
	exec   Executor
	logger *log.Logger

	inputs  []chan Job
	results chan Result

	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once

	executed *atomic.Uint64
	failed   *atomic.Uint64
	busy     *atomic.Int64
}

func NewPool(workers int, exec Executor, logger *log.Logger) (*Pool, error) {
	if workers < 1 {
		return nil, fmt.Errorf("worker count must be >= 1, got %d", workers)
	}
	if exec == nil {
		return nil, errors.New("nil executor")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	p := &Pool{
		exec:     exec,
		logger:   logger,
		inputs:   make([]chan Job, workers),
		results:  make(chan Result, workers),
		executed: atomic.NewUint64(0),
		failed:   atomic.NewUint64(0),
		busy:     atomic.NewInt64(0),
	}
	for i := range p.inputs {
		p.inputs[i] = make(chan Job, 1)
		p.wg.Add(1)
		go p.worker(i, p.inputs[i])
	}
	return p, nil
}

func (p *Pool) Size() int { return len(p.inputs) }

// Results is the shared completion channel. It is closed by Close once every
// worker has exited.
func (p *Pool) Results() <-chan Result { return p.results }

// Submit hands j to worker id. Callers must only submit to idle workers.
func (p *Pool) Submit(id int, j Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if id < 0 || id >= len(p.inputs) {
		return fmt.Errorf("worker %d out of range", id)
	}
	select {
	case p.inputs[id] <- j:
		return nil
	default:
		return fmt.Errorf("worker %d is busy", id)
	}
}

// Close stops accepting jobs, waits for running jobs to finish and closes the
// results channel. Results not yet read stay buffered.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		for _, in := range p.inputs {
			close(in)
		}
		p.mu.Unlock()
		p.wg.Wait()
		close(p.results)
	})
}

type PoolStats struct {
	Workers  int
	Busy     int64
	Executed uint64
	Failed   uint64
}

func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:  len(p.inputs),
		Busy:     p.busy.Load(),
		Executed: p.executed.Load(),
		Failed:   p.failed.Load(),
	}
}

func (p *Pool) worker(id int, in <-chan Job) {
	defer p.wg.Done()
	for j := range in {
		p.busy.Inc()
		res := p.run(id, j)
		p.busy.Dec()
		p.executed.Inc()
		if res.Err != nil {
			p.failed.Inc()
			p.logger.Printf("worker %d job %s failed: %v", id, j.ID, res.Err)
		}
		p.results <- res
	}
}

func (p *Pool) run(id int, j Job) (res Result) {
	res = Result{JobID: j.ID, Kind: j.Kind, WorkerID: id}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Printf("worker %d job %s panic: %v\n%s", id, j.ID, r, debug.Stack())
			res.Payload = nil
			res.Err = fmt.Errorf("job %s panicked: %v", j.ID, r)
		}
	}()
	out, err := p.exec.Execute(j)
	if err != nil {
		res.Err = err
		return res
	}
	if out == nil || out.PayloadKind() != j.Kind {
		res.Err = fmt.Errorf("%w: executor returned %T for %s", ErrUnknownPayload, out, j.Kind)
		return res
	}
	res.Payload = out
	return res
}
