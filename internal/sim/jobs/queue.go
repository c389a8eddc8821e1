package jobs

import (
	"container/list"
	"io"
	"log"

	"go.uber.org/atomic"
)

// Dispatcher is the worker side of a Queue. *Pool implements it.
type Dispatcher interface {
	Size() int
	Submit(worker int, j Job) error
}

// Callback receives the result of a finished job.
type Callback func(Result)

type inflightJob struct {
	job       Job
	worker    int
	cancelled bool
}

// Queue tracks every job from enqueue to result delivery. It is not safe for
// concurrent use: Enqueue, RemoveRequest, DispatchTick and OnWorkerResult
// must all run on the orchestrating goroutine. Stats may be read from any
// goroutine.
type Queue struct {
	pool   Dispatcher
	logger *log.Logger

	pending  *list.List // of Job, head dispatches first
	index    map[string]*list.Element
	inflight map[string]*inflightJob
	busy     []bool
	idle     []int // FIFO of idle worker ids

	callbacks map[Kind]Callback

	stats queueCounters
}

type queueCounters struct {
	enqueued   *atomic.Uint64
	duplicates *atomic.Uint64
	malformed  *atomic.Uint64
	removed    *atomic.Uint64
	dispatched *atomic.Uint64
	completed  *atomic.Uint64
	failed     *atomic.Uint64
	stale      *atomic.Uint64
	pending    *atomic.Int64
	inflight   *atomic.Int64
}

type QueueStats struct {
	Enqueued   uint64
	Duplicates uint64
	Malformed  uint64
	Removed    uint64
	Dispatched uint64
	Completed  uint64
	Failed     uint64
	Stale      uint64
	Pending    int64
	InFlight   int64
}

func NewQueue(pool Dispatcher, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	n := pool.Size()
	q := &Queue{
		pool:      pool,
		logger:    logger,
		pending:   list.New(),
		index:     map[string]*list.Element{},
		inflight:  map[string]*inflightJob{},
		busy:      make([]bool, n),
		idle:      make([]int, 0, n),
		callbacks: map[Kind]Callback{},
		stats: queueCounters{
			enqueued:   atomic.NewUint64(0),
			duplicates: atomic.NewUint64(0),
			malformed:  atomic.NewUint64(0),
			removed:    atomic.NewUint64(0),
			dispatched: atomic.NewUint64(0),
			completed:  atomic.NewUint64(0),
			failed:     atomic.NewUint64(0),
			stale:      atomic.NewUint64(0),
			pending:    atomic.NewInt64(0),
			inflight:   atomic.NewInt64(0),
		},
	}
	for i := 0; i < n; i++ {
		q.idle = append(q.idle, i)
	}
	return q
}

// OnResult registers the callback for results of kind. A later call for the
// same kind replaces it.
func (q *Queue) OnResult(kind Kind, cb Callback) {
	q.callbacks[kind] = cb
}

// Enqueue adds j at the tail, or at the head when priority is set. It
// returns false with a nil error when a job with the same id is queued or
// in flight, and ErrMalformedJob when j is incomplete.
func (q *Queue) Enqueue(j Job, priority bool) (bool, error) {
	if err := j.Validate(); err != nil {
		q.stats.malformed.Inc()
		return false, err
	}
	if q.Has(j.ID) {
		q.stats.duplicates.Inc()
		return false, nil
	}
	var e *list.Element
	if priority {
		e = q.pending.PushFront(j)
	} else {
		e = q.pending.PushBack(j)
	}
	q.index[j.ID] = e
	q.stats.enqueued.Inc()
	q.stats.pending.Inc()
	return true, nil
}

func (q *Queue) AddRequest(j Job) bool {
	ok, err := q.Enqueue(j, false)
	if err != nil {
		q.logger.Printf("drop job: %v", err)
	}
	return ok
}

func (q *Queue) AddPriorityRequest(j Job) bool {
	ok, err := q.Enqueue(j, true)
	if err != nil {
		q.logger.Printf("drop job: %v", err)
	}
	return ok
}

// RemoveRequest drops a queued job and reports whether it did. A job already
// dispatched keeps running; it is marked so its result arrives with
// Cancelled set, and RemoveRequest returns false.
func (q *Queue) RemoveRequest(id string) bool {
	if e, ok := q.index[id]; ok {
		q.pending.Remove(e)
		delete(q.index, id)
		q.stats.removed.Inc()
		q.stats.pending.Dec()
		return true
	}
	if f, ok := q.inflight[id]; ok {
		f.cancelled = true
	}
	return false
}

// DispatchTick assigns queued jobs to idle workers, head first, and returns
// how many were dispatched.
func (q *Queue) DispatchTick() int {
	n := 0
	for len(q.idle) > 0 && q.pending.Len() > 0 {
		w := q.idle[0]
		e := q.pending.Front()
		j := e.Value.(Job)
		if err := q.pool.Submit(w, j); err != nil {
			// Leave the job at the head; the worker is retried next tick.
			q.logger.Printf("dispatch %s to worker %d: %v", j.ID, w, err)
			break
		}
		q.idle = q.idle[1:]
		q.busy[w] = true
		q.pending.Remove(e)
		delete(q.index, j.ID)
		q.inflight[j.ID] = &inflightJob{job: j, worker: w}
		q.stats.pending.Dec()
		q.stats.inflight.Inc()
		q.stats.dispatched.Inc()
		n++
	}
	return n
}

// OnWorkerResult frees the reporting worker, clears the job bookkeeping and
// invokes the callback registered for the job kind.
func (q *Queue) OnWorkerResult(r Result) {
	q.release(r.WorkerID)
	f, ok := q.inflight[r.JobID]
	if !ok {
		q.logger.Printf("result for unknown job %s from worker %d", r.JobID, r.WorkerID)
		return
	}
	delete(q.inflight, r.JobID)
	q.stats.inflight.Dec()
	q.stats.completed.Inc()
	if f.cancelled {
		r.Cancelled = true
		q.stats.stale.Inc()
	}
	if r.Err != nil {
		q.stats.failed.Inc()
	}
	if cb := q.callbacks[r.Kind]; cb != nil {
		cb(r)
	}
}

func (q *Queue) release(w int) {
	if w < 0 || w >= len(q.busy) || !q.busy[w] {
		return
	}
	q.busy[w] = false
	q.idle = append(q.idle, w)
}

// Has reports whether id is queued or in flight.
func (q *Queue) Has(id string) bool {
	if _, ok := q.index[id]; ok {
		return true
	}
	_, ok := q.inflight[id]
	return ok
}

func (q *Queue) Queued(id string) bool {
	_, ok := q.index[id]
	return ok
}

func (q *Queue) IsInFlight(id string) bool {
	_, ok := q.inflight[id]
	return ok
}

func (q *Queue) Len() int      { return q.pending.Len() }
func (q *Queue) InFlight() int { return len(q.inflight) }
func (q *Queue) Idle() int     { return len(q.idle) }

// PendingIDs returns queued job ids in dispatch order.
func (q *Queue) PendingIDs() []string {
	out := make([]string, 0, q.pending.Len())
	for e := q.pending.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Job).ID)
	}
	return out
}

func (q *Queue) Stats() QueueStats {
	s := q.stats
	return QueueStats{
		Enqueued:   s.enqueued.Load(),
		Duplicates: s.duplicates.Load(),
		Malformed:  s.malformed.Load(),
		Removed:    s.removed.Load(),
		Dispatched: s.dispatched.Load(),
		Completed:  s.completed.Load(),
		Failed:     s.failed.Load(),
		Stale:      s.stale.Load(),
		Pending:    s.pending.Load(),
		InFlight:   s.inflight.Load(),
	}
}
