package worker

import (
	"container/list"
	"sync"
	"time"
)

type sessionQueue struct {
	jobs     []Job
	enqueued bool
}

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

// Dispatcher fans analysis jobs out to the worker pool, round-robining
// between sessions so one large batch cannot starve another device's
// handoff.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // interface for outer jobs get in the dispatcher

	mu        sync.Mutex
	queues    map[string]*sessionQueue // job queue for each session
	ready     *list.List               // LRU queue storing session keys
	positions map[string]*list.Element
}

func NewDispatcher(cfg DispatcherConfig, vision VisionCalling) *Dispatcher {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	pool := newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, vision)
	jobQueue := make(chan Job, cfg.QueueSize)

	d := &Dispatcher{
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		pool:      pool,
		JobQueue:  jobQueue,
	}

	// Warm up workers to keep latency down on the first batch.
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

func (d *Dispatcher) run() {
	for {
		if !d.hasReady() {
			d.enqueueJob(<-d.JobQueue) // force congestion
		}
		// move everything already admitted into the session queues, so a
		// cancel issued while we wait for a worker can still drop it
		drained := false
		for !drained {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			default:
				drained = true
			}
		}

		workerChan := d.pool.acquire()
		job, key, ok := d.popNext()
		if !ok {
			// everything queued was cancelled while we waited
			d.pool.Release(workerChan)
			continue
		}
		debugLog("[dispatcher] assign %v job for session %s", job.Type, key)
		workerChan <- job
	}
}

func (d *Dispatcher) hasReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready.Len() > 0
}

// CancelSession drops all queued jobs for a session, settling each so
// its waiter unblocks. Jobs already running are left to finish.
func (d *Dispatcher) CancelSession(key string) {
	d.mu.Lock()
	q := d.queues[key]
	delete(d.queues, key)
	if elem, ok := d.positions[key]; ok {
		d.ready.Remove(elem)
		delete(d.positions, key)
	}
	d.mu.Unlock()

	if q == nil {
		return
	}
	for _, job := range q.jobs {
		job.fail(errSessionCancelled)
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	key := job.sessionKey()

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[key]
	if q == nil {
		q = &sessionQueue{}
		d.queues[key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		// session already enqueued, skip
		return
	}
	q.enqueued = true
	elem := d.ready.PushBack(key)
	d.positions[key] = elem
}

// popNext takes one job from the session at the front of the LRU queue.
func (d *Dispatcher) popNext() (Job, string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	elem := d.ready.Front()
	if elem == nil {
		return Job{}, "", false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		// session only has one job, it'll be handled, session quits the queue
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		// get to the back of queue
		d.ready.MoveToBack(elem)
	}
	return job, key, true
}
