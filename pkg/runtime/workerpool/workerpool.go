// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package workerpool implements the Worker Pool: parallel workers for
// document chunking and metadata extraction, independent of
// inference, with a bounded priority queue, per-task timeout, and
// batching.
package workerpool

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logger "github.com/glasscore/infercore/pkg/log"
	"github.com/glasscore/infercore/pkg/runtime/rterrors"
)

var log = logger.NewLogger("workerpool")

// Fn is the unit of work a Task performs.
type Fn func(ctx context.Context) (interface{}, error)

// Task is one unit of preprocessing work.
type Task struct {
	ID       string
	Priority int
	Fn       Fn

	submittedAt time.Time
	index       int // heap bookkeeping
}

// Result is delivered on Pool.Results() once a Task finishes.
type Result struct {
	TaskID  string
	Value   interface{}
	Err     error
	Latency time.Duration
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].submittedAt.Before(h[j].submittedAt)
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *taskHeap) Push(x interface{}) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// Config tunes the pool.
type Config struct {
	MaxWorkers    int           // default runtime.NumCPU()
	MaxQueueSize  int           // default 1000
	TaskTimeout   time.Duration // default 5 minutes
	BatchSize     int           // default 10
	BatchTimeout  time.Duration // default 5 seconds
}

// DefaultConfig returns sensible pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:   runtime.NumCPU(),
		MaxQueueSize: 1000,
		TaskTimeout:  5 * time.Minute,
		BatchSize:    10,
		BatchTimeout: 5 * time.Second,
	}
}

// Pool is the bounded, prioritized worker pool.
type Pool struct {
	cfg Config

	mu    sync.Mutex
	cond  *sync.Cond
	queue taskHeap

	results     chan Result
	stopCh      chan struct{}
	stoppedFlag bool
	wg          sync.WaitGroup
}

// New creates a Pool with cfg, defaulting any zero fields.
func New(cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = def.BatchTimeout
	}

	p := &Pool{
		cfg:     cfg,
		results: make(chan Result, cfg.MaxQueueSize),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Results returns the channel on which task results are delivered.
func (p *Pool) Results() <-chan Result { return p.results }

// Start launches cfg.MaxWorkers worker goroutines.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.stopCh != nil {
		p.mu.Unlock()
		return
	}
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	for i := 0; i < p.cfg.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop terminates all workers once their current task finishes.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopCh != nil && !p.stoppedFlag {
		p.stoppedFlag = true
		close(p.stopCh)
	}
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

// Submit enqueues task, failing fast with QueueFull at capacity.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) >= p.cfg.MaxQueueSize {
		return rterrors.QueueFullf("workerpool.queue_full", "queue at capacity (%d)", p.cfg.MaxQueueSize)
	}
	task.submittedAt = time.Now()
	heap.Push(&p.queue, &task)
	p.cond.Signal()
	return nil
}

// QueueLen reports the current queue depth.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) stopped() bool {
	return p.stoppedFlag
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped() {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		task := heap.Pop(&p.queue).(*Task)
		p.mu.Unlock()

		p.execute(task)
	}
}

func (p *Pool) execute(task *Task) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.TaskTimeout)
	defer cancel()

	start := time.Now()
	value, err := task.Fn(ctx)
	latency := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		err = rterrors.Timeoutf("workerpool.task_timeout", "task %q exceeded %s", task.ID, p.cfg.TaskTimeout)
	}

	select {
	case p.results <- Result{TaskID: task.ID, Value: value, Err: err, Latency: latency}:
	default:
		log.Warn("results channel full, dropping result for task %q", task.ID)
	}
}

// Batcher accumulates items and flushes them to fn either once
// batchSize items have arrived or batchTimeout has elapsed since the
// first unflushed item, whichever comes first. It paces its flush
// check with a rate.Limiter rather than a bare ticker.
type Batcher struct {
	mu        sync.Mutex
	items     []interface{}
	firstAt   time.Time
	batchSize int
	timeout   time.Duration
	fn        func([]interface{})
	limiter   *rate.Limiter
	stopCh    chan struct{}
}

// NewBatcher creates a Batcher that flushes via fn.
func NewBatcher(batchSize int, timeout time.Duration, fn func([]interface{})) *Batcher {
	if batchSize <= 0 {
		batchSize = 10
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Batcher{
		batchSize: batchSize,
		timeout:   timeout,
		fn:        fn,
		limiter:   rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

// Add appends item, flushing immediately if the batch is now full.
func (b *Batcher) Add(item interface{}) {
	b.mu.Lock()
	if len(b.items) == 0 {
		b.firstAt = time.Now()
	}
	b.items = append(b.items, item)
	full := len(b.items) >= b.batchSize
	b.mu.Unlock()

	if full {
		b.Flush()
	}
}

// Flush delivers and clears any pending items.
func (b *Batcher) Flush() {
	b.mu.Lock()
	if len(b.items) == 0 {
		b.mu.Unlock()
		return
	}
	items := b.items
	b.items = nil
	b.mu.Unlock()

	b.fn(items)
}

// Start launches the periodic timeout-flush loop.
func (b *Batcher) Start(ctx context.Context) {
	b.stopCh = make(chan struct{})
	go func() {
		for {
			if err := b.limiter.Wait(ctx); err != nil {
				return
			}
			select {
			case <-b.stopCh:
				return
			default:
			}

			b.mu.Lock()
			due := len(b.items) > 0 && time.Since(b.firstAt) >= b.timeout
			b.mu.Unlock()
			if due {
				b.Flush()
			}
		}
	}()
}

// Stop terminates the periodic flush loop.
func (b *Batcher) Stop() {
	if b.stopCh != nil {
		close(b.stopCh)
	}
}
