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

// Package scheduler implements the Scheduler: admission, FIFO/priority
// queueing, and dispatch of inference tasks to devices through the
// Fallback Coordinator and Session Pool.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	logger "github.com/glasscore/infercore/pkg/log"
	"github.com/glasscore/infercore/pkg/runtime/fallback"
	"github.com/glasscore/infercore/pkg/runtime/hwprobe"
	"github.com/glasscore/infercore/pkg/runtime/rterrors"
	"github.com/glasscore/infercore/pkg/runtime/session"
)

var log = logger.NewLogger("scheduler")

// Status is a task's lifecycle stage.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Options is the per-task options bag.
type Options struct {
	Priority  int
	TimeoutMS int
	Precision string // fp32 | fp16 | int8
	BatchSize int
	Deadline  *time.Time
}

// Result is what AwaitInference returns on success.
type Result struct {
	Outputs    interface{}
	LatencyMS  int64
	DeviceKind hwprobe.Kind
}

// Task is an admitted unit of inference work.
type Task struct {
	ID        string
	ModelPath string
	Inputs    interface{}
	Options   Options
	CreatedAt time.Time

	mu       sync.Mutex
	status   Status
	result   Result
	err      error
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

// closeDone closes t.done exactly once, regardless of whether the
// caller is the task's own run goroutine or a concurrent Cancel.
func (t *Task) closeDone() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// EventKind names the four task lifecycle events.
type EventKind string

const (
	TaskQueued    EventKind = "task-queued"
	TaskStarted   EventKind = "task-started"
	TaskCompleted EventKind = "task-completed"
	TaskError     EventKind = "task-error"
)

// Event is emitted on every task lifecycle transition.
type Event struct {
	Kind   EventKind
	TaskID string
	At     time.Time
}

// Executor runs a task's inference on an acquired session and device.
type Executor func(ctx context.Context, device *hwprobe.Device, handle session.Handle, task *Task) (interface{}, error)

// Config tunes admission and dispatch.
type Config struct {
	MaxConcurrentInferences int
	MaxQueueSize            int
	PriorityScheduling      bool
	PollInterval            time.Duration // default 100ms
}

// DefaultConfig returns sensible admission and dispatch defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentInferences: 4,
		MaxQueueSize:            1000,
		PriorityScheduling:      false,
		PollInterval:            100 * time.Millisecond,
	}
}

// Scheduler admits, queues, and dispatches inference tasks.
type Scheduler struct {
	cfg         Config
	coordinator *fallback.Coordinator
	sessions    *session.Manager
	executor    Executor

	mu      sync.Mutex
	queue   []*Task
	tasks   map[string]*Task
	running int

	events chan Event
	stopCh chan struct{}
}

// New creates a Scheduler wired to coordinator, sessions, and the
// given inference executor.
func New(coordinator *fallback.Coordinator, sessions *session.Manager, executor Executor, cfg Config) *Scheduler {
	if cfg.MaxConcurrentInferences <= 0 {
		cfg.MaxConcurrentInferences = DefaultConfig().MaxConcurrentInferences
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultConfig().MaxQueueSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Scheduler{
		cfg:         cfg,
		coordinator: coordinator,
		sessions:    sessions,
		executor:    executor,
		tasks:       make(map[string]*Task),
		events:      make(chan Event, 1024),
	}
}

// Events returns the scheduler's lifecycle event stream.
func (s *Scheduler) Events() <-chan Event { return s.events }

func (s *Scheduler) emit(kind EventKind, taskID string) {
	select {
	case s.events <- Event{Kind: kind, TaskID: taskID, At: time.Now()}:
	default:
	}
}

// Start launches the 100ms dispatch polling loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	go s.dispatchLoop()
}

// Stop terminates the dispatch loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}

// SubmitInference admits a new task, failing fast with QueueFull if
// the queue is already at max_queue_size.
func (s *Scheduler) SubmitInference(modelPath string, inputs interface{}, opts Options) (string, error) {
	s.mu.Lock()
	if len(s.queue) >= s.cfg.MaxQueueSize {
		s.mu.Unlock()
		return "", rterrors.QueueFullf("scheduler.queue_full", "queue at capacity (%d)", s.cfg.MaxQueueSize)
	}

	task := &Task{
		ID:        uuid.NewString(),
		ModelPath: modelPath,
		Inputs:    inputs,
		Options:   opts,
		CreatedAt: time.Now(),
		status:    StatusQueued,
		done:      make(chan struct{}),
	}
	s.tasks[task.ID] = task
	s.insertLocked(task)
	s.mu.Unlock()

	s.emit(TaskQueued, task.ID)
	return task.ID, nil
}

func (s *Scheduler) insertLocked(task *Task) {
	s.queue = append(s.queue, task)
	if s.cfg.PriorityScheduling {
		sort.SliceStable(s.queue, func(i, j int) bool {
			return s.queue[i].Options.Priority > s.queue[j].Options.Priority
		})
	}
}

// AwaitInference blocks until taskID completes, errors, or is
// cancelled.
func (s *Scheduler) AwaitInference(ctx context.Context, taskID string) (Result, error) {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	s.mu.Unlock()
	if !ok {
		return Result{}, rterrors.InvalidInputf("scheduler.unknown_task", "task %q not found", taskID)
	}

	select {
	case <-task.done:
		task.mu.Lock()
		defer task.mu.Unlock()
		if task.err != nil {
			return Result{}, task.err
		}
		return task.result, nil
	case <-ctx.Done():
		return Result{}, rterrors.Timeoutf("scheduler.await_timeout", "await_inference cancelled for task %q", taskID)
	}
}

// Cancel stops polling for taskID if still queued, or signals its
// context if already running.
func (s *Scheduler) Cancel(taskID string) error {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return rterrors.InvalidInputf("scheduler.unknown_task", "task %q not found", taskID)
	}
	for i, q := range s.queue {
		if q.ID == taskID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	task.mu.Lock()
	switch task.status {
	case StatusCompleted, StatusError, StatusCancelled:
		// Already reached a terminal state; run (or a previous Cancel)
		// owns closing task.done. Don't clobber its result.
		task.mu.Unlock()
		return nil
	}
	wasRunning := task.status == StatusRunning
	cancelFn := task.cancel
	task.status = StatusCancelled
	task.err = rterrors.Cancelledf("scheduler.cancelled", "task %q cancelled", taskID)
	task.mu.Unlock()

	if wasRunning && cancelFn != nil {
		cancelFn()
	} else {
		task.closeDone()
	}
	return nil
}

func (s *Scheduler) dispatchLoop() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.dispatchReady()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) dispatchReady() {
	for {
		s.mu.Lock()
		if s.running >= s.cfg.MaxConcurrentInferences || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue = s.queue[1:]
		s.running++
		s.mu.Unlock()

		go s.run(task)
	}
}

func (s *Scheduler) run(task *Task) {
	defer func() {
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
	}()

	ctx := context.Background()
	if task.Options.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(task.Options.TimeoutMS)*time.Millisecond)
		defer cancel()
		task.mu.Lock()
		task.cancel = cancel
		task.mu.Unlock()
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		task.mu.Lock()
		task.cancel = cancel
		task.mu.Unlock()
	}

	task.setStatus(StatusRunning)
	s.emit(TaskStarted, task.ID)

	start := time.Now()
	pool := s.sessions.PoolFor(task.ModelPath)

	var outcome Result
	var outcomeErr error

	execErr := s.coordinator.ExecuteWithFallback(task.ModelPath, func(device *hwprobe.Device) (time.Duration, error) {
		handle, err := pool.Acquire(ctx, device.ID)
		if err != nil {
			return 0, err
		}
		defer pool.Release(handle, device.ID)

		attemptStart := time.Now()
		outputs, err := s.executor(ctx, device, handle, task)
		latency := time.Since(attemptStart)
		if err != nil {
			return latency, err
		}
		outcome = Result{Outputs: outputs, LatencyMS: latency.Milliseconds(), DeviceKind: device.Kind}
		return latency, nil
	})

	task.mu.Lock()
	if task.status == StatusCancelled {
		task.mu.Unlock()
		task.closeDone()
		return
	}
	if execErr != nil {
		outcomeErr = execErr
		task.status = StatusError
		task.err = execErr
	} else {
		task.status = StatusCompleted
		task.result = outcome
	}
	task.mu.Unlock()
	task.closeDone()

	if outcomeErr != nil {
		s.emit(TaskError, task.ID)
		log.Warn("task %s failed after %s: %v", task.ID, time.Since(start), outcomeErr)
	} else {
		s.emit(TaskCompleted, task.ID)
	}
}

// QueueLen reports the current queue depth, for diagnostics and tests.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
