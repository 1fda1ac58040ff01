package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// Task is a unit of background work submitted by a request handler.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Executor runs submitted tasks on a fixed worker pool with structured
// error logging; handlers submit instead of spawning detached goroutines.
type Executor struct {
	log     *logrus.Entry
	tasks   chan Task
	workers int

	wg       sync.WaitGroup
	closed   chan struct{}
	closeOne sync.Once
}

func NewExecutor(workers, backlog int, log *logrus.Entry) *Executor {
	if workers <= 0 {
		workers = 4
	}
	if backlog <= 0 {
		backlog = 64
	}
	return &Executor{
		log:     log,
		tasks:   make(chan Task, backlog),
		workers: workers,
		closed:  make(chan struct{}),
	}
}

// Start launches the worker pool. Workers drain remaining tasks after the
// context is cancelled, then exit.
func (e *Executor) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx)
	}
}

func (e *Executor) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case task := <-e.tasks:
			e.runTask(ctx, task)
		case <-ctx.Done():
			for {
				select {
				case task := <-e.tasks:
					e.runTask(context.Background(), task)
				default:
					return
				}
			}
		}
	}
}

func (e *Executor) runTask(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("task %s panicked: %v", task.Name, r)
			sentry.CaptureException(err)
			e.log.WithField("task", task.Name).Error(err)
		}
	}()
	if err := task.Run(ctx); err != nil {
		sentry.CaptureException(err)
		e.log.WithError(err).WithField("task", task.Name).Error("background task failed")
	}
}

// Submit queues a task, blocking while the backlog is full. Returns an
// error once the executor is shut down.
func (e *Executor) Submit(name string, fn func(ctx context.Context) error) error {
	select {
	case <-e.closed:
		return fmt.Errorf("executor is shut down")
	default:
	}
	select {
	case e.tasks <- Task{Name: name, Run: fn}:
		return nil
	case <-e.closed:
		return fmt.Errorf("executor is shut down")
	}
}

// Shutdown stops accepting tasks and waits for in-flight work.
func (e *Executor) Shutdown() {
	e.closeOne.Do(func() { close(e.closed) })
	e.wg.Wait()
}
