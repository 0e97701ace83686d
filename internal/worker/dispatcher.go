// Package worker runs the background side of the system: a pool of
// dispatcher goroutines claims queued tasks and invokes the handler
// registered for each task type. Handlers are opaque to the dispatcher; it
// only routes outcomes to complete/fail and keeps the loop alive.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/docpare/docpare-back/internal/domain"
	"github.com/docpare/docpare-back/internal/queue"
	"github.com/docpare/docpare-back/internal/repository"
)

// HandlerResult is what a handler reports on success. Next lists follow-up
// tasks to enqueue; they are only enqueued when the handler succeeded, which
// is how extraction gates comparison.
type HandlerResult struct {
	Next []domain.TaskRequest
}

// Handler processes one claimed task. Returning an error (or panicking)
// routes the task through the retry/terminal-failure path; it never crashes
// the dispatch loop.
type Handler func(ctx context.Context, task *domain.QueueTask) (HandlerResult, error)

type Config struct {
	Workers      int
	PollInterval time.Duration
	ReapInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = 30 * time.Second
	}
	return c
}

type Dispatcher struct {
	queue   *queue.Queue
	records repository.RecordStore
	config  Config
	logger  *log.Logger

	mu       sync.RWMutex
	handlers map[domain.TaskType]Handler
}

func NewDispatcher(taskQueue *queue.Queue, records repository.RecordStore, cfg Config, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		queue:    taskQueue,
		records:  records,
		config:   cfg.withDefaults(),
		logger:   logger,
		handlers: make(map[domain.TaskType]Handler),
	}
}

// RegisterHandler binds a handler to a task type. Only registered types are
// claimed, so a deployment without an export handler simply leaves export
// tasks queued.
func (d *Dispatcher) RegisterHandler(taskType domain.TaskType, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[taskType] = handler
}

// Start runs workers and the stale-claim reaper until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			d.runWorker(ctx, workerID)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.runReaper(ctx)
	}()

	wg.Wait()
}

func (d *Dispatcher) runWorker(ctx context.Context, workerID int) {
	for ctx.Err() == nil {
		task, err := d.queue.ClaimNext(ctx, d.registeredTypes()...)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if d.logger != nil {
				d.logger.Printf("worker claim error worker=%d err=%v", workerID, err)
			}
			d.queue.WaitForWork(ctx, d.config.PollInterval)
			continue
		}
		if task == nil {
			d.queue.WaitForWork(ctx, d.config.PollInterval)
			continue
		}
		d.dispatch(ctx, task)
	}
}

func (d *Dispatcher) runReaper(ctx context.Context) {
	ticker := time.NewTicker(d.config.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := d.queue.ReapStale(ctx)
			if err != nil && d.logger != nil {
				d.logger.Printf("reaper error: %v", err)
			}
			if reaped > 0 && d.logger != nil {
				d.logger.Printf("reaper requeued stale claims count=%d", reaped)
			}
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, task *domain.QueueTask) {
	handler := d.handlerFor(task.TaskType)
	if handler == nil {
		d.failTask(ctx, task, fmt.Errorf("no handler registered for %s", task.TaskType))
		return
	}

	result, err := invoke(ctx, handler, task)
	if err != nil {
		d.failTask(ctx, task, err)
		return
	}

	if err := d.queue.Complete(ctx, task.ID); err != nil {
		if d.logger != nil {
			d.logger.Printf("complete failed task_id=%s err=%v", task.ID, err)
		}
		return
	}
	for _, next := range result.Next {
		if _, err := d.queue.Enqueue(ctx, next); err != nil && d.logger != nil {
			d.logger.Printf("follow-up enqueue failed task_id=%s type=%s err=%v", task.ID, next.TaskType, err)
		}
	}
	if d.logger != nil {
		d.logger.Printf("task processed task_id=%s type=%s", task.ID, task.TaskType)
	}
}

// invoke shields the loop from handler panics.
func invoke(ctx context.Context, handler Handler, task *domain.QueueTask) (result HandlerResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panicked: %v", recovered)
		}
	}()
	return handler(ctx, task)
}

func (d *Dispatcher) failTask(ctx context.Context, task *domain.QueueTask, taskErr error) {
	updated, err := d.queue.Fail(ctx, task.ID, taskErr)
	if err != nil {
		if d.logger != nil {
			d.logger.Printf("fail transition error task_id=%s err=%v", task.ID, err)
		}
		return
	}
	if updated.Status == domain.TaskStatusFailed {
		d.markTerminal(ctx, updated)
	}
}

// markTerminal surfaces exhausted retries as entity state rather than an
// exception: the document (or comparison) the task was serving moves to its
// error status.
func (d *Dispatcher) markTerminal(ctx context.Context, task *domain.QueueTask) {
	switch task.TaskType {
	case domain.TaskTypeExtractText:
		document, err := d.records.GetDocument(ctx, task.DocumentID)
		if err != nil {
			return
		}
		document.Status = domain.DocumentStatusError
		document.UpdatedAt = time.Now().UTC()
		if err := d.records.UpdateDocument(ctx, document); err != nil && d.logger != nil {
			d.logger.Printf("mark document error failed document_id=%s err=%v", document.ID, err)
		}

		// No extraction will run again for this document, so any comparison
		// still waiting on it would stay pending forever.
		pending, err := d.records.ListPendingComparisonsForDocument(ctx, document.ID)
		if err != nil {
			if d.logger != nil {
				d.logger.Printf("list pending comparisons failed document_id=%s err=%v", document.ID, err)
			}
			return
		}
		for _, comparison := range pending {
			comparison.Status = domain.ComparisonStatusFailed
			comparison.Summary = fmt.Sprintf("text extraction failed for document %s: %s", document.ID, task.LastError)
			comparison.UpdatedAt = time.Now().UTC()
			if err := d.records.UpdateComparison(ctx, comparison); err != nil && d.logger != nil {
				d.logger.Printf("fail pending comparison errored comparison_id=%s err=%v", comparison.ID, err)
			}
		}
	case domain.TaskTypeCompare, domain.TaskTypeExport:
		if task.ComparisonID == "" {
			return
		}
		comparison, err := d.records.GetComparison(ctx, task.ComparisonID)
		if err != nil {
			return
		}
		comparison.Status = domain.ComparisonStatusFailed
		comparison.Summary = task.LastError
		comparison.UpdatedAt = time.Now().UTC()
		if err := d.records.UpdateComparison(ctx, comparison); err != nil && d.logger != nil {
			d.logger.Printf("mark comparison failed errored comparison_id=%s err=%v", comparison.ID, err)
		}
	}
}

func (d *Dispatcher) handlerFor(taskType domain.TaskType) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[taskType]
}

func (d *Dispatcher) registeredTypes() []domain.TaskType {
	d.mu.RLock()
	defer d.mu.RUnlock()
	types := make([]domain.TaskType, 0, len(d.handlers))
	for taskType := range d.handlers {
		types = append(types, taskType)
	}
	return types
}
