// Package queue drives asynchronous per-document work. Tasks live in the
// record store; this package owns their state machine (queued -> claimed ->
// completed | queued-with-backoff | failed), the stale-claim reaper, and the
// wake-up notification between enqueuers and dispatcher workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/docpare/docpare-back/internal/domain"
	"github.com/docpare/docpare-back/internal/repository"
	"github.com/google/uuid"
)

var ErrInvalidTransition = errors.New("invalid task transition")

type Config struct {
	MaxAttempts       int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	StaleClaimTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.StaleClaimTimeout <= 0 {
		c.StaleClaimTimeout = 5 * time.Minute
	}
	return c
}

type Queue struct {
	records  repository.RecordStore
	notifier Notifier
	config   Config
	logger   *log.Logger
	now      func() time.Time
}

func New(records repository.RecordStore, notifier Notifier, cfg Config, logger *log.Logger) *Queue {
	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	return &Queue{
		records:  records,
		notifier: notifier,
		config:   cfg.withDefaults(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Prepare builds a queued task from a request without persisting it. The
// storage facade stores the task atomically together with its document;
// Enqueue persists directly for follow-up stages.
func (q *Queue) Prepare(request domain.TaskRequest) *domain.QueueTask {
	now := q.now()
	return &domain.QueueTask{
		ID:            uuid.NewString(),
		DocumentID:    request.DocumentID,
		CounterpartID: request.CounterpartID,
		ComparisonID:  request.ComparisonID,
		TaskType:      request.TaskType,
		Priority:      request.Priority,
		Status:        domain.TaskStatusQueued,
		Attempts:      0,
		MaxAttempts:   q.config.MaxAttempts,
		ScheduledAt:   now,
		CreatedAt:     now,
	}
}

func (q *Queue) Enqueue(ctx context.Context, request domain.TaskRequest) (*domain.QueueTask, error) {
	task := q.Prepare(request)
	if err := q.records.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}
	q.Wake(ctx)
	return task, nil
}

// Wake signals waiting dispatcher workers that new work may be available.
func (q *Queue) Wake(ctx context.Context) {
	q.notifier.Notify(ctx)
}

// WaitForWork blocks until a wake-up arrives, the timeout elapses, or ctx is
// done. Used by workers after a claim miss instead of tight polling.
func (q *Queue) WaitForWork(ctx context.Context, timeout time.Duration) {
	q.notifier.Wait(ctx, timeout)
}

func (q *Queue) ClaimNext(ctx context.Context, taskTypes ...domain.TaskType) (*domain.QueueTask, error) {
	task, err := q.records.ClaimNextTask(ctx, taskTypes, q.now())
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// Complete transitions a claimed task to completed. Completing an already
// completed task is a no-op; any other status is an invalid transition.
func (q *Queue) Complete(ctx context.Context, taskID string) error {
	task, err := q.records.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}

	switch task.Status {
	case domain.TaskStatusCompleted:
		return nil
	case domain.TaskStatusClaimed:
	default:
		return fmt.Errorf("%w: %s -> completed", ErrInvalidTransition, task.Status)
	}

	completedAt := q.now()
	task.Status = domain.TaskStatusCompleted
	task.CompletedAt = &completedAt
	if err := q.records.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}
	return nil
}

// Fail consumes one attempt. Below MaxAttempts the task re-queues with an
// exponential backoff applied to ScheduledAt; at MaxAttempts it becomes
// terminally failed and records the error. Returns the updated task so the
// caller can react to terminal failures.
func (q *Queue) Fail(ctx context.Context, taskID string, taskErr error) (*domain.QueueTask, error) {
	task, err := q.records.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", taskID, err)
	}

	switch task.Status {
	case domain.TaskStatusCompleted, domain.TaskStatusFailed:
		// Terminal states never regress.
		return task, nil
	case domain.TaskStatusClaimed, domain.TaskStatusQueued:
	default:
		return nil, fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, task.Status)
	}

	task.Attempts++
	if taskErr != nil {
		task.LastError = taskErr.Error()
	}
	task.ClaimedAt = nil

	if task.Attempts >= task.MaxAttempts {
		task.Status = domain.TaskStatusFailed
		if err := q.records.UpdateTask(ctx, task); err != nil {
			return nil, fmt.Errorf("fail task %s: %w", taskID, err)
		}
		if q.logger != nil {
			q.logger.Printf("task failed terminally task_id=%s type=%s attempts=%d err=%v",
				task.ID, task.TaskType, task.Attempts, taskErr)
		}
		return task, nil
	}

	task.Status = domain.TaskStatusQueued
	task.ScheduledAt = q.now().Add(q.Backoff(task.Attempts))
	if err := q.records.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("requeue task %s: %w", taskID, err)
	}
	if q.logger != nil {
		q.logger.Printf("task requeued task_id=%s type=%s attempts=%d next_at=%s err=%v",
			task.ID, task.TaskType, task.Attempts, task.ScheduledAt.Format(time.RFC3339), taskErr)
	}
	return task, nil
}

// Backoff returns baseBackoff * 2^attempts, capped.
func (q *Queue) Backoff(attempts int) time.Duration {
	delay := q.config.BaseBackoff
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= q.config.MaxBackoff {
			return q.config.MaxBackoff
		}
	}
	if delay > q.config.MaxBackoff {
		return q.config.MaxBackoff
	}
	return delay
}

// ReapStale re-queues claimed tasks whose dispatcher presumably crashed:
// anything claimed longer ago than the stale-claim timeout goes through the
// fail path, consuming one attempt. Returns how many tasks were reaped.
func (q *Queue) ReapStale(ctx context.Context) (int, error) {
	cutoff := q.now().Add(-q.config.StaleClaimTimeout)
	stale, err := q.records.ListStaleClaims(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale claims: %w", err)
	}

	reaped := 0
	for _, task := range stale {
		if _, err := q.Fail(ctx, task.ID, errors.New("stale claim: dispatcher did not report an outcome")); err != nil {
			if q.logger != nil {
				q.logger.Printf("reap failed task_id=%s err=%v", task.ID, err)
			}
			continue
		}
		reaped++
	}
	if reaped > 0 {
		q.Wake(ctx)
	}
	return reaped, nil
}
