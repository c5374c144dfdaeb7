package jobs

import (
	"fmt"
	"sort"
	"time"

	"github.com/omnireach/core/platform/config"

	"github.com/hibiken/asynq"
)

// DefaultCompletedRetain and DefaultArchivedRetain are the count-based
// retention targets from the job contract's default policy
// (remove_on_complete=1000, remove_on_fail=5000). asynq itself only
// offers duration-based retention (see Client's completedTaskRetention);
// these counts are enforced separately by TrimCompleted/TrimArchived.
const (
	DefaultCompletedRetain = 1000
	DefaultArchivedRetain  = 5000
)

// DeadLetterEntry is one archived (exhausted-retry) task surfaced by
// the admin dead-letter endpoint.
type DeadLetterEntry struct {
	Queue     string    `json:"queue"`
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Payload   string    `json:"payload"`
	LastError string    `json:"lastError"`
	FailedAt  time.Time `json:"failedAt"`
	Retried   int       `json:"retried"`
	MaxRetry  int       `json:"maxRetry"`
}

// Inspector lists archived tasks across every named queue, grounded on
// asynq's own Inspector client rather than a hand-rolled Redis scan.
type Inspector struct {
	insp *asynq.Inspector
}

// NewInspector creates a new dead-letter inspector.
func NewInspector(cfg config.SchedulerConfig) (*Inspector, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	return &Inspector{insp: asynq.NewInspector(opt)}, nil
}

// Close releases the inspector's Redis connection.
func (i *Inspector) Close() error {
	return i.insp.Close()
}

// ListDeadLetter returns every archived task across all named queues.
func (i *Inspector) ListDeadLetter() ([]DeadLetterEntry, error) {
	var out []DeadLetterEntry
	for _, queue := range Queues {
		tasks, err := i.insp.ListArchivedTasks(queue)
		if err != nil {
			if err == asynq.ErrQueueNotFound {
				continue
			}
			return nil, fmt.Errorf("list archived tasks for %s: %w", queue, err)
		}
		for _, t := range tasks {
			out = append(out, DeadLetterEntry{
				Queue:     queue,
				ID:        t.ID,
				Type:      t.Type,
				Payload:   string(t.Payload),
				LastError: t.LastErr,
				FailedAt:  t.LastFailedAt,
				Retried:   t.Retried,
				MaxRetry:  t.MaxRetry,
			})
		}
	}
	return out, nil
}

// TrimCompleted deletes completed tasks beyond the newest retain per
// queue, enforcing the job contract's remove_on_complete count.
func (i *Inspector) TrimCompleted(retain int) error {
	for _, queue := range Queues {
		tasks, err := i.insp.ListCompletedTasks(queue, asynq.PageSize(retain*2+1))
		if err != nil {
			if err == asynq.ErrQueueNotFound {
				continue
			}
			return fmt.Errorf("list completed tasks for %s: %w", queue, err)
		}
		if len(tasks) <= retain {
			continue
		}
		sort.Slice(tasks, func(a, b int) bool { return tasks[a].CompletedAt.Before(tasks[b].CompletedAt) })
		for _, t := range tasks[:len(tasks)-retain] {
			if err := i.insp.DeleteTask(queue, t.ID); err != nil && err != asynq.ErrTaskNotFound {
				return fmt.Errorf("delete completed task %s: %w", t.ID, err)
			}
		}
	}
	return nil
}

// TrimArchived deletes archived (dead-letter) tasks beyond the newest
// retain per queue, enforcing the job contract's remove_on_fail count.
func (i *Inspector) TrimArchived(retain int) error {
	for _, queue := range Queues {
		tasks, err := i.insp.ListArchivedTasks(queue, asynq.PageSize(retain*2+1))
		if err != nil {
			if err == asynq.ErrQueueNotFound {
				continue
			}
			return fmt.Errorf("list archived tasks for %s: %w", queue, err)
		}
		if len(tasks) <= retain {
			continue
		}
		sort.Slice(tasks, func(a, b int) bool { return tasks[a].LastFailedAt.Before(tasks[b].LastFailedAt) })
		for _, t := range tasks[:len(tasks)-retain] {
			if err := i.insp.DeleteTask(queue, t.ID); err != nil && err != asynq.ErrTaskNotFound {
				return fmt.Errorf("delete archived task %s: %w", t.ID, err)
			}
		}
	}
	return nil
}
