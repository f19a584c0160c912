package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/edubridge/classquiz/internal/model"
)

// Dispatcher schedules pipeline work.
type Dispatcher interface {
	EnqueueSubmission(ctx context.Context, quizID, participantID string) error
	EnqueueQuizDocument(ctx context.Context, quizID string, role model.DocumentRole) error
}

const (
	maxRetry    = 5
	taskTimeout = 15 * time.Minute
)

// queueName is the asynq queue every task goes to.
const queueName = "default"

// Queue enqueues tasks on Redis through asynq. Each submission or document
// has at most one task waiting. A task id left behind by an archived or
// completed task is reclaimed, and a request arriving while the task runs
// queues one follow-up run.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewQueue creates a Queue.
func NewQueue(opt asynq.RedisConnOpt) *Queue {
	return &Queue{client: asynq.NewClient(opt), inspector: asynq.NewInspector(opt)}
}

func (q *Queue) EnqueueSubmission(ctx context.Context, quizID, participantID string) error {
	task, err := NewProcessSubmissionTask(quizID, participantID)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task, submissionTaskID(quizID, participantID))
}

func (q *Queue) EnqueueQuizDocument(ctx context.Context, quizID string, role model.DocumentRole) error {
	task, err := NewProcessQuizDocumentTask(quizID, role)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task, quizDocumentTaskID(quizID, role))
}

func (q *Queue) enqueue(ctx context.Context, task *asynq.Task, id string) error {
	running, err := q.enqueueID(ctx, task, id)
	if err != nil || !running {
		return err
	}
	// The running task may have read state older than this request.
	_, err = q.enqueueID(ctx, task, followUpTaskID(id))
	return err
}

// enqueueID enqueues task under id. It reports whether a task with that id
// is currently running, in which case nothing was enqueued.
func (q *Queue) enqueueID(ctx context.Context, task *asynq.Task, id string) (bool, error) {
	err := q.submit(ctx, task, id)
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		return false, err
	}
	info, err := q.inspector.GetTaskInfo(queueName, id)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		// Finished and removed since the conflict.
		return false, q.submit(ctx, task, id)
	}
	if err != nil {
		return false, fmt.Errorf("inspect task %s: %w", id, err)
	}
	switch info.State {
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
		slog.Debug("task already queued", "task_id", id, "state", info.State.String())
		return false, nil
	case asynq.TaskStateActive:
		return true, nil
	}
	slog.Info("replacing finished task", "task_id", id, "state", info.State.String(), "last_error", info.LastErr)
	if err := q.inspector.DeleteTask(queueName, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, fmt.Errorf("delete task %s: %w", id, err)
	}
	return false, q.submit(ctx, task, id)
}

func (q *Queue) submit(ctx context.Context, task *asynq.Task, id string) error {
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.TaskID(id),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(taskTimeout),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	slog.Debug("task enqueued", "task_id", info.ID, "queue", info.Queue)
	return nil
}

// Close closes the Redis connections.
func (q *Queue) Close() error {
	return errors.Join(q.inspector.Close(), q.client.Close())
}

// Inline runs pipeline work on background goroutines in this process. It
// is used when no Redis is configured.
type Inline struct {
	p       Processor
	timeout time.Duration

	wg sync.WaitGroup
	mu sync.Mutex
	// inFlight holds the running task ids. A true value asks for one more
	// run once the current one returns.
	inFlight map[string]bool
}

// NewInline creates an Inline dispatcher. A zero timeout uses the task timeout.
func NewInline(p Processor, timeout time.Duration) *Inline {
	if timeout <= 0 {
		timeout = taskTimeout
	}
	return &Inline{p: p, timeout: timeout, inFlight: make(map[string]bool)}
}

func (d *Inline) EnqueueSubmission(_ context.Context, quizID, participantID string) error {
	d.run(submissionTaskID(quizID, participantID), func(ctx context.Context) error {
		return d.p.ProcessSubmission(ctx, quizID, participantID)
	})
	return nil
}

func (d *Inline) EnqueueQuizDocument(_ context.Context, quizID string, role model.DocumentRole) error {
	d.run(quizDocumentTaskID(quizID, role), func(ctx context.Context) error {
		return d.p.ProcessQuizDocument(ctx, quizID, role)
	})
	return nil
}

// run starts fn unless work with the same id is still running, in which
// case fn runs once more after it. The work is detached from the request
// context.
func (d *Inline) run(id string, fn func(ctx context.Context) error) {
	d.mu.Lock()
	if _, running := d.inFlight[id]; running {
		d.inFlight[id] = true
		d.mu.Unlock()
		slog.Debug("task running, queued a follow-up run", "task_id", id)
		return
	}
	d.inFlight[id] = false
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			d.once(id, fn)
			d.mu.Lock()
			if !d.inFlight[id] {
				delete(d.inFlight, id)
				d.mu.Unlock()
				return
			}
			d.inFlight[id] = false
			d.mu.Unlock()
		}
	}()
}

func (d *Inline) once(id string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.Error("background task failed", "task_id", id, "error", err)
	}
}

// Wait blocks until all started work has finished.
func (d *Inline) Wait() {
	d.wg.Wait()
}
