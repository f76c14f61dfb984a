package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// taskEnvelope is the wire form of a Job inside an asynq task payload.
type taskEnvelope struct {
	ID       string          `json:"id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Enqueued time.Time       `json:"enqueued"`
}

// AsynqDispatcher submits jobs to a Redis backed asynq queue so a separate worker
// process can consume them.
type AsynqDispatcher struct {
	client     *asynq.Client
	queue      string
	maxRetries int
	timeout    time.Duration
}

var _ Dispatcher = (*AsynqDispatcher)(nil)

// NewAsynqDispatcher wraps an asynq client.
func NewAsynqDispatcher(client *asynq.Client, queue string, maxRetries int, timeout time.Duration) *AsynqDispatcher {
	if queue == "" {
		queue = "default"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsynqDispatcher{client: client, queue: queue, maxRetries: maxRetries, timeout: timeout}
}

// Enqueue serialises the job and submits it as an asynq task.
func (d *AsynqDispatcher) Enqueue(job Job) error {
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	task, err := NewTask(job)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	opts := []asynq.Option{asynq.Queue(d.queue), asynq.MaxRetry(d.maxRetries)}
	if id := taskID(job); id != "" {
		opts = append(opts, asynq.TaskID(id))
	}
	if _, err := d.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s task: %w", job.Type, err)
	}
	return nil
}

// taskID dedupes submissions of the same job; a later retry of the same report
// carries a new enqueue time and so gets a new id.
func taskID(job Job) string {
	if job.ID == "" || job.Enqueued.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s:%s:%d", job.Type, job.ID, job.Enqueued.UnixNano())
}

// NewTask converts a job to an asynq task.
func NewTask(job Job) (*asynq.Task, error) {
	if job.Type == "" {
		return nil, fmt.Errorf("job type is required")
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	env := taskEnvelope{ID: job.ID, Enqueued: job.Enqueued}
	if job.Payload != nil {
		raw, err := json.Marshal(job.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	return asynq.NewTask(job.Type, data), nil
}

// JobFromTask decodes an asynq task back into a Job. The payload is left as raw JSON.
func JobFromTask(task *asynq.Task) (Job, error) {
	var env taskEnvelope
	if err := json.Unmarshal(task.Payload(), &env); err != nil {
		return Job{}, fmt.Errorf("decode task payload: %w", err)
	}
	job := Job{ID: env.ID, Type: task.Type(), Enqueued: env.Enqueued}
	if len(env.Payload) > 0 {
		job.Payload = env.Payload
	}
	return job, nil
}

// NewAsynqMux registers handler for each job type on an asynq mux.
func NewAsynqMux(handler Handler, logger *zap.Logger, types ...string) *asynq.ServeMux {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := asynq.NewServeMux()
	for _, typ := range types {
		mux.HandleFunc(typ, func(ctx context.Context, task *asynq.Task) error {
			job, err := JobFromTask(task)
			if err != nil {
				logger.Error("drop malformed task", zap.String("type", task.Type()), zap.Error(err))
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			if retried, ok := asynq.GetRetryCount(ctx); ok {
				job.Attempt = retried
			}
			return handler(ctx, job)
		})
	}
	return mux
}

// NewAsynqServer builds the worker-side asynq server for a Redis connection.
func NewAsynqServer(redis asynq.RedisClientOpt, queue string, concurrency int, logger *zap.Logger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 1
	}
	if queue == "" {
		queue = "default"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()
	return asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			sugar.Warnw("task failed", "type", task.Type(), "error", err)
		}),
	})
}
