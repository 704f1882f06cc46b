package camunda

import (
	"fmt"
	"sync"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

type WorkerOptions struct {
	TaskType      string
	MaxJobsActive int
	// Timeout is the job activation timeout; the broker hands the job to
	// another worker when it expires.
	Timeout      time.Duration
	PollInterval time.Duration
}

func (o WorkerOptions) Validate() error {
	if o.TaskType == "" {
		return fmt.Errorf("task type is required")
	}
	if o.MaxJobsActive <= 0 {
		return fmt.Errorf("%s: max jobs active must be positive", o.TaskType)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("%s: timeout must be positive", o.TaskType)
	}
	return nil
}

// Pool owns the open job workers of the process.
type Pool struct {
	client zbc.Client
	logger Logger

	mu      sync.Mutex
	workers map[string]worker.JobWorker
}

func NewPool(client zbc.Client, log Logger) *Pool {
	return &Pool{client: client, logger: log, workers: map[string]worker.JobWorker{}}
}

// Open starts polling for one task type. Each task type is opened once.
func (p *Pool) Open(opts WorkerOptions, handler worker.JobHandler) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.workers[opts.TaskType]; ok {
		return fmt.Errorf("worker for %s already open", opts.TaskType)
	}

	step := p.client.NewJobWorker().
		JobType(opts.TaskType).
		Handler(handler).
		Name(opts.TaskType + "-worker").
		MaxJobsActive(opts.MaxJobsActive).
		Timeout(opts.Timeout)
	if opts.PollInterval > 0 {
		step = step.PollInterval(opts.PollInterval)
	}
	p.workers[opts.TaskType] = step.Open()

	p.logger.Info("worker started", map[string]interface{}{
		"taskType":      opts.TaskType,
		"maxJobsActive": opts.MaxJobsActive,
		"timeout":       opts.Timeout.String(),
	})
	return nil
}

// TaskTypes lists the open workers.
func (p *Pool) TaskTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.workers))
	for t := range p.workers {
		out = append(out, t)
	}
	return out
}

// Close stops polling and waits for in-flight handlers.
func (p *Pool) Close() {
	p.mu.Lock()
	workers := p.workers
	p.workers = map[string]worker.JobWorker{}
	p.mu.Unlock()

	for taskType, w := range workers {
		w.Close()
		w.AwaitClose()
		p.logger.Info("worker stopped", map[string]interface{}{"taskType": taskType})
	}
}
