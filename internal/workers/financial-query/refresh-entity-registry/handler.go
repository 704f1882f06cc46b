package refreshentityregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/common/metrics"
	"ledger-query-workers/internal/common/validation"
	"ledger-query-workers/internal/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "refresh-entity-registry"

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Refresher is satisfied by *registry.Manager.
type Refresher interface {
	Refresh(ctx context.Context) (registry.Stats, error)
}

type Handler struct {
	config    *Config
	refresher Refresher
	schema    *validation.Schema
	errors    *apperrors.ErrorHandler
	logger    Logger
}

func NewHandler(config *Config, r Refresher, schema *validation.Schema, log Logger) *Handler {
	return &Handler{
		config:    config,
		refresher: r,
		schema:    schema,
		errors:    apperrors.NewErrorHandler(log),
		logger:    log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, apperrors.NewInvalidJobInputError(fmt.Sprintf("job variables are not a JSON object: %v", err))
	}
	if h.schema != nil {
		if res := h.schema.Validate(variables); !res.Valid {
			return nil, apperrors.NewInvalidJobInputError(strings.Join(res.GetErrorMessages(), "; "))
		}
	}
	var input Input
	if err := json.Unmarshal([]byte(job.GetVariables()), &input); err != nil {
		return nil, apperrors.NewInvalidJobInputError(err.Error())
	}
	return &input, nil
}

// Execute forces a rebuild. A build that is degraded but within bounds
// completes with Stats.Degraded set; a rejected build fails the job and the
// previous registry stays live.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	h.logger.Info("registry refresh requested", map[string]interface{}{
		"taskType": TaskType,
		"reason":   input.Reason,
	})

	stats, err := h.refresher.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if stats.Degraded {
		h.logger.Warn("registry refreshed with extraction failures", map[string]interface{}{
			"taskType":   TaskType,
			"failedRows": stats.FailedRows,
			"sourceRows": stats.SourceRowCount,
		})
	}
	return &Output{Refreshed: true, Stats: stats, Reason: input.Reason}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"taskType": TaskType,
			"jobKey":   job.GetKey(),
			"error":    err.Error(),
		})
		return
	}
	if _, err := request.Send(ctx); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"taskType": TaskType,
			"jobKey":   job.GetKey(),
			"error":    err.Error(),
		})
	}
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.Normalize(err).Code)).Inc()
	h.errors.HandleJobError(context.WithoutCancel(ctx), client, job, err)
}
