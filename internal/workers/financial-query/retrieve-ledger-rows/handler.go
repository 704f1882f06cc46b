package retrieveledgerrows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/common/metrics"
	"ledger-query-workers/internal/common/validation"
	"ledger-query-workers/internal/parser"
	"ledger-query-workers/internal/retrieval"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "retrieve-ledger-rows"

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Retriever is satisfied by *pipeline.Service and *retrieval.Coordinator.
type Retriever interface {
	Retrieve(ctx context.Context, q *parser.ParsedQuery) (*retrieval.Result, error)
}

type Handler struct {
	config    *Config
	retriever Retriever
	schema    *validation.Schema
	errors    *apperrors.ErrorHandler
	logger    Logger
}

func NewHandler(config *Config, r Retriever, schema *validation.Schema, log Logger) *Handler {
	return &Handler{
		config:    config,
		retriever: r,
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

	h.logger.Info("processing job", map[string]interface{}{
		"taskType":           TaskType,
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
		"retries":            job.GetRetries(),
	})

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
		return nil, apperrors.NewInvalidJobInputError(fmt.Sprintf("parsedQuery: %v", err))
	}
	if input.ParsedQuery == nil {
		return nil, apperrors.NewInvalidJobInputError("parsedQuery is required")
	}
	return &input, nil
}

// Execute retrieves the rows for an already parsed query. A deadline hit
// while waiting on the ledger is reported as transient so the job retries.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	res, err := h.retriever.Retrieve(ctx, input.ParsedQuery)
	if err != nil {
		if _, ok := apperrors.AsStandard(err); !ok &&
			(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			return nil, apperrors.NewTransientServiceError("ledger", err)
		}
		return nil, err
	}

	out := newOutput(res, h.config.IncludeRows)
	h.logger.Info("rows retrieved", map[string]interface{}{
		"taskType":  TaskType,
		"requestId": res.Provenance.RequestID,
		"mode":      string(res.Provenance.Mode),
		"rowCount":  res.RowCount,
		"total":     res.Total.String(),
		"truncated": res.Truncated,
	})
	return out, nil
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

func (h *Handler) GetTaskType() string { return TaskType }
