package parsefinancialquery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "ledger-query-workers/internal/common/errors"
	"ledger-query-workers/internal/common/metrics"
	"ledger-query-workers/internal/common/validation"
	"ledger-query-workers/internal/parser"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "parse-financial-query"

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// QueryParser is satisfied by *pipeline.Service.
type QueryParser interface {
	Parse(ctx context.Context, req parser.Request) (*parser.Result, error)
}

type Handler struct {
	config *Config
	parser QueryParser
	schema *validation.Schema
	errors *apperrors.ErrorHandler
	logger Logger
}

func NewHandler(config *Config, p QueryParser, schema *validation.Schema, log Logger) *Handler {
	return &Handler{
		config: config,
		parser: p,
		schema: schema,
		errors: apperrors.NewErrorHandler(log),
		logger: log,
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
		return nil, apperrors.NewInvalidJobInputError(err.Error())
	}
	input.Question = strings.TrimSpace(input.Question)
	if input.Question == "" {
		return nil, apperrors.NewInvalidJobInputError("question is empty")
	}
	return &input, nil
}

// Execute parses the question. Ambiguity is an output, not an error.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	asOf, err := parseAsOf(input.AsOf)
	if err != nil {
		return nil, err
	}

	res, err := h.parser.Parse(ctx, parser.Request{
		Text:    input.Question,
		AsOf:    asOf,
		Context: parser.Context{Selections: input.Context.Selections},
	})
	if err != nil {
		return nil, err
	}

	out := &Output{Status: res.Status, ParsedQuery: res.Query, Clarification: res.Clarification}
	fields := map[string]interface{}{"taskType": TaskType, "status": string(res.Status)}
	if res.Clarification != nil {
		fields["ambiguousTerms"] = res.Clarification.AmbiguousTerms
	}
	if res.Query != nil {
		fields["intent"] = string(res.Query.Intent)
		fields["confidence"] = res.Query.Confidence
	}
	h.logger.Info("question parsed", fields)
	return out, nil
}

// parseAsOf accepts a date or an RFC 3339 timestamp. Empty means today.
func parseAsOf(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.NewInvalidJobInputError(fmt.Sprintf("asOf %q is not a date", raw))
	}
	return t, nil
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
	code := string(apperrors.Normalize(err).Code)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, code).Inc()
	h.errors.HandleJobError(context.WithoutCancel(ctx), client, job, err)
}

func (h *Handler) GetTaskType() string { return TaskType }

func (h *Handler) GetConfig() *Config { return h.config }
