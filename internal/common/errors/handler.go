package errors

import (
	"context"
	"encoding/json"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// ErrorHandler turns worker errors into Zeebe fail or throw commands.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Decision is what HandleJobError will do with an error.
type Decision struct {
	Standard *StandardError
	BPMN     *BPMNError
	Retry    bool
	Retries  int
}

// Decide normalizes err and picks between failing with retries and throwing
// a BPMN error. Retries never exceed what the job has left.
func (h *ErrorHandler) Decide(job entities.Job, err error) Decision {
	stdErr := Normalize(err)
	bpmnErr := ConvertToBPMNError(stdErr)

	retries := bpmnErr.Retries
	if job.Retries > 0 && int(job.Retries)-1 < retries {
		retries = int(job.Retries) - 1
	}

	return Decision{
		Standard: stdErr,
		BPMN:     bpmnErr,
		Retry:    retries > 0,
		Retries:  retries,
	}
}

// HandleJobError handles any error in a worker job.
func (h *ErrorHandler) HandleJobError(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	d := h.Decide(job, err)
	h.logError(job, d)

	if d.Retry {
		h.failJob(ctx, client, job, d)
		return
	}
	h.throwBPMNError(ctx, client, job, d.BPMN)
}

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	if stdErr, ok := AsStandard(err); ok {
		return stdErr
	}
	return NewInternalError(err)
}

func (h *ErrorHandler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, d Decision) {
	cmd := client.NewFailJobCommand().
		JobKey(job.Key).
		Retries(int32(d.Retries)).
		ErrorMessage(d.BPMN.Message)

	if payload, err := json.Marshal(d.BPMN.ToErrorVariables()); err == nil {
		if withVars, err := cmd.VariablesFromString(string(payload)); err == nil {
			_, _ = withVars.Send(ctx)
			return
		}
	}
	_, _ = cmd.Send(ctx)
}

func (h *ErrorHandler) throwBPMNError(ctx context.Context, client worker.JobClient, job entities.Job, bpmnErr *BPMNError) {
	cmd := client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(bpmnErr.Code).
		ErrorMessage(bpmnErr.Message)

	if payload, err := json.Marshal(bpmnErr.ToErrorVariables()); err == nil {
		if withVars, err := cmd.VariablesFromString(string(payload)); err == nil {
			_, _ = withVars.Send(ctx)
			return
		}
	}
	_, _ = cmd.Send(ctx)
}

func (h *ErrorHandler) logError(job entities.Job, d Decision) {
	h.logger.Error("Job failed", map[string]interface{}{
		"jobKey":           job.Key,
		"jobType":          job.Type,
		"errorCode":        string(d.Standard.Code),
		"bpmnErrorCode":    d.BPMN.Code,
		"message":          d.BPMN.Message,
		"details":          d.Standard.Details,
		"retryable":        d.Standard.Retryable,
		"retries":          d.Retries,
		"errorCategory":    GetErrorCategory(d.Standard.Code),
		"workflowInstance": job.ProcessInstanceKey,
	})
}
