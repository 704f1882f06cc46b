// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Query understanding
const (
	ErrCodeAmbiguousTerm    ErrorCode = "AMBIGUOUS_TERM"
	ErrCodeUnresolvedEntity ErrorCode = "UNRESOLVED_ENTITY"
	ErrCodeMalformedPeriod  ErrorCode = "MALFORMED_PERIOD"
	ErrCodeInvalidJobInput  ErrorCode = "INVALID_JOB_INPUT"
)

// Ledger service and retrieval
const (
	ErrCodeTransientService      ErrorCode = "TRANSIENT_SERVICE_ERROR"
	ErrCodeLedgerRequestRejected ErrorCode = "LEDGER_REQUEST_REJECTED"
	ErrCodeLedgerResponseInvalid ErrorCode = "LEDGER_RESPONSE_INVALID"
	ErrCodeFilterUnsupported     ErrorCode = "FILTER_UNSUPPORTED"
	ErrCodeFilterMismatch        ErrorCode = "FILTER_MISMATCH"
	ErrCodeSchemaDrift           ErrorCode = "SCHEMA_DRIFT"
	ErrCodeSnapshotFetchFailed   ErrorCode = "SNAPSHOT_FETCH_FAILED"
)

// Entity registry
const (
	ErrCodeRegistryBuildDegraded ErrorCode = "REGISTRY_BUILD_DEGRADED"
	ErrCodeRegistrySourceInvalid ErrorCode = "REGISTRY_SOURCE_INVALID"
	ErrCodeRegistryUnavailable   ErrorCode = "REGISTRY_UNAVAILABLE"
	ErrCodeRegistryStoreFailed   ErrorCode = "REGISTRY_STORE_FAILED"
)

// Infrastructure
const (
	ErrCodeDatabaseConnectionFailed      ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeElasticsearchConnectionFailed ErrorCode = "ELASTICSEARCH_CONNECTION_FAILED"
	ErrCodeAuditIndexFailed              ErrorCode = "AUDIT_INDEX_FAILED"
	ErrCodeAlertPublishFailed            ErrorCode = "ALERT_PUBLISH_FAILED"
	ErrCodeInternal                      ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata returns e with key set in its metadata.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewAmbiguousTermError is raised when a term maps to more than one entity.
// Callers turn it into a clarification rather than a job failure.
func NewAmbiguousTermError(term string, candidates []string) *StandardError {
	return newError(ErrCodeAmbiguousTerm, "Term matches multiple entities",
		fmt.Sprintf("term: %q, candidates: %s", term, strings.Join(candidates, ", ")), false, nil).
		WithMetadata("term", term).
		WithMetadata("candidates", candidates)
}

// NewUnresolvedEntityError reports a term that looks like an entity but matched nothing.
func NewUnresolvedEntityError(term string) *StandardError {
	return newError(ErrCodeUnresolvedEntity, "Entity could not be resolved",
		fmt.Sprintf("term: %q", term), false, nil).WithMetadata("term", term)
}

// NewMalformedPeriodError creates a non-retryable period parsing error.
func NewMalformedPeriodError(phrase, reason string) *StandardError {
	return newError(ErrCodeMalformedPeriod, "Period expression is malformed",
		fmt.Sprintf("phrase: %q, reason: %s", phrase, reason), false, nil).WithMetadata("phrase", phrase)
}

// NewInvalidJobInputError creates a non-retryable input validation error.
func NewInvalidJobInputError(details string) *StandardError {
	return newError(ErrCodeInvalidJobInput, "Job input failed validation", details, false, nil)
}

// NewTransientServiceError wraps a timeout or 5xx from the ledger service.
func NewTransientServiceError(service string, err error) *StandardError {
	return newError(ErrCodeTransientService, fmt.Sprintf("Transient error from %s", service),
		errString(err), true, err)
}

// NewLedgerRequestRejectedError wraps a 4xx from the ledger service.
func NewLedgerRequestRejectedError(status int, body string) *StandardError {
	return newError(ErrCodeLedgerRequestRejected, "Ledger service rejected the request",
		fmt.Sprintf("status: %d, body: %s", status, body), false, nil).WithMetadata("status", status)
}

// NewLedgerResponseInvalidError reports a page that failed schema validation.
func NewLedgerResponseInvalidError(details string) *StandardError {
	return newError(ErrCodeLedgerResponseInvalid, "Ledger response failed validation", details, true, nil)
}

// NewFilterUnsupportedError means the server cannot apply a requested filter.
func NewFilterUnsupportedError(details string) *StandardError {
	return newError(ErrCodeFilterUnsupported, "Server-side filter not supported", details, false, nil)
}

// NewFilterMismatchError means a server-filtered result failed the spot check.
func NewFilterMismatchError(details string) *StandardError {
	return newError(ErrCodeFilterMismatch, "Server-side filter result failed verification", details, false, nil)
}

// NewSchemaDriftError names every column the filter needs but the source lacks.
func NewSchemaDriftError(missing []string) *StandardError {
	return newError(ErrCodeSchemaDrift, "Source columns required by the filter are missing",
		fmt.Sprintf("missing columns: %s", strings.Join(missing, ", ")), false, nil).
		WithMetadata("missingColumns", missing)
}

// NewSnapshotFetchFailedError wraps a failed full-snapshot retrieval.
func NewSnapshotFetchFailedError(source string, err error) *StandardError {
	retryable := IsRetryable(err)
	return newError(ErrCodeSnapshotFetchFailed, "Unfiltered snapshot fetch failed",
		fmt.Sprintf("source: %s, error: %s", source, errString(err)), retryable, err)
}

// NewRegistryBuildDegradedError is returned when too many rows failed extraction.
func NewRegistryBuildDegradedError(failed, total int, bound float64) *StandardError {
	return newError(ErrCodeRegistryBuildDegraded, "Registry build exceeded the extraction failure bound",
		fmt.Sprintf("failed: %d, total: %d, bound: %.2f", failed, total, bound), false, nil).
		WithMetadata("failedRows", failed).
		WithMetadata("totalRows", total)
}

// NewRegistrySourceInvalidError rejects a build input that is not a full snapshot.
func NewRegistrySourceInvalidError(details string) *StandardError {
	return newError(ErrCodeRegistrySourceInvalid, "Registry build requires the full unfiltered snapshot", details, false, nil)
}

// NewRegistryUnavailableError is returned when no registry state exists and a build failed.
func NewRegistryUnavailableError(err error) *StandardError {
	return newError(ErrCodeRegistryUnavailable, "Entity registry is unavailable", errString(err), true, err)
}

// NewRegistryStoreFailedError wraps a persistence failure.
func NewRegistryStoreFailedError(op string, err error) *StandardError {
	return newError(ErrCodeRegistryStoreFailed, "Registry persistence failed",
		fmt.Sprintf("op: %s, error: %s", op, errString(err)), true, err)
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection error", errString(err), true, err)
}

// NewElasticsearchConnectionFailedError creates a retryable Elasticsearch connection error.
func NewElasticsearchConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeElasticsearchConnectionFailed, "Elasticsearch connection error", errString(err), true, err)
}

// NewAuditIndexFailedError wraps a failed provenance write.
func NewAuditIndexFailedError(index string, err error) *StandardError {
	return newError(ErrCodeAuditIndexFailed, "Provenance audit write failed",
		fmt.Sprintf("index: %s, error: %s", index, errString(err)), true, err)
}

// NewAlertPublishFailedError wraps a failed alert publish.
func NewAlertPublishFailedError(err error) *StandardError {
	return newError(ErrCodeAlertPublishFailed, "Alert publish failed", errString(err), true, err)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", errString(err), false, err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeAmbiguousTerm:                 "AMBIGUOUS_TERM",
	ErrCodeUnresolvedEntity:              "UNRESOLVED_ENTITY",
	ErrCodeMalformedPeriod:               "MALFORMED_PERIOD",
	ErrCodeInvalidJobInput:               "INVALID_JOB_INPUT",
	ErrCodeTransientService:              "LEDGER_UNAVAILABLE",
	ErrCodeLedgerRequestRejected:         "LEDGER_REQUEST_REJECTED",
	ErrCodeLedgerResponseInvalid:         "LEDGER_RESPONSE_INVALID",
	ErrCodeFilterUnsupported:             "FILTER_UNSUPPORTED",
	ErrCodeFilterMismatch:                "FILTER_MISMATCH",
	ErrCodeSchemaDrift:                   "SCHEMA_DRIFT",
	ErrCodeSnapshotFetchFailed:           "LEDGER_UNAVAILABLE",
	ErrCodeRegistryBuildDegraded:         "REGISTRY_BUILD_DEGRADED",
	ErrCodeRegistrySourceInvalid:         "REGISTRY_SOURCE_INVALID",
	ErrCodeRegistryUnavailable:           "REGISTRY_UNAVAILABLE",
	ErrCodeRegistryStoreFailed:           "REGISTRY_STORE_FAILED",
	ErrCodeDatabaseConnectionFailed:      "DATABASE_CONNECTION_FAILED",
	ErrCodeElasticsearchConnectionFailed: "ELASTICSEARCH_CONNECTION_FAILED",
	ErrCodeAuditIndexFailed:              "AUDIT_INDEX_FAILED",
	ErrCodeAlertPublishFailed:            "ALERT_PUBLISH_FAILED",
}

// GetRetryCount returns the job retry budget for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeTransientService,
		ErrCodeSnapshotFetchFailed,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeElasticsearchConnectionFailed,
		ErrCodeRegistryUnavailable,
		ErrCodeRegistryStoreFailed:
		return 3

	case ErrCodeLedgerResponseInvalid,
		ErrCodeAuditIndexFailed,
		ErrCodeAlertPublishFailed:
		return 2

	default:
		return 0 // Business errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	if cols, ok := stdErr.Metadata["missingColumns"]; ok {
		vars["missingColumns"] = cols
	}
	if phrase, ok := stdErr.Metadata["phrase"]; ok {
		vars["periodPhrase"] = phrase
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// AsStandard extracts a *StandardError from an error chain.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	stdErr, ok := AsStandard(err)
	return ok && stdErr.Code == code
}

// IsRetryable reports whether err is a retryable StandardError.
func IsRetryable(err error) bool {
	stdErr, ok := AsStandard(err)
	return ok && stdErr.Retryable
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "REGISTRY"):
		return "REGISTRY"
	case strings.Contains(codeStr, "LEDGER") || strings.Contains(codeStr, "TRANSIENT") || strings.Contains(codeStr, "SNAPSHOT"):
		return "LEDGER"
	case strings.Contains(codeStr, "FILTER") || strings.Contains(codeStr, "SCHEMA"):
		return "RETRIEVAL"
	case strings.Contains(codeStr, "TERM") || strings.Contains(codeStr, "ENTITY") || strings.Contains(codeStr, "PERIOD"):
		return "QUERY"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "ELASTICSEARCH") || strings.Contains(codeStr, "AUDIT"):
		return "DATASTORE"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
