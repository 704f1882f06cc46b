package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	entries []map[string]interface{}
}

func (r *recordingLogger) Error(msg string, fields map[string]interface{}) {
	r.entries = append(r.entries, fields)
}

func createMockJob(retries int32) entities.Job {
	vars, _ := json.Marshal(map[string]interface{}{"question": "total opex"})
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                42,
		Type:               "retrieve-ledger-rows",
		ProcessInstanceKey: 420,
		Retries:            retries,
		Variables:          string(vars),
	}}
}

func TestConvertToBPMNError(t *testing.T) {
	tests := []struct {
		name        string
		err         *StandardError
		wantCode    string
		wantRetries int
	}{
		{"transient is retried", NewTransientServiceError("ledger", fmt.Errorf("503")), "LEDGER_UNAVAILABLE", 3},
		{"malformed period is thrown", NewMalformedPeriodError("Q7", "quarter out of range"), "MALFORMED_PERIOD", 0},
		{"schema drift is thrown", NewSchemaDriftError([]string{"department_name"}), "SCHEMA_DRIFT", 0},
		{"unknown code falls back to itself", &StandardError{Code: "SOMETHING_ELSE", Retryable: true}, "SOMETHING_ELSE", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := ConvertToBPMNError(tt.err)
			assert.Equal(t, tt.wantCode, b.Code)
			assert.Equal(t, tt.wantRetries, b.Retries)
			assert.Equal(t, string(tt.err.Code), b.ToErrorVariables()["originalErrorCode"])
		})
	}
}

func TestConvertToBPMNError_CarriesMissingColumns(t *testing.T) {
	b := ConvertToBPMNError(NewSchemaDriftError([]string{"department_name", "account_number"}))
	vars := b.ToErrorVariables()
	assert.Equal(t, []string{"department_name", "account_number"}, vars["missingColumns"])
	assert.Contains(t, b.Details, "department_name, account_number")
}

func TestIsCode_FollowsWrapping(t *testing.T) {
	base := NewFilterMismatchError("total diverged")
	wrapped := fmt.Errorf("retrieve: %w", base)

	assert.True(t, IsCode(wrapped, ErrCodeFilterMismatch))
	assert.False(t, IsCode(wrapped, ErrCodeSchemaDrift))
	assert.False(t, IsCode(stderrors.New("plain"), ErrCodeFilterMismatch))
}

func TestSnapshotFetchFailed_InheritsRetryability(t *testing.T) {
	transient := NewTransientServiceError("ledger", fmt.Errorf("timeout"))
	assert.True(t, NewSnapshotFetchFailedError("netsuite:main", transient).Retryable)

	rejected := NewLedgerRequestRejectedError(400, "bad page size")
	assert.False(t, NewSnapshotFetchFailedError("netsuite:main", rejected).Retryable)

	assert.True(t, stderrors.Is(NewSnapshotFetchFailedError("x", transient), transient))
}

func TestErrorHandler_Decide(t *testing.T) {
	h := NewErrorHandler(&recordingLogger{})

	t.Run("retryable capped by remaining job retries", func(t *testing.T) {
		d := h.Decide(createMockJob(2), NewTransientServiceError("ledger", fmt.Errorf("502")))
		assert.True(t, d.Retry)
		assert.Equal(t, 1, d.Retries)
	})

	t.Run("last attempt throws", func(t *testing.T) {
		d := h.Decide(createMockJob(1), NewTransientServiceError("ledger", fmt.Errorf("502")))
		assert.False(t, d.Retry)
		assert.Equal(t, "LEDGER_UNAVAILABLE", d.BPMN.Code)
	})

	t.Run("plain errors become internal", func(t *testing.T) {
		d := h.Decide(createMockJob(3), stderrors.New("nil map"))
		require.NotNil(t, d.Standard)
		assert.Equal(t, ErrCodeInternal, d.Standard.Code)
		assert.False(t, d.Retry)
	})
}

func TestGetErrorCategory(t *testing.T) {
	tests := map[ErrorCode]string{
		ErrCodeRegistryBuildDegraded: "REGISTRY",
		ErrCodeTransientService:      "LEDGER",
		ErrCodeSchemaDrift:           "RETRIEVAL",
		ErrCodeAmbiguousTerm:         "QUERY",
		ErrCodeMalformedPeriod:       "QUERY",
		ErrCodeAuditIndexFailed:      "DATASTORE",
		ErrCodeInvalidJobInput:       "VALIDATION",
		ErrCodeInternal:              "OTHER",
	}
	for code, want := range tests {
		t.Run(string(code), func(t *testing.T) {
			assert.Equal(t, want, GetErrorCategory(code))
		})
	}
}
