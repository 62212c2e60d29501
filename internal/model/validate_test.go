package model_test

import (
	"testing"
	"time"

	"github.com/dhima/cronback-scheduler/internal/core"
	"github.com/dhima/cronback-scheduler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAction() model.Action {
	return model.Action{
		Kind:    model.ActionWebhook,
		Method:  model.MethodPOST,
		Timeout: 5 * time.Second,
	}
}

func TestValidateAction_AcceptsInRangeTimeoutAndKnownMethod(t *testing.T) {
	assert.NoError(t, model.ValidateAction(validAction()))
}

func TestValidateAction_RejectsTimeoutOutOfRange(t *testing.T) {
	tooShort := validAction()
	tooShort.Timeout = 500 * time.Millisecond
	err := model.ValidateAction(tooShort)
	require.Error(t, err)
	var invalidArg *core.InvalidArgumentError
	require.ErrorAs(t, err, &invalidArg)

	tooLong := validAction()
	tooLong.Timeout = 31 * time.Second
	require.Error(t, model.ValidateAction(tooLong))
}

func TestValidateAction_RejectsUnknownMethod(t *testing.T) {
	a := validAction()
	a.Method = "TRACE"
	require.Error(t, model.ValidateAction(a))
}

func TestValidatePayload_AcceptsNil(t *testing.T) {
	assert.NoError(t, model.ValidatePayload(nil))
}

func TestValidatePayload_RejectsTooManyHeaders(t *testing.T) {
	headers := make(map[string]string, 31)
	for i := 0; i < 31; i++ {
		headers[string(rune('a'+i))] = "v"
	}
	p := &model.Payload{Headers: headers}
	require.Error(t, model.ValidatePayload(p))
}

func TestValidatePayload_RejectsOversizedBody(t *testing.T) {
	p := &model.Payload{Body: make([]byte, (1<<20)+1)}
	require.Error(t, model.ValidatePayload(p))
}
