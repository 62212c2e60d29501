package core_test

import (
	"strings"
	"testing"

	"github.com/dhima/cronback-scheduler/internal/core"
	"github.com/stretchr/testify/assert"
)

func TestNewTriggerID_CarriesTagAndShard(t *testing.T) {
	id := core.NewTriggerID("proj_1")
	assert.True(t, strings.HasPrefix(id, "trig_proj_1_"))
}

func TestNewTriggerID_SortsInInsertionOrderWithinShard(t *testing.T) {
	prev := core.NewTriggerID("proj_1")
	for i := 0; i < 100; i++ {
		next := core.NewTriggerID("proj_1")
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestNewRunID_And_NewAttemptID_CarryTags(t *testing.T) {
	assert.True(t, strings.HasPrefix(core.NewRunID("p"), "run_p_"))
	assert.True(t, strings.HasPrefix(core.NewAttemptID("p"), "att_p_"))
}
