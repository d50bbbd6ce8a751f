package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateMachine(t *testing.T) {
	table := map[string][]string{
		"DRAFT":        {"UNDER_REVIEW"},
		"UNDER_REVIEW": {"APPROVED", "DRAFT"},
	}
	sm := NewStateMachine(table)

	assert.True(t, sm.CanTransition("DRAFT", "UNDER_REVIEW"))
	assert.True(t, sm.CanTransition("UNDER_REVIEW", "DRAFT"))
	assert.False(t, sm.CanTransition("DRAFT", "APPROVED"))
	assert.False(t, sm.CanTransition("APPROVED", "DRAFT"))

	assert.Equal(t, []string{"APPROVED", "DRAFT"}, sm.GetAllowedTransitions("UNDER_REVIEW"))
	assert.Empty(t, sm.GetAllowedTransitions("UNKNOWN"))
	assert.Equal(t, []string{"APPROVED", "DRAFT", "UNDER_REVIEW"}, sm.States())
}

func TestStateMachineCopiesTable(t *testing.T) {
	table := map[string][]string{"A": {"B"}}
	sm := NewStateMachine(table)
	table["A"][0] = "C"

	assert.True(t, sm.CanTransition("A", "B"))

	allowed := sm.GetAllowedTransitions("A")
	allowed[0] = "Z"
	assert.True(t, sm.CanTransition("A", "B"))
}
