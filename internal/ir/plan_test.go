package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepID(t *testing.T) {
	assert.Equal(t, "create:web", StepID(ActionCreate, "web"))
	assert.Equal(t, "destroy:net", StepID(ActionDestroy, "net"))
}

func TestPlan_Change(t *testing.T) {
	plan := &Plan{
		Changes: []*ResourceChange{
			{Name: "net", Action: ActionCreate},
			{Name: "web", Action: ActionUpdate},
		},
	}
	assert.Equal(t, ActionUpdate, plan.Change("web").Action)
	assert.Nil(t, plan.Change("ghost"))
}

func TestPlan_HasChanges(t *testing.T) {
	assert.False(t, (&Plan{Summary: &PlanSummary{NoOp: 3}}).HasChanges())
	assert.True(t, (&Plan{Summary: &PlanSummary{Create: 1, NoOp: 3}}).HasChanges())
	assert.True(t, (&Plan{Summary: &PlanSummary{Destroy: 2}}).HasChanges())

	// Without a summary the steps decide.
	assert.False(t, (&Plan{}).HasChanges())
	assert.True(t, (&Plan{Steps: []*Step{{ID: "create:web"}}}).HasChanges())
}
