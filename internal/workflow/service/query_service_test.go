package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMonday/inv-sub000/internal/workflow/model"
)

func TestQueryService_ListInbox(t *testing.T) {
	ctx := context.Background()
	f := setupWorkflow(t)
	f.createRequestTemplate(t, model.WorkflowStepRule{MinApprovers: 2}, storesDeptID)

	_, first := f.submitted(t, "INBOX-1")
	_, second := f.submitted(t, "INBOX-2")

	inbox, err := f.queries.ListInbox(ctx, 2, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inbox.TotalCount)
	require.Len(t, inbox.Items, 2)
	assert.Equal(t, first.ID, inbox.Items[0].ID)

	inbox, err = f.queries.ListInbox(ctx, initiatorID, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, inbox.TotalCount, "submitted tasks leave the initiator's inbox")

	t.Run("Claimed Tasks Only Show For Claimant", func(t *testing.T) {
		_, err := f.engine.ClaimTask(ctx, second.ID, 3)
		require.NoError(t, err)

		inbox, err := f.queries.ListInbox(ctx, 3, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), inbox.TotalCount)

		inbox, err = f.queries.ListInbox(ctx, 4, nil, nil)
		require.NoError(t, err)
		require.Len(t, inbox.Items, 1)
		assert.Equal(t, first.ID, inbox.Items[0].ID)
	})

	t.Run("Decided Assignees Drop Out", func(t *testing.T) {
		f.mustAct(t, first.ID, 4, model.ActionApprove)

		inbox, err := f.queries.ListInbox(ctx, 4, nil, nil)
		require.NoError(t, err)
		assert.Zero(t, inbox.TotalCount)
	})

	t.Run("Pagination", func(t *testing.T) {
		offset, limit := 1, 1
		inbox, err := f.queries.ListInbox(ctx, 2, &offset, &limit)
		require.NoError(t, err)
		assert.Equal(t, int64(1), inbox.TotalCount)
		assert.Empty(t, inbox.Items)
		assert.Equal(t, 1, inbox.Offset)
		assert.Equal(t, 1, inbox.Limit)
	})
}

func TestQueryService_GetTaskAndInstance(t *testing.T) {
	ctx := context.Background()
	f := setupWorkflow(t)
	f.createRequestTemplate(t, model.WorkflowStepRule{MinApprovers: 1}, storesDeptID)
	started, approval := f.submitted(t, "GET-1")

	task, err := f.queries.GetTask(ctx, started.FirstTask.ID)
	require.NoError(t, err)
	require.Len(t, task.Actions, 1)
	assert.Equal(t, model.ActionSubmit, task.Actions[0].ActionCode)
	assert.Equal(t, model.AssigneeStatusApproved, task.Assignees[0].Status)

	instance, err := f.queries.GetInstance(ctx, started.Instance.ID)
	require.NoError(t, err)
	require.Len(t, instance.Tasks, 2)
	assert.Equal(t, approval.ID, instance.Tasks[1].ID)

	_, err = f.queries.GetTask(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = f.queries.GetInstance(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestQueryService_CurrentStepTypeForRequest(t *testing.T) {
	ctx := context.Background()
	f := setupWorkflow(t)
	f.createRequestTemplate(t, model.WorkflowStepRule{MinApprovers: 1}, storesDeptID)

	started := f.start(t, model.RequestBusinessKey(55), nil)

	stepType, err := f.queries.CurrentStepTypeForRequestInTx(ctx, nil, 55)
	require.NoError(t, err)
	assert.Equal(t, model.StepTypeStart, stepType)

	res := f.mustAct(t, started.FirstTask.ID, initiatorID, model.ActionSubmit)
	f.mustAct(t, res.NextTask.ID, 2, model.ActionApprove)

	stepType, err = f.queries.CurrentStepTypeForRequestInTx(ctx, f.db, 55)
	require.NoError(t, err)
	assert.Equal(t, model.StepTypeFulfillment, stepType)

	_, err = f.queries.CurrentStepTypeForRequestInTx(ctx, nil, 56)
	assert.ErrorIs(t, err, ErrNoInstanceForRequest)

	_, err = f.engine.TerminateInstance(ctx, TerminateInstanceRequest{InstanceID: started.Instance.ID, UserID: initiatorID, Reason: "withdrawn"})
	require.NoError(t, err)
	_, err = f.queries.CurrentStepTypeForRequestInTx(ctx, nil, 55)
	assert.ErrorIs(t, err, ErrNoInstanceForRequest, "only active instances count")
}
