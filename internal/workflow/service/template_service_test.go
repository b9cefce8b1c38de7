package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMonday/inv-sub000/internal/database/dbtest"
	"github.com/JonMonday/inv-sub000/internal/workflow/model"
)

func TestCreateTemplate_Validation(t *testing.T) {
	ctx := context.Background()
	f := setupWorkflow(t)

	tests := []struct {
		name    string
		def     TemplateDefinition
		wantErr error
	}{
		{
			name:    "No Steps",
			def:     TemplateDefinition{Code: "EMPTY"},
			wantErr: ErrInvalidInput,
		},
		{
			name: "Duplicate Step Key",
			def: TemplateDefinition{Code: "DUP", Steps: []StepDefinition{
				{Key: "A", Type: model.StepTypeStart},
				{Key: "A", Type: model.StepTypeEnd, SequenceNo: 1},
			}},
			wantErr: ErrInvalidInput,
		},
		{
			name: "Transition To Unknown Step",
			def: TemplateDefinition{Code: "DANGLING",
				Steps:       []StepDefinition{{Key: "A", Type: model.StepTypeStart}},
				Transitions: []TransitionDefinition{{FromKey: "A", Action: model.ActionSubmit, ToKey: "B"}},
			},
			wantErr: ErrInvalidInput,
		},
		{
			name: "Unknown Action",
			def: TemplateDefinition{Code: "BADACTION",
				Steps: []StepDefinition{
					{Key: "A", Type: model.StepTypeStart},
					{Key: "B", Type: model.StepTypeEnd, SequenceNo: 1},
				},
				Transitions: []TransitionDefinition{{FromKey: "A", Action: "ESCALATE", ToKey: "B"}},
			},
			wantErr: ErrUnknownAction,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.templates.CreateTemplate(ctx, tt.def)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&model.WorkflowTemplate{}).Count(&count).Error)
	assert.Zero(t, count, "failed definitions leave nothing behind")
}

func TestTemplateService_Versions(t *testing.T) {
	ctx := context.Background()
	f := setupWorkflow(t)

	steps := []StepDefinition{{Key: "ONLY", Type: model.StepTypeStart}}
	v1, err := f.templates.CreateTemplate(ctx, TemplateDefinition{Code: "VERSIONED", Steps: steps})
	require.NoError(t, err)
	v2, err := f.templates.CreateTemplate(ctx, TemplateDefinition{Code: "VERSIONED", Version: 2, Steps: steps})
	require.NoError(t, err)
	_, err = f.templates.CreateTemplate(ctx, TemplateDefinition{Code: "VERSIONED", Version: 3, Status: model.TemplateStatusDraft, Steps: steps})
	require.NoError(t, err)

	got, err := f.templates.GetActiveVersionByCodeInTx(ctx, f.db, "VERSIONED")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, got.ID, "drafts are never picked")

	got, err = f.templates.GetActiveVersionInTx(ctx, f.db, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)

	_, err = f.templates.GetActiveVersionInTx(ctx, f.db, uuid.New())
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestTemplateService_StartStep(t *testing.T) {
	ctx := context.Background()
	f := setupWorkflow(t)

	noStart, err := f.templates.CreateTemplate(ctx, TemplateDefinition{Code: "NOSTART", Steps: []StepDefinition{
		{Key: "REVIEW", Type: model.StepTypeReview, SequenceNo: 1},
	}})
	require.NoError(t, err)
	_, err = f.templates.GetStartStepInTx(ctx, f.db, noStart.ID)
	assert.ErrorIs(t, err, ErrNoStartStep)

	twoStarts, err := f.templates.CreateTemplate(ctx, TemplateDefinition{Code: "TWOSTARTS", Steps: []StepDefinition{
		{Key: "A", Type: model.StepTypeStart},
		{Key: "B", Type: model.StepTypeStart},
	}})
	require.NoError(t, err)
	_, err = f.templates.GetStartStepInTx(ctx, f.db, twoStarts.ID)
	assert.ErrorIs(t, err, ErrAmbiguousStartStep)

	_, err = f.engine.StartInstance(ctx, StartInstanceRequest{TemplateCode: "TWOSTARTS", BusinessKey: "B-1", InitiatorUserID: initiatorID})
	assert.ErrorIs(t, err, ErrAmbiguousStartStep)
}

func TestTemplateService_LoadGraph(t *testing.T) {
	ctx := context.Background()
	f := setupWorkflow(t)
	tpl := f.createRequestTemplate(t, model.WorkflowStepRule{MinApprovers: 2}, storesDeptID)

	graph, err := f.templates.LoadGraphInTx(ctx, nil, tpl.ID)
	require.NoError(t, err)
	require.Len(t, graph.Steps, 4)
	assert.Equal(t, "SUBMIT", graph.Steps[0].StepKey)
	assert.Equal(t, "CLOSE", graph.Steps[3].StepKey)
	require.NotNil(t, graph.Steps[1].Rule)
	assert.Equal(t, 2, graph.Steps[1].Rule.MinApprovers)
	assert.Nil(t, graph.Steps[3].Rule)
	assert.Len(t, graph.Transitions, 4)

	_, err = f.templates.LoadGraphInTx(ctx, nil, uuid.New())
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestTemplateService_FindTransition(t *testing.T) {
	ctx := context.Background()
	f := setupWorkflow(t)
	tpl := f.createRequestTemplate(t, model.WorkflowStepRule{MinApprovers: 1}, storesDeptID)
	approve := stepIDOf(t, tpl, "APPROVE")

	tr, err := f.templates.FindTransitionInTx(ctx, f.db, approve, model.ActionApprove)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, stepIDOf(t, tpl, "FULFILL"), tr.ToStepID)

	tr, err = f.templates.FindTransitionInTx(ctx, f.db, approve, model.ActionReject)
	require.NoError(t, err)
	assert.Nil(t, tr, "no edge means the action ends the instance")
}

func TestTemplateService_FindTransitionMock(t *testing.T) {
	db, mock := dbtest.OpenMock(t)
	s := NewTemplateService(db)
	from, to := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT \* FROM "workflow_transitions" WHERE from_step_id = .* AND action_code = .*`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "template_id", "from_step_id", "action_code", "to_step_id", "created_at", "updated_at"}).
			AddRow(uuid.New().String(), uuid.New().String(), from.String(), "APPROVE", to.String(), now, now))

	tr, err := s.FindTransitionInTx(context.Background(), db, from, model.ActionApprove)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, to, tr.ToStepID)

	mock.ExpectQuery(`SELECT \* FROM "workflow_transitions" WHERE from_step_id = .* AND action_code = .*`).
		WillReturnError(errors.New("connection refused"))

	_, err = s.FindTransitionInTx(context.Background(), db, uuid.New(), model.ActionApprove)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to look up transition")
	assert.NoError(t, mock.ExpectationsWereMet())
}
