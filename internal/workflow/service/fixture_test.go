package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/JonMonday/inv-sub000/internal/audit"
	"github.com/JonMonday/inv-sub000/internal/database/dbtest"
	"github.com/JonMonday/inv-sub000/internal/directory"
	"github.com/JonMonday/inv-sub000/internal/workflow/model"
)

const (
	initiatorID     = int64(1)
	inactiveID      = int64(5)
	storekeeperID   = int64(6)
	approverRoleID  = int64(5)
	requestorDeptID = int64(10)
	storesDeptID    = int64(20)
	templateCode    = "INV_REQUEST"
)

// approverIDs are the active members of approverRoleID.
var approverIDs = []int64{2, 3, 4, 7, 8}

type workflowFixture struct {
	db        *gorm.DB
	templates *TemplateService
	engine    *WorkflowEngine
	queries   *QueryService
}

func setupWorkflow(t *testing.T) *workflowFixture {
	t.Helper()
	db := dbtest.OpenSQLite(t,
		&directory.User{}, &directory.UserRole{}, &directory.UserDepartment{},
		&model.WorkflowTemplate{}, &model.WorkflowStep{}, &model.WorkflowStepRule{}, &model.WorkflowTransition{},
		&model.WorkflowInstance{}, &model.ManualAssignment{},
		&model.WorkflowTask{}, &model.WorkflowTaskAssignee{}, &model.WorkflowTaskAction{},
		&audit.Log{},
	)

	users := []directory.User{
		{ID: 1, FullName: "Requester", IsActive: true},
		{ID: 2, FullName: "Approver Two", IsActive: true},
		{ID: 3, FullName: "Approver Three", IsActive: true},
		{ID: 4, FullName: "Approver Four", IsActive: true},
		{ID: 5, FullName: "Former Approver", IsActive: false},
		{ID: 6, FullName: "Storekeeper", IsActive: true},
		{ID: 7, FullName: "Approver Seven", IsActive: true},
		{ID: 8, FullName: "Approver Eight", IsActive: true},
	}
	require.NoError(t, db.Create(&users).Error)

	roles := []directory.UserRole{{UserID: inactiveID, RoleID: approverRoleID}}
	for _, id := range approverIDs {
		roles = append(roles, directory.UserRole{UserID: id, RoleID: approverRoleID})
	}
	require.NoError(t, db.Create(&roles).Error)

	departments := []directory.UserDepartment{
		{UserID: initiatorID, DepartmentID: requestorDeptID, IsPrimary: true},
		{UserID: 2, DepartmentID: requestorDeptID, IsPrimary: true},
		{UserID: storekeeperID, DepartmentID: storesDeptID, IsPrimary: true},
	}
	require.NoError(t, db.Create(&departments).Error)

	templates := NewTemplateService(db)
	resolver := NewAssigneeResolver(directory.NewRepository(db))
	return &workflowFixture{
		db:        db,
		templates: templates,
		engine:    NewWorkflowEngine(db, templates, resolver, audit.NewService()),
		queries:   NewQueryService(db),
	}
}

// createRequestTemplate provisions SUBMIT -> APPROVE -> FULFILL -> CLOSE with SEND_BACK from APPROVE to SUBMIT.
// REJECT and CANCEL have no transitions and therefore end the instance.
func (f *workflowFixture) createRequestTemplate(t *testing.T, approval model.WorkflowStepRule, fulfillDeptID int64) *model.WorkflowTemplate {
	t.Helper()
	approval.AssignmentMode = model.AssignmentModeRole
	approval.RoleID = int64Ptr(approverRoleID)

	tpl, err := f.templates.CreateTemplate(context.Background(), TemplateDefinition{
		Code: templateCode,
		Name: "Inventory request",
		Steps: []StepDefinition{
			{Key: "SUBMIT", Name: "Submit", Type: model.StepTypeStart, SequenceNo: 0,
				Rule: &model.WorkflowStepRule{AssignmentMode: model.AssignmentModeRequestor}},
			{Key: "APPROVE", Name: "Approve", Type: model.StepTypeApproval, SequenceNo: 1, Rule: &approval},
			{Key: "FULFILL", Name: "Fulfill", Type: model.StepTypeFulfillment, SequenceNo: 2,
				Rule: &model.WorkflowStepRule{AssignmentMode: model.AssignmentModeDepartment, DepartmentID: int64Ptr(fulfillDeptID)}},
			{Key: "CLOSE", Name: "Close", Type: model.StepTypeEnd, SequenceNo: 3},
		},
		Transitions: []TransitionDefinition{
			{FromKey: "SUBMIT", Action: model.ActionSubmit, ToKey: "APPROVE"},
			{FromKey: "APPROVE", Action: model.ActionApprove, ToKey: "FULFILL"},
			{FromKey: "APPROVE", Action: model.ActionSendBack, ToKey: "SUBMIT"},
			{FromKey: "FULFILL", Action: model.ActionComplete, ToKey: "CLOSE"},
		},
	})
	require.NoError(t, err)
	return tpl
}

func stepIDOf(t *testing.T, tpl *model.WorkflowTemplate, key string) uuid.UUID {
	t.Helper()
	for _, s := range tpl.Steps {
		if s.StepKey == key {
			return s.ID
		}
	}
	t.Fatalf("step %s not found in template", key)
	return uuid.Nil
}

func (f *workflowFixture) start(t *testing.T, businessKey string, manual map[uuid.UUID][]int64) *StartInstanceResult {
	t.Helper()
	res, err := f.engine.StartInstance(context.Background(), StartInstanceRequest{
		TemplateCode:      templateCode,
		BusinessKey:       businessKey,
		InitiatorUserID:   initiatorID,
		ManualAssignments: manual,
	})
	require.NoError(t, err)
	return res
}

func (f *workflowFixture) act(taskID uuid.UUID, userID int64, action model.ActionCode) (*ActionResult, error) {
	return f.engine.ProcessAction(context.Background(), ProcessActionRequest{
		TaskID:     taskID,
		ActionCode: string(action),
		UserID:     userID,
	})
}

// mustAct records an action that is expected to succeed.
func (f *workflowFixture) mustAct(t *testing.T, taskID uuid.UUID, userID int64, action model.ActionCode) *ActionResult {
	t.Helper()
	res, err := f.act(taskID, userID, action)
	require.NoError(t, err)
	return res
}

// submitted starts an instance and submits it, returning the open approval task.
func (f *workflowFixture) submitted(t *testing.T, businessKey string) (*StartInstanceResult, *model.WorkflowTask) {
	t.Helper()
	started := f.start(t, businessKey, nil)
	res := f.mustAct(t, started.FirstTask.ID, initiatorID, model.ActionSubmit)
	require.NotNil(t, res.NextTask)
	return started, res.NextTask
}

func (f *workflowFixture) reloadTask(t *testing.T, taskID uuid.UUID) *model.WorkflowTask {
	t.Helper()
	task, err := f.queries.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	return task
}

func assigneeIDs(task *model.WorkflowTask) []int64 {
	ids := make([]int64, 0, len(task.Assignees))
	for _, a := range task.Assignees {
		ids = append(ids, a.UserID)
	}
	return ids
}
