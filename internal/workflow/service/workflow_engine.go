package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JonMonday/inv-sub000/internal/audit"
	"github.com/JonMonday/inv-sub000/internal/tracing"
	"github.com/JonMonday/inv-sub000/internal/workflow/model"
)

// TemplateStore is the read-only view of template versions used by the engine.
type TemplateStore interface {
	GetActiveVersionInTx(ctx context.Context, tx *gorm.DB, templateID uuid.UUID) (*model.WorkflowTemplate, error)
	GetActiveVersionByCodeInTx(ctx context.Context, tx *gorm.DB, code string) (*model.WorkflowTemplate, error)
	GetStartStepInTx(ctx context.Context, tx *gorm.DB, templateID uuid.UUID) (*model.WorkflowStep, error)
	GetStepInTx(ctx context.Context, tx *gorm.DB, stepID uuid.UUID) (*model.WorkflowStep, error)
	FindTransitionInTx(ctx context.Context, tx *gorm.DB, fromStepID uuid.UUID, action model.ActionCode) (*model.WorkflowTransition, error)
}

// Resolver produces the assignees of a step.
type Resolver interface {
	ResolveInTx(ctx context.Context, tx *gorm.DB, rule *model.WorkflowStepRule, initiatorUserID int64) ([]int64, error)
	IsEligibleInTx(ctx context.Context, tx *gorm.DB, rule *model.WorkflowStepRule, initiatorUserID, userID int64) (bool, error)
}

// AuditSink records before/after summaries inside the caller's transaction.
type AuditSink interface {
	LogChange(ctx context.Context, tx *gorm.DB, entry audit.Entry) error
}

// ActionHook runs the side effects of an action inside the action's transaction. A returned error
// rolls the whole action back.
type ActionHook interface {
	OnActionInTx(ctx context.Context, tx *gorm.DB, event ActionEvent) error
}

// ActionEvent is an action as a hook sees it, before the instance advances.
type ActionEvent struct {
	Instance       *model.WorkflowInstance
	Task           *model.WorkflowTask
	Step           *model.WorkflowStep
	Action         model.ActionCode
	UserID         int64
	Payload        json.RawMessage
	IdempotencyKey string
	CorrelationID  string
}

// StartInstanceRequest selects a template version by ID or by code.
type StartInstanceRequest struct {
	TemplateID        *uuid.UUID
	TemplateCode      string
	BusinessKey       string
	InitiatorUserID   int64
	CorrelationID     string
	ManualAssignments map[uuid.UUID][]int64 // step ID -> users
}

// StartInstanceResult is the created instance and its first task.
type StartInstanceResult struct {
	Instance  *model.WorkflowInstance
	FirstTask *model.WorkflowTask
}

// ProcessActionRequest is one action by one user on one task. A repeated request carrying the same
// IdempotencyKey for the same task returns the first outcome.
type ProcessActionRequest struct {
	TaskID         uuid.UUID
	ActionCode     string
	UserID         int64
	Notes          *string
	Payload        json.RawMessage
	IdempotencyKey string
	CorrelationID  string
}

// ActionResult describes what an action changed.
type ActionResult struct {
	Task           *model.WorkflowTask
	StepCompleted  bool
	InstanceStatus model.InstanceStatus
	NextTask       *model.WorkflowTask
	Replayed       bool
}

// TerminateInstanceRequest stops an instance on behalf of a user.
type TerminateInstanceRequest struct {
	InstanceID    uuid.UUID
	UserID        int64
	Reason        string
	CorrelationID string
}

// maxIdempotencyKeyLength matches the idempotency_key column of workflow_task_actions.
const maxIdempotencyKeyLength = 100

// WorkflowEngine creates instances and tasks, governs claims and advances instances along transitions.
// Every public operation runs in its own transaction.
type WorkflowEngine struct {
	db        *gorm.DB
	templates TemplateStore
	resolver  Resolver
	audit     AuditSink
	hooks     []ActionHook
	now       func() time.Time
}

func NewWorkflowEngine(db *gorm.DB, templates TemplateStore, resolver Resolver, auditSink AuditSink) *WorkflowEngine {
	return &WorkflowEngine{
		db:        db,
		templates: templates,
		resolver:  resolver,
		audit:     auditSink,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AddActionHook registers h to run inside the transaction of every ProcessAction.
func (e *WorkflowEngine) AddActionHook(h ActionHook) {
	e.hooks = append(e.hooks, h)
}

// StartInstance creates an ACTIVE instance at the template's start step and opens its first task.
func (e *WorkflowEngine) StartInstance(ctx context.Context, req StartInstanceRequest) (result *StartInstanceResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.StartInstance")
	defer func() { span.End(err) }()

	if req.BusinessKey == "" {
		return nil, ErrInvalidInput.Newf("business key is required")
	}
	if req.TemplateID == nil && req.TemplateCode == "" {
		return nil, ErrInvalidInput.Newf("template id or template code is required")
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		template, err := e.loadTemplateInTx(ctx, tx, req)
		if err != nil {
			return err
		}

		startStep, err := e.templates.GetStartStepInTx(ctx, tx, template.ID)
		if err != nil {
			return err
		}

		if err := e.validateManualAssignmentsInTx(ctx, tx, template.ID, req); err != nil {
			return err
		}

		now := e.now()
		instance := &model.WorkflowInstance{
			TemplateID:      template.ID,
			Status:          model.InstanceStatusActive,
			InitiatorUserID: req.InitiatorUserID,
			BusinessKey:     req.BusinessKey,
			CurrentStepID:   &startStep.ID,
			StartedAt:       now,
		}
		if err := tx.Create(instance).Error; err != nil {
			return fmt.Errorf("failed to create workflow instance: %w", err)
		}

		if err := e.createManualAssignmentsInTx(ctx, tx, instance, req.ManualAssignments); err != nil {
			return err
		}

		task, err := e.CreateTaskForStepInTx(ctx, tx, instance, startStep)
		if err != nil {
			return err
		}

		if err := e.audit.LogChange(ctx, tx, audit.Entry{
			ActorUserID:   req.InitiatorUserID,
			Action:        "WORKFLOW_STARTED",
			EntityTable:   instance.TableName(),
			EntityID:      instance.ID.String(),
			CorrelationID: req.CorrelationID,
			After: map[string]any{
				"templateId":    template.ID.String(),
				"businessKey":   instance.BusinessKey,
				"status":        string(instance.Status),
				"currentStepId": startStep.ID.String(),
			},
		}); err != nil {
			return fmt.Errorf("failed to audit workflow start: %w", err)
		}

		result = &StartInstanceResult{Instance: instance, FirstTask: task}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "workflow instance started",
		"instance_id", result.Instance.ID,
		"template_id", result.Instance.TemplateID,
		"business_key", result.Instance.BusinessKey,
		"first_task_id", result.FirstTask.ID,
		"assignee_count", len(result.FirstTask.Assignees),
	)
	return result, nil
}

func (e *WorkflowEngine) loadTemplateInTx(ctx context.Context, tx *gorm.DB, req StartInstanceRequest) (*model.WorkflowTemplate, error) {
	if req.TemplateID != nil {
		return e.templates.GetActiveVersionInTx(ctx, tx, *req.TemplateID)
	}
	return e.templates.GetActiveVersionByCodeInTx(ctx, tx, req.TemplateCode)
}

// validateManualAssignmentsInTx checks that every overridden step belongs to the template, allows
// requester selection and that every selected user is eligible for it.
func (e *WorkflowEngine) validateManualAssignmentsInTx(ctx context.Context, tx *gorm.DB, templateID uuid.UUID, req StartInstanceRequest) error {
	for _, stepID := range sortedStepIDs(req.ManualAssignments) {
		users := req.ManualAssignments[stepID]
		if len(users) == 0 {
			return ErrInvalidInput.Newf("manual assignment for step %s has no users", stepID)
		}
		step, err := e.templates.GetStepInTx(ctx, tx, stepID)
		if err != nil {
			return err
		}
		if step.TemplateID != templateID {
			return ErrInvalidInput.Newf("step %s does not belong to template %s", stepID, templateID)
		}
		if step.Rule == nil || !step.Rule.AllowRequesterSelect {
			return ErrManualNotAllowed.Newf("step %s does not allow requester selected assignees", step.StepKey)
		}
		for _, userID := range users {
			eligible, err := e.resolver.IsEligibleInTx(ctx, tx, step.Rule, req.InitiatorUserID, userID)
			if err != nil {
				return err
			}
			if !eligible {
				return ErrUserNotEligible.Newf("user %d is not eligible for step %s", userID, step.StepKey)
			}
		}
	}
	return nil
}

// EligibleAssigneesForStep lists the users the rule of a template step resolves to when userID starts
// an instance. Requesters use it to pick manual assignees.
func (e *WorkflowEngine) EligibleAssigneesForStep(ctx context.Context, templateID, stepID uuid.UUID, userID int64) (*model.EligibleAssigneesDTO, error) {
	tx := e.db.WithContext(ctx)
	step, err := e.templates.GetStepInTx(ctx, tx, stepID)
	if err != nil {
		return nil, err
	}
	if step.TemplateID != templateID {
		return nil, ErrStepNotFound.Newf("step %s does not belong to template %s", stepID, templateID)
	}
	users, err := e.resolver.ResolveInTx(ctx, tx, step.Rule, userID)
	if err != nil {
		return nil, err
	}
	return &model.EligibleAssigneesDTO{StepID: step.ID, UserIDs: users}, nil
}

// EligibleAssigneesForTask lists the users the step rule of a task resolves to for its instance.
func (e *WorkflowEngine) EligibleAssigneesForTask(ctx context.Context, taskID uuid.UUID) (*model.EligibleAssigneesDTO, error) {
	tx := e.db.WithContext(ctx)
	task, err := e.getTaskInTx(ctx, tx, taskID, false)
	if err != nil {
		return nil, err
	}
	instance, err := e.getInstanceInTx(ctx, tx, task.InstanceID, false)
	if err != nil {
		return nil, err
	}
	step, err := e.templates.GetStepInTx(ctx, tx, task.StepID)
	if err != nil {
		return nil, err
	}
	users, err := e.resolver.ResolveInTx(ctx, tx, step.Rule, instance.InitiatorUserID)
	if err != nil {
		return nil, err
	}
	return &model.EligibleAssigneesDTO{StepID: step.ID, UserIDs: users}, nil
}

func (e *WorkflowEngine) createManualAssignmentsInTx(ctx context.Context, tx *gorm.DB, instance *model.WorkflowInstance, assignments map[uuid.UUID][]int64) error {
	if len(assignments) == 0 {
		return nil
	}
	rows := make([]model.ManualAssignment, 0)
	for _, stepID := range sortedStepIDs(assignments) {
		for _, userID := range normalizeUserIDs(assignments[stepID]) {
			rows = append(rows, model.ManualAssignment{
				InstanceID:       instance.ID,
				StepID:           stepID,
				UserID:           userID,
				AssignedByUserID: instance.InitiatorUserID,
			})
		}
	}
	if err := tx.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to create manual assignments: %w", err)
	}
	return nil
}

// CreateTaskForStepInTx opens a task for a step. Manual assignments of the (instance, step) pair win
// over rule based resolution. A task with assignees becomes AVAILABLE right away; a task without any
// stays PENDING.
func (e *WorkflowEngine) CreateTaskForStepInTx(ctx context.Context, tx *gorm.DB, instance *model.WorkflowInstance, step *model.WorkflowStep) (*model.WorkflowTask, error) {
	users, manual, err := e.assigneesForStepInTx(ctx, tx, instance, step)
	if err != nil {
		return nil, err
	}

	now := e.now()
	task := &model.WorkflowTask{
		InstanceID: instance.ID,
		StepID:     step.ID,
		Status:     model.TaskStatusPending,
	}
	if step.Rule != nil && step.Rule.SLAMinutes != nil && *step.Rule.SLAMinutes > 0 {
		due := now.Add(time.Duration(*step.Rule.SLAMinutes) * time.Minute)
		task.DueAt = &due
	}
	if err := tx.WithContext(ctx).Omit(clause.Associations).Create(task).Error; err != nil {
		return nil, fmt.Errorf("failed to create task for step %s: %w", step.StepKey, err)
	}

	if len(users) == 0 {
		slog.WarnContext(ctx, "task created without assignees",
			"task_id", task.ID,
			"instance_id", instance.ID,
			"step_key", step.StepKey,
		)
		return task, nil
	}

	assignees := make([]model.WorkflowTaskAssignee, 0, len(users))
	for _, userID := range users {
		assignees = append(assignees, model.WorkflowTaskAssignee{
			TaskID:   task.ID,
			UserID:   userID,
			Status:   model.AssigneeStatusPending,
			IsManual: manual,
		})
	}
	if err := tx.WithContext(ctx).Create(&assignees).Error; err != nil {
		return nil, fmt.Errorf("failed to create assignees for task %s: %w", task.ID, err)
	}
	task.Assignees = assignees

	if !canTransitionToAvailable(task.Status) {
		return nil, ErrInvalidTaskState.Newf("task %s cannot become available from %s", task.ID, task.Status)
	}
	task.Status = model.TaskStatusAvailable
	if err := e.updateTaskInTx(ctx, tx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (e *WorkflowEngine) assigneesForStepInTx(ctx context.Context, tx *gorm.DB, instance *model.WorkflowInstance, step *model.WorkflowStep) ([]int64, bool, error) {
	var manual []int64
	err := tx.WithContext(ctx).Model(&model.ManualAssignment{}).
		Where("instance_id = ? AND step_id = ?", instance.ID, step.ID).
		Order("user_id").
		Pluck("user_id", &manual).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to load manual assignments: %w", err)
	}
	if len(manual) > 0 {
		return manual, true, nil
	}

	users, err := e.resolver.ResolveInTx(ctx, tx, step.Rule, instance.InitiatorUserID)
	if err != nil {
		return nil, false, err
	}
	return users, false, nil
}

// ClaimTask gives userID exclusive hold of an AVAILABLE task. The claim is a single conditional
// update so that concurrent claims by several assignees let exactly one through.
func (e *WorkflowEngine) ClaimTask(ctx context.Context, taskID uuid.UUID, userID int64) (task *model.WorkflowTask, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.ClaimTask")
	defer func() { span.End(err) }()

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := e.getTaskInTx(ctx, tx, taskID, false); err != nil {
			return err
		}

		isAssignee, err := e.isAssigneeInTx(ctx, tx, taskID, userID)
		if err != nil {
			return err
		}
		if !isAssignee {
			return ErrNotAssignee.Newf("user %d is not an assignee of task %s", userID, taskID)
		}

		now := e.now()
		res := tx.WithContext(ctx).Model(&model.WorkflowTask{}).
			Where("id = ? AND claimed_by_user_id IS NULL AND status = ?", taskID, model.TaskStatusAvailable).
			Updates(map[string]any{
				"claimed_by_user_id": userID,
				"claimed_at":         now,
				"status":             model.TaskStatusClaimed,
				"updated_at":         now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to claim task %s: %w", taskID, res.Error)
		}

		task, err = e.getTaskInTx(ctx, tx, taskID, false)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return claimFailure(task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "task claimed", "task_id", taskID, "user_id", userID)
	return task, nil
}

// claimFailure explains why the conditional claim matched no row.
func claimFailure(task *model.WorkflowTask) error {
	if task.Status == model.TaskStatusClaimed && task.ClaimedByUserID != nil {
		return ErrAlreadyClaimed.Newf("task %s is already claimed by user %d", task.ID, *task.ClaimedByUserID)
	}
	if !canTransitionToClaimed(task.Status) {
		return ErrTaskNotAvailable.Newf("task %s is %s and cannot be claimed", task.ID, task.Status)
	}
	return ErrAlreadyClaimed.Newf("task %s changed while claiming", task.ID)
}

// ReleaseTask returns a CLAIMED task to AVAILABLE. Only the claimant may release it.
func (e *WorkflowEngine) ReleaseTask(ctx context.Context, taskID uuid.UUID, userID int64) (*model.WorkflowTask, error) {
	var task *model.WorkflowTask
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := e.now()
		res := tx.WithContext(ctx).Model(&model.WorkflowTask{}).
			Where("id = ? AND claimed_by_user_id = ? AND status = ?", taskID, userID, model.TaskStatusClaimed).
			Updates(map[string]any{
				"claimed_by_user_id": nil,
				"claimed_at":         nil,
				"status":             model.TaskStatusAvailable,
				"updated_at":         now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to release task %s: %w", taskID, res.Error)
		}

		var err error
		task, err = e.getTaskInTx(ctx, tx, taskID, false)
		if err != nil {
			return err
		}
		if res.RowsAffected > 0 {
			return nil
		}
		if task.Status != model.TaskStatusClaimed {
			return ErrInvalidTaskState.Newf("task %s is %s and cannot be released", taskID, task.Status)
		}
		return ErrNotClaimant.Newf("task %s is claimed by another user", taskID)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "task released", "task_id", taskID, "user_id", userID)
	return task, nil
}

// ProcessAction records an action on a task, evaluates step completion and advances the instance.
func (e *WorkflowEngine) ProcessAction(ctx context.Context, req ProcessActionRequest) (result *ActionResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.ProcessAction")
	defer func() { span.End(err) }()

	action, ok := model.ParseActionCode(req.ActionCode)
	if !ok {
		return nil, ErrUnknownAction.Newf("unknown action code %q", req.ActionCode)
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLength {
		return nil, ErrInvalidInput.Newf("idempotency key exceeds %d characters", maxIdempotencyKeyLength)
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := e.getTaskInTx(ctx, tx, req.TaskID, true)
		if err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			prior, err := e.findActionByKeyInTx(ctx, tx, task.ID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if prior != nil {
				result, err = e.replayActionInTx(ctx, tx, task, prior, action, req.UserID)
				return err
			}
		}
		if !canRecordAction(task.Status) {
			return ErrInvalidTaskState.Newf("task %s is %s", task.ID, task.Status)
		}

		instance, err := e.getInstanceInTx(ctx, tx, task.InstanceID, true)
		if err != nil {
			return err
		}
		if !instance.IsActive() {
			return ErrInstanceNotActive.Newf("workflow instance %s is %s", instance.ID, instance.Status)
		}

		before := map[string]any{
			"taskStatus":     string(task.Status),
			"instanceStatus": string(instance.Status),
			"currentStepId":  uuidString(instance.CurrentStepID),
		}

		now := e.now()
		if err := e.authorizeActorInTx(task, req.UserID, now); err != nil {
			return err
		}
		assignee := task.Assignee(req.UserID)
		if assignee == nil {
			return ErrNotAssignee.Newf("user %d is not an assignee of task %s", req.UserID, task.ID)
		}
		if assignee.Status != model.AssigneeStatusPending {
			return ErrAlreadyDecided.Newf("user %d already decided on task %s", req.UserID, task.ID)
		}

		step, err := e.templates.GetStepInTx(ctx, tx, task.StepID)
		if err != nil {
			return err
		}

		taskAction := model.WorkflowTaskAction{
			TaskID:      task.ID,
			ActionCode:  action,
			ActorUserID: req.UserID,
			ActionAt:    now,
			Notes:       req.Notes,
			Payload:     req.Payload,
		}
		if req.IdempotencyKey != "" {
			key := req.IdempotencyKey
			taskAction.IdempotencyKey = &key
		}
		if err := tx.WithContext(ctx).Create(&taskAction).Error; err != nil {
			return fmt.Errorf("failed to record action on task %s: %w", task.ID, err)
		}
		task.Actions = append(task.Actions, taskAction)

		assignee.Status = decisionFor(action)
		assignee.DecidedAt = &now
		if err := tx.WithContext(ctx).Model(&model.WorkflowTaskAssignee{}).
			Where("id = ?", assignee.ID).
			Updates(map[string]any{"status": assignee.Status, "decided_at": now, "updated_at": now}).Error; err != nil {
			return fmt.Errorf("failed to record decision of user %d: %w", req.UserID, err)
		}

		for _, hook := range e.hooks {
			if err := hook.OnActionInTx(ctx, tx, ActionEvent{
				Instance:       instance,
				Task:           task,
				Step:           step,
				Action:         action,
				UserID:         req.UserID,
				Payload:        req.Payload,
				IdempotencyKey: req.IdempotencyKey,
				CorrelationID:  req.CorrelationID,
			}); err != nil {
				return err
			}
		}

		result = &ActionResult{Task: task, InstanceStatus: instance.Status}

		if !isStepComplete(action, step.Rule, task.Assignees) {
			// Hand the task back so the remaining assignees can decide.
			task.ClaimedByUserID = nil
			task.ClaimedAt = nil
			task.Status = model.TaskStatusAvailable
			if err := e.updateTaskInTx(ctx, tx, task); err != nil {
				return err
			}
		} else {
			result.StepCompleted = true
			task.Status = terminalTaskStatus(action)
			task.CompletedAt = &now
			if err := e.updateTaskInTx(ctx, tx, task); err != nil {
				return err
			}

			next, err := e.advanceInstanceInTx(ctx, tx, instance, step, action, now)
			if err != nil {
				return err
			}
			result.NextTask = next
			result.InstanceStatus = instance.Status

			if err := e.recordOutcomeInTx(ctx, tx, &task.Actions[len(task.Actions)-1], next); err != nil {
				return err
			}
		}

		return e.audit.LogChange(ctx, tx, audit.Entry{
			ActorUserID:   req.UserID,
			Action:        "WORKFLOW_ACTION_" + string(action),
			EntityTable:   task.TableName(),
			EntityID:      task.ID.String(),
			CorrelationID: req.CorrelationID,
			Before:        before,
			After: map[string]any{
				"taskStatus":     string(task.Status),
				"instanceStatus": string(instance.Status),
				"currentStepId":  uuidString(instance.CurrentStepID),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if result.Replayed {
		slog.InfoContext(ctx, "workflow action replayed", "task_id", req.TaskID, "action", action, "user_id", req.UserID)
		return result, nil
	}
	slog.InfoContext(ctx, "workflow action processed",
		"task_id", req.TaskID,
		"action", action,
		"user_id", req.UserID,
		"step_completed", result.StepCompleted,
		"instance_status", result.InstanceStatus,
	)
	return result, nil
}

func (e *WorkflowEngine) findActionByKeyInTx(ctx context.Context, tx *gorm.DB, taskID uuid.UUID, key string) (*model.WorkflowTaskAction, error) {
	var prior model.WorkflowTaskAction
	err := tx.WithContext(ctx).
		Where("task_id = ? AND idempotency_key = ?", taskID, key).
		First(&prior).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up action of task %s: %w", taskID, err)
	}
	return &prior, nil
}

// replayActionInTx rebuilds the outcome of an action recorded under the same idempotency key. The key
// must come back from the same user with the same action code.
func (e *WorkflowEngine) replayActionInTx(ctx context.Context, tx *gorm.DB, task *model.WorkflowTask, prior *model.WorkflowTaskAction, action model.ActionCode, userID int64) (*ActionResult, error) {
	if prior.ActorUserID != userID || prior.ActionCode != action {
		return nil, ErrIdempotencyKeyReused.Newf("idempotency key of task %s was used for %s by user %d", task.ID, prior.ActionCode, prior.ActorUserID)
	}

	instance, err := e.getInstanceInTx(ctx, tx, task.InstanceID, false)
	if err != nil {
		return nil, err
	}
	result := &ActionResult{
		Task:           task,
		StepCompleted:  prior.StepCompleted,
		InstanceStatus: instance.Status,
		Replayed:       true,
	}
	if prior.NextTaskID != nil {
		next, err := e.getTaskInTx(ctx, tx, *prior.NextTaskID, false)
		if err != nil {
			return nil, err
		}
		result.NextTask = next
	}
	return result, nil
}

// recordOutcomeInTx keeps on the action row what a replay of it has to answer.
func (e *WorkflowEngine) recordOutcomeInTx(ctx context.Context, tx *gorm.DB, taskAction *model.WorkflowTaskAction, next *model.WorkflowTask) error {
	taskAction.StepCompleted = true
	if next != nil {
		taskAction.NextTaskID = &next.ID
	}
	err := tx.WithContext(ctx).Model(&model.WorkflowTaskAction{}).
		Where("id = ?", taskAction.ID).
		Updates(map[string]any{
			"step_completed": true,
			"next_task_id":   taskAction.NextTaskID,
			"updated_at":     e.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record outcome of action %s: %w", taskAction.ID, err)
	}
	return nil
}

// authorizeActorInTx lets the claimant act, or an assignee of an unclaimed task, which claims it.
func (e *WorkflowEngine) authorizeActorInTx(task *model.WorkflowTask, userID int64, now time.Time) error {
	if task.ClaimedByUserID != nil {
		if !task.IsClaimedBy(userID) {
			return ErrNotClaimant.Newf("task %s is claimed by user %d", task.ID, *task.ClaimedByUserID)
		}
		return nil
	}
	if task.Assignee(userID) == nil {
		return ErrNotAssignee.Newf("user %d is not an assignee of task %s", userID, task.ID)
	}
	task.ClaimedByUserID = &userID
	task.ClaimedAt = &now
	task.Status = model.TaskStatusClaimed
	return nil
}

// advanceInstanceInTx follows the transition of (step, action) or finishes the instance when there is none.
func (e *WorkflowEngine) advanceInstanceInTx(ctx context.Context, tx *gorm.DB, instance *model.WorkflowInstance, step *model.WorkflowStep, action model.ActionCode, now time.Time) (*model.WorkflowTask, error) {
	transition, err := e.templates.FindTransitionInTx(ctx, tx, step.ID, action)
	if err != nil {
		return nil, err
	}

	if transition == nil {
		instance.Status = terminalInstanceStatus(action)
		instance.CompletedAt = &now
		if err := e.updateInstanceInTx(ctx, tx, instance); err != nil {
			return nil, err
		}
		return nil, nil
	}

	nextStep, err := e.templates.GetStepInTx(ctx, tx, transition.ToStepID)
	if err != nil {
		return nil, err
	}
	instance.CurrentStepID = &nextStep.ID
	if err := e.updateInstanceInTx(ctx, tx, instance); err != nil {
		return nil, err
	}
	return e.CreateTaskForStepInTx(ctx, tx, instance, nextStep)
}

// TerminateInstance stops an ACTIVE instance and cancels its open tasks.
func (e *WorkflowEngine) TerminateInstance(ctx context.Context, req TerminateInstanceRequest) (*model.WorkflowInstance, error) {
	var instance *model.WorkflowInstance
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		instance, err = e.getInstanceInTx(ctx, tx, req.InstanceID, true)
		if err != nil {
			return err
		}
		if !instance.IsActive() {
			return ErrInstanceNotActive.Newf("workflow instance %s is %s", instance.ID, instance.Status)
		}

		now := e.now()
		instance.Status = model.InstanceStatusTerminated
		instance.CompletedAt = &now
		if err := e.updateInstanceInTx(ctx, tx, instance); err != nil {
			return err
		}

		if err := tx.WithContext(ctx).Model(&model.WorkflowTask{}).
			Where("instance_id = ? AND status IN ?", instance.ID, openTaskStatuses).
			Updates(map[string]any{
				"status":       model.TaskStatusCancelled,
				"completed_at": now,
				"updated_at":   now,
			}).Error; err != nil {
			return fmt.Errorf("failed to cancel open tasks of instance %s: %w", instance.ID, err)
		}

		return e.audit.LogChange(ctx, tx, audit.Entry{
			ActorUserID:   req.UserID,
			Action:        "WORKFLOW_TERMINATED",
			EntityTable:   instance.TableName(),
			EntityID:      instance.ID.String(),
			CorrelationID: req.CorrelationID,
			Before:        map[string]any{"status": string(model.InstanceStatusActive)},
			After:         map[string]any{"status": string(instance.Status), "reason": req.Reason},
		})
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "workflow instance terminated", "instance_id", req.InstanceID, "user_id", req.UserID, "reason", req.Reason)
	return instance, nil
}

var openTaskStatuses = []model.TaskStatus{
	model.TaskStatusPending,
	model.TaskStatusAvailable,
	model.TaskStatusClaimed,
}

func (e *WorkflowEngine) getTaskInTx(ctx context.Context, tx *gorm.DB, taskID uuid.UUID, forUpdate bool) (*model.WorkflowTask, error) {
	q := tx.WithContext(ctx).Preload("Assignees", func(db *gorm.DB) *gorm.DB {
		return db.Order("user_id")
	})
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var task model.WorkflowTask
	if err := q.First(&task, "id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound.Newf("workflow task %s not found", taskID)
		}
		return nil, fmt.Errorf("failed to load workflow task %s: %w", taskID, err)
	}
	return &task, nil
}

func (e *WorkflowEngine) getInstanceInTx(ctx context.Context, tx *gorm.DB, instanceID uuid.UUID, forUpdate bool) (*model.WorkflowInstance, error) {
	q := tx.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var instance model.WorkflowInstance
	if err := q.First(&instance, "id = ?", instanceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound.Newf("workflow instance %s not found", instanceID)
		}
		return nil, fmt.Errorf("failed to load workflow instance %s: %w", instanceID, err)
	}
	return &instance, nil
}

func (e *WorkflowEngine) isAssigneeInTx(ctx context.Context, tx *gorm.DB, taskID uuid.UUID, userID int64) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&model.WorkflowTaskAssignee{}).
		Where("task_id = ? AND user_id = ?", taskID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check assignee of task %s: %w", taskID, err)
	}
	return count > 0, nil
}

func (e *WorkflowEngine) updateTaskInTx(ctx context.Context, tx *gorm.DB, task *model.WorkflowTask) error {
	err := tx.WithContext(ctx).Model(&model.WorkflowTask{}).
		Where("id = ?", task.ID).
		Updates(map[string]any{
			"status":             task.Status,
			"claimed_by_user_id": task.ClaimedByUserID,
			"claimed_at":         task.ClaimedAt,
			"completed_at":       task.CompletedAt,
			"updated_at":         e.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update workflow task %s: %w", task.ID, err)
	}
	return nil
}

func (e *WorkflowEngine) updateInstanceInTx(ctx context.Context, tx *gorm.DB, instance *model.WorkflowInstance) error {
	err := tx.WithContext(ctx).Model(&model.WorkflowInstance{}).
		Where("id = ?", instance.ID).
		Updates(map[string]any{
			"status":          instance.Status,
			"current_step_id": instance.CurrentStepID,
			"completed_at":    instance.CompletedAt,
			"updated_at":      e.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update workflow instance %s: %w", instance.ID, err)
	}
	return nil
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// sortedStepIDs returns the keys of a manual assignment map in a stable order.
func sortedStepIDs(assignments map[uuid.UUID][]int64) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(assignments))
	for id := range assignments {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})
	return ids
}
