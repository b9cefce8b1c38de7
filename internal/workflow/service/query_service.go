package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/JonMonday/inv-sub000/internal/workflow/model"
	"github.com/JonMonday/inv-sub000/utils"
)

// QueryService serves read models of instances and tasks.
type QueryService struct {
	db *gorm.DB
}

func NewQueryService(db *gorm.DB) *QueryService {
	return &QueryService{db: db}
}

// GetInstance returns an instance with all of its tasks in creation order.
func (s *QueryService) GetInstance(ctx context.Context, instanceID uuid.UUID) (*model.InstanceResponseDTO, error) {
	var instance model.WorkflowInstance
	if err := s.db.WithContext(ctx).First(&instance, "id = ?", instanceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound.Newf("workflow instance %s not found", instanceID)
		}
		return nil, fmt.Errorf("failed to retrieve workflow instance: %w", err)
	}

	var tasks []model.WorkflowTask
	err := s.db.WithContext(ctx).
		Preload("Assignees", func(db *gorm.DB) *gorm.DB { return db.Order("user_id") }).
		Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("action_at, created_at") }).
		Where("instance_id = ?", instanceID).
		Order("created_at").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve tasks of workflow instance: %w", err)
	}

	return &model.InstanceResponseDTO{WorkflowInstance: instance, Tasks: tasks}, nil
}

// GetTask returns a task with its assignees and action log.
func (s *QueryService) GetTask(ctx context.Context, taskID uuid.UUID) (*model.WorkflowTask, error) {
	var task model.WorkflowTask
	err := s.db.WithContext(ctx).
		Preload("Assignees", func(db *gorm.DB) *gorm.DB { return db.Order("user_id") }).
		Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("action_at, created_at") }).
		First(&task, "id = ?", taskID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound.Newf("workflow task %s not found", taskID)
		}
		return nil, fmt.Errorf("failed to retrieve workflow task: %w", err)
	}
	return &task, nil
}

// ListInbox returns the open tasks a user can act on: tasks the user claimed plus unclaimed
// tasks where the user is an assignee who has not decided yet.
func (s *QueryService) ListInbox(ctx context.Context, userID int64, offset, limit *int) (*model.TaskListResponseDTO, error) {
	finalOffset, finalLimit := utils.GetPaginationParams(offset, limit)

	var totalCount int64
	if err := s.db.WithContext(ctx).Model(&model.WorkflowTask{}).Scopes(inboxOf(userID)).Count(&totalCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count inbox tasks: %w", err)
	}

	var tasks []model.WorkflowTask
	err := s.db.WithContext(ctx).Scopes(inboxOf(userID)).
		Preload("Assignees", func(db *gorm.DB) *gorm.DB { return db.Order("user_id") }).
		Order("created_at").
		Offset(finalOffset).
		Limit(finalLimit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve inbox tasks: %w", err)
	}

	return &model.TaskListResponseDTO{
		TotalCount: totalCount,
		Items:      tasks,
		Offset:     finalOffset,
		Limit:      finalLimit,
	}, nil
}

func inboxOf(userID int64) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("workflow_tasks.status IN ?", openTaskStatuses).
			Where(`workflow_tasks.claimed_by_user_id = ? OR (workflow_tasks.claimed_by_user_id IS NULL AND EXISTS (
				SELECT 1 FROM workflow_task_assignees a
				WHERE a.task_id = workflow_tasks.id AND a.user_id = ? AND a.status = ?))`,
				userID, userID, model.AssigneeStatusPending)
	}
}

// CurrentStepTypeForRequestInTx returns the step type of the latest ACTIVE instance started for an
// inventory request.
func (s *QueryService) CurrentStepTypeForRequestInTx(ctx context.Context, tx *gorm.DB, requestID int64) (model.StepType, error) {
	if tx == nil {
		tx = s.db
	}

	var instance model.WorkflowInstance
	err := tx.WithContext(ctx).
		Preload("CurrentStep").
		Where("business_key = ? AND status = ?", model.RequestBusinessKey(requestID), model.InstanceStatusActive).
		Order("started_at DESC").
		First(&instance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNoInstanceForRequest.Newf("no active workflow instance for request %d", requestID)
		}
		return "", fmt.Errorf("failed to retrieve workflow instance of request %d: %w", requestID, err)
	}
	if instance.CurrentStep == nil {
		return "", ErrStepNotFound.Newf("workflow instance %s has no current step", instance.ID)
	}
	return instance.CurrentStep.StepType, nil
}
