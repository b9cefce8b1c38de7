package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WorkflowTask is one unit of pending work for one step of one instance.
type WorkflowTask struct {
	BaseModel
	InstanceID      uuid.UUID  `gorm:"type:uuid;column:instance_id;not null;index" json:"instanceId"` // Owning instance
	StepID          uuid.UUID  `gorm:"type:uuid;column:step_id;not null" json:"stepId"`               // Step the task belongs to
	Status          TaskStatus `gorm:"type:varchar(20);column:status;not null;index" json:"status"`   // PENDING, AVAILABLE, CLAIMED or terminal
	ClaimedByUserID *int64     `gorm:"column:claimed_by_user_id" json:"claimedByUserId,omitempty"`    // Single claimant, nil when unclaimed
	ClaimedAt       *time.Time `gorm:"column:claimed_at" json:"claimedAt,omitempty"`
	DueAt           *time.Time `gorm:"column:due_at" json:"dueAt,omitempty"` // Derived from the step SLA, informational
	CompletedAt     *time.Time `gorm:"column:completed_at" json:"completedAt,omitempty"`

	Instance  *WorkflowInstance      `gorm:"foreignKey:InstanceID;references:ID" json:"-"`
	Step      *WorkflowStep          `gorm:"foreignKey:StepID;references:ID" json:"-"`
	Assignees []WorkflowTaskAssignee `gorm:"foreignKey:TaskID;references:ID" json:"assignees,omitempty"`
	Actions   []WorkflowTaskAction   `gorm:"foreignKey:TaskID;references:ID" json:"actions,omitempty"`
}

func (t *WorkflowTask) TableName() string {
	return "workflow_tasks"
}

// IsClaimedBy reports whether userID holds the claim.
func (t *WorkflowTask) IsClaimedBy(userID int64) bool {
	return t.ClaimedByUserID != nil && *t.ClaimedByUserID == userID
}

// Assignee returns the assignee entry of userID, or nil.
func (t *WorkflowTask) Assignee(userID int64) *WorkflowTaskAssignee {
	for i := range t.Assignees {
		if t.Assignees[i].UserID == userID {
			return &t.Assignees[i]
		}
	}
	return nil
}

// WorkflowTaskAssignee is a candidate actor of a task with an individual decision.
type WorkflowTaskAssignee struct {
	BaseModel
	TaskID    uuid.UUID      `gorm:"type:uuid;column:task_id;not null;uniqueIndex:idx_task_assignee" json:"taskId"`
	UserID    int64          `gorm:"column:user_id;not null;uniqueIndex:idx_task_assignee;index" json:"userId"`
	Status    AssigneeStatus `gorm:"type:varchar(20);column:status;not null" json:"status"`
	IsManual  bool           `gorm:"column:is_manual;not null" json:"isManual"` // Came from a manual assignment
	DecidedAt *time.Time     `gorm:"column:decided_at" json:"decidedAt,omitempty"`
}

func (a *WorkflowTaskAssignee) TableName() string {
	return "workflow_task_assignees"
}

// WorkflowTaskAction is an append-only log entry of an action on a task.
type WorkflowTaskAction struct {
	BaseModel
	TaskID         uuid.UUID       `gorm:"type:uuid;column:task_id;not null;index;uniqueIndex:idx_task_action_idempotency" json:"taskId"`
	ActionCode     ActionCode      `gorm:"type:varchar(30);column:action_code;not null" json:"actionCode"`
	ActorUserID    int64           `gorm:"column:actor_user_id;not null" json:"actorUserId"`
	ActionAt       time.Time       `gorm:"column:action_at;not null" json:"actionAt"`
	Notes          *string         `gorm:"type:text;column:notes" json:"notes,omitempty"`
	Payload        json.RawMessage `gorm:"type:jsonb;column:payload;serializer:json" json:"payload,omitempty"`
	IdempotencyKey *string         `gorm:"type:varchar(100);column:idempotency_key;uniqueIndex:idx_task_action_idempotency" json:"idempotencyKey,omitempty"` // Client key, unique per task
	StepCompleted  bool            `gorm:"column:step_completed;not null" json:"stepCompleted"`                                                              // Outcome kept for replays
	NextTaskID     *uuid.UUID      `gorm:"type:uuid;column:next_task_id" json:"nextTaskId,omitempty"`                                                        // Task the action opened, if any
}

func (a *WorkflowTaskAction) TableName() string {
	return "workflow_task_actions"
}
