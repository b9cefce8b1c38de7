package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// requestBusinessKeyPrefix links an inventory request to the instance driving it.
const requestBusinessKeyPrefix = "INV_REQ:"

// RequestBusinessKey returns the business key used for instances started for an inventory request.
func RequestBusinessKey(requestID int64) string {
	return fmt.Sprintf("%s%d", requestBusinessKeyPrefix, requestID)
}

// ParseRequestBusinessKey returns the inventory request an instance was started for. ok is false
// for business keys of other kinds.
func ParseRequestBusinessKey(key string) (requestID int64, ok bool) {
	raw, found := strings.CutPrefix(key, requestBusinessKeyPrefix)
	if !found {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// WorkflowInstance is one running execution of a template version.
type WorkflowInstance struct {
	BaseModel
	TemplateID      uuid.UUID      `gorm:"type:uuid;column:template_id;not null;index" json:"templateId"`           // Template version the instance runs
	Status          InstanceStatus `gorm:"type:varchar(20);column:status;not null" json:"status"`                   // ACTIVE until a terminal status is reached
	InitiatorUserID int64          `gorm:"column:initiator_user_id;not null" json:"initiatorUserId"`                // User who started the instance
	BusinessKey     string         `gorm:"type:varchar(200);column:business_key;not null;index" json:"businessKey"` // Caller supplied opaque key
	CurrentStepID   *uuid.UUID     `gorm:"type:uuid;column:current_step_id" json:"currentStepId,omitempty"`         // Step of the open task
	StartedAt       time.Time      `gorm:"column:started_at;not null" json:"startedAt"`
	CompletedAt     *time.Time     `gorm:"column:completed_at" json:"completedAt,omitempty"`

	Template    *WorkflowTemplate `gorm:"foreignKey:TemplateID;references:ID" json:"-"`
	CurrentStep *WorkflowStep     `gorm:"foreignKey:CurrentStepID;references:ID" json:"-"`
}

func (wi *WorkflowInstance) TableName() string {
	return "workflow_instances"
}

// IsActive reports whether tasks of the instance may still be acted on.
func (wi *WorkflowInstance) IsActive() bool {
	return wi.Status == InstanceStatusActive
}

// ManualAssignment overrides rule based resolution for one step of one instance.
type ManualAssignment struct {
	BaseModel
	InstanceID       uuid.UUID `gorm:"type:uuid;column:instance_id;not null;uniqueIndex:idx_manual_assignment_scope" json:"instanceId"`
	StepID           uuid.UUID `gorm:"type:uuid;column:step_id;not null;uniqueIndex:idx_manual_assignment_scope" json:"stepId"`
	UserID           int64     `gorm:"column:user_id;not null;uniqueIndex:idx_manual_assignment_scope" json:"userId"`
	AssignedByUserID int64     `gorm:"column:assigned_by_user_id;not null" json:"assignedByUserId"`

	Instance *WorkflowInstance `gorm:"foreignKey:InstanceID;references:ID" json:"-"`
	Step     *WorkflowStep     `gorm:"foreignKey:StepID;references:ID" json:"-"`
}

func (ma *ManualAssignment) TableName() string {
	return "workflow_manual_assignments"
}
