package model

import (
	"github.com/google/uuid"
)

// WorkflowTemplate is one immutable version of a named process.
type WorkflowTemplate struct {
	BaseModel
	Code        string         `gorm:"type:varchar(100);column:code;not null;uniqueIndex:idx_workflow_template_code_version" json:"code"` // Stable code shared by every version
	Version     int            `gorm:"column:version;not null;uniqueIndex:idx_workflow_template_code_version" json:"version"`             // Version number, increasing per code
	Name        string         `gorm:"type:varchar(200);column:name;not null" json:"name"`                                                // Human-readable name
	Description string         `gorm:"type:text;column:description" json:"description,omitempty"`                                         // Optional description
	Status      TemplateStatus `gorm:"type:varchar(20);column:status;not null" json:"status"`                                             // DRAFT, PUBLISHED, ARCHIVED
	IsActive    bool           `gorm:"column:is_active;not null" json:"isActive"`                                                         // Inactive versions cannot be started

	Steps       []WorkflowStep       `gorm:"foreignKey:TemplateID;references:ID" json:"steps,omitempty"`
	Transitions []WorkflowTransition `gorm:"foreignKey:TemplateID;references:ID" json:"transitions,omitempty"`
}

func (wt *WorkflowTemplate) TableName() string {
	return "workflow_templates"
}

// IsStartable reports whether new instances may be created from this version.
func (wt *WorkflowTemplate) IsStartable() bool {
	return wt.IsActive && wt.Status == TemplateStatusPublished
}

// WorkflowStep is a node of a template version.
type WorkflowStep struct {
	BaseModel
	TemplateID uuid.UUID `gorm:"type:uuid;column:template_id;not null;uniqueIndex:idx_workflow_step_template_key" json:"templateId"`   // Owning template version
	StepKey    string    `gorm:"type:varchar(100);column:step_key;not null;uniqueIndex:idx_workflow_step_template_key" json:"stepKey"` // Unique key within the version
	Name       string    `gorm:"type:varchar(200);column:name;not null" json:"name"`                                                   // Display name
	StepType   StepType  `gorm:"type:varchar(20);column:step_type;not null" json:"stepType"`                                           // START, REVIEW, APPROVAL, FULFILLMENT, END
	SequenceNo int       `gorm:"column:sequence_no;not null" json:"sequenceNo"`                                                        // 0 marks the start step
	IsActive   bool      `gorm:"column:is_active;not null" json:"isActive"`

	Rule *WorkflowStepRule `gorm:"foreignKey:StepID;references:ID" json:"rule,omitempty"` // Optional assignment rule
}

func (ws *WorkflowStep) TableName() string {
	return "workflow_steps"
}

// WorkflowStepRule configures who is assigned to a step and how many approvals complete it.
type WorkflowStepRule struct {
	BaseModel
	StepID               uuid.UUID      `gorm:"type:uuid;column:step_id;not null;uniqueIndex" json:"stepId"`
	AssignmentMode       AssignmentMode `gorm:"type:varchar(50);column:assignment_mode;not null" json:"assignmentMode"`
	RoleID               *int64         `gorm:"column:role_id" json:"roleId,omitempty"`
	DepartmentID         *int64         `gorm:"column:department_id" json:"departmentId,omitempty"`
	MinApprovers         int            `gorm:"column:min_approvers;not null" json:"minApprovers"`
	RequireAll           bool           `gorm:"column:require_all;not null" json:"requireAll"`
	AllowRequesterSelect bool           `gorm:"column:allow_requester_select;not null" json:"allowRequesterSelect"` // Initiator may pick assignees at start
	SLAMinutes           *int           `gorm:"column:sla_minutes" json:"slaMinutes,omitempty"`                     // Informational due time, never enforced
}

func (r *WorkflowStepRule) TableName() string {
	return "workflow_step_rules"
}

// RequiredApprovals returns the approval count that completes a step when RequireAll is false.
func (r *WorkflowStepRule) RequiredApprovals() int {
	if r.MinApprovers < 1 {
		return 1
	}
	return r.MinApprovers
}

// WorkflowTransition is an edge (fromStep, action) -> toStep.
type WorkflowTransition struct {
	BaseModel
	TemplateID uuid.UUID  `gorm:"type:uuid;column:template_id;not null;index" json:"templateId"`
	FromStepID uuid.UUID  `gorm:"type:uuid;column:from_step_id;not null;uniqueIndex:idx_workflow_transition_from_action" json:"fromStepId"`
	ActionCode ActionCode `gorm:"type:varchar(30);column:action_code;not null;uniqueIndex:idx_workflow_transition_from_action" json:"actionCode"`
	ToStepID   uuid.UUID  `gorm:"type:uuid;column:to_step_id;not null" json:"toStepId"`
}

func (t *WorkflowTransition) TableName() string {
	return "workflow_transitions"
}
