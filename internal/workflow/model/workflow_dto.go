package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// StartInstanceDTO is the request body for starting a workflow instance.
// Exactly one of TemplateID or TemplateCode selects the template version.
type StartInstanceDTO struct {
	TemplateID        *uuid.UUID            `json:"templateId,omitempty"`           // Explicit template version
	TemplateCode      string                `json:"templateCode,omitempty"`         // Latest active published version of this code
	BusinessKey       string                `json:"businessKey" binding:"required"` // Opaque key of the business object
	ManualAssignments []ManualAssignmentDTO `json:"manualAssignments,omitempty"`    // Requester picked assignees per step
}

// ManualAssignmentDTO assigns users to one step of the new instance.
type ManualAssignmentDTO struct {
	StepID  uuid.UUID `json:"stepId"`
	UserIDs []int64   `json:"userIds"`
}

// ProcessActionDTO is the request body for acting on a task.
type ProcessActionDTO struct {
	ActionCode string          `json:"actionCode" binding:"required"`
	Notes      *string         `json:"notes,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"` // FULFILLMENT steps read {"fulfillments": [...]}
}

// ActionResponseDTO is the outcome of an action.
type ActionResponseDTO struct {
	Task           *WorkflowTask  `json:"task"`
	StepCompleted  bool           `json:"stepCompleted"`
	InstanceStatus InstanceStatus `json:"instanceStatus"`
	NextTask       *WorkflowTask  `json:"nextTask,omitempty"`
	Replayed       bool           `json:"replayed"`
}

// EligibleAssigneesDTO lists the users a step rule resolves to.
type EligibleAssigneesDTO struct {
	StepID  uuid.UUID `json:"stepId"`
	UserIDs []int64   `json:"userIds"`
}

// TerminateInstanceDTO is the request body for terminating an instance.
type TerminateInstanceDTO struct {
	Reason string `json:"reason"`
}

// InstanceResponseDTO is an instance with its task history.
type InstanceResponseDTO struct {
	WorkflowInstance
	Tasks []WorkflowTask `json:"tasks"`
}

// TaskListResponseDTO is a page of tasks.
type TaskListResponseDTO struct {
	TotalCount int64          `json:"totalCount"`
	Items      []WorkflowTask `json:"items"`
	Offset     int            `json:"offset"`
	Limit      int            `json:"limit"`
}
