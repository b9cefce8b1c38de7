package model

// StepType is the role a step plays in a workflow template.
type StepType string

const (
	StepTypeStart       StepType = "START"       // Entry step, sequence 0
	StepTypeReview      StepType = "REVIEW"      // Reviewer looks at the request
	StepTypeApproval    StepType = "APPROVAL"    // One or more approvers decide
	StepTypeFulfillment StepType = "FULFILLMENT" // Stock is reserved and issued while here
	StepTypeEnd         StepType = "END"         // Final step
)

// AssignmentMode decides how the assignees of a step are resolved.
type AssignmentMode string

const (
	AssignmentModeRequestor                  AssignmentMode = "REQUESTOR"                     // The initiator only
	AssignmentModeRole                       AssignmentMode = "ROLE"                          // Members of the rule's role
	AssignmentModeDepartment                 AssignmentMode = "DEPARTMENT"                    // Members of the rule's department
	AssignmentModeRoleAndDepartment          AssignmentMode = "ROLE_AND_DEPARTMENT"           // Members of both the rule's role and department
	AssignmentModeRequestorDepartment        AssignmentMode = "REQUESTOR_DEPARTMENT"          // Members of the initiator's departments
	AssignmentModeRequestorRole              AssignmentMode = "REQUESTOR_ROLE"                // Members of the initiator's roles
	AssignmentModeRequestorRoleAndDepartment AssignmentMode = "REQUESTOR_ROLE_AND_DEPARTMENT" // Members of the rule's role within the initiator's departments
)

// ParseAssignmentMode reports whether code names a known mode.
func ParseAssignmentMode(code string) (AssignmentMode, bool) {
	switch mode := AssignmentMode(code); mode {
	case AssignmentModeRequestor,
		AssignmentModeRole,
		AssignmentModeDepartment,
		AssignmentModeRoleAndDepartment,
		AssignmentModeRequestorDepartment,
		AssignmentModeRequestorRole,
		AssignmentModeRequestorRoleAndDepartment:
		return mode, true
	}
	return "", false
}

// ActionCode is what an actor does to a task.
type ActionCode string

const (
	ActionSubmit   ActionCode = "SUBMIT"
	ActionApprove  ActionCode = "APPROVE"
	ActionReject   ActionCode = "REJECT"
	ActionSendBack ActionCode = "SEND_BACK"
	ActionCancel   ActionCode = "CANCEL"
	ActionComplete ActionCode = "COMPLETE"
)

// ParseActionCode reports whether code names a known action.
func ParseActionCode(code string) (ActionCode, bool) {
	switch action := ActionCode(code); action {
	case ActionSubmit, ActionApprove, ActionReject, ActionSendBack, ActionCancel, ActionComplete:
		return action, true
	}
	return "", false
}

// TaskStatus represents the status of a workflow task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"   // Created, no assignee can act yet
	TaskStatusAvailable TaskStatus = "AVAILABLE" // Assignees may claim it
	TaskStatusClaimed   TaskStatus = "CLAIMED"   // Held by a single claimant
	TaskStatusApproved  TaskStatus = "APPROVED"  // Completed by an approval
	TaskStatusRejected  TaskStatus = "REJECTED"  // Completed by a rejection
	TaskStatusCancelled TaskStatus = "CANCELLED" // Completed by a cancellation
	TaskStatusCompleted TaskStatus = "COMPLETED" // Completed by any other action
)

// IsTerminal reports whether no further action may be recorded.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusApproved, TaskStatusRejected, TaskStatusCancelled, TaskStatusCompleted:
		return true
	}
	return false
}

// InstanceStatus represents the status of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusActive     InstanceStatus = "ACTIVE"
	InstanceStatusCompleted  InstanceStatus = "COMPLETED"
	InstanceStatusRejected   InstanceStatus = "REJECTED"
	InstanceStatusCancelled  InstanceStatus = "CANCELLED"
	InstanceStatusTerminated InstanceStatus = "TERMINATED"
)

// AssigneeStatus is the individual decision of one assignee.
type AssigneeStatus string

const (
	AssigneeStatusPending  AssigneeStatus = "PENDING"
	AssigneeStatusApproved AssigneeStatus = "APPROVED"
	AssigneeStatusRejected AssigneeStatus = "REJECTED"
)

// TemplateStatus is the publication state of a template version.
type TemplateStatus string

const (
	TemplateStatusDraft     TemplateStatus = "DRAFT"
	TemplateStatusPublished TemplateStatus = "PUBLISHED"
	TemplateStatusArchived  TemplateStatus = "ARCHIVED"
)
