package service

import (
	"github.com/JonMonday/inv-sub000/internal/workflow/model"
)

// Task lifecycle:
//
//	PENDING -> AVAILABLE -> CLAIMED -> APPROVED | REJECTED | CANCELLED | COMPLETED
//	PENDING -> CLAIMED (implicit claim by an assignee acting on an unclaimed task)
//	CLAIMED -> AVAILABLE (release, or a decision that does not complete the step)

// canTransitionToAvailable checks if a task can be opened for claiming.
func canTransitionToAvailable(current model.TaskStatus) bool {
	return current == model.TaskStatusPending || current == model.TaskStatusClaimed
}

// canTransitionToClaimed checks if a task can be claimed explicitly.
func canTransitionToClaimed(current model.TaskStatus) bool {
	return current == model.TaskStatusAvailable
}

// canRecordAction checks if an action may be recorded on a task in the given state.
func canRecordAction(current model.TaskStatus) bool {
	switch current {
	case model.TaskStatusPending, model.TaskStatusAvailable, model.TaskStatusClaimed:
		return true
	}
	return false
}

// decisionFor maps an action to the decision recorded for the acting assignee.
// Non-decision actions count as affirmative.
func decisionFor(action model.ActionCode) model.AssigneeStatus {
	switch action {
	case model.ActionReject:
		return model.AssigneeStatusRejected
	case model.ActionApprove, model.ActionSubmit, model.ActionSendBack, model.ActionCancel, model.ActionComplete:
		return model.AssigneeStatusApproved
	}
	return model.AssigneeStatusApproved
}

// completesStepImmediately reports whether an action ends the step regardless of its rule.
func completesStepImmediately(action model.ActionCode) bool {
	switch action {
	case model.ActionReject, model.ActionCancel:
		return true
	}
	return false
}

// terminalTaskStatus maps the completing action to the final task status.
func terminalTaskStatus(action model.ActionCode) model.TaskStatus {
	switch action {
	case model.ActionApprove:
		return model.TaskStatusApproved
	case model.ActionReject:
		return model.TaskStatusRejected
	case model.ActionCancel:
		return model.TaskStatusCancelled
	case model.ActionSubmit, model.ActionSendBack, model.ActionComplete:
		return model.TaskStatusCompleted
	}
	return model.TaskStatusCompleted
}

// terminalInstanceStatus maps the action that ended the last step to the final instance status.
func terminalInstanceStatus(action model.ActionCode) model.InstanceStatus {
	switch action {
	case model.ActionReject:
		return model.InstanceStatusRejected
	case model.ActionCancel:
		return model.InstanceStatusCancelled
	case model.ActionApprove, model.ActionSubmit, model.ActionSendBack, model.ActionComplete:
		return model.InstanceStatusCompleted
	}
	return model.InstanceStatusCompleted
}

// isStepComplete evaluates the completion threshold after the acting assignee's decision was recorded.
func isStepComplete(action model.ActionCode, rule *model.WorkflowStepRule, assignees []model.WorkflowTaskAssignee) bool {
	if completesStepImmediately(action) {
		return true
	}
	if rule == nil {
		return true
	}

	approved := 0
	for _, a := range assignees {
		if a.Status == model.AssigneeStatusApproved {
			approved++
		}
	}
	if rule.RequireAll {
		return len(assignees) > 0 && approved == len(assignees)
	}
	return approved >= rule.RequiredApprovals()
}
