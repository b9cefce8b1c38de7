package service

import "github.com/JonMonday/inv-sub000/internal/apperr"

var (
	ErrTemplateNotFound     = apperr.New(apperr.KindNotFound, "TEMPLATE_NOT_FOUND", "workflow template not found")
	ErrNoStartStep          = apperr.New(apperr.KindNotFound, "NO_START_STEP", "workflow template has no start step")
	ErrAmbiguousStartStep   = apperr.New(apperr.KindInvalidState, "AMBIGUOUS_START_STEP", "workflow template has more than one start step")
	ErrStepNotFound         = apperr.New(apperr.KindNotFound, "STEP_NOT_FOUND", "workflow step not found")
	ErrInstanceNotFound     = apperr.New(apperr.KindNotFound, "INSTANCE_NOT_FOUND", "workflow instance not found")
	ErrTaskNotFound         = apperr.New(apperr.KindNotFound, "TASK_NOT_FOUND", "workflow task not found")
	ErrUnknownAction        = apperr.New(apperr.KindNotFound, "UNKNOWN_ACTION", "unknown action code")
	ErrNotAssignee          = apperr.New(apperr.KindUnauthorized, "NOT_ASSIGNEE", "user is not an assignee of the task")
	ErrNotClaimant          = apperr.New(apperr.KindUnauthorized, "NOT_CLAIMANT", "task is claimed by another user")
	ErrAlreadyClaimed       = apperr.New(apperr.KindConcurrentConflict, "ALREADY_CLAIMED", "task is already claimed")
	ErrTaskNotAvailable     = apperr.New(apperr.KindInvalidState, "TASK_NOT_AVAILABLE", "task is not available for claiming")
	ErrInvalidTaskState     = apperr.New(apperr.KindInvalidState, "INVALID_TASK_STATE", "task does not accept this operation in its current state")
	ErrInstanceNotActive    = apperr.New(apperr.KindInvalidState, "INSTANCE_NOT_ACTIVE", "workflow instance is not active")
	ErrAlreadyDecided       = apperr.New(apperr.KindInvalidState, "ALREADY_DECIDED", "assignee has already recorded a decision")
	ErrManualNotAllowed     = apperr.New(apperr.KindInvalidState, "MANUAL_ASSIGNMENT_NOT_ALLOWED", "step does not allow requester selected assignees")
	ErrUserNotEligible      = apperr.New(apperr.KindInvalidArgument, "USER_NOT_ELIGIBLE", "user is not eligible for the step")
	ErrInvalidInput         = apperr.New(apperr.KindInvalidArgument, "INVALID_INPUT", "invalid input")
	ErrNoInstanceForRequest = apperr.New(apperr.KindNotFound, "NO_INSTANCE_FOR_REQUEST", "no active workflow instance for request")
	ErrIdempotencyKeyReused = apperr.New(apperr.KindConcurrentConflict, "IDEMPOTENCY_KEY_REUSED", "idempotency key was used for a different action")
)
