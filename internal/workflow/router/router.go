package router

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/JonMonday/inv-sub000/internal/auth"
	"github.com/JonMonday/inv-sub000/internal/middleware"
	"github.com/JonMonday/inv-sub000/internal/workflow/model"
	"github.com/JonMonday/inv-sub000/internal/workflow/service"
	"github.com/JonMonday/inv-sub000/utils"
)

const (
	// IdempotencyKeyHeader carries the client chosen deduplication key of an action.
	IdempotencyKeyHeader = "X-Idempotency-Key"
	// IdempotentReplayHeader marks responses served from an action recorded earlier.
	IdempotentReplayHeader = "X-Idempotent-Replay"
)

// Engine is the mutating side of the workflow.
type Engine interface {
	StartInstance(ctx context.Context, req service.StartInstanceRequest) (*service.StartInstanceResult, error)
	ClaimTask(ctx context.Context, taskID uuid.UUID, userID int64) (*model.WorkflowTask, error)
	ReleaseTask(ctx context.Context, taskID uuid.UUID, userID int64) (*model.WorkflowTask, error)
	ProcessAction(ctx context.Context, req service.ProcessActionRequest) (*service.ActionResult, error)
	TerminateInstance(ctx context.Context, req service.TerminateInstanceRequest) (*model.WorkflowInstance, error)
	EligibleAssigneesForStep(ctx context.Context, templateID, stepID uuid.UUID, userID int64) (*model.EligibleAssigneesDTO, error)
	EligibleAssigneesForTask(ctx context.Context, taskID uuid.UUID) (*model.EligibleAssigneesDTO, error)
}

// Queries is the read side of the workflow.
type Queries interface {
	GetInstance(ctx context.Context, instanceID uuid.UUID) (*model.InstanceResponseDTO, error)
	GetTask(ctx context.Context, taskID uuid.UUID) (*model.WorkflowTask, error)
	ListInbox(ctx context.Context, userID int64, offset, limit *int) (*model.TaskListResponseDTO, error)
}

// TemplateReader loads template graphs.
type TemplateReader interface {
	LoadGraphInTx(ctx context.Context, tx *gorm.DB, templateID uuid.UUID) (*model.WorkflowTemplate, error)
}

type WorkflowRouter struct {
	engine    Engine
	queries   Queries
	templates TemplateReader
}

func NewWorkflowRouter(engine Engine, queries Queries, templates TemplateReader) *WorkflowRouter {
	return &WorkflowRouter{
		engine:    engine,
		queries:   queries,
		templates: templates,
	}
}

// Register mounts the workflow routes on rg, typically /api/workflow.
func (wr *WorkflowRouter) Register(rg *gin.RouterGroup) {
	rg.GET("/templates/:id", wr.HandleGetTemplate)
	rg.GET("/templates/:id/steps/:stepId/eligible-assignees", wr.HandleStepEligibleAssignees)

	rg.POST("/instances", wr.HandleStartInstance)
	rg.GET("/instances/:id", wr.HandleGetInstance)
	rg.POST("/instances/:id/terminate", wr.HandleTerminateInstance)

	rg.GET("/tasks", wr.HandleListInbox)
	rg.GET("/tasks/:id", wr.HandleGetTask)
	rg.GET("/tasks/:id/eligible-assignees", wr.HandleTaskEligibleAssignees)
	rg.POST("/tasks/:id/claim", wr.HandleClaimTask)
	rg.POST("/tasks/:id/release", wr.HandleReleaseTask)
	rg.POST("/tasks/:id/actions", wr.HandleProcessAction)
}

// HandleGetTemplate handles GET /templates/:id
func (wr *WorkflowRouter) HandleGetTemplate(c *gin.Context) {
	templateID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	template, err := wr.templates.LoadGraphInTx(c.Request.Context(), nil, templateID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, template)
}

// HandleStepEligibleAssignees handles GET /templates/:id/steps/:stepId/eligible-assignees
// The rule is resolved with the caller as the initiator.
func (wr *WorkflowRouter) HandleStepEligibleAssignees(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	templateID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	stepID, ok := pathUUID(c, "stepId")
	if !ok {
		return
	}
	eligible, err := wr.engine.EligibleAssigneesForStep(c.Request.Context(), templateID, stepID, userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, eligible)
}

// HandleStartInstance handles POST /instances
func (wr *WorkflowRouter) HandleStartInstance(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var body model.StartInstanceDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondBadRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	req := service.StartInstanceRequest{
		TemplateID:      body.TemplateID,
		TemplateCode:    body.TemplateCode,
		BusinessKey:     body.BusinessKey,
		InitiatorUserID: userID,
		CorrelationID:   middleware.CorrelationIDFrom(c.Request.Context()),
	}
	if len(body.ManualAssignments) > 0 {
		req.ManualAssignments = make(map[uuid.UUID][]int64, len(body.ManualAssignments))
		for _, ma := range body.ManualAssignments {
			req.ManualAssignments[ma.StepID] = append(req.ManualAssignments[ma.StepID], ma.UserIDs...)
		}
	}

	result, err := wr.engine.StartInstance(c.Request.Context(), req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"instance":  result.Instance,
		"firstTask": result.FirstTask,
	})
}

// HandleGetInstance handles GET /instances/:id
func (wr *WorkflowRouter) HandleGetInstance(c *gin.Context) {
	instanceID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	instance, err := wr.queries.GetInstance(c.Request.Context(), instanceID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, instance)
}

// HandleTerminateInstance handles POST /instances/:id/terminate
func (wr *WorkflowRouter) HandleTerminateInstance(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	instanceID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var body model.TerminateInstanceDTO
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.RespondBadRequest(c, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	instance, err := wr.engine.TerminateInstance(c.Request.Context(), service.TerminateInstanceRequest{
		InstanceID:    instanceID,
		UserID:        userID,
		Reason:        body.Reason,
		CorrelationID: middleware.CorrelationIDFrom(c.Request.Context()),
	})
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, instance)
}

// HandleListInbox handles GET /tasks
// Optional Query Filters: offset, limit
func (wr *WorkflowRouter) HandleListInbox(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	offset, err := utils.QueryInt(c, "offset")
	if err != nil {
		utils.RespondBadRequest(c, "invalid 'offset' query parameter, must be an integer")
		return
	}
	limit, err := utils.QueryInt(c, "limit")
	if err != nil {
		utils.RespondBadRequest(c, "invalid 'limit' query parameter, must be an integer")
		return
	}

	tasks, err := wr.queries.ListInbox(c.Request.Context(), userID, offset, limit)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// HandleGetTask handles GET /tasks/:id
func (wr *WorkflowRouter) HandleGetTask(c *gin.Context) {
	taskID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	task, err := wr.queries.GetTask(c.Request.Context(), taskID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// HandleClaimTask handles POST /tasks/:id/claim
func (wr *WorkflowRouter) HandleClaimTask(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	taskID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	task, err := wr.engine.ClaimTask(c.Request.Context(), taskID, userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// HandleReleaseTask handles POST /tasks/:id/release
func (wr *WorkflowRouter) HandleReleaseTask(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	taskID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	task, err := wr.engine.ReleaseTask(c.Request.Context(), taskID, userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// HandleProcessAction handles POST /tasks/:id/actions
// An X-Idempotency-Key header makes a retried action return the outcome of the first one.
func (wr *WorkflowRouter) HandleProcessAction(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	taskID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var body model.ProcessActionDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondBadRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	result, err := wr.engine.ProcessAction(c.Request.Context(), service.ProcessActionRequest{
		TaskID:         taskID,
		ActionCode:     body.ActionCode,
		UserID:         userID,
		Notes:          body.Notes,
		Payload:        body.Payload,
		IdempotencyKey: c.GetHeader(IdempotencyKeyHeader),
		CorrelationID:  middleware.CorrelationIDFrom(c.Request.Context()),
	})
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	if result.Replayed {
		c.Header(IdempotentReplayHeader, "true")
	}
	c.JSON(http.StatusOK, model.ActionResponseDTO{
		Task:           result.Task,
		StepCompleted:  result.StepCompleted,
		InstanceStatus: result.InstanceStatus,
		NextTask:       result.NextTask,
		Replayed:       result.Replayed,
	})
}

// HandleTaskEligibleAssignees handles GET /tasks/:id/eligible-assignees
func (wr *WorkflowRouter) HandleTaskEligibleAssignees(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	taskID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	eligible, err := wr.engine.EligibleAssigneesForTask(c.Request.Context(), taskID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, eligible)
}

func requireUser(c *gin.Context) (int64, bool) {
	userID, ok := auth.CurrentUserID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "authentication required",
		})
	}
	return userID, ok
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		utils.RespondBadRequest(c, fmt.Sprintf("invalid %s: %v", name, err))
		return uuid.Nil, false
	}
	return id, true
}
