package router

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/JonMonday/inv-sub000/internal/auth"
	"github.com/JonMonday/inv-sub000/internal/fulfillment"
	"github.com/JonMonday/inv-sub000/internal/middleware"
	"github.com/JonMonday/inv-sub000/internal/stock/model"
	"github.com/JonMonday/inv-sub000/internal/stock/service"
	"github.com/JonMonday/inv-sub000/utils"
)

const (
	// IdempotencyKeyHeader carries the client chosen deduplication key of a posting.
	IdempotencyKeyHeader = "X-Idempotency-Key"
	// IdempotentReplayHeader marks responses served from a completed earlier request.
	IdempotentReplayHeader = "X-Idempotent-Replay"
)

// Ledger posts stock movements.
type Ledger interface {
	PostMovement(ctx context.Context, req service.PostMovementRequest, idem *service.IdempotencyOptions) (*service.PostResult, error)
}

// Queries reads levels and movements.
type Queries interface {
	GetStockLevel(ctx context.Context, warehouseID, productID int64) (*model.StockLevel, error)
	ListStockLevels(ctx context.Context, warehouseID int64) (*model.StockLevelListDTO, error)
	GetMovement(ctx context.Context, movementID int64) (*model.StockMovement, error)
	ListReservations(ctx context.Context, requestID int64) (*model.ReservationListDTO, error)
}

// Fulfillment moves stock on behalf of an inventory request at its FULFILLMENT step.
type Fulfillment interface {
	Reserve(ctx context.Context, req fulfillment.RequestMovement) (*service.PostResult, error)
	Release(ctx context.Context, req fulfillment.RequestMovement) (*service.PostResult, error)
	Issue(ctx context.Context, req fulfillment.RequestMovement) (*service.PostResult, error)
}

type StockRouter struct {
	ledger      Ledger
	queries     Queries
	fulfillment Fulfillment
}

func NewStockRouter(ledger Ledger, queries Queries, requests Fulfillment) *StockRouter {
	return &StockRouter{ledger: ledger, queries: queries, fulfillment: requests}
}

// Register mounts the stock routes on rg, typically /api/stock.
func (sr *StockRouter) Register(rg *gin.RouterGroup) {
	rg.POST("/movements", sr.HandlePostMovement)
	rg.GET("/movements/:id", sr.HandleGetMovement)
	rg.GET("/levels", sr.HandleGetLevels)

	requests := rg.Group("/requests/:id")
	requests.GET("/reservations", sr.HandleGetReservations)
	requests.POST("/fulfillment/reserve", sr.HandleFulfillment(sr.fulfillment.Reserve))
	requests.POST("/fulfillment/release", sr.HandleFulfillment(sr.fulfillment.Release))
	requests.POST("/fulfillment/issue", sr.HandleFulfillment(sr.fulfillment.Issue))
}

// HandlePostMovement handles POST /movements
// An X-Idempotency-Key header makes retries of the same posting return the first movement.
func (sr *StockRouter) HandlePostMovement(c *gin.Context) {
	userID, ok := auth.CurrentUserID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "authentication required",
		})
		return
	}

	var body model.PostMovementDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondBadRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	req := service.PostMovementRequest{
		MovementTypeCode: body.MovementTypeCode,
		ReasonCode:       body.ReasonCode,
		WarehouseID:      body.WarehouseID,
		RequestID:        body.RequestID,
		ReservationID:    body.ReservationID,
		ActorUserID:      userID,
		CorrelationID:    middleware.CorrelationIDFrom(c.Request.Context()),
		Notes:            body.Notes,
		Lines:            make([]service.LineRequest, 0, len(body.Lines)),
	}
	for _, line := range body.Lines {
		req.Lines = append(req.Lines, service.LineRequest{
			ProductID:     line.ProductID,
			DeltaOnHand:   line.DeltaOnHand,
			DeltaReserved: line.DeltaReserved,
			UnitCost:      line.UnitCost,
			Notes:         line.Notes,
		})
	}

	var idem *service.IdempotencyOptions
	if key := c.GetHeader(IdempotencyKeyHeader); key != "" {
		idem = &service.IdempotencyOptions{
			RouteKey:  c.Request.Method + ":" + c.FullPath(),
			ClientKey: key,
		}
	}

	result, err := sr.ledger.PostMovement(c.Request.Context(), req, idem)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	if result.Replayed {
		c.Header(IdempotentReplayHeader, "true")
	}
	c.JSON(http.StatusOK, model.PostMovementResponseDTO{
		MovementID: result.MovementID,
		MovementNo: result.MovementNo,
	})
}

// HandleGetMovement handles GET /movements/:id
func (sr *StockRouter) HandleGetMovement(c *gin.Context) {
	movementID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || movementID <= 0 {
		utils.RespondBadRequest(c, "invalid movement id")
		return
	}
	movement, err := sr.queries.GetMovement(c.Request.Context(), movementID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, movement)
}

// HandleGetLevels handles GET /levels
// Required Query Filters: warehouseId
// Optional Query Filters: productId
func (sr *StockRouter) HandleGetLevels(c *gin.Context) {
	warehouseID, err := utils.QueryInt64(c, "warehouseId")
	if err != nil || warehouseID == nil {
		utils.RespondBadRequest(c, "'warehouseId' query parameter is required and must be an integer")
		return
	}
	productID, err := utils.QueryInt64(c, "productId")
	if err != nil {
		utils.RespondBadRequest(c, "invalid 'productId' query parameter, must be an integer")
		return
	}

	if productID != nil {
		level, err := sr.queries.GetStockLevel(c.Request.Context(), *warehouseID, *productID)
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, level)
		return
	}

	levels, err := sr.queries.ListStockLevels(c.Request.Context(), *warehouseID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, levels)
}

// HandleGetReservations handles GET /requests/:id/reservations
func (sr *StockRouter) HandleGetReservations(c *gin.Context) {
	requestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || requestID <= 0 {
		utils.RespondBadRequest(c, "invalid request id")
		return
	}
	reservations, err := sr.queries.ListReservations(c.Request.Context(), requestID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservations)
}

// HandleFulfillment handles POST /requests/:id/fulfillment/{reserve,release,issue}
// The X-Idempotency-Key header is required. Keys are scoped to the request path.
func (sr *StockRouter) HandleFulfillment(post func(context.Context, fulfillment.RequestMovement) (*service.PostResult, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.CurrentUserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "authentication required",
			})
			return
		}

		requestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || requestID <= 0 {
			utils.RespondBadRequest(c, "invalid request id")
			return
		}
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			utils.RespondBadRequest(c, IdempotencyKeyHeader+" header is required")
			return
		}

		var body model.FulfillmentRequestDTO
		if err := c.ShouldBindJSON(&body); err != nil {
			utils.RespondBadRequest(c, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		req := fulfillment.RequestMovement{
			RequestID:     requestID,
			WarehouseID:   body.WarehouseID,
			Lines:         make([]fulfillment.Line, 0, len(body.Lines)),
			ActorUserID:   userID,
			CorrelationID: middleware.CorrelationIDFrom(c.Request.Context()),
			Notes:         body.Notes,
			Idempotency: service.IdempotencyOptions{
				RouteKey:  c.Request.Method + ":" + c.Request.URL.Path,
				ClientKey: key,
			},
		}
		for _, line := range body.Lines {
			req.Lines = append(req.Lines, fulfillment.Line{ProductID: line.ProductID, Quantity: line.Quantity})
		}

		result, err := post(c.Request.Context(), req)
		if err != nil {
			utils.RespondError(c, err)
			return
		}

		if result.Replayed {
			c.Header(IdempotentReplayHeader, "true")
		}
		c.JSON(http.StatusOK, model.PostMovementResponseDTO{
			MovementID: result.MovementID,
			MovementNo: result.MovementNo,
		})
	}
}
