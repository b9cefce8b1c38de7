package database

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/JonMonday/inv-sub000/internal/audit"
	"github.com/JonMonday/inv-sub000/internal/directory"
	"github.com/JonMonday/inv-sub000/internal/idempotency"
	stockmodel "github.com/JonMonday/inv-sub000/internal/stock/model"
	wfmodel "github.com/JonMonday/inv-sub000/internal/workflow/model"
)

// Models lists every persisted type in dependency order.
func Models() []any {
	return []any{
		&directory.User{},
		&directory.UserRole{},
		&directory.UserDepartment{},

		&wfmodel.WorkflowTemplate{},
		&wfmodel.WorkflowStep{},
		&wfmodel.WorkflowStepRule{},
		&wfmodel.WorkflowTransition{},
		&wfmodel.WorkflowInstance{},
		&wfmodel.ManualAssignment{},
		&wfmodel.WorkflowTask{},
		&wfmodel.WorkflowTaskAssignee{},
		&wfmodel.WorkflowTaskAction{},

		&stockmodel.MovementType{},
		&stockmodel.MovementStatus{},
		&stockmodel.ReasonCode{},
		&stockmodel.StockLevel{},
		&stockmodel.StockMovement{},
		&stockmodel.StockMovementLine{},

		&idempotency.Record{},
		&audit.Log{},
	}
}

// Migrate creates or updates the schema of every model.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	slog.Info("database schema migrated", "models", len(Models()))
	return nil
}
