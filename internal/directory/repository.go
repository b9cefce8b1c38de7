package directory

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Repository answers membership questions against the users, user_roles and user_departments tables.
// Only active users are ever returned as members.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx)
}

// UsersInRoleInTx returns the active members of a role ordered by id.
func (r *Repository) UsersInRoleInTx(ctx context.Context, tx *gorm.DB, roleID int64) ([]int64, error) {
	var ids []int64
	err := r.conn(ctx, tx).Model(&UserRole{}).
		Joins("JOIN users ON users.id = user_roles.user_id").
		Where("user_roles.role_id = ? AND users.is_active = ?", roleID, true).
		Order("user_roles.user_id").
		Pluck("user_roles.user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list members of role %d: %w", roleID, err)
	}
	return ids, nil
}

// UsersInDepartmentInTx returns the active members of a department ordered by id.
func (r *Repository) UsersInDepartmentInTx(ctx context.Context, tx *gorm.DB, departmentID int64) ([]int64, error) {
	var ids []int64
	err := r.conn(ctx, tx).Model(&UserDepartment{}).
		Joins("JOIN users ON users.id = user_departments.user_id").
		Where("user_departments.department_id = ? AND users.is_active = ?", departmentID, true).
		Order("user_departments.user_id").
		Pluck("user_departments.user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list members of department %d: %w", departmentID, err)
	}
	return ids, nil
}

// RolesOfUserInTx returns the roles held by a user.
func (r *Repository) RolesOfUserInTx(ctx context.Context, tx *gorm.DB, userID int64) ([]int64, error) {
	var ids []int64
	err := r.conn(ctx, tx).Model(&UserRole{}).
		Where("user_id = ?", userID).
		Order("role_id").
		Pluck("role_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list roles of user %d: %w", userID, err)
	}
	return ids, nil
}

// DepartmentsOfUserInTx returns the departments a user belongs to, primary first.
func (r *Repository) DepartmentsOfUserInTx(ctx context.Context, tx *gorm.DB, userID int64) ([]int64, error) {
	var ids []int64
	err := r.conn(ctx, tx).Model(&UserDepartment{}).
		Where("user_id = ?", userID).
		Order("is_primary DESC, department_id").
		Pluck("department_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list departments of user %d: %w", userID, err)
	}
	return ids, nil
}
