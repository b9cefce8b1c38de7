package service

import (
	"context"
	"fmt"
	"slices"

	"gorm.io/gorm"

	"github.com/JonMonday/inv-sub000/internal/workflow/model"
)

// Directory answers organizational membership questions.
// Member lists contain active users only.
type Directory interface {
	UsersInRoleInTx(ctx context.Context, tx *gorm.DB, roleID int64) ([]int64, error)
	UsersInDepartmentInTx(ctx context.Context, tx *gorm.DB, departmentID int64) ([]int64, error)
	RolesOfUserInTx(ctx context.Context, tx *gorm.DB, userID int64) ([]int64, error)
	DepartmentsOfUserInTx(ctx context.Context, tx *gorm.DB, userID int64) ([]int64, error)
}

// AssigneeResolver maps a step rule and the instance initiator to the users assigned to a task.
type AssigneeResolver struct {
	directory Directory
}

func NewAssigneeResolver(directory Directory) *AssigneeResolver {
	return &AssigneeResolver{directory: directory}
}

// ResolveInTx returns the sorted, duplicate free set of assignees for a step.
// A step without a rule is assigned to the initiator. Unknown modes and rules missing their
// role or department resolve to an empty set; the resulting task stalls instead of falling open.
func (r *AssigneeResolver) ResolveInTx(ctx context.Context, tx *gorm.DB, rule *model.WorkflowStepRule, initiatorUserID int64) ([]int64, error) {
	if rule == nil {
		return []int64{initiatorUserID}, nil
	}

	mode, ok := model.ParseAssignmentMode(string(rule.AssignmentMode))
	if !ok {
		return []int64{}, nil
	}

	var (
		users []int64
		err   error
	)
	switch mode {
	case model.AssignmentModeRequestor:
		users = []int64{initiatorUserID}
	case model.AssignmentModeRole:
		users, err = r.roleMembers(ctx, tx, rule.RoleID)
	case model.AssignmentModeDepartment:
		users, err = r.departmentMembers(ctx, tx, rule.DepartmentID)
	case model.AssignmentModeRoleAndDepartment:
		users, err = r.roleAndDepartmentMembers(ctx, tx, rule.RoleID, rule.DepartmentID)
	case model.AssignmentModeRequestorDepartment:
		users, err = r.initiatorDepartmentMembers(ctx, tx, initiatorUserID)
	case model.AssignmentModeRequestorRole:
		users, err = r.initiatorRoleMembers(ctx, tx, initiatorUserID)
	case model.AssignmentModeRequestorRoleAndDepartment:
		users, err = r.roleWithinInitiatorDepartments(ctx, tx, rule.RoleID, initiatorUserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve assignees for mode %s: %w", mode, err)
	}
	return normalizeUserIDs(users), nil
}

// IsEligibleInTx reports whether userID is part of the resolved set of a step.
func (r *AssigneeResolver) IsEligibleInTx(ctx context.Context, tx *gorm.DB, rule *model.WorkflowStepRule, initiatorUserID, userID int64) (bool, error) {
	users, err := r.ResolveInTx(ctx, tx, rule, initiatorUserID)
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(users, userID)
	return found, nil
}

func (r *AssigneeResolver) roleMembers(ctx context.Context, tx *gorm.DB, roleID *int64) ([]int64, error) {
	if roleID == nil {
		return nil, nil
	}
	return r.directory.UsersInRoleInTx(ctx, tx, *roleID)
}

func (r *AssigneeResolver) departmentMembers(ctx context.Context, tx *gorm.DB, departmentID *int64) ([]int64, error) {
	if departmentID == nil {
		return nil, nil
	}
	return r.directory.UsersInDepartmentInTx(ctx, tx, *departmentID)
}

func (r *AssigneeResolver) roleAndDepartmentMembers(ctx context.Context, tx *gorm.DB, roleID, departmentID *int64) ([]int64, error) {
	if roleID == nil || departmentID == nil {
		return nil, nil
	}
	inRole, err := r.directory.UsersInRoleInTx(ctx, tx, *roleID)
	if err != nil {
		return nil, err
	}
	inDepartment, err := r.directory.UsersInDepartmentInTx(ctx, tx, *departmentID)
	if err != nil {
		return nil, err
	}
	return intersect(inRole, inDepartment), nil
}

func (r *AssigneeResolver) initiatorDepartmentMembers(ctx context.Context, tx *gorm.DB, initiatorUserID int64) ([]int64, error) {
	departments, err := r.directory.DepartmentsOfUserInTx(ctx, tx, initiatorUserID)
	if err != nil {
		return nil, err
	}
	return r.unionOf(departments, func(id int64) ([]int64, error) {
		return r.directory.UsersInDepartmentInTx(ctx, tx, id)
	})
}

func (r *AssigneeResolver) initiatorRoleMembers(ctx context.Context, tx *gorm.DB, initiatorUserID int64) ([]int64, error) {
	roles, err := r.directory.RolesOfUserInTx(ctx, tx, initiatorUserID)
	if err != nil {
		return nil, err
	}
	return r.unionOf(roles, func(id int64) ([]int64, error) {
		return r.directory.UsersInRoleInTx(ctx, tx, id)
	})
}

func (r *AssigneeResolver) roleWithinInitiatorDepartments(ctx context.Context, tx *gorm.DB, roleID *int64, initiatorUserID int64) ([]int64, error) {
	if roleID == nil {
		return nil, nil
	}
	inRole, err := r.directory.UsersInRoleInTx(ctx, tx, *roleID)
	if err != nil {
		return nil, err
	}
	inDepartments, err := r.initiatorDepartmentMembers(ctx, tx, initiatorUserID)
	if err != nil {
		return nil, err
	}
	return intersect(inRole, inDepartments), nil
}

func (r *AssigneeResolver) unionOf(groupIDs []int64, members func(int64) ([]int64, error)) ([]int64, error) {
	var all []int64
	for _, id := range groupIDs {
		users, err := members(id)
		if err != nil {
			return nil, err
		}
		all = append(all, users...)
	}
	return all, nil
}

func intersect(a, b []int64) []int64 {
	inB := make(map[int64]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}
	out := make([]int64, 0, len(a))
	for _, id := range a {
		if _, ok := inB[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// normalizeUserIDs sorts and removes duplicates so task assignee rows are created in a stable order.
func normalizeUserIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	if out == nil {
		out = []int64{}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
