package directory

import "time"

// User is the read model of an account that can act on workflow tasks.
type User struct {
	ID        int64     `gorm:"column:id;primaryKey" json:"id"`
	FullName  string    `gorm:"type:varchar(200);column:full_name;not null" json:"fullName"`
	IsActive  bool      `gorm:"column:is_active;not null" json:"isActive"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
}

func (u *User) TableName() string {
	return "users"
}

// UserRole is a role membership.
type UserRole struct {
	UserID int64 `gorm:"column:user_id;primaryKey" json:"userId"`
	RoleID int64 `gorm:"column:role_id;primaryKey;index" json:"roleId"`

	User *User `gorm:"foreignKey:UserID;references:ID" json:"-"`
}

func (ur *UserRole) TableName() string {
	return "user_roles"
}

// UserDepartment is a department membership.
type UserDepartment struct {
	UserID       int64 `gorm:"column:user_id;primaryKey" json:"userId"`
	DepartmentID int64 `gorm:"column:department_id;primaryKey;index" json:"departmentId"`
	IsPrimary    bool  `gorm:"column:is_primary;not null" json:"isPrimary"`

	User *User `gorm:"foreignKey:UserID;references:ID" json:"-"`
}

func (ud *UserDepartment) TableName() string {
	return "user_departments"
}
