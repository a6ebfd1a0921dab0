// FILE: dozyr-core/models/user.go
package models

import "gorm.io/gorm"

// Role - роль пользователя на платформе.
// В ядре договоров ролей три: менеджер (плательщик), талант (исполнитель) и админ.
type Role string

const (
	RoleManager Role = "manager"
	RoleTalent  Role = "talent"
	RoleAdmin   Role = "admin"
)

// ValidRole проверяет, что строка из запроса - одна из известных ролей.
func ValidRole(r Role) bool {
	return r == RoleManager || r == RoleTalent || r == RoleAdmin
}

// User представляет пользователя платформы.
type User struct {
	gorm.Model
	Login        string `json:"login" gorm:"uniqueIndex;not null"`
	PasswordHash string `json:"-" gorm:"not null"`
	FullName     string `json:"fullName"`
	Role         Role   `json:"role" gorm:"type:varchar(16);not null;index"`
}

func (User) TableName() string { return "users" }
