// FILE: dozyr-core/models/job.go
package models

import "gorm.io/gorm"

// JobStatus - статус вакансии.
type JobStatus string

const (
	JobOpen   JobStatus = "open"
	JobClosed JobStatus = "closed"
)

// Job - исходное объявление о работе, из которого рождается договор.
// Ядро хранит минимум: владельца-менеджера и заголовок; поиск, отклики
// и прочая витрина живут во фронтенде и здесь не моделируются.
type Job struct {
	gorm.Model
	Title       string    `json:"title" gorm:"not null"`
	Description string    `json:"description"`
	Status      JobStatus `json:"status" gorm:"type:varchar(16);default:'open'"`

	ManagerID uint  `json:"managerId" gorm:"not null;index"`
	Manager   *User `json:"manager,omitempty" gorm:"foreignKey:ManagerID"`
}

func (Job) TableName() string { return "jobs" }
