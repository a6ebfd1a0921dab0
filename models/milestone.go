// FILE: dozyr-core/models/milestone.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// MilestoneStatus - закрытый перечень статусов этапа работ.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneSubmitted  MilestoneStatus = "submitted"
	MilestoneApproved   MilestoneStatus = "approved"
	MilestonePaid       MilestoneStatus = "paid"
)

// MilestoneAction - действие над этапом.
type MilestoneAction string

const (
	MilestoneActionStart           MilestoneAction = "start"
	MilestoneActionSubmit          MilestoneAction = "submit"
	MilestoneActionApprove         MilestoneAction = "approve"
	MilestoneActionRequestRevision MilestoneAction = "request_revision"
	MilestoneActionMarkPaid        MilestoneAction = "mark_paid"
)

// milestoneTransitions - таблица переходов этапа:
// pending → in_progress → submitted → {approved | назад в in_progress} → paid.
// Утверждение этапа само по себе денег не двигает: выплата - отдельный
// явный вызов к эскроу, после которого этап получает mark_paid.
var milestoneTransitions = map[MilestoneStatus]map[MilestoneAction]MilestoneStatus{
	MilestonePending: {
		MilestoneActionStart: MilestoneInProgress,
	},
	MilestoneInProgress: {
		MilestoneActionSubmit: MilestoneSubmitted,
	},
	MilestoneSubmitted: {
		MilestoneActionApprove:         MilestoneApproved,
		MilestoneActionRequestRevision: MilestoneInProgress,
	},
	MilestoneApproved: {
		MilestoneActionMarkPaid: MilestonePaid,
	},
}

// NextMilestoneStatus возвращает статус после действия либо типизированную ошибку.
func NextMilestoneStatus(from MilestoneStatus, action MilestoneAction) (MilestoneStatus, error) {
	if next, ok := milestoneTransitions[from][action]; ok {
		return next, nil
	}
	return from, ErrInvalidMilestoneTransition(from, string(action))
}

// Milestone - отдельно оплачиваемый этап договора с поэтапной оплатой.
type Milestone struct {
	gorm.Model
	ContractID uint      `gorm:"not null;index" json:"contractId"`
	Contract   *Contract `gorm:"foreignKey:ContractID" json:"-"`

	Title       string `gorm:"not null" json:"title"`
	Description string `            json:"description"`

	// AmountCents > 0 - проверяется при создании этапа.
	AmountCents int64  `gorm:"column:amount_cents;not null" json:"amountCents"`
	Currency    string `gorm:"type:varchar(3);not null"     json:"currency"`

	DueDate *time.Time `gorm:"column:due_date" json:"dueDate,omitempty"`

	Status MilestoneStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`

	SubmissionNotes string `json:"submissionNotes,omitempty"`
	ApprovalNotes   string `json:"approvalNotes,omitempty"`
	RevisionNotes   string `json:"revisionNotes,omitempty"`

	// SubmittedAt сбрасывается при возврате на доработку.
	// PaidAt выставляется только вместе с release-транзакцией в леджере.
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
}

func (Milestone) TableName() string { return "milestones" }

// AmountMoney возвращает сумму этапа как Money.
func (m *Milestone) AmountMoney() Money {
	return Money{AmountCents: m.AmountCents, Currency: m.Currency}
}
