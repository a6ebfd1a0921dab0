// FILE: dozyr-core/models/contract.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// ContractStatus - закрытый перечень статусов договора.
// Статусы монотонны: движение только вперед по таблице переходов,
// произвольная строка из запроса сюда попасть не может.
type ContractStatus string

const (
	ContractDraft     ContractStatus = "draft"
	ContractSent      ContractStatus = "sent"
	ContractAccepted  ContractStatus = "accepted"
	ContractDeclined  ContractStatus = "declined"
	ContractActive    ContractStatus = "active"
	ContractCompleted ContractStatus = "completed"
	ContractCancelled ContractStatus = "cancelled"
)

// PaymentType - схема оплаты по договору.
type PaymentType string

const (
	PaymentFixed     PaymentType = "fixed"
	PaymentHourly    PaymentType = "hourly"
	PaymentMilestone PaymentType = "milestone"
)

func ValidPaymentType(t PaymentType) bool {
	return t == PaymentFixed || t == PaymentHourly || t == PaymentMilestone
}

// ContractAction - действие над договором, имя попадает в текст ошибки.
type ContractAction string

const (
	ContractActionSend     ContractAction = "send"
	ContractActionAccept   ContractAction = "accept"
	ContractActionDecline  ContractAction = "decline"
	ContractActionActivate ContractAction = "activate"
	ContractActionComplete ContractAction = "complete"
	ContractActionCancel   ContractAction = "cancel"
)

// contractTransitions - исчерпывающая таблица переходов договора:
// draft → sent → {accepted | declined}; accepted → active → {completed | cancelled}.
// declined, completed и cancelled - терминальные.
var contractTransitions = map[ContractStatus]map[ContractAction]ContractStatus{
	ContractDraft: {
		ContractActionSend: ContractSent,
	},
	ContractSent: {
		ContractActionAccept:  ContractAccepted,
		ContractActionDecline: ContractDeclined,
	},
	ContractAccepted: {
		ContractActionActivate: ContractActive,
		ContractActionCancel:   ContractCancelled,
	},
	ContractActive: {
		ContractActionComplete: ContractCompleted,
		ContractActionCancel:   ContractCancelled,
	},
}

// NextContractStatus возвращает статус после действия либо типизированную
// ошибку недопустимого перехода. Таблица - единственный источник правды,
// поэтому один и тот же запрещенный переход всегда дает одну и ту же ошибку.
func NextContractStatus(from ContractStatus, action ContractAction) (ContractStatus, error) {
	if next, ok := contractTransitions[from][action]; ok {
		return next, nil
	}
	return from, ErrInvalidContractTransition(from, string(action))
}

// Contract описывает договор между менеджером (плательщиком) и талантом (исполнителем).
type Contract struct {
	gorm.Model
	Title       string `gorm:"not null"                    json:"title"`
	Description string `                                   json:"description"`

	TotalAmountCents int64  `gorm:"column:total_amount_cents;not null" json:"totalAmountCents"`
	Currency         string `gorm:"type:varchar(3);not null"           json:"currency"`

	PaymentType     PaymentType `gorm:"type:varchar(16);not null" json:"paymentType"`
	HourlyRateCents int64       `gorm:"column:hourly_rate_cents"  json:"hourlyRateCents,omitempty"`
	EstimatedHours  int         `                                 json:"estimatedHours,omitempty"`

	Status ContractStatus `gorm:"type:varchar(16);not null;default:'draft';index" json:"status"`

	StartDate *time.Time `gorm:"column:start_date" json:"startDate,omitempty"`
	EndDate   *time.Time `gorm:"column:end_date"   json:"endDate,omitempty"`
	Terms     string     `gorm:"column:terms"      json:"terms"`

	SentAt       *time.Time `json:"sentAt,omitempty"`
	AcceptedAt   *time.Time `json:"acceptedAt,omitempty"`
	DeclinedAt   *time.Time `json:"declinedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	CancelledAt  *time.Time `json:"cancelledAt,omitempty"`
	CancelReason string     `json:"cancelReason,omitempty"`

	// Связи
	JobID uint `gorm:"index" json:"jobId"`
	Job   *Job `gorm:"foreignKey:JobID" json:"job,omitempty"`

	ManagerID uint  `gorm:"not null;index" json:"managerId"`
	Manager   *User `gorm:"foreignKey:ManagerID" json:"manager,omitempty"`

	TalentID uint  `gorm:"not null;index" json:"talentId"`
	Talent   *User `gorm:"foreignKey:TalentID" json:"talent,omitempty"`

	Milestones []Milestone    `gorm:"foreignKey:ContractID" json:"milestones,omitempty"`
	Escrow     *EscrowAccount `gorm:"foreignKey:ContractID" json:"escrow,omitempty"`
}

func (Contract) TableName() string { return "contracts" }

// TotalMoney возвращает полную сумму договора как Money.
func (c *Contract) TotalMoney() Money {
	return Money{AmountCents: c.TotalAmountCents, Currency: c.Currency}
}

// Deletable: удалять договор можно только пока деньги не двигались.
func (c *Contract) Deletable() bool {
	return c.Status == ContractDraft || c.Status == ContractSent
}

// Terminal сообщает, что договор в терминальном статусе.
func (c *Contract) Terminal() bool {
	return c.Status == ContractDeclined || c.Status == ContractCompleted || c.Status == ContractCancelled
}

// ValidateDates проверяет инвариант end_date >= start_date.
func (c *Contract) ValidateDates() error {
	if c.StartDate != nil && c.EndDate != nil && c.EndDate.Before(*c.StartDate) {
		return NewDomainError(KindInvalidInput,
			"дата окончания договора раньше даты начала")
	}
	return nil
}

// ValidateMilestoneSum проверяет, что суммы этапов сходятся с суммой договора.
// Для договоров с поэтапной оплатой это обязательное условие отправки.
func (c *Contract) ValidateMilestoneSum(milestones []Milestone) error {
	if c.PaymentType != PaymentMilestone {
		return nil
	}
	var sum int64
	for _, m := range milestones {
		sum += m.AmountCents
	}
	if sum != c.TotalAmountCents {
		return NewDomainError(KindMilestoneSumMismatch,
			"сумма этапов (%d) не равна сумме договора (%d)", sum, c.TotalAmountCents)
	}
	return nil
}
