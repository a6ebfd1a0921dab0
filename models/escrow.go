// FILE: dozyr-core/models/escrow.go
package models

import "gorm.io/gorm"

// EscrowStatus - статус эскроу-счета договора.
type EscrowStatus string

const (
	EscrowCreated        EscrowStatus = "created"
	EscrowFunded         EscrowStatus = "funded"
	EscrowPartialRelease EscrowStatus = "partial_release"
	EscrowCompleted      EscrowStatus = "completed"
	EscrowRefunded       EscrowStatus = "refunded"
	EscrowDisputed       EscrowStatus = "disputed"
)

// TransactionType - тип записи в журнале эскроу.
type TransactionType string

const (
	TxDeposit TransactionType = "deposit"
	TxRelease TransactionType = "release"
	TxRefund  TransactionType = "refund"
	// TxFee - удержание комиссии платформы, пишется парой к release.
	TxFee TransactionType = "fee"
)

// TransactionStatus - статус записи журнала.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// EscrowAccount - эскроу-счет, 1:1 с договором. Держит средства менеджера
// до выплаты таланту либо возврата. Все суммы - в центах.
//
// Инварианты:
//   - held + released <= total в любой момент;
//   - held = sum(deposit) - sum(refund) - sum(release) - sum(fee)
//     по завершенным транзакциям (балансовый инвариант леджера);
//   - available = held: модель синхронная, отложенных release-холдов нет.
type EscrowAccount struct {
	gorm.Model
	ContractID uint      `gorm:"not null;uniqueIndex" json:"contractId"`
	Contract   *Contract `gorm:"foreignKey:ContractID" json:"-"`

	// AccountNumber - внешний идентификатор счета (uuid).
	AccountNumber string `gorm:"type:varchar(36);uniqueIndex;not null" json:"accountNumber"`

	Currency string `gorm:"type:varchar(3);not null" json:"currency"`

	TotalAmountCents     int64 `gorm:"column:total_amount_cents;not null"     json:"totalAmountCents"`
	HeldAmountCents      int64 `gorm:"column:held_amount_cents;not null"      json:"heldAmountCents"`
	ReleasedAmountCents  int64 `gorm:"column:released_amount_cents;not null"  json:"releasedAmountCents"`
	AvailableAmountCents int64 `gorm:"column:available_amount_cents;not null" json:"availableAmountCents"`
	PlatformFeeCents     int64 `gorm:"column:platform_fee_cents;not null"     json:"platformFeeCents"`

	// FeeRateBps - ставка комиссии, зафиксированная при создании счета.
	FeeRateBps int64 `gorm:"column:fee_rate_bps;not null" json:"feeRateBps"`

	Status EscrowStatus `gorm:"type:varchar(16);not null;default:'created';index" json:"status"`

	// StatusBeforeDispute - куда вернуть счет после разрешения спора.
	StatusBeforeDispute EscrowStatus `gorm:"type:varchar(16)" json:"-"`

	// LockVersion - оптимистическая версия; растет на каждой мутации.
	LockVersion int64 `gorm:"column:lock_version;not null;default:0" json:"-"`

	Transactions []EscrowTransaction `gorm:"foreignKey:AccountID" json:"transactions,omitempty"`
}

func (EscrowAccount) TableName() string { return "escrow_accounts" }

// HeldMoney возвращает удерживаемый остаток как Money.
func (a *EscrowAccount) HeldMoney() Money {
	return Money{AmountCents: a.HeldAmountCents, Currency: a.Currency}
}

// Refundable: возврат возможен, пока счет не закрыт выплатами.
func (a *EscrowAccount) Refundable() bool {
	switch a.Status {
	case EscrowCreated, EscrowFunded, EscrowPartialRelease, EscrowDisputed:
		return true
	}
	return false
}

// EscrowTransaction - строка append-only журнала эскроу-счета.
// Завершенная запись неизменяема: леджер никогда не редактирует историю,
// только дописывает новые строки.
type EscrowTransaction struct {
	gorm.Model
	AccountID uint           `gorm:"not null;index" json:"accountId"`
	Account   *EscrowAccount `gorm:"foreignKey:AccountID" json:"-"`

	// Reference - внешний идентификатор транзакции (uuid).
	Reference string `gorm:"type:varchar(36);uniqueIndex;not null" json:"reference"`

	Type        TransactionType   `gorm:"type:varchar(16);not null" json:"type"`
	AmountCents int64             `gorm:"column:amount_cents;not null" json:"amountCents"`
	Currency    string            `gorm:"type:varchar(3);not null"  json:"currency"`
	Status      TransactionStatus `gorm:"type:varchar(16);not null" json:"status"`

	// MilestoneID заполнен у выплат по этапам.
	MilestoneID *uint `gorm:"index" json:"milestoneId,omitempty"`

	// SourceRef - откуда пришли деньги (платежный интент внешнего шлюза и т.п.).
	SourceRef   string `json:"sourceRef,omitempty"`
	Description string `json:"description,omitempty"`
}

func (EscrowTransaction) TableName() string { return "escrow_transactions" }
