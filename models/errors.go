// FILE: dozyr-core/models/errors.go
package models

import "fmt"

// ErrorKind - закрытый перечень видов доменных ошибок.
// Каждая ошибка ядра несет свой kind, чтобы API мог вернуть
// клиенту структурированный результат, а не просто строку.
type ErrorKind string

const (
	KindInvalidAmount               ErrorKind = "InvalidAmount"
	KindInvalidInput                ErrorKind = "InvalidInput"
	KindCurrencyMismatch            ErrorKind = "CurrencyMismatch"
	KindAmountExceedsContractTotal  ErrorKind = "AmountExceedsContractTotal"
	KindInsufficientAvailableFunds  ErrorKind = "InsufficientAvailableBalance"
	KindInvalidStateForRefund       ErrorKind = "InvalidStateForRefund"
	KindInvalidMilestoneTransition  ErrorKind = "InvalidMilestoneTransition"
	KindInvalidContractTransition   ErrorKind = "InvalidContractTransition"
	KindIncompleteMilestones        ErrorKind = "IncompleteMilestones"
	KindDuplicateEscrowAccount      ErrorKind = "DuplicateEscrowAccount"
	KindMilestoneSumMismatch        ErrorKind = "MilestoneSumMismatch"
	KindForbidden                   ErrorKind = "Forbidden"
	KindNotFound                    ErrorKind = "NotFound"
	KindInvalidEscrowState          ErrorKind = "InvalidEscrowState"
	KindConflict                    ErrorKind = "Conflict"
	// KindLedgerCorrupted - фатальное нарушение балансового инварианта леджера.
	// Это баг, а не пользовательская ошибка: операция откатывается целиком.
	KindLedgerCorrupted ErrorKind = "LedgerCorrupted"
)

// DomainError - типизированная ошибка ядра.
type DomainError struct {
	Kind    ErrorKind
	Message string
}

func (e *DomainError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Fatal сообщает, является ли ошибка признаком повреждения данных.
func (e *DomainError) Fatal() bool {
	return e.Kind == KindLedgerCorrupted
}

func NewDomainError(kind ErrorKind, format string, args ...interface{}) *DomainError {
	return &DomainError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidContractTransition строит ошибку недопустимого перехода договора.
func ErrInvalidContractTransition(from ContractStatus, action string) *DomainError {
	return NewDomainError(KindInvalidContractTransition,
		"действие %q недопустимо для договора в статусе %q", action, from)
}

// ErrInvalidMilestoneTransition строит ошибку недопустимого перехода этапа.
func ErrInvalidMilestoneTransition(from MilestoneStatus, action string) *DomainError {
	return NewDomainError(KindInvalidMilestoneTransition,
		"действие %q недопустимо для этапа в статусе %q", action, from)
}
