// FILE: dozyr-core/internal/ledger/ledger.go
package ledger

import (
	"errors"
	"log/slog"

	"dozyr-core/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Пакет ledger - эскроу-леджер: счета договоров и их append-only журнал.
//
// Все мутирующие функции принимают tx - открытую GORM-транзакцию вызывающего
// кода (оркестратора). Леджер сам транзакций не открывает: атомарность
// кросс-сущностных операций - ответственность оркестратора. Перед возвратом
// каждая мутация перечитывает журнал и сверяет балансовый инвариант; его
// нарушение - фатальная внутренняя ошибка, операция откатывается целиком.

// lockAccount перечитывает счет под блокировкой строки.
// FOR UPDATE поддерживается только постгресом; в тестовом sqlite записи
// и так сериализуются самим движком.
func lockAccount(tx *gorm.DB, accountID uint) (*models.EscrowAccount, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var acc models.EscrowAccount
	if err := q.First(&acc, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewDomainError(models.KindNotFound, "эскроу-счет %d не найден", accountID)
		}
		return nil, err
	}
	return &acc, nil
}

// CreateAccount создает эскроу-счет для договора. На договор допускается
// ровно один счет; повторная попытка - DuplicateEscrowAccount.
func CreateAccount(tx *gorm.DB, contract *models.Contract, feeRateBps int64) (*models.EscrowAccount, error) {
	var count int64
	if err := tx.Model(&models.EscrowAccount{}).
		Where("contract_id = ?", contract.ID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, models.NewDomainError(models.KindDuplicateEscrowAccount,
			"эскроу-счет для договора %d уже существует", contract.ID)
	}

	acc := models.EscrowAccount{
		ContractID:           contract.ID,
		AccountNumber:        uuid.NewString(),
		Currency:             contract.Currency,
		TotalAmountCents:     contract.TotalAmountCents,
		HeldAmountCents:      0,
		ReleasedAmountCents:  0,
		AvailableAmountCents: 0,
		PlatformFeeCents:     0,
		FeeRateBps:           feeRateBps,
		Status:               models.EscrowCreated,
	}
	if err := tx.Create(&acc).Error; err != nil {
		return nil, err
	}
	slog.Info("Создан эскроу-счет", "contract_id", contract.ID, "account", acc.AccountNumber)
	return &acc, nil
}

// Deposit пополняет счет. Совокупные депозиты не могут превысить сумму договора.
// Первый депозит переводит счет из created в funded.
func Deposit(tx *gorm.DB, accountID uint, amount models.Money, sourceRef string) (*models.EscrowTransaction, error) {
	acc, err := lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}
	if err := checkCurrency(acc, amount); err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, models.NewDomainError(models.KindInvalidAmount, "сумма депозита должна быть больше нуля")
	}
	switch acc.Status {
	case models.EscrowCreated, models.EscrowFunded, models.EscrowPartialRelease:
	default:
		return nil, models.NewDomainError(models.KindInvalidEscrowState,
			"депозит недопустим для счета в статусе %q", acc.Status)
	}

	deposited, err := sumByType(tx, acc.ID, models.TxDeposit)
	if err != nil {
		return nil, err
	}
	if deposited+amount.AmountCents > acc.TotalAmountCents {
		return nil, models.NewDomainError(models.KindAmountExceedsContractTotal,
			"депозит %d превышает остаток по договору (%d из %d уже внесено)",
			amount.AmountCents, deposited, acc.TotalAmountCents)
	}

	entry := models.EscrowTransaction{
		AccountID:   acc.ID,
		Reference:   uuid.NewString(),
		Type:        models.TxDeposit,
		AmountCents: amount.AmountCents,
		Currency:    acc.Currency,
		Status:      models.TxCompleted,
		SourceRef:   sourceRef,
		Description: "Пополнение эскроу-счета",
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}

	newStatus := acc.Status
	if newStatus == models.EscrowCreated {
		newStatus = models.EscrowFunded
	}
	updates := map[string]interface{}{
		"held_amount_cents":      acc.HeldAmountCents + amount.AmountCents,
		"available_amount_cents": acc.AvailableAmountCents + amount.AmountCents,
		"status":                 newStatus,
	}
	if err := applyAccountUpdate(tx, acc, updates); err != nil {
		return nil, err
	}
	if err := verifyInvariant(tx, acc.ID); err != nil {
		return nil, err
	}
	slog.Info("Депозит на эскроу-счет", "account", acc.AccountNumber, "amount_cents", amount.AmountCents)
	return &entry, nil
}

// Release выплачивает сумму исполнителю. Из валовой суммы удерживается
// комиссия платформы (банковское округление); в журнал пишутся две строки:
// release на нетто и fee на комиссию. Статус уходит в partial_release,
// а при исчерпании остатка - в completed.
func Release(tx *gorm.DB, accountID uint, amount models.Money, milestoneID *uint, reason string) (*models.EscrowTransaction, error) {
	acc, err := lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}
	if err := checkCurrency(acc, amount); err != nil {
		return nil, err
	}
	switch acc.Status {
	case models.EscrowFunded, models.EscrowPartialRelease:
	case models.EscrowDisputed:
		return nil, models.NewDomainError(models.KindInvalidEscrowState,
			"счет заморожен до разрешения спора")
	default:
		return nil, models.NewDomainError(models.KindInvalidEscrowState,
			"выплата недопустима для счета в статусе %q", acc.Status)
	}
	if amount.IsZero() {
		return nil, models.NewDomainError(models.KindInvalidAmount, "сумма выплаты должна быть больше нуля")
	}
	if amount.AmountCents > acc.AvailableAmountCents {
		return nil, models.NewDomainError(models.KindInsufficientAvailableFunds,
			"запрошено %d, доступно %d", amount.AmountCents, acc.AvailableAmountCents)
	}

	fee := amount.MultiplyByRate(acc.FeeRateBps)
	net, err := amount.Sub(fee)
	if err != nil {
		return nil, err
	}

	release := models.EscrowTransaction{
		AccountID:   acc.ID,
		Reference:   uuid.NewString(),
		Type:        models.TxRelease,
		AmountCents: net.AmountCents,
		Currency:    acc.Currency,
		Status:      models.TxCompleted,
		MilestoneID: milestoneID,
		Description: reason,
	}
	if err := tx.Create(&release).Error; err != nil {
		return nil, err
	}
	if !fee.IsZero() {
		feeEntry := models.EscrowTransaction{
			AccountID:   acc.ID,
			Reference:   uuid.NewString(),
			Type:        models.TxFee,
			AmountCents: fee.AmountCents,
			Currency:    acc.Currency,
			Status:      models.TxCompleted,
			MilestoneID: milestoneID,
			Description: "Комиссия платформы",
		}
		if err := tx.Create(&feeEntry).Error; err != nil {
			return nil, err
		}
	}

	newHeld := acc.HeldAmountCents - amount.AmountCents
	newStatus := models.EscrowPartialRelease
	if newHeld == 0 {
		newStatus = models.EscrowCompleted
	}
	updates := map[string]interface{}{
		"held_amount_cents":      newHeld,
		"available_amount_cents": newHeld,
		"released_amount_cents":  acc.ReleasedAmountCents + net.AmountCents,
		"platform_fee_cents":     acc.PlatformFeeCents + fee.AmountCents,
		"status":                 newStatus,
	}
	if err := applyAccountUpdate(tx, acc, updates); err != nil {
		return nil, err
	}
	if err := verifyInvariant(tx, acc.ID); err != nil {
		return nil, err
	}
	slog.Info("Выплата с эскроу-счета", "account", acc.AccountNumber,
		"gross_cents", amount.AmountCents, "net_cents", net.AmountCents, "fee_cents", fee.AmountCents)
	return &release, nil
}

// Refund возвращает средства плательщику. Комиссия при возврате не удерживается.
// Возврат легален, пока счет не закрыт выплатами; для замороженного (disputed)
// счета решение о возврате принимает арбитраж на уровне оркестратора.
func Refund(tx *gorm.DB, accountID uint, amount models.Money, reason string) (*models.EscrowTransaction, error) {
	acc, err := lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}
	if err := checkCurrency(acc, amount); err != nil {
		return nil, err
	}
	if !acc.Refundable() {
		return nil, models.NewDomainError(models.KindInvalidStateForRefund,
			"возврат недопустим для счета в статусе %q", acc.Status)
	}
	if amount.IsZero() {
		return nil, models.NewDomainError(models.KindInvalidAmount, "сумма возврата должна быть больше нуля")
	}
	if amount.AmountCents > acc.AvailableAmountCents {
		return nil, models.NewDomainError(models.KindInsufficientAvailableFunds,
			"запрошено %d, доступно %d", amount.AmountCents, acc.AvailableAmountCents)
	}

	entry := models.EscrowTransaction{
		AccountID:   acc.ID,
		Reference:   uuid.NewString(),
		Type:        models.TxRefund,
		AmountCents: amount.AmountCents,
		Currency:    acc.Currency,
		Status:      models.TxCompleted,
		Description: reason,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}

	newHeld := acc.HeldAmountCents - amount.AmountCents
	newStatus := acc.Status
	if newHeld == 0 {
		if acc.ReleasedAmountCents == 0 {
			newStatus = models.EscrowRefunded
		} else {
			newStatus = models.EscrowCompleted
		}
	}
	updates := map[string]interface{}{
		"held_amount_cents":      newHeld,
		"available_amount_cents": newHeld,
		"status":                 newStatus,
	}
	if err := applyAccountUpdate(tx, acc, updates); err != nil {
		return nil, err
	}
	if err := verifyInvariant(tx, acc.ID); err != nil {
		return nil, err
	}
	slog.Info("Возврат с эскроу-счета", "account", acc.AccountNumber, "amount_cents", amount.AmountCents)
	return &entry, nil
}

// MarkDisputed замораживает счет: выплаты и обычные возвраты блокируются
// до разрешения спора.
func MarkDisputed(tx *gorm.DB, accountID uint) (*models.EscrowAccount, error) {
	acc, err := lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}
	switch acc.Status {
	case models.EscrowFunded, models.EscrowPartialRelease:
	default:
		return nil, models.NewDomainError(models.KindInvalidEscrowState,
			"спор нельзя открыть для счета в статусе %q", acc.Status)
	}
	updates := map[string]interface{}{
		"status":                models.EscrowDisputed,
		"status_before_dispute": acc.Status,
	}
	if err := applyAccountUpdate(tx, acc, updates); err != nil {
		return nil, err
	}
	slog.Warn("Эскроу-счет заморожен по спору", "account", acc.AccountNumber)
	return acc, nil
}

// Resolve снимает заморозку и возвращает счет в статус до спора.
func Resolve(tx *gorm.DB, accountID uint) (*models.EscrowAccount, error) {
	acc, err := lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.Status != models.EscrowDisputed {
		return nil, models.NewDomainError(models.KindInvalidEscrowState,
			"счет в статусе %q не находится в споре", acc.Status)
	}
	restored := acc.StatusBeforeDispute
	if restored == "" {
		restored = models.EscrowFunded
	}
	updates := map[string]interface{}{
		"status":                restored,
		"status_before_dispute": "",
	}
	if err := applyAccountUpdate(tx, acc, updates); err != nil {
		return nil, err
	}
	slog.Info("Спор по эскроу-счету разрешен", "account", acc.AccountNumber, "status", restored)
	return acc, nil
}

// AccountByContract возвращает счет договора вместе с упорядоченным журналом.
func AccountByContract(db *gorm.DB, contractID uint) (*models.EscrowAccount, error) {
	var acc models.EscrowAccount
	err := db.Preload("Transactions", func(q *gorm.DB) *gorm.DB {
		return q.Order("id asc")
	}).Where("contract_id = ?", contractID).First(&acc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewDomainError(models.KindNotFound,
				"эскроу-счет для договора %d не найден", contractID)
		}
		return nil, err
	}
	return &acc, nil
}

// --- Внутренняя кухня ---

func checkCurrency(acc *models.EscrowAccount, amount models.Money) error {
	if amount.Currency != acc.Currency {
		return models.NewDomainError(models.KindCurrencyMismatch,
			"валюта операции %s не совпадает с валютой счета %s", amount.Currency, acc.Currency)
	}
	return nil
}

// applyAccountUpdate применяет изменения CAS-ом по lock_version.
// Вместе с FOR UPDATE это гарантирует, что два конкурентных release
// не пройдут проверку available по одному и тому же снимку счета.
func applyAccountUpdate(tx *gorm.DB, acc *models.EscrowAccount, updates map[string]interface{}) error {
	updates["lock_version"] = acc.LockVersion + 1
	res := tx.Model(&models.EscrowAccount{}).
		Where("id = ? AND lock_version = ?", acc.ID, acc.LockVersion).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewDomainError(models.KindConflict,
			"конкурентное изменение эскроу-счета %d", acc.ID)
	}
	// Переносим изменения в локальную копию для логов и возврата вызывающему.
	acc.LockVersion++
	if v, ok := updates["held_amount_cents"].(int64); ok {
		acc.HeldAmountCents = v
	}
	if v, ok := updates["available_amount_cents"].(int64); ok {
		acc.AvailableAmountCents = v
	}
	if v, ok := updates["released_amount_cents"].(int64); ok {
		acc.ReleasedAmountCents = v
	}
	if v, ok := updates["platform_fee_cents"].(int64); ok {
		acc.PlatformFeeCents = v
	}
	if v, ok := updates["status"].(models.EscrowStatus); ok {
		acc.Status = v
	}
	return nil
}

// verifyInvariant сверяет счет с журналом:
//
//	held = sum(deposit) - sum(refund) - sum(release) - sum(fee)
//	held + released <= total
//
// Нарушение - не пользовательская ошибка, а повреждение данных; оно логируется
// и возвращается как фатальная ошибка, чтобы транзакция откатилась.
func verifyInvariant(tx *gorm.DB, accountID uint) error {
	var acc models.EscrowAccount
	if err := tx.First(&acc, accountID).Error; err != nil {
		return err
	}
	deposits, err := sumByType(tx, accountID, models.TxDeposit)
	if err != nil {
		return err
	}
	refunds, err := sumByType(tx, accountID, models.TxRefund)
	if err != nil {
		return err
	}
	releases, err := sumByType(tx, accountID, models.TxRelease)
	if err != nil {
		return err
	}
	fees, err := sumByType(tx, accountID, models.TxFee)
	if err != nil {
		return err
	}

	balance := deposits - refunds - releases - fees
	if balance != acc.HeldAmountCents || acc.HeldAmountCents+acc.ReleasedAmountCents > acc.TotalAmountCents {
		slog.Error("НАРУШЕН балансовый инвариант леджера",
			"account_id", accountID,
			"held", acc.HeldAmountCents,
			"released", acc.ReleasedAmountCents,
			"journal_balance", balance,
			"total", acc.TotalAmountCents)
		return models.NewDomainError(models.KindLedgerCorrupted,
			"журнал счета %d расходится с остатком: %d != %d", accountID, balance, acc.HeldAmountCents)
	}
	return nil
}

func sumByType(tx *gorm.DB, accountID uint, t models.TransactionType) (int64, error) {
	var total int64
	err := tx.Model(&models.EscrowTransaction{}).
		Where("account_id = ? AND type = ? AND status = ?", accountID, t, models.TxCompleted).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&total).Error
	return total, err
}
