// FILE: dozyr-core/internal/workflow/escrow_ops.go
package workflow

import (
	"errors"
	"log/slog"

	"dozyr-core/internal/ledger"
	"dozyr-core/internal/metrics"
	"dozyr-core/models"

	"gorm.io/gorm"
)

// FundEscrow пополняет эскроу договора. Счет создается при первом пополнении;
// принятый договор после успешного депозита активируется. Пополнять можно
// и активный договор (поэтапное довнесение средств).
func FundEscrow(db *gorm.DB, p Principal, contractID uint, amountCents int64, sourceRef string, feeRateBps int64) (c *models.Contract, err error) {
	defer func() { metrics.Observe("fund_escrow", err) }()

	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireManager(p, contract); err != nil {
			return err
		}
		if contract.Status != models.ContractAccepted && contract.Status != models.ContractActive {
			return models.ErrInvalidContractTransition(contract.Status, "fund_escrow")
		}
		amount, err := models.NewMoney(amountCents, contract.Currency)
		if err != nil {
			return err
		}

		var acc models.EscrowAccount
		lookupErr := tx.Where("contract_id = ?", contract.ID).First(&acc).Error
		if lookupErr != nil {
			if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
				return lookupErr
			}
			created, err := ledger.CreateAccount(tx, contract, feeRateBps)
			if err != nil {
				return err
			}
			acc = *created
		}

		if _, err := ledger.Deposit(tx, acc.ID, amount, sourceRef); err != nil {
			return err
		}

		if contract.Status == models.ContractAccepted {
			if err := transitionContract(tx, contract, models.ContractActionActivate, nil); err != nil {
				return err
			}
		}
		c = contract
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Эскроу пополнен", "contract_id", c.ID, "amount_cents", amountCents, "status", c.Status)
	return c, nil
}

// RefundEscrow возвращает часть удерживаемых средств плательщику.
// Обычный возврат запрашивает менеджер; по замороженному счету возврат
// проводит только администратор (арбитраж).
func RefundEscrow(db *gorm.DB, p Principal, contractID uint, amountCents int64, reason string) (t *models.EscrowTransaction, err error) {
	defer func() { metrics.Observe("refund_escrow", err) }()

	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireManager(p, contract); err != nil {
			return err
		}
		amount, err := models.NewMoney(amountCents, contract.Currency)
		if err != nil {
			return err
		}
		var acc models.EscrowAccount
		if err := tx.Where("contract_id = ?", contract.ID).First(&acc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewDomainError(models.KindNotFound,
					"эскроу-счет договора %d не найден", contract.ID)
			}
			return err
		}
		if acc.Status == models.EscrowDisputed && !p.Admin() {
			return models.NewDomainError(models.KindForbidden,
				"возврат по замороженному счету проводит только администратор")
		}
		entry, err := ledger.Refund(tx, acc.ID, amount, reason)
		if err != nil {
			return err
		}
		t = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// MarkDisputed - сторона договора открывает спор: счет замораживается.
func MarkDisputed(db *gorm.DB, p Principal, contractID uint) (a *models.EscrowAccount, err error) {
	defer func() { metrics.Observe("mark_disputed", err) }()

	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireParty(p, contract); err != nil {
			return err
		}
		var acc models.EscrowAccount
		if err := tx.Where("contract_id = ?", contract.ID).First(&acc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewDomainError(models.KindNotFound,
					"эскроу-счет договора %d не найден", contract.ID)
			}
			return err
		}
		updated, err := ledger.MarkDisputed(tx, acc.ID)
		if err != nil {
			return err
		}
		a = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ResolveDispute - администратор закрывает спор, счет размораживается.
// Само арбитражное решение (кому сколько) проводится затем обычными
// Release/Refund вызовами от имени администратора.
func ResolveDispute(db *gorm.DB, p Principal, contractID uint) (a *models.EscrowAccount, err error) {
	defer func() { metrics.Observe("resolve_dispute", err) }()

	if err = requireAdmin(p); err != nil {
		return nil, err
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		var acc models.EscrowAccount
		if err := tx.Where("contract_id = ?", contract.ID).First(&acc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewDomainError(models.KindNotFound,
					"эскроу-счет договора %d не найден", contract.ID)
			}
			return err
		}
		updated, err := ledger.Resolve(tx, acc.ID)
		if err != nil {
			return err
		}
		a = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetEscrow возвращает счет договора с журналом транзакций.
func GetEscrow(db *gorm.DB, p Principal, contractID uint) (*models.EscrowAccount, error) {
	var contract models.Contract
	if err := db.First(&contract, contractID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewDomainError(models.KindNotFound, "договор %d не найден", contractID)
		}
		return nil, err
	}
	if err := requireParty(p, &contract); err != nil {
		return nil, err
	}
	return ledger.AccountByContract(db, contractID)
}
