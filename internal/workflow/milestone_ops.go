// FILE: dozyr-core/internal/workflow/milestone_ops.go
package workflow

import (
	"errors"
	"log/slog"

	"dozyr-core/internal/ledger"
	"dozyr-core/internal/metrics"
	"dozyr-core/models"

	"gorm.io/gorm"
)

// lockMilestone достает этап договора. Блокировка строки этапа не нужна:
// договор уже взят под FOR UPDATE, а все мутации этапов идут через него.
func lockMilestone(tx *gorm.DB, contractID, milestoneID uint) (*models.Milestone, error) {
	var m models.Milestone
	err := tx.Where("id = ? AND contract_id = ?", milestoneID, contractID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewDomainError(models.KindNotFound,
				"этап %d договора %d не найден", milestoneID, contractID)
		}
		return nil, err
	}
	return &m, nil
}

func transitionMilestone(tx *gorm.DB, m *models.Milestone, action models.MilestoneAction, extra map[string]interface{}) error {
	next, err := models.NextMilestoneStatus(m.Status, action)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{"status": next}
	for k, v := range extra {
		updates[k] = v
	}
	if err := tx.Model(m).Updates(updates).Error; err != nil {
		return err
	}
	m.Status = next
	return nil
}

// requireActiveContract: работать с этапами можно только по активному договору.
func requireActiveContract(c *models.Contract) error {
	if c.Status != models.ContractActive {
		return models.ErrInvalidContractTransition(c.Status, "milestone_operation")
	}
	return nil
}

// StartMilestone - исполнитель берет этап в работу.
func StartMilestone(db *gorm.DB, p Principal, contractID, milestoneID uint) (m *models.Milestone, err error) {
	defer func() { metrics.Observe("start_milestone", err) }()

	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireTalent(p, contract); err != nil {
			return err
		}
		if err := requireActiveContract(contract); err != nil {
			return err
		}
		ms, err := lockMilestone(tx, contractID, milestoneID)
		if err != nil {
			return err
		}
		if err := transitionMilestone(tx, ms, models.MilestoneActionStart, nil); err != nil {
			return err
		}
		m = ms
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// SubmitMilestone - исполнитель сдает этап на проверку.
func SubmitMilestone(db *gorm.DB, p Principal, contractID, milestoneID uint, notes string) (m *models.Milestone, err error) {
	defer func() { metrics.Observe("submit_milestone", err) }()

	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireTalent(p, contract); err != nil {
			return err
		}
		if err := requireActiveContract(contract); err != nil {
			return err
		}
		ms, err := lockMilestone(tx, contractID, milestoneID)
		if err != nil {
			return err
		}
		if err := transitionMilestone(tx, ms, models.MilestoneActionSubmit, map[string]interface{}{
			"submitted_at":     now(),
			"submission_notes": notes,
		}); err != nil {
			return err
		}
		m = ms
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Этап сдан на проверку", "contract_id", contractID, "milestone_id", milestoneID)
	return m, nil
}

// ApproveMilestone - менеджер утверждает сданный этап. Денег этот шаг
// не двигает: выплата - отдельный явный вызов ReleaseMilestonePayment.
func ApproveMilestone(db *gorm.DB, p Principal, contractID, milestoneID uint, notes string) (m *models.Milestone, err error) {
	defer func() { metrics.Observe("approve_milestone", err) }()

	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireManager(p, contract); err != nil {
			return err
		}
		if err := requireActiveContract(contract); err != nil {
			return err
		}
		ms, err := lockMilestone(tx, contractID, milestoneID)
		if err != nil {
			return err
		}
		if err := transitionMilestone(tx, ms, models.MilestoneActionApprove, map[string]interface{}{
			"approved_at":    now(),
			"approval_notes": notes,
		}); err != nil {
			return err
		}
		m = ms
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Этап утвержден", "contract_id", contractID, "milestone_id", milestoneID)
	return m, nil
}

// RequestRevision - менеджер возвращает этап на доработку.
// Отметка о сдаче снимается: этап снова в работе.
func RequestRevision(db *gorm.DB, p Principal, contractID, milestoneID uint, notes string) (m *models.Milestone, err error) {
	defer func() { metrics.Observe("request_revision", err) }()

	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireManager(p, contract); err != nil {
			return err
		}
		if err := requireActiveContract(contract); err != nil {
			return err
		}
		ms, err := lockMilestone(tx, contractID, milestoneID)
		if err != nil {
			return err
		}
		if err := transitionMilestone(tx, ms, models.MilestoneActionRequestRevision, map[string]interface{}{
			"submitted_at":   nil,
			"revision_notes": notes,
		}); err != nil {
			return err
		}
		m = ms
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ReleaseMilestonePayment - выплата по утвержденному этапу: списание с эскроу
// (за вычетом комиссии), отметка этапа оплаченным и, если это был последний
// этап, авто-завершение договора. Все три шага - одна транзакция: сбой на
// любом из них откатывает операцию целиком.
func ReleaseMilestonePayment(db *gorm.DB, p Principal, contractID, milestoneID uint) (m *models.Milestone, err error) {
	defer func() { metrics.Observe("release_milestone_payment", err) }()

	var releasedCents, feeCents int64
	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireManager(p, contract); err != nil {
			return err
		}
		if err := requireActiveContract(contract); err != nil {
			return err
		}
		ms, err := lockMilestone(tx, contractID, milestoneID)
		if err != nil {
			return err
		}
		if ms.Status != models.MilestoneApproved {
			return models.ErrInvalidMilestoneTransition(ms.Status, string(models.MilestoneActionMarkPaid))
		}

		var acc models.EscrowAccount
		if err := tx.Where("contract_id = ?", contract.ID).First(&acc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewDomainError(models.KindNotFound,
					"эскроу-счет договора %d не найден, сначала пополните эскроу", contract.ID)
			}
			return err
		}

		mid := ms.ID
		rel, err := ledger.Release(tx, acc.ID, ms.AmountMoney(), &mid,
			"Выплата по этапу: "+ms.Title)
		if err != nil {
			return err
		}
		releasedCents = rel.AmountCents
		feeCents = ms.AmountCents - rel.AmountCents

		if err := transitionMilestone(tx, ms, models.MilestoneActionMarkPaid, map[string]interface{}{
			"paid_at": now(),
		}); err != nil {
			return err
		}

		var unpaid int64
		if err := tx.Model(&models.Milestone{}).
			Where("contract_id = ? AND status <> ?", contract.ID, models.MilestonePaid).
			Count(&unpaid).Error; err != nil {
			return err
		}
		if unpaid == 0 {
			if err := completeLocked(tx, contract); err != nil {
				return err
			}
		}
		m = ms
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ReleasedCents.Add(float64(releasedCents))
	metrics.FeeCents.Add(float64(feeCents))
	slog.Info("Этап оплачен", "contract_id", contractID, "milestone_id", milestoneID,
		"net_cents", releasedCents, "fee_cents", feeCents)
	return m, nil
}
