// FILE: dozyr-core/internal/workflow/contract_ops.go
package workflow

import (
	"errors"
	"log/slog"
	"time"

	"dozyr-core/internal/ledger"
	"dozyr-core/internal/metrics"
	"dozyr-core/models"

	"gorm.io/gorm"
)

// MilestoneInput - этап в составе создаваемого договора.
type MilestoneInput struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	AmountCents int64  `json:"amountCents" binding:"required"`
	DueDate     string `json:"dueDate"`
}

// CreateContractInput определяет структуру входящих данных для создания договора.
type CreateContractInput struct {
	Title            string             `json:"title" binding:"required"`
	Description      string             `json:"description"`
	TotalAmountCents int64              `json:"totalAmountCents"`
	Currency         string             `json:"currency" binding:"required"`
	PaymentType      models.PaymentType `json:"paymentType" binding:"required"`
	HourlyRateCents  int64              `json:"hourlyRateCents"`
	EstimatedHours   int                `json:"estimatedHours"`
	StartDate        string             `json:"startDate"`
	EndDate          string             `json:"endDate"`
	Terms            string             `json:"terms"`
	JobID            uint               `json:"jobId"`
	TalentID         uint               `json:"talentId" binding:"required"`
	Milestones       []MilestoneInput   `json:"milestones"`
}

// UpdateContractInput - редактируемые поля черновика.
type UpdateContractInput struct {
	Title            *string `json:"title"`
	Description      *string `json:"description"`
	TotalAmountCents *int64  `json:"totalAmountCents"`
	Terms            *string `json:"terms"`
	StartDate        *string `json:"startDate"`
	EndDate          *string `json:"endDate"`
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, models.NewDomainError(models.KindInvalidInput,
			"неверный формат даты %q, ожидается YYYY-MM-DD", s)
	}
	return &t, nil
}

// CreateContract создает черновик договора от имени менеджера.
func CreateContract(db *gorm.DB, p Principal, input CreateContractInput) (c *models.Contract, err error) {
	defer func() { metrics.Observe("create_contract", err) }()

	if p.Role != models.RoleManager && !p.Admin() {
		return nil, models.NewDomainError(models.KindForbidden,
			"создавать договоры может только менеджер")
	}
	if !models.ValidPaymentType(input.PaymentType) {
		return nil, models.NewDomainError(models.KindInvalidInput,
			"неизвестная схема оплаты %q", input.PaymentType)
	}
	// Этапы существуют только у договоров с поэтапной оплатой.
	if len(input.Milestones) > 0 && input.PaymentType != models.PaymentMilestone {
		return nil, models.NewDomainError(models.KindInvalidInput,
			"этапы допустимы только для договоров с поэтапной оплатой, схема %q их не поддерживает",
			input.PaymentType)
	}
	total, err := models.NewMoney(input.TotalAmountCents, input.Currency)
	if err != nil {
		return nil, err
	}
	start, err := parseDate(input.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := parseDate(input.EndDate)
	if err != nil {
		return nil, err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var talent models.User
		if err := tx.First(&talent, input.TalentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewDomainError(models.KindNotFound, "исполнитель %d не найден", input.TalentID)
			}
			return err
		}
		if talent.Role != models.RoleTalent {
			return models.NewDomainError(models.KindInvalidInput,
				"пользователь %d не является исполнителем", input.TalentID)
		}
		if input.JobID != 0 {
			var job models.Job
			if err := tx.First(&job, input.JobID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return models.NewDomainError(models.KindNotFound, "вакансия %d не найдена", input.JobID)
				}
				return err
			}
			if job.ManagerID != p.UserID && !p.Admin() {
				return models.NewDomainError(models.KindForbidden, "вакансия принадлежит другому менеджеру")
			}
		}

		contract := models.Contract{
			Title:            input.Title,
			Description:      input.Description,
			TotalAmountCents: total.AmountCents,
			Currency:         total.Currency,
			PaymentType:      input.PaymentType,
			HourlyRateCents:  input.HourlyRateCents,
			EstimatedHours:   input.EstimatedHours,
			Status:           models.ContractDraft,
			StartDate:        start,
			EndDate:          end,
			Terms:            input.Terms,
			JobID:            input.JobID,
			ManagerID:        p.UserID,
			TalentID:         input.TalentID,
		}
		if p.Admin() {
			// Админ создает договор от имени владельца вакансии.
			if input.JobID == 0 {
				return models.NewDomainError(models.KindInvalidInput,
					"администратор обязан указать вакансию")
			}
			var job models.Job
			if err := tx.First(&job, input.JobID).Error; err != nil {
				return err
			}
			contract.ManagerID = job.ManagerID
		}
		if err := contract.ValidateDates(); err != nil {
			return err
		}

		if err := tx.Create(&contract).Error; err != nil {
			return err
		}

		for _, mi := range input.Milestones {
			m, err := buildMilestone(contract.ID, contract.Currency, mi)
			if err != nil {
				return err
			}
			if err := tx.Create(m).Error; err != nil {
				return err
			}
			contract.Milestones = append(contract.Milestones, *m)
		}

		c = &contract
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Создан договор", "contract_id", c.ID, "manager_id", c.ManagerID, "talent_id", c.TalentID)
	return c, nil
}

func buildMilestone(contractID uint, currency string, mi MilestoneInput) (*models.Milestone, error) {
	if mi.AmountCents <= 0 {
		return nil, models.NewDomainError(models.KindInvalidAmount,
			"сумма этапа должна быть больше нуля")
	}
	due, err := parseDate(mi.DueDate)
	if err != nil {
		return nil, err
	}
	return &models.Milestone{
		ContractID:  contractID,
		Title:       mi.Title,
		Description: mi.Description,
		AmountCents: mi.AmountCents,
		Currency:    currency,
		DueDate:     due,
		Status:      models.MilestonePending,
	}, nil
}

// UpdateContract редактирует черновик. После отправки договор неизменяем.
func UpdateContract(db *gorm.DB, p Principal, contractID uint, input UpdateContractInput) (c *models.Contract, err error) {
	defer func() { metrics.Observe("update_contract", err) }()

	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireManager(p, contract); err != nil {
			return err
		}
		if contract.Status != models.ContractDraft {
			return models.ErrInvalidContractTransition(contract.Status, "update")
		}

		updates := map[string]interface{}{}
		if input.Title != nil {
			updates["title"] = *input.Title
		}
		if input.Description != nil {
			updates["description"] = *input.Description
		}
		if input.Terms != nil {
			updates["terms"] = *input.Terms
		}
		if input.TotalAmountCents != nil {
			m, err := models.NewMoney(*input.TotalAmountCents, contract.Currency)
			if err != nil {
				return err
			}
			updates["total_amount_cents"] = m.AmountCents
		}
		if input.StartDate != nil {
			t, err := parseDate(*input.StartDate)
			if err != nil {
				return err
			}
			updates["start_date"] = t
		}
		if input.EndDate != nil {
			t, err := parseDate(*input.EndDate)
			if err != nil {
				return err
			}
			updates["end_date"] = t
		}
		if len(updates) > 0 {
			if err := tx.Model(contract).Updates(updates).Error; err != nil {
				return err
			}
		}
		if err := tx.First(contract, contract.ID).Error; err != nil {
			return err
		}
		if err := contract.ValidateDates(); err != nil {
			return err
		}
		c = contract
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteContract удаляет договор. Допустимо только в draft/sent:
// после движения денег договор не удаляется никогда.
func DeleteContract(db *gorm.DB, p Principal, contractID uint) (err error) {
	defer func() { metrics.Observe("delete_contract", err) }()

	return db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireManager(p, contract); err != nil {
			return err
		}
		if !contract.Deletable() {
			return models.ErrInvalidContractTransition(contract.Status, "delete")
		}
		if err := tx.Where("contract_id = ?", contract.ID).Delete(&models.Milestone{}).Error; err != nil {
			return err
		}
		return tx.Delete(contract).Error
	})
}

// AddMilestone добавляет этап к черновику договора с поэтапной оплатой.
func AddMilestone(db *gorm.DB, p Principal, contractID uint, input MilestoneInput) (m *models.Milestone, err error) {
	defer func() { metrics.Observe("add_milestone", err) }()

	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireManager(p, contract); err != nil {
			return err
		}
		if contract.Status != models.ContractDraft {
			return models.ErrInvalidContractTransition(contract.Status, "add_milestone")
		}
		if contract.PaymentType != models.PaymentMilestone {
			return models.NewDomainError(models.KindInvalidInput,
				"этапы допустимы только для договоров с поэтапной оплатой")
		}
		built, err := buildMilestone(contract.ID, contract.Currency, input)
		if err != nil {
			return err
		}
		if err := tx.Create(built).Error; err != nil {
			return err
		}
		m = built
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Send отправляет договор исполнителю. Для поэтапных договоров здесь же
// проверяется, что суммы этапов сходятся с суммой договора.
func Send(db *gorm.DB, p Principal, contractID uint) (c *models.Contract, err error) {
	defer func() { metrics.Observe("send_contract", err) }()

	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireManager(p, contract); err != nil {
			return err
		}
		var milestones []models.Milestone
		if err := tx.Where("contract_id = ?", contract.ID).Find(&milestones).Error; err != nil {
			return err
		}
		if err := contract.ValidateMilestoneSum(milestones); err != nil {
			return err
		}
		if err := transitionContract(tx, contract, models.ContractActionSend,
			map[string]interface{}{"sent_at": now()}); err != nil {
			return err
		}
		c = contract
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Договор отправлен исполнителю", "contract_id", c.ID)
	return c, nil
}

// Accept - исполнитель принимает договор. Почасовые договоры не требуют
// эскроу и активируются сразу; fixed и milestone ждут первого пополнения.
func Accept(db *gorm.DB, p Principal, contractID uint) (c *models.Contract, err error) {
	defer func() { metrics.Observe("accept_contract", err) }()

	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireTalent(p, contract); err != nil {
			return err
		}
		if err := transitionContract(tx, contract, models.ContractActionAccept,
			map[string]interface{}{"accepted_at": now()}); err != nil {
			return err
		}
		if contract.PaymentType == models.PaymentHourly {
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
	slog.Info("Договор принят", "contract_id", c.ID, "status", c.Status)
	return c, nil
}

// Decline - исполнитель отклоняет договор. Статус терминальный.
func Decline(db *gorm.DB, p Principal, contractID uint) (c *models.Contract, err error) {
	defer func() { metrics.Observe("decline_contract", err) }()

	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireTalent(p, contract); err != nil {
			return err
		}
		if err := transitionContract(tx, contract, models.ContractActionDecline,
			map[string]interface{}{"declined_at": now()}); err != nil {
			return err
		}
		c = contract
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Complete завершает активный договор. Для поэтапных договоров - только
// когда все этапы оплачены, иначе IncompleteMilestones.
func Complete(db *gorm.DB, p Principal, contractID uint) (c *models.Contract, err error) {
	defer func() { metrics.Observe("complete_contract", err) }()

	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireManager(p, contract); err != nil {
			return err
		}
		if err := completeLocked(tx, contract); err != nil {
			return err
		}
		c = contract
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Договор завершен", "contract_id", c.ID)
	return c, nil
}

// completeLocked - общий код завершения для Complete и авто-завершения
// после выплаты последнего этапа. Договор уже взят под блокировку.
func completeLocked(tx *gorm.DB, contract *models.Contract) error {
	if contract.PaymentType == models.PaymentMilestone {
		var unpaid int64
		if err := tx.Model(&models.Milestone{}).
			Where("contract_id = ? AND status <> ?", contract.ID, models.MilestonePaid).
			Count(&unpaid).Error; err != nil {
			return err
		}
		if unpaid > 0 {
			return models.NewDomainError(models.KindIncompleteMilestones,
				"не все этапы оплачены: осталось %d", unpaid)
		}
	}
	return transitionContract(tx, contract, models.ContractActionComplete,
		map[string]interface{}{"completed_at": now()})
}

// Cancel расторгает договор по инициативе любой из сторон. Неизрасходованный
// остаток эскроу возвращается плательщику в той же транзакции. Если по счету
// открыт спор, расторгнуть договор может только администратор.
func Cancel(db *gorm.DB, p Principal, contractID uint, reason string) (c *models.Contract, err error) {
	defer func() { metrics.Observe("cancel_contract", err) }()

	err = db.Transaction(func(tx *gorm.DB) error {
		contract, err := lockContract(tx, contractID)
		if err != nil {
			return err
		}
		if err := requireParty(p, contract); err != nil {
			return err
		}
		if err := transitionContract(tx, contract, models.ContractActionCancel,
			map[string]interface{}{"cancelled_at": now(), "cancel_reason": reason}); err != nil {
			return err
		}

		var acc models.EscrowAccount
		lookupErr := tx.Where("contract_id = ?", contract.ID).First(&acc).Error
		if lookupErr != nil {
			if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
				c = contract
				return nil // эскроу не создавался, возвращать нечего
			}
			return lookupErr
		}
		if acc.Status == models.EscrowDisputed && !p.Admin() {
			return models.NewDomainError(models.KindForbidden,
				"по счету открыт спор, расторжение доступно только администратору")
		}
		if acc.HeldAmountCents > 0 {
			refund := models.Money{AmountCents: acc.HeldAmountCents, Currency: acc.Currency}
			if _, err := ledger.Refund(tx, acc.ID, refund, "Возврат при расторжении договора"); err != nil {
				return err
			}
		}
		c = contract
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Договор расторгнут", "contract_id", c.ID, "reason", reason)
	return c, nil
}

// GetContract возвращает договор с этапами и эскроу-счетом. Видят его
// только стороны договора и администратор.
func GetContract(db *gorm.DB, p Principal, contractID uint) (*models.Contract, error) {
	var contract models.Contract
	err := db.Preload("Milestones", func(q *gorm.DB) *gorm.DB {
		return q.Order("id asc")
	}).Preload("Escrow").First(&contract, contractID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewDomainError(models.KindNotFound, "договор %d не найден", contractID)
		}
		return nil, err
	}
	if err := requireParty(p, &contract); err != nil {
		return nil, err
	}
	return &contract, nil
}
