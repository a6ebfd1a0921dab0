// FILE: dozyr-core/internal/workflow/workflow.go
package workflow

import (
	"errors"
	"time"

	"dozyr-core/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Пакет workflow - оркестратор ядра: единственная точка входа для внешних
// вызовов. Каждая операция проверяет роль, выполняется в одной GORM-транзакции
// и последовательно двигает договор, этапы и эскроу-счет. Частично
// примененных операций снаружи не видно: либо фиксируются все шаги, либо ни один.

// Principal - аутентифицированный субъект запроса. Передается явно в каждую
// операцию; никакого фонового auth-состояния в ядре нет.
type Principal struct {
	UserID uint
	Role   models.Role
}

// Admin сообщает, что субъект - администратор платформы.
func (p Principal) Admin() bool { return p.Role == models.RoleAdmin }

// lockContract перечитывает договор под блокировкой строки. Блокировка
// договора берется первой (порядок: договор → эскроу-счет), поэтому все
// мутации одного договора сериализуются.
func lockContract(tx *gorm.DB, contractID uint) (*models.Contract, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var c models.Contract
	if err := q.First(&c, contractID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewDomainError(models.KindNotFound, "договор %d не найден", contractID)
		}
		return nil, err
	}
	return &c, nil
}

// --- Проверки ролей ---

func requireManager(p Principal, c *models.Contract) error {
	if p.Admin() || (p.Role == models.RoleManager && p.UserID == c.ManagerID) {
		return nil
	}
	return models.NewDomainError(models.KindForbidden,
		"операция доступна только менеджеру договора")
}

func requireTalent(p Principal, c *models.Contract) error {
	if p.Admin() || (p.Role == models.RoleTalent && p.UserID == c.TalentID) {
		return nil
	}
	return models.NewDomainError(models.KindForbidden,
		"операция доступна только исполнителю договора")
}

func requireParty(p Principal, c *models.Contract) error {
	if p.Admin() || p.UserID == c.ManagerID || p.UserID == c.TalentID {
		return nil
	}
	return models.NewDomainError(models.KindForbidden, "вы не сторона этого договора")
}

func requireAdmin(p Principal) error {
	if p.Admin() {
		return nil
	}
	return models.NewDomainError(models.KindForbidden, "операция доступна только администратору")
}

// transitionContract применяет действие к договору по таблице переходов
// и сохраняет новый статус вместе с дополнительными полями.
func transitionContract(tx *gorm.DB, c *models.Contract, action models.ContractAction, extra map[string]interface{}) error {
	next, err := models.NextContractStatus(c.Status, action)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{"status": next}
	for k, v := range extra {
		updates[k] = v
	}
	if err := tx.Model(c).Updates(updates).Error; err != nil {
		return err
	}
	c.Status = next
	return nil
}

func now() *time.Time {
	t := time.Now().UTC()
	return &t
}
