// FILE: dozyr-core/internal/ledger/ledger_test.go
package ledger

import (
	"errors"
	"testing"

	"dozyr-core/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("не удалось открыть тестовую БД: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Job{}, &models.Contract{},
		&models.Milestone{}, &models.EscrowAccount{}, &models.EscrowTransaction{},
	); err != nil {
		t.Fatalf("миграция тестовой БД: %v", err)
	}
	return db
}

func newTestContract(t *testing.T, db *gorm.DB, totalCents int64) *models.Contract {
	t.Helper()
	c := models.Contract{
		Title:            "Тестовый договор",
		TotalAmountCents: totalCents,
		Currency:         "USD",
		PaymentType:      models.PaymentMilestone,
		Status:           models.ContractActive,
		ManagerID:        1,
		TalentID:         2,
	}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("создание договора: %v", err)
	}
	return &c
}

func kindOf(t *testing.T, err error) models.ErrorKind {
	t.Helper()
	var de *models.DomainError
	if !errors.As(err, &de) {
		t.Fatalf("ожидалась доменная ошибка, получено %v", err)
	}
	return de.Kind
}

func TestCreateAccountDuplicate(t *testing.T) {
	db := newTestDB(t)
	c := newTestContract(t, db, 100000)

	acc, err := CreateAccount(db, c, 500)
	if err != nil {
		t.Fatalf("создание счета: %v", err)
	}
	if acc.Status != models.EscrowCreated || acc.TotalAmountCents != 100000 {
		t.Fatalf("неверное начальное состояние счета: %+v", acc)
	}

	_, err = CreateAccount(db, c, 500)
	if kindOf(t, err) != models.KindDuplicateEscrowAccount {
		t.Fatalf("ожидался DuplicateEscrowAccount, получено %v", err)
	}
}

func TestDepositFundsAccount(t *testing.T) {
	db := newTestDB(t)
	c := newTestContract(t, db, 100000)
	acc, _ := CreateAccount(db, c, 500)

	entry, err := Deposit(db, acc.ID, models.Money{AmountCents: 60000, Currency: "USD"}, "pi_123")
	if err != nil {
		t.Fatalf("депозит: %v", err)
	}
	if entry.Type != models.TxDeposit || entry.Status != models.TxCompleted {
		t.Fatalf("неверная запись журнала: %+v", entry)
	}

	var got models.EscrowAccount
	db.First(&got, acc.ID)
	if got.Status != models.EscrowFunded || got.HeldAmountCents != 60000 || got.AvailableAmountCents != 60000 {
		t.Fatalf("неверное состояние после депозита: %+v", got)
	}

	// Довнесение в пределах суммы договора разрешено.
	if _, err := Deposit(db, acc.ID, models.Money{AmountCents: 40000, Currency: "USD"}, "pi_124"); err != nil {
		t.Fatalf("второй депозит: %v", err)
	}

	// Совокупные депозиты не могут превысить сумму договора.
	_, err = Deposit(db, acc.ID, models.Money{AmountCents: 1, Currency: "USD"}, "pi_125")
	if kindOf(t, err) != models.KindAmountExceedsContractTotal {
		t.Fatalf("ожидался AmountExceedsContractTotal, получено %v", err)
	}
}

func TestDepositValidation(t *testing.T) {
	db := newTestDB(t)
	c := newTestContract(t, db, 100000)
	acc, _ := CreateAccount(db, c, 500)

	if _, err := Deposit(db, acc.ID, models.Money{AmountCents: 0, Currency: "USD"}, ""); kindOf(t, err) != models.KindInvalidAmount {
		t.Error("нулевой депозит должен отклоняться")
	}
	if _, err := Deposit(db, acc.ID, models.Money{AmountCents: 100, Currency: "EUR"}, ""); kindOf(t, err) != models.KindCurrencyMismatch {
		t.Error("депозит в чужой валюте должен отклоняться")
	}
	if _, err := Deposit(db, 9999, models.Money{AmountCents: 100, Currency: "USD"}, ""); kindOf(t, err) != models.KindNotFound {
		t.Error("депозит на несуществующий счет должен отклоняться")
	}
}

// Сценарий из спецификации: договор на $1000, два этапа $400 и $600,
// комиссия 5%. После обеих выплат: released = 950, комиссия = 50, счет закрыт.
func TestReleaseFullScenario(t *testing.T) {
	db := newTestDB(t)
	c := newTestContract(t, db, 100000)
	acc, _ := CreateAccount(db, c, 500)

	if _, err := Deposit(db, acc.ID, models.Money{AmountCents: 100000, Currency: "USD"}, "pi_1"); err != nil {
		t.Fatalf("депозит: %v", err)
	}

	m1 := uint(11)
	rel1, err := Release(db, acc.ID, models.Money{AmountCents: 40000, Currency: "USD"}, &m1, "Этап 1")
	if err != nil {
		t.Fatalf("первая выплата: %v", err)
	}
	if rel1.AmountCents != 38000 {
		t.Fatalf("нетто первой выплаты: ожидалось 38000, получено %d", rel1.AmountCents)
	}

	var got models.EscrowAccount
	db.First(&got, acc.ID)
	if got.HeldAmountCents != 60000 || got.ReleasedAmountCents != 38000 ||
		got.PlatformFeeCents != 2000 || got.Status != models.EscrowPartialRelease {
		t.Fatalf("состояние после первой выплаты: %+v", got)
	}

	m2 := uint(12)
	rel2, err := Release(db, acc.ID, models.Money{AmountCents: 60000, Currency: "USD"}, &m2, "Этап 2")
	if err != nil {
		t.Fatalf("вторая выплата: %v", err)
	}
	if rel2.AmountCents != 57000 {
		t.Fatalf("нетто второй выплаты: ожидалось 57000, получено %d", rel2.AmountCents)
	}

	db.First(&got, acc.ID)
	if got.HeldAmountCents != 0 || got.ReleasedAmountCents != 95000 ||
		got.PlatformFeeCents != 5000 || got.Status != models.EscrowCompleted {
		t.Fatalf("состояние после второй выплаты: %+v", got)
	}

	// Журнал: 1 deposit + 2 release + 2 fee.
	var count int64
	db.Model(&models.EscrowTransaction{}).Where("account_id = ?", acc.ID).Count(&count)
	if count != 5 {
		t.Fatalf("ожидалось 5 записей журнала, получено %d", count)
	}
}

// Отказ по нехватке средств не меняет ни счет, ни журнал.
func TestReleaseInsufficientLeavesLedgerUnchanged(t *testing.T) {
	db := newTestDB(t)
	c := newTestContract(t, db, 100000)
	acc, _ := CreateAccount(db, c, 500)
	if _, err := Deposit(db, acc.ID, models.Money{AmountCents: 60000, Currency: "USD"}, "pi_1"); err != nil {
		t.Fatal(err)
	}

	var before models.EscrowAccount
	db.First(&before, acc.ID)
	var txBefore int64
	db.Model(&models.EscrowTransaction{}).Where("account_id = ?", acc.ID).Count(&txBefore)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := Release(tx, acc.ID, models.Money{AmountCents: 70000, Currency: "USD"}, nil, "слишком много")
		return err
	})
	if kindOf(t, err) != models.KindInsufficientAvailableFunds {
		t.Fatalf("ожидался InsufficientAvailableBalance, получено %v", err)
	}

	var after models.EscrowAccount
	db.First(&after, acc.ID)
	if after.HeldAmountCents != before.HeldAmountCents || after.LockVersion != before.LockVersion {
		t.Fatalf("счет изменился при отказе: %+v -> %+v", before, after)
	}
	var txAfter int64
	db.Model(&models.EscrowTransaction{}).Where("account_id = ?", acc.ID).Count(&txAfter)
	if txAfter != txBefore {
		t.Fatalf("журнал изменился при отказе: %d -> %d", txBefore, txAfter)
	}
}

// Повторная выплата всего остатка не может пройти дважды.
func TestNoDoubleRelease(t *testing.T) {
	db := newTestDB(t)
	c := newTestContract(t, db, 100000)
	acc, _ := CreateAccount(db, c, 500)
	if _, err := Deposit(db, acc.ID, models.Money{AmountCents: 60000, Currency: "USD"}, "pi_1"); err != nil {
		t.Fatal(err)
	}

	if _, err := Release(db, acc.ID, models.Money{AmountCents: 60000, Currency: "USD"}, nil, "все сразу"); err != nil {
		t.Fatalf("первая выплата: %v", err)
	}
	_, err := Release(db, acc.ID, models.Money{AmountCents: 60000, Currency: "USD"}, nil, "еще раз")
	if err == nil {
		t.Fatal("вторая выплата того же остатка обязана отклоняться")
	}

	var got models.EscrowAccount
	db.First(&got, acc.ID)
	if got.ReleasedAmountCents+got.PlatformFeeCents > 60000 {
		t.Fatalf("выплачено больше, чем удерживалось: %+v", got)
	}
}

func TestRefund(t *testing.T) {
	db := newTestDB(t)
	c := newTestContract(t, db, 100000)
	acc, _ := CreateAccount(db, c, 500)
	if _, err := Deposit(db, acc.ID, models.Money{AmountCents: 100000, Currency: "USD"}, "pi_1"); err != nil {
		t.Fatal(err)
	}

	// Частичный возврат оставляет счет funded.
	if _, err := Refund(db, acc.ID, models.Money{AmountCents: 30000, Currency: "USD"}, "передумал"); err != nil {
		t.Fatalf("частичный возврат: %v", err)
	}
	var got models.EscrowAccount
	db.First(&got, acc.ID)
	if got.HeldAmountCents != 70000 || got.Status != models.EscrowFunded {
		t.Fatalf("состояние после частичного возврата: %+v", got)
	}

	// Полный возврат без единой выплаты - статус refunded.
	if _, err := Refund(db, acc.ID, models.Money{AmountCents: 70000, Currency: "USD"}, "расторжение"); err != nil {
		t.Fatalf("полный возврат: %v", err)
	}
	db.First(&got, acc.ID)
	if got.HeldAmountCents != 0 || got.Status != models.EscrowRefunded {
		t.Fatalf("состояние после полного возврата: %+v", got)
	}

	// Возврат с пустого счета невозможен.
	_, err := Refund(db, acc.ID, models.Money{AmountCents: 1, Currency: "USD"}, "еще")
	if kindOf(t, err) != models.KindInvalidStateForRefund {
		t.Fatalf("ожидался InvalidStateForRefund, получено %v", err)
	}
}

func TestRefundAfterReleaseClosesAccount(t *testing.T) {
	db := newTestDB(t)
	c := newTestContract(t, db, 100000)
	acc, _ := CreateAccount(db, c, 500)
	if _, err := Deposit(db, acc.ID, models.Money{AmountCents: 100000, Currency: "USD"}, "pi_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := Release(db, acc.ID, models.Money{AmountCents: 40000, Currency: "USD"}, nil, "этап"); err != nil {
		t.Fatal(err)
	}
	if _, err := Refund(db, acc.ID, models.Money{AmountCents: 60000, Currency: "USD"}, "остаток назад"); err != nil {
		t.Fatal(err)
	}

	var got models.EscrowAccount
	db.First(&got, acc.ID)
	// Были и выплаты, и возврат: счет закрыт как completed, а не refunded.
	if got.Status != models.EscrowCompleted || got.HeldAmountCents != 0 {
		t.Fatalf("состояние: %+v", got)
	}
}

func TestDisputeFreezesRelease(t *testing.T) {
	db := newTestDB(t)
	c := newTestContract(t, db, 100000)
	acc, _ := CreateAccount(db, c, 500)
	if _, err := Deposit(db, acc.ID, models.Money{AmountCents: 100000, Currency: "USD"}, "pi_1"); err != nil {
		t.Fatal(err)
	}

	if _, err := MarkDisputed(db, acc.ID); err != nil {
		t.Fatalf("открытие спора: %v", err)
	}
	_, err := Release(db, acc.ID, models.Money{AmountCents: 10000, Currency: "USD"}, nil, "мимо")
	if kindOf(t, err) != models.KindInvalidEscrowState {
		t.Fatalf("выплата по замороженному счету: %v", err)
	}

	// Возврат на уровне леджера при споре легален - решение арбитража.
	if _, err := Refund(db, acc.ID, models.Money{AmountCents: 10000, Currency: "USD"}, "арбитраж"); err != nil {
		t.Fatalf("арбитражный возврат: %v", err)
	}

	acc2, err := Resolve(db, acc.ID)
	if err != nil {
		t.Fatalf("закрытие спора: %v", err)
	}
	if acc2.Status != models.EscrowFunded {
		t.Fatalf("после спора ожидался funded, получено %s", acc2.Status)
	}
	// Повторное закрытие невозможно.
	if _, err := Resolve(db, acc.ID); kindOf(t, err) != models.KindInvalidEscrowState {
		t.Fatal("повторное закрытие спора должно отклоняться")
	}
}

// Искусственно ломаем остаток и убеждаемся, что следующая мутация
// обнаруживает расхождение с журналом и откатывается.
func TestLedgerCorruptionDetected(t *testing.T) {
	db := newTestDB(t)
	c := newTestContract(t, db, 100000)
	acc, _ := CreateAccount(db, c, 500)
	if _, err := Deposit(db, acc.ID, models.Money{AmountCents: 50000, Currency: "USD"}, "pi_1"); err != nil {
		t.Fatal(err)
	}

	// Порча данных в обход леджера.
	db.Model(&models.EscrowAccount{}).Where("id = ?", acc.ID).
		UpdateColumn("held_amount_cents", 49000)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := Deposit(tx, acc.ID, models.Money{AmountCents: 1000, Currency: "USD"}, "pi_2")
		return err
	})
	var de *models.DomainError
	if !errors.As(err, &de) || de.Kind != models.KindLedgerCorrupted || !de.Fatal() {
		t.Fatalf("ожидалась фатальная ошибка LedgerCorrupted, получено %v", err)
	}

	// Транзакция откатилась: депозит поверх порчи не сохранился.
	var count int64
	db.Model(&models.EscrowTransaction{}).Where("account_id = ?", acc.ID).Count(&count)
	if count != 1 {
		t.Fatalf("ожидалась 1 запись журнала, получено %d", count)
	}
}

// Два писателя с одним снимком счета: второй коммит по устаревшей
// lock_version должен отклониться без каких-либо изменений счета.
func TestStaleSnapshotRejectedByLockVersion(t *testing.T) {
	db := newTestDB(t)
	c := newTestContract(t, db, 100000)
	acc, _ := CreateAccount(db, c, 500)
	if _, err := Deposit(db, acc.ID, models.Money{AmountCents: 50000, Currency: "USD"}, "pi_1"); err != nil {
		t.Fatalf("депозит: %v", err)
	}

	// Снимок счета до конкурентной записи.
	var stale models.EscrowAccount
	if err := db.First(&stale, acc.ID).Error; err != nil {
		t.Fatal(err)
	}

	// Конкурент успевает провести свой депозит: lock_version уходит вперед.
	if _, err := Deposit(db, acc.ID, models.Money{AmountCents: 10000, Currency: "USD"}, "pi_2"); err != nil {
		t.Fatalf("конкурентный депозит: %v", err)
	}

	staleVersion := stale.LockVersion
	err := applyAccountUpdate(db, &stale, map[string]interface{}{
		"held_amount_cents":      int64(0),
		"available_amount_cents": int64(0),
	})
	if kindOf(t, err) != models.KindConflict {
		t.Fatalf("ожидался Conflict, получено %v", err)
	}
	if stale.LockVersion != staleVersion {
		t.Fatal("локальная копия не должна меняться при отказе CAS")
	}

	// Счет остался в состоянии, которое оставил конкурент.
	var got models.EscrowAccount
	db.First(&got, acc.ID)
	if got.HeldAmountCents != 60000 || got.LockVersion != staleVersion+1 {
		t.Fatalf("счет изменился при отказе CAS: %+v", got)
	}
}

// Отказ CAS внутри открытой транзакции откатывает ее целиком:
// ни изменения счета, ни новых строк журнала.
func TestConflictInsideTransactionRollsBack(t *testing.T) {
	db := newTestDB(t)
	c := newTestContract(t, db, 100000)
	acc, _ := CreateAccount(db, c, 500)
	if _, err := Deposit(db, acc.ID, models.Money{AmountCents: 100000, Currency: "USD"}, "pi_1"); err != nil {
		t.Fatalf("депозит: %v", err)
	}

	// Имитация гонки: пока транзакция выплаты держит свой снимок, другой
	// писатель двигает lock_version.
	err := db.Transaction(func(tx *gorm.DB) error {
		stale, err := lockAccount(tx, acc.ID)
		if err != nil {
			return err
		}
		stale.LockVersion--
		return applyAccountUpdate(tx, stale, map[string]interface{}{
			"held_amount_cents": int64(0),
		})
	})
	if kindOf(t, err) != models.KindConflict {
		t.Fatalf("ожидался Conflict, получено %v", err)
	}

	var got models.EscrowAccount
	db.First(&got, acc.ID)
	if got.HeldAmountCents != 100000 {
		t.Fatalf("остаток изменился: %d", got.HeldAmountCents)
	}
	var journal int64
	db.Model(&models.EscrowTransaction{}).Where("account_id = ?", acc.ID).Count(&journal)
	if journal != 1 {
		t.Fatalf("в журнале должен остаться только депозит, записей: %d", journal)
	}
}
