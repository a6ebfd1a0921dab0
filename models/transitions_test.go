// FILE: dozyr-core/models/transitions_test.go
package models

import (
	"errors"
	"testing"
	"time"
)

func TestContractTransitionTable(t *testing.T) {
	allowed := []struct {
		from   ContractStatus
		action ContractAction
		want   ContractStatus
	}{
		{ContractDraft, ContractActionSend, ContractSent},
		{ContractSent, ContractActionAccept, ContractAccepted},
		{ContractSent, ContractActionDecline, ContractDeclined},
		{ContractAccepted, ContractActionActivate, ContractActive},
		{ContractAccepted, ContractActionCancel, ContractCancelled},
		{ContractActive, ContractActionComplete, ContractCompleted},
		{ContractActive, ContractActionCancel, ContractCancelled},
	}
	for _, tc := range allowed {
		got, err := NextContractStatus(tc.from, tc.action)
		if err != nil {
			t.Errorf("%s + %s: неожиданная ошибка %v", tc.from, tc.action, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s + %s: ожидалось %s, получено %s", tc.from, tc.action, tc.want, got)
		}
	}

	// Терминальные статусы не допускают никаких действий.
	terminal := []ContractStatus{ContractDeclined, ContractCompleted, ContractCancelled}
	actions := []ContractAction{
		ContractActionSend, ContractActionAccept, ContractActionDecline,
		ContractActionActivate, ContractActionComplete, ContractActionCancel,
	}
	for _, from := range terminal {
		for _, action := range actions {
			if _, err := NextContractStatus(from, action); err == nil {
				t.Errorf("%s + %s: переход из терминального статуса должен отклоняться", from, action)
			}
		}
	}
}

// Из фиксированного статуса один и тот же запрещенный переход
// всегда дает одну и ту же типизированную ошибку.
func TestContractTransitionDeterminism(t *testing.T) {
	for i := 0; i < 3; i++ {
		_, err := NextContractStatus(ContractDraft, ContractActionComplete)
		var de *DomainError
		if !errors.As(err, &de) || de.Kind != KindInvalidContractTransition {
			t.Fatalf("ожидался kind InvalidContractTransition, получено %v", err)
		}
	}
}

func TestMilestoneTransitionTable(t *testing.T) {
	allowed := []struct {
		from   MilestoneStatus
		action MilestoneAction
		want   MilestoneStatus
	}{
		{MilestonePending, MilestoneActionStart, MilestoneInProgress},
		{MilestoneInProgress, MilestoneActionSubmit, MilestoneSubmitted},
		{MilestoneSubmitted, MilestoneActionApprove, MilestoneApproved},
		{MilestoneSubmitted, MilestoneActionRequestRevision, MilestoneInProgress},
		{MilestoneApproved, MilestoneActionMarkPaid, MilestonePaid},
	}
	for _, tc := range allowed {
		got, err := NextMilestoneStatus(tc.from, tc.action)
		if err != nil {
			t.Errorf("%s + %s: неожиданная ошибка %v", tc.from, tc.action, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s + %s: ожидалось %s, получено %s", tc.from, tc.action, tc.want, got)
		}
	}

	denied := []struct {
		from   MilestoneStatus
		action MilestoneAction
	}{
		{MilestonePending, MilestoneActionSubmit},
		{MilestonePending, MilestoneActionApprove},
		{MilestoneInProgress, MilestoneActionApprove},
		{MilestoneInProgress, MilestoneActionStart},
		{MilestoneSubmitted, MilestoneActionSubmit},
		{MilestoneApproved, MilestoneActionRequestRevision},
		{MilestonePaid, MilestoneActionStart},
		{MilestonePaid, MilestoneActionMarkPaid},
	}
	for _, tc := range denied {
		_, err := NextMilestoneStatus(tc.from, tc.action)
		var de *DomainError
		if !errors.As(err, &de) || de.Kind != KindInvalidMilestoneTransition {
			t.Errorf("%s + %s: ожидался kind InvalidMilestoneTransition, получено %v", tc.from, tc.action, err)
		}
	}
}

func TestValidateMilestoneSum(t *testing.T) {
	c := Contract{
		TotalAmountCents: 100000,
		Currency:         "USD",
		PaymentType:      PaymentMilestone,
	}
	good := []Milestone{
		{AmountCents: 40000, Currency: "USD"},
		{AmountCents: 60000, Currency: "USD"},
	}
	if err := c.ValidateMilestoneSum(good); err != nil {
		t.Fatalf("суммы сходятся, ошибка не ожидалась: %v", err)
	}

	bad := []Milestone{{AmountCents: 40000, Currency: "USD"}}
	err := c.ValidateMilestoneSum(bad)
	var de *DomainError
	if !errors.As(err, &de) || de.Kind != KindMilestoneSumMismatch {
		t.Fatalf("ожидался kind MilestoneSumMismatch, получено %v", err)
	}

	// Для fixed-договора суммы этапов не проверяются.
	c.PaymentType = PaymentFixed
	if err := c.ValidateMilestoneSum(bad); err != nil {
		t.Fatalf("для fixed проверка не применяется: %v", err)
	}
}

func TestValidateDates(t *testing.T) {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)
	c := Contract{StartDate: &start, EndDate: &end}

	err := c.ValidateDates()
	var de *DomainError
	if !errors.As(err, &de) || de.Kind != KindInvalidInput {
		t.Fatalf("ожидался InvalidInput, получено %v", err)
	}

	end = start.AddDate(0, 1, 0)
	c.EndDate = &end
	if err := c.ValidateDates(); err != nil {
		t.Fatalf("корректный порядок дат: %v", err)
	}
}
