// FILE: dozyr-core/internal/handlers/escrow_handler.go
package handlers

import (
	"net/http"

	"dozyr-core/config"
	"dozyr-core/internal/workflow"

	"github.com/gin-gonic/gin"
)

// FundEscrowRequest определяет структуру для пополнения эскроу.
type FundEscrowRequest struct {
	ContractID  uint   `json:"contractId" binding:"required"`
	AmountCents int64  `json:"amountCents" binding:"required"`
	SourceRef   string `json:"sourceRef"`
}

// ReleaseRequest - выплата по утвержденному этапу.
type ReleaseRequest struct {
	ContractID  uint `json:"contractId" binding:"required"`
	MilestoneID uint `json:"milestoneId" binding:"required"`
}

// RefundRequest - возврат средств плательщику.
type RefundRequest struct {
	ContractID  uint   `json:"contractId" binding:"required"`
	AmountCents int64  `json:"amountCents" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
}

// FundEscrowHandler пополняет эскроу-счет договора; принятый договор
// после первого депозита активируется.
func FundEscrowHandler(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req FundEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверные данные: " + err.Error()})
		return
	}
	contract, err := workflow.FundEscrow(config.DB, p, req.ContractID, req.AmountCents, req.SourceRef, config.FeeRateBps())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// ReleaseHandler проводит выплату по утвержденному этапу.
func ReleaseHandler(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверные данные: " + err.Error()})
		return
	}
	milestone, err := workflow.ReleaseMilestonePayment(config.DB, p, req.ContractID, req.MilestoneID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, milestone)
}

// RefundHandler возвращает часть удерживаемых средств плательщику.
func RefundHandler(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверные данные: " + err.Error()})
		return
	}
	entry, err := workflow.RefundEscrow(config.DB, p, req.ContractID, req.AmountCents, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// GetEscrowHandler возвращает счет договора с журналом транзакций.
func GetEscrowHandler(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	contractID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	account, err := workflow.GetEscrow(config.DB, p, contractID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// DisputeHandler - сторона договора открывает спор, счет замораживается.
func DisputeHandler(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	contractID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	account, err := workflow.MarkDisputed(config.DB, p, contractID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// ResolveDisputeHandler - администратор закрывает спор.
func ResolveDisputeHandler(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	contractID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	account, err := workflow.ResolveDispute(config.DB, p, contractID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}
