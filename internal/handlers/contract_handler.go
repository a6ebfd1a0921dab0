// FILE: dozyr-core/internal/handlers/contract_handler.go
package handlers

import (
	"net/http"
	"strconv"

	"dozyr-core/config"
	"dozyr-core/internal/workflow"
	"dozyr-core/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный идентификатор в пути"})
		return 0, false
	}
	return uint(id), true
}

// CreateContractHandler обрабатывает создание черновика договора.
func CreateContractHandler(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	var input workflow.CreateContractInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверные данные: " + err.Error()})
		return
	}
	contract, err := workflow.CreateContract(config.DB, p, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contract)
}

// ListContractsHandler возвращает постраничный список договоров.
// Менеджер и талант видят только свои договоры, админ - все.
func ListContractsHandler(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}

	baseQuery := config.DB.Model(&models.Contract{})
	if !p.Admin() {
		baseQuery = baseQuery.Where("manager_id = ? OR talent_id = ?", p.UserID, p.UserID)
	}
	if status := c.Query("status"); status != "" {
		baseQuery = baseQuery.Where("status = ?", status)
	}

	var totalRows int64
	if err := baseQuery.Count(&totalRows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось посчитать договоры"})
		return
	}

	var contracts []models.Contract
	if err := baseQuery.
		Preload("Manager").Preload("Talent").
		Scopes(Paginate(c)).
		Order("created_at desc").
		Find(&contracts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Не удалось получить договоры"})
		return
	}

	c.JSON(http.StatusOK, CreatePaginatedResponse(c, contracts, totalRows))
}

// GetContractHandler возвращает договор с этапами и эскроу-счетом.
func GetContractHandler(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	contract, err := workflow.GetContract(config.DB, p, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// UpdateContractHandler редактирует черновик договора.
func UpdateContractHandler(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var input workflow.UpdateContractInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверные данные: " + err.Error()})
		return
	}
	contract, err := workflow.UpdateContract(config.DB, p, id, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

// DeleteContractHandler удаляет договор в draft/sent.
func DeleteContractHandler(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := workflow.DeleteContract(config.DB, p, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Договор удален"})
}

// SendContractHandler отправляет договор исполнителю.
func SendContractHandler(c *gin.Context) {
	lifecycleHandler(c, workflow.Send)
}

// AcceptContractHandler - исполнитель принимает договор.
func AcceptContractHandler(c *gin.Context) {
	lifecycleHandler(c, workflow.Accept)
}

// DeclineContractHandler - исполнитель отклоняет договор.
func DeclineContractHandler(c *gin.Context) {
	lifecycleHandler(c, workflow.Decline)
}

// CompleteContractHandler завершает активный договор.
func CompleteContractHandler(c *gin.Context) {
	lifecycleHandler(c, workflow.Complete)
}

// lifecycleHandler - общий код для действий над жизненным циклом без тела запроса.
func lifecycleHandler(c *gin.Context, op func(db *gorm.DB, p workflow.Principal, id uint) (*models.Contract, error)) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	contract, err := op(config.DB, p, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CancelContractHandler расторгает договор с возвратом остатка эскроу.
func CancelContractHandler(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Укажите причину расторжения"})
		return
	}
	contract, err := workflow.Cancel(config.DB, p, id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}
