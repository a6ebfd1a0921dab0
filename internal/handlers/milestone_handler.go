// FILE: dozyr-core/internal/handlers/milestone_handler.go
package handlers

import (
	"net/http"

	"dozyr-core/config"
	"dozyr-core/internal/workflow"
	"dozyr-core/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type milestoneNotesRequest struct {
	Notes string `json:"notes"`
}

func milestoneParams(c *gin.Context) (contractID, milestoneID uint, ok bool) {
	contractID, ok = parseIDParam(c, "id")
	if !ok {
		return 0, 0, false
	}
	milestoneID, ok = parseIDParam(c, "mid")
	if !ok {
		return 0, 0, false
	}
	return contractID, milestoneID, true
}

// AddMilestoneHandler добавляет этап к черновику договора.
func AddMilestoneHandler(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	contractID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var input workflow.MilestoneInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверные данные: " + err.Error()})
		return
	}
	milestone, err := workflow.AddMilestone(config.DB, p, contractID, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, milestone)
}

// StartMilestoneHandler - исполнитель берет этап в работу.
func StartMilestoneHandler(c *gin.Context) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	contractID, milestoneID, ok := milestoneParams(c)
	if !ok {
		return
	}
	milestone, err := workflow.StartMilestone(config.DB, p, contractID, milestoneID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, milestone)
}

// SubmitMilestoneHandler - исполнитель сдает этап на проверку.
func SubmitMilestoneHandler(c *gin.Context) {
	notesHandler(c, workflow.SubmitMilestone)
}

// ApproveMilestoneHandler - менеджер утверждает сданный этап.
// Выплата при этом не происходит: деньги двигает только release.
func ApproveMilestoneHandler(c *gin.Context) {
	notesHandler(c, workflow.ApproveMilestone)
}

// RequestRevisionHandler - менеджер возвращает этап на доработку.
func RequestRevisionHandler(c *gin.Context) {
	notesHandler(c, workflow.RequestRevision)
}

func notesHandler(c *gin.Context, op func(db *gorm.DB, p workflow.Principal, contractID, milestoneID uint, notes string) (*models.Milestone, error)) {
	p, ok := principalFromContext(c)
	if !ok {
		return
	}
	contractID, milestoneID, ok := milestoneParams(c)
	if !ok {
		return
	}
	var req milestoneNotesRequest
	// Тело с заметками необязательно.
	_ = c.ShouldBindJSON(&req)

	milestone, err := op(config.DB, p, contractID, milestoneID, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, milestone)
}
