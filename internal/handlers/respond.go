// FILE: dozyr-core/internal/handlers/respond.go
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"dozyr-core/internal/workflow"
	"dozyr-core/models"

	"github.com/gin-gonic/gin"
)

// principalFromContext собирает субъекта запроса из контекста Gin,
// куда его положил AuthMiddleware.
func principalFromContext(c *gin.Context) (workflow.Principal, bool) {
	userID, okID := c.Get("user_id")
	role, okRole := c.Get("role")
	if !okID || !okRole {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return workflow.Principal{}, false
	}
	id, okID := userID.(uint)
	r, okRole := role.(models.Role)
	if !okID || !okRole {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid principal in context"})
		return workflow.Principal{}, false
	}
	return workflow.Principal{UserID: id, Role: r}, true
}

// respondError переводит доменную ошибку в HTTP-ответ со структурированным
// kind. Состояние при ошибке не меняется (операция уже откатилась),
// поэтому клиент может безопасно перечитать сущность и повторить запрос.
func respondError(c *gin.Context, err error) {
	var domainErr *models.DomainError
	if !errors.As(err, &domainErr) {
		slog.Error("Внутренняя ошибка обработчика", "error", err, "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Внутренняя ошибка сервера"})
		return
	}

	status := http.StatusBadRequest
	switch domainErr.Kind {
	case models.KindForbidden:
		status = http.StatusForbidden
	case models.KindNotFound:
		status = http.StatusNotFound
	case models.KindInvalidContractTransition, models.KindInvalidMilestoneTransition,
		models.KindInvalidStateForRefund, models.KindInvalidEscrowState,
		models.KindDuplicateEscrowAccount, models.KindIncompleteMilestones,
		models.KindConflict:
		status = http.StatusConflict
	case models.KindLedgerCorrupted:
		// Повреждение леджера - это баг, клиенту детали не раскрываем.
		slog.Error("Фатальная ошибка леджера", "error", domainErr, "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Внутренняя ошибка сервера", "kind": string(domainErr.Kind),
		})
		return
	}

	c.JSON(status, gin.H{"error": domainErr.Message, "kind": string(domainErr.Kind)})
}
