// FILE: dozyr-core/internal/routes/api_routes.go
package routes

import (
	"dozyr-core/internal/handlers"
	"dozyr-core/internal/middleware"
	"dozyr-core/models"

	"github.com/gin-gonic/gin"
)

// RegisterAPIRoutes регистрирует все маршруты API, требующие аутентификации.
func RegisterAPIRoutes(api *gin.RouterGroup) {
	apiGroup := api.Group("/api")
	{
		// --- ДОГОВОРЫ ---
		contracts := apiGroup.Group("/contracts")
		{
			contracts.POST("", middleware.RoleMiddleware(models.RoleManager), handlers.CreateContractHandler)
			contracts.GET("", handlers.ListContractsHandler)
			contracts.GET("/:id", handlers.GetContractHandler)
			contracts.PUT("/:id", middleware.RoleMiddleware(models.RoleManager), handlers.UpdateContractHandler)
			contracts.DELETE("/:id", middleware.RoleMiddleware(models.RoleManager), handlers.DeleteContractHandler)

			// Жизненный цикл договора. Принадлежность к договору проверяет оркестратор.
			contracts.POST("/:id/send", middleware.RoleMiddleware(models.RoleManager), handlers.SendContractHandler)
			contracts.POST("/:id/accept", middleware.RoleMiddleware(models.RoleTalent), handlers.AcceptContractHandler)
			contracts.POST("/:id/decline", middleware.RoleMiddleware(models.RoleTalent), handlers.DeclineContractHandler)
			contracts.POST("/:id/complete", middleware.RoleMiddleware(models.RoleManager), handlers.CompleteContractHandler)
			contracts.POST("/:id/cancel", handlers.CancelContractHandler)

			// --- ЭТАПЫ ---
			contracts.POST("/:id/milestones", middleware.RoleMiddleware(models.RoleManager), handlers.AddMilestoneHandler)
			contracts.POST("/:id/milestones/:mid/start", middleware.RoleMiddleware(models.RoleTalent), handlers.StartMilestoneHandler)
			contracts.POST("/:id/milestones/:mid/submit", middleware.RoleMiddleware(models.RoleTalent), handlers.SubmitMilestoneHandler)
			contracts.POST("/:id/milestones/:mid/approve", middleware.RoleMiddleware(models.RoleManager), handlers.ApproveMilestoneHandler)
			contracts.POST("/:id/milestones/:mid/request-revision", middleware.RoleMiddleware(models.RoleManager), handlers.RequestRevisionHandler)
		}

		// --- ЭСКРОУ ---
		escrow := apiGroup.Group("/escrow")
		{
			escrow.POST("/fund", middleware.RoleMiddleware(models.RoleManager), handlers.FundEscrowHandler)
			escrow.POST("/release", middleware.RoleMiddleware(models.RoleManager), handlers.ReleaseHandler)
			escrow.POST("/refund", middleware.RoleMiddleware(models.RoleManager), handlers.RefundHandler)
			escrow.GET("/contract/:id", handlers.GetEscrowHandler)

			// Споры: открыть может любая сторона, закрыть - только админ.
			escrow.POST("/contract/:id/dispute", handlers.DisputeHandler)
			escrow.POST("/contract/:id/resolve", middleware.RoleMiddleware(models.RoleAdmin), handlers.ResolveDisputeHandler)
		}
	}
}
