// FILE: dozyr-core/internal/routes/router.go
package routes

import (
	"dozyr-core/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes инициализирует все маршруты приложения.
func SetupRoutes(r *gin.Engine) {
	// --- Публичные маршруты ---
	// Регистрация, вход и метрики не требуют аутентификации.
	RegisterAuthRoutes(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// --- Защищенная группа маршрутов ---
	// Middleware `AuthMiddleware` проверяет JWT и кладет субъекта в контекст.
	authRequired := r.Group("/")
	authRequired.Use(middleware.AuthMiddleware())
	{
		RegisterAPIRoutes(authRequired)
	}
}
