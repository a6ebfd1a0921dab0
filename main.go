// FILE: dozyr-core/main.go
package main

import (
	"log/slog"
	"os"

	"dozyr-core/config"
	"dozyr-core/internal/routes"

	"github.com/gin-gonic/gin"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	config.LoadSettings()
	config.ConnectDB()
	config.MigrateDB()
	config.ConnectRedis()

	r := gin.Default()
	routes.SetupRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	slog.Info("Сервер запускается", "port", port)
	if err := r.Run(":" + port); err != nil {
		slog.Error("Сервер остановлен с ошибкой", "error", err)
		os.Exit(1)
	}
}
