// FILE: dozyr-core/config/database.go

package config

import (
	"log/slog"
	"os"

	"dozyr-core/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func ConnectDB() {
	dsn := os.Getenv("DB_URL")
	if dsn == "" {
		// Используем логгер для критической ошибки
		slog.Error("Критическая ошибка: переменная окружения DB_URL не установлена.")
		os.Exit(1)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		slog.Error("Ошибка подключения к БД", "error", err)
		os.Exit(1)
	}

	DB = db
	slog.Info("Успешное подключение к базе данных!")
}

// MigrateDB выполняет автомиграцию всех моделей ядра.
// Порядок важен: сначала справочные сущности, затем договоры и эскроу.
func MigrateDB() {
	err := DB.AutoMigrate(
		&models.User{},
		&models.Job{},
		&models.Contract{},
		&models.Milestone{},
		&models.EscrowAccount{},
		&models.EscrowTransaction{},
	)
	if err != nil {
		slog.Error("Ошибка автомиграции схемы БД", "error", err)
		os.Exit(1)
	}
	slog.Info("Миграция схемы БД завершена")
}
