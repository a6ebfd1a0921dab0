// FILE: dozyr-core/config/settings.go
package config

import (
	"log/slog"
	"os"
	"strconv"
)

// JwtKey - секрет для подписи JWT токенов. Читается один раз при старте.
var JwtKey []byte

// DefaultFeeRateBps - комиссия платформы по умолчанию: 500 б.п. = 5%.
// Ставка хранится в базисных пунктах, чтобы расчеты в леджере
// никогда не использовали числа с плавающей точкой.
const DefaultFeeRateBps = 500

var feeRateBps int64 = DefaultFeeRateBps

func LoadSettings() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		slog.Error("Критическая ошибка: переменная окружения JWT_SECRET не установлена.")
		os.Exit(1)
	}
	JwtKey = []byte(secret)

	if raw := os.Getenv("ESCROW_FEE_BPS"); raw != "" {
		bps, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || bps < 0 || bps > 10000 {
			slog.Error("Недопустимое значение ESCROW_FEE_BPS, ожидается целое 0..10000", "value", raw)
			os.Exit(1)
		}
		feeRateBps = bps
	}

	slog.Info("Настройки загружены", "fee_rate_bps", feeRateBps)
}

// FeeRateBps возвращает текущую ставку комиссии платформы в базисных пунктах.
func FeeRateBps() int64 {
	return feeRateBps
}
