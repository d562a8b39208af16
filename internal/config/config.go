package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
)

// Config holds application configuration
type Config struct {
	Port          string
	DBConn        string
	LogLevel      string
	JWTSecret     string
	JWTExpMinutes int
	EncryptionKey []byte // raw AES key, 16/24/32 bytes
	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	SenderEmail   string
}

// NewConfig loads configuration from environment variables. The AES key is
// supplied base64-encoded in ENCRYPTION_KEY_BASE64 and must decode to 16, 24
// or 32 bytes; no encryption happens without a validated key.
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		DBConn:       getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=bank sslmode=disable"),
		LogLevel:     getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:    getEnv("JWT_SECRET", "secret"),
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SenderEmail:  getEnv("SENDER_EMAIL", "noreply@bank-cards.local"),
	}

	expMinutes, err := strconv.Atoi(getEnv("JWT_EXP_MIN", "60"))
	if err != nil || expMinutes <= 0 {
		return nil, fmt.Errorf("JWT_EXP_MIN must be a positive integer")
	}
	cfg.JWTExpMinutes = expMinutes

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	keyB64 := getEnv("ENCRYPTION_KEY_BASE64", "")
	if keyB64 == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY_BASE64 is required: provide base64 of 16/24/32 bytes")
	}
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY_BASE64 is not valid base64: %w", err)
	}
	if l := len(key); l != 16 && l != 24 && l != 32 {
		return nil, fmt.Errorf("invalid AES key length: %d bytes (need 16/24/32)", l)
	}
	cfg.EncryptionKey = key

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
