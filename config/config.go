package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	LogLevel string
	Paths    PathConfig
	Database DatabaseConfig
	AWS      AWSConfig
	Market   BinanceMarketConfig
	Discord  DiscordConfig
	Metrics  MetricsConfig
}

// PathConfig holds the directories the research tasks read and write.
type PathConfig struct {
	ModelDir string
	CacheDir string
	ChartDir string
}

type DatabaseConfig struct {
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	SSLMode    string
	// SecretID names an AWS Secrets Manager secret holding the password.
	SecretID string
}

type AWSConfig struct {
	Region         string
	ArtifactBucket string
	EpochQueueURL  string
}

type BinanceMarketConfig struct {
	ApiKey    string
	ApiSecret string
}

type DiscordConfig struct {
	ChartWebhookURL string
}

type MetricsConfig struct {
	PushgatewayURL string
	Job            string
}

// LoadConfig reads .env (when present) and then the process environment.
func LoadConfig() *AppConfig {
	_ = godotenv.Load()

	root := getEnv("RESEARCH_ROOT", ".")
	return &AppConfig{
		LogLevel: getEnv("LOG_LEVEL", "debug"),
		Paths: PathConfig{
			ModelDir: getEnv("MODEL_DIR", filepath.Join(root, "models")),
			CacheDir: getEnv("CACHE_DIR", filepath.Join(root, "cache")),
			ChartDir: getEnv("CHART_DIR", filepath.Join(root, "charts")),
		},
		Database: DatabaseConfig{
			DBHost:     getEnv("DB_HOST", "localhost"),
			DBPort:     getEnvAsInt("DB_PORT", 5432),
			DBUser:     getEnv("DB_USER", ""),
			DBPassword: getEnv("DB_PASSWORD", ""),
			DBName:     getEnv("DB_NAME", ""),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SecretID:   getEnv("DB_SECRET_ID", ""),
		},
		AWS: AWSConfig{
			Region:         getEnv("AWS_REGION", "ap-southeast-1"),
			ArtifactBucket: getEnv("ARTIFACT_BUCKET", ""),
			EpochQueueURL:  getEnv("EPOCH_QUEUE_URL", ""),
		},
		Market: BinanceMarketConfig{
			ApiKey:    getEnv("BINANCE_API_KEY", ""),
			ApiSecret: getEnv("BINANCE_API_SECRET", ""),
		},
		Discord: DiscordConfig{
			ChartWebhookURL: getEnv("DISCORD_CHART_WEBHOOK_URL", ""),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: getEnv("PUSHGATEWAY_URL", ""),
			Job:            getEnv("PUSHGATEWAY_JOB", "lstm_research"),
		},
	}
}

// ConnString builds the postgres URL used by both pgx and gorm.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.DBUser, d.DBPassword, d.DBHost, d.DBPort, d.DBName, d.SSLMode)
}

// Configured reports whether enough is set to attempt a connection.
func (d DatabaseConfig) Configured() bool {
	return d.DBName != "" && d.DBUser != ""
}

// EnsureDirs creates the model, cache and chart directories.
func (p PathConfig) EnsureDirs() error {
	for _, dir := range []string{p.ModelDir, p.CacheDir, p.ChartDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return fallback
}
