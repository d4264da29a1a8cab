package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var (
	MongoURI     string
	DatabaseName string
	Port         string
	JWTSecret    string
	LogLevel     string

	GeminiAPIKey string
	GeminiModel  string

	AWSRegion     string
	AWSBucketName string

	RedisAddr      string
	NatsURL        string
	SendGridAPIKey string
	MetricsEnabled bool

	// Provider selects the personalization backend: "gemini" or "remote".
	ProviderName    string
	ProviderBaseURL string
	ProviderAPIKey  string

	ImageCost        int64
	VideoCost        int64
	PollInterval     time.Duration
	ImageMaxAttempts int
	VideoMaxAttempts int

	// PreferredSourcePattern marks result media coming from the rendering
	// backend whose output is shown first.
	PreferredSourcePattern string
)

// LoadConfig loads environment variables from .env file
func LoadConfig() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using default values or system environment variables")
	}

	MongoURI = getEnv("MONGO_URI", "mongodb://localhost:27017/")
	DatabaseName = getEnv("MONGO_DATABASE", "fitly")
	Port = getEnv("PORT", "8080")
	JWTSecret = os.Getenv("JWT_SECRET")
	LogLevel = getEnv("LOG_LEVEL", "info")

	GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	GeminiModel = getEnv("GEMINI_MODEL", "gemini-3-pro-image-preview")

	AWSRegion = getEnv("AWS_REGION", "ap-south-1")
	AWSBucketName = os.Getenv("AWS_BUCKET_NAME")

	// Optional: an empty address disables the matching integration.
	RedisAddr = os.Getenv("REDIS_ADDR")
	NatsURL = os.Getenv("NATS_URL")
	SendGridAPIKey = os.Getenv("SENDGRID_API_KEY")
	MetricsEnabled = getEnvBool("METRICS_ENABLED", true)

	ProviderName = getEnv("TRYON_PROVIDER", "gemini")
	ProviderBaseURL = os.Getenv("TRYON_PROVIDER_URL")
	ProviderAPIKey = os.Getenv("TRYON_PROVIDER_API_KEY")

	ImageCost = int64(getEnvInt("TRYON_IMAGE_COST", 25))
	VideoCost = int64(getEnvInt("TRYON_VIDEO_COST", 60))
	PollInterval = getEnvDuration("TRYON_POLL_INTERVAL", 5*time.Second)
	ImageMaxAttempts = getEnvInt("TRYON_IMAGE_MAX_ATTEMPTS", 60)
	VideoMaxAttempts = getEnvInt("TRYON_VIDEO_MAX_ATTEMPTS", 120)

	PreferredSourcePattern = getEnv("TRYON_PREFERRED_SOURCE", "fal.media")
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
