package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// DBDSN vacío => ledger in-memory (modo dev).
	DBDSN string

	// Identity provider. JWTSecret tiene prioridad sobre Odin.
	JWTSecret   string
	OdinBaseURL string
	OdinAPIKey  string

	// GrantTTL 0 => grants sin vencimiento.
	GrantTTL          time.Duration
	ReadTimeout       time.Duration
	DirectoryCacheTTL time.Duration

	// ProofDBPath vacío => cadena de pruebas en memoria.
	ProofDBPath string

	// RecordsBaseURL vacío => sin chequeo de existencia de records al aprobar.
	RecordsBaseURL string
	RecordsAPIKey  string

	EnableWebsocket bool

	KafkaBrokers []string
	KafkaTopic   string
	SQSQueueURL  string

	// EnvFileLoaded indica si se encontró un .env.
	EnvFileLoaded bool
}

func Load() *Config {
	loaded := godotenv.Load() == nil

	return &Config{
		Port: getEnv("PORT", "8080"),

		DBDSN: getEnv("DB_DSN", ""),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		OdinBaseURL: getEnv("ODIN_BASE_URL", ""),
		OdinAPIKey:  getEnv("ODIN_API_KEY", ""),

		GrantTTL:          getDurationEnv("GRANT_TTL", 30*24*time.Hour),
		ReadTimeout:       getDurationEnv("READ_TIMEOUT", 3*time.Second),
		DirectoryCacheTTL: getDurationEnv("DIRECTORY_CACHE_TTL", 5*time.Minute),

		ProofDBPath: getEnv("PROOF_DB_PATH", ""),

		RecordsBaseURL: getEnv("RECORDS_BASE_URL", ""),
		RecordsAPIKey:  getEnv("RECORDS_API_KEY", ""),

		EnableWebsocket: getBoolEnv("ENABLE_WEBSOCKET", true),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "access-events"),
		SQSQueueURL:  getEnv("SQS_QUEUE_URL", ""),

		EnvFileLoaded: loaded,
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getBoolEnv(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return boolValue
}

// getDurationEnv acepta "720h", "3s" o "0" (= deshabilitado).
func getDurationEnv(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if value == "0" {
		return 0
	}

	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func getStringSliceEnv(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}

	out := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
