package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the service reads from the environment so main
// stays lean.
type Config struct {
	Addr          string
	PostgresDSN   string
	Redis         RedisConfig
	Kafka         KafkaConfig
	Collaborators CollaboratorConfig
	JWTSigningKey string

	// Sevdeir is the external registry bridge; when disabled the mock
	// provider serves deterministic data.
	SevdeirEnabled            bool
	SendTimeout               time.Duration
	ApplicationExpirationDays int
	// PublicServiceLinkWindowDays bounds how old a finished application may
	// be and still satisfy a public-service linkage check. Kept separate
	// from ApplicationExpirationDays on purpose.
	PublicServiceLinkWindowDays int
	CheckBatchSize              int
	CheckInterval               time.Duration

	// DateFormat is the client-facing date layout.
	DateFormat string
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// CollaboratorConfig holds the base URLs of the external collaborator
// services, one per port.
type CollaboratorConfig struct {
	AddressURL   string
	DocumentsURL string
	UsersURL     string
	NotifierURL  string
	CatalogURL   string
	RatingURL    string
	CryptoURL    string
}

type KafkaConfig struct {
	Brokers []string
	// Topics used by the service; created at startup when missing.
	TasksTopic          string
	EventsTopic         string
	SevdeirRequestTopic map[string]string
	SevdeirReplyTopic   string
	ConsumerGroup       string
}

// FromEnv builds a Config from environment variables with development
// defaults.
func FromEnv() Config {
	return Config{
		Addr:          envStr("CRCERT_ADDR", ":8080"),
		PostgresDSN:   envStr("POSTGRES_DSN", ""),
		JWTSigningKey: envStr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Redis: RedisConfig{
			URL:          envStr("REDIS_URL", ""),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:           envList("KAFKA_BROKERS", "localhost:9092"),
			TasksTopic:        envStr("KAFKA_TASKS_TOPIC", "crcert.tasks"),
			EventsTopic:       envStr("KAFKA_EVENTS_TOPIC", "crcert.events"),
			SevdeirReplyTopic: envStr("KAFKA_SEVDEIR_REPLY_TOPIC", "crcert.sevdeir.replies"),
			SevdeirRequestTopic: map[string]string{
				"order":        envStr("KAFKA_SEVDEIR_ORDER_TOPIC", "sevdeir.cert.order"),
				"download":     envStr("KAFKA_SEVDEIR_DOWNLOAD_TOPIC", "sevdeir.cert.download"),
				"order-result": envStr("KAFKA_SEVDEIR_ORDER_RESULT_TOPIC", "sevdeir.cert.order-result"),
			},
			ConsumerGroup: envStr("KAFKA_CONSUMER_GROUP", "crcert"),
		},
		Collaborators: CollaboratorConfig{
			AddressURL:   envStr("ADDRESS_SERVICE_URL", "http://localhost:8081"),
			DocumentsURL: envStr("DOCUMENTS_SERVICE_URL", "http://localhost:8082"),
			UsersURL:     envStr("USERS_SERVICE_URL", "http://localhost:8083"),
			NotifierURL:  envStr("NOTIFIER_SERVICE_URL", "http://localhost:8084"),
			CatalogURL:   envStr("CATALOG_SERVICE_URL", "http://localhost:8085"),
			RatingURL:    envStr("RATING_SERVICE_URL", "http://localhost:8086"),
			CryptoURL:    envStr("CRYPTO_SERVICE_URL", "http://localhost:8087"),
		},
		SevdeirEnabled:              envBool("SEVDEIR_IS_ENABLED", false),
		SendTimeout:                 envDuration("SEVDEIR_SEND_TIMEOUT", 30*time.Second),
		ApplicationExpirationDays:   envInt("APPLICATION_EXPIRATION_DAYS", 30),
		PublicServiceLinkWindowDays: envInt("PUBLIC_SERVICE_LINK_WINDOW_DAYS", 30),
		CheckBatchSize:              envInt("APPLICATION_CHECK_BATCH_SIZE", 100),
		CheckInterval:               envDuration("APPLICATION_CHECK_INTERVAL", time.Minute),
		DateFormat:                  "02.01.2006",
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true"
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key, fallback string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
