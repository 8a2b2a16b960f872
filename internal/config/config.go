package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server              ServerConfig
	Storage             StorageConfig
	Database            DatabaseConfig
	Redis               RedisConfig
	Kafka               KafkaConfig
	Gateway             GatewayConfig
	MembershipService   ServiceConfig
	NotificationService ServiceConfig
	Notifications       NotificationConfig
	Pricing             PricingConfig
	Features            FeatureFlags
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// StorageConfig selects the order store. "postgres" is the production driver;
// "memory" keeps everything in process and is meant for local runs.
type StorageConfig struct {
	Driver string
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	AutoMigrate  bool
}

func (d DatabaseConfig) ConnectionString() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

type KafkaConfig struct {
	Brokers        []string
	OrdersTopic    string
	CallbacksTopic string
	ConsumerGroup  string
	DedupTTL       time.Duration
}

// GatewayConfig holds the payment provider credentials. KeySecret doubles as
// the HMAC key used to verify payment callbacks.
type GatewayConfig struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Currency  string
	Timeout   time.Duration
}

type ServiceConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type NotificationConfig struct {
	OwnerEmail string
	OwnerPhone string
	Timeout    time.Duration
}

type PricingConfig struct {
	ShippingFee    decimal.Decimal
	DraftTTL       time.Duration
	DefaultCountry string
}

type FeatureFlags struct {
	EnableHistoryCache     bool
	EnableOrderEvents      bool
	EnableCallbackConsumer bool
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 8084),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			Driver: getEnvString("STORAGE_DRIVER", "postgres"),
		},
		Database: DatabaseConfig{
			Host:         getEnvString("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 5432),
			User:         getEnvString("DB_USER", "acme"),
			Password:     getEnvString("DB_PASSWORD", "acme"),
			Name:         getEnvString("DB_NAME", "acme_checkout"),
			SSLMode:      getEnvString("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("REDIS_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:        getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			OrdersTopic:    getEnvString("KAFKA_ORDERS_TOPIC", "checkout.orders"),
			CallbacksTopic: getEnvString("KAFKA_CALLBACKS_TOPIC", "payments.callbacks"),
			ConsumerGroup:  getEnvString("KAFKA_CONSUMER_GROUP", "checkout-service"),
			DedupTTL:       getEnvDuration("KAFKA_DEDUP_TTL", 24*time.Hour),
		},
		Gateway: GatewayConfig{
			BaseURL:   getEnvString("GATEWAY_BASE_URL", "https://api.razorpay.com"),
			KeyID:     getEnvString("GATEWAY_KEY_ID", ""),
			KeySecret: getEnvString("GATEWAY_KEY_SECRET", ""),
			Currency:  getEnvString("GATEWAY_CURRENCY", "INR"),
			Timeout:   getEnvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		},
		MembershipService: ServiceConfig{
			BaseURL: getEnvString("MEMBERSHIP_SERVICE_URL", "http://localhost:8085"),
			APIKey:  getEnvString("MEMBERSHIP_SERVICE_API_KEY", ""),
			Timeout: getEnvDuration("MEMBERSHIP_SERVICE_TIMEOUT", 5*time.Second),
		},
		NotificationService: ServiceConfig{
			BaseURL: getEnvString("NOTIFICATION_SERVICE_URL", "http://localhost:8086"),
			APIKey:  getEnvString("NOTIFICATION_SERVICE_API_KEY", ""),
			Timeout: getEnvDuration("NOTIFICATION_SERVICE_TIMEOUT", 10*time.Second),
		},
		Notifications: NotificationConfig{
			OwnerEmail: getEnvString("STORE_OWNER_EMAIL", ""),
			OwnerPhone: getEnvString("STORE_OWNER_PHONE", ""),
			Timeout:    getEnvDuration("NOTIFICATION_TIMEOUT", 30*time.Second),
		},
		Pricing: PricingConfig{
			ShippingFee:    getEnvDecimal("PRICING_SHIPPING_FEE", decimal.NewFromInt(50)),
			DraftTTL:       getEnvDuration("PRICING_DRAFT_TTL", time.Hour),
			DefaultCountry: getEnvString("PRICING_DEFAULT_COUNTRY", "India"),
		},
		Features: FeatureFlags{
			EnableHistoryCache:     getEnvBool("FEATURE_HISTORY_CACHE", true),
			EnableOrderEvents:      getEnvBool("FEATURE_ORDER_EVENTS", true),
			EnableCallbackConsumer: getEnvBool("FEATURE_CALLBACK_CONSUMER", false),
		},
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("15s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	out := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
