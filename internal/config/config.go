package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	Paystack       PaystackConfig
	Reconciliation ReconciliationConfig
	Features       FeatureFlags
	Log            LogConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
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
	Brokers     []string
	OrdersTopic string
}

// PaystackConfig configures the payment gateway adapter.
type PaystackConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	Currency      string
	CallbackURL   string
	// VerifyRetries bounds retries of charge verification. Initialization is never retried.
	VerifyRetries   int
	ConfirmWebhooks bool
}

// ReconciliationConfig controls the sweep that re-verifies orders still awaiting payment.
type ReconciliationConfig struct {
	Interval  time.Duration
	MinAge    time.Duration
	BatchSize int
}

type FeatureFlags struct {
	EnableOrderCaching   bool
	EnableOrderEvents    bool
	EnableReconciliation bool
}

type LogConfig struct {
	Level    string
	Encoding string
}

// Load reads configuration from the environment. A .env file (or the file
// named by DOTENV_PATH) is loaded first when present; variables already set
// in the environment take precedence.
func Load() *Config {
	loadDotEnv()

	frontendURL := getEnvString("FRONTEND_URL", "https://fosten-e-commerce-frontend.vercel.app")
	secretKey := getEnvString("PAYSTACK_SECRET_KEY", "")

	return &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 8082),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:         getEnvString("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 5432),
			User:         getEnvString("DB_USER", "fosten"),
			Password:     getEnvString("DB_PASSWORD", "fosten"),
			Name:         getEnvString("DB_NAME", "fosten_orders"),
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
			TTL:      getEnvDuration("REDIS_ORDER_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			OrdersTopic: getEnvString("KAFKA_ORDERS_TOPIC", "orders.events"),
		},
		Paystack: PaystackConfig{
			BaseURL:         getEnvString("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			SecretKey:       secretKey,
			WebhookSecret:   getEnvString("PAYSTACK_WEBHOOK_SECRET", secretKey),
			Timeout:         getEnvDuration("PAYSTACK_TIMEOUT", 15*time.Second),
			Currency:        getEnvString("PAYSTACK_CURRENCY", "GHS"),
			CallbackURL:     getEnvString("PAYSTACK_CALLBACK_URL", strings.TrimRight(frontendURL, "/")+"/order-success"),
			VerifyRetries:   getEnvInt("PAYSTACK_VERIFY_RETRIES", 3),
			ConfirmWebhooks: getEnvBool("PAYSTACK_CONFIRM_WEBHOOKS", true),
		},
		Reconciliation: ReconciliationConfig{
			Interval:  getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
			MinAge:    getEnvDuration("RECONCILE_MIN_AGE", 10*time.Minute),
			BatchSize: getEnvInt("RECONCILE_BATCH_SIZE", 50),
		},
		Features: FeatureFlags{
			EnableOrderCaching:   getEnvBool("FEATURE_ORDER_CACHING", true),
			EnableOrderEvents:    getEnvBool("FEATURE_ORDER_EVENTS", true),
			EnableReconciliation: getEnvBool("FEATURE_RECONCILIATION", true),
		},
		Log: LogConfig{
			Level:    getEnvString("LOG_LEVEL", "info"),
			Encoding: getEnvString("LOG_ENCODING", "json"),
		},
	}
}

func loadDotEnv() {
	path := getEnvString("DOTENV_PATH", ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	// Load never overrides variables that are already set.
	_ = godotenv.Load(path)
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

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
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
