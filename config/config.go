package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"leadpulse/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	From     string `json:"from"`
	FromName string `json:"from_name"`
}

// ProviderConfig points at one outbound messaging provider's HTTP API.
type ProviderConfig struct {
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"-"`
	FromNumber string `json:"from_number,omitempty"`
}

type Config struct {
	Environment string `json:"environment"`
	ServerPort  string `json:"server_port"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	JWTSecret       string      `json:"-"`
	SentryDSN       string      `json:"-"`
	TrackingBaseURL string      `json:"tracking_base_url"`
	Redis           RedisConfig `json:"redis"`

	SMTP SMTPConfig     `json:"smtp"`
	SMS  ProviderConfig `json:"sms"`
	Call ProviderConfig `json:"call"`
	Push ProviderConfig `json:"push"`

	RateLimitIntake      int `json:"rate_limit_intake"`
	QueueIntervalSeconds int `json:"queue_interval_seconds"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
	WorkerCount          int `json:"worker_count"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "leadpulse"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		JWTSecret:       getEnv("JWT_SECRET", ""),
		SentryDSN:       getEnv("SENTRY_DSN", ""),
		TrackingBaseURL: getEnv("TRACKING_BASE_URL", ""),
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ADDRESS", "") != "",
			Address:  getEnv("REDIS_ADDRESS", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "outreach@leadpulse.local"),
			FromName: getEnv("SMTP_FROM_NAME", "LeadPulse"),
		},
		SMS: ProviderConfig{
			BaseURL:    getEnv("SMS_PROVIDER_URL", ""),
			APIKey:     getEnv("SMS_PROVIDER_KEY", ""),
			FromNumber: getEnv("SMS_FROM_NUMBER", ""),
		},
		Call: ProviderConfig{
			BaseURL:    getEnv("CALL_PROVIDER_URL", ""),
			APIKey:     getEnv("CALL_PROVIDER_KEY", ""),
			FromNumber: getEnv("CALL_FROM_NUMBER", ""),
		},
		Push: ProviderConfig{
			BaseURL: getEnv("PUSH_PROVIDER_URL", ""),
			APIKey:  getEnv("PUSH_PROVIDER_KEY", ""),
		},

		RateLimitIntake:      getEnvAsInt("RATE_LIMIT_INTAKE", 60),
		QueueIntervalSeconds: getEnvAsInt("QUEUE_INTERVAL_SECONDS", 60),
		SweepIntervalSeconds: getEnvAsInt("SWEEP_INTERVAL_SECONDS", 300),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 4),
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if AppConfig.Environment == "production" {
		if AppConfig.SMS.BaseURL == "" || AppConfig.Call.BaseURL == "" || AppConfig.Push.BaseURL == "" {
			return fmt.Errorf("SMS, call, and push provider URLs are required in production")
		}
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := migrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		log.Printf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Providers: SMS(%t), Call(%t), Push(%t)",
		AppConfig.SMS.BaseURL != "",
		AppConfig.Call.BaseURL != "",
		AppConfig.Push.BaseURL != "")
}

func migrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Lead{},
		&models.Conversion{},
		&models.Campaign{},
		&models.CampaignLead{},
		&models.Script{},
		&models.ABTest{},
		&models.ABVariant{},
		&models.ContactAttempt{},
		&models.WebhookEvent{},
		&models.RetentionSequence{},
		&models.SequenceStep{},
		&models.SequenceEnrollment{},
		&models.SequenceStepExecution{},
	)
}
