package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Authz         AuthzConfig
	Notifications NotificationsConfig
	SMTP          SMTPConfig
	Storage       StorageConfig
	Exports       ExportsConfig
	Attachments   AttachmentsConfig
	Replies       RepliesConfig
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
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AuthzConfig points at the external authorization service that holds
// protected resources, group policies and scope permissions.
type AuthzConfig struct {
	BaseURL          string
	Realm            string
	ClientID         string
	ClientSecret     string
	AdminPolicyName  string
	OwnerPolicyName  string
	UserPolicyName   string
	RequestTimeout   time.Duration
	PermittedUserTTL time.Duration
}

// NotificationsConfig tunes the post-commit notification dispatcher.
type NotificationsConfig struct {
	Enabled           bool
	StaticRecipients  []string
	WorkerConcurrency int
	WorkerRetries     int
	QueueBuffer       int
}

// SMTPConfig points at the outgoing mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// StorageConfig roots the on-disk file area shared by attachments and
// rendered exports.
type StorageConfig struct {
	BaseDir string
}

// ExportsConfig configures reply export rendering and download links.
type ExportsConfig struct {
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

// AttachmentsConfig controls temporary upload promotion.
type AttachmentsConfig struct {
	MaxFileSizeBytes int64
}

// RepliesConfig carries reply lifecycle tuning.
type RepliesConfig struct {
	OwnerKeySecret string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Authz = AuthzConfig{
		BaseURL:          v.GetString("AUTHZ_BASE_URL"),
		Realm:            v.GetString("AUTHZ_REALM"),
		ClientID:         v.GetString("AUTHZ_CLIENT_ID"),
		ClientSecret:     v.GetString("AUTHZ_CLIENT_SECRET"),
		AdminPolicyName:  v.GetString("AUTHZ_ADMIN_POLICY"),
		OwnerPolicyName:  v.GetString("AUTHZ_OWNER_POLICY"),
		UserPolicyName:   v.GetString("AUTHZ_USER_POLICY"),
		RequestTimeout:   parseDuration(v.GetString("AUTHZ_REQUEST_TIMEOUT"), 10*time.Second),
		PermittedUserTTL: parseDuration(v.GetString("AUTHZ_PERMITTED_USER_TTL"), time.Minute),
	}

	cfg.Notifications = NotificationsConfig{
		Enabled:           v.GetBool("ENABLE_NOTIFICATIONS"),
		StaticRecipients:  splitAndTrim(v.GetString("NOTIFICATION_STATIC_RECIPIENTS")),
		WorkerConcurrency: v.GetInt("NOTIFICATION_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("NOTIFICATION_WORKER_RETRIES"),
		QueueBuffer:       v.GetInt("NOTIFICATION_QUEUE_BUFFER"),
	}

	cfg.SMTP = SMTPConfig{
		Host:     v.GetString("SMTP_HOST"),
		Port:     v.GetInt("SMTP_PORT"),
		Username: v.GetString("SMTP_USERNAME"),
		Password: v.GetString("SMTP_PASSWORD"),
		From:     v.GetString("SMTP_FROM"),
	}

	cfg.Storage = StorageConfig{BaseDir: v.GetString("STORAGE_DIR")}

	cfg.Exports = ExportsConfig{
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
	}

	maxAttachmentSize := v.GetInt64("ATTACHMENTS_MAX_FILE_SIZE")
	if maxAttachmentSize <= 0 {
		maxAttachmentSize = 10 * 1024 * 1024
	}
	cfg.Attachments = AttachmentsConfig{
		MaxFileSizeBytes: maxAttachmentSize,
	}

	cfg.Replies = RepliesConfig{
		OwnerKeySecret: v.GetString("REPLY_OWNER_KEY_SECRET"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "metaform")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("AUTHZ_BASE_URL", "http://localhost:8180")
	v.SetDefault("AUTHZ_REALM", "metaform")
	v.SetDefault("AUTHZ_CLIENT_ID", "metaform-api")
	v.SetDefault("AUTHZ_CLIENT_SECRET", "")
	v.SetDefault("AUTHZ_ADMIN_POLICY", "metaform-admin")
	v.SetDefault("AUTHZ_OWNER_POLICY", "owner")
	v.SetDefault("AUTHZ_USER_POLICY", "authenticated-user")
	v.SetDefault("AUTHZ_REQUEST_TIMEOUT", "10s")
	v.SetDefault("AUTHZ_PERMITTED_USER_TTL", "1m")

	v.SetDefault("ENABLE_NOTIFICATIONS", true)
	v.SetDefault("NOTIFICATION_STATIC_RECIPIENTS", "")
	v.SetDefault("NOTIFICATION_WORKER_CONCURRENCY", 1)
	v.SetDefault("NOTIFICATION_WORKER_RETRIES", 3)
	v.SetDefault("NOTIFICATION_QUEUE_BUFFER", 64)

	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "no-reply@metaform.local")

	v.SetDefault("STORAGE_DIR", "./data")

	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")

	v.SetDefault("ATTACHMENTS_MAX_FILE_SIZE", 10*1024*1024)

	v.SetDefault("REPLY_OWNER_KEY_SECRET", "dev_owner_key_secret")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
