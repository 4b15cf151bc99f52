package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/gogotex/document-service/internal/document"
	"github.com/gogotex/document-service/internal/storage"
)

// Config holds application configuration
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Storage      StorageConfig
	Bolt         BoltConfig
	SQLite       SQLiteConfig
	Postgres     PostgresConfig
	MongoDB      MongoDBConfig
	MinIO        storage.MinIOConfig
	Redis        RedisConfig
	Cache        CacheConfig
	RateLimit    RateLimitConfig
	Notification NotificationConfig
	Auth         AuthConfig
	Keycloak     KeycloakConfig
	JWT          JWTConfig
	Documents    DocumentsConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (s ServerConfig) Addr() string { return net.JoinHostPort(s.Host, s.Port) }

type LogConfig struct {
	Level string
	// Format is "prod" (JSON) or "dev" (console).
	Format string
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMinIO    = "minio"
)

type StorageConfig struct {
	Backend string
}

type BoltConfig struct {
	Path string
}

type SQLiteConfig struct {
	Path string
}

type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

type MongoDBConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return net.JoinHostPort(r.Host, r.Port)
}

type CacheConfig struct {
	Driver      string // memory | redis | none
	RevisionTTL time.Duration
	FilterTTL   time.Duration
}

type RateLimitConfig struct {
	Enabled bool
	Driver  string // memory | redis
	RPS     float64
	Burst   int
	Window  time.Duration
}

type NotificationConfig struct {
	URL          string
	RedisChannel string
	Timeout      time.Duration
}

// Auth modes.
const (
	AuthNone     = "none"
	AuthOIDC     = "oidc"
	AuthHMAC     = "hmac"
	AuthInsecure = "insecure"
)

type AuthConfig struct {
	Mode string
	// RevocationList enables the Redis revoked-token check.
	RevocationList bool
}

type KeycloakConfig struct {
	URL             string
	Realm           string
	ClientID        string
	ClientSecret    string
	SkipClientCheck bool
}

type JWTConfig struct {
	Secret   string
	TokenTTL time.Duration
}

type DocumentsConfig struct {
	MinExpiryDays      int
	MaxContentBytes    int
	RequireOwnerPrefix bool
}

// Rules converts the limits into validation rules.
func (d DocumentsConfig) Rules() document.Rules {
	return document.Rules{
		MinExpiry:       time.Duration(d.MinExpiryDays) * 24 * time.Hour,
		MaxContentBytes: d.MaxContentBytes,
		OwnerPrefix:     d.RequireOwnerPrefix,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "5010")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "dev")
	v.SetDefault("STORAGE_BACKEND", BackendBolt)
	v.SetDefault("BOLT_PATH", "data/documents.db")
	v.SetDefault("SQLITE_PATH", "data/documents.sqlite")
	v.SetDefault("POSTGRES_MAX_CONNS", 10)
	v.SetDefault("MONGODB_DATABASE", "documents")
	v.SetDefault("MONGODB_COLLECTION", "document_revisions")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("MINIO_BUCKET", "documents")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_DRIVER", "memory")
	v.SetDefault("CACHE_REVISION_TTL", "10m")
	v.SetDefault("CACHE_FILTER_TTL", "30s")
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_DRIVER", "memory")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("RATE_LIMIT_WINDOW", "1s")
	v.SetDefault("NOTIFICATION_REDIS_CHANNEL", "documents.events")
	v.SetDefault("NOTIFICATION_TIMEOUT", "5s")
	v.SetDefault("AUTH_MODE", AuthNone)
	v.SetDefault("JWT_TOKEN_TTL", "1h")
	v.SetDefault("DOCUMENTS_MIN_EXPIRY_DAYS", 60)
	v.SetDefault("DOCUMENTS_MAX_CONTENT_BYTES", 8<<20)
	v.SetDefault("DOCUMENTS_REQUIRE_OWNER_PREFIX", false)
}

// LoadConfig loads configuration from environment variables and the given
// .env files (default ".env"); missing files are ignored.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("SERVER_PORT"),
			Host:            v.GetString("SERVER_HOST"),
			Environment:     v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:     v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("SERVER_WRITE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Storage: StorageConfig{Backend: strings.ToLower(v.GetString("STORAGE_BACKEND"))},
		Bolt:    BoltConfig{Path: v.GetString("BOLT_PATH")},
		SQLite:  SQLiteConfig{Path: v.GetString("SQLITE_PATH")},
		Postgres: PostgresConfig{
			DSN:      v.GetString("POSTGRES_DSN"),
			MaxConns: v.GetInt32("POSTGRES_MAX_CONNS"),
		},
		MongoDB: MongoDBConfig{
			URI:        v.GetString("MONGODB_URI"),
			Database:   v.GetString("MONGODB_DATABASE"),
			Collection: v.GetString("MONGODB_COLLECTION"),
			Timeout:    time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		MinIO: storage.MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			Prefix:    v.GetString("MINIO_PREFIX"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Cache: CacheConfig{
			Driver:      strings.ToLower(v.GetString("CACHE_DRIVER")),
			RevisionTTL: v.GetDuration("CACHE_REVISION_TTL"),
			FilterTTL:   v.GetDuration("CACHE_FILTER_TTL"),
		},
		RateLimit: RateLimitConfig{
			Enabled: v.GetBool("RATE_LIMIT_ENABLED"),
			Driver:  strings.ToLower(v.GetString("RATE_LIMIT_DRIVER")),
			RPS:     v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:   v.GetInt("RATE_LIMIT_BURST"),
			Window:  v.GetDuration("RATE_LIMIT_WINDOW"),
		},
		Notification: NotificationConfig{
			URL:          v.GetString("NOTIFICATION_SERVICE_URL"),
			RedisChannel: v.GetString("NOTIFICATION_REDIS_CHANNEL"),
			Timeout:      v.GetDuration("NOTIFICATION_TIMEOUT"),
		},
		Auth: AuthConfig{
			Mode:           strings.ToLower(v.GetString("AUTH_MODE")),
			RevocationList: v.GetBool("AUTH_REVOCATION_LIST"),
		},
		Keycloak: KeycloakConfig{
			URL:             v.GetString("KEYCLOAK_URL"),
			Realm:           v.GetString("KEYCLOAK_REALM"),
			ClientID:        v.GetString("KEYCLOAK_CLIENT_ID"),
			ClientSecret:    v.GetString("KEYCLOAK_CLIENT_SECRET"),
			SkipClientCheck: v.GetBool("KEYCLOAK_SKIP_CLIENT_CHECK"),
		},
		JWT: JWTConfig{
			Secret:   v.GetString("JWT_SECRET"),
			TokenTTL: v.GetDuration("JWT_TOKEN_TTL"),
		},
		Documents: DocumentsConfig{
			MinExpiryDays:      v.GetInt("DOCUMENTS_MIN_EXPIRY_DAYS"),
			MaxContentBytes:    v.GetInt("DOCUMENTS_MAX_CONTENT_BYTES"),
			RequireOwnerPrefix: v.GetBool("DOCUMENTS_REQUIRE_OWNER_PREFIX"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	missing := func(key string) { errs = append(errs, fmt.Errorf("%s is required", key)) }

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Bolt.Path == "" {
			missing("BOLT_PATH")
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			missing("SQLITE_PATH")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			missing("POSTGRES_DSN")
		}
	case BackendMongo:
		if c.MongoDB.URI == "" {
			missing("MONGODB_URI")
		}
	case BackendMinIO:
		if c.MinIO.Endpoint == "" {
			missing("MINIO_ENDPOINT")
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND %q is not one of memory, bolt, sqlite, postgres, mongo, minio", c.Storage.Backend))
	}

	needRedis := c.Cache.Driver == "redis" ||
		(c.RateLimit.Enabled && c.RateLimit.Driver == "redis") ||
		c.Auth.RevocationList
	if needRedis && c.Redis.Addr() == "" {
		missing("REDIS_HOST")
	}
	switch c.Cache.Driver {
	case "memory", "redis", "none":
	default:
		errs = append(errs, fmt.Errorf("CACHE_DRIVER %q is not one of memory, redis, none", c.Cache.Driver))
	}
	if c.RateLimit.Enabled && c.RateLimit.Driver != "memory" && c.RateLimit.Driver != "redis" {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_DRIVER %q is not one of memory, redis", c.RateLimit.Driver))
	}

	switch c.Auth.Mode {
	case AuthNone, AuthInsecure:
	case AuthOIDC:
		if c.Keycloak.URL == "" || c.Keycloak.Realm == "" {
			missing("KEYCLOAK_URL and KEYCLOAK_REALM")
		}
	case AuthHMAC:
		if len(c.JWT.Secret) < 32 {
			errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes for hmac auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTH_MODE %q is not one of none, oidc, hmac, insecure", c.Auth.Mode))
	}

	if c.Documents.MinExpiryDays < 0 || c.Documents.MaxContentBytes < 0 {
		errs = append(errs, errors.New("DOCUMENTS_* limits must not be negative"))
	}
	return errors.Join(errs...)
}
