package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Password     PasswordConfig
	Cart         CartConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Sendgrid     SendgridConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BYTEFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"BYTEFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BYTEFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BYTEFRONT_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"BYTEFRONT_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"BYTEFRONT_DB_DSN"`
	Driver string `envconfig:"BYTEFRONT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BYTEFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"BYTEFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BYTEFRONT_DB_USER"`
	LegacyPassword string `envconfig:"BYTEFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"BYTEFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"BYTEFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BYTEFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BYTEFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BYTEFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BYTEFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BYTEFRONT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BYTEFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"BYTEFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"BYTEFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BYTEFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BYTEFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BYTEFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BYTEFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BYTEFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"BYTEFRONT_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"BYTEFRONT_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"BYTEFRONT_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"BYTEFRONT_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"BYTEFRONT_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"BYTEFRONT_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"BYTEFRONT_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"BYTEFRONT_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"BYTEFRONT_ARGON_KEY_LEN" default:"32"`
}

// CartConfig tunes the cart synchronizer and the server-side cart sessions.
type CartConfig struct {
	DebounceWindow  time.Duration `envconfig:"BYTEFRONT_CART_DEBOUNCE_WINDOW" default:"400ms"`
	WriteRetryDelay time.Duration `envconfig:"BYTEFRONT_CART_WRITE_RETRY_DELAY" default:"250ms"`
	SessionIdleTTL  time.Duration `envconfig:"BYTEFRONT_CART_SESSION_IDLE_TTL" default:"30m"`
	ShippingFeeKobo int           `envconfig:"BYTEFRONT_CART_SHIPPING_FEE_KOBO" default:"0"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BYTEFRONT_AUTO_MIGRATE" default:"false"`
	UseSQLite   bool `envconfig:"BYTEFRONT_USE_SQLITE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BYTEFRONT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"BYTEFRONT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BYTEFRONT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName        string        `envconfig:"BYTEFRONT_GCS_BUCKET_NAME" required:"true"`
	UploadURLExpiry   time.Duration `envconfig:"BYTEFRONT_GCS_UPLOAD_URL_EXPIRY" default:"15m"`
	DownloadURLExpiry time.Duration `envconfig:"BYTEFRONT_GCS_DOWNLOAD_URL_EXPIRY" default:"1h"`
	MaxProofUploadMB  int           `envconfig:"BYTEFRONT_GCS_MAX_PROOF_UPLOAD_MB" default:"10"`
}

type PubSubConfig struct {
	OrdersTopic           string `envconfig:"BYTEFRONT_PUBSUB_ORDERS_TOPIC" required:"true"`
	OrdersSubscription    string `envconfig:"BYTEFRONT_PUBSUB_ORDERS_SUBSCRIPTION" required:"true"`
	AnalyticsTopic        string `envconfig:"BYTEFRONT_PUBSUB_ANALYTICS_TOPIC" required:"true"`
	AnalyticsSubscription string `envconfig:"BYTEFRONT_PUBSUB_ANALYTICS_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset               string `envconfig:"BYTEFRONT_BIGQUERY_DATASET" default:"bytefront"`
	StorefrontEventsTable string `envconfig:"BYTEFRONT_BIGQUERY_STOREFRONT_TABLE" default:"storefront_events"`
}

type SendgridConfig struct {
	APIKey      string `envconfig:"BYTEFRONT_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"BYTEFRONT_SENDGRID_FROM_EMAIL" default:"orders@bytefront.ng"`
	FromName    string `envconfig:"BYTEFRONT_SENDGRID_FROM_NAME" default:"ByteFront"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BYTEFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BYTEFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BYTEFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
