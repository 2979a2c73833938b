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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Square       SquareConfig
	Sendgrid     SendgridConfig
	Fraud        FraudConfig
	Reconcile    ReconcileConfig
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
	Env          string `envconfig:"MEMBERCORE_APP_ENV" required:"true"`
	Port         string `envconfig:"MEMBERCORE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MEMBERCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MEMBERCORE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MEMBERCORE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MEMBERCORE_DB_DSN"`
	Driver string `envconfig:"MEMBERCORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MEMBERCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"MEMBERCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MEMBERCORE_DB_USER"`
	LegacyPassword string `envconfig:"MEMBERCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"MEMBERCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"MEMBERCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MEMBERCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MEMBERCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MEMBERCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MEMBERCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MEMBERCORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MEMBERCORE_REDIS_ADDR"`
	Password     string        `envconfig:"MEMBERCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"MEMBERCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MEMBERCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MEMBERCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MEMBERCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MEMBERCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MEMBERCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"MEMBERCORE_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"MEMBERCORE_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"MEMBERCORE_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"MEMBERCORE_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MEMBERCORE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MEMBERCORE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"MEMBERCORE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookReplayTTL     time.Duration `envconfig:"MEMBERCORE_WEBHOOK_REPLAY_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MEMBERCORE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"MEMBERCORE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MEMBERCORE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	MembershipTopic          string `envconfig:"MEMBERCORE_PUBSUB_MEMBERSHIP_TOPIC" required:"true"`
	MembershipSubscription   string `envconfig:"MEMBERCORE_PUBSUB_MEMBERSHIP_SUBSCRIPTION" required:"true"`
	NotificationSubscription string `envconfig:"MEMBERCORE_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
	AuditTopic               string `envconfig:"MEMBERCORE_PUBSUB_AUDIT_TOPIC" default:"mc-audit-events"`
	AuditSubscription        string `envconfig:"MEMBERCORE_PUBSUB_AUDIT_SUBSCRIPTION"`
}

type BigQueryConfig struct {
	Dataset        string `envconfig:"MEMBERCORE_BIGQUERY_DATASET" default:"membercore"`
	AuditLogsTable string `envconfig:"MEMBERCORE_BIGQUERY_AUDIT_TABLE" default:"audit_logs"`
}

type SquareConfig struct {
	AccessToken   string `envconfig:"MEMBERCORE_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"MEMBERCORE_SQUARE_WEBHOOK_SECRET"`
	Env           string `envconfig:"MEMBERCORE_SQUARE_ENV" default:"sandbox"`
	LocationID    string `envconfig:"MEMBERCORE_SQUARE_LOCATION_ID"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type SendgridConfig struct {
	APIKey      string `envconfig:"MEMBERCORE_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"MEMBERCORE_SENDGRID_FROM_EMAIL"`
	AdminEmail  string `envconfig:"MEMBERCORE_SENDGRID_ADMIN_EMAIL"`
}

type FraudConfig struct {
	RejectScore        int           `envconfig:"MEMBERCORE_FRAUD_REJECT_SCORE" default:"80"`
	ReviewScore        int           `envconfig:"MEMBERCORE_FRAUD_REVIEW_SCORE" default:"50"`
	SCAAmountThreshold string        `envconfig:"MEMBERCORE_FRAUD_SCA_AMOUNT_THRESHOLD" default:"250.00"`
	NewAccountMaxAge   time.Duration `envconfig:"MEMBERCORE_FRAUD_NEW_ACCOUNT_MAX_AGE" default:"168h"`
}

type ReconcileConfig struct {
	SweepInterval  time.Duration `envconfig:"MEMBERCORE_RECONCILE_SWEEP_INTERVAL" default:"15m"`
	StuckIntentAge time.Duration `envconfig:"MEMBERCORE_RECONCILE_STUCK_INTENT_AGE" default:"1h"`
	BatchSize      int           `envconfig:"MEMBERCORE_RECONCILE_BATCH_SIZE" default:"100"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MEMBERCORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MEMBERCORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MEMBERCORE_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
