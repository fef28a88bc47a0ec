package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Numbers      NumbersConfig
	CartToken    CartTokenConfig
	Admin        AdminConfig
	Password     PasswordConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Dynamo       DynamoConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the reservation engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	n := c.Numbers
	if n.Min < 1 || n.Max > 9999 || n.Min > n.Max {
		problems = append(problems, fmt.Sprintf("number range [%d,%d] must sit inside [1,9999] with min <= max", n.Min, n.Max))
	}
	if n.ClaimTTL <= 0 {
		problems = append(problems, fmt.Sprintf("%s must be positive", EnvClaimTTL))
	}
	if n.CartClaimTTL <= 0 {
		problems = append(problems, fmt.Sprintf("%s must be positive", EnvCartClaimTTL))
	}
	if n.SweepInterval <= 0 {
		problems = append(problems, fmt.Sprintf("%s must be positive", EnvSweepInterval))
	}
	if n.QueryCacheTTL < 0 {
		problems = append(problems, fmt.Sprintf("%s cannot be negative", EnvQueryCacheTTL))
	}
	switch strings.ToLower(strings.TrimSpace(c.FeatureFlags.StoreBackend)) {
	case StoreBackendSQL, StoreBackendDynamo:
	default:
		problems = append(problems, fmt.Sprintf("%s %q is not supported", EnvStoreBackend, c.FeatureFlags.StoreBackend))
	}
	switch strings.ToLower(strings.TrimSpace(c.DB.Driver)) {
	case DBDriverPostgres, DBDriverSQLite:
	default:
		problems = append(problems, fmt.Sprintf("%s %q is not supported", EnvDBDriver, c.DB.Driver))
	}
	if len(problems) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeConfiguration, "invalid configuration").
		WithDetails(map[string]any{"problems": problems})
}

type AppConfig struct {
	Env          string `envconfig:"VY_APP_ENV" required:"true"`
	Port         string `envconfig:"VY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"VY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VY_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"VY_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"VY_SERVICE_KIND" default:"api"`
	// MetricsAddr is where background workers expose /metrics. Empty disables it.
	MetricsAddr string `envconfig:"VY_WORKER_METRICS_ADDR" default:":9091"`
}

type DBConfig struct {
	DSN    string `envconfig:"VY_DB_DSN"`
	Driver string `envconfig:"VY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"VY_DB_HOST"`
	LegacyPort     int    `envconfig:"VY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"VY_DB_USER"`
	LegacyPassword string `envconfig:"VY_DB_PASSWORD"`
	LegacyName     string `envconfig:"VY_DB_NAME"`
	LegacySSLMode  string `envconfig:"VY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VY_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQuery logs statements slower than this at warn; 0 disables.
	SlowQuery time.Duration `envconfig:"VY_DB_SLOW_QUERY" default:"250ms"`
}

// IsSQLite reports whether the sqlite driver was selected (local dev and tests).
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"VY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"VY_REDIS_ADDR"`
	Password     string        `envconfig:"VY_REDIS_PASSWORD"`
	DB           int           `envconfig:"VY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// NumbersConfig holds the id space and reservation timing.
type NumbersConfig struct {
	Min           int           `envconfig:"VY_NUMBER_MIN" default:"1"`
	Max           int           `envconfig:"VY_NUMBER_MAX" default:"9999"`
	ClaimTTL      time.Duration `envconfig:"VY_CLAIM_TTL" default:"5m"`
	CartClaimTTL  time.Duration `envconfig:"VY_CART_CLAIM_TTL" default:"15m"`
	SweepInterval time.Duration `envconfig:"VY_SWEEP_INTERVAL" default:"5m"`
	QueryCacheTTL time.Duration `envconfig:"VY_QUERY_CACHE_TTL" default:"0s"`
	AdminPageSize int           `envconfig:"VY_ADMIN_PAGE_SIZE" default:"100"`
}

type CartTokenConfig struct {
	Secret string        `envconfig:"VY_CART_TOKEN_SECRET" required:"true"`
	Issuer string        `envconfig:"VY_CART_TOKEN_ISSUER" default:"vy-numbers"`
	TTL    time.Duration `envconfig:"VY_CART_TOKEN_TTL" default:"720h"`
}

type AdminConfig struct {
	JWTSecret string `envconfig:"VY_ADMIN_JWT_SECRET" required:"true"`
	JWTIssuer string `envconfig:"VY_ADMIN_JWT_ISSUER" default:"vy-numbers-admin"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"VY_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"VY_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"VY_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"VY_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"VY_ARGON_KEY_LEN" default:"32"`
}

type RateLimitConfig struct {
	QueryPerMinute int `envconfig:"VY_QUERY_RATE_PER_MINUTE" default:"60"`
	QueryBurst     int `envconfig:"VY_QUERY_RATE_BURST" default:"10"`

	// TrustForwardedFor keys clients by the first X-Forwarded-For entry.
	TrustForwardedFor bool `envconfig:"VY_TRUST_FORWARDED_FOR" default:"false"`
}

type FeatureFlagsConfig struct {
	AutoMigrate  bool   `envconfig:"VY_AUTO_MIGRATE" default:"false"`
	StoreBackend string `envconfig:"VY_STORE_BACKEND" default:"sql"`
}

// UsesDynamo reports whether slots live in DynamoDB instead of the SQL database.
func (f FeatureFlagsConfig) UsesDynamo() bool {
	return strings.EqualFold(strings.TrimSpace(f.StoreBackend), StoreBackendDynamo)
}

type DynamoConfig struct {
	Region      string `envconfig:"VY_DYNAMO_REGION" default:"us-east-1"`
	Endpoint    string `envconfig:"VY_DYNAMO_ENDPOINT"`
	SlotsTable  string `envconfig:"VY_DYNAMO_SLOTS_TABLE" default:"number_slots"`
	EventsTable string `envconfig:"VY_DYNAMO_EVENTS_TABLE" default:"slot_events"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"VY_GCP_PROJECT_ID"`
	CredentialsFile string `envconfig:"VY_GCP_CREDENTIALS_FILE"`
	CredentialsJSON string `envconfig:"VY_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	SlotEventsTopic string `envconfig:"VY_PUBSUB_SLOT_EVENTS_TOPIC" default:"vy-slot-events"`
	Endpoint        string `envconfig:"VY_PUBSUB_ENDPOINT"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"VY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"VY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"VY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"VY_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:vy_numbers.db?cache=shared"
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
