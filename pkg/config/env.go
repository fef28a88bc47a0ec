package config

const (
	EnvPrefix = "VY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv       = "VY_APP_ENV"
	EnvPort         = "VY_APP_PORT"
	EnvLogLevel     = "VY_LOG_LEVEL"
	EnvLogWarnStack = "VY_LOG_WARN_STACK"
	EnvServiceKind  = "VY_SERVICE_KIND"

	EnvDBDSN     = "VY_DB_DSN"
	EnvDBDriver  = "VY_DB_DRIVER"
	EnvDBHost    = "VY_DB_HOST"
	EnvDBPort    = "VY_DB_PORT"
	EnvDBUser    = "VY_DB_USER"
	EnvDBPass    = "VY_DB_PASSWORD"
	EnvDBName    = "VY_DB_NAME"
	EnvDBSSLMode = "VY_DB_SSLMODE"

	EnvRedisURL = "VY_REDIS_URL"

	EnvNumberMin       = "VY_NUMBER_MIN"
	EnvNumberMax       = "VY_NUMBER_MAX"
	EnvClaimTTL        = "VY_CLAIM_TTL"
	EnvCartClaimTTL    = "VY_CART_CLAIM_TTL"
	EnvSweepInterval   = "VY_SWEEP_INTERVAL"
	EnvQueryCacheTTL   = "VY_QUERY_CACHE_TTL"
	EnvAdminPageSize   = "VY_ADMIN_PAGE_SIZE"
	EnvCartTokenSecret = "VY_CART_TOKEN_SECRET"
	EnvCartTokenIssuer = "VY_CART_TOKEN_ISSUER"
	EnvAdminJWTSecret  = "VY_ADMIN_JWT_SECRET"
	EnvStoreBackend    = "VY_STORE_BACKEND"
	EnvQueryRateLimit  = "VY_QUERY_RATE_PER_MINUTE"

	EnvGCPProjectID     = "VY_GCP_PROJECT_ID"
	EnvPubSubSlotTopic  = "VY_PUBSUB_SLOT_EVENTS_TOPIC"
	EnvDynamoSlotsTable = "VY_DYNAMO_SLOTS_TABLE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

// Store backends accepted by VY_STORE_BACKEND.
const (
	StoreBackendSQL    = "sql"
	StoreBackendDynamo = "dynamodb"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)
