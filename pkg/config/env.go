package config

const (
	EnvPrefix = "MARKETLEDGER"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "MARKETLEDGER_APP_ENV"
	EnvPort     = "MARKETLEDGER_APP_PORT"
	EnvDBDSN    = "MARKETLEDGER_DB_DSN"
	EnvDBHost   = "MARKETLEDGER_DB_HOST"
	EnvDBUser   = "MARKETLEDGER_DB_USER"
	EnvDBName   = "MARKETLEDGER_DB_NAME"
	EnvRedisURL = "MARKETLEDGER_REDIS_URL"

	EnvJWTSecret  = "MARKETLEDGER_JWT_SECRET"
	EnvJWTIssuer  = "MARKETLEDGER_JWT_ISSUER"
	EnvJWTExpMins = "MARKETLEDGER_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID      = "MARKETLEDGER_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic = "MARKETLEDGER_PUBSUB_ORDERS_TOPIC"
	EnvPubSubLedgerTopic = "MARKETLEDGER_PUBSUB_LEDGER_TOPIC"
	EnvPubSubLedgerSub   = "MARKETLEDGER_PUBSUB_LEDGER_SUBSCRIPTION"

	EnvLedgerPlatformShards = "MARKETLEDGER_LEDGER_PLATFORM_SHARDS"
	EnvLedgerMaxTxAttempts  = "MARKETLEDGER_LEDGER_MAX_TX_ATTEMPTS"
	EnvLedgerEarningsHold   = "MARKETLEDGER_LEDGER_EARNINGS_HOLD"
	EnvGeoBaseFee           = "MARKETLEDGER_GEO_BASE_FEE"
)

// legacyDBEnvVars must all be present when no DSN is configured.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
