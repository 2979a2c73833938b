package config

const (
	// EnvPrefix is passed to envconfig; individual fields carry explicit
	// MEMBERCORE_ names so the prefix stays informational.
	EnvPrefix = "membercore"

	AppEnvDev  = "dev"
	AppEnvProd = "production"

	EnvAppEnv   = "MEMBERCORE_APP_ENV"
	EnvPort     = "MEMBERCORE_APP_PORT"
	EnvDBDSN    = "MEMBERCORE_DB_DSN"
	EnvDBHost   = "MEMBERCORE_DB_HOST"
	EnvDBUser   = "MEMBERCORE_DB_USER"
	EnvDBName   = "MEMBERCORE_DB_NAME"
	EnvRedisURL = "MEMBERCORE_REDIS_URL"

	EnvJWTSecret  = "MEMBERCORE_JWT_SECRET"
	EnvJWTIssuer  = "MEMBERCORE_JWT_ISSUER"
	EnvJWTExpMins = "MEMBERCORE_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID          = "MEMBERCORE_GCP_PROJECT_ID"
	EnvPubSubMembershipTopic = "MEMBERCORE_PUBSUB_MEMBERSHIP_TOPIC"
	EnvPubSubMembershipSub   = "MEMBERCORE_PUBSUB_MEMBERSHIP_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
