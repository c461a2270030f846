package config

// EnvPrefix is passed to envconfig; individual fields carry fully qualified
// envconfig tags so the prefix stays empty.
const EnvPrefix = ""

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	EnvAppEnv = "BYTEFRONT_APP_ENV"
	EnvDBDSN  = "BYTEFRONT_DB_DSN"
	EnvDBHost = "BYTEFRONT_DB_HOST"
	EnvDBUser = "BYTEFRONT_DB_USER"
	EnvDBName = "BYTEFRONT_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
