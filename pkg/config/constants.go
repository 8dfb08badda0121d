package config

const EnvPrefix = "cloudbill"

const (
	PublicEndpoint  = "https://api.softlayer.com/rest/v3.1"
	PrivateEndpoint = "https://api.service.softlayer.com/rest/v3.1"
)

// Environment variable names, shared with tests and flag fallbacks.
const (
	EnvAPIKey             = "CLOUDBILL_API_KEY"
	EnvLogLevel           = "CLOUDBILL_LOG_LEVEL"
	EnvStartMonth         = "CLOUDBILL_START_MONTH"
	EnvEndMonth           = "CLOUDBILL_END_MONTH"
	EnvMonths             = "CLOUDBILL_MONTHS"
	EnvOutput             = "CLOUDBILL_OUTPUT"
	EnvSendgridAPIKey     = "CLOUDBILL_SENDGRID_API_KEY"
	EnvSendgridFrom       = "CLOUDBILL_SENDGRID_FROM"
	EnvSendgridTo         = "CLOUDBILL_SENDGRID_TO"
	EnvCOSAccessKeyID     = "CLOUDBILL_COS_ACCESS_KEY_ID"
	EnvCOSSecretAccessKey = "CLOUDBILL_COS_SECRET_ACCESS_KEY"
	EnvCOSEndpoint        = "CLOUDBILL_COS_ENDPOINT"
	EnvCOSBucket          = "CLOUDBILL_COS_BUCKET"
	EnvPushgatewayURL     = "CLOUDBILL_PUSHGATEWAY_URL"
)
