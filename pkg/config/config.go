package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	pkgerrors "github.com/kestrelops/cloudbill/pkg/errors"
)

type Config struct {
	App      AppConfig
	Classic  ClassicConfig
	Usage    UsageConfig
	Report   ReportConfig
	Sendgrid SendgridConfig
	COS      COSConfig
	Metrics  MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	LogLevel     string `envconfig:"CLOUDBILL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CLOUDBILL_LOG_WARN_STACK" default:"false"`
}

type ClassicConfig struct {
	APIKey         string        `envconfig:"CLOUDBILL_API_KEY"`
	Endpoint       string        `envconfig:"CLOUDBILL_SL_ENDPOINT" validate:"omitempty,url"`
	PrivateNetwork bool          `envconfig:"CLOUDBILL_SL_PRIVATE" default:"false"`
	Timeout        time.Duration `envconfig:"CLOUDBILL_SL_TIMEOUT" default:"4m"`
}

// BaseURL resolves the portal endpoint: explicit override first, then the
// private or public default.
func (c ClassicConfig) BaseURL() string {
	if endpoint := strings.TrimSpace(c.Endpoint); endpoint != "" {
		return strings.TrimRight(endpoint, "/")
	}
	if c.PrivateNetwork {
		return PrivateEndpoint
	}
	return PublicEndpoint
}

type UsageConfig struct {
	IAMEndpoint     string        `envconfig:"CLOUDBILL_IAM_ENDPOINT" default:"https://iam.cloud.ibm.com" validate:"url"`
	BillingEndpoint string        `envconfig:"CLOUDBILL_BILLING_ENDPOINT" default:"https://billing.cloud.ibm.com" validate:"url"`
	Timeout         time.Duration `envconfig:"CLOUDBILL_USAGE_TIMEOUT" default:"2m"`
}

type ReportConfig struct {
	StartMonth string `envconfig:"CLOUDBILL_START_MONTH" validate:"omitempty,datetime=2006-01"`
	EndMonth   string `envconfig:"CLOUDBILL_END_MONTH" validate:"omitempty,datetime=2006-01"`
	Months     int    `envconfig:"CLOUDBILL_MONTHS" default:"1" validate:"gte=0"`
	OutputFile string `envconfig:"CLOUDBILL_OUTPUT" default:"invoice-analysis.xlsx"`
}

type SendgridConfig struct {
	APIKey  string   `envconfig:"CLOUDBILL_SENDGRID_API_KEY"`
	From    string   `envconfig:"CLOUDBILL_SENDGRID_FROM" validate:"omitempty,email"`
	To      []string `envconfig:"CLOUDBILL_SENDGRID_TO" validate:"dive,email"`
	Subject string   `envconfig:"CLOUDBILL_SENDGRID_SUBJECT"`
}

// Enabled reports whether email delivery was requested at all.
func (s SendgridConfig) Enabled() bool {
	return strings.TrimSpace(s.APIKey) != "" || strings.TrimSpace(s.From) != "" || len(s.To) > 0
}

type COSConfig struct {
	AccessKeyID     string `envconfig:"CLOUDBILL_COS_ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"CLOUDBILL_COS_SECRET_ACCESS_KEY"`
	Endpoint        string `envconfig:"CLOUDBILL_COS_ENDPOINT" validate:"omitempty,url"`
	Bucket          string `envconfig:"CLOUDBILL_COS_BUCKET"`
}

// Enabled reports whether any object storage field was provided.
func (c COSConfig) Enabled() bool {
	return c.AccessKeyID != "" || c.SecretAccessKey != "" || c.Endpoint != "" || c.Bucket != ""
}

// Complete reports whether every object storage field was provided.
func (c COSConfig) Complete() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != "" && c.Endpoint != "" && c.Bucket != ""
}

type MetricsConfig struct {
	PushgatewayURL string `envconfig:"CLOUDBILL_PUSHGATEWAY_URL" validate:"omitempty,url"`
	JobName        string `envconfig:"CLOUDBILL_METRICS_JOB" default:"cloudbill"`
}

var validate = validator.New()

// Validate checks the assembled configuration after flag overrides were
// applied. Violations are config errors: the run must not reach the network.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Classic.APIKey) == "" {
		return pkgerrors.New(pkgerrors.CodeConfig, "api key is required (flag -k or CLOUDBILL_API_KEY)")
	}
	if err := validate.Struct(c); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeConfig, err, "invalid configuration")
	}
	if (c.Report.StartMonth == "") != (c.Report.EndMonth == "") {
		return pkgerrors.New(pkgerrors.CodeConfig, "start and end months must be provided together")
	}
	if c.Report.StartMonth == "" && c.Report.Months <= 0 {
		return pkgerrors.New(pkgerrors.CodeConfig, "either a start/end month pair or a positive months window is required")
	}
	if c.Report.StartMonth != "" && c.Report.StartMonth > c.Report.EndMonth {
		return pkgerrors.New(pkgerrors.CodeConfig, "start month must not be after end month")
	}
	if c.COS.Enabled() && !c.COS.Complete() {
		return pkgerrors.New(pkgerrors.CodeConfig, "object storage configuration is incomplete: access key id, secret access key, endpoint, and bucket are all required")
	}
	if c.Sendgrid.Enabled() {
		if strings.TrimSpace(c.Sendgrid.APIKey) == "" {
			return pkgerrors.New(pkgerrors.CodeConfig, "email delivery requested without a sendgrid api key")
		}
		if strings.TrimSpace(c.Sendgrid.From) == "" || len(c.Sendgrid.To) == 0 {
			return pkgerrors.New(pkgerrors.CodeConfig, "email delivery requires both a sender and at least one recipient")
		}
	}
	return nil
}
