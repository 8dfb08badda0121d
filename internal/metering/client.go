package metering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/kestrelops/cloudbill/pkg/config"
	pkgerrors "github.com/kestrelops/cloudbill/pkg/errors"
	"github.com/kestrelops/cloudbill/pkg/logger"
)

var (
	// ErrMissingTokenSource is returned when the client is built without credentials.
	ErrMissingTokenSource = errors.New("metering: token source is required")
	// ErrMissingLogger is returned when the client is built without a logger.
	ErrMissingLogger = errors.New("metering: logger is required")
)

// Fault is the usage reports service's error payload.
type Fault struct {
	Errors []FaultDetail `json:"errors"`
	Trace  string        `json:"trace"`

	httpStatus int
}

// FaultDetail is one error entry of a usage reports fault.
type FaultDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if len(f.Errors) == 0 {
		return fmt.Sprintf("status %d", f.httpStatus)
	}
	return fmt.Sprintf("%s: %s", f.Errors[0].Code, f.Errors[0].Message)
}

// FaultCode returns the first error identifier of the payload.
func (f *Fault) FaultCode() string {
	if len(f.Errors) == 0 {
		return ""
	}
	return f.Errors[0].Code
}

// StatusCode returns the HTTP status the fault arrived with.
func (f *Fault) StatusCode() int {
	return f.httpStatus
}

// Client calls the platform usage reports API.
type Client struct {
	httpClient *http.Client
	endpoint   string
	logger     *logger.Logger
}

// NewClient validates the configuration and builds a usage reports client.
// Requests authenticate with bearer tokens drawn from source.
func NewClient(ctx context.Context, cfg config.UsageConfig, source oauth2.TokenSource, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, ErrMissingLogger
	}
	if source == nil {
		return nil, ErrMissingTokenSource
	}

	client := &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &oauth2.Transport{Source: source},
		},
		endpoint: strings.TrimRight(cfg.BillingEndpoint, "/"),
		logger:   logg,
	}
	client.log(ctx, "init", "new_client", map[string]any{
		"endpoint": client.endpoint,
	})
	return client, nil
}

// AccountUsage returns the account's platform consumption report for one
// billing month (YYYY-MM). Resource and plan names are resolved server
// side.
func (c *Client) AccountUsage(ctx context.Context, accountID, month string) (*AccountUsage, error) {
	endpoint := fmt.Sprintf("%s/v4/accounts/%s/usage/%s?_names=true",
		c.endpoint, url.PathEscape(accountID), url.PathEscape(month))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build usage request")
	}
	req.Header.Set("Accept", "application/json")

	c.log(ctx, "request", "account_usage", map[string]any{
		"month": month,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "usage request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "read usage response")
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, c.mapFault(ctx, resp.StatusCode, body)
	}

	var usage AccountUsage
	if err := json.Unmarshal(body, &usage); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "decode usage response")
	}

	c.log(ctx, "response", "account_usage", map[string]any{
		"month":     month,
		"resources": len(usage.Resources),
	})
	return &usage, nil
}

func (c *Client) mapFault(ctx context.Context, status int, body []byte) error {
	fault := &Fault{httpStatus: status}
	if err := json.Unmarshal(body, fault); err != nil || len(fault.Errors) == 0 {
		fault.Errors = []FaultDetail{{
			Code:    http.StatusText(status),
			Message: strings.TrimSpace(string(body)),
		}}
	}

	c.log(ctx, "fault", "usage_reports", map[string]any{
		"status":     status,
		"fault_code": fault.FaultCode(),
	})

	code := pkgerrors.CodeUpstream
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = pkgerrors.CodeUnauthorized
	case http.StatusNotFound:
		code = pkgerrors.CodeNotFound
	case http.StatusTooManyRequests:
		code = pkgerrors.CodeRateLimit
	}
	return pkgerrors.Wrap(code, fault, "usage reports service rejected request")
}

func (c *Client) log(ctx context.Context, phase, operation string, fields map[string]any) {
	if c.logger == nil {
		return
	}
	merged := map[string]any{
		"component": "metering",
		"phase":     phase,
		"operation": operation,
	}
	for key, value := range fields {
		merged[key] = value
	}
	c.logger.Info(c.logger.WithFields(ctx, merged), "usage reports call")
}
