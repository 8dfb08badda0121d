package iam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kestrelops/cloudbill/pkg/config"
	pkgerrors "github.com/kestrelops/cloudbill/pkg/errors"
	"github.com/kestrelops/cloudbill/pkg/logger"
)

var (
	// ErrMissingAPIKey is returned when the client is built without credentials.
	ErrMissingAPIKey = errors.New("iam: api key is required")
	// ErrMissingLogger is returned when the client is built without a logger.
	ErrMissingLogger = errors.New("iam: logger is required")
)

const (
	tokenPath   = "/identity/token"
	detailsPath = "/v1/apikeys/details"

	apikeyGrantType = "urn:ibm:params:oauth:grant-type:apikey"
)

// Fault is the identity service's error payload.
type Fault struct {
	Code    string `json:"errorCode"`
	Message string `json:"errorMessage"`

	httpStatus int
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// FaultCode returns the identity service error identifier.
func (f *Fault) FaultCode() string {
	return f.Code
}

// StatusCode returns the HTTP status the fault arrived with.
func (f *Fault) StatusCode() int {
	return f.httpStatus
}

// Client exchanges a platform api key for bearer tokens and resolves the
// key's account.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	logger     *logger.Logger
}

// NewClient validates the configuration and builds an identity client.
func NewClient(ctx context.Context, cfg config.UsageConfig, apiKey string, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, ErrMissingLogger
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	client := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		endpoint:   strings.TrimRight(cfg.IAMEndpoint, "/"),
		apiKey:     apiKey,
		logger:     logg,
	}
	client.log(ctx, "init", "new_client", map[string]any{
		"endpoint": client.endpoint,
	})
	return client, nil
}

// TokenSource returns a caching bearer token source backed by the api key
// grant. Tokens are refreshed only as they approach expiry, so sharing one
// source across clients keeps the exchange count down.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &apikeyTokenSource{ctx: ctx, client: c})
}

type apikeyTokenSource struct {
	ctx    context.Context
	client *Client
}

func (s *apikeyTokenSource) Token() (*oauth2.Token, error) {
	return s.client.requestToken(s.ctx)
}

// AccountID resolves the account owning the configured api key. Platform
// usage reports are addressed by account, not by key.
func (c *Client) AccountID(ctx context.Context) (string, error) {
	token, err := c.requestToken(ctx)
	if err != nil {
		return "", fmt.Errorf("account lookup: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+detailsPath, nil)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build api key details request")
	}
	token.SetAuthHeader(req)
	req.Header.Set("IAM-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	c.log(ctx, "request", "api_key_details", nil)

	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("account lookup: %w", err)
	}

	var details struct {
		ID        string `json:"id"`
		AccountID string `json:"account_id"`
	}
	if err := json.Unmarshal(body, &details); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "decode api key details")
	}
	if details.AccountID == "" {
		return "", pkgerrors.New(pkgerrors.CodeUpstream, "api key details carry no account id")
	}

	c.log(ctx, "response", "api_key_details", map[string]any{
		"account_id": details.AccountID,
	})
	return details.AccountID, nil
}

func (c *Client) requestToken(ctx context.Context) (*oauth2.Token, error) {
	form := url.Values{}
	form.Set("grant_type", apikeyGrantType)
	form.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+tokenPath,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	c.log(ctx, "request", "token", nil)

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		Expiration  int64  `json:"expiration"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "decode token response")
	}
	if payload.AccessToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUpstream, "token response carries no access token")
	}

	expiry := time.Unix(payload.Expiration, 0)
	if payload.Expiration == 0 {
		expiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}

	c.log(ctx, "response", "token", map[string]any{
		"expiry": expiry.UTC().Format(time.RFC3339),
	})
	return &oauth2.Token{
		AccessToken: payload.AccessToken,
		TokenType:   payload.TokenType,
		Expiry:      expiry,
	}, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "identity request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "read identity response")
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, c.mapFault(req.Context(), resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) mapFault(ctx context.Context, status int, body []byte) error {
	fault := &Fault{httpStatus: status}
	if err := json.Unmarshal(body, fault); err != nil || fault.Message == "" {
		fault.Message = strings.TrimSpace(string(body))
	}
	if fault.Code == "" {
		fault.Code = http.StatusText(status)
	}

	c.log(ctx, "fault", "identity", map[string]any{
		"status":     status,
		"fault_code": fault.Code,
	})

	// The token endpoint answers a bad or revoked key with 400, not 401.
	code := pkgerrors.CodeUpstream
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		code = pkgerrors.CodeUnauthorized
	case http.StatusNotFound:
		code = pkgerrors.CodeNotFound
	case http.StatusTooManyRequests:
		code = pkgerrors.CodeRateLimit
	}
	return pkgerrors.Wrap(code, fault, "identity service rejected request")
}

func (c *Client) log(ctx context.Context, phase, operation string, fields map[string]any) {
	if c.logger == nil {
		return
	}
	merged := map[string]any{
		"component": "iam",
		"phase":     phase,
		"operation": operation,
	}
	for key, value := range fields {
		merged[key] = value
	}
	c.logger.Info(c.logger.WithFields(ctx, merged), "identity service call")
}
