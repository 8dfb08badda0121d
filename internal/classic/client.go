package classic

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

	"github.com/kestrelops/cloudbill/pkg/config"
	pkgerrors "github.com/kestrelops/cloudbill/pkg/errors"
	"github.com/kestrelops/cloudbill/pkg/logger"
)

var (
	// ErrMissingAPIKey is returned when the client is built without credentials.
	ErrMissingAPIKey = errors.New("classic: api key is required")
	// ErrMissingLogger is returned when the client is built without a logger.
	ErrMissingLogger = errors.New("classic: logger is required")
)

const (
	// DefaultPageSize is the portal's item page size. Top-level item listings
	// beyond this count are fetched in slices.
	DefaultPageSize = 250

	basicAuthUser = "apikey"
	filterLayout  = "01/02/2006 15:04:05"

	invoiceMask = "id,createDate,typeCode,invoiceTotalAmount," +
		"invoiceTotalRecurringAmount,invoiceTopLevelItemCount"
	itemMask = "id,billingItemId,categoryCode,category.name,hourlyFlag," +
		"hostName,domainName,product.description,createDate," +
		"totalRecurringAmount,totalOneTimeAmount,usageChargeFlag," +
		"hourlyRecurringFee,children.description,children.categoryCode," +
		"children.product,children.hourlyRecurringFee"
)

// Fault is the portal's error payload.
type Fault struct {
	Code    string `json:"code"`
	Message string `json:"error"`

	httpStatus int
}

// Error implements the error interface.
func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// FaultCode returns the portal exception identifier.
func (f *Fault) FaultCode() string {
	return f.Code
}

// StatusCode returns the HTTP status the fault arrived with.
func (f *Fault) StatusCode() int {
	return f.httpStatus
}

// Client calls the classic infrastructure billing API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *logger.Logger
}

// NewClient validates the configuration and builds a portal client.
func NewClient(ctx context.Context, cfg config.ClassicConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, ErrMissingLogger
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	client := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL(), "/"),
		apiKey:     apiKey,
		logger:     logg,
	}
	client.log(ctx, "init", "new_client", map[string]any{
		"endpoint": client.baseURL,
	})
	return client, nil
}

// ListInvoices returns the account's invoice headers created between from
// and to, both bounds inclusive. Timestamps are rendered in their own
// location, so callers pass reference-zone values.
func (c *Client) ListInvoices(ctx context.Context, from, to time.Time) ([]Invoice, error) {
	filter, err := json.Marshal(createDateFilter(from, to))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode invoice filter")
	}

	query := url.Values{}
	query.Set("objectMask", "mask["+invoiceMask+"]")
	query.Set("objectFilter", string(filter))

	c.log(ctx, "request", "list_invoices", map[string]any{
		"from": from.Format(filterLayout),
		"to":   to.Format(filterLayout),
	})

	var invoices []Invoice
	if err := c.get(ctx, "/SoftLayer_Account/getInvoices.json", query, &invoices); err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}

	c.log(ctx, "response", "list_invoices", map[string]any{
		"count": len(invoices),
	})
	return invoices, nil
}

// InvoiceTopLevelItems returns one page of an invoice's top-level line
// items, with component children embedded.
func (c *Client) InvoiceTopLevelItems(ctx context.Context, invoiceID, offset, limit int) ([]LineItem, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	query := url.Values{}
	query.Set("objectMask", "mask["+itemMask+"]")
	query.Set("resultLimit", fmt.Sprintf("%d,%d", offset, limit))

	c.log(ctx, "request", "invoice_top_level_items", map[string]any{
		"invoice_id": invoiceID,
		"offset":     offset,
		"limit":      limit,
	})

	var items []LineItem
	path := fmt.Sprintf("/SoftLayer_Billing_Invoice/%d/getInvoiceTopLevelItems.json", invoiceID)
	if err := c.get(ctx, path, query, &items); err != nil {
		return nil, fmt.Errorf("invoice %d items: %w", invoiceID, err)
	}

	c.log(ctx, "response", "invoice_top_level_items", map[string]any{
		"invoice_id": invoiceID,
		"count":      len(items),
	})
	return items, nil
}

// TopLevelCategories returns the catalog's top-level category reference
// list, used to resolve display names for item category codes.
func (c *Client) TopLevelCategories(ctx context.Context) ([]Category, error) {
	c.log(ctx, "request", "top_level_categories", nil)

	var categories []Category
	if err := c.get(ctx, "/SoftLayer_Product_Item_Category/getTopLevelCategories.json", nil, &categories); err != nil {
		return nil, fmt.Errorf("top level categories: %w", err)
	}

	c.log(ctx, "response", "top_level_categories", map[string]any{
		"count": len(categories),
	})
	return categories, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build portal request")
	}
	req.SetBasicAuth(basicAuthUser, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "portal request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "read portal response")
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.mapFault(ctx, resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "decode portal response")
	}
	return nil
}

func (c *Client) mapFault(ctx context.Context, status int, body []byte) error {
	fault := &Fault{httpStatus: status}
	if err := json.Unmarshal(body, fault); err != nil || fault.Message == "" {
		fault.Message = strings.TrimSpace(string(body))
	}
	if fault.Code == "" {
		fault.Code = http.StatusText(status)
	}

	c.log(ctx, "fault", "portal", map[string]any{
		"status":     status,
		"fault_code": fault.Code,
	})

	code := domainCodeForStatus(status)
	if strings.Contains(fault.Code, "RateLimit") {
		code = pkgerrors.CodeRateLimit
	}
	return pkgerrors.Wrap(code, fault, "portal rejected request")
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return pkgerrors.CodeUnauthorized
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	default:
		return pkgerrors.CodeUpstream
	}
}

func (c *Client) log(ctx context.Context, phase, operation string, fields map[string]any) {
	if c.logger == nil {
		return
	}
	merged := map[string]any{
		"component": "classic",
		"phase":     phase,
		"operation": operation,
	}
	for key, value := range fields {
		merged[key] = value
	}
	c.logger.Info(c.logger.WithFields(ctx, merged), "classic portal call")
}

type filterOption struct {
	Name  string   `json:"name"`
	Value []string `json:"value"`
}

type dateCondition struct {
	Operation string         `json:"operation"`
	Options   []filterOption `json:"options"`
}

type invoiceConditions struct {
	CreateDate dateCondition `json:"createDate"`
}

type accountFilter struct {
	Invoices invoiceConditions `json:"invoices"`
}

func createDateFilter(from, to time.Time) accountFilter {
	return accountFilter{
		Invoices: invoiceConditions{
			CreateDate: dateCondition{
				Operation: "betweenDate",
				Options: []filterOption{
					{Name: "startDate", Value: []string{from.Format(filterLayout)}},
					{Name: "endDate", Value: []string{to.Format(filterLayout)}},
				},
			},
		},
	}
}
