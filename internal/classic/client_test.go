package classic

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelops/cloudbill/pkg/config"
	pkgerrors "github.com/kestrelops/cloudbill/pkg/errors"
	"github.com/kestrelops/cloudbill/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), config.ClassicConfig{
		APIKey:   "test-key",
		Endpoint: server.URL,
		Timeout:  5 * time.Second,
	}, testLogger())
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(context.Background(), config.ClassicConfig{}, testLogger())
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewClient(context.Background(), config.ClassicConfig{APIKey: "k"}, nil)
	assert.ErrorIs(t, err, ErrMissingLogger)
}

func TestListInvoicesSendsWindowFilter(t *testing.T) {
	var (
		gotPath   string
		gotUser   string
		gotPass   string
		gotMask   string
		gotFilter string
	)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		gotMask = r.URL.Query().Get("objectMask")
		gotFilter = r.URL.Query().Get("objectFilter")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{
			"id": 7031337,
			"createDate": "2024-03-03T00:51:00-06:00",
			"typeCode": "RECURRING",
			"invoiceTotalAmount": "1250.40",
			"invoiceTotalRecurringAmount": "1190.00",
			"invoiceTopLevelItemCount": 3
		}]`)
	}))

	zone := time.FixedZone("CST", -6*60*60)
	from := time.Date(2024, 2, 20, 0, 0, 0, 0, zone)
	to := time.Date(2024, 3, 20, 0, 0, 0, 0, zone)

	invoices, err := client.ListInvoices(context.Background(), from, to)
	require.NoError(t, err)

	assert.Equal(t, "/SoftLayer_Account/getInvoices.json", gotPath)
	assert.Equal(t, "apikey", gotUser)
	assert.Equal(t, "test-key", gotPass)
	assert.Equal(t, "mask["+invoiceMask+"]", gotMask)

	var filter accountFilter
	require.NoError(t, json.Unmarshal([]byte(gotFilter), &filter))
	condition := filter.Invoices.CreateDate
	assert.Equal(t, "betweenDate", condition.Operation)
	require.Len(t, condition.Options, 2)
	assert.Equal(t, "startDate", condition.Options[0].Name)
	assert.Equal(t, []string{"02/20/2024 00:00:00"}, condition.Options[0].Value)
	assert.Equal(t, "endDate", condition.Options[1].Name)
	assert.Equal(t, []string{"03/20/2024 00:00:00"}, condition.Options[1].Value)

	require.Len(t, invoices, 1)
	assert.Equal(t, 7031337, invoices[0].ID)
	assert.Equal(t, "RECURRING", invoices[0].TypeCode)
	assert.Equal(t, 3, invoices[0].TopLevelItemCount)
	assert.True(t, invoices[0].TotalAmount.Equal(decimal.RequireFromString("1250.40")))
}

func TestInvoiceTopLevelItemsPagination(t *testing.T) {
	var gotPath, gotLimit string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLimit = r.URL.Query().Get("resultLimit")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id": 1, "categoryCode": "guest_core", "totalRecurringAmount": "45.00"}]`)
	}))

	items, err := client.InvoiceTopLevelItems(context.Background(), 7031337, 500, 250)
	require.NoError(t, err)

	assert.Equal(t, "/SoftLayer_Billing_Invoice/7031337/getInvoiceTopLevelItems.json", gotPath)
	assert.Equal(t, "500,250", gotLimit)
	require.Len(t, items, 1)
	assert.True(t, items[0].TotalRecurringAmount.Equal(decimal.RequireFromString("45.00")))

	_, err = client.InvoiceTopLevelItems(context.Background(), 7031337, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "0,250", gotLimit, "zero limit falls back to the default page size")
}

func TestTopLevelCategories(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/SoftLayer_Product_Item_Category/getTopLevelCategories.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"id": 1, "categoryCode": "server", "name": "Server"},
			{"id": 2, "categoryCode": "guest_core", "name": "Computing Instance"}
		]`)
	}))

	categories, err := client.TopLevelCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, "guest_core", categories[1].CategoryCode)
	assert.Equal(t, "Computing Instance", categories[1].Name)
}

func TestPortalFaultMapping(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		wantCode  pkgerrors.Code
		wantFault string
	}{
		{
			name:      "unauthorized",
			status:    http.StatusUnauthorized,
			body:      `{"error": "Invalid API key", "code": "SoftLayer_Exception_User_Authentication"}`,
			wantCode:  pkgerrors.CodeUnauthorized,
			wantFault: "SoftLayer_Exception_User_Authentication",
		},
		{
			name:      "not found",
			status:    http.StatusNotFound,
			body:      `{"error": "Object does not exist", "code": "SoftLayer_Exception_ObjectNotFound"}`,
			wantCode:  pkgerrors.CodeNotFound,
			wantFault: "SoftLayer_Exception_ObjectNotFound",
		},
		{
			name:      "rate limited by status",
			status:    http.StatusTooManyRequests,
			body:      `{"error": "Slow down", "code": "SoftLayer_Exception_Public"}`,
			wantCode:  pkgerrors.CodeRateLimit,
			wantFault: "SoftLayer_Exception_Public",
		},
		{
			name:      "rate limited by fault code",
			status:    http.StatusInternalServerError,
			body:      `{"error": "Too many requests", "code": "SoftLayer_Exception_WebService_RateLimitExceeded"}`,
			wantCode:  pkgerrors.CodeRateLimit,
			wantFault: "SoftLayer_Exception_WebService_RateLimitExceeded",
		},
		{
			name:      "server error",
			status:    http.StatusInternalServerError,
			body:      `{"error": "boom", "code": "SoftLayer_Exception_Public"}`,
			wantCode:  pkgerrors.CodeUpstream,
			wantFault: "SoftLayer_Exception_Public",
		},
		{
			name:      "non json body",
			status:    http.StatusBadGateway,
			body:      "upstream exploded",
			wantCode:  pkgerrors.CodeUpstream,
			wantFault: "Bad Gateway",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))

			_, err := client.TopLevelCategories(context.Background())
			require.Error(t, err)

			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, tc.wantCode, typed.Code())

			var fault *Fault
			require.True(t, stderrors.As(err, &fault))
			assert.Equal(t, tc.wantFault, fault.FaultCode())
			assert.Equal(t, tc.status, fault.StatusCode())
		})
	}
}
