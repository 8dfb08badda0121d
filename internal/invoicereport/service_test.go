package invoicereport

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelops/cloudbill/internal/classic"
	"github.com/kestrelops/cloudbill/internal/ledger"
	"github.com/kestrelops/cloudbill/internal/metering"
	"github.com/kestrelops/cloudbill/pkg/config"
	pkgerrors "github.com/kestrelops/cloudbill/pkg/errors"
	"github.com/kestrelops/cloudbill/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

type fakePortal struct {
	categoriesFn func(ctx context.Context) ([]classic.Category, error)
	invoicesFn   func(ctx context.Context, from, to time.Time) ([]classic.Invoice, error)
	itemsFn      func(ctx context.Context, invoiceID, offset, limit int) ([]classic.LineItem, error)
}

func (f *fakePortal) TopLevelCategories(ctx context.Context) ([]classic.Category, error) {
	if f.categoriesFn == nil {
		return nil, nil
	}
	return f.categoriesFn(ctx)
}

func (f *fakePortal) ListInvoices(ctx context.Context, from, to time.Time) ([]classic.Invoice, error) {
	if f.invoicesFn == nil {
		return nil, nil
	}
	return f.invoicesFn(ctx, from, to)
}

func (f *fakePortal) InvoiceTopLevelItems(ctx context.Context, invoiceID, offset, limit int) ([]classic.LineItem, error) {
	if f.itemsFn == nil {
		return nil, nil
	}
	return f.itemsFn(ctx, invoiceID, offset, limit)
}

type fakeIdentity struct {
	accountFn func(ctx context.Context) (string, error)
}

func (f *fakeIdentity) AccountID(ctx context.Context) (string, error) {
	if f.accountFn == nil {
		return "acct-1", nil
	}
	return f.accountFn(ctx)
}

type fakeUsage struct {
	usageFn func(ctx context.Context, accountID, month string) (*metering.AccountUsage, error)
}

func (f *fakeUsage) AccountUsage(ctx context.Context, accountID, month string) (*metering.AccountUsage, error) {
	if f.usageFn == nil {
		return &metering.AccountUsage{AccountID: accountID, Month: month}, nil
	}
	return f.usageFn(ctx, accountID, month)
}

type fakeMailer struct {
	sendFn func(ctx context.Context, path string, windowStart, windowEnd time.Time) error
}

func (f *fakeMailer) SendReport(ctx context.Context, path string, windowStart, windowEnd time.Time) error {
	if f.sendFn == nil {
		return nil
	}
	return f.sendFn(ctx, path, windowStart, windowEnd)
}

type fakeUploader struct {
	uploadFn func(ctx context.Context, path, name string) error
}

func (f *fakeUploader) Upload(ctx context.Context, path, name string) error {
	if f.uploadFn == nil {
		return nil
	}
	return f.uploadFn(ctx, path, name)
}

func testParams() Params {
	return Params{
		Logger:   testLogger(),
		Portal:   &fakePortal{},
		Identity: &fakeIdentity{},
		Metering: &fakeUsage{},
		Config: config.ReportConfig{
			StartMonth: "2024-01",
			EndMonth:   "2024-01",
			OutputFile: "invoice-analysis.xlsx",
		},
	}
}

// newTestService builds the service and disconnects the filesystem seams.
func newTestService(t *testing.T, params Params) (*Service, *[]ledger.Record, *[]ledger.UsageRow) {
	t.Helper()
	svc, err := New(params)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var (
		records []ledger.Record
		usage   []ledger.UsageRow
	)
	svc.writeWorkbook = func(path string, r []ledger.Record, u []ledger.UsageRow) error {
		records = r
		usage = u
		return nil
	}
	svc.removeFn = func(path string) error { return nil }
	return svc, &records, &usage
}

func wallClock(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}

func TestNewValidation(t *testing.T) {
	params := testParams()
	params.Logger = nil
	if _, err := New(params); err != ErrMissingLogger {
		t.Errorf("nil logger: got %v", err)
	}

	params = testParams()
	params.Portal = nil
	if _, err := New(params); err != ErrMissingPortal {
		t.Errorf("nil portal: got %v", err)
	}

	params = testParams()
	params.Identity = nil
	if _, err := New(params); err != ErrMissingIdentity {
		t.Errorf("nil identity: got %v", err)
	}

	params = testParams()
	params.Metering = nil
	if _, err := New(params); err != ErrMissingMetering {
		t.Errorf("nil metering: got %v", err)
	}
}

func TestRunCollectsWindowAndSkipsZeroInvoices(t *testing.T) {
	var (
		gotFrom     time.Time
		gotTo       time.Time
		fetchedIDs  []int
		gotAccount  string
		usageMonths []string
	)
	invoiceDate := time.Date(2024, time.January, 5, 0, 51, 0, 0, time.UTC)

	params := testParams()
	params.Portal = &fakePortal{
		categoriesFn: func(ctx context.Context) ([]classic.Category, error) {
			return []classic.Category{{ID: 1, CategoryCode: "server", Name: "Server"}}, nil
		},
		invoicesFn: func(ctx context.Context, from, to time.Time) ([]classic.Invoice, error) {
			gotFrom, gotTo = from, to
			return []classic.Invoice{
				{
					ID:                   100,
					CreateDate:           invoiceDate,
					TypeCode:             "RECURRING",
					TotalAmount:          classic.NewAmount(decimal.RequireFromString("150.25")),
					TotalRecurringAmount: classic.NewAmount(decimal.RequireFromString("150.25")),
					TopLevelItemCount:    1,
				},
				{ID: 101, CreateDate: invoiceDate, TypeCode: "RECURRING"},
			}, nil
		},
		itemsFn: func(ctx context.Context, invoiceID, offset, limit int) ([]classic.LineItem, error) {
			fetchedIDs = append(fetchedIDs, invoiceID)
			return []classic.LineItem{
				{
					ID:                   9001,
					BillingItemID:        7001,
					CategoryCode:         "server",
					Category:             classic.CategoryRef{Name: "Server"},
					Product:              classic.Product{Description: "Virtual Server"},
					CreateDate:           invoiceDate,
					TotalRecurringAmount: classic.NewAmount(decimal.RequireFromString("150.25")),
				},
			}, nil
		},
	}
	params.Identity = &fakeIdentity{
		accountFn: func(ctx context.Context) (string, error) { return "abc123", nil },
	}
	params.Metering = &fakeUsage{
		usageFn: func(ctx context.Context, accountID, month string) (*metering.AccountUsage, error) {
			gotAccount = accountID
			usageMonths = append(usageMonths, month)
			return &metering.AccountUsage{
				AccountID: accountID,
				Month:     month,
				Resources: []metering.ResourceUsage{
					{
						ResourceName:    "Cloudant",
						BillableCost:    decimal.RequireFromString("15.5"),
						NonBillableCost: decimal.Zero,
						Plans: []metering.PlanUsage{
							{
								PlanName: "Standard",
								Billable: true,
								Cost:     decimal.RequireFromString("15.5"),
								Usage: []metering.MetricUsage{
									{Metric: "READ_CAPACITY", Unit: "LOOKUPS", Quantity: decimal.NewFromInt(100), Cost: decimal.RequireFromString("15.5")},
								},
							},
						},
					},
				},
			}, nil
		},
	}

	svc, records, usage := newTestService(t, params)
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if wallClock(gotFrom) != "2023-12-20 00:00" || wallClock(gotTo) != "2024-01-20 00:00" {
		t.Errorf("window: got %s .. %s", wallClock(gotFrom), wallClock(gotTo))
	}
	if len(fetchedIDs) != 1 || fetchedIDs[0] != 100 {
		t.Errorf("fetched invoices: got %v, want [100]", fetchedIDs)
	}

	if len(*records) != 1 {
		t.Fatalf("records: got %d, want 1", len(*records))
	}
	record := (*records)[0]
	if record.InvoiceID != 100 || record.CycleLabel != "2024-01" {
		t.Errorf("record: got invoice %d cycle %s", record.InvoiceID, record.CycleLabel)
	}
	if record.Category != "Server" || record.Description != "Virtual Server" {
		t.Errorf("record classification: got %q / %q", record.Category, record.Description)
	}

	if gotAccount != "abc123" {
		t.Errorf("account: got %q", gotAccount)
	}
	if len(usageMonths) != 1 || usageMonths[0] != "2023-11" {
		t.Errorf("usage months: got %v, want [2023-11]", usageMonths)
	}
	if len(*usage) != 1 {
		t.Fatalf("usage rows: got %d, want 1", len(*usage))
	}
	row := (*usage)[0]
	if row.UsageMonth != "2023-11" || row.CycleLabel != "2024-01" {
		t.Errorf("usage row cycle: got %s / %s", row.UsageMonth, row.CycleLabel)
	}
	if row.ResourceName != "Cloudant" || row.PlanName != "Standard" || row.Unit != "LOOKUPS" {
		t.Errorf("usage row: got %+v", row)
	}
	if !row.BillableCost.Equal(decimal.RequireFromString("15.5")) {
		t.Errorf("billable cost: got %s", row.BillableCost)
	}
}

func TestRunPagesInvoiceItems(t *testing.T) {
	var (
		offsets []int
		limits  []int
	)
	invoiceDate := time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC)

	params := testParams()
	params.PageSize = 2
	params.Portal = &fakePortal{
		invoicesFn: func(ctx context.Context, from, to time.Time) ([]classic.Invoice, error) {
			return []classic.Invoice{{
				ID:                100,
				CreateDate:        invoiceDate,
				TypeCode:          "RECURRING",
				TotalAmount:       classic.NewAmount(decimal.NewFromInt(500)),
				TopLevelItemCount: 5,
			}}, nil
		},
		itemsFn: func(ctx context.Context, invoiceID, offset, limit int) ([]classic.LineItem, error) {
			offsets = append(offsets, offset)
			limits = append(limits, limit)
			remaining := 5 - offset
			if remaining > limit {
				remaining = limit
			}
			page := make([]classic.LineItem, 0, remaining)
			for i := 0; i < remaining; i++ {
				page = append(page, classic.LineItem{
					ID:         offset + i + 1,
					CreateDate: invoiceDate,
				})
			}
			return page, nil
		},
	}

	svc, records, _ := newTestService(t, params)
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(offsets) != 3 || offsets[0] != 0 || offsets[1] != 2 || offsets[2] != 4 {
		t.Errorf("offsets: got %v, want [0 2 4]", offsets)
	}
	for i, limit := range limits {
		if limit != 2 {
			t.Errorf("limit %d: got %d, want 2", i, limit)
		}
	}
	if len(*records) != 5 {
		t.Errorf("records: got %d, want 5", len(*records))
	}
}

func TestRunRollingWindow(t *testing.T) {
	var gotFrom, gotTo time.Time
	params := testParams()
	params.Config = config.ReportConfig{Months: 2, OutputFile: "invoice-analysis.xlsx"}
	params.Now = func() time.Time {
		return time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	}
	params.Portal = &fakePortal{
		invoicesFn: func(ctx context.Context, from, to time.Time) ([]classic.Invoice, error) {
			gotFrom, gotTo = from, to
			return nil, nil
		},
	}

	svc, _, _ := newTestService(t, params)
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// March 10 is before the cutoff, so the window ends on the February
	// cycle and reaches back two cycles to January.
	if wallClock(gotFrom) != "2023-12-20 00:00" || wallClock(gotTo) != "2024-02-20 00:00" {
		t.Errorf("window: got %s .. %s", wallClock(gotFrom), wallClock(gotTo))
	}
}

func TestRunDeliversReport(t *testing.T) {
	var (
		mailPath    string
		mailStart   time.Time
		mailEnd     time.Time
		uploadPath  string
		uploadName  string
		removedPath string
	)
	params := testParams()
	params.RemoveFile = true
	params.Mailer = &fakeMailer{
		sendFn: func(ctx context.Context, path string, windowStart, windowEnd time.Time) error {
			mailPath, mailStart, mailEnd = path, windowStart, windowEnd
			return nil
		},
	}
	params.Uploader = &fakeUploader{
		uploadFn: func(ctx context.Context, path, name string) error {
			uploadPath, uploadName = path, name
			return nil
		},
	}

	svc, _, _ := newTestService(t, params)
	svc.removeFn = func(path string) error {
		removedPath = path
		return nil
	}
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if mailPath != "invoice-analysis.xlsx" {
		t.Errorf("mail path: got %q", mailPath)
	}
	if wallClock(mailStart) != "2023-12-20 00:00" || wallClock(mailEnd) != "2024-01-20 00:00" {
		t.Errorf("mail window: got %s .. %s", wallClock(mailStart), wallClock(mailEnd))
	}
	if uploadPath != "invoice-analysis.xlsx" || uploadName != "invoice-analysis.xlsx" {
		t.Errorf("upload: got %q as %q", uploadPath, uploadName)
	}
	if removedPath != "invoice-analysis.xlsx" {
		t.Errorf("removed: got %q", removedPath)
	}
}

func TestRunDeliveryFailureDoesNotFailRun(t *testing.T) {
	removed := false
	params := testParams()
	params.RemoveFile = true
	params.Mailer = &fakeMailer{
		sendFn: func(ctx context.Context, path string, windowStart, windowEnd time.Time) error {
			return pkgerrors.New(pkgerrors.CodeDelivery, "mail service rejected message")
		},
	}
	params.Uploader = &fakeUploader{}

	svc, _, _ := newTestService(t, params)
	svc.removeFn = func(path string) error {
		removed = true
		return nil
	}
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !removed {
		t.Error("file should be removed after the surviving upload")
	}
}

func TestRunKeepsFileWhenEveryDeliveryFails(t *testing.T) {
	removed := false
	params := testParams()
	params.RemoveFile = true
	params.Mailer = &fakeMailer{
		sendFn: func(ctx context.Context, path string, windowStart, windowEnd time.Time) error {
			return errors.New("smtp down")
		},
	}
	params.Uploader = &fakeUploader{
		uploadFn: func(ctx context.Context, path, name string) error {
			return errors.New("bucket gone")
		},
	}

	svc, _, _ := newTestService(t, params)
	svc.removeFn = func(path string) error {
		removed = true
		return nil
	}
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if removed {
		t.Error("file must stay when no channel accepted it")
	}
}

func TestRunUsageFailureIsFatal(t *testing.T) {
	wrapped := pkgerrors.New(pkgerrors.CodeUpstream, "usage reports service rejected request")
	params := testParams()
	params.Metering = &fakeUsage{
		usageFn: func(ctx context.Context, accountID, month string) (*metering.AccountUsage, error) {
			return nil, wrapped
		},
	}

	svc, err := New(params)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	workbookWritten := false
	svc.writeWorkbook = func(path string, r []ledger.Record, u []ledger.UsageRow) error {
		workbookWritten = true
		return nil
	}

	err = svc.Run(context.Background())
	if !errors.Is(err, wrapped) {
		t.Fatalf("Run: got %v, want wrapped usage error", err)
	}
	if workbookWritten {
		t.Error("workbook must not be written after a usage failure")
	}
}

func TestRunPortalFailureIsFatal(t *testing.T) {
	wrapped := pkgerrors.New(pkgerrors.CodeUnauthorized, "portal rejected request")
	params := testParams()
	params.Portal = &fakePortal{
		invoicesFn: func(ctx context.Context, from, to time.Time) ([]classic.Invoice, error) {
			return nil, wrapped
		},
	}

	svc, _, _ := newTestService(t, params)
	if err := svc.Run(context.Background()); !errors.Is(err, wrapped) {
		t.Fatalf("Run: got %v, want portal error", err)
	}
}

func TestRunBadWindowConfig(t *testing.T) {
	params := testParams()
	params.Config.StartMonth = "2024-02"
	params.Config.EndMonth = "2024-01"

	svc, _, _ := newTestService(t, params)
	err := svc.Run(context.Background())
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConfig {
		t.Fatalf("expected config error, got %v", err)
	}
}
