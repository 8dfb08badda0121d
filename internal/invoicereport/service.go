// Package invoicereport drives a full report run: fetch the invoice window
// from the classic portal, normalize line items into the detail ledger, pull
// platform usage for the matching months, render the workbook, and hand it
// to the configured delivery channels.
package invoicereport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"github.com/kestrelops/cloudbill/internal/classic"
	"github.com/kestrelops/cloudbill/internal/ledger"
	"github.com/kestrelops/cloudbill/internal/metering"
	"github.com/kestrelops/cloudbill/internal/report"
	"github.com/kestrelops/cloudbill/pkg/config"
	pkgerrors "github.com/kestrelops/cloudbill/pkg/errors"
	"github.com/kestrelops/cloudbill/pkg/logger"
	"github.com/kestrelops/cloudbill/pkg/metrics"
)

var (
	// ErrMissingLogger is returned when the service is built without a logger.
	ErrMissingLogger = errors.New("invoicereport: logger is required")
	// ErrMissingPortal is returned when the service is built without a portal client.
	ErrMissingPortal = errors.New("invoicereport: portal client is required")
	// ErrMissingIdentity is returned when the service is built without an identity client.
	ErrMissingIdentity = errors.New("invoicereport: identity client is required")
	// ErrMissingMetering is returned when the service is built without a usage client.
	ErrMissingMetering = errors.New("invoicereport: usage client is required")
)

// subcommand labels this run in the exported metrics.
const subcommand = "report"

type portalClient interface {
	TopLevelCategories(ctx context.Context) ([]classic.Category, error)
	ListInvoices(ctx context.Context, from, to time.Time) ([]classic.Invoice, error)
	InvoiceTopLevelItems(ctx context.Context, invoiceID, offset, limit int) ([]classic.LineItem, error)
}

type identityClient interface {
	AccountID(ctx context.Context) (string, error)
}

type usageClient interface {
	AccountUsage(ctx context.Context, accountID, month string) (*metering.AccountUsage, error)
}

type reportMailer interface {
	SendReport(ctx context.Context, path string, windowStart, windowEnd time.Time) error
}

type reportUploader interface {
	Upload(ctx context.Context, path, name string) error
}

// Params wires the service. Mailer and Uploader are optional delivery
// channels; Metrics and Now may be left nil for defaults.
type Params struct {
	Logger   *logger.Logger
	Portal   portalClient
	Identity identityClient
	Metering usageClient
	Metrics  *metrics.RunMetrics

	Config config.ReportConfig

	Mailer   reportMailer
	Uploader reportUploader

	// RemoveFile removes the local workbook once at least one delivery
	// channel accepted it.
	RemoveFile bool

	PageSize int
	Now      func() time.Time
}

// Service runs invoice analysis reports.
type Service struct {
	logger   *logger.Logger
	portal   portalClient
	identity identityClient
	metering usageClient
	metrics  *metrics.RunMetrics

	cfg config.ReportConfig

	mailer   reportMailer
	uploader reportUploader

	removeFile bool
	pageSize   int
	now        func() time.Time

	// Seams for delivery cleanup tests.
	writeWorkbook func(path string, records []ledger.Record, usage []ledger.UsageRow) error
	removeFn      func(path string) error
}

// New validates the wiring and builds the service.
func New(params Params) (*Service, error) {
	if params.Logger == nil {
		return nil, ErrMissingLogger
	}
	if params.Portal == nil {
		return nil, ErrMissingPortal
	}
	if params.Identity == nil {
		return nil, ErrMissingIdentity
	}
	if params.Metering == nil {
		return nil, ErrMissingMetering
	}

	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = classic.DefaultPageSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		logger:        params.Logger,
		portal:        params.Portal,
		identity:      params.Identity,
		metering:      params.Metering,
		metrics:       params.Metrics,
		cfg:           params.Config,
		mailer:        params.Mailer,
		uploader:      params.Uploader,
		removeFile:    params.RemoveFile,
		pageSize:      pageSize,
		now:           now,
		writeWorkbook: report.WriteWorkbook,
		removeFn:      os.Remove,
	}, nil
}

// Run executes one report: fetch, normalize, render, deliver. Delivery
// failures are logged and do not fail the run; everything upstream of the
// finished workbook does.
func (s *Service) Run(ctx context.Context) error {
	startLabel, endLabel := s.window()
	from, to, err := ledger.FetchWindow(startLabel, endLabel)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeConfig, err, "resolve invoice window")
	}

	ctx = s.logger.WithCycle(ctx, startLabel+".."+endLabel)
	s.log(ctx, "fetch", "window", map[string]any{
		"from": from.Format("2006-01-02"),
		"to":   to.Format("2006-01-02"),
	})

	categories, err := s.portal.TopLevelCategories(ctx)
	if err != nil {
		return err
	}
	classifier := ledger.NewClassifier(categories)

	invoices, err := s.portal.ListInvoices(ctx, from, to)
	if err != nil {
		return err
	}

	var records []ledger.Record
	processed := 0
	for _, invoice := range invoices {
		if invoice.TotalAmount.IsZero() {
			continue
		}
		ctxInvoice := s.logger.WithInvoiceID(ctx, invoice.ID)
		items, err := s.invoiceItems(ctxInvoice, invoice)
		if err != nil {
			return err
		}
		records = append(records, classifier.Normalize(invoice, items)...)
		processed++
		s.log(ctxInvoice, "fetch", "invoice_items", map[string]any{
			"items": len(items),
		})
	}

	usageRows, err := s.collectUsage(ctx, startLabel, endLabel)
	if err != nil {
		return err
	}

	s.metrics.SetInvoices(subcommand, processed)
	s.metrics.SetRows(subcommand, "detail", len(records))
	s.metrics.SetRows(subcommand, "usage", len(usageRows))

	if err := s.writeWorkbook(s.cfg.OutputFile, records, usageRows); err != nil {
		return err
	}
	s.log(ctx, "render", "workbook", map[string]any{
		"file":     s.cfg.OutputFile,
		"invoices": processed,
		"records":  len(records),
		"usage":    len(usageRows),
	})

	s.deliver(ctx, from, to)
	return nil
}

// window resolves the cycle label range, explicit months winning over the
// rolling default.
func (s *Service) window() (string, string) {
	if s.cfg.StartMonth != "" && s.cfg.EndMonth != "" {
		return s.cfg.StartMonth, s.cfg.EndMonth
	}
	return ledger.RollingWindow(s.now(), s.cfg.Months)
}

// invoiceItems pages through an invoice's top level items. The portal caps
// page sizes, so large invoices arrive in several calls.
func (s *Service) invoiceItems(ctx context.Context, invoice classic.Invoice) ([]classic.LineItem, error) {
	var items []classic.LineItem
	for offset := 0; ; offset += s.pageSize {
		page, err := s.portal.InvoiceTopLevelItems(ctx, invoice.ID, offset, s.pageSize)
		if err != nil {
			return nil, err
		}
		items = append(items, page...)
		if len(page) < s.pageSize {
			break
		}
		if invoice.TopLevelItemCount > 0 && len(items) >= invoice.TopLevelItemCount {
			break
		}
	}
	return items, nil
}

// collectUsage pulls the platform usage months feeding the cycle range and
// flattens each account report into ledger rows.
func (s *Service) collectUsage(ctx context.Context, startLabel, endLabel string) ([]ledger.UsageRow, error) {
	months, err := ledger.UsageMonths(startLabel, endLabel)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfig, err, "resolve usage months")
	}

	accountID, err := s.identity.AccountID(ctx)
	if err != nil {
		return nil, err
	}

	var rows []ledger.UsageRow
	for _, month := range months {
		cycle, err := ledger.UsageCycle(month)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve usage cycle")
		}
		usage, err := s.metering.AccountUsage(ctx, accountID, month)
		if err != nil {
			return nil, err
		}
		rows = append(rows, flattenUsage(month, cycle, usage)...)
		s.log(ctx, "fetch", "account_usage", map[string]any{
			"month":     month,
			"resources": len(usage.Resources),
		})
	}
	return rows, nil
}

// flattenUsage expands a usage report into one row per resource, plan, and
// metric. Resource level charges repeat on every metric row, matching how
// the usage sheet reads.
func flattenUsage(month, cycle string, usage *metering.AccountUsage) []ledger.UsageRow {
	var rows []ledger.UsageRow
	for _, resource := range usage.Resources {
		for _, plan := range resource.Plans {
			for _, metric := range plan.Usage {
				rows = append(rows, ledger.UsageRow{
					UsageMonth:      month,
					CycleLabel:      cycle,
					ResourceName:    resource.ResourceName,
					PlanName:        plan.PlanName,
					BillableCost:    resource.BillableCost,
					NonBillableCost: resource.NonBillableCost,
					Unit:            metric.Unit,
					Quantity:        metric.Quantity,
					Cost:            metric.Cost,
				})
			}
		}
	}
	return rows
}

// deliver fans the workbook out to the configured channels. Failures are
// collected and logged; a finished report on disk beats a failed run.
func (s *Service) deliver(ctx context.Context, windowStart, windowEnd time.Time) {
	if s.mailer == nil && s.uploader == nil {
		return
	}

	var errs error
	delivered := 0
	if s.mailer != nil {
		if err := s.mailer.SendReport(ctx, s.cfg.OutputFile, windowStart, windowEnd); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			delivered++
		}
	}
	if s.uploader != nil {
		if err := s.uploader.Upload(ctx, s.cfg.OutputFile, filepath.Base(s.cfg.OutputFile)); err != nil {
			errs = multierr.Append(errs, err)
		} else {
			delivered++
		}
	}

	if errs != nil {
		s.logger.Error(ctx, "report delivery failed", errs)
	}
	if s.removeFile && delivered > 0 {
		if err := s.removeFn(s.cfg.OutputFile); err != nil {
			s.logger.Error(ctx, "remove delivered report file", err)
		} else {
			s.log(ctx, "deliver", "cleanup", map[string]any{
				"file": s.cfg.OutputFile,
			})
		}
	}
}

func (s *Service) log(ctx context.Context, phase, operation string, fields map[string]any) {
	if s.logger == nil {
		return
	}
	merged := map[string]any{
		"component": "invoicereport",
		"phase":     phase,
		"operation": operation,
	}
	for key, value := range fields {
		merged[key] = value
	}
	s.logger.Info(s.logger.WithFields(ctx, merged), "invoice report run")
}
