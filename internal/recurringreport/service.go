// Package recurringreport prints recurring invoices for a date range to the
// console, splitting each invoice into hourly items billed in arrears and
// monthly items billed in advance.
package recurringreport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/kestrelops/cloudbill/internal/classic"
	"github.com/kestrelops/cloudbill/internal/ledger"
	"github.com/kestrelops/cloudbill/internal/report"
	"github.com/kestrelops/cloudbill/pkg/enums"
	pkgerrors "github.com/kestrelops/cloudbill/pkg/errors"
	"github.com/kestrelops/cloudbill/pkg/logger"
	"github.com/kestrelops/cloudbill/pkg/metrics"
)

var (
	// ErrMissingLogger is returned when the service is built without a logger.
	ErrMissingLogger = errors.New("recurringreport: logger is required")
	// ErrMissingPortal is returned when the service is built without a portal client.
	ErrMissingPortal = errors.New("recurringreport: portal client is required")
	// ErrMissingWriter is returned when the service is built without an output sink.
	ErrMissingWriter = errors.New("recurringreport: output writer is required")
)

const (
	subcommand = "recurring"

	// windowLayout is the date format the range flags accept.
	windowLayout = "01/02/2006"

	unnamedDevice = "Unnamed Device"
)

type portalClient interface {
	ListInvoices(ctx context.Context, from, to time.Time) ([]classic.Invoice, error)
	InvoiceTopLevelItems(ctx context.Context, invoiceID, offset, limit int) ([]classic.LineItem, error)
}

// Params wires the service. Metrics may be left nil.
type Params struct {
	Logger  *logger.Logger
	Portal  portalClient
	Metrics *metrics.RunMetrics

	// Start and End bound invoice creation dates, inclusive, as mm/dd/yyyy.
	Start string
	End   string

	Writer   io.Writer
	PageSize int
}

// Service prints the recurring invoice report.
type Service struct {
	logger  *logger.Logger
	portal  portalClient
	metrics *metrics.RunMetrics

	start string
	end   string

	writer   io.Writer
	pageSize int
}

// New validates the wiring and builds the service.
func New(params Params) (*Service, error) {
	if params.Logger == nil {
		return nil, ErrMissingLogger
	}
	if params.Portal == nil {
		return nil, ErrMissingPortal
	}
	if params.Writer == nil {
		return nil, ErrMissingWriter
	}

	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = classic.DefaultPageSize
	}

	return &Service{
		logger:   params.Logger,
		portal:   params.Portal,
		metrics:  params.Metrics,
		start:    params.Start,
		end:      params.End,
		writer:   params.Writer,
		pageSize: pageSize,
	}, nil
}

// Run fetches the recurring invoices in the date range and prints them.
func (s *Service) Run(ctx context.Context) error {
	from, to, err := s.window()
	if err != nil {
		return err
	}

	s.log(ctx, "fetch", "window", map[string]any{
		"from": from.Format("2006-01-02"),
		"to":   to.Format("2006-01-02"),
	})

	invoices, err := s.portal.ListInvoices(ctx, from, to)
	if err != nil {
		return err
	}

	classifier := ledger.NewClassifier(nil)
	var (
		result  []report.RecurringInvoice
		hourly  int
		monthly int
	)
	for _, invoice := range invoices {
		invoiceType, _ := enums.ParseInvoiceType(invoice.TypeCode)
		if invoiceType != enums.InvoiceTypeRecurring || !invoice.TotalAmount.IsPositive() {
			continue
		}

		ctxInvoice := s.logger.WithInvoiceID(ctx, invoice.ID)
		items, err := s.invoiceItems(ctxInvoice, invoice)
		if err != nil {
			return err
		}

		entry := buildRecurringInvoice(classifier, invoice, items)
		hourly += len(entry.Hourly)
		monthly += len(entry.Monthly)
		result = append(result, entry)
		s.log(ctxInvoice, "fetch", "invoice_items", map[string]any{
			"hourly":  len(entry.Hourly),
			"monthly": len(entry.Monthly),
		})
	}

	s.metrics.SetInvoices(subcommand, len(result))
	s.metrics.SetRows(subcommand, "hourly", hourly)
	s.metrics.SetRows(subcommand, "monthly", monthly)

	return report.WriteRecurringReport(s.writer, result)
}

// window parses the inclusive date range into reference zone bounds: the
// first moment of the start day through the last second of the end day.
func (s *Service) window() (time.Time, time.Time, error) {
	from, err := time.ParseInLocation(windowLayout, s.start, ledger.ReferenceZone())
	if err != nil {
		return time.Time{}, time.Time{}, pkgerrors.Wrap(pkgerrors.CodeConfig, err, "invalid start date, want mm/dd/yyyy")
	}
	end, err := time.ParseInLocation(windowLayout, s.end, ledger.ReferenceZone())
	if err != nil {
		return time.Time{}, time.Time{}, pkgerrors.Wrap(pkgerrors.CodeConfig, err, "invalid end date, want mm/dd/yyyy")
	}
	if from.After(end) {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeConfig, "start date must not be after end date")
	}

	to := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, ledger.ReferenceZone())
	return from, to, nil
}

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

// buildRecurringInvoice splits an invoice's lines by billing mode. Hourly
// items carry an hourly fee field even when it is zero; monthly items omit
// it entirely and only count with a positive recurring charge.
func buildRecurringInvoice(classifier *ledger.Classifier, invoice classic.Invoice, items []classic.LineItem) report.RecurringInvoice {
	entry := report.RecurringInvoice{
		ID:             invoice.ID,
		Date:           ledger.ReferenceTime(invoice.CreateDate),
		TotalAmount:    invoice.TotalAmount.Decimal,
		RecurringTotal: invoice.TotalRecurringAmount.Decimal,
	}

	for _, item := range items {
		line := report.RecurringLine{
			HostName:  ledger.HostNameFor(item),
			Category:  classifier.CategoryName(item),
			Recurring: item.TotalRecurringAmount.Decimal,
		}
		if line.HostName == "" {
			line.HostName = unnamedDevice
		}

		if item.HourlyRecurringFee != nil {
			fee := ledger.EffectiveHourlyFee(item)
			line.Rate = fee
			line.Hours = ledger.HoursFor(item.TotalRecurringAmount.Decimal, fee)
			entry.Hourly = append(entry.Hourly, line)
			continue
		}
		if item.TotalRecurringAmount.IsPositive() {
			entry.Monthly = append(entry.Monthly, line)
		}
	}
	return entry
}

func (s *Service) log(ctx context.Context, phase, operation string, fields map[string]any) {
	if s.logger == nil {
		return
	}
	merged := map[string]any{
		"component": "recurringreport",
		"phase":     phase,
		"operation": operation,
	}
	for key, value := range fields {
		merged[key] = value
	}
	s.logger.Info(s.logger.WithFields(ctx, merged), "recurring invoice report")
}
