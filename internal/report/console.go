package report

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelops/cloudbill/pkg/enums"
)

const (
	consoleHeaderFormat  = "%-35s %-30s %8s %16s %16s %16s %-15s\n"
	consoleSummaryFormat = "%-35s %-30d %8s %16s %16.2f %16.2f %-15s\n"
	consoleItemFormat    = "%-35s %-30s %8d %16.3f %16.2f\n"
	consoleStatFormat    = "%-35s %-30s %8d %16s %16.2f\n"
	consoleTotalFormat   = "%-35s %-30s %8s %16s %16.2f\n"
)

// RecurringLine is one device's charges on a recurring invoice.
type RecurringLine struct {
	HostName  string
	Category  string
	Hours     int64
	Rate      decimal.Decimal
	Recurring decimal.Decimal
}

// RecurringInvoice is one recurring invoice with its lines split by
// billing mode: hourly items billed in arrears and monthly items billed
// in advance.
type RecurringInvoice struct {
	ID             int
	Date           time.Time
	TotalAmount    decimal.Decimal
	RecurringTotal decimal.Decimal
	Hourly         []RecurringLine
	Monthly        []RecurringLine
}

// WriteRecurringReport prints recurring invoices with their line detail
// and per-mode totals, min/max, and averages.
func WriteRecurringReport(w io.Writer, invoices []RecurringInvoice) error {
	out := &consoleWriter{w: w}

	out.printf(consoleHeaderFormat, "Invoice Date /", "Invoice Number /", "Hours", "Hourly Rate", "Recurring Charge", "Invoice Amount", "Type")
	out.printf(consoleHeaderFormat, "Hostname", "Description", "", "", "", "", "")
	out.printf(consoleHeaderFormat, "==============", "================", "=====", "===========", "================", "==============", "====")

	for _, invoice := range invoices {
		out.printf(consoleSummaryFormat,
			invoice.Date.Format(dateLayout), invoice.ID, "", "",
			money(invoice.RecurringTotal), money(invoice.TotalAmount),
			enums.InvoiceTypeRecurring.String())

		out.printf("\n** ACTUAL HOURLY USAGE INVOICED IN ARREARS\n\n")
		var stats hourlyStats
		for _, line := range invoice.Hourly {
			out.printf(consoleItemFormat,
				truncate(line.HostName, 35), truncate(line.Category, 30),
				line.Hours, money(line.Rate), money(line.Recurring))
			stats.observe(line)
		}
		out.printf("\n")
		if stats.count > 0 {
			out.printf(consoleStatFormat, "Hourly Totals",
				fmt.Sprintf("%d Instances", stats.count), stats.hours, "", money(stats.total))
			out.printf(consoleStatFormat, "Hourly Min", "", stats.minHours, "", money(stats.minTotal))
			out.printf(consoleStatFormat, "Hourly Max", "", stats.maxHours, "", money(stats.maxTotal))
			out.printf("%-35s %-30s %8.1f %16s %16.2f\n", "Hourly Average", "",
				float64(stats.hours)/float64(stats.count), "",
				money(stats.total.Div(decimal.NewFromInt(int64(stats.count))).Round(2)))
		}

		out.printf("\n** MONTHLY & OTHER ITEMS INVOICED IN ADVANCE\n\n")
		var monthlyTotal decimal.Decimal
		for _, line := range invoice.Monthly {
			out.printf(consoleItemFormat,
				truncate(line.HostName, 35), truncate(line.Category, 30),
				line.Hours, money(line.Rate), money(line.Recurring))
			monthlyTotal = monthlyTotal.Add(line.Recurring)
		}
		out.printf("\n")
		out.printf(consoleTotalFormat, "Monthly totals", "", "", "", money(monthlyTotal))
		out.printf("\n")
	}
	return out.err
}

type consoleWriter struct {
	w   io.Writer
	err error
}

func (c *consoleWriter) printf(format string, args ...any) {
	if c.err != nil {
		return
	}
	_, c.err = fmt.Fprintf(c.w, format, args...)
}

type hourlyStats struct {
	count    int
	hours    int64
	total    decimal.Decimal
	minHours int64
	minTotal decimal.Decimal
	maxHours int64
	maxTotal decimal.Decimal
}

func (s *hourlyStats) observe(line RecurringLine) {
	if s.count == 0 || line.Hours < s.minHours {
		s.minHours = line.Hours
		s.minTotal = line.Recurring
	}
	if s.count == 0 || line.Hours > s.maxHours {
		s.maxHours = line.Hours
		s.maxTotal = line.Recurring
	}
	s.count++
	s.hours += line.Hours
	s.total = s.total.Add(line.Recurring)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
