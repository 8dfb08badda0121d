package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelops/cloudbill/pkg/enums"
)

const (
	// cycleCutoffDay is the last invoice day belonging to a billing cycle.
	// Invoices dated the 20th onward roll into the next month's cycle.
	cycleCutoffDay = 19

	monthLayout = "2006-01"
)

// referenceZone anchors invoice dates, cycle cutoffs, and fetch windows.
// The portal bills in US Central time.
var referenceZone = loadReferenceZone()

func loadReferenceZone() *time.Location {
	if loc, err := time.LoadLocation("America/Chicago"); err == nil {
		return loc
	}
	return time.FixedZone("CST", -6*60*60)
}

// ReferenceTime rebases a timestamp into the billing reference zone.
func ReferenceTime(t time.Time) time.Time {
	return t.In(referenceZone)
}

// ReferenceZone is the billing calendar's time zone.
func ReferenceZone() *time.Location {
	return referenceZone
}

// CycleLabel assigns a timestamp to its billing cycle month.
func CycleLabel(t time.Time) string {
	t = t.In(referenceZone)
	if t.Day() > cycleCutoffDay {
		return AddMonths(t, 1).Format(monthLayout)
	}
	return t.Format(monthLayout)
}

// FetchWindow converts a cycle label range into the invoice creation
// window that feeds it: from the 20th of the month before the first cycle
// up to the 20th of the last cycle, midnight reference time.
func FetchWindow(startLabel, endLabel string) (time.Time, time.Time, error) {
	start, err := parseMonth(startLabel)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start month: %w", err)
	}
	end, err := parseMonth(endLabel)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end month: %w", err)
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start month %s is after end month %s", startLabel, endLabel)
	}

	from := AddMonths(time.Date(start.Year(), start.Month(), 20, 0, 0, 0, 0, referenceZone), -1)
	to := time.Date(end.Year(), end.Month(), 20, 0, 0, 0, 0, referenceZone)
	return from, to, nil
}

// RollingWindow derives the cycle label range for a trailing month count.
// The cycle in progress only counts once its cutoff has passed, so before
// the 20th the range ends at the previous month.
func RollingWindow(now time.Time, months int) (string, string) {
	if months < 1 {
		months = 1
	}
	now = now.In(referenceZone)

	end := now
	if now.Day() <= cycleCutoffDay {
		end = AddMonths(now, -1)
	}
	start := AddMonths(end, -(months - 1))
	return start.Format(monthLayout), end.Format(monthLayout)
}

// UsageMonths lists the platform usage months feeding a cycle label range.
// Platform consumption lands on the recurring invoice two months later,
// so the cycle range [start, end] is fed by usage from start-2 to end-2.
func UsageMonths(startLabel, endLabel string) ([]string, error) {
	start, err := parseMonth(startLabel)
	if err != nil {
		return nil, fmt.Errorf("start month: %w", err)
	}
	end, err := parseMonth(endLabel)
	if err != nil {
		return nil, fmt.Errorf("end month: %w", err)
	}

	var months []string
	last := AddMonths(end, -2)
	for cursor := AddMonths(start, -2); !cursor.After(last); cursor = AddMonths(cursor, 1) {
		months = append(months, cursor.Format(monthLayout))
	}
	return months, nil
}

// UsageCycle maps a usage month to the cycle its charges are invoiced on.
func UsageCycle(usageMonth string) (string, error) {
	t, err := parseMonth(usageMonth)
	if err != nil {
		return "", err
	}
	return AddMonths(t, 2).Format(monthLayout), nil
}

func parseMonth(label string) (time.Time, error) {
	t, err := time.ParseInLocation(monthLayout, label, referenceZone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q, want YYYY-MM", label)
	}
	return t, nil
}

// Attribution is the service calendar span and recurring kind assigned to
// one invoice line.
type Attribution struct {
	Period *Period
	Kind   enums.RecurringKind
}

// AttributeServicePeriod maps an invoice line to the span its charge pays
// for. Hourly recurring charges bill the previous month in arrears.
// Platform service plans bill two months behind. Other recurring charges
// cover the invoice month in advance. New lines cover the invoice date
// through month end, credits and one-time charges the invoice date alone.
// Unknown invoice types get no attribution rather than inheriting a
// neighbor's.
func AttributeServicePeriod(invoiceType enums.InvoiceType, invoiceDate time.Time, hourly bool, category string) Attribution {
	invoiceDate = invoiceDate.In(referenceZone)
	invoiceDay := midnight(invoiceDate)

	switch {
	case hourly && invoiceType == enums.InvoiceTypeRecurring:
		previous := AddMonths(invoiceDate, -1)
		return Attribution{
			Period: calendarMonth(previous),
			Kind:   enums.RecurringKindUsage,
		}

	case !hourly && strings.Contains(category, "Platform Service Plan"):
		return Attribution{
			Period: calendarMonth(AddMonths(invoiceDate, -2)),
			Kind:   enums.RecurringKindPlatform,
		}

	case invoiceType == enums.InvoiceTypeRecurring:
		return Attribution{
			Period: &Period{Start: invoiceDay, End: endOfMonth(invoiceDay)},
			Kind:   enums.RecurringKindMonthly,
		}

	case invoiceType == enums.InvoiceTypeNew:
		return Attribution{
			Period: &Period{Start: invoiceDay, End: endOfMonth(invoiceDay)},
		}

	case invoiceType == enums.InvoiceTypeCredit, invoiceType == enums.InvoiceTypeOneTime:
		return Attribution{
			Period: &Period{Start: invoiceDay, End: invoiceDay},
		}

	default:
		return Attribution{}
	}
}

// EstimateMonthly projects a first partial charge to a full month. New
// invoices bill from the provision day through month end; dividing by the
// billed days and scaling to the month length yields the ongoing amount.
func EstimateMonthly(recurring decimal.Decimal, invoiceDate time.Time) decimal.Decimal {
	invoiceDate = invoiceDate.In(referenceZone)
	total := daysIn(invoiceDate.Year(), invoiceDate.Month())
	billed := total - invoiceDate.Day() + 1
	return recurring.
		Div(decimal.NewFromInt(int64(billed))).
		Mul(decimal.NewFromInt(int64(total))).
		Round(2)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func calendarMonth(t time.Time) *Period {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return &Period{Start: start, End: endOfMonth(start)}
}
