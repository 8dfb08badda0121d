package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelops/cloudbill/pkg/enums"
)

const dateLayout = "2006-01-02"

// Period is a closed calendar span a charge pays for.
type Period struct {
	Start time.Time
	End   time.Time
}

// StartDate formats the period start, empty when no period applies.
func (p *Period) StartDate() string {
	if p == nil {
		return ""
	}
	return p.Start.Format(dateLayout)
}

// EndDate formats the period end, empty when no period applies.
func (p *Period) EndDate() string {
	if p == nil {
		return ""
	}
	return p.End.Format(dateLayout)
}

// Record is one normalized invoice line. Every workbook view is built
// from slices of these.
type Record struct {
	InvoiceDate time.Time
	CycleLabel  string

	ServicePeriod *Period

	InvoiceID     int
	InvoiceType   enums.InvoiceType
	BillingItemID int

	HostName    string
	Category    string
	Description string
	Memory      string
	OS          string

	Hourly bool
	Usage  bool
	Hours  int64

	HourlyRate       decimal.Decimal
	RecurringCharge  decimal.Decimal
	OneTimeCharge    decimal.Decimal
	EstimatedMonthly decimal.Decimal

	InvoiceTotal          decimal.Decimal
	InvoiceRecurringTotal decimal.Decimal

	RecurringKind enums.RecurringKind
}

// TotalCharge is the amount the line contributes to invoice-level views.
func (r Record) TotalCharge() decimal.Decimal {
	return r.RecurringCharge.Add(r.OneTimeCharge)
}

// UsageRow is one metric of one plan's platform usage for a month,
// stamped with the cycle its charges appear on.
type UsageRow struct {
	UsageMonth string
	CycleLabel string

	ResourceName string
	PlanName     string

	BillableCost    decimal.Decimal
	NonBillableCost decimal.Decimal

	Unit     string
	Quantity decimal.Decimal
	Cost     decimal.Decimal
}
