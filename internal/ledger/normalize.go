package ledger

import (
	"strings"

	"github.com/kestrelops/cloudbill/internal/classic"
	"github.com/kestrelops/cloudbill/pkg/enums"
)

// Normalize flattens an invoice's top-level line items into ledger
// records. Each line is attributed independently, so an item that earns
// no service period never inherits one from the line before it.
func (c *Classifier) Normalize(invoice classic.Invoice, items []classic.LineItem) []Record {
	invoiceDate := ReferenceTime(invoice.CreateDate)
	cycle := CycleLabel(invoiceDate)

	invoiceType, err := enums.ParseInvoiceType(invoice.TypeCode)
	if err != nil {
		// Unknown types still appear in the detail sheet under their raw
		// code; they just earn no service attribution.
		invoiceType = enums.InvoiceType(strings.ToUpper(strings.TrimSpace(invoice.TypeCode)))
	}

	records := make([]Record, 0, len(items))
	for _, item := range items {
		category := c.CategoryName(item)
		hourly := item.HourlyFlag.Bool()
		recurring := item.TotalRecurringAmount.Decimal

		attribution := AttributeServicePeriod(invoiceType, invoiceDate, hourly, category)

		record := Record{
			InvoiceDate:   invoiceDate,
			CycleLabel:    cycle,
			ServicePeriod: attribution.Period,

			InvoiceID:     invoice.ID,
			InvoiceType:   invoiceType,
			BillingItemID: item.BillingItemID,

			HostName:    HostNameFor(item),
			Category:    category,
			Description: c.DescriptionFor(item),
			Memory:      c.MemoryFor(item),
			OS:          c.OSFor(item),

			Hourly: hourly,
			Usage:  item.UsageChargeFlag.Bool(),

			RecurringCharge: recurring.Round(3),
			OneTimeCharge:   item.TotalOneTimeAmount.Decimal,

			InvoiceTotal:          invoice.TotalAmount.Decimal,
			InvoiceRecurringTotal: invoice.TotalRecurringAmount.Decimal,

			RecurringKind: attribution.Kind,
		}

		if hourly {
			fee := EffectiveHourlyFee(item)
			record.HourlyRate = fee.Round(5)
			record.Hours = HoursFor(recurring, fee)
		}

		if invoiceType == enums.InvoiceTypeNew {
			record.EstimatedMonthly = EstimateMonthly(recurring, invoiceDate)
		}

		records = append(records, record)
	}
	return records
}
