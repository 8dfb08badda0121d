package ledger

import (
	"reflect"
	"testing"
	"time"

	"github.com/kestrelops/cloudbill/internal/classic"
	"github.com/kestrelops/cloudbill/pkg/enums"
)

func TestNormalizeRecurringInvoice(t *testing.T) {
	classifier := NewClassifier([]classic.Category{
		{CategoryCode: "guest_core", Name: "Computing Instance"},
		{CategoryCode: "server", Name: "Server"},
	})

	invoice := invoiceFixture(7031337, "RECURRING", refTime(2024, time.April, 1, 0, 51), "1250.40", "1250.40")
	items := []classic.LineItem{
		{
			ID:                   1,
			BillingItemID:        101,
			CategoryCode:         "guest_core",
			HourlyFlag:           classic.FlexBool(true),
			HostName:             "web01",
			DomainName:           "example.com",
			Product:              classic.Product{Description: "4 x 2.0 GHz Cores"},
			TotalRecurringAmount: amount("45"),
			HourlyRecurringFee:   amountPtr(".05"),
			Children: []classic.ChildItem{
				{CategoryCode: "ram", Product: classic.Product{Description: "8 GB"}, HourlyRecurringFee: amountPtr(".01")},
				{CategoryCode: "os", Product: classic.Product{Description: "Ubuntu 22.04"}},
			},
		},
		{
			ID:                   2,
			BillingItemID:        102,
			CategoryCode:         "server",
			HostName:             "db01",
			DomainName:           "example.com",
			Product:              classic.Product{Description: "Dual Xeon"},
			TotalRecurringAmount: amount("499.9999"),
		},
	}

	records := classifier.Normalize(invoice, items)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	hourly := records[0]
	if hourly.CycleLabel != "2024-04" {
		t.Errorf("cycle = %s, want 2024-04", hourly.CycleLabel)
	}
	if hourly.InvoiceType != enums.InvoiceTypeRecurring {
		t.Errorf("type = %s, want RECURRING", hourly.InvoiceType)
	}
	if hourly.HostName != "web01.example.com" {
		t.Errorf("host = %q", hourly.HostName)
	}
	if hourly.Category != "Computing Instance" {
		t.Errorf("category = %q", hourly.Category)
	}
	if hourly.Memory != "8 GB" || hourly.OS != "Ubuntu 22.04" {
		t.Errorf("memory/os = %q/%q", hourly.Memory, hourly.OS)
	}
	if hourly.RecurringKind != enums.RecurringKindUsage {
		t.Errorf("kind = %q, want usage", hourly.RecurringKind)
	}
	if hourly.ServicePeriod.StartDate() != "2024-03-01" || hourly.ServicePeriod.EndDate() != "2024-03-31" {
		t.Errorf("period = %s..%s, want previous month",
			hourly.ServicePeriod.StartDate(), hourly.ServicePeriod.EndDate())
	}
	if !hourly.HourlyRate.Equal(d("0.06")) {
		t.Errorf("rate = %s, want 0.06", hourly.HourlyRate)
	}
	if hourly.Hours != 750 {
		t.Errorf("hours = %d, want 750", hourly.Hours)
	}
	if !hourly.EstimatedMonthly.IsZero() {
		t.Errorf("recurring invoices carry no estimate, got %s", hourly.EstimatedMonthly)
	}

	monthly := records[1]
	if monthly.RecurringKind != enums.RecurringKindMonthly {
		t.Errorf("kind = %q, want monthly", monthly.RecurringKind)
	}
	if monthly.ServicePeriod.StartDate() != "2024-04-01" || monthly.ServicePeriod.EndDate() != "2024-04-30" {
		t.Errorf("period = %s..%s, want invoice month",
			monthly.ServicePeriod.StartDate(), monthly.ServicePeriod.EndDate())
	}
	if !monthly.RecurringCharge.Equal(d("500")) {
		t.Errorf("recurring charge = %s, want 500 after rounding", monthly.RecurringCharge)
	}
	if monthly.Hours != 0 || !monthly.HourlyRate.IsZero() {
		t.Errorf("monthly line should carry no hourly figures, got %d / %s",
			monthly.Hours, monthly.HourlyRate)
	}
	if !monthly.InvoiceTotal.Equal(d("1250.40")) {
		t.Errorf("invoice total = %s, want 1250.40", monthly.InvoiceTotal)
	}
}

func TestNormalizeNewInvoiceEstimatesEveryLine(t *testing.T) {
	classifier := NewClassifier(nil)

	// June 25th of a 30 day month: six billed days scale by five.
	invoice := invoiceFixture(900, "NEW", refTime(2024, time.June, 25, 10, 0), "130", "130")
	items := []classic.LineItem{
		{ID: 1, CategoryCode: "guest_core", TotalRecurringAmount: amount("100")},
		{ID: 2, CategoryCode: "guest_storage", TotalRecurringAmount: amount("30")},
	}

	records := classifier.Normalize(invoice, items)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	for i, record := range records {
		if record.ServicePeriod.StartDate() != "2024-06-25" || record.ServicePeriod.EndDate() != "2024-06-30" {
			t.Errorf("record %d period = %s..%s, want provision day through month end",
				i, record.ServicePeriod.StartDate(), record.ServicePeriod.EndDate())
		}
		if record.RecurringKind != enums.RecurringKindNone {
			t.Errorf("record %d kind = %q, want none", i, record.RecurringKind)
		}
	}
	if !records[0].EstimatedMonthly.Equal(d("500")) {
		t.Errorf("estimate = %s, want 500", records[0].EstimatedMonthly)
	}
	if !records[1].EstimatedMonthly.Equal(d("150")) {
		t.Errorf("estimate = %s, want 150", records[1].EstimatedMonthly)
	}
}

func TestNormalizeDoesNotLeakAttributionAcrossLines(t *testing.T) {
	classifier := NewClassifier(nil)

	invoice := invoiceFixture(901, "ONE-TIME-CHARGE", refTime(2024, time.April, 5, 9, 0), "80", "0")
	items := []classic.LineItem{
		{
			ID:                 1,
			CategoryCode:       "platform_service_plan",
			Category:           classic.CategoryRef{Name: "Platform Service Plan"},
			TotalOneTimeAmount: amount("50"),
		},
		{
			ID:                 2,
			CategoryCode:       "sales_tax",
			Category:           classic.CategoryRef{Name: "Sales Tax"},
			TotalOneTimeAmount: amount("30"),
		},
	}

	records := classifier.Normalize(invoice, items)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	platform := records[0]
	if platform.RecurringKind != enums.RecurringKindPlatform {
		t.Errorf("platform kind = %q", platform.RecurringKind)
	}
	if platform.ServicePeriod.StartDate() != "2024-02-01" || platform.ServicePeriod.EndDate() != "2024-02-29" {
		t.Errorf("platform period = %s..%s, want two months behind",
			platform.ServicePeriod.StartDate(), platform.ServicePeriod.EndDate())
	}

	// The line after the platform plan must earn its own single-day
	// attribution, not inherit the previous line's.
	tax := records[1]
	if tax.RecurringKind != enums.RecurringKindNone {
		t.Errorf("tax kind = %q, want none", tax.RecurringKind)
	}
	if tax.ServicePeriod.StartDate() != "2024-04-05" || tax.ServicePeriod.EndDate() != "2024-04-05" {
		t.Errorf("tax period = %s..%s, want the invoice day",
			tax.ServicePeriod.StartDate(), tax.ServicePeriod.EndDate())
	}
}

func TestNormalizeUnknownInvoiceType(t *testing.T) {
	classifier := NewClassifier(nil)

	invoice := invoiceFixture(902, "refund", refTime(2024, time.April, 5, 9, 0), "10", "0")
	records := classifier.Normalize(invoice, []classic.LineItem{
		{ID: 1, CategoryCode: "guest_core", TotalOneTimeAmount: amount("10")},
	})
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].InvoiceType != "REFUND" {
		t.Errorf("type = %q, want the raw code uppercased", records[0].InvoiceType)
	}
	if records[0].ServicePeriod != nil {
		t.Error("unknown invoice types earn no service period")
	}
	if !records[0].EstimatedMonthly.IsZero() {
		t.Error("unknown invoice types earn no estimate")
	}
}

func TestNormalizeHonorsInvoiceZone(t *testing.T) {
	classifier := NewClassifier(nil)

	// 03:00 UTC on the 20th is still the 19th in the reference zone, so
	// the invoice stays on the earlier cycle.
	created := time.Date(2024, time.January, 20, 3, 0, 0, 0, time.UTC)
	invoice := invoiceFixture(903, "RECURRING", created, "10", "10")
	records := classifier.Normalize(invoice, []classic.LineItem{
		{ID: 1, CategoryCode: "guest_core", TotalRecurringAmount: amount("10")},
	})

	if records[0].CycleLabel != "2024-01" {
		t.Errorf("cycle = %s, want 2024-01", records[0].CycleLabel)
	}
	if got := records[0].InvoiceDate.Format("2006-01-02 15:04"); got != "2024-01-19 21:00" {
		t.Errorf("invoice date = %s, want rebased to 2024-01-19 21:00", got)
	}
}

func TestNormalizeIsRepeatableAndLeavesInputsAlone(t *testing.T) {
	buildItems := func() []classic.LineItem {
		return []classic.LineItem{
			{
				ID:                   1,
				BillingItemID:        101,
				CategoryCode:         "guest_core",
				HourlyFlag:           classic.FlexBool(true),
				HostName:             "web01",
				Product:              classic.Product{Description: "4 x 2.0 GHz Cores"},
				TotalRecurringAmount: amount("45"),
				HourlyRecurringFee:   amountPtr(".05"),
				Children: []classic.ChildItem{
					{CategoryCode: "ram", Product: classic.Product{Description: "8 GB"}, HourlyRecurringFee: amountPtr(".01")},
				},
			},
			{
				ID:                   2,
				BillingItemID:        102,
				CategoryCode:         "server",
				Product:              classic.Product{Description: "Dual Xeon"},
				TotalRecurringAmount: amount("499.99"),
			},
		}
	}

	classifier := NewClassifier([]classic.Category{
		{CategoryCode: "guest_core", Name: "Computing Instance"},
	})
	invoice := invoiceFixture(904, "RECURRING", refTime(2024, time.April, 1, 0, 51), "544.99", "544.99")
	items := buildItems()

	first := classifier.Normalize(invoice, items)
	second := classifier.Normalize(invoice, items)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeat run diverged:\nfirst  %+v\nsecond %+v", first, second)
	}
	if !reflect.DeepEqual(items, buildItems()) {
		t.Errorf("inputs were mutated: %+v", items)
	}
}
