package ledger

import (
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/kestrelops/cloudbill/pkg/enums"
)

// uniqueCycles returns cycle labels in first-seen order. Invoices arrive
// from the portal ordered by creation date, so this is chronological.
func uniqueCycles(records []Record) []string {
	return lo.Uniq(lo.Map(records, func(r Record, _ int) string { return r.CycleLabel }))
}

// TopSheetRow is one aggregated payment line of a cycle.
type TopSheetRow struct {
	InvoiceID    int
	ServiceStart string
	ServiceEnd   string
	Kind         enums.RecurringKind
	Amount       decimal.Decimal
}

// TypeBlock groups a cycle's payment lines for one invoice type.
type TypeBlock struct {
	Type     enums.InvoiceType
	Rows     []TopSheetRow
	Subtotal decimal.Decimal
}

// TopSheet is the per-cycle payment summary.
type TopSheet struct {
	Cycle  string
	Blocks []TypeBlock
	Total  decimal.Decimal
}

// TopSheets builds one payment summary per cycle, in cycle order. Lines
// collapse to (type, invoice, service period, kind); blocks follow the
// order types first appear, and rows within a block sort by service start
// then invoice.
func TopSheets(records []Record) []TopSheet {
	type rowKey struct {
		invoiceType  enums.InvoiceType
		invoiceID    int
		serviceStart string
		serviceEnd   string
		kind         enums.RecurringKind
	}

	sheets := make([]TopSheet, 0)
	for _, cycle := range uniqueCycles(records) {
		var keyOrder []rowKey
		var typeOrder []enums.InvoiceType
		sums := make(map[rowKey]decimal.Decimal)

		for _, r := range records {
			if r.CycleLabel != cycle {
				continue
			}
			key := rowKey{
				invoiceType:  r.InvoiceType,
				invoiceID:    r.InvoiceID,
				serviceStart: r.ServicePeriod.StartDate(),
				serviceEnd:   r.ServicePeriod.EndDate(),
				kind:         r.RecurringKind,
			}
			if _, ok := sums[key]; !ok {
				keyOrder = append(keyOrder, key)
			}
			sums[key] = sums[key].Add(r.TotalCharge())
			if !lo.Contains(typeOrder, r.InvoiceType) {
				typeOrder = append(typeOrder, r.InvoiceType)
			}
		}

		sheet := TopSheet{Cycle: cycle}
		for _, invoiceType := range typeOrder {
			block := TypeBlock{Type: invoiceType}
			for _, key := range keyOrder {
				if key.invoiceType != invoiceType {
					continue
				}
				block.Rows = append(block.Rows, TopSheetRow{
					InvoiceID:    key.invoiceID,
					ServiceStart: key.serviceStart,
					ServiceEnd:   key.serviceEnd,
					Kind:         key.kind,
					Amount:       sums[key],
				})
				block.Subtotal = block.Subtotal.Add(sums[key])
			}
			sort.SliceStable(block.Rows, func(i, j int) bool {
				if block.Rows[i].ServiceStart != block.Rows[j].ServiceStart {
					return block.Rows[i].ServiceStart < block.Rows[j].ServiceStart
				}
				return block.Rows[i].InvoiceID < block.Rows[j].InvoiceID
			})
			sheet.Total = sheet.Total.Add(block.Subtotal)
			sheet.Blocks = append(sheet.Blocks, block)
		}
		sheets = append(sheets, sheet)
	}
	return sheets
}

// ForecastRow projects one category onto the next recurring invoice.
type ForecastRow struct {
	Category      string
	LastRecurring decimal.Decimal
	NewEstimated  decimal.Decimal
	NextRecurring decimal.Decimal
}

// Forecast estimates the next recurring invoice from the latest cycle.
type Forecast struct {
	Cycle string
	Rows  []ForecastRow
	Total ForecastRow
}

// RecurringForecast projects next month's recurring invoice by category:
// the latest cycle's recurring charges plus the estimated monthly amounts
// of lines provisioned in that cycle's calendar month through the cutoff.
// Nil when the latest cycle has nothing recurring to project.
func RecurringForecast(records []Record) *Forecast {
	cycles := uniqueCycles(records)
	if len(cycles) == 0 {
		return nil
	}
	cycle := cycles[len(cycles)-1]
	cycleMonth, err := parseMonth(cycle)
	if err != nil {
		return nil
	}

	var order []string
	seen := make(map[string]bool)
	recurring := make(map[string]decimal.Decimal)
	estimated := make(map[string]decimal.Decimal)

	note := func(category string) {
		if !seen[category] {
			seen[category] = true
			order = append(order, category)
		}
	}

	for _, r := range records {
		if r.CycleLabel != cycle {
			continue
		}
		switch {
		case r.InvoiceType == enums.InvoiceTypeRecurring:
			note(r.Category)
			recurring[r.Category] = recurring[r.Category].Add(r.TotalCharge())
		case r.InvoiceType == enums.InvoiceTypeNew &&
			sameMonth(r.InvoiceDate, cycleMonth) &&
			r.InvoiceDate.Day() <= cycleCutoffDay:
			note(r.Category)
			estimated[r.Category] = estimated[r.Category].Add(r.EstimatedMonthly)
		}
	}
	if len(order) == 0 {
		return nil
	}

	forecast := &Forecast{Cycle: cycle, Total: ForecastRow{Category: "Total"}}
	for _, category := range order {
		row := ForecastRow{
			Category:      category,
			LastRecurring: recurring[category],
			NewEstimated:  estimated[category],
		}
		row.NextRecurring = row.LastRecurring.Add(row.NewEstimated)

		forecast.Total.LastRecurring = forecast.Total.LastRecurring.Add(row.LastRecurring)
		forecast.Total.NewEstimated = forecast.Total.NewEstimated.Add(row.NewEstimated)
		forecast.Total.NextRecurring = forecast.Total.NextRecurring.Add(row.NextRecurring)
		forecast.Rows = append(forecast.Rows, row)
	}
	return forecast
}

func sameMonth(t, month time.Time) bool {
	return t.Year() == month.Year() && t.Month() == month.Month()
}

// SummaryRow is one key's amounts across the cycle columns.
type SummaryRow struct {
	Type        enums.InvoiceType
	Category    string
	Description string
	Amounts     []decimal.Decimal
	Total       decimal.Decimal
}

// Summary is an amount matrix across cycles with margin totals.
type Summary struct {
	Cycles       []string
	Rows         []SummaryRow
	ColumnTotals []decimal.Decimal
	GrandTotal   decimal.Decimal
}

// InvoiceSummary totals charges by invoice type and category per cycle.
func InvoiceSummary(records []Record) *Summary {
	return summarize(records, false)
}

// CategorySummary breaks the invoice type and category totals down one
// more level, by line description.
func CategorySummary(records []Record) *Summary {
	return summarize(records, true)
}

func summarize(records []Record, withDescription bool) *Summary {
	if len(records) == 0 {
		return nil
	}
	cycles := uniqueCycles(records)
	columnIndex := columnPositions(cycles)

	type rowKey struct {
		invoiceType enums.InvoiceType
		category    string
		description string
	}
	var order []rowKey
	cells := make(map[rowKey][]decimal.Decimal)

	for _, r := range records {
		key := rowKey{invoiceType: r.InvoiceType, category: r.Category}
		if withDescription {
			key.description = r.Description
		}
		amounts, ok := cells[key]
		if !ok {
			amounts = make([]decimal.Decimal, len(cycles))
			cells[key] = amounts
			order = append(order, key)
		}
		column := columnIndex[r.CycleLabel]
		amounts[column] = amounts[column].Add(r.TotalCharge())
	}

	summary := &Summary{
		Cycles:       cycles,
		ColumnTotals: make([]decimal.Decimal, len(cycles)),
	}
	for _, key := range order {
		row := SummaryRow{
			Type:        key.invoiceType,
			Category:    key.category,
			Description: key.description,
			Amounts:     cells[key],
		}
		for i, amount := range row.Amounts {
			row.Total = row.Total.Add(amount)
			summary.ColumnTotals[i] = summary.ColumnTotals[i].Add(amount)
		}
		summary.GrandTotal = summary.GrandTotal.Add(row.Total)
		summary.Rows = append(summary.Rows, row)
	}
	return summary
}

// ServerCell aggregates one flavor's cycle column.
type ServerCell struct {
	Quantity  int
	Hours     int64
	Recurring decimal.Decimal
}

// ServerPivotRow is one (description, os) flavor across cycles.
type ServerPivotRow struct {
	Description string
	OS          string
	Cells       []ServerCell
}

// ServerPivot is the population view for one device class and billing mode.
type ServerPivot struct {
	Sheet    string
	Category string
	Hourly   bool
	Cycles   []string
	Rows     []ServerPivotRow
}

// ServerPivots builds the four device population views: virtual and bare
// metal servers, hourly and monthly. Views with no matching lines are
// omitted. Hourly views carry billed hours; monthly views only counts
// and charges.
func ServerPivots(records []Record) []ServerPivot {
	definitions := []ServerPivot{
		{Sheet: "HrlyVirtualServerPivot", Category: "Computing Instance", Hourly: true},
		{Sheet: "MnthlyVirtualServerPivot", Category: "Computing Instance", Hourly: false},
		{Sheet: "HrlyBaremetalServerPivot", Category: "Server", Hourly: true},
		{Sheet: "MthlyBaremetalServerPivot", Category: "Server", Hourly: false},
	}

	var pivots []ServerPivot
	for _, definition := range definitions {
		matched := lo.Filter(records, func(r Record, _ int) bool {
			return r.Category == definition.Category && r.Hourly == definition.Hourly
		})
		if len(matched) == 0 {
			continue
		}

		pivot := definition
		pivot.Cycles = uniqueCycles(matched)
		columnIndex := columnPositions(pivot.Cycles)

		type flavorKey struct {
			description string
			os          string
		}
		var order []flavorKey
		cells := make(map[flavorKey][]ServerCell)

		for _, r := range matched {
			key := flavorKey{description: r.Description, os: r.OS}
			row, ok := cells[key]
			if !ok {
				row = make([]ServerCell, len(pivot.Cycles))
				cells[key] = row
				order = append(order, key)
			}
			column := columnIndex[r.CycleLabel]
			row[column].Quantity++
			row[column].Hours += r.Hours
			row[column].Recurring = row[column].Recurring.Add(r.RecurringCharge)
		}

		for _, key := range order {
			pivot.Rows = append(pivot.Rows, ServerPivotRow{
				Description: key.description,
				OS:          key.os,
				Cells:       cells[key],
			})
		}
		pivots = append(pivots, pivot)
	}
	return pivots
}

// UsageSummaryRow is one resource's (optionally one plan's) charges
// across cycles.
type UsageSummaryRow struct {
	Resource string
	Plan     string
	Amounts  []decimal.Decimal
	Total    decimal.Decimal
}

// UsageSummary is the platform charge matrix across cycles.
type UsageSummary struct {
	Cycles       []string
	Rows         []UsageSummaryRow
	ColumnTotals []decimal.Decimal
	GrandTotal   decimal.Decimal
}

// UsageSummaries builds the resource-level and plan-level platform charge
// matrices. Both are nil when no usage was collected.
func UsageSummaries(rows []UsageRow) (byResource, byPlan *UsageSummary) {
	if len(rows) == 0 {
		return nil, nil
	}
	return summarizeUsage(rows, false), summarizeUsage(rows, true)
}

func summarizeUsage(rows []UsageRow, withPlan bool) *UsageSummary {
	cycles := lo.Uniq(lo.Map(rows, func(r UsageRow, _ int) string { return r.CycleLabel }))
	columnIndex := columnPositions(cycles)

	type rowKey struct {
		resource string
		plan     string
	}
	var order []rowKey
	cells := make(map[rowKey][]decimal.Decimal)

	for _, r := range rows {
		key := rowKey{resource: r.ResourceName}
		if withPlan {
			key.plan = r.PlanName
		}
		amounts, ok := cells[key]
		if !ok {
			amounts = make([]decimal.Decimal, len(cycles))
			cells[key] = amounts
			order = append(order, key)
		}
		column := columnIndex[r.CycleLabel]
		amounts[column] = amounts[column].Add(r.Cost)
	}

	summary := &UsageSummary{
		Cycles:       cycles,
		ColumnTotals: make([]decimal.Decimal, len(cycles)),
	}
	for _, key := range order {
		row := UsageSummaryRow{
			Resource: key.resource,
			Plan:     key.plan,
			Amounts:  cells[key],
		}
		for i, amount := range row.Amounts {
			row.Total = row.Total.Add(amount)
			summary.ColumnTotals[i] = summary.ColumnTotals[i].Add(amount)
		}
		summary.GrandTotal = summary.GrandTotal.Add(row.Total)
		summary.Rows = append(summary.Rows, row)
	}
	return summary
}

func columnPositions(cycles []string) map[string]int {
	positions := make(map[string]int, len(cycles))
	for i, cycle := range cycles {
		positions[cycle] = i
	}
	return positions
}
