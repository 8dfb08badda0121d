package report

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/kestrelops/cloudbill/internal/ledger"
	pkgerrors "github.com/kestrelops/cloudbill/pkg/errors"
)

const (
	detailSheet           = "Detail"
	forecastSheet         = "recurringForecast"
	invoiceSummarySheet   = "InvoiceSummary"
	categorySummarySheet  = "CategorySummary"
	usageSheet            = "PaaS_Usage"
	usageSummarySheet     = "PaaS_Summary"
	usagePlanSummarySheet = "PaaS_Plan_Summary"

	dateLayout = "2006-01-02"
	timeLayout = "15:04:05-0700"
)

var currencyFormat = "$#,##0.00"

// detailHeader names the workbook's line-level columns. Downstream
// reporting keys on these, so they are part of the output contract.
var detailHeader = []any{
	"Portal_Invoice_Date",
	"Portal_Invoice_Time",
	"Service_Date_Start",
	"Service_Date_End",
	"IBM_Invoice_Month",
	"Portal_Invoice_Number",
	"Type",
	"BillingItemId",
	"hostName",
	"Category",
	"Description",
	"Memory",
	"OS",
	"Hourly",
	"Usage",
	"Hours",
	"HourlyRate",
	"totalRecurringCharge",
	"NewEstimatedMonthly",
	"totalOneTimeAmount",
	"InvoiceTotal",
	"InvoiceRecurring",
	"Recurring_Description",
}

var usageHeader = []any{
	"usageMonth",
	"invoiceMonth",
	"resource_name",
	"plan_name",
	"billable_charges",
	"non_billable_charges",
	"unit",
	"quantity",
	"charges",
}

// WriteWorkbook renders the invoice analysis workbook and saves it to
// path.
func WriteWorkbook(path string, records []ledger.Record, usage []ledger.UsageRow) error {
	file, err := BuildWorkbook(records, usage)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render workbook")
	}
	defer file.Close()

	if err := file.SaveAs(path); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save workbook")
	}
	return nil
}

// BuildWorkbook renders the invoice analysis workbook in memory: the
// line-level detail, one payment top sheet per cycle, the recurring
// forecast, the summary matrices, the device population pivots, and the
// platform usage views when usage was collected.
func BuildWorkbook(records []ledger.Record, usage []ledger.UsageRow) (*excelize.File, error) {
	file := excelize.NewFile()
	if err := file.SetSheetName(file.GetSheetName(0), detailSheet); err != nil {
		file.Close()
		return nil, err
	}

	builder := &workbookBuilder{file: file}
	builder.currency, builder.err = file.NewStyle(&excelize.Style{CustomNumFmt: &currencyFormat})

	builder.writeDetail(records)
	for _, sheet := range ledger.TopSheets(records) {
		builder.writeTopSheet(sheet)
	}
	if forecast := ledger.RecurringForecast(records); forecast != nil {
		builder.writeForecast(forecast)
	}
	if summary := ledger.InvoiceSummary(records); summary != nil {
		builder.writeSummary(invoiceSummarySheet, summary, false)
	}
	if summary := ledger.CategorySummary(records); summary != nil {
		builder.writeSummary(categorySummarySheet, summary, true)
	}
	for _, pivot := range ledger.ServerPivots(records) {
		builder.writeServerPivot(pivot)
	}
	if len(usage) > 0 {
		builder.writeUsage(usage)
		byResource, byPlan := ledger.UsageSummaries(usage)
		builder.writeUsageSummary(usageSummarySheet, byResource, false)
		builder.writeUsageSummary(usagePlanSummarySheet, byPlan, true)
	}

	if builder.err != nil {
		file.Close()
		return nil, builder.err
	}
	return file, nil
}

// workbookBuilder accumulates sheets with a sticky error, so each writer
// reads as straight-line layout code.
type workbookBuilder struct {
	file     *excelize.File
	currency int
	err      error
}

func (b *workbookBuilder) addSheet(name string) {
	if b.err != nil {
		return
	}
	_, b.err = b.file.NewSheet(name)
}

func (b *workbookBuilder) row(sheet string, rowIndex int, values []any) {
	if b.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, rowIndex)
	if err != nil {
		b.err = err
		return
	}
	b.err = b.file.SetSheetRow(sheet, cell, &values)
}

func (b *workbookBuilder) columnWidth(sheet, from, to string, width float64) {
	if b.err != nil {
		return
	}
	b.err = b.file.SetColWidth(sheet, from, to, width)
}

func (b *workbookBuilder) moneyColumns(sheet, from, to string, width float64) {
	if b.err != nil {
		return
	}
	if b.err = b.file.SetColStyle(sheet, from+":"+to, b.currency); b.err != nil {
		return
	}
	b.err = b.file.SetColWidth(sheet, from, to, width)
}

func (b *workbookBuilder) autoFilter(sheet, rangeRef string) {
	if b.err != nil {
		return
	}
	b.err = b.file.AutoFilter(sheet, rangeRef, nil)
}

func (b *workbookBuilder) columnName(number int) string {
	name, err := excelize.ColumnNumberToName(number)
	if err != nil && b.err == nil {
		b.err = err
	}
	return name
}

func (b *workbookBuilder) writeDetail(records []ledger.Record) {
	b.row(detailSheet, 1, detailHeader)
	for i, r := range records {
		b.row(detailSheet, i+2, []any{
			r.InvoiceDate.Format(dateLayout),
			r.InvoiceDate.Format(timeLayout),
			r.ServicePeriod.StartDate(),
			r.ServicePeriod.EndDate(),
			r.CycleLabel,
			r.InvoiceID,
			r.InvoiceType.String(),
			r.BillingItemID,
			r.HostName,
			r.Category,
			r.Description,
			r.Memory,
			r.OS,
			r.Hourly,
			r.Usage,
			r.Hours,
			money(r.HourlyRate),
			money(r.RecurringCharge),
			money(r.EstimatedMonthly),
			money(r.OneTimeCharge),
			money(r.InvoiceTotal),
			money(r.InvoiceRecurringTotal),
			r.RecurringKind.String(),
		})
	}
	b.moneyColumns(detailSheet, "Q", "V", 18)
	b.autoFilter(detailSheet, fmt.Sprintf("A1:W%d", len(records)+1))
}

func (b *workbookBuilder) writeTopSheet(sheet ledger.TopSheet) {
	name := "TopSheet-" + sheet.Cycle
	b.addSheet(name)
	b.row(name, 1, []any{"Invoice Type", "Invoice", "Service Start", "Service End", "Description", "Amount"})

	rowIndex := 2
	for _, block := range sheet.Blocks {
		for _, line := range block.Rows {
			b.row(name, rowIndex, []any{
				block.Type.String(),
				line.InvoiceID,
				line.ServiceStart,
				line.ServiceEnd,
				line.Kind.String(),
				money(line.Amount),
			})
			rowIndex++
		}
		b.row(name, rowIndex, []any{block.Type.String(), "", "", "Subtotal", "", money(block.Subtotal)})
		rowIndex++
	}
	b.row(name, rowIndex, []any{"", "", "", "Pay this Amount", "", money(sheet.Total)})

	b.columnWidth(name, "A", "E", 20)
	b.moneyColumns(name, "F", "F", 18)
}

func (b *workbookBuilder) writeForecast(forecast *ledger.Forecast) {
	b.addSheet(forecastSheet)
	b.row(forecastSheet, 1, []any{"Category", "lastRecurringInvoice", "NewEstimatedCharges", "nextRecurring"})

	rowIndex := 2
	for _, row := range forecast.Rows {
		b.row(forecastSheet, rowIndex, []any{
			row.Category,
			money(row.LastRecurring),
			money(row.NewEstimated),
			money(row.NextRecurring),
		})
		rowIndex++
	}
	total := forecast.Total
	b.row(forecastSheet, rowIndex, []any{total.Category, money(total.LastRecurring), money(total.NewEstimated), money(total.NextRecurring)})

	b.columnWidth(forecastSheet, "A", "A", 40)
	b.moneyColumns(forecastSheet, "B", "D", 25)
}

func (b *workbookBuilder) writeSummary(name string, summary *ledger.Summary, withDescription bool) {
	b.addSheet(name)

	keyColumns := 2
	header := []any{"Type", "Category"}
	if withDescription {
		keyColumns = 3
		header = append(header, "Description")
	}
	for _, cycle := range summary.Cycles {
		header = append(header, cycle)
	}
	header = append(header, "Total")
	b.row(name, 1, header)

	rowIndex := 2
	for _, row := range summary.Rows {
		values := []any{row.Type.String(), row.Category}
		if withDescription {
			values = append(values, row.Description)
		}
		for _, amount := range row.Amounts {
			values = append(values, money(amount))
		}
		values = append(values, money(row.Total))
		b.row(name, rowIndex, values)
		rowIndex++
	}

	totals := make([]any, keyColumns)
	totals[0] = "Total"
	for i := 1; i < keyColumns; i++ {
		totals[i] = ""
	}
	for _, amount := range summary.ColumnTotals {
		totals = append(totals, money(amount))
	}
	totals = append(totals, money(summary.GrandTotal))
	b.row(name, rowIndex, totals)

	if withDescription {
		b.columnWidth(name, "A", "A", 40)
	} else {
		b.columnWidth(name, "A", "A", 20)
	}
	b.columnWidth(name, "B", b.columnName(keyColumns), 40)
	b.moneyColumns(name, b.columnName(keyColumns+1), b.columnName(keyColumns+len(summary.Cycles)+1), 18)
}

func (b *workbookBuilder) writeServerPivot(pivot ledger.ServerPivot) {
	b.addSheet(pivot.Sheet)

	header := []any{"Description", "OS"}
	for _, cycle := range pivot.Cycles {
		header = append(header, "qty "+cycle)
	}
	if pivot.Hourly {
		for _, cycle := range pivot.Cycles {
			header = append(header, "Total Hours "+cycle)
		}
	}
	for _, cycle := range pivot.Cycles {
		header = append(header, "TotalRecurring "+cycle)
	}
	b.row(pivot.Sheet, 1, header)

	rowIndex := 2
	for _, row := range pivot.Rows {
		values := []any{row.Description, row.OS}
		for _, cell := range row.Cells {
			values = append(values, cell.Quantity)
		}
		if pivot.Hourly {
			for _, cell := range row.Cells {
				values = append(values, cell.Hours)
			}
		}
		for _, cell := range row.Cells {
			values = append(values, money(cell.Recurring))
		}
		b.row(pivot.Sheet, rowIndex, values)
		rowIndex++
	}

	b.columnWidth(pivot.Sheet, "A", "B", 40)
	recurringStart := 2 + len(pivot.Cycles)
	if pivot.Hourly {
		recurringStart += len(pivot.Cycles)
	}
	b.moneyColumns(pivot.Sheet, b.columnName(recurringStart+1), b.columnName(recurringStart+len(pivot.Cycles)), 18)
}

func (b *workbookBuilder) writeUsage(rows []ledger.UsageRow) {
	b.addSheet(usageSheet)
	b.row(usageSheet, 1, usageHeader)
	for i, r := range rows {
		b.row(usageSheet, i+2, []any{
			r.UsageMonth,
			r.CycleLabel,
			r.ResourceName,
			r.PlanName,
			money(r.BillableCost),
			money(r.NonBillableCost),
			r.Unit,
			r.Quantity.InexactFloat64(),
			money(r.Cost),
		})
	}
	b.columnWidth(usageSheet, "A", "B", 12)
	b.columnWidth(usageSheet, "C", "D", 25)
	b.moneyColumns(usageSheet, "E", "F", 18)
	b.columnWidth(usageSheet, "G", "H", 25)
	b.moneyColumns(usageSheet, "I", "I", 18)
}

func (b *workbookBuilder) writeUsageSummary(name string, summary *ledger.UsageSummary, withPlan bool) {
	if summary == nil {
		return
	}
	b.addSheet(name)

	keyColumns := 1
	header := []any{"resource_name"}
	if withPlan {
		keyColumns = 2
		header = append(header, "plan_name")
	}
	for _, cycle := range summary.Cycles {
		header = append(header, cycle)
	}
	header = append(header, "Total")
	b.row(name, 1, header)

	rowIndex := 2
	for _, row := range summary.Rows {
		values := []any{row.Resource}
		if withPlan {
			values = append(values, row.Plan)
		}
		for _, amount := range row.Amounts {
			values = append(values, money(amount))
		}
		values = append(values, money(row.Total))
		b.row(name, rowIndex, values)
		rowIndex++
	}

	totals := make([]any, keyColumns)
	totals[0] = "Total"
	if withPlan {
		totals[1] = ""
	}
	for _, amount := range summary.ColumnTotals {
		totals = append(totals, money(amount))
	}
	totals = append(totals, money(summary.GrandTotal))
	b.row(name, rowIndex, totals)

	b.columnWidth(name, "A", b.columnName(keyColumns), 35)
	b.moneyColumns(name, b.columnName(keyColumns+1), b.columnName(keyColumns+len(summary.Cycles)+1), 18)
}

func money(amount decimal.Decimal) float64 {
	return amount.InexactFloat64()
}
