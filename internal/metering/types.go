package metering

import "github.com/shopspring/decimal"

// MetricUsage is one metered quantity under a plan.
type MetricUsage struct {
	Metric   string          `json:"metric"`
	Unit     string          `json:"unit"`
	Quantity decimal.Decimal `json:"quantity"`
	Cost     decimal.Decimal `json:"cost"`
}

// PlanUsage is one plan's consumption within a resource.
type PlanUsage struct {
	PlanName string          `json:"plan_name"`
	Billable bool            `json:"billable"`
	Cost     decimal.Decimal `json:"cost"`
	Usage    []MetricUsage   `json:"usage"`
}

// ResourceUsage is one platform service's consumption for the month.
type ResourceUsage struct {
	ResourceName    string          `json:"resource_name"`
	BillableCost    decimal.Decimal `json:"billable_cost"`
	NonBillableCost decimal.Decimal `json:"non_billable_cost"`
	Plans           []PlanUsage     `json:"plans"`
}

// AccountUsage is the account's platform consumption report for one
// billing month.
type AccountUsage struct {
	AccountID string          `json:"account_id"`
	Month     string          `json:"month"`
	Resources []ResourceUsage `json:"resources"`
}
