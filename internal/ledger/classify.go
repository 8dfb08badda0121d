package ledger

import (
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/kestrelops/cloudbill/internal/classic"
)

// Classifier resolves display fields for invoice lines using the
// account's top-level category reference list.
type Classifier struct {
	categoryNames map[string]string
}

// NewClassifier indexes the category reference list by code.
func NewClassifier(categories []classic.Category) *Classifier {
	return &Classifier{
		categoryNames: lo.SliceToMap(categories, func(c classic.Category) (string, string) {
			return c.CategoryCode, c.Name
		}),
	}
}

// CategoryName resolves a line's display category: the reference list
// first, the item's own embedded category next, the raw code last.
func (c *Classifier) CategoryName(item classic.LineItem) string {
	if name, ok := c.categoryNames[item.CategoryCode]; ok && name != "" {
		return name
	}
	if item.Category.Name != "" {
		return item.Category.Name
	}
	return item.CategoryCode
}

// EffectiveHourlyFee sums the item's own hourly fee with its components'.
// Monthly items carry no fee at all and contribute zero.
func EffectiveHourlyFee(item classic.LineItem) decimal.Decimal {
	fee := decimal.Zero
	if item.HasHourlyFee() {
		fee = item.HourlyRecurringFee.Decimal
	}
	for _, child := range item.Children {
		if child.HourlyRecurringFee != nil {
			fee = fee.Add(child.HourlyRecurringFee.Decimal)
		}
	}
	return fee
}

// HoursFor derives billed hours from a recurring charge and the effective
// hourly fee, rounded to the nearest hour. A missing fee yields zero.
func HoursFor(recurring, fee decimal.Decimal) int64 {
	if !fee.IsPositive() {
		return 0
	}
	return recurring.Div(fee).Round(0).IntPart()
}

// HostNameFor renders the fully qualified device name, empty for
// non-device lines.
func HostNameFor(item classic.LineItem) string {
	host := strings.TrimSpace(item.HostName)
	if host == "" {
		return ""
	}
	if domain := strings.TrimSpace(item.DomainName); domain != "" {
		return host + "." + domain
	}
	return host
}

// MemoryFor returns the RAM component description, if any.
func (c *Classifier) MemoryFor(item classic.LineItem) string {
	return childProductDescription(item, "ram")
}

// OSFor returns the operating system component description, if any.
func (c *Classifier) OSFor(item classic.LineItem) string {
	return childProductDescription(item, "os")
}

// DescriptionFor renders the workbook description for a line. Storage
// categories compose theirs from component children, because the catalog
// description alone does not identify what was billed. Everything else
// uses the catalog text with newlines flattened.
func (c *Classifier) DescriptionFor(item classic.LineItem) string {
	switch item.CategoryCode {
	case "storage_service_enterprise":
		space := childProductDescription(item, "performance_storage_space")
		tier := childProductDescription(item, "storage_tier_level")
		snapshot := childProductDescription(item, "storage_snapshot_space")
		if snapshot == "" {
			return space + " " + tier + " "
		}
		return space + " " + tier + " with " + snapshot

	case "performance_storage_iops":
		space := childProductDescription(item, "performance_storage_space")
		iops := childProductDescription(item, "performance_storage_iops")
		return space + " " + iops

	case "storage_as_a_service":
		model := "Monthly"
		if item.HourlyFlag.Bool() {
			model = "Hourly"
		}
		space := childBilledDescription(item, "performance_storage_space")
		tier := childProductDescription(item, "storage_tier_level")
		if space == "" || tier == "" {
			return model + " File Storage"
		}
		description := model + " File Storage " + space + " at " + tier
		if snapshot := childBilledDescription(item, "storage_snapshot_space"); snapshot != "" {
			description += " with " + snapshot
		}
		return description

	case "guest_storage":
		if usage := childBilledDescription(item, "guest_storage_usage"); usage != "" {
			return usage
		}
		return flattenDescription(item.Product.Description)

	default:
		return flattenDescription(item.Product.Description)
	}
}

// childProductDescription returns the catalog description of the first
// component in the category, empty when absent.
func childProductDescription(item classic.LineItem, categoryCode string) string {
	for _, child := range item.Children {
		if child.CategoryCode == categoryCode {
			return strings.TrimSpace(child.Product.Description)
		}
	}
	return ""
}

// childBilledDescription returns the component's own line text, which on
// usage-priced storage carries the billed figure instead of the catalog
// wording.
func childBilledDescription(item classic.LineItem, categoryCode string) string {
	for _, child := range item.Children {
		if child.CategoryCode == categoryCode {
			return strings.TrimSpace(child.Description)
		}
	}
	return ""
}

func flattenDescription(description string) string {
	return strings.TrimSpace(strings.ReplaceAll(description, "\n", " "))
}
