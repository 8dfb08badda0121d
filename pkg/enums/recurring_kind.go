package enums

// RecurringKind names what a recurring charge pays for, derived from the
// invoice type and the line item's category and billing mode.
type RecurringKind string

const (
	// RecurringKindUsage is hourly consumption invoiced in arrears.
	RecurringKindUsage RecurringKind = "IaaS Usage"
	// RecurringKindPlatform is a platform service plan invoiced two months
	// after the service month.
	RecurringKindPlatform RecurringKind = "Platform Service Usage"
	// RecurringKindMonthly is a monthly charge invoiced in advance.
	RecurringKindMonthly RecurringKind = "IaaS Monthly"
	// RecurringKindNone marks rows with no recurring attribution.
	RecurringKindNone RecurringKind = ""
)

// String implements fmt.Stringer.
func (r RecurringKind) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r RecurringKind) IsValid() bool {
	switch r {
	case RecurringKindUsage, RecurringKindPlatform, RecurringKindMonthly, RecurringKindNone:
		return true
	}
	return false
}
