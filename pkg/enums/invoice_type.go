package enums

import (
	"fmt"
	"strings"
)

// InvoiceType is the portal's invoice classification.
type InvoiceType string

const (
	InvoiceTypeNew       InvoiceType = "NEW"
	InvoiceTypeRecurring InvoiceType = "RECURRING"
	InvoiceTypeCredit    InvoiceType = "CREDIT"
	InvoiceTypeOneTime   InvoiceType = "ONE-TIME-CHARGE"
)

var validInvoiceTypes = []InvoiceType{
	InvoiceTypeNew,
	InvoiceTypeRecurring,
	InvoiceTypeCredit,
	InvoiceTypeOneTime,
}

// String implements fmt.Stringer.
func (i InvoiceType) String() string {
	return string(i)
}

// IsValid reports whether the value is known.
func (i InvoiceType) IsValid() bool {
	for _, candidate := range validInvoiceTypes {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseInvoiceType converts raw portal input into an InvoiceType.
func ParseInvoiceType(value string) (InvoiceType, error) {
	value = strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validInvoiceTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice type %q", value)
}
