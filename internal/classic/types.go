package classic

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Amount decodes the portal's money fields. The portal serializes decimals
// as strings (often without a leading zero, ".086"), but a few endpoints
// emit bare numbers. Missing and null fields decode to zero.
type Amount struct {
	decimal.Decimal
}

// NewAmount builds an Amount from a decimal, mostly for tests and fixtures.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		a.Decimal = decimal.Zero
		return nil
	}
	if raw[0] == '"' {
		unquoted, err := strconv.Unquote(string(raw))
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		if unquoted == "" {
			a.Decimal = decimal.Zero
			return nil
		}
		parsed, err := decimal.NewFromString(unquoted)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		a.Decimal = parsed
		return nil
	}
	parsed, err := decimal.NewFromString(string(raw))
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	a.Decimal = parsed
	return nil
}

// FlexBool decodes the portal's flag fields, which appear as JSON booleans,
// 0/1 numbers, or "0"/"1" strings depending on the endpoint. Missing and
// null fields decode to false.
type FlexBool bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexBool) UnmarshalJSON(data []byte) error {
	raw := string(bytes.TrimSpace(data))
	switch raw {
	case "", "null":
		*f = false
		return nil
	case "true":
		*f = true
		return nil
	case "false":
		*f = false
		return nil
	}
	if raw[0] == '"' {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return fmt.Errorf("flag: %w", err)
		}
		raw = unquoted
	}
	if raw == "" {
		*f = false
		return nil
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("flag: %q is not a boolean", raw)
	}
	*f = parsed != 0
	return nil
}

// Bool unwraps the flag.
func (f FlexBool) Bool() bool {
	return bool(f)
}

// Category is one entry of the account's top-level category reference list.
type Category struct {
	ID           int    `json:"id"`
	CategoryCode string `json:"categoryCode"`
	Name         string `json:"name"`
}

// Invoice is the portal invoice header.
type Invoice struct {
	ID                   int       `json:"id"`
	CreateDate           time.Time `json:"createDate"`
	TypeCode             string    `json:"typeCode"`
	TotalAmount          Amount    `json:"invoiceTotalAmount"`
	TotalRecurringAmount Amount    `json:"invoiceTotalRecurringAmount"`
	TopLevelItemCount    int       `json:"invoiceTopLevelItemCount"`
}

// Product carries the catalog description attached to an item.
type Product struct {
	Description string `json:"description"`
}

// CategoryRef is the category record embedded in a line item.
type CategoryRef struct {
	Name string `json:"name"`
}

// ChildItem is a component charge nested under a top-level line item,
// such as RAM, OS, or storage tier detail rows.
type ChildItem struct {
	CategoryCode       string  `json:"categoryCode"`
	Description        string  `json:"description"`
	Product            Product `json:"product"`
	HourlyRecurringFee *Amount `json:"hourlyRecurringFee"`
}

// LineItem is one top-level invoice line with its component children.
type LineItem struct {
	ID                   int         `json:"id"`
	BillingItemID        int         `json:"billingItemId"`
	CategoryCode         string      `json:"categoryCode"`
	Category             CategoryRef `json:"category"`
	HourlyFlag           FlexBool    `json:"hourlyFlag"`
	HostName             string      `json:"hostName"`
	DomainName           string      `json:"domainName"`
	Product              Product     `json:"product"`
	CreateDate           time.Time   `json:"createDate"`
	TotalRecurringAmount Amount      `json:"totalRecurringAmount"`
	TotalOneTimeAmount   Amount      `json:"totalOneTimeAmount"`
	UsageChargeFlag      FlexBool    `json:"usageChargeFlag"`
	HourlyRecurringFee   *Amount     `json:"hourlyRecurringFee"`
	Children             []ChildItem `json:"children"`
}

// HasHourlyFee reports whether the portal sent a positive hourly fee for
// the item itself. The field is omitted entirely on monthly items.
func (l LineItem) HasHourlyFee() bool {
	return l.HourlyRecurringFee != nil && l.HourlyRecurringFee.IsPositive()
}
