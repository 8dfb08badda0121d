package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrelops/cloudbill/internal/classic"
)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func amount(value string) classic.Amount {
	return classic.NewAmount(d(value))
}

func amountPtr(value string) *classic.Amount {
	a := amount(value)
	return &a
}

func refDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, referenceZone)
}

func refTime(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, referenceZone)
}

func invoiceFixture(id int, typeCode string, created time.Time, total, recurring string) classic.Invoice {
	return classic.Invoice{
		ID:                   id,
		CreateDate:           created,
		TypeCode:             typeCode,
		TotalAmount:          amount(total),
		TotalRecurringAmount: amount(recurring),
	}
}

func child(categoryCode, productDescription, billedDescription string) classic.ChildItem {
	return classic.ChildItem{
		CategoryCode: categoryCode,
		Description:  billedDescription,
		Product:      classic.Product{Description: productDescription},
	}
}
