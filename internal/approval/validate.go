package approval

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/errors"
)

const dateLayout = "2006-01-02"

// Amounts are stored as NUMERIC(14, 2).
const amountScale = 2

var amountLimit = decimal.New(1, 12)

// Draft is the submitter-supplied part of an expense.
type Draft struct {
	Description   string          `json:"description"`
	Category      Category        `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      Currency        `json:"currency"`
	ExpenseDate   string          `json:"expense_date"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Remarks       string          `json:"remarks"`
}

// Validate checks the draft and normalizes ExpenseDate to YYYY-MM-DD.
func (d *Draft) Validate() error {
	d.Description = strings.TrimSpace(d.Description)
	if d.Description == "" {
		return errors.InvalidInput("description", "is required")
	}
	if !d.Amount.IsPositive() {
		return errors.InvalidInput("amount", "must be greater than zero")
	}
	if !d.Amount.Equal(d.Amount.Truncate(amountScale)) {
		return errors.InvalidInput("amount", "must have at most 2 decimal places")
	}
	if d.Amount.GreaterThanOrEqual(amountLimit) {
		return errors.InvalidInput("amount", "must be less than "+amountLimit.String())
	}
	if !d.Category.IsValid() {
		return errors.InvalidInput("category", fmt.Sprintf("unknown category %q", d.Category))
	}
	if !d.Currency.IsValid() {
		return errors.InvalidInput("currency", fmt.Sprintf("unsupported currency %q", d.Currency))
	}
	if !d.PaymentMethod.IsValid() {
		return errors.InvalidInput("payment_method", fmt.Sprintf("unknown payment method %q", d.PaymentMethod))
	}
	date, err := NormalizeDate(d.ExpenseDate)
	if err != nil {
		return err
	}
	d.ExpenseDate = date
	return nil
}

// NormalizeDate accepts a calendar date or an RFC 3339 timestamp and returns
// the calendar date.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.InvalidInput("expense_date", "is required")
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.Format(dateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(dateLayout), nil
	}
	return "", errors.InvalidInput("expense_date", "must be YYYY-MM-DD")
}

// Update carries the editable expense fields. Nil fields are left alone.
type Update struct {
	Description   *string          `json:"description,omitempty"`
	Category      *Category        `json:"category,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Currency      *Currency        `json:"currency,omitempty"`
	ExpenseDate   *string          `json:"expense_date,omitempty"`
	PaymentMethod *PaymentMethod   `json:"payment_method,omitempty"`
	Remarks       *string          `json:"remarks,omitempty"`
}

// IsEmpty reports whether no field is set.
func (u Update) IsEmpty() bool {
	return u.Description == nil && u.Category == nil && u.Amount == nil &&
		u.Currency == nil && u.ExpenseDate == nil && u.PaymentMethod == nil &&
		u.Remarks == nil
}
