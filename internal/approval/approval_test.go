package approval

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const companyID = "c-1"

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func user(id string, role Role) *User {
	return &User{ID: id, CompanyID: companyID, Name: id, Email: id + "@example.com", Role: role}
}

func draft() Draft {
	return Draft{
		Description:   "printer paper",
		Category:      "Office Supplies",
		Amount:        decimal.NewFromInt(50),
		Currency:      "USD",
		ExpenseDate:   "2026-03-10",
		PaymentMethod: "Company Card",
	}
}

func roleChain(roles ...Role) *Policy {
	return &Policy{CompanyID: companyID, Kind: PolicyRoleChain, Roles: roles}
}

func namedChain(approvers ...NamedApprover) *Policy {
	return &Policy{CompanyID: companyID, Kind: PolicyNamedChain, Approvers: approvers}
}

func submitted(t testing.TB, policy *Policy, submitter *User) *Expense {
	t.Helper()
	exp, err := NewExpense("e-1", draft(), submitter, policy, testNow)
	if err != nil {
		t.Fatalf("NewExpense() error = %v, want nil", err)
	}
	return exp
}
