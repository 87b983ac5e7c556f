package approval

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/errors"
)

func TestSingleManagerRoleChain(t *testing.T) {
	emp := user("emp", RoleEmployee)
	mgr := user("mgr", RoleManager)

	exp := submitted(t, roleChain(RoleManager), emp)
	if len(exp.Steps) != 1 || exp.Steps[0].RequiredRole != RoleManager || !exp.Steps[0].IsPending() {
		t.Fatalf("steps = %+v, want one pending Manager step", exp.Steps)
	}
	if exp.Status != StatusSubmitted {
		t.Fatalf("status = %s, want Submitted", exp.Status)
	}
	if !exp.Amount.Equal(decimal.NewFromInt(50)) || exp.Currency != "USD" {
		t.Errorf("amount = %s %s, want 50 USD", exp.Amount, exp.Currency)
	}

	later := testNow.Add(time.Hour)
	got, err := Decide(exp, 0, mgr, DecisionApproved, "ok", later)
	if err != nil {
		t.Fatalf("Decide() error = %v, want nil", err)
	}
	if got.Status != StatusApproved {
		t.Errorf("status = %s, want Approved", got.Status)
	}

	wantStep := Step{
		Kind:         RequireRole,
		RequiredRole: RoleManager,
		Order:        1,
		Decision:     DecisionApproved,
		DecidedBy:    "mgr",
		DecidedAt:    &later,
		Comment:      "ok",
	}
	if diff := cmp.Diff(wantStep, got.Steps[0]); diff != "" {
		t.Errorf("step mismatch (-want +got):\n%s", diff)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(later) {
		t.Errorf("ResolvedAt = %v, want %v", got.ResolvedAt, later)
	}

	if exp.Status != StatusSubmitted || !exp.Steps[0].IsPending() {
		t.Errorf("Decide() modified its input")
	}
}

func TestManagerThenDirectorRejects(t *testing.T) {
	emp := user("emp", RoleEmployee)
	mgr := user("mgr", RoleManager)
	dir := user("dir", RoleDirector)

	exp := submitted(t, roleChain(RoleManager, RoleDirector), emp)
	if len(exp.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(exp.Steps))
	}

	exp, err := Decide(exp, 0, mgr, DecisionApproved, "", testNow)
	if err != nil {
		t.Fatalf("manager Decide() error = %v", err)
	}
	if exp.Status != StatusPartiallyApproved {
		t.Fatalf("status = %s, want PartiallyApproved", exp.Status)
	}
	if exp.ResolvedAt != nil {
		t.Errorf("ResolvedAt set on non-terminal expense")
	}

	exp, err = Decide(exp, 1, dir, DecisionRejected, "over budget", testNow)
	if err != nil {
		t.Fatalf("director Decide() error = %v", err)
	}
	if exp.Status != StatusRejected || !exp.Status.IsTerminal() {
		t.Fatalf("status = %s, want Rejected", exp.Status)
	}

	for idx, actor := range []*User{mgr, dir} {
		for _, d := range []Decision{DecisionApproved, DecisionRejected} {
			if _, err := Decide(exp, idx, actor, d, "", testNow); err == nil {
				t.Errorf("Decide(step %d, %s) after rejection succeeded", idx, d)
			}
		}
	}
}

func TestDecideWrongOrder(t *testing.T) {
	emp := user("emp", RoleEmployee)
	chain := []NamedApprover{{"a0", 1}, {"a1", 2}, {"a2", 3}, {"a3", 4}}
	exp := submitted(t, namedChain(chain...), emp)

	for i := 1; i < len(chain); i++ {
		actor := user(chain[i].UserID, RoleManager)
		_, err := Decide(exp, i, actor, DecisionApproved, "", testNow)
		if !errors.Is(err, errors.ErrWrongOrder) {
			t.Errorf("Decide(step %d) error = %v, want WrongOrder", i, err)
		}
	}
}

func TestDecideAfterEarlierRejection(t *testing.T) {
	emp := user("emp", RoleEmployee)
	chain := []NamedApprover{{"a0", 1}, {"a1", 2}, {"a2", 3}}
	exp := submitted(t, namedChain(chain...), emp)

	exp, err := Decide(exp, 0, user("a0", RoleManager), DecisionRejected, "", testNow)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}

	for i := 1; i < len(chain); i++ {
		_, err := Decide(exp, i, user(chain[i].UserID, RoleManager), DecisionApproved, "", testNow)
		if !errors.Is(err, errors.ErrExpenseFinalized) {
			t.Errorf("Decide(step %d) error = %v, want ExpenseFinalized", i, err)
		}
	}
}

func TestNamedChainOtherManager(t *testing.T) {
	emp := user("emp", RoleEmployee)
	exp := submitted(t, namedChain(NamedApprover{UserID: "u", Order: 1}), emp)

	_, err := Decide(exp, 0, user("someone-else", RoleManager), DecisionApproved, "", testNow)
	if !errors.Is(err, errors.ErrNotAuthorized) {
		t.Fatalf("Decide() error = %v, want NotAuthorized", err)
	}
}

func TestDecideErrors(t *testing.T) {
	emp := user("emp", RoleEmployee)
	mgr := user("mgr", RoleManager)
	admin := user("admin", RoleAdmin)
	foreign := &User{ID: "mgr-2", CompanyID: "c-2", Role: RoleManager}

	exp := submitted(t, roleChain(RoleManager), emp)
	approved, err := Decide(exp, 0, mgr, DecisionApproved, "", testNow)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		exp      *Expense
		idx      int
		actor    *User
		decision Decision
		want     error
	}{
		{"other company", exp, 0, foreign, DecisionApproved, errors.ErrNotAuthorized},
		{"other company beats bad index", exp, 9, foreign, DecisionApproved, errors.ErrNotAuthorized},
		{"negative index", exp, -1, mgr, DecisionApproved, errors.ErrValidation},
		{"index past end", exp, 1, mgr, DecisionApproved, errors.ErrValidation},
		{"pending is not a decision", exp, 0, mgr, DecisionPending, errors.ErrValidation},
		{"garbage decision", exp, 0, mgr, "Maybe", errors.ErrValidation},
		{"admin without eligibility", exp, 0, admin, DecisionApproved, errors.ErrNotAuthorized},
		{"submitter", exp, 0, emp, DecisionApproved, errors.ErrNotAuthorized},
		{"already decided", approved, 0, mgr, DecisionRejected, errors.ErrAlreadyDecided},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(tt.exp, tt.idx, tt.actor, tt.decision, "", testNow)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Decide() error = %v, want %v", err, errors.CodeOf(tt.want))
			}
			if got != nil {
				t.Errorf("Decide() returned an expense alongside an error")
			}
		})
	}
}

func TestDecideSameDecisionTwice(t *testing.T) {
	emp := user("emp", RoleEmployee)
	mgr := user("mgr", RoleManager)
	exp := submitted(t, roleChain(RoleManager, RoleManager), emp)

	first, err := Decide(exp, 0, mgr, DecisionApproved, "", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decide(first, 0, mgr, DecisionApproved, "", testNow); !errors.Is(err, errors.ErrAlreadyDecided) {
		t.Errorf("second Decide() error = %v, want AlreadyDecided", err)
	}
}

func TestDeriveStatus(t *testing.T) {
	p := Step{Decision: DecisionPending}
	a := Step{Decision: DecisionApproved}
	r := Step{Decision: DecisionRejected}

	tests := []struct {
		name  string
		steps []Step
		want  Status
	}{
		{"no steps", nil, StatusApproved},
		{"one pending", []Step{p}, StatusSubmitted},
		{"all pending", []Step{p, p, p}, StatusSubmitted},
		{"first approved", []Step{a, p}, StatusPartiallyApproved},
		{"all approved", []Step{a, a}, StatusApproved},
		{"rejected first", []Step{r, p}, StatusRejected},
		{"rejected after approval", []Step{a, r}, StatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveStatus(tt.steps)
			if got != tt.want {
				t.Errorf("DeriveStatus() = %s, want %s", got, tt.want)
			}
			if again := DeriveStatus(tt.steps); again != got {
				t.Errorf("DeriveStatus() not stable: %s then %s", got, again)
			}
		})
	}
}

func TestNewExpenseEmptyChainAutoApproves(t *testing.T) {
	exp := submitted(t, roleChain(), user("emp", RoleEmployee))
	if exp.Status != StatusApproved {
		t.Fatalf("status = %s, want Approved", exp.Status)
	}
	if exp.ResolvedAt == nil {
		t.Errorf("ResolvedAt = nil, want submission time")
	}
}

func TestNewExpenseValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Draft)
	}{
		{"blank description", func(d *Draft) { d.Description = "  " }},
		{"zero amount", func(d *Draft) { d.Amount = decimal.Zero }},
		{"negative amount", func(d *Draft) { d.Amount = decimal.NewFromInt(-5) }},
		{"sub-cent amount", func(d *Draft) { d.Amount = decimal.RequireFromString("0.001") }},
		{"three decimal places", func(d *Draft) { d.Amount = decimal.RequireFromString("10.005") }},
		{"amount at limit", func(d *Draft) { d.Amount = decimal.New(1, 12) }},
		{"huge amount", func(d *Draft) { d.Amount = decimal.RequireFromString("100000000000000000000") }},
		{"category", func(d *Draft) { d.Category = "Snacks" }},
		{"currency", func(d *Draft) { d.Currency = "JPY" }},
		{"payment method", func(d *Draft) { d.PaymentMethod = "IOU" }},
		{"date", func(d *Draft) { d.ExpenseDate = "10/03/2026" }},
		{"missing date", func(d *Draft) { d.ExpenseDate = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := draft()
			tt.mutate(&d)
			_, err := NewExpense("e-1", d, user("emp", RoleEmployee), roleChain(RoleManager), testNow)
			if !errors.Is(err, errors.ErrValidation) {
				t.Fatalf("NewExpense() error = %v, want validation error", err)
			}
		})
	}
}

func TestDraftValidateAcceptsAmounts(t *testing.T) {
	for _, amount := range []string{"0.01", "10.5", "10.500", "999999999999.99"} {
		d := draft()
		d.Amount = decimal.RequireFromString(amount)
		if err := d.Validate(); err != nil {
			t.Errorf("Validate(amount %s) error = %v", amount, err)
		}
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2026-03-10", "2026-03-10"},
		{" 2026-03-10 ", "2026-03-10"},
		{"2026-03-10T18:45:00Z", "2026-03-10"},
		{"2026-03-10T23:30:00-05:00", "2026-03-10"},
	}
	for _, tt := range tests {
		got, err := NormalizeDate(tt.in)
		if err != nil {
			t.Errorf("NormalizeDate(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeDate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanEditAndWithdraw(t *testing.T) {
	emp := user("emp", RoleEmployee)
	other := user("other", RoleEmployee)
	mgr := user("mgr", RoleManager)
	admin := user("admin", RoleAdmin)
	foreignAdmin := &User{ID: "admin-2", CompanyID: "c-2", Role: RoleAdmin}

	fresh := submitted(t, roleChain(RoleManager, RoleDirector), emp)
	partial, err := Decide(fresh, 0, mgr, DecisionApproved, "", testNow)
	if err != nil {
		t.Fatal(err)
	}
	rejected, err := Decide(partial, 1, user("dir", RoleDirector), DecisionRejected, "", testNow)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name         string
		exp          *Expense
		actor        *User
		wantEdit     bool
		wantWithdraw bool
	}{
		{"submitter fresh", fresh, emp, true, true},
		{"submitter partial", partial, emp, false, true},
		{"submitter rejected", rejected, emp, false, false},
		{"other employee", fresh, other, false, false},
		{"manager", fresh, mgr, false, false},
		{"admin rejected", rejected, admin, true, true},
		{"foreign admin", fresh, foreignAdmin, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanEdit(tt.exp, tt.actor); got != tt.wantEdit {
				t.Errorf("CanEdit() = %v, want %v", got, tt.wantEdit)
			}
			if got := CanWithdraw(tt.exp, tt.actor); got != tt.wantWithdraw {
				t.Errorf("CanWithdraw() = %v, want %v", got, tt.wantWithdraw)
			}
		})
	}
}

func TestApplyUpdate(t *testing.T) {
	emp := user("emp", RoleEmployee)
	exp := submitted(t, roleChain(RoleManager), emp)

	desc := "  toner  "
	amount := decimal.RequireFromString("72.15")
	date := "2026-03-12T08:00:00Z"
	got, err := ApplyUpdate(exp, emp, Update{Description: &desc, Amount: &amount, ExpenseDate: &date}, testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("ApplyUpdate() error = %v, want nil", err)
	}
	if got.Description != "toner" || !got.Amount.Equal(amount) || got.ExpenseDate != "2026-03-12" {
		t.Errorf("ApplyUpdate() = %q %s %s", got.Description, got.Amount, got.ExpenseDate)
	}
	if diff := cmp.Diff(exp.Steps, got.Steps); diff != "" {
		t.Errorf("ApplyUpdate() changed steps (-want +got):\n%s", diff)
	}
	if exp.Description != "printer paper" {
		t.Errorf("ApplyUpdate() modified its input")
	}

	if _, err := ApplyUpdate(exp, emp, Update{}, testNow); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("empty update error = %v, want validation error", err)
	}

	bad := decimal.Zero
	if _, err := ApplyUpdate(exp, emp, Update{Amount: &bad}, testNow); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("zero amount error = %v, want validation error", err)
	}
	fraction := decimal.RequireFromString("72.155")
	if _, err := ApplyUpdate(exp, emp, Update{Amount: &fraction}, testNow); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("three decimal places error = %v, want validation error", err)
	}

	if _, err := ApplyUpdate(exp, user("mgr", RoleManager), Update{Description: &desc}, testNow); !errors.Is(err, errors.ErrNotAuthorized) {
		t.Errorf("manager edit error = %v, want NotAuthorized", err)
	}
}
