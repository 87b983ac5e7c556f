// Package approval holds the expense approval engine: the policy resolver,
// the per-expense state machine, the authorization guard and the visibility
// filter. Everything here is a pure function of already-loaded data; callers
// do the I/O.
//
// # Expense state machine
//
//	Submitted -> PartiallyApproved -> Approved
//	Submitted | PartiallyApproved  -> Rejected
//
// Status is never stored independently of the steps. It is recomputed from
// the step decisions after every change (see DeriveStatus).
package approval

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is a user's role within a company.
type Role string

const (
	RoleAdmin    Role = "Admin"
	RoleManager  Role = "Manager"
	RoleEmployee Role = "Employee"
	RoleDirector Role = "Director"
)

// Roles lists every known role.
var Roles = []Role{RoleAdmin, RoleManager, RoleEmployee, RoleDirector}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleEmployee, RoleDirector:
		return true
	}
	return false
}

// CanApprove reports whether users with this role may appear in an approval
// chain.
func (r Role) CanApprove() bool {
	switch r {
	case RoleManager, RoleDirector, RoleAdmin:
		return true
	}
	return false
}

// Category is an expense category from a closed set.
type Category string

var Categories = []Category{
	"Travel", "Meals", "Office Supplies", "Software", "Training",
	"Entertainment", "Marketing", "Equipment", "Other",
}

func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Currency is an ISO currency code from a closed set.
type Currency string

// CurrencyInfo describes a supported currency.
type CurrencyInfo struct {
	Code   Currency `json:"code"`
	Name   string   `json:"name"`
	Symbol string   `json:"symbol"`
}

var Currencies = []CurrencyInfo{
	{Code: "USD", Name: "US Dollar", Symbol: "$"},
	{Code: "EUR", Name: "Euro", Symbol: "€"},
	{Code: "INR", Name: "Indian Rupee", Symbol: "₹"},
	{Code: "GBP", Name: "British Pound", Symbol: "£"},
	{Code: "CAD", Name: "Canadian Dollar", Symbol: "C$"},
	{Code: "AUD", Name: "Australian Dollar", Symbol: "A$"},
}

func (c Currency) IsValid() bool {
	for _, known := range Currencies {
		if c == known.Code {
			return true
		}
	}
	return false
}

// PaymentMethod records how the expense was paid.
type PaymentMethod string

var PaymentMethods = []PaymentMethod{
	"Cash", "Credit Card", "Debit Card", "Bank Transfer", "Company Card", "Personal",
}

func (p PaymentMethod) IsValid() bool {
	for _, known := range PaymentMethods {
		if p == known {
			return true
		}
	}
	return false
}

// Company is a tenant.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Currency  Currency  `json:"currency"`
	AdminID   string    `json:"admin_id"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a member of exactly one company.
type User struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	// Credential is an opaque reference owned by the auth collaborator.
	Credential string    `json:"-"`
	Role       Role      `json:"role"`
	ManagerID  string    `json:"manager_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PolicyKind tags the active ApprovalPolicy variant.
type PolicyKind string

const (
	PolicyRoleChain  PolicyKind = "role_chain"
	PolicyNamedChain PolicyKind = "named_chain"
)

// NamedApprover is one entry of a named chain.
type NamedApprover struct {
	UserID string `json:"user_id"`
	Order  int    `json:"order"`
}

// Policy is a company's approval configuration. Exactly one of Roles or
// Approvers is meaningful, selected by Kind.
type Policy struct {
	CompanyID string          `json:"company_id"`
	Kind      PolicyKind      `json:"kind"`
	Roles     []Role          `json:"roles,omitempty"`
	Approvers []NamedApprover `json:"approvers,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Decision is the outcome recorded on a step.
type Decision string

const (
	DecisionPending  Decision = "Pending"
	DecisionApproved Decision = "Approved"
	DecisionRejected Decision = "Rejected"
)

// RequirementKind says how a step's approver is identified.
type RequirementKind string

const (
	RequireRole RequirementKind = "role"
	RequireUser RequirementKind = "user"
)

// Step is one checkpoint in an expense's approval sequence. The requirement
// fields are fixed at submission; only the decision fields change.
type Step struct {
	Kind           RequirementKind `json:"kind"`
	RequiredRole   Role            `json:"required_role,omitempty"`
	RequiredUserID string          `json:"required_user_id,omitempty"`
	// Order is the configured order value (named chains) or 1-based position.
	Order     int        `json:"order"`
	Decision  Decision   `json:"decision"`
	DecidedBy string     `json:"decided_by,omitempty"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	Comment   string     `json:"comment,omitempty"`
}

// IsPending reports whether the step awaits a decision.
func (s Step) IsPending() bool {
	return s.Decision == DecisionPending
}

// Status is an expense's derived overall status.
type Status string

const (
	StatusSubmitted         Status = "Submitted"
	StatusPartiallyApproved Status = "PartiallyApproved"
	StatusApproved          Status = "Approved"
	StatusRejected          Status = "Rejected"
)

// IsTerminal reports whether no further decisions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Expense is a submitted expense together with its approval steps.
type Expense struct {
	ID            string          `json:"id"`
	CompanyID     string          `json:"company_id"`
	SubmitterID   string          `json:"submitter_id"`
	Description   string          `json:"description"`
	Category      Category        `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      Currency        `json:"currency"`
	ExpenseDate   string          `json:"expense_date"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Remarks       string          `json:"remarks"`
	Steps         []Step          `json:"steps"`
	Status        Status          `json:"status"`
	Version       int             `json:"version"`
	SubmittedAt   time.Time       `json:"submitted_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate the result without
// touching the original.
func (e *Expense) Clone() *Expense {
	c := *e
	c.Steps = make([]Step, len(e.Steps))
	for i, s := range e.Steps {
		if s.DecidedAt != nil {
			t := *s.DecidedAt
			s.DecidedAt = &t
		}
		c.Steps[i] = s
	}
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
