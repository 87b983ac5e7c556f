package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/errors"
)

func TestIsUUID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{uuid.NewString(), true},
		{"6F9619FF-8B86-D011-B42D-00C04FC964FF", true},
		{"", false},
		{"bob", false},
		{"abc", false},
		{"6f9619ff8b86d011b42d00c04fc964ff", false},
		{"{6f9619ff-8b86-d011-b42d-00c04fc964ff}", false},
		{"urn:uuid:6f9619ff-8b86-d011-b42d-00c04fc964ff", false},
		{"6f9619ff-8b86-d011-b42d-00c04fc964fz", false},
	}
	for _, tt := range tests {
		if got := isUUID(tt.id); got != tt.want {
			t.Errorf("isUUID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

// Malformed ids are answered before any query is sent, so the repositories
// need no connection here.
func TestPostgresRepositoriesMalformedIDs(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectoryRepository(nil)
	policies := NewPolicyRepository(nil)
	expenses := NewExpenseRepository(nil)

	notFound := []struct {
		name string
		call func() error
	}{
		{"GetUser", func() error { _, err := dir.GetUser(ctx, "bob"); return err }},
		{"GetCompany", func() error { _, err := dir.GetCompany(ctx, "acme"); return err }},
		{"UpdateUserRole", func() error { return dir.UpdateUserRole(ctx, "bob", approval.RoleManager) }},
		{"UpdateUserManager", func() error { return dir.UpdateUserManager(ctx, "bob", "") }},
		{"UpdateUserManager manager", func() error { return dir.UpdateUserManager(ctx, uuid.NewString(), "boss") }},
		{"DeletePolicy", func() error { return policies.DeletePolicy(ctx, "acme") }},
		{"Get expense", func() error { _, err := expenses.Get(ctx, "abc"); return err }},
		{"Update expense", func() error { return expenses.Update(ctx, &approval.Expense{ID: "abc"}, 1) }},
		{"Delete expense", func() error { return expenses.Delete(ctx, "abc", 1) }},
	}
	for _, tt := range notFound {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, errors.ErrNotFound) {
				t.Errorf("error = %v, want NotFound", err)
			}
		})
	}

	users, err := dir.ListUsers(ctx, "acme")
	if err != nil || len(users) != 0 {
		t.Errorf("ListUsers() = %v, %v, want empty", users, err)
	}
	users, err = dir.FindUsersByRole(ctx, "acme", approval.RoleManager)
	if err != nil || len(users) != 0 {
		t.Errorf("FindUsersByRole() = %v, %v, want empty", users, err)
	}
	list, err := expenses.ListByCompany(ctx, "acme")
	if err != nil || len(list) != 0 {
		t.Errorf("ListByCompany() = %v, %v, want empty", list, err)
	}
	p, err := policies.GetActivePolicy(ctx, "acme")
	if err != nil || p != nil {
		t.Errorf("GetActivePolicy() = %v, %v, want nil policy", p, err)
	}
}
