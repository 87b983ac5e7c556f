package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/pesio-ai/be-expense-approvals/internal/approval"
	"github.com/pesio-ai/be-expense-approvals/internal/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/middleware"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	expenses  *service.ExpenseService
	policies  *service.PolicyService
	directory *service.DirectoryService
	log       *logger.Logger
	ping      func(ctx context.Context) error
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	expenses *service.ExpenseService,
	policies *service.PolicyService,
	directory *service.DirectoryService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		expenses:  expenses,
		policies:  policies,
		directory: directory,
		log:       log,
	}
}

// WithHealthCheck makes /health report the result of ping.
func (h *HTTPHandler) WithHealthCheck(ping func(ctx context.Context) error) *HTTPHandler {
	h.ping = ping
	return h
}

// Router registers every route. Routes other than health, signup and
// reference data run behind auth.
func (h *HTTPHandler) Router(auth func(http.Handler) http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/signup", h.Signup).Methods(http.MethodPost)
	api.HandleFunc("/reference", h.Reference).Methods(http.MethodGet)

	secured := api.NewRoute().Subrouter()
	secured.Use(auth)

	secured.HandleFunc("/me", h.Me).Methods(http.MethodGet)
	secured.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)
	secured.HandleFunc("/users", h.CreateUser).Methods(http.MethodPost)
	secured.HandleFunc("/users/{id}/role", h.UpdateRole).Methods(http.MethodPut)
	secured.HandleFunc("/users/{id}/manager", h.AssignManager).Methods(http.MethodPut)
	secured.HandleFunc("/approvers", h.ListApprovers).Methods(http.MethodGet)

	secured.HandleFunc("/approval-policy", h.GetPolicy).Methods(http.MethodGet)
	secured.HandleFunc("/approval-policy", h.SetPolicy).Methods(http.MethodPut)
	secured.HandleFunc("/approval-policy", h.ClearPolicy).Methods(http.MethodDelete)

	secured.HandleFunc("/expenses", h.ListExpenses).Methods(http.MethodGet)
	secured.HandleFunc("/expenses", h.SubmitExpense).Methods(http.MethodPost)
	secured.HandleFunc("/expenses/stats", h.ExpenseStats).Methods(http.MethodGet)
	secured.HandleFunc("/expenses/{id}", h.GetExpense).Methods(http.MethodGet)
	secured.HandleFunc("/expenses/{id}", h.EditExpense).Methods(http.MethodPatch)
	secured.HandleFunc("/expenses/{id}", h.WithdrawExpense).Methods(http.MethodDelete)
	secured.HandleFunc("/expenses/{id}/steps/{index}/decision", h.DecideStep).Methods(http.MethodPost)

	return r
}

// ── Health / reference ────────────────────────────────────────────────────────

// Health reports liveness, and storage readiness when a check is configured.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Reference returns the closed value sets clients render in forms.
func (h *HTTPHandler) Reference(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"roles":           approval.Roles,
		"categories":      approval.Categories,
		"currencies":      approval.Currencies,
		"payment_methods": approval.PaymentMethods,
	})
}

// ── Directory ─────────────────────────────────────────────────────────────────

type signupBody struct {
	CompanyName string            `json:"company_name"`
	Currency    approval.Currency `json:"currency"`
	Name        string            `json:"name"`
	Email       string            `json:"email"`
	Credential  string            `json:"credential"`
}

// Signup handles company signup HTTP requests
func (h *HTTPHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var body signupBody
	if !h.decode(w, r, &body) {
		return
	}

	company, admin, err := h.directory.Signup(r.Context(), &service.SignupRequest{
		CompanyName: body.CompanyName,
		Currency:    body.Currency,
		AdminName:   body.Name,
		Email:       body.Email,
		Credential:  body.Credential,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"company": company, "user": admin})
}

// Me returns the authenticated user and their company.
func (h *HTTPHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, company, err := h.directory.Me(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "company": company})
}

// ListUsers handles list users HTTP requests
func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.directory.ListUsers(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type createUserBody struct {
	Name       string        `json:"name"`
	Email      string        `json:"email"`
	Credential string        `json:"credential"`
	Role       approval.Role `json:"role"`
	ManagerID  string        `json:"manager_id"`
}

// CreateUser handles create user HTTP requests
func (h *HTTPHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var body createUserBody
	if !h.decode(w, r, &body) {
		return
	}

	user, err := h.directory.CreateUser(r.Context(), &service.CreateUserRequest{
		ActorID:    actor(r),
		Name:       body.Name,
		Email:      body.Email,
		Credential: body.Credential,
		Role:       body.Role,
		ManagerID:  body.ManagerID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// UpdateRole handles PUT /users/{id}/role
func (h *HTTPHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role approval.Role `json:"role"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	user, err := h.directory.UpdateRole(r.Context(), actor(r), mux.Vars(r)["id"], body.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// AssignManager handles PUT /users/{id}/manager. A null or empty manager_id
// removes the manager.
func (h *HTTPHandler) AssignManager(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ManagerID string `json:"manager_id"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	user, err := h.directory.AssignManager(r.Context(), actor(r), mux.Vars(r)["id"], body.ManagerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// ListApprovers handles list approvers HTTP requests
func (h *HTTPHandler) ListApprovers(w http.ResponseWriter, r *http.Request) {
	users, err := h.directory.ListApprovers(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvers": users})
}

// ── Approval policy ───────────────────────────────────────────────────────────

type policyBody struct {
	Kind      approval.PolicyKind      `json:"kind"`
	Roles     []approval.Role          `json:"roles"`
	Approvers []approval.NamedApprover `json:"approvers"`
}

// GetPolicy returns the company policy. A company without one answers with
// a null policy, meaning each expense goes to the submitter's manager.
func (h *HTTPHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.policies.GetPolicy(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policy": policy})
}

// SetPolicy handles PUT /approval-policy
func (h *HTTPHandler) SetPolicy(w http.ResponseWriter, r *http.Request) {
	var body policyBody
	if !h.decode(w, r, &body) {
		return
	}

	policy, err := h.policies.SetPolicy(r.Context(), &service.SetPolicyRequest{
		ActorID:   actor(r),
		Kind:      body.Kind,
		Roles:     body.Roles,
		Approvers: body.Approvers,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policy": policy})
}

// ClearPolicy handles DELETE /approval-policy
func (h *HTTPHandler) ClearPolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.policies.ClearPolicy(r.Context(), actor(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Expenses ──────────────────────────────────────────────────────────────────

// SubmitExpense handles submit expense HTTP requests
func (h *HTTPHandler) SubmitExpense(w http.ResponseWriter, r *http.Request) {
	var draft approval.Draft
	if !h.decode(w, r, &draft) {
		return
	}

	exp, err := h.expenses.SubmitExpense(r.Context(), &service.SubmitExpenseRequest{
		SubmitterID: actor(r),
		Draft:       draft,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, exp)
}

// ListExpenses returns the expenses visible to the caller, newest first.
func (h *HTTPHandler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	list, err := h.expenses.ListVisibleExpenses(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": list, "total": len(list)})
}

// GetExpense handles get expense HTTP requests
func (h *HTTPHandler) GetExpense(w http.ResponseWriter, r *http.Request) {
	exp, err := h.expenses.GetExpense(r.Context(), actor(r), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

type editExpenseBody struct {
	approval.Update
	ExpectedVersion *int `json:"expected_version"`
}

// EditExpense handles PATCH /expenses/{id}
func (h *HTTPHandler) EditExpense(w http.ResponseWriter, r *http.Request) {
	var body editExpenseBody
	if !h.decode(w, r, &body) {
		return
	}

	exp, err := h.expenses.EditExpense(r.Context(), &service.EditExpenseRequest{
		ExpenseID:       mux.Vars(r)["id"],
		ActorID:         actor(r),
		Update:          body.Update,
		ExpectedVersion: body.ExpectedVersion,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// WithdrawExpense handles DELETE /expenses/{id}
func (h *HTTPHandler) WithdrawExpense(w http.ResponseWriter, r *http.Request) {
	if err := h.expenses.WithdrawExpense(r.Context(), actor(r), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type decisionBody struct {
	Decision        approval.Decision `json:"decision"`
	Comment         string            `json:"comment"`
	ExpectedVersion *int              `json:"expected_version"`
}

// DecideStep handles POST /expenses/{id}/steps/{index}/decision
func (h *HTTPHandler) DecideStep(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		h.writeError(w, r, errors.InvalidInput("step_index", "must be an integer"))
		return
	}

	var body decisionBody
	if !h.decode(w, r, &body) {
		return
	}

	exp, err := h.expenses.DecideStep(r.Context(), &service.DecideStepRequest{
		ExpenseID:       vars["id"],
		StepIndex:       index,
		ActorID:         actor(r),
		Decision:        body.Decision,
		Comment:         body.Comment,
		ExpectedVersion: body.ExpectedVersion,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// ExpenseStats handles GET /expenses/stats
func (h *HTTPHandler) ExpenseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.expenses.ExpenseStats(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func actor(r *http.Request) string {
	return middleware.ActorID(r.Context())
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body"))
		return false
	}
	return true
}

type errorBody struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
	Field   string      `json:"field,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	body := errorBody{Code: errors.CodeOf(err), Message: err.Error()}

	var appErr *errors.Error
	if errors.As(err, &appErr) {
		body.Message = appErr.Message
		body.Field = appErr.Field
	}
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
		body.Code = errors.ErrCodeInternal
		body.Message = "internal server error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
