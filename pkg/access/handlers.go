package access

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/brightpath/pdcore/pkg/httputil"
	"github.com/brightpath/pdcore/pkg/observability"
)

// Handlers provides the HTTP surface for the access matrix and flow rules
type Handlers struct {
	service *Service
	rules   *FlowRuleStore
	logger  *observability.Logger
}

// NewHandlers creates access-control handlers
func NewHandlers(service *Service, rules *FlowRuleStore, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, rules: rules, logger: logger}
}

// AdminModuleID is the matrix module gating every configuration mutation:
// only roles with Settings enabled may change the matrix or flow rules
const AdminModuleID = "settings"

// RegisterRoutes registers all access routes on router, which is expected to
// be the /api/v1 subrouter with RoleFromHeader already mounted. Mutation
// routes are additionally gated on the Settings module.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	admin := RequireModule(h.service, AdminModuleID)

	// Access matrix
	router.HandleFunc("/access/matrix", h.GetMatrix).Methods("GET")
	router.Handle("/access/matrix", admin(http.HandlerFunc(h.ReplaceMatrix))).Methods("PUT")
	router.Handle("/access/matrix/{moduleId}/{role}", admin(http.HandlerFunc(h.SetModuleRole))).Methods("PATCH")

	// Evaluation
	router.HandleFunc("/access/modules", h.ListEnabledModules).Methods("GET")
	router.HandleFunc("/access/check", h.CheckAccess).Methods("POST")

	// Flow rules
	router.HandleFunc("/access/flow-rules", h.ListFlowRules).Methods("GET")
	router.Handle("/access/flow-rules", admin(http.HandlerFunc(h.CreateFlowRule))).Methods("POST")
	router.HandleFunc("/access/flow-rules/resolve", h.ResolveFlowRule).Methods("GET")
	router.HandleFunc("/access/flow-rules/{id}", h.GetFlowRule).Methods("GET")
	router.Handle("/access/flow-rules/{id}", admin(http.HandlerFunc(h.UpdateFlowRule))).Methods("PUT")
	router.Handle("/access/flow-rules/{id}", admin(http.HandlerFunc(h.DeleteFlowRule))).Methods("DELETE")
}

// GetMatrix returns the full access matrix
func (h *Handlers) GetMatrix(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.Matrix(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, cfg)
}

// ReplaceMatrix swaps in a complete set of matrix entries
func (h *Handlers) ReplaceMatrix(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entries []MatrixEntry `json:"entries"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	cfg, err := h.service.ReplaceMatrix(r.Context(), req.Entries)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, cfg)
}

// SetModuleRole flips one (module, role) flag
func (h *Handlers) SetModuleRole(w http.ResponseWriter, r *http.Request) {
	moduleID, ok := httputil.ParsePathStringOrError(w, r, "moduleId")
	if !ok {
		return
	}
	role, ok := httputil.ParsePathStringOrError(w, r, "role")
	if !ok {
		return
	}

	var req struct {
		Allowed bool `json:"allowed"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	cfg, err := h.service.SetModuleRole(r.Context(), moduleID, Role(role), req.Allowed)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, cfg)
}

// ListEnabledModules returns the moduleIDs visible to a role, in matrix order
func (h *Handlers) ListEnabledModules(w http.ResponseWriter, r *http.Request) {
	role := Role(httputil.ParseQueryString(r, "role", ""))
	if !ValidRole(role) {
		httputil.WriteBadRequest(w, "unrecognized role")
		return
	}

	cfg, err := h.service.Matrix(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	modules := EnabledModules(cfg, role)
	if modules == nil {
		modules = []string{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"role":    role,
		"modules": modules,
	})
}

// CheckAccess answers a single (module, role) permission question
func (h *Handlers) CheckAccess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModuleID string `json:"module_id"`
		Role     Role   `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.ModuleID, "module_id") {
		return
	}
	if !ValidRole(req.Role) {
		httputil.WriteBadRequest(w, "unrecognized role")
		return
	}

	cfg, err := h.service.Matrix(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"module_id": req.ModuleID,
		"role":      req.Role,
		"allowed":   IsModuleEnabled(cfg, req.ModuleID, req.Role),
	})
}

// ListFlowRules returns all flow rules
func (h *Handlers) ListFlowRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rules == nil {
		rules = []FlowRule{}
	}
	httputil.WriteSuccess(w, rules)
}

// GetFlowRule returns a single rule by ID
func (h *Handlers) GetFlowRule(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	rule, err := h.rules.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, rule)
}

// CreateFlowRule inserts a new rule
func (h *Handlers) CreateFlowRule(w http.ResponseWriter, r *http.Request) {
	var rule FlowRule
	if !httputil.ParseJSONOrError(w, r, &rule) {
		return
	}

	created, err := h.rules.Create(r.Context(), &rule)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

// UpdateFlowRule replaces a rule's fields
func (h *Handlers) UpdateFlowRule(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var rule FlowRule
	if !httputil.ParseJSONOrError(w, r, &rule) {
		return
	}

	updated, err := h.rules.Update(r.Context(), id, &rule)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// DeleteFlowRule removes a rule
func (h *Handlers) DeleteFlowRule(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.rules.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ResolveFlowRule answers where a form submission should land for a role
func (h *Handlers) ResolveFlowRule(w http.ResponseWriter, r *http.Request) {
	formName := httputil.ParseQueryString(r, "form", "")
	if !httputil.RequireNonEmpty(w, formName, "form") {
		return
	}
	role := Role(httputil.ParseQueryString(r, "role", ""))
	if !ValidRole(role) {
		httputil.WriteBadRequest(w, "unrecognized role")
		return
	}

	rule, err := h.rules.Resolve(r.Context(), formName, role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, rule)
}

// writeError maps domain errors onto HTTP statuses
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case IsValidation(err):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrRuleConflict):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrRuleNotFound), errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrConfigMissing), errors.Is(err, ErrStorageUnavailable):
		h.logger.WithError(err).Error("access backend unavailable")
		httputil.WriteServiceUnavailable(w, "access configuration unavailable")
	default:
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("access request failed")
		httputil.WriteInternalError(w, errors.New("internal server error"))
	}
}
