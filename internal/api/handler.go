// Package api provides the HTTP handlers of the sandboxing REST API.
package api

import (
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"

	"duck-sandbox/internal/service/catalog"
	"duck-sandbox/internal/service/governance"
	"duck-sandbox/internal/service/query"
	"duck-sandbox/internal/service/security"
)

// Services groups the services the handlers call.
type Services struct {
	Query      *query.QueryService
	Principal  *security.PrincipalService
	Group      *security.GroupService
	APIKey     *security.APIKeyService
	Sandbox    *security.SandboxPolicyService
	Collection *catalog.CollectionService
	Card       *catalog.CardService
	Metadata   *catalog.MetadataService
	Audit      *governance.AuditService
}

// APIHandler serves the authenticated /api routes.
type APIHandler struct {
	svc    Services
	logger *slog.Logger
	doc    *openapi3.T
}

// NewHandler creates an APIHandler and builds its OpenAPI document.
func NewHandler(svc Services, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &APIHandler{svc: svc, logger: logger}
	h.doc = buildOpenAPI(h.routes())
	return h
}

// route is one operation of the API. The same table drives the router and
// the OpenAPI document.
type route struct {
	method  string
	pattern string
	opID    string
	summary string
	tag     string
	query   []string
	body    bool
	status  int
	handle  http.HandlerFunc
}

func (h *APIHandler) routes() []route {
	return []route{
		// principals
		{http.MethodGet, "/user", "listUsers", "List principals", "users", pageParams, false, http.StatusOK, h.listUsers},
		{http.MethodPost, "/user", "createUser", "Create a principal", "users", nil, true, http.StatusCreated, h.createUser},
		{http.MethodGet, "/user/current", "currentUser", "Describe the caller", "users", nil, false, http.StatusOK, h.currentUser},
		{http.MethodGet, "/user/{id}", "getUser", "Get a principal", "users", nil, false, http.StatusOK, h.getUser},
		{http.MethodPut, "/user/{id}", "updateUser", "Set admin flag or login attributes", "users", nil, true, http.StatusOK, h.updateUser},
		{http.MethodDelete, "/user/{id}", "deleteUser", "Delete a principal", "users", nil, false, http.StatusNoContent, h.deleteUser},

		// groups and membership
		{http.MethodGet, "/permissions/group", "listGroups", "List groups", "permissions", pageParams, false, http.StatusOK, h.listGroups},
		{http.MethodPost, "/permissions/group", "createGroup", "Create a group", "permissions", nil, true, http.StatusCreated, h.createGroup},
		{http.MethodGet, "/permissions/group/{id}", "getGroup", "Get a group with its members", "permissions", nil, false, http.StatusOK, h.getGroup},
		{http.MethodDelete, "/permissions/group/{id}", "deleteGroup", "Delete a group and its sandbox policies", "permissions", nil, false, http.StatusNoContent, h.deleteGroup},
		{http.MethodPost, "/permissions/membership", "addMember", "Add a user or group to a group", "permissions", nil, true, http.StatusNoContent, h.addMember},
		{http.MethodDelete, "/permissions/membership", "removeMember", "Remove a member from a group", "permissions", nil, true, http.StatusNoContent, h.removeMember},

		// api keys
		{http.MethodGet, "/api-key", "listAPIKeys", "List API keys of a principal", "api-keys", []string{"principal_id"}, false, http.StatusOK, h.listAPIKeys},
		{http.MethodPost, "/api-key", "createAPIKey", "Create an API key", "api-keys", nil, true, http.StatusCreated, h.createAPIKey},
		{http.MethodDelete, "/api-key/{id}", "deleteAPIKey", "Revoke an API key", "api-keys", nil, false, http.StatusNoContent, h.deleteAPIKey},

		// sandbox policies
		{http.MethodGet, "/sandbox", "listSandboxPolicies", "List sandbox policies", "sandbox", append([]string{"table_id", "group_id"}, pageParams...), false, http.StatusOK, h.listPolicies},
		{http.MethodPut, "/sandbox", "putSandboxPolicy", "Create or replace the policy of a table and group", "sandbox", nil, true, http.StatusOK, h.putPolicy},
		{http.MethodDelete, "/sandbox", "deleteSandboxPolicy", "Delete the policy of a table and group", "sandbox", []string{"table_id", "group_id"}, false, http.StatusNoContent, h.deletePolicy},
		{http.MethodGet, "/sandbox/{id}", "getSandboxPolicy", "Get a sandbox policy", "sandbox", nil, false, http.StatusOK, h.getPolicy},

		// metadata
		{http.MethodGet, "/table", "listTables", "List warehouse tables", "metadata", pageParams, false, http.StatusOK, h.listTables},
		{http.MethodPost, "/table/sync", "syncTables", "Refresh table metadata from the warehouse", "metadata", nil, false, http.StatusOK, h.syncTables},
		{http.MethodGet, "/table/{id}", "getTable", "Get a table with its fields", "metadata", nil, false, http.StatusOK, h.getTable},
		{http.MethodPut, "/field/{id}", "updateField", "Set or clear the foreign key of a field", "metadata", nil, true, http.StatusOK, h.updateField},
		{http.MethodGet, "/field/{id}/values", "fieldValues", "Distinct values of a field visible to the caller", "metadata", nil, false, http.StatusOK, h.fieldValues},

		// collections and cards
		{http.MethodGet, "/collection", "listCollections", "List collections", "collections", pageParams, false, http.StatusOK, h.listCollections},
		{http.MethodPost, "/collection", "createCollection", "Create a collection", "collections", nil, true, http.StatusCreated, h.createCollection},
		{http.MethodGet, "/collection/{id}/items", "collectionItems", "List the cards of a collection", "collections", pageParams, false, http.StatusOK, h.collectionItems},
		{http.MethodPost, "/card", "createCard", "Save a question or model", "cards", nil, true, http.StatusCreated, h.createCard},
		{http.MethodGet, "/card/{id}", "getCard", "Get a card", "cards", nil, false, http.StatusOK, h.getCard},
		{http.MethodPut, "/card/{id}", "updateCard", "Update a card", "cards", nil, true, http.StatusOK, h.updateCard},
		{http.MethodDelete, "/card/{id}", "deleteCard", "Delete a card", "cards", nil, false, http.StatusNoContent, h.deleteCard},
		{http.MethodPost, "/card/{id}/query", "queryCard", "Run the query of a card", "cards", nil, false, http.StatusOK, h.queryCard},

		// queries
		{http.MethodPost, "/dataset", "runDataset", "Run a structured query", "dataset", nil, true, http.StatusOK, h.runDataset},
		{http.MethodPost, "/dataset/parameter/values", "parameterValues", "Values of filter-widget fields", "dataset", nil, true, http.StatusOK, h.parameterValues},

		// audit
		{http.MethodGet, "/audit", "listAudit", "List audit log entries", "audit", append([]string{"principal", "action", "status", "since"}, pageParams...), false, http.StatusOK, h.listAudit},
	}
}

var pageParams = []string{"max_results", "page_token"}

// Mount registers every route on r.
func (h *APIHandler) Mount(r chi.Router) {
	for _, rt := range h.routes() {
		r.Method(rt.method, rt.pattern, rt.handle)
	}
}

// OpenAPI returns the document describing the mounted routes.
func (h *APIHandler) OpenAPI() *openapi3.T {
	return h.doc
}

// ServeOpenAPI writes the OpenAPI document as JSON.
func (h *APIHandler) ServeOpenAPI(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.doc)
}
