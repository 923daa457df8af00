package api

import (
	"net/http"

	"duck-sandbox/internal/domain"
)

func (h *APIHandler) listAudit(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	since, err := optionalTime(r, "since")
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	entries, total, err := h.svc.Audit.List(r.Context(), domain.AuditFilter{
		PrincipalName: optionalQuery(r, "principal"),
		Action:        optionalQuery(r, "action"),
		Status:        optionalQuery(r, "status"),
		Since:         since,
		Page:          page,
	})
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(entries, total, page, auditToAPI))
}
