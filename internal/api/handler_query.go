package api

import (
	"fmt"
	"net/http"

	"duck-sandbox/internal/domain"
)

func (h *APIHandler) runDataset(w http.ResponseWriter, r *http.Request) {
	var body datasetRequest
	if err := decodeJSON(r, &body); err != nil {
		h.failQuery(w, r, err)
		return
	}
	var (
		res *domain.SandboxedResult
		err error
	)
	switch {
	case body.Query != nil && body.CardID != "":
		err = domain.ErrValidation("set either query or card_id, not both")
	case body.CardID != "":
		res, err = h.svc.Query.ExecuteCard(r.Context(), body.CardID)
	case body.Query != nil:
		if err = body.Query.Validate(); err == nil {
			res, err = h.svc.Query.Execute(r.Context(), body.Query)
		}
	default:
		err = domain.ErrValidation("query or card_id is required")
	}
	if err != nil {
		h.failQuery(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, datasetToAPI(res, body))
}

func (h *APIHandler) queryCard(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	res, err := h.svc.Query.ExecuteCard(r.Context(), id)
	if err != nil {
		h.failQuery(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, datasetToAPI(res, datasetRequest{CardID: domain.CardIDFromSource(id)}))
}

func (h *APIHandler) fieldValues(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	res, err := h.svc.Query.FieldValues(r.Context(), id)
	if err != nil {
		h.failQuery(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, valuesResponse{
		FieldID:     id,
		Values:      nonNilRows(res.Rows),
		IsSandboxed: res.IsSandboxed,
	})
}

// parameterValues merges the distinct values of every requested field, in
// request order, the way a multi-field filter widget shows them.
func (h *APIHandler) parameterValues(w http.ResponseWriter, r *http.Request) {
	var body parameterValuesRequest
	if err := decodeJSON(r, &body); err != nil {
		h.failQuery(w, r, err)
		return
	}
	byField, err := h.svc.Query.ParameterValues(r.Context(), body.FieldIDs)
	if err != nil {
		h.failQuery(w, r, err)
		return
	}
	out := valuesResponse{Values: [][]any{}}
	seen := map[string]bool{}
	for _, id := range body.FieldIDs {
		res := byField[id]
		if res == nil {
			continue
		}
		out.IsSandboxed = out.IsSandboxed || res.IsSandboxed
		for _, row := range res.Rows {
			if len(row) == 0 {
				continue
			}
			key := fmt.Sprintf("%T:%v", row[0], row[0])
			if seen[key] {
				continue
			}
			seen[key] = true
			out.Values = append(out.Values, row)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func nonNilRows(rows [][]any) [][]any {
	if rows == nil {
		return [][]any{}
	}
	return rows
}
