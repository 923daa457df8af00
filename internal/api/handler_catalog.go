package api

import (
	"net/http"

	"duck-sandbox/internal/domain"
)

// === Metadata ===

func (h *APIHandler) listTables(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	ts, total, err := h.svc.Metadata.ListTables(r.Context(), page)
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(ts, total, page, tableToAPI))
}

func (h *APIHandler) getTable(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Metadata.GetTable(r.Context(), pathID(r))
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tableToAPI(*t))
}

func (h *APIHandler) syncTables(w http.ResponseWriter, r *http.Request) {
	version, err := h.svc.Metadata.Sync(r.Context())
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"schema_version": version})
}

func (h *APIHandler) updateField(w http.ResponseWriter, r *http.Request) {
	var body updateFieldRequest
	if err := decodeJSON(r, &body); err != nil {
		h.failRequest(w, r, err)
		return
	}
	f, err := h.svc.Metadata.SetForeignKey(r.Context(), domain.SetForeignKeyRequest{
		FieldID:       pathID(r),
		TargetFieldID: body.FKTargetFieldID,
	})
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fieldToAPI(*f))
}

// === Collections ===

func (h *APIHandler) listCollections(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	cs, total, err := h.svc.Collection.List(r.Context(), page)
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(cs, total, page, collectionToAPI))
}

func (h *APIHandler) createCollection(w http.ResponseWriter, r *http.Request) {
	var body createCollectionRequest
	if err := decodeJSON(r, &body); err != nil {
		h.failRequest(w, r, err)
		return
	}
	c, err := h.svc.Collection.Create(r.Context(), domain.CreateCollectionRequest{Name: body.Name, Description: body.Description})
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, collectionToAPI(*c))
}

func (h *APIHandler) collectionItems(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	cards, total, err := h.svc.Collection.Items(r.Context(), pathID(r), page)
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(cards, total, page, cardToAPI))
}

// === Cards ===

func (h *APIHandler) createCard(w http.ResponseWriter, r *http.Request) {
	var body createCardRequest
	if err := decodeJSON(r, &body); err != nil {
		h.failRequest(w, r, err)
		return
	}
	c, err := h.svc.Card.Create(r.Context(), domain.CreateCardRequest{
		Name:         body.Name,
		Type:         body.Type,
		CollectionID: body.CollectionID,
		Query:        body.DatasetQuery,
	})
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cardToAPI(*c))
}

func (h *APIHandler) getCard(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Card.GetByID(r.Context(), pathID(r))
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cardToAPI(*c))
}

func (h *APIHandler) updateCard(w http.ResponseWriter, r *http.Request) {
	var body updateCardRequest
	if err := decodeJSON(r, &body); err != nil {
		h.failRequest(w, r, err)
		return
	}
	c, err := h.svc.Card.Update(r.Context(), pathID(r), domain.UpdateCardRequest{
		Name:         body.Name,
		CollectionID: body.CollectionID,
		Query:        body.DatasetQuery,
	})
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cardToAPI(*c))
}

func (h *APIHandler) deleteCard(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Card.Delete(r.Context(), pathID(r)); err != nil {
		h.failRequest(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
