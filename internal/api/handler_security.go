package api

import (
	"net/http"

	"duck-sandbox/internal/domain"
)

// === Principals ===

func (h *APIHandler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	ps, total, err := h.svc.Principal.List(r.Context(), page)
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(ps, total, page, principalToAPI))
}

func (h *APIHandler) createUser(w http.ResponseWriter, r *http.Request) {
	var body createUserRequest
	if err := decodeJSON(r, &body); err != nil {
		h.failRequest(w, r, err)
		return
	}
	p, err := h.svc.Principal.Create(r.Context(), domain.CreatePrincipalRequest{
		Name:            body.Name,
		Type:            body.Type,
		IsAdmin:         body.IsAdmin,
		LoginAttributes: body.LoginAttributes,
	})
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, principalToAPI(*p))
}

func (h *APIHandler) currentUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		h.failRequest(w, r, domain.ErrAccessDenied("authentication required"))
		return
	}
	p, err := h.svc.Principal.GetByID(r.Context(), caller.ID)
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, principalToAPI(*p))
}

func (h *APIHandler) getUser(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Principal.GetByID(r.Context(), pathID(r))
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, principalToAPI(*p))
}

func (h *APIHandler) updateUser(w http.ResponseWriter, r *http.Request) {
	var body updateUserRequest
	if err := decodeJSON(r, &body); err != nil {
		h.failRequest(w, r, err)
		return
	}
	p, err := h.svc.Principal.Update(r.Context(), pathID(r), domain.UpdatePrincipalRequest{
		IsAdmin:         body.IsAdmin,
		LoginAttributes: body.LoginAttributes,
	})
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, principalToAPI(*p))
}

func (h *APIHandler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Principal.Delete(r.Context(), pathID(r)); err != nil {
		h.failRequest(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// === Groups ===

func (h *APIHandler) listGroups(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	gs, total, err := h.svc.Group.List(r.Context(), page)
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(gs, total, page, groupToAPI))
}

func (h *APIHandler) createGroup(w http.ResponseWriter, r *http.Request) {
	var body createGroupRequest
	if err := decodeJSON(r, &body); err != nil {
		h.failRequest(w, r, err)
		return
	}
	g, err := h.svc.Group.Create(r.Context(), domain.CreateGroupRequest{Name: body.Name, Description: body.Description})
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, groupToAPI(*g))
}

func (h *APIHandler) getGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.Group.GetByID(r.Context(), pathID(r))
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	members, _, err := h.svc.Group.ListMembers(r.Context(), g.ID, domain.PageRequest{MaxResults: domain.MaxMaxResults})
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	out := groupToAPI(*g)
	for _, m := range members {
		out.Members = append(out.Members, memberToAPI(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Group.Delete(r.Context(), pathID(r)); err != nil {
		h.failRequest(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) addMember(w http.ResponseWriter, r *http.Request) {
	var body memberJSON
	if err := decodeJSON(r, &body); err != nil {
		h.failRequest(w, r, err)
		return
	}
	if err := h.svc.Group.AddMember(r.Context(), domain.AddGroupMemberRequest{
		GroupID: body.GroupID, MemberType: body.MemberType, MemberID: body.MemberID,
	}); err != nil {
		h.failRequest(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) removeMember(w http.ResponseWriter, r *http.Request) {
	var body memberJSON
	if err := decodeJSON(r, &body); err != nil {
		h.failRequest(w, r, err)
		return
	}
	if err := h.svc.Group.RemoveMember(r.Context(), domain.RemoveGroupMemberRequest{
		GroupID: body.GroupID, MemberType: body.MemberType, MemberID: body.MemberID,
	}); err != nil {
		h.failRequest(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// === API keys ===

func (h *APIHandler) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	principalID := r.URL.Query().Get("principal_id")
	if principalID == "" {
		if caller, ok := domain.PrincipalFromContext(r.Context()); ok {
			principalID = caller.ID
		}
	}
	keys, err := h.svc.APIKey.List(r.Context(), principalID)
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	page := domain.PageRequest{MaxResults: len(keys)}
	writeJSON(w, http.StatusOK, newList(keys, int64(len(keys)), page, apiKeyToAPI))
}

func (h *APIHandler) createAPIKey(w http.ResponseWriter, r *http.Request) {
	var body createAPIKeyRequest
	if err := decodeJSON(r, &body); err != nil {
		h.failRequest(w, r, err)
		return
	}
	raw, key, err := h.svc.APIKey.Create(r.Context(), domain.CreateAPIKeyRequest{
		PrincipalID: body.PrincipalID,
		Name:        body.Name,
		ExpiresAt:   body.ExpiresAt,
	})
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	out := apiKeyToAPI(*key)
	out.Key = raw
	writeJSON(w, http.StatusCreated, out)
}

func (h *APIHandler) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.APIKey.Delete(r.Context(), pathID(r)); err != nil {
		h.failRequest(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// === Sandbox policies ===

func (h *APIHandler) listPolicies(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	filter := domain.SandboxPolicyFilter{
		TableID: optionalQuery(r, "table_id"),
		GroupID: optionalQuery(r, "group_id"),
	}
	ps, total, err := h.svc.Sandbox.List(r.Context(), filter, page)
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(ps, total, page, policyToAPI))
}

func (h *APIHandler) putPolicy(w http.ResponseWriter, r *http.Request) {
	var body putPolicyRequest
	if err := decodeJSON(r, &body); err != nil {
		h.failRequest(w, r, err)
		return
	}
	p, err := h.svc.Sandbox.Put(r.Context(), domain.PutSandboxPolicyRequest{
		TableID:      body.TableID,
		GroupID:      body.GroupID,
		Mode:         body.Mode,
		FilterColumn: body.FilterColumn,
		AttributeKey: body.AttributeKey,
		CustomViewID: body.CustomViewID,
	})
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policyToAPI(*p))
}

func (h *APIHandler) getPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Sandbox.GetByID(r.Context(), pathID(r))
	if err != nil {
		h.failRequest(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policyToAPI(*p))
}

func (h *APIHandler) deletePolicy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := h.svc.Sandbox.Delete(r.Context(), q.Get("table_id"), q.Get("group_id")); err != nil {
		h.failRequest(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
