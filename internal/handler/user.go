package handler

import (
	"net/http"

	"github.com/sakif/pong-backend/internal/model"
	"github.com/sakif/pong-backend/internal/service"
)

// UserHandler serves the /api/users collection.
type UserHandler struct {
	identity      *service.IdentityService
	defaultAvatar string
	errs          ErrorWriter
}

func NewUserHandler(identity *service.IdentityService, defaultAvatar string, errs ErrorWriter) *UserHandler {
	return &UserHandler{identity: identity, defaultAvatar: defaultAvatar, errs: errs}
}

type createUserRequest struct {
	Username string `json:"username"`
}

type updateUserRequest struct {
	DisplayName string `json:"display_name"`
}

// HandleList answers GET /api/users with every user, ordered by id.
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.identity.ListUsers(r.Context())
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	// make, not var: an empty list must encode as [] rather than null
	out := make([]model.PublicUser, 0, len(users))
	for i := range users {
		out = append(out, users[i].Public(h.defaultAvatar))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCreate answers POST /api/users {"username": "..."}.
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}

	user, err := h.identity.CreateUser(r.Context(), req.Username)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user.Public(h.defaultAvatar))
}

// HandleGet answers GET /api/users/{id}.
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	user, err := h.identity.GetUser(r.Context(), id)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Public(h.defaultAvatar))
}

// HandleUpdate answers PUT /api/users/{id} {"display_name": "..."}.
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}

	user, err := h.identity.UpdateDisplayName(r.Context(), id, req.DisplayName)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Public(h.defaultAvatar))
}

// HandleDelete answers DELETE /api/users/{id}.
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	if err := h.identity.DeleteUser(r.Context(), id); err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "User deleted"})
}
