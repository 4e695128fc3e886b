package http

import (
	"net/http"

	"github.com/aussiebroadwan/prayerwall/internal/auth/domain"
	"github.com/aussiebroadwan/prayerwall/internal/auth/service"
	"github.com/aussiebroadwan/prayerwall/pkg/httpx"
	"github.com/aussiebroadwan/prayerwall/pkg/slogx"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

// SessionResponse is returned by sign-in and sign-up.
type SessionResponse struct {
	Identity  domain.Identity `json:"identity"`
	FromCache bool            `json:"from_cache"`
	Offline   bool            `json:"offline"`
}

// SessionHandler exposes the gateway operations as JSON endpoints.
type SessionHandler struct {
	Gateway *service.Gateway
}

// HandleSignIn godoc
//
//	@Summary		Sign In
//	@Description	Signs in with email and password. When the identity provider is unreachable or out of quota, the
//	@Description	last cached session for the same credentials is returned with from_cache set.
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			request	body		credentialsRequest		true	"email, password"
//	@Success		200		{object}	SessionResponse			"identity, from_cache, offline"
//	@Failure		400		{object}	httpx.ErrorResponse		"error, error_description"
//	@Failure		401		{object}	httpx.ErrorResponse		"error, error_description"
//	@Failure		429		{object}	httpx.ErrorResponse		"error, error_description"
//	@Failure		502		{object}	httpx.ErrorResponse		"error, error_description"
//	@Failure		503		{object}	httpx.ErrorResponse		"error, error_description"
//	@Header			503		{integer}	Retry-After				"seconds, set when the provider is out of quota"
//	@Router			/v1/session/sign-in [post].
func (h *SessionHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	res, err := h.Gateway.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, SessionResponse{
		Identity:  res.Identity,
		FromCache: res.FromCache,
		Offline:   res.Offline,
	})
}

// HandleSignUp godoc
//
//	@Summary		Sign Up
//	@Description	Creates an account with the identity provider. Sign-up needs the provider, so it fails offline.
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			request	body		credentialsRequest		true	"email, password"
//	@Success		201		{object}	SessionResponse			"identity"
//	@Failure		400		{object}	httpx.ErrorResponse		"error, error_description"
//	@Failure		409		{object}	httpx.ErrorResponse		"error, error_description"
//	@Failure		429		{object}	httpx.ErrorResponse		"error, error_description"
//	@Failure		502		{object}	httpx.ErrorResponse		"error, error_description"
//	@Failure		503		{object}	httpx.ErrorResponse		"error, error_description"
//	@Router			/v1/session/sign-up [post].
func (h *SessionHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	id, err := h.Gateway.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	slogx.FromContext(r.Context()).Info("account created", "subject_id", id.SubjectID)
	httpx.WriteJSON(w, http.StatusCreated, SessionResponse{Identity: id})
}

// HandleSignOut godoc
//
//	@Summary		Sign Out
//	@Description	Clears the cached session and signs out of the provider. Always succeeds; provider failures are
//	@Description	logged by the gateway.
//	@Tags			Session
//	@Success		204	"Signed out"
//	@Failure		429	{object}	httpx.ErrorResponse	"error, error_description"
//	@Header			204	{string}	Cache-Control		"no-store"
//	@Router			/v1/session/sign-out [post].
func (h *SessionHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	h.Gateway.SignOut(r.Context())

	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandlePasswordReset godoc
//
//	@Summary		Password Reset
//	@Description	Asks the identity provider to email a password reset link.
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			request	body		passwordResetRequest	true	"email"
//	@Success		202		"Reset email requested"
//	@Failure		400		{object}	httpx.ErrorResponse		"error, error_description"
//	@Failure		429		{object}	httpx.ErrorResponse		"error, error_description"
//	@Failure		502		{object}	httpx.ErrorResponse		"error, error_description"
//	@Failure		503		{object}	httpx.ErrorResponse		"error, error_description"
//	@Router			/v1/session/password-reset [post].
func (h *SessionHandler) HandlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.Gateway.SendPasswordReset(r.Context(), req.Email); err != nil {
		writeFailure(w, r, err)
		return
	}

	httpx.NoCache(w)
	w.WriteHeader(http.StatusAccepted)
}
