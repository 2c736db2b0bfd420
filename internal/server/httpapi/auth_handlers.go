package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/scriptoria-app/scriptoria/internal/errs"
	"github.com/scriptoria-app/scriptoria/internal/model"
	"github.com/scriptoria-app/scriptoria/internal/obs"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type accountView struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Role        string     `json:"role"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type tokensView struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	AccessExpiresIn  int    `json:"access_expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
}

type sessionResponse struct {
	Account accountView `json:"account"`
	Tokens  tokensView  `json:"tokens"`
}

func viewAccount(a *model.Account) accountView {
	return accountView{
		ID:          a.ID.String(),
		Username:    a.Username,
		Role:        string(a.Role),
		LastLoginAt: a.LastLoginAt,
		CreatedAt:   a.CreatedAt,
	}
}

func viewSession(a *model.Account, pair *model.TokenPair) sessionResponse {
	return sessionResponse{
		Account: viewAccount(a),
		Tokens: tokensView{
			AccessToken:      pair.AccessToken,
			RefreshToken:     pair.RefreshToken,
			AccessExpiresIn:  pair.AccessExpiresIn,
			RefreshExpiresIn: pair.RefreshExpiresIn,
		},
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	account, pair, err := a.auth.Register(r.Context(), req.Username, req.Password, model.Role(req.Role), requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewSession(account, pair))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	account, pair, err := a.auth.Login(r.Context(), req.Username, req.Password, requestMeta(r))
	if err != nil {
		var locked *errs.LockedError
		switch {
		case errors.As(err, &locked):
			obs.ObserveLogin("locked")
		default:
			obs.ObserveLogin("failed")
		}
		writeServiceError(w, err)
		return
	}
	obs.ObserveLogin("success")
	writeJSON(w, http.StatusOK, viewSession(account, pair))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "refresh_token is required", nil)
		return
	}
	account, pair, err := a.auth.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSession(account, pair))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())

	// The refresh token is optional; without it only the access session dies.
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	if err := a.auth.Logout(r.Context(), account, accessSecretFromContext(r.Context()), req.RefreshToken, requestMeta(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())
	writeJSON(w, http.StatusOK, viewAccount(account))
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFromContext(r.Context())

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	if err := a.auth.ChangePassword(r.Context(), account, req.CurrentPassword, req.NewPassword, requestMeta(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
