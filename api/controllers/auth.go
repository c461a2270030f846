package controllers

import (
	"net/http"

	"github.com/bytefrontng/bytefront-backend/api/middleware"
	"github.com/bytefrontng/bytefront-backend/api/responses"
	"github.com/bytefrontng/bytefront-backend/api/validators"
	"github.com/bytefrontng/bytefront-backend/internal/auth"
	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
)

// AuthRegister creates a customer account and signs it in immediately.
func AuthRegister(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		var body auth.RegisterRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Register(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// AuthLogin wires the login endpoint into the HTTP layer.
func AuthLogin(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		var body auth.LoginRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Login(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// AuthRefresh exchanges an expired access token plus refresh token for a new pair.
func AuthRefresh(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		var body auth.RefreshRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		pair, err := svc.Refresh(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, pair)
	}
}

// AuthLogout revokes the session tied to the authenticated request.
func AuthLogout(svc auth.Service, carts cartEvictor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable"))
			return
		}

		accessID := middleware.AccessIDFromContext(r.Context())
		if err := svc.Logout(r.Context(), accessID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		// Flush and drop the server-side cart session so pending debounced
		// writes land before the identity goes away.
		if carts != nil {
			if userID := middleware.UserIDFromContext(r.Context()); userID != "" {
				if err := carts.Evict(r.Context(), userID); err != nil && logg != nil {
					logg.Warn(r.Context(), "failed to evict cart session on logout")
				}
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "logged_out"})
	}
}
