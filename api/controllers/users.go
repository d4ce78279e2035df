package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/dmarkov/verifio-backend/api/middleware"
	"github.com/dmarkov/verifio-backend/api/responses"
	"github.com/dmarkov/verifio-backend/internal/accounts"
	pkgerrors "github.com/dmarkov/verifio-backend/pkg/errors"
	"github.com/dmarkov/verifio-backend/pkg/logger"
)

// UsersMe returns the authenticated user's profile.
func UsersMe(svc accounts.AuthService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			err := pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user identity"))
			return
		}

		user, err := svc.Me(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]*accounts.UserSummary{"user": user})
	}
}
