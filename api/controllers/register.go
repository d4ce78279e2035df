package controllers

import (
	"net/http"

	"github.com/dmarkov/verifio-backend/api/responses"
	"github.com/dmarkov/verifio-backend/api/validators"
	"github.com/dmarkov/verifio-backend/internal/accounts"
	pkgerrors "github.com/dmarkov/verifio-backend/pkg/errors"
	"github.com/dmarkov/verifio-backend/pkg/logger"
)

// AccountRegister starts a registration. The reply is 202 with a fixed body
// whether or not the address was already taken.
func AccountRegister(svc accounts.RegisterService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			err := pkgerrors.New(pkgerrors.CodeInternal, "register service unavailable")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body accounts.RegisterRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Register(r.Context(), body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{
			"message": "check your email for a verification code",
		})
	}
}

// AccountActivate consumes a verification code and activates the account.
func AccountActivate(svc accounts.ActivateService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			err := pkgerrors.New(pkgerrors.CodeInternal, "activate service unavailable")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body accounts.ActivateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		user, err := svc.Activate(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]*accounts.UserSummary{"user": user})
	}
}
