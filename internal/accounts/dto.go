package accounts

import (
	"github.com/google/uuid"

	"github.com/dmarkov/verifio-backend/pkg/db/models"
	"github.com/dmarkov/verifio-backend/pkg/enums"
)

// RegisterRequest contains the payload required to start a registration.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// ActivateRequest carries the credentials plus the emailed code.
type ActivateRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Code     string `json:"code" validate:"required,len=4,numeric"`
}

// LoginRequest contains the credentials for password login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the token pair and the authenticated user.
type LoginResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         UserSummary `json:"user"`
}

// UserSummary is the public projection of a user row.
type UserSummary struct {
	ID     uuid.UUID        `json:"id"`
	Email  string           `json:"email"`
	Status enums.UserStatus `json:"status"`
}

func summarize(user *models.User) UserSummary {
	return UserSummary{
		ID:     user.ID,
		Email:  user.Email,
		Status: user.Status,
	}
}
