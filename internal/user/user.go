package user

import (
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/ticket-payments/internal"
	userDatamodel "github.com/frahmantamala/ticket-payments/internal/core/datamodel/user"
)

// Profile is the account view returned to its owner.
type Profile struct {
	ID        uuid.UUID     `json:"id"`
	Email     string        `json:"email"`
	FullName  string        `json:"full_name"`
	Phone     string        `json:"phone,omitempty"`
	Role      internal.Role `json:"role"`
	Province  string        `json:"province,omitempty"`
	IsActive  bool          `json:"is_active"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func FromDataModel(u *userDatamodel.User) *Profile {
	role := internal.Role(u.Role)
	if !role.Valid() {
		role = internal.RoleIndividual
	}
	return &Profile{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Phone:     u.Phone,
		Role:      role,
		Province:  u.Province,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
