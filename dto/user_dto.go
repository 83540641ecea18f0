package dto

// UpdateMeDTO carries optional pointer fields; absent fields stay untouched.
type UpdateMeDTO struct {
	FirstName *string           `json:"firstName"`
	LastName  *string           `json:"lastName"`
	Phone     *string           `json:"phone"`
	Address   *UpdateAddressDTO `json:"address"`
}

type UpdateAddressDTO struct {
	Line1      *string `json:"line1"`
	Line2      *string `json:"line2"`
	City       *string `json:"city"`
	State      *string `json:"state"`
	PostalCode *string `json:"postalCode"`
	Country    *string `json:"country"`
}

// AdminUpdateUserDTO patches the admin-editable subset. Password and token
// fields are deliberately not here.
type AdminUpdateUserDTO struct {
	Email      *string           `json:"email" binding:"omitempty,email"`
	Role       *string           `json:"role" binding:"omitempty,oneof=ADMIN USER"`
	IsVerified *bool             `json:"isVerified"`
	FirstName  *string           `json:"firstName"`
	LastName   *string           `json:"lastName"`
	Phone      *string           `json:"phone"`
	Address    *UpdateAddressDTO `json:"address"`
}

type ToggleStatusDTO struct {
	IsActive *bool `json:"isActive" binding:"required"`
}
