package service

import "unicode"

const minPasswordLength = 8

// validatePassword is the pure password policy check. It returns nil when the
// password is acceptable, otherwise a ValidationError listing every failure.
func validatePassword(password string) *ValidationError {
	var fields []FieldError

	if len(password) < minPasswordLength {
		fields = append(fields, FieldError{
			Field:   "password",
			Message: "must be at least 8 characters long",
		})
	}

	numeric := len(password) > 0
	for _, r := range password {
		if !unicode.IsDigit(r) {
			numeric = false
			break
		}
	}
	if numeric {
		fields = append(fields, FieldError{
			Field:   "password",
			Message: "cannot be entirely numeric",
		})
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
