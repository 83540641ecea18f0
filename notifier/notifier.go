package notifier

import (
	"context"

	"github.com/shoplite/usersbackend/models"
)

// Kind names the email template an account state change triggers.
type Kind string

const (
	KindVerify          Kind = "verify"
	KindResendVerify    Kind = "resend-verify"
	KindReset           Kind = "reset"
	KindPasswordChanged Kind = "password-changed"
	KindNewLogin        Kind = "new-login"
	KindActivated       Kind = "activated"
	KindDeactivated     Kind = "deactivated"
)

// Notifier delivers templated account emails. Implementations must report
// delivery failure through the returned error; the caller decides whether a
// failure rolls back state or degrades to a warning.
type Notifier interface {
	Send(ctx context.Context, kind Kind, user *models.User, data map[string]string) error
}
