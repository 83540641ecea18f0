package store

import (
	"context"
	"errors"

	"github.com/shoplite/usersbackend/models"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	ErrNotFound       = errors.New("store: user not found")
	ErrDuplicateEmail = errors.New("store: email already registered")
	ErrNoTokenMatch   = errors.New("store: no matching unexpired token")
	ErrAlreadyInState = errors.New("store: account already in requested state")
)

// TokenKind selects which token pair on the account an operation targets.
type TokenKind string

const (
	TokenVerification  TokenKind = "emailVerification"
	TokenPasswordReset TokenKind = "passwordReset"
)

// TokenField and ExpiryField are the document field names for a token kind.
func (k TokenKind) TokenField() string  { return string(k) + "Token" }
func (k TokenKind) ExpiryField() string { return string(k) + "Expiry" }

// Patch is a partial field update keyed by document field name
// (dotted for subdocuments, e.g. "profile.firstName").
// A nil value unsets the field.
type Patch map[string]any

// UserStore is the record store the account lifecycle service runs against.
// The store is the sole point of mutual exclusion: ConsumeToken and SetActive
// are conditional updates so concurrent callers cannot both win.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id bson.ObjectID) (*models.User, error)
	Insert(ctx context.Context, u *models.User) error

	// UpdateFields applies a partial update and returns the updated user.
	UpdateFields(ctx context.Context, id bson.ObjectID, patch Patch) (*models.User, error)

	// ConsumeToken atomically locates the account holding the given unexpired
	// token hash, clears the token pair and applies patch in the same update.
	// cond narrows the match (e.g. require isActive). At most one caller wins;
	// losers get ErrNoTokenMatch.
	ConsumeToken(ctx context.Context, kind TokenKind, hash string, cond Patch, patch Patch) (*models.User, error)

	// FindByTokenHash looks an account up by a stored token hash regardless of
	// expiry. Used to tell "gone" from "not allowed" after a ConsumeToken miss.
	FindByTokenHash(ctx context.Context, kind TokenKind, hash string) (*models.User, error)

	// SetActive flips isActive, failing with ErrAlreadyInState when the
	// account is already in the requested state.
	SetActive(ctx context.Context, id bson.ObjectID, active bool) (*models.User, error)

	List(ctx context.Context, page, limit int) ([]models.User, int64, error)
}
