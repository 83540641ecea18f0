package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shoplite/usersbackend/dto"
	"github.com/shoplite/usersbackend/models"
	"github.com/shoplite/usersbackend/notifier"
	"github.com/shoplite/usersbackend/store"
	"github.com/shoplite/usersbackend/tokens"
	"github.com/shoplite/usersbackend/utils"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Accounts orchestrates the account lifecycle: register, verify, login,
// password reset and admin state changes. All persistence goes through the
// injected UserStore; every state change that concerns the user triggers a
// notification through the injected Notifier.
type Accounts struct {
	store    store.UserStore
	notifier notifier.Notifier
	log      *slog.Logger
}

func NewAccounts(st store.UserStore, n notifier.Notifier, log *slog.Logger) *Accounts {
	if log == nil {
		log = slog.Default()
	}
	return &Accounts{store: st, notifier: n, log: log}
}

// Register creates an unverified account and emails a verification link.
// If the email cannot be sent the verification token is cleared again so a
// later resend starts clean, and a NotificationError is returned.
func (a *Accounts) Register(ctx context.Context, in dto.RegisterDTO) (*models.User, error) {
	if verr := validatePassword(in.Password); verr != nil {
		return nil, verr
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	raw, tokenHash, expiry, err := tokens.Issue()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:                      bson.NewObjectID(),
		Email:                   utils.NormalizeEmail(in.Email),
		PasswordHash:            hash,
		Role:                    models.RoleUser,
		IsActive:                true,
		IsVerified:              false,
		EmailVerificationToken:  tokenHash,
		EmailVerificationExpiry: &expiry,
		PasswordChangedAt:       now,
		Profile: models.Profile{
			FirstName: in.FirstName,
			LastName:  in.LastName,
			Phone:     in.Phone,
		},
		Address: models.Address{
			Line1:      in.Address.Line1,
			Line2:      in.Address.Line2,
			City:       in.Address.City,
			State:      in.Address.State,
			PostalCode: in.Address.PostalCode,
			Country:    in.Address.Country,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := a.store.Insert(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, ErrConflict
		}
		return nil, err
	}

	if err := a.notifier.Send(ctx, notifier.KindVerify, user, map[string]string{"token": raw}); err != nil {
		a.clearToken(ctx, user.ID, store.TokenVerification)
		return nil, &NotificationError{Kind: notifier.KindVerify, Err: err}
	}
	return user, nil
}

// ResendVerification reissues the verification token, invalidating any prior
// one. Unknown and already-verified addresses fail with the same generic
// error so the endpoint cannot be used to probe which emails exist.
func (a *Accounts) ResendVerification(ctx context.Context, email string) error {
	user, err := a.store.FindByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidRequest
		}
		return err
	}
	if user.IsVerified {
		return ErrInvalidRequest
	}

	raw, tokenHash, expiry, err := tokens.Issue()
	if err != nil {
		return err
	}
	user, err = a.store.UpdateFields(ctx, user.ID, store.Patch{
		"emailVerificationToken":  tokenHash,
		"emailVerificationExpiry": expiry,
	})
	if err != nil {
		return err
	}

	if err := a.notifier.Send(ctx, notifier.KindResendVerify, user, map[string]string{"token": raw}); err != nil {
		a.clearToken(ctx, user.ID, store.TokenVerification)
		return &NotificationError{Kind: notifier.KindResendVerify, Err: err}
	}
	return nil
}

// VerifyEmail consumes a verification token and marks the account verified.
// Consumption is atomic in the store: a token redeems at most once.
func (a *Accounts) VerifyEmail(ctx context.Context, rawToken string) (*models.User, error) {
	user, err := a.store.ConsumeToken(ctx, store.TokenVerification, tokens.Hash(rawToken),
		nil, store.Patch{"isVerified": true})
	if err != nil {
		if errors.Is(err, store.ErrNoTokenMatch) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}
	return user, nil
}

// Login checks, in order: existence+password (one combined failure), claimed
// role, verification, active state. The order is part of the contract; it is
// observable through which error comes back when several conditions hold.
// A successful login stamps lastLogin and sends a best-effort alert mail.
func (a *Accounts) Login(ctx context.Context, in dto.LoginDTO) (*models.User, string, error) {
	user, err := a.store.FindByEmail(ctx, utils.NormalizeEmail(in.Email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := utils.CheckPassword(user.PasswordHash, in.Password); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	// Role mismatches look identical to bad credentials on purpose.
	if string(user.Role) != in.Role {
		return nil, "", ErrInvalidCredentials
	}
	if !user.IsVerified {
		return nil, "", ErrUnverified
	}
	if !user.IsActive {
		return nil, "", ErrDeactivated
	}

	now := time.Now().UTC()
	user, err = a.store.UpdateFields(ctx, user.ID, store.Patch{"lastLogin": now})
	if err != nil {
		return nil, "", err
	}

	token, err := utils.GenerateAccessToken(user.ID.Hex(), user.Email, string(user.Role), utils.AccessTTL())
	if err != nil {
		return nil, "", fmt.Errorf("sign access token: %w", err)
	}

	a.notifyBestEffort(ctx, notifier.KindNewLogin, user, map[string]string{
		"time": now.Format(time.RFC3339),
	})
	return user, token, nil
}

// ForgotPassword issues a reset token and emails the reset link. If the mail
// cannot be sent, the token is rolled back before the error is surfaced so
// the store never holds a token nobody received.
func (a *Accounts) ForgotPassword(ctx context.Context, email string) error {
	user, err := a.store.FindByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if !user.IsVerified {
		return ErrUnverified
	}
	if !user.IsActive {
		return ErrDeactivated
	}

	raw, tokenHash, expiry, err := tokens.Issue()
	if err != nil {
		return err
	}
	user, err = a.store.UpdateFields(ctx, user.ID, store.Patch{
		"passwordResetToken":  tokenHash,
		"passwordResetExpiry": expiry,
	})
	if err != nil {
		return err
	}

	if err := a.notifier.Send(ctx, notifier.KindReset, user, map[string]string{"token": raw}); err != nil {
		a.clearToken(ctx, user.ID, store.TokenPasswordReset)
		return &NotificationError{Kind: notifier.KindReset, Err: err}
	}
	return nil
}

// ResetPassword consumes a reset token and installs the new password hash,
// stamping passwordChangedAt and lastLogin in the same atomic update. When
// two callers race on the same token, exactly one wins. Returns the account
// and a fresh session token.
func (a *Accounts) ResetPassword(ctx context.Context, rawToken, password string) (*models.User, string, error) {
	if verr := validatePassword(password); verr != nil {
		return nil, "", verr
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user, err := a.store.ConsumeToken(ctx, store.TokenPasswordReset, tokens.Hash(rawToken),
		store.Patch{"isVerified": true, "isActive": true},
		store.Patch{
			"passwordHash":      hash,
			"passwordChangedAt": now,
			"lastLogin":         now,
		})
	if err != nil {
		if errors.Is(err, store.ErrNoTokenMatch) {
			return nil, "", a.explainResetMiss(ctx, rawToken)
		}
		return nil, "", err
	}

	token, err := utils.GenerateAccessToken(user.ID.Hex(), user.Email, string(user.Role), utils.AccessTTL())
	if err != nil {
		return nil, "", fmt.Errorf("sign access token: %w", err)
	}

	a.notifyBestEffort(ctx, notifier.KindPasswordChanged, user, nil)
	return user, token, nil
}

// explainResetMiss tells apart "token gone or expired" (400) from "token is
// fine but the account may not use it" (403) without consuming anything.
func (a *Accounts) explainResetMiss(ctx context.Context, rawToken string) error {
	user, err := a.store.FindByTokenHash(ctx, store.TokenPasswordReset, tokens.Hash(rawToken))
	if err != nil {
		return ErrInvalidOrExpiredToken
	}
	if !user.IsVerified {
		return ErrUnverified
	}
	if !user.IsActive {
		return ErrDeactivated
	}
	return ErrInvalidOrExpiredToken
}

// ChangePassword is the self-service password update; it re-checks the
// current password even though the caller already holds a session.
func (a *Accounts) ChangePassword(ctx context.Context, userID bson.ObjectID, in dto.ChangeMyPasswordDTO) error {
	user, err := a.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := utils.CheckPassword(user.PasswordHash, in.CurrentPassword); err != nil {
		return ErrInvalidCredentials
	}
	if verr := validatePassword(in.NewPassword); verr != nil {
		return verr
	}

	hash, err := utils.HashPassword(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user, err = a.store.UpdateFields(ctx, userID, store.Patch{
		"passwordHash":      hash,
		"passwordChangedAt": time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	a.notifyBestEffort(ctx, notifier.KindPasswordChanged, user, nil)
	return nil
}

// UpdateMe patches the caller's own profile and address subfields. Email,
// role and the state flags are not reachable from here.
func (a *Accounts) UpdateMe(ctx context.Context, userID bson.ObjectID, in dto.UpdateMeDTO) (*models.User, error) {
	patch := store.Patch{}
	setIf(patch, "profile.firstName", in.FirstName)
	setIf(patch, "profile.lastName", in.LastName)
	setIf(patch, "profile.phone", in.Phone)
	if in.Address != nil {
		setIf(patch, "address.line1", in.Address.Line1)
		setIf(patch, "address.line2", in.Address.Line2)
		setIf(patch, "address.city", in.Address.City)
		setIf(patch, "address.state", in.Address.State)
		setIf(patch, "address.postalCode", in.Address.PostalCode)
		setIf(patch, "address.country", in.Address.Country)
	}
	if len(patch) == 0 {
		return nil, ErrInvalidRequest
	}
	return a.applyPatch(ctx, userID, patch)
}

// SetMyPhoto records the uploaded profile photo URL.
func (a *Accounts) SetMyPhoto(ctx context.Context, userID bson.ObjectID, photoURL string) (*models.User, error) {
	return a.applyPatch(ctx, userID, store.Patch{"profile.photoUrl": photoURL})
}

// DeactivateMe is the self-service deletion surrogate: accounts are never
// hard-deleted, they are switched inactive.
func (a *Accounts) DeactivateMe(ctx context.Context, userID bson.ObjectID) error {
	user, err := a.store.SetActive(ctx, userID, false)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return ErrNotFound
		case errors.Is(err, store.ErrAlreadyInState):
			return ErrStatusUnchanged
		}
		return err
	}
	a.notifyBestEffort(ctx, notifier.KindDeactivated, user, nil)
	return nil
}

// AdminSetActive toggles an account's active flag. Setting an account to the
// state it is already in is an error, not a no-op.
func (a *Accounts) AdminSetActive(ctx context.Context, id bson.ObjectID, active bool) (*models.User, error) {
	user, err := a.store.SetActive(ctx, id, active)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, store.ErrAlreadyInState):
			return nil, ErrStatusUnchanged
		}
		return nil, err
	}

	kind := notifier.KindDeactivated
	if active {
		kind = notifier.KindActivated
	}
	a.notifyBestEffort(ctx, kind, user, nil)
	return user, nil
}

// AdminUpdateUser patches the admin-editable fields only.
func (a *Accounts) AdminUpdateUser(ctx context.Context, id bson.ObjectID, in dto.AdminUpdateUserDTO) (*models.User, error) {
	patch := store.Patch{}
	if in.Email != nil {
		patch["email"] = utils.NormalizeEmail(*in.Email)
	}
	if in.Role != nil {
		patch["role"] = models.Role(*in.Role)
	}
	if in.IsVerified != nil {
		patch["isVerified"] = *in.IsVerified
	}
	setIf(patch, "profile.firstName", in.FirstName)
	setIf(patch, "profile.lastName", in.LastName)
	setIf(patch, "profile.phone", in.Phone)
	if in.Address != nil {
		setIf(patch, "address.line1", in.Address.Line1)
		setIf(patch, "address.line2", in.Address.Line2)
		setIf(patch, "address.city", in.Address.City)
		setIf(patch, "address.state", in.Address.State)
		setIf(patch, "address.postalCode", in.Address.PostalCode)
		setIf(patch, "address.country", in.Address.Country)
	}
	if len(patch) == 0 {
		return nil, ErrInvalidRequest
	}
	return a.applyPatch(ctx, id, patch)
}

func (a *Accounts) AdminGetUser(ctx context.Context, id bson.ObjectID) (*models.User, error) {
	user, err := a.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func (a *Accounts) AdminListUsers(ctx context.Context, page, limit int) ([]models.User, int64, error) {
	return a.store.List(ctx, page, limit)
}

func (a *Accounts) applyPatch(ctx context.Context, id bson.ObjectID, patch store.Patch) (*models.User, error) {
	user, err := a.store.UpdateFields(ctx, id, patch)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, store.ErrDuplicateEmail):
			return nil, ErrConflict
		}
		return nil, err
	}
	return user, nil
}

// clearToken rolls back a just-issued token after a failed send.
func (a *Accounts) clearToken(ctx context.Context, id bson.ObjectID, kind store.TokenKind) {
	patch := store.Patch{kind.TokenField(): nil, kind.ExpiryField(): nil}
	if _, err := a.store.UpdateFields(ctx, id, patch); err != nil {
		a.log.Error("token rollback failed", "user", id.Hex(), "kind", string(kind), "err", err)
	}
}

// notifyBestEffort sends on the paths where a failed email must not undo the
// primary state change; failures degrade to a warning.
func (a *Accounts) notifyBestEffort(ctx context.Context, kind notifier.Kind, user *models.User, data map[string]string) {
	if err := a.notifier.Send(ctx, kind, user, data); err != nil {
		a.log.Warn("email send failed", "kind", string(kind), "user", user.ID.Hex(), "err", err)
	}
}

func setIf(patch store.Patch, key string, v *string) {
	if v != nil {
		patch[key] = *v
	}
}
