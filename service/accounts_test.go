package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shoplite/usersbackend/dto"
	"github.com/shoplite/usersbackend/models"
	"github.com/shoplite/usersbackend/notifier"
	"github.com/shoplite/usersbackend/service"
	"github.com/shoplite/usersbackend/store"
	"github.com/shoplite/usersbackend/utils"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type sentMail struct {
	kind notifier.Kind
	to   string
	data map[string]string
}

// fakeNotifier records every send and can be told to fail specific kinds.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	fail map[notifier.Kind]error
}

func (f *fakeNotifier) Send(_ context.Context, kind notifier.Kind, user *models.User, data map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[kind]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMail{kind: kind, to: user.Email, data: data})
	return nil
}

func (f *fakeNotifier) failWith(kind notifier.Kind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = map[notifier.Kind]error{}
	}
	f.fail[kind] = err
}

func (f *fakeNotifier) last(t *testing.T) sentMail {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "expected at least one email")
	return f.sent[len(f.sent)-1]
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestAccounts(t *testing.T) (*service.Accounts, *store.Memory, *fakeNotifier) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	st := store.NewMemory()
	fn := &fakeNotifier{}
	return service.NewAccounts(st, fn, nil), st, fn
}

func registerInput(email string) dto.RegisterDTO {
	return dto.RegisterDTO{
		Email:     email,
		Password:  "Secret123!",
		FirstName: "Ada",
	}
}

// registerVerified runs register + verify-email for test setup.
func registerVerified(t *testing.T, a *service.Accounts, fn *fakeNotifier, email string) *models.User {
	t.Helper()
	ctx := context.Background()
	_, err := a.Register(ctx, registerInput(email))
	require.NoError(t, err)
	user, err := a.VerifyEmail(ctx, fn.last(t).data["token"])
	require.NoError(t, err)
	return user
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("creates an unverified account with a hashed password", func(t *testing.T) {
		a, st, fn := newTestAccounts(t)

		user, err := a.Register(ctx, registerInput("a@x.com"))
		require.NoError(t, err)
		require.Equal(t, "a@x.com", user.Email)
		require.Equal(t, models.RoleUser, user.Role)
		require.False(t, user.IsVerified)
		require.True(t, user.IsActive)

		stored, err := st.FindByEmail(ctx, "a@x.com")
		require.NoError(t, err)
		require.NotEqual(t, "Secret123!", stored.PasswordHash)
		require.NoError(t, utils.CheckPassword(stored.PasswordHash, "Secret123!"))

		// verification token persisted as a hash, expiring in 5 minutes
		require.NotEmpty(t, stored.EmailVerificationToken)
		require.NotNil(t, stored.EmailVerificationExpiry)
		require.WithinDuration(t, time.Now().UTC().Add(5*time.Minute), *stored.EmailVerificationExpiry, 2*time.Second)

		mail := fn.last(t)
		require.Equal(t, notifier.KindVerify, mail.kind)
		require.Equal(t, "a@x.com", mail.to)
		require.NotEmpty(t, mail.data["token"])
		require.NotEqual(t, stored.EmailVerificationToken, mail.data["token"], "raw token must not equal stored hash")
	})

	t.Run("normalizes the email", func(t *testing.T) {
		a, st, _ := newTestAccounts(t)
		_, err := a.Register(ctx, registerInput("  A@X.COM "))
		require.NoError(t, err)
		_, err = st.FindByEmail(ctx, "a@x.com")
		require.NoError(t, err)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		a, _, _ := newTestAccounts(t)
		_, err := a.Register(ctx, registerInput("a@x.com"))
		require.NoError(t, err)
		_, err = a.Register(ctx, registerInput("A@x.com"))
		require.ErrorIs(t, err, service.ErrConflict)
	})

	t.Run("rejects weak passwords", func(t *testing.T) {
		a, _, _ := newTestAccounts(t)
		in := registerInput("a@x.com")
		in.Password = "1234567"

		var verr *service.ValidationError
		_, err := a.Register(ctx, in)
		require.ErrorAs(t, err, &verr)
		require.NotEmpty(t, verr.Fields)
	})

	t.Run("send failure clears the token but keeps the account", func(t *testing.T) {
		a, st, fn := newTestAccounts(t)
		fn.failWith(notifier.KindVerify, errors.New("smtp down"))

		var nerr *service.NotificationError
		_, err := a.Register(ctx, registerInput("a@x.com"))
		require.ErrorAs(t, err, &nerr)

		stored, err := st.FindByEmail(ctx, "a@x.com")
		require.NoError(t, err)
		require.Empty(t, stored.EmailVerificationToken)
		require.Nil(t, stored.EmailVerificationExpiry)
	})
}

func TestResendVerification(t *testing.T) {
	ctx := context.Background()

	t.Run("reissues and invalidates the prior token", func(t *testing.T) {
		a, _, fn := newTestAccounts(t)
		_, err := a.Register(ctx, registerInput("a@x.com"))
		require.NoError(t, err)
		firstToken := fn.last(t).data["token"]

		require.NoError(t, a.ResendVerification(ctx, "a@x.com"))
		mail := fn.last(t)
		require.Equal(t, notifier.KindResendVerify, mail.kind)
		require.NotEqual(t, firstToken, mail.data["token"])

		// the old link is dead, the new one works
		_, err = a.VerifyEmail(ctx, firstToken)
		require.ErrorIs(t, err, service.ErrInvalidOrExpiredToken)
		_, err = a.VerifyEmail(ctx, mail.data["token"])
		require.NoError(t, err)
	})

	t.Run("unknown and verified emails fail identically", func(t *testing.T) {
		a, _, fn := newTestAccounts(t)
		registerVerified(t, a, fn, "done@x.com")

		errUnknown := a.ResendVerification(ctx, "ghost@x.com")
		errVerified := a.ResendVerification(ctx, "done@x.com")
		require.ErrorIs(t, errUnknown, service.ErrInvalidRequest)
		require.ErrorIs(t, errVerified, service.ErrInvalidRequest)
		require.Equal(t, errUnknown.Error(), errVerified.Error())
	})
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds exactly once", func(t *testing.T) {
		a, st, fn := newTestAccounts(t)
		_, err := a.Register(ctx, registerInput("a@x.com"))
		require.NoError(t, err)
		raw := fn.last(t).data["token"]

		user, err := a.VerifyEmail(ctx, raw)
		require.NoError(t, err)
		require.True(t, user.IsVerified)
		require.Empty(t, user.EmailVerificationToken)

		stored, err := st.FindByEmail(ctx, "a@x.com")
		require.NoError(t, err)
		require.True(t, stored.IsVerified)
		require.Nil(t, stored.EmailVerificationExpiry)

		// double spend
		_, err = a.VerifyEmail(ctx, raw)
		require.ErrorIs(t, err, service.ErrInvalidOrExpiredToken)
	})

	t.Run("expired token fails", func(t *testing.T) {
		a, st, fn := newTestAccounts(t)
		reg, err := a.Register(ctx, registerInput("a@x.com"))
		require.NoError(t, err)
		raw := fn.last(t).data["token"]

		_, err = st.UpdateFields(ctx, reg.ID, store.Patch{
			"emailVerificationExpiry": time.Now().UTC().Add(-time.Second),
		})
		require.NoError(t, err)

		_, err = a.VerifyEmail(ctx, raw)
		require.ErrorIs(t, err, service.ErrInvalidOrExpiredToken)
	})

	t.Run("garbage token fails", func(t *testing.T) {
		a, _, _ := newTestAccounts(t)
		_, err := a.VerifyEmail(ctx, "not-a-token")
		require.ErrorIs(t, err, service.ErrInvalidOrExpiredToken)
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	login := func(email, password, role string) dto.LoginDTO {
		return dto.LoginDTO{Email: email, Password: password, Role: role}
	}

	t.Run("unknown email", func(t *testing.T) {
		a, _, _ := newTestAccounts(t)
		_, _, err := a.Login(ctx, login("ghost@x.com", "Secret123!", "USER"))
		require.ErrorIs(t, err, service.ErrInvalidCredentials)
	})

	t.Run("wrong password wins over unverified", func(t *testing.T) {
		// password is checked before the verification flag; a caller with bad
		// credentials learns nothing about the account's state
		a, _, _ := newTestAccounts(t)
		_, err := a.Register(ctx, registerInput("a@x.com"))
		require.NoError(t, err)

		_, _, err = a.Login(ctx, login("a@x.com", "WrongPass1!", "USER"))
		require.ErrorIs(t, err, service.ErrInvalidCredentials)
	})

	t.Run("unverified account with correct password", func(t *testing.T) {
		a, _, _ := newTestAccounts(t)
		_, err := a.Register(ctx, registerInput("a@x.com"))
		require.NoError(t, err)

		_, _, err = a.Login(ctx, login("a@x.com", "Secret123!", "USER"))
		require.ErrorIs(t, err, service.ErrUnverified)
	})

	t.Run("deactivated account with correct password", func(t *testing.T) {
		a, _, fn := newTestAccounts(t)
		user := registerVerified(t, a, fn, "a@x.com")
		_, err := a.AdminSetActive(ctx, user.ID, false)
		require.NoError(t, err)

		_, _, err = a.Login(ctx, login("a@x.com", "Secret123!", "USER"))
		require.ErrorIs(t, err, service.ErrDeactivated)
	})

	t.Run("role mismatch masked as bad credentials", func(t *testing.T) {
		a, _, fn := newTestAccounts(t)
		registerVerified(t, a, fn, "a@x.com")

		_, _, err := a.Login(ctx, login("a@x.com", "Secret123!", "ADMIN"))
		require.ErrorIs(t, err, service.ErrInvalidCredentials)
	})

	t.Run("success stamps lastLogin and alerts", func(t *testing.T) {
		a, st, fn := newTestAccounts(t)
		registerVerified(t, a, fn, "a@x.com")

		user, token, err := a.Login(ctx, login("a@x.com", "Secret123!", "USER"))
		require.NoError(t, err)
		require.NotEmpty(t, token)
		require.NotNil(t, user.LastLogin)

		claims, err := utils.ValidateToken(token, "test-secret")
		require.NoError(t, err)
		require.Equal(t, user.ID.Hex(), claims.UserID)

		stored, err := st.FindByID(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LastLogin)

		mail := fn.last(t)
		require.Equal(t, notifier.KindNewLogin, mail.kind)
	})

	t.Run("login survives a failed alert mail", func(t *testing.T) {
		a, _, fn := newTestAccounts(t)
		registerVerified(t, a, fn, "a@x.com")
		fn.failWith(notifier.KindNewLogin, errors.New("smtp down"))

		_, token, err := a.Login(ctx, login("a@x.com", "Secret123!", "USER"))
		require.NoError(t, err)
		require.NotEmpty(t, token)
	})
}

func TestForgotPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown email", func(t *testing.T) {
		a, _, _ := newTestAccounts(t)
		require.ErrorIs(t, a.ForgotPassword(ctx, "ghost@x.com"), service.ErrNotFound)
	})

	t.Run("unverified account", func(t *testing.T) {
		a, _, _ := newTestAccounts(t)
		_, err := a.Register(ctx, registerInput("a@x.com"))
		require.NoError(t, err)
		require.ErrorIs(t, a.ForgotPassword(ctx, "a@x.com"), service.ErrUnverified)
	})

	t.Run("deactivated account", func(t *testing.T) {
		a, _, fn := newTestAccounts(t)
		user := registerVerified(t, a, fn, "a@x.com")
		_, err := a.AdminSetActive(ctx, user.ID, false)
		require.NoError(t, err)
		require.ErrorIs(t, a.ForgotPassword(ctx, "a@x.com"), service.ErrDeactivated)
	})

	t.Run("issues a reset token and mails the link", func(t *testing.T) {
		a, st, fn := newTestAccounts(t)
		registerVerified(t, a, fn, "a@x.com")

		require.NoError(t, a.ForgotPassword(ctx, "a@x.com"))

		mail := fn.last(t)
		require.Equal(t, notifier.KindReset, mail.kind)
		require.NotEmpty(t, mail.data["token"])

		stored, err := st.FindByEmail(ctx, "a@x.com")
		require.NoError(t, err)
		require.NotEmpty(t, stored.PasswordResetToken)
		require.NotNil(t, stored.PasswordResetExpiry)
	})

	t.Run("send failure rolls the token back", func(t *testing.T) {
		a, st, fn := newTestAccounts(t)
		registerVerified(t, a, fn, "a@x.com")
		fn.failWith(notifier.KindReset, errors.New("smtp down"))

		var nerr *service.NotificationError
		err := a.ForgotPassword(ctx, "a@x.com")
		require.ErrorAs(t, err, &nerr)

		// no dangling token: a retry starts clean
		stored, err := st.FindByEmail(ctx, "a@x.com")
		require.NoError(t, err)
		require.Empty(t, stored.PasswordResetToken)
		require.Nil(t, stored.PasswordResetExpiry)
	})
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*service.Accounts, *store.Memory, *fakeNotifier, string) {
		a, st, fn := newTestAccounts(t)
		registerVerified(t, a, fn, "a@x.com")
		require.NoError(t, a.ForgotPassword(ctx, "a@x.com"))
		return a, st, fn, fn.last(t).data["token"]
	}

	t.Run("installs the new password once", func(t *testing.T) {
		a, st, fn, raw := setup(t)
		before, err := st.FindByEmail(ctx, "a@x.com")
		require.NoError(t, err)

		user, token, err := a.ResetPassword(ctx, raw, "NewSecret456!")
		require.NoError(t, err)
		require.NotEmpty(t, token)
		require.NotNil(t, user.LastLogin)
		require.Equal(t, notifier.KindPasswordChanged, fn.last(t).kind)

		stored, err := st.FindByEmail(ctx, "a@x.com")
		require.NoError(t, err)
		require.Empty(t, stored.PasswordResetToken)
		require.Nil(t, stored.PasswordResetExpiry)
		require.True(t, stored.PasswordChangedAt.After(before.PasswordChangedAt))

		_, _, err = a.Login(ctx, dto.LoginDTO{Email: "a@x.com", Password: "NewSecret456!", Role: "USER"})
		require.NoError(t, err)
		_, _, err = a.Login(ctx, dto.LoginDTO{Email: "a@x.com", Password: "Secret123!", Role: "USER"})
		require.ErrorIs(t, err, service.ErrInvalidCredentials)

		// double spend
		_, _, err = a.ResetPassword(ctx, raw, "ThirdSecret789!")
		require.ErrorIs(t, err, service.ErrInvalidOrExpiredToken)
	})

	t.Run("rejects weak passwords without consuming the token", func(t *testing.T) {
		a, _, _, raw := setup(t)

		var verr *service.ValidationError
		_, _, err := a.ResetPassword(ctx, raw, "123")
		require.ErrorAs(t, err, &verr)

		_, _, err = a.ResetPassword(ctx, raw, "NewSecret456!")
		require.NoError(t, err)
	})

	t.Run("valid token on a deactivated account", func(t *testing.T) {
		a, st, _, raw := setup(t)
		user, err := st.FindByEmail(ctx, "a@x.com")
		require.NoError(t, err)
		_, err = a.AdminSetActive(ctx, user.ID, false)
		require.NoError(t, err)

		_, _, err = a.ResetPassword(ctx, raw, "NewSecret456!")
		require.ErrorIs(t, err, service.ErrDeactivated)
	})

	t.Run("two concurrent resets with the same token", func(t *testing.T) {
		a, _, _, raw := setup(t)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, errs[i] = a.ResetPassword(ctx, raw, "NewSecret456!")
			}()
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				require.ErrorIs(t, err, service.ErrInvalidOrExpiredToken)
			}
		}
		require.Equal(t, 1, wins)
	})
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong current password", func(t *testing.T) {
		a, _, fn := newTestAccounts(t)
		user := registerVerified(t, a, fn, "a@x.com")

		err := a.ChangePassword(ctx, user.ID, dto.ChangeMyPasswordDTO{
			CurrentPassword: "WrongPass1!",
			NewPassword:     "NewSecret456!",
		})
		require.ErrorIs(t, err, service.ErrInvalidCredentials)
	})

	t.Run("success", func(t *testing.T) {
		a, _, fn := newTestAccounts(t)
		user := registerVerified(t, a, fn, "a@x.com")

		err := a.ChangePassword(ctx, user.ID, dto.ChangeMyPasswordDTO{
			CurrentPassword: "Secret123!",
			NewPassword:     "NewSecret456!",
		})
		require.NoError(t, err)
		require.Equal(t, notifier.KindPasswordChanged, fn.last(t).kind)

		_, _, err = a.Login(ctx, dto.LoginDTO{Email: "a@x.com", Password: "NewSecret456!", Role: "USER"})
		require.NoError(t, err)
	})
}

func TestUpdateMe(t *testing.T) {
	ctx := context.Background()
	a, _, fn := newTestAccounts(t)
	user := registerVerified(t, a, fn, "a@x.com")

	first := "Grace"
	city := "Hopperville"
	updated, err := a.UpdateMe(ctx, user.ID, dto.UpdateMeDTO{
		FirstName: &first,
		Address:   &dto.UpdateAddressDTO{City: &city},
	})
	require.NoError(t, err)
	require.Equal(t, "Grace", updated.Profile.FirstName)
	require.Equal(t, "Hopperville", updated.Address.City)

	_, err = a.UpdateMe(ctx, user.ID, dto.UpdateMeDTO{})
	require.ErrorIs(t, err, service.ErrInvalidRequest)
}

func TestDeactivateMe(t *testing.T) {
	ctx := context.Background()
	a, _, fn := newTestAccounts(t)
	user := registerVerified(t, a, fn, "a@x.com")

	require.NoError(t, a.DeactivateMe(ctx, user.ID))
	require.Equal(t, notifier.KindDeactivated, fn.last(t).kind)

	require.ErrorIs(t, a.DeactivateMe(ctx, user.ID), service.ErrStatusUnchanged)

	_, _, err := a.Login(ctx, dto.LoginDTO{Email: "a@x.com", Password: "Secret123!", Role: "USER"})
	require.ErrorIs(t, err, service.ErrDeactivated)
}

func TestAdminSetActive(t *testing.T) {
	ctx := context.Background()
	a, _, fn := newTestAccounts(t)
	user := registerVerified(t, a, fn, "a@x.com")

	t.Run("deactivate then reactivate", func(t *testing.T) {
		got, err := a.AdminSetActive(ctx, user.ID, false)
		require.NoError(t, err)
		require.False(t, got.IsActive)
		require.Equal(t, notifier.KindDeactivated, fn.last(t).kind)

		// toggling into the current state is an error, not a no-op
		_, err = a.AdminSetActive(ctx, user.ID, false)
		require.ErrorIs(t, err, service.ErrStatusUnchanged)

		got, err = a.AdminSetActive(ctx, user.ID, true)
		require.NoError(t, err)
		require.True(t, got.IsActive)
		require.Equal(t, notifier.KindActivated, fn.last(t).kind)

		_, err = a.AdminSetActive(ctx, user.ID, true)
		require.ErrorIs(t, err, service.ErrStatusUnchanged)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := a.AdminSetActive(ctx, bson.NewObjectID(), true)
		require.ErrorIs(t, err, service.ErrNotFound)
	})
}

func TestAdminUpdateUser(t *testing.T) {
	ctx := context.Background()
	a, _, fn := newTestAccounts(t)
	user := registerVerified(t, a, fn, "a@x.com")

	t.Run("patches allowed fields", func(t *testing.T) {
		email := "  NEW@X.COM "
		role := "ADMIN"
		verified := false
		got, err := a.AdminUpdateUser(ctx, user.ID, dto.AdminUpdateUserDTO{
			Email:      &email,
			Role:       &role,
			IsVerified: &verified,
		})
		require.NoError(t, err)
		require.Equal(t, "new@x.com", got.Email)
		require.Equal(t, models.RoleAdmin, got.Role)
		require.False(t, got.IsVerified)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		other := registerVerified(t, a, fn, "b@x.com")
		email := "new@x.com"
		_, err := a.AdminUpdateUser(ctx, other.ID, dto.AdminUpdateUserDTO{Email: &email})
		require.ErrorIs(t, err, service.ErrConflict)
	})

	t.Run("empty patch", func(t *testing.T) {
		_, err := a.AdminUpdateUser(ctx, user.ID, dto.AdminUpdateUserDTO{})
		require.ErrorIs(t, err, service.ErrInvalidRequest)
	})
}

// TestLifecycleEndToEnd walks the happy path: register, verify, log in.
func TestLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	a, st, fn := newTestAccounts(t)

	_, err := a.Register(ctx, registerInput("a@x.com"))
	require.NoError(t, err)

	stored, err := st.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.False(t, stored.IsVerified)
	require.Equal(t, 1, fn.count())
	require.Equal(t, notifier.KindVerify, fn.last(t).kind)

	_, err = a.VerifyEmail(ctx, fn.last(t).data["token"])
	require.NoError(t, err)

	user, token, err := a.Login(ctx, dto.LoginDTO{Email: "a@x.com", Password: "Secret123!", Role: "USER"})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NotNil(t, user.LastLogin)
	require.Equal(t, notifier.KindNewLogin, fn.last(t).kind)
}
