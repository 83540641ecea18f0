package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shoplite/usersbackend/models"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Memory is a mutex-guarded in-memory UserStore. It backs the test suite and
// local development without a MongoDB instance. A single lock around every
// operation gives the same linearizability the Mongo driver gets from
// findOneAndUpdate.
type Memory struct {
	mu    sync.Mutex
	users map[bson.ObjectID]*models.User
}

func NewMemory() *Memory {
	return &Memory{users: make(map[bson.ObjectID]*models.User)}
}

func (s *Memory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) FindByID(ctx context.Context, id bson.ObjectID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *Memory) Insert(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return ErrDuplicateEmail
		}
	}
	if u.ID.IsZero() {
		u.ID = bson.NewObjectID()
	}
	s.users[u.ID] = copyUser(u)
	return nil
}

func (s *Memory) UpdateFields(ctx context.Context, id bson.ObjectID, patch Patch) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if email, ok := patch["email"].(string); ok {
		for otherID, other := range s.users {
			if otherID != id && other.Email == email {
				return nil, ErrDuplicateEmail
			}
		}
	}
	if err := applyPatch(u, patch); err != nil {
		return nil, err
	}
	u.UpdatedAt = time.Now().UTC()
	return copyUser(u), nil
}

func (s *Memory) ConsumeToken(ctx context.Context, kind TokenKind, hash string, cond Patch, patch Patch) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, u := range s.users {
		storedHash, storedExpiry := tokenPair(u, kind)
		if storedHash != hash || storedExpiry == nil || !now.Before(*storedExpiry) {
			continue
		}
		if !matchCond(u, cond) {
			continue
		}
		clearTokenPair(u, kind)
		if err := applyPatch(u, patch); err != nil {
			return nil, err
		}
		u.UpdatedAt = now
		return copyUser(u), nil
	}
	return nil, ErrNoTokenMatch
}

func (s *Memory) FindByTokenHash(ctx context.Context, kind TokenKind, hash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hash == "" {
		return nil, ErrNotFound
	}
	for _, u := range s.users {
		storedHash, _ := tokenPair(u, kind)
		if storedHash == hash {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) SetActive(ctx context.Context, id bson.ObjectID, active bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.IsActive == active {
		return nil, ErrAlreadyInState
	}
	u.IsActive = active
	u.UpdatedAt = time.Now().UTC()
	return copyUser(u), nil
}

func (s *Memory) List(ctx context.Context, page, limit int) ([]models.User, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, *copyUser(u))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(s.users)), nil
}

func tokenPair(u *models.User, kind TokenKind) (string, *time.Time) {
	if kind == TokenVerification {
		return u.EmailVerificationToken, u.EmailVerificationExpiry
	}
	return u.PasswordResetToken, u.PasswordResetExpiry
}

func clearTokenPair(u *models.User, kind TokenKind) {
	if kind == TokenVerification {
		u.EmailVerificationToken = ""
		u.EmailVerificationExpiry = nil
		return
	}
	u.PasswordResetToken = ""
	u.PasswordResetExpiry = nil
}

func matchCond(u *models.User, cond Patch) bool {
	for k, v := range cond {
		switch k {
		case "isActive":
			if u.IsActive != v.(bool) {
				return false
			}
		case "isVerified":
			if u.IsVerified != v.(bool) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func applyPatch(u *models.User, patch Patch) error {
	for k, v := range patch {
		if v == nil {
			switch k {
			case "emailVerificationToken", "emailVerificationExpiry":
				if k == "emailVerificationToken" {
					u.EmailVerificationToken = ""
				} else {
					u.EmailVerificationExpiry = nil
				}
			case "passwordResetToken", "passwordResetExpiry":
				if k == "passwordResetToken" {
					u.PasswordResetToken = ""
				} else {
					u.PasswordResetExpiry = nil
				}
			case "lastLogin":
				u.LastLogin = nil
			default:
				return fmt.Errorf("memory store: cannot unset field %q", k)
			}
			continue
		}

		switch k {
		case "email":
			u.Email = v.(string)
		case "role":
			u.Role = v.(models.Role)
		case "isActive":
			u.IsActive = v.(bool)
		case "isVerified":
			u.IsVerified = v.(bool)
		case "passwordHash":
			u.PasswordHash = v.(string)
		case "passwordChangedAt":
			u.PasswordChangedAt = asTime(v)
		case "lastLogin":
			t := asTime(v)
			u.LastLogin = &t
		case "emailVerificationToken":
			u.EmailVerificationToken = v.(string)
		case "emailVerificationExpiry":
			t := asTime(v)
			u.EmailVerificationExpiry = &t
		case "passwordResetToken":
			u.PasswordResetToken = v.(string)
		case "passwordResetExpiry":
			t := asTime(v)
			u.PasswordResetExpiry = &t
		case "profile.firstName":
			u.Profile.FirstName = v.(string)
		case "profile.lastName":
			u.Profile.LastName = v.(string)
		case "profile.phone":
			u.Profile.Phone = v.(string)
		case "profile.photoUrl":
			u.Profile.PhotoURL = v.(string)
		case "address.line1":
			u.Address.Line1 = v.(string)
		case "address.line2":
			u.Address.Line2 = v.(string)
		case "address.city":
			u.Address.City = v.(string)
		case "address.state":
			u.Address.State = v.(string)
		case "address.postalCode":
			u.Address.PostalCode = v.(string)
		case "address.country":
			u.Address.Country = v.(string)
		default:
			return fmt.Errorf("memory store: unknown field %q", k)
		}
	}
	return nil
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case *time.Time:
		return *t
	default:
		panic(fmt.Sprintf("memory store: expected time value, got %T", v))
	}
}

func copyUser(u *models.User) *models.User {
	c := *u
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	if u.EmailVerificationExpiry != nil {
		t := *u.EmailVerificationExpiry
		c.EmailVerificationExpiry = &t
	}
	if u.PasswordResetExpiry != nil {
		t := *u.PasswordResetExpiry
		c.PasswordResetExpiry = &t
	}
	return &c
}
