package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

type Profile struct {
	FirstName string `bson:"firstName,omitempty" json:"firstName,omitempty"`
	LastName  string `bson:"lastName,omitempty" json:"lastName,omitempty"`
	Phone     string `bson:"phone,omitempty" json:"phone,omitempty"`
	PhotoURL  string `bson:"photoUrl,omitempty" json:"photoUrl,omitempty"`
}

type Address struct {
	Line1      string `bson:"line1,omitempty" json:"line1,omitempty"`
	Line2      string `bson:"line2,omitempty" json:"line2,omitempty"`
	City       string `bson:"city,omitempty" json:"city,omitempty"`
	State      string `bson:"state,omitempty" json:"state,omitempty"`
	PostalCode string `bson:"postalCode,omitempty" json:"postalCode,omitempty"`
	Country    string `bson:"country,omitempty" json:"country,omitempty"`
}

type User struct {
	ID           bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Email        string        `bson:"email" json:"email"`
	PasswordHash string        `bson:"passwordHash" json:"-"` // never expose
	Role         Role          `bson:"role" json:"role"`
	IsActive     bool          `bson:"isActive" json:"isActive"`
	IsVerified   bool          `bson:"isVerified" json:"isVerified"`
	LastLogin    *time.Time    `bson:"lastLogin,omitempty" json:"lastLogin,omitempty"`

	// Only token hashes are stored; the raw tokens travel by email.
	EmailVerificationToken  string     `bson:"emailVerificationToken,omitempty" json:"-"`
	EmailVerificationExpiry *time.Time `bson:"emailVerificationExpiry,omitempty" json:"-"`
	PasswordResetToken      string     `bson:"passwordResetToken,omitempty" json:"-"`
	PasswordResetExpiry     *time.Time `bson:"passwordResetExpiry,omitempty" json:"-"`
	PasswordChangedAt       time.Time  `bson:"passwordChangedAt,omitempty" json:"-"`

	Profile Profile `bson:"profile,omitempty" json:"profile"`
	Address Address `bson:"address,omitempty" json:"address"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
