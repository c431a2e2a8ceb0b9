package models

import "time"

// Roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents an account in the system
type User struct {
	ID                string    `bson:"_id" json:"id"`
	Name              string    `bson:"name" json:"name"`
	Email             string    `bson:"email" json:"email"`
	Password          string    `bson:"password,omitempty" json:"-"`
	Role              string    `bson:"role" json:"role"` // "user" or "admin"
	IsVerified        bool      `bson:"is_verified" json:"is_verified"`
	VerificationToken string    `bson:"verification_token" json:"-"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
}
