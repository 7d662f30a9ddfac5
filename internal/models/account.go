package models

import "time"

// Role identifies what an account may do on the platform.
type Role string

const (
	RoleUnassigned Role = "UNASSIGNED"
	RolePatient    Role = "PATIENT"
	RoleDoctor     Role = "DOCTOR"
	RoleAdmin      Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUnassigned, RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// VerificationStatus tracks a doctor's credential review.
type VerificationStatus string

const (
	VerificationNone     VerificationStatus = ""
	VerificationPending  VerificationStatus = "PENDING"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationRejected VerificationStatus = "REJECTED"
)

// Account represents a user holding a credit balance
type Account struct {
	ID                 int64              `json:"id"`
	Email              string             `json:"email"`
	Name               string             `json:"name"`
	PasswordHash       string             `json:"-"` // Not serialized
	Role               Role               `json:"role"`
	Credits            int64              `json:"credits"`
	Plan               string             `json:"plan,omitempty"` // Last seen subscription claim
	VerificationStatus VerificationStatus `json:"verification_status,omitempty"`
	Specialty          string             `json:"specialty,omitempty"`
	Experience         int                `json:"experience,omitempty"`
	CredentialURL      string             `json:"credential_url,omitempty"`
	Description        string             `json:"description,omitempty"`
	Active             bool               `json:"active"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`

	// Most recent first. Only populated by reads that ask for history.
	Transactions []Transaction `json:"transactions,omitempty"`
}

// IsVerifiedDoctor reports whether the account can take appointments.
func (a *Account) IsVerifiedDoctor() bool {
	return a.Active && a.Role == RoleDoctor && a.VerificationStatus == VerificationVerified
}
