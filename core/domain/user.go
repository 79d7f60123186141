package domain

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleViewer Role = "viewer"
)

// Credentials holds an encrypted OAuth token set for a user's mailbox.
// AccessToken and RefreshToken are stored already-encrypted (see pkg/crypto);
// the domain layer never holds plaintext tokens longer than one call.
type Credentials struct {
	AccessTokenEnc  string
	RefreshTokenEnc string
	ExpiresAt       time.Time
}

func (c Credentials) ExpiresWithin(d time.Duration) bool {
	return time.Until(c.ExpiresAt) <= d
}

type User struct {
	ID          string
	Email       string
	Credentials Credentials
	Role        Role
	Active      bool
	AuthExpired bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewUser(id, email string, creds Credentials) *User {
	now := time.Now()
	return &User{
		ID:          id,
		Email:       email,
		Credentials: creds,
		Role:        RoleUser,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// MarkAuthExpired disables a user's workers until re-consent, per §7 AuthExpired.
func (u *User) MarkAuthExpired() {
	u.AuthExpired = true
	u.UpdatedAt = time.Now()
}

func (u *User) RotateCredentials(creds Credentials) {
	u.Credentials = creds
	u.AuthExpired = false
	u.UpdatedAt = time.Now()
}
