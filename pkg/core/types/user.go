package types

// UserStatus is the approval state of an account.
type UserStatus string

const (
	UserPending  UserStatus = "pending"
	UserApproved UserStatus = "approved"
)

// User is the authenticated professional using the assistant.
type User struct {
	ID       string     `json:"id"`
	Email    string     `json:"email"`
	FullName string     `json:"fullName,omitempty"`
	Status   UserStatus `json:"status"`
	IsAdmin  bool       `json:"isAdmin"`
}

// IsApproved reports whether the user may open sessions.
func (u *User) IsApproved() bool {
	return u != nil && u.Status == UserApproved
}
