package domain

import "time"

type UserRole string

const (
	RoleUser      UserRole = "user"
	RoleModerator UserRole = "moderator"
	RoleAdmin     UserRole = "admin"
)

// RoleRank orders roles for "at least" checks. Unknown roles rank below user.
func RoleRank(r UserRole) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleModerator:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

// ParseUserRole validates a role name; ok is false for unknown names.
func ParseUserRole(raw string) (UserRole, bool) {
	switch UserRole(raw) {
	case RoleUser:
		return RoleUser, true
	case RoleModerator:
		return RoleModerator, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

type User struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"`
	Role              UserRole   `json:"role"`
	PermanentlyBanned bool       `json:"permanentlyBanned"`
	BannedUntil       *time.Time `json:"bannedUntil,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Banned reports whether the user's ban is in effect at the given time.
// An expired temporary ban no longer counts.
func (u User) Banned(now time.Time) bool {
	if u.PermanentlyBanned {
		return true
	}
	return u.BannedUntil != nil && u.BannedUntil.After(now)
}

type Observation struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// OwnerID is empty for legacy/system-created rows. Only the role
	// override can authorize mutations on those.
	OwnerID       string         `json:"ownerId,omitempty"`
	Location      Point          `json:"location"`
	Boundary      Ring           `json:"boundary,omitempty"`
	Tags          []Tag          `json:"tags"`
	Confirmations []Confirmation `json:"confirmations,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

type Confirmation struct {
	ID string `json:"id"`
	// ObservationID is empty while the confirmation is not yet attached.
	ObservationID string    `json:"observationId,omitempty"`
	OwnerID       string    `json:"ownerId,omitempty"`
	Confirmed     bool      `json:"confirmed"`
	Description   string    `json:"description"`
	Pictures      []Picture `json:"pictures,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Picture struct {
	ID               string    `json:"id"`
	ConfirmationID   string    `json:"confirmationId"`
	OriginalFilename string    `json:"originalFilename"`
	StorageKey       string    `json:"-"`
	SizeBytes        int64     `json:"sizeBytes"`
	CreatedAt        time.Time `json:"createdAt"`
}

type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
