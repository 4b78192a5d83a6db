package user

import "time"

// DefaultProfilePicture is assigned when registration carries no picture.
const DefaultProfilePicture = "https://res.cloudinary.com/demo/image/upload/v1580125066/samples/people/default-profile.jpg"

type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	Password       string    `json:"-"`
	ProfilePicture string    `json:"profile_picture"`
	IsOnline       bool      `json:"is_online"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Profile is the denormalized snapshot attached to a live connection and
// carried in presence and typing events.
type Profile struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profile_picture"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:             u.ID,
		Username:       u.Username,
		ProfilePicture: u.ProfilePicture,
	}
}

type RegisterRequest struct {
	Username       string `json:"username"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Message string `json:"message"`
	User    *User  `json:"user"`
}

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *User
}
