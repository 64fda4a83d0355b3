package user

import (
	"errors"
	"slices"
	"time"
)

type User struct {
	ID           string    `json:"_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never expose hash in JSON
	Bio          string    `json:"bio,omitempty"`
	ProfilePic   string    `json:"profilePic,omitempty"`
	Followers    []string  `json:"followers"`
	Following    []string  `json:"following"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Public fields returned by register/login.
type Account struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Fields returned after a profile update.
type ProfileView struct {
	ID         string `json:"_id"`
	Username   string `json:"username"`
	Bio        string `json:"bio,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// Summary is one entry of a followers/following list.
type Summary struct {
	ID         string `json:"_id"`
	Username   string `json:"username"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// SearchResult deliberately carries no ID, email or follow lists.
type SearchResult struct {
	Username   string `json:"username"`
	ProfilePic string `json:"profilePic,omitempty"`
}

func (u User) Account() Account {
	return Account{ID: u.ID, Username: u.Username, Email: u.Email}
}

func (u User) ProfileView() ProfileView {
	return ProfileView{ID: u.ID, Username: u.Username, Bio: u.Bio, ProfilePic: u.ProfilePic}
}

func (u User) HasFollower(id string) bool {
	return slices.Contains(u.Followers, id)
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Empty fields are left untouched, matching a partial update.
type UpdateProfileRequest struct {
	Username   string `json:"username" binding:"omitempty,max=64"`
	Bio        string `json:"bio" binding:"omitempty,max=500"`
	ProfilePic string `json:"profilePic" binding:"omitempty,max=2048"`
}

func (r UpdateProfileRequest) Empty() bool {
	return r.Username == "" && r.Bio == "" && r.ProfilePic == ""
}

// NewUser is what a store needs to insert a registration.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
}

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already exists")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrSelfFollow         = errors.New("cannot follow self")
	ErrSelfUnfollow       = errors.New("cannot unfollow self")
	ErrAlreadyFollowing   = errors.New("already following")
	ErrNotFollowing       = errors.New("not following")
	ErrMissingQuery       = errors.New("missing search query")
	ErrPasswordTooLong    = errors.New("password longer than 72 bytes")
)
