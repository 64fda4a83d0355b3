package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/google/uuid"
)

// UsersRepo keeps users in process memory. Both sides of a follow edge are
// written under one lock, so the mirrored relation never diverges here.
type UsersRepo struct {
	mu    sync.RWMutex
	items map[string]user.User
	now   func() time.Time
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items: make(map[string]user.User),
		now:   time.Now,
	}
}

func (r *UsersRepo) Create(_ context.Context, nu user.NewUser) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// email is checked across every user before username, so the reported
	// conflict does not depend on map order
	for _, u := range r.items {
		if u.Email == nu.Email {
			return user.User{}, user.ErrEmailTaken
		}
	}
	for _, u := range r.items {
		if u.Username == nu.Username {
			return user.User{}, user.ErrUsernameTaken
		}
	}

	now := r.now().UTC()
	u := user.User{
		ID:           uuid.NewString(),
		Username:     nu.Username,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		Followers:    []string{},
		Following:    []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.items[u.ID] = u

	return clone(u), nil
}

func (r *UsersRepo) GetByID(_ context.Context, id string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return clone(u), nil
}

func (r *UsersRepo) GetByEmail(_ context.Context, email string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.items {
		if u.Email == email {
			return clone(u), nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (r *UsersRepo) UpdateProfile(_ context.Context, id string, req user.UpdateProfileRequest) (user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}

	if req.Username != "" && req.Username != u.Username {
		for otherID, other := range r.items {
			if otherID != id && other.Username == req.Username {
				return user.User{}, user.ErrUsernameTaken
			}
		}
		u.Username = req.Username
	}
	if req.Bio != "" {
		u.Bio = req.Bio
	}
	if req.ProfilePic != "" {
		u.ProfilePic = req.ProfilePic
	}
	u.UpdatedAt = r.now().UTC()
	r.items[id] = u

	return clone(u), nil
}

func (r *UsersRepo) Follow(_ context.Context, followerID, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	follower, target, err := r.pair(followerID, targetID)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	if !slices.Contains(target.Followers, followerID) {
		target.Followers = append(target.Followers, followerID)
		target.UpdatedAt = now
	}
	if !slices.Contains(follower.Following, targetID) {
		follower.Following = append(follower.Following, targetID)
		follower.UpdatedAt = now
	}

	r.items[targetID] = target
	r.items[followerID] = follower
	return nil
}

func (r *UsersRepo) Unfollow(_ context.Context, followerID, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	follower, target, err := r.pair(followerID, targetID)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	target.Followers = slices.DeleteFunc(target.Followers, func(id string) bool { return id == followerID })
	target.UpdatedAt = now
	follower.Following = slices.DeleteFunc(follower.Following, func(id string) bool { return id == targetID })
	follower.UpdatedAt = now

	r.items[targetID] = target
	r.items[followerID] = follower
	return nil
}

func (r *UsersRepo) Summaries(_ context.Context, ids []string) ([]user.Summary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]user.Summary, 0, len(ids))
	for _, id := range ids {
		u, ok := r.items[id]
		if !ok {
			continue
		}
		out = append(out, user.Summary{ID: u.ID, Username: u.Username, ProfilePic: u.ProfilePic})
	}
	return out, nil
}

func (r *UsersRepo) SearchByUsername(_ context.Context, keyword string) ([]user.SearchResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	needle := strings.ToLower(keyword)
	out := make([]user.SearchResult, 0)
	for _, u := range r.items {
		if strings.Contains(strings.ToLower(u.Username), needle) {
			out = append(out, user.SearchResult{Username: u.Username, ProfilePic: u.ProfilePic})
		}
	}

	slices.SortFunc(out, func(a, b user.SearchResult) int { return strings.Compare(a.Username, b.Username) })
	return out, nil
}

func (r *UsersRepo) Ping(context.Context) error {
	return nil
}

// pair must be called with r.mu held.
func (r *UsersRepo) pair(followerID, targetID string) (user.User, user.User, error) {
	follower, ok := r.items[followerID]
	if !ok {
		return user.User{}, user.User{}, user.ErrNotFound
	}
	target, ok := r.items[targetID]
	if !ok {
		return user.User{}, user.User{}, user.ErrNotFound
	}
	return clone(follower), clone(target), nil
}

func clone(u user.User) user.User {
	u.Followers = slices.Clone(u.Followers)
	u.Following = slices.Clone(u.Following)
	if u.Followers == nil {
		u.Followers = []string{}
	}
	if u.Following == nil {
		u.Following = []string{}
	}
	return u
}
