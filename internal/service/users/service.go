package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/userhub/internal/cache"
	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/security"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("userhub/service/users")

// Store is the persistence the service needs. Implemented by the postgres,
// mongo and memory repos.
type Store interface {
	Create(ctx context.Context, nu user.NewUser) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	UpdateProfile(ctx context.Context, id string, req user.UpdateProfileRequest) (user.User, error)
	Follow(ctx context.Context, followerID, targetID string) error
	Unfollow(ctx context.Context, followerID, targetID string) error
	Summaries(ctx context.Context, ids []string) ([]user.Summary, error)
	SearchByUsername(ctx context.Context, keyword string) ([]user.SearchResult, error)
	Ping(ctx context.Context) error
}

type TokenIssuer interface {
	GenerateToken(userID string) (string, error)
}

type Options struct {
	// Per-operation deadline applied on top of the caller's context.
	Timeout time.Duration

	// Drop profile:<id> after a successful profile update. When false the
	// cached profile stays stale for at most one cache TTL.
	InvalidateProfileOnUpdate bool
}

type Service struct {
	store  Store
	cache  *cache.Aside
	tokens TokenIssuer
	log    *slog.Logger
	opts   Options
}

func NewService(store Store, aside *cache.Aside, tokens TokenIssuer, log *slog.Logger, opts Options) *Service {
	if aside == nil {
		aside = cache.NewAside(nil, 0, log, nil)
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}

	return &Service{
		store:  store,
		cache:  aside,
		tokens: tokens,
		log:    log,
		opts:   opts,
	}
}

// AuthResult is what register and login hand back to the client.
type AuthResult struct {
	User  user.Account
	Token string
}

func (s *Service) Register(ctx context.Context, req user.RegisterRequest) (res AuthResult, err error) {
	ctx, span := tracer.Start(ctx, "users.Register")
	defer func() { endSpan(span, err) }()

	// counted in bytes, not runes
	if len(req.Password) > security.MaxPasswordBytes {
		return AuthResult{}, user.ErrPasswordTooLong
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.store.Create(ctx, user.NewUser{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
	})
	if err != nil {
		return AuthResult{}, fmt.Errorf("create user: %w", err)
	}

	token, err := s.tokens.GenerateToken(u.ID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}

	span.SetAttributes(attribute.String("user.id", u.ID))
	s.log.InfoContext(ctx, "user registered", "user_id", u.ID)

	return AuthResult{User: u.Account(), Token: token}, nil
}

// Login fails with ErrInvalidCredentials for an unknown email and for a wrong
// password alike. Both paths run one bcrypt comparison.
func (s *Service) Login(ctx context.Context, req user.LoginRequest) (res AuthResult, err error) {
	ctx, span := tracer.Start(ctx, "users.Login")
	defer func() { endSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	u, err := s.store.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			security.BurnCompare(req.Password)
			return AuthResult{}, user.ErrInvalidCredentials
		}
		return AuthResult{}, fmt.Errorf("lookup by email: %w", err)
	}

	if err := security.CheckPassword(u.PasswordHash, req.Password); err != nil {
		if errors.Is(err, security.ErrMismatch) {
			return AuthResult{}, user.ErrInvalidCredentials
		}
		return AuthResult{}, fmt.Errorf("check password: %w", err)
	}

	token, err := s.tokens.GenerateToken(u.ID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}

	return AuthResult{User: u.Account(), Token: token}, nil
}

// GetProfile reads the caller's profile through profile:<id>.
func (s *Service) GetProfile(ctx context.Context, callerID string) (u user.User, fromCache bool, err error) {
	ctx, span := tracer.Start(ctx, "users.GetProfile", trace.WithAttributes(attribute.String("user.id", callerID)))
	defer func() {
		span.SetAttributes(attribute.Bool("cache.hit", fromCache))
		endSpan(span, err)
	}()

	if callerID == "" {
		return user.User{}, false, user.ErrUnauthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	return cache.Fetch(ctx, s.cache, cache.ProfileKey(callerID), func(ctx context.Context) (user.User, error) {
		return s.store.GetByID(ctx, callerID)
	})
}

func (s *Service) UpdateProfile(ctx context.Context, callerID string, req user.UpdateProfileRequest) (u user.User, err error) {
	ctx, span := tracer.Start(ctx, "users.UpdateProfile", trace.WithAttributes(attribute.String("user.id", callerID)))
	defer func() { endSpan(span, err) }()

	if callerID == "" {
		return user.User{}, user.ErrUnauthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	u, err = s.store.UpdateProfile(ctx, callerID, req)
	if err != nil {
		return user.User{}, fmt.Errorf("update profile: %w", err)
	}

	if s.opts.InvalidateProfileOnUpdate {
		s.cache.Invalidate(ctx, cache.ProfileKey(callerID))
	}

	return u, nil
}

// Follow makes callerID a follower of targetID.
func (s *Service) Follow(ctx context.Context, callerID, targetID string) (err error) {
	ctx, span := tracer.Start(ctx, "users.Follow", edgeAttrs(callerID, targetID))
	defer func() { endSpan(span, err) }()

	if callerID == "" {
		return user.ErrUnauthenticated
	}
	if callerID == targetID {
		return user.ErrSelfFollow
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	caller, target, err := s.loadPair(ctx, callerID, targetID)
	if err != nil {
		return err
	}
	if caller.ID == target.ID {
		return user.ErrSelfFollow
	}
	if target.HasFollower(caller.ID) {
		return user.ErrAlreadyFollowing
	}

	if err := s.store.Follow(ctx, caller.ID, target.ID); err != nil {
		return fmt.Errorf("follow: %w", err)
	}

	s.invalidateEdge(ctx, caller.ID, target.ID)
	s.log.InfoContext(ctx, "user followed", "target_id", targetID)
	return nil
}

func (s *Service) Unfollow(ctx context.Context, callerID, targetID string) (err error) {
	ctx, span := tracer.Start(ctx, "users.Unfollow", edgeAttrs(callerID, targetID))
	defer func() { endSpan(span, err) }()

	if callerID == "" {
		return user.ErrUnauthenticated
	}
	if callerID == targetID {
		return user.ErrSelfUnfollow
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	caller, target, err := s.loadPair(ctx, callerID, targetID)
	if err != nil {
		return err
	}
	if caller.ID == target.ID {
		return user.ErrSelfUnfollow
	}
	if !target.HasFollower(caller.ID) {
		return user.ErrNotFollowing
	}

	if err := s.store.Unfollow(ctx, caller.ID, target.ID); err != nil {
		return fmt.Errorf("unfollow: %w", err)
	}

	s.invalidateEdge(ctx, caller.ID, target.ID)
	s.log.InfoContext(ctx, "user unfollowed", "target_id", targetID)
	return nil
}

// Followers lists the public summaries of the users following userID.
func (s *Service) Followers(ctx context.Context, userID string) (list []user.Summary, fromCache bool, err error) {
	ctx, span := tracer.Start(ctx, "users.Followers", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() {
		span.SetAttributes(attribute.Bool("cache.hit", fromCache), attribute.Int("count", len(list)))
		endSpan(span, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	return cache.Fetch(ctx, s.cache, cache.FollowersKey(userID), func(ctx context.Context) ([]user.Summary, error) {
		u, err := s.store.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.store.Summaries(ctx, u.Followers)
	})
}

func (s *Service) Following(ctx context.Context, userID string) (list []user.Summary, fromCache bool, err error) {
	ctx, span := tracer.Start(ctx, "users.Following", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() {
		span.SetAttributes(attribute.Bool("cache.hit", fromCache), attribute.Int("count", len(list)))
		endSpan(span, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	return cache.Fetch(ctx, s.cache, cache.FollowingKey(userID), func(ctx context.Context) ([]user.Summary, error) {
		u, err := s.store.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.store.Summaries(ctx, u.Following)
	})
}

// Search matches keyword literally and case-insensitively against usernames.
// Results are not cached.
func (s *Service) Search(ctx context.Context, keyword string) (res []user.SearchResult, err error) {
	ctx, span := tracer.Start(ctx, "users.Search")
	defer func() { endSpan(span, err) }()

	if keyword == "" {
		return nil, user.ErrMissingQuery
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	res, err = s.store.SearchByUsername(ctx, keyword)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return res, nil
}

// Ready reports whether the store answers. The cache is not consulted.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// loadPair checks both ends of an edge exist. The stored IDs it returns are
// the ones to compare and to build cache keys from, not the raw path value.
func (s *Service) loadPair(ctx context.Context, callerID, targetID string) (user.User, user.User, error) {
	caller, err := s.store.GetByID(ctx, callerID)
	if err != nil {
		return user.User{}, user.User{}, fmt.Errorf("load caller: %w", err)
	}

	target, err := s.store.GetByID(ctx, targetID)
	if err != nil {
		return user.User{}, user.User{}, fmt.Errorf("load target: %w", err)
	}
	return caller, target, nil
}

// Only the two lists the edge appears in go stale.
func (s *Service) invalidateEdge(ctx context.Context, callerID, targetID string) {
	s.cache.Invalidate(ctx, cache.FollowersKey(targetID), cache.FollowingKey(callerID))
}

func edgeAttrs(callerID, targetID string) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("user.id", callerID),
		attribute.String("target.id", targetID),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil && !isDomainErr(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func isDomainErr(err error) bool {
	for _, target := range []error{
		user.ErrNotFound,
		user.ErrEmailTaken,
		user.ErrUsernameTaken,
		user.ErrInvalidCredentials,
		user.ErrUnauthenticated,
		user.ErrSelfFollow,
		user.ErrSelfUnfollow,
		user.ErrAlreadyFollowing,
		user.ErrNotFollowing,
		user.ErrMissingQuery,
		user.ErrPasswordTooLong,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
