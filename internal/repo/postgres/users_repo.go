package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/userhub/internal/domain/user"
	"github.com/geocoder89/userhub/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id::text, username, email, password_hash,
	COALESCE(bio, ''), COALESCE(profile_pic, ''),
	followers::text[], following::text[],
	created_at, updated_at`

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{
		pool: pool,
		prom: prom,
	}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *UsersRepo) Create(ctx context.Context, nu user.NewUser) (u user.User, err error) {
	err = r.observe("users.create", func() error {
		row := r.pool.QueryRow(ctx,
			`INSERT INTO users (id, username, email, password_hash)
			VALUES ($1, $2, $3, $4)
			RETURNING `+userColumns,
			uuid.NewString(), nu.Username, nu.Email, nu.PasswordHash,
		)
		return mapWriteErr(scanUser(row, &u))
	})
	return
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (u user.User, err error) {
	if !canonicalID(id) {
		return user.User{}, user.ErrNotFound
	}

	err = r.observe("users.get_by_id", func() error {
		row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1::uuid`, id)
		return mapReadErr(scanUser(row, &u))
	})
	return
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (u user.User, err error) {
	err = r.observe("users.get_by_email", func() error {
		row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
		return mapReadErr(scanUser(row, &u))
	})
	return
}

// UpdateProfile treats empty strings as "leave unchanged".
func (r *UsersRepo) UpdateProfile(ctx context.Context, id string, req user.UpdateProfileRequest) (u user.User, err error) {
	if !canonicalID(id) {
		return user.User{}, user.ErrNotFound
	}

	err = r.observe("users.update_profile", func() error {
		row := r.pool.QueryRow(ctx,
			`UPDATE users SET
				username    = COALESCE(NULLIF($2, ''), username),
				bio         = COALESCE(NULLIF($3, ''), bio),
				profile_pic = COALESCE(NULLIF($4, ''), profile_pic),
				updated_at  = now()
			WHERE id = $1::uuid
			RETURNING `+userColumns,
			id, req.Username, req.Bio, req.ProfilePic,
		)
		err := scanUser(row, &u)
		if errors.Is(err, pgx.ErrNoRows) {
			return user.ErrNotFound
		}
		return mapWriteErr(err)
	})
	return
}

// Follow writes both sides of the edge in one transaction. The guarded
// array_append is a set-add, so a racing duplicate follow is a no-op.
func (r *UsersRepo) Follow(ctx context.Context, followerID, targetID string) error {
	return r.observe("users.follow", func() error {
		return r.inPairTx(ctx, followerID, targetID, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx,
				`UPDATE users SET followers = array_append(followers, $2::uuid), updated_at = now()
				WHERE id = $1::uuid AND NOT ($2::uuid = ANY (followers))`,
				targetID, followerID,
			); err != nil {
				return fmt.Errorf("add follower: %w", err)
			}

			if _, err := tx.Exec(ctx,
				`UPDATE users SET following = array_append(following, $2::uuid), updated_at = now()
				WHERE id = $1::uuid AND NOT ($2::uuid = ANY (following))`,
				followerID, targetID,
			); err != nil {
				return fmt.Errorf("add following: %w", err)
			}
			return nil
		})
	})
}

func (r *UsersRepo) Unfollow(ctx context.Context, followerID, targetID string) error {
	return r.observe("users.unfollow", func() error {
		return r.inPairTx(ctx, followerID, targetID, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx,
				`UPDATE users SET followers = array_remove(followers, $2::uuid), updated_at = now()
				WHERE id = $1::uuid`,
				targetID, followerID,
			); err != nil {
				return fmt.Errorf("remove follower: %w", err)
			}

			if _, err := tx.Exec(ctx,
				`UPDATE users SET following = array_remove(following, $2::uuid), updated_at = now()
				WHERE id = $1::uuid`,
				followerID, targetID,
			); err != nil {
				return fmt.Errorf("remove following: %w", err)
			}
			return nil
		})
	})
}

// inPairTx locks both rows in id order, so two edges between the same pair
// cannot deadlock, and fails with ErrNotFound unless both exist.
func (r *UsersRepo) inPairTx(ctx context.Context, followerID, targetID string, fn func(pgx.Tx) error) error {
	for _, id := range []string{followerID, targetID} {
		if !canonicalID(id) {
			return user.ErrNotFound
		}
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}

	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT id FROM users WHERE id IN ($1::uuid, $2::uuid) ORDER BY id FOR UPDATE`,
		followerID, targetID,
	)
	if err != nil {
		return err
	}

	locked := 0
	for rows.Next() {
		locked++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if locked != 2 {
		return user.ErrNotFound
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Summaries resolves ids in the given order; ids without a row are skipped.
func (r *UsersRepo) Summaries(ctx context.Context, ids []string) ([]user.Summary, error) {
	out := make([]user.Summary, 0, len(ids))

	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if canonicalID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return out, nil
	}

	err := r.observe("users.summaries", func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id::text, username, COALESCE(profile_pic, '')
			FROM users
			WHERE id = ANY ($1::uuid[])
			ORDER BY array_position($1::uuid[], id)`,
			valid,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var s user.Summary
			if err := rows.Scan(&s.ID, &s.Username, &s.ProfilePic); err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})

	return out, err
}

func (r *UsersRepo) SearchByUsername(ctx context.Context, keyword string) ([]user.SearchResult, error) {
	out := make([]user.SearchResult, 0)

	err := r.observe("users.search", func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT username, COALESCE(profile_pic, '')
			FROM users
			WHERE strpos(lower(username), lower($1)) > 0
			ORDER BY username`,
			keyword,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var s user.SearchResult
			if err := rows.Scan(&s.Username, &s.ProfilePic); err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})

	return out, err
}

func (r *UsersRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// canonicalID accepts only the lower-case hyphenated form ids are read back
// in. uuid.Parse also takes upper case, braces and urn:uuid: prefixes, which
// would give one row several spellings.
func canonicalID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

func scanUser(row pgx.Row, u *user.User) error {
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.Bio,
		&u.ProfilePic,
		&u.Followers,
		&u.Following,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if u.Followers == nil {
		u.Followers = []string{}
	}
	if u.Following == nil {
		u.Following = []string{}
	}
	return nil
}

func mapReadErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return user.ErrNotFound
	}
	return err
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case "users_email_key":
			return user.ErrEmailTaken
		case "users_username_key":
			return user.ErrUsernameTaken
		}
	}
	return err
}
