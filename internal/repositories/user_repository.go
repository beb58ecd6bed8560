package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chatsync/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// UserRepository abstracts the user directory.
type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	UpdateProfile(ctx context.Context, user models.User) error
	GetUser(ctx context.Context, userID string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// CreateUser stores a new profile. A duplicate identifier is rejected before
// any write so profile setup never partially succeeds.
func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, user.ID); err != nil {
		return models.User{}, err
	}
	if exists {
		return models.User{}, ErrUserExists
	}

	err := r.db.QueryRowxContext(ctx, `INSERT INTO users (id, name, photo_url, avatar_url) VALUES ($1, $2, $3, $4) RETURNING id, name, photo_url, avatar_url, created_at`,
		user.ID, user.Name, user.PhotoURL, user.AvatarURL).
		Scan(&user.ID, &user.Name, &user.PhotoURL, &user.AvatarURL, &user.CreatedAt)
	return user, err
}

// UpdateProfile edits the mutable profile fields.
func (r *UserRepo) UpdateProfile(ctx context.Context, user models.User) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET name=$2, photo_url=$3, avatar_url=$4 WHERE id=$1`,
		user.ID, user.Name, user.PhotoURL, user.AvatarURL)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetUser fetches a single profile.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, name, photo_url, avatar_url, created_at FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// ListUsers returns the full user directory.
func (r *UserRepo) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT id, name, photo_url, avatar_url, created_at FROM users ORDER BY created_at ASC`)
	return users, err
}
