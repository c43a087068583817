package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/dageev-uae/tenis-schedule/internal/db"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
)

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
	return err == nil
}

// Users stores front-end accounts. A user id doubles as the notification
// recipient id.
type Users struct {
	db *db.DB
}

func NewUsers(d *db.DB) *Users { return &Users{db: d} }

func (u *Users) Create(ctx context.Context, username, password string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return 0, fmt.Errorf("username and password are required")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return 0, err
	}
	var id int64
	err = u.db.QueryRow(ctx, `INSERT INTO users(username, password_bcrypt) VALUES ($1,$2) RETURNING id`, username, hash).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return 0, err
	}
	return id, nil
}

func (u *Users) Authenticate(ctx context.Context, username, password string) (int64, error) {
	var id int64
	var hash string
	err := u.db.QueryRow(ctx, `SELECT id, password_bcrypt FROM users WHERE username=$1`, strings.TrimSpace(username)).Scan(&id, &hash)
	if err != nil {
		if db.IsNotFound(err) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}
	if !CheckPassword(hash, password) {
		return 0, ErrInvalidCredentials
	}
	return id, nil
}

func (u *Users) IDByUsername(ctx context.Context, username string) (int64, error) {
	var id int64
	err := u.db.QueryRow(ctx, `SELECT id FROM users WHERE username=$1`, strings.TrimSpace(username)).Scan(&id)
	if err != nil {
		return 0, db.WrapNotFound(err)
	}
	return id, nil
}
