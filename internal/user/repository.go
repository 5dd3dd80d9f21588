package user

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const uniqueViolation = "23505"

var (
	ErrUserNotFound  = stderrors.New("user not found")
	ErrUsernameTaken = stderrors.New("username already taken")
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern matches query literally anywhere in a value under ILIKE ... ESCAPE '\'.
func containsPattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, u *User) (*User, error) {
	query := "INSERT INTO profiles (id, username, password_hash, avatar_url) VALUES ($1, $2, $3, $4)"
	if _, err := r.db.ExecContext(ctx, query, u.ID, u.Username, u.Password, u.AvatarURL); err != nil {
		return nil, createUserErr(err)
	}
	return u, nil
}

func createUserErr(err error) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrUsernameTaken
	}
	return errors.Wrap(err, "userRepo.CreateUser.Exec")
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	query := "SELECT id, username, password_hash, avatar_url FROM profiles WHERE username = $1"

	err := r.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.Password, &u.AvatarURL)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "userRepo.GetUserByUsername.Scan")
	}
	return u, nil
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	// We limit to 10 to keep it fast
	q := `SELECT id, username, avatar_url FROM profiles WHERE username ILIKE $1 ESCAPE '\' ORDER BY username LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, containsPattern(query))
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.SearchUsers.Query")
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.AvatarURL); err != nil {
			return nil, errors.Wrap(err, "userRepo.SearchUsers.Scan")
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
