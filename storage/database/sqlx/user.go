package sqlxrepos

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/fancysnake/ludamus/core/user"
)

const userColumns = `id, name, username, slug, email, user_type, manager_id, birth_date,
	is_active, roles, password_hash, created_at, updated_at, last_login`

// dbUser is the users table row.
type dbUser struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Username     string         `db:"username"`
	Slug         string         `db:"slug"`
	Email        string         `db:"email"`
	UserType     string         `db:"user_type"`
	ManagerID    null.String    `db:"manager_id"`
	BirthDate    null.Time      `db:"birth_date"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash []byte         `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func (u dbUser) toCore() user.User {
	return user.User{
		ID:           u.ID,
		Name:         u.Name,
		Username:     u.Username,
		Slug:         u.Slug,
		Email:        u.Email,
		UserType:     u.UserType,
		ManagerID:    u.ManagerID,
		BirthDate:    u.BirthDate,
		IsActive:     u.IsActive,
		Roles:        u.Roles,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
		LastLogin:    u.LastLogin.Time,
	}
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func toCoreUsers(rows []dbUser) []user.User {
	users := make([]user.User, 0, len(rows))
	for _, u := range rows {
		users = append(users, u.toCore())
	}
	return users
}

func (repo *userRepository) CheckUsernameUniqueness(username, email string, excludedUsers ...user.User) error {
	q := `SELECT username, email FROM users
	WHERE (username = $1 AND $1 <> '') OR (email = $2 AND $2 <> '')`
	args := []interface{}{username, email}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		q += ` AND NOT (id = ANY($3))`
		args = append(args, pq.Array(ids))
	}

	var rows []dbUser
	if err := repo.db.Select(&rows, q, args...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	for _, row := range rows {
		if username != "" && row.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && row.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(usr user.User) (user.User, error) {
	q := `INSERT INTO users (` + userColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := repo.db.Exec(q,
		usr.ID, usr.Name, usr.Username, usr.Slug, usr.Email, usr.UserType,
		usr.ManagerID, usr.BirthDate, usr.IsActive, pq.Array(usr.Roles),
		usr.PasswordHash, usr.CreatedAt, usr.UpdatedAt, null.NewTime(usr.LastLogin, !usr.LastLogin.IsZero()))
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) QueryAllUsers() ([]user.User, error) {
	var rows []dbUser
	q := `SELECT ` + userColumns + ` FROM users ORDER BY created_at`
	if err := repo.db.Select(&rows, q); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return toCoreUsers(rows), nil
}

func (repo *userRepository) getUser(where string, args ...interface{}) (user.User, error) {
	var row dbUser
	q := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	if err := repo.db.Get(&row, q, args...); err != nil {
		return user.User{}, trapNoRowsErr(err, "getting user")
	}
	return row.toCore(), nil
}

func (repo *userRepository) GetUserByID(id string) (user.User, error) {
	return repo.getUser(`id = $1`, id)
}

func (repo *userRepository) GetUserByUsername(username string) (user.User, error) {
	return repo.getUser(`username = $1 AND username <> ''`, username)
}

func (repo *userRepository) GetUserByEmail(email string) (user.User, error) {
	return repo.getUser(`email = $1 AND email <> ''`, email)
}

func (repo *userRepository) GetUserByUsernameOrEmail(username string) (user.User, error) {
	return repo.getUser(`(username = $1 AND username <> '') OR (email = $1 AND email <> '')`, username)
}

func (repo *userRepository) GetUserBySlug(slug string) (user.User, error) {
	return repo.getUser(`slug = $1 AND slug <> ''`, slug)
}

func (repo *userRepository) FilterUsers(filter user.QueryFilter) ([]user.User, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		p := arg(val)
		where = append(where, fmt.Sprintf("(name ILIKE %[1]s OR username ILIKE %[1]s OR email ILIKE %[1]s)", p))
	}
	if len(filter.Roles) > 0 {
		// users with any role that starts with any of the provided roles
		ors := make([]string, 0, len(filter.Roles))
		for _, role := range filter.Roles {
			ors = append(ors, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role ILIKE %s)", arg(role+"%")))
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}
	if filter.UserType != "" {
		where = append(where, "user_type = "+arg(filter.UserType))
	}
	if filter.IsActive != nil {
		where = append(where, "is_active = "+arg(*filter.IsActive))
	}
	if !filter.CreatedFrom.IsZero() {
		where = append(where, "created_at >= "+arg(filter.CreatedFrom.UTC()))
	}
	if !filter.CreatedTo.IsZero() {
		where = append(where, "created_at <= "+arg(filter.CreatedTo.UTC()))
	}

	q := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at`

	var rows []dbUser
	if err := repo.db.Select(&rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "filtering users")
	}
	return toCoreUsers(rows), nil
}

func (repo *userRepository) QueryConnectedUsers(managerID string) ([]user.User, error) {
	var rows []dbUser
	q := `SELECT ` + userColumns + ` FROM users WHERE manager_id = $1 ORDER BY created_at`
	if err := repo.db.Select(&rows, q, managerID); err != nil {
		return nil, errors.Wrap(err, "querying connected users")
	}
	return toCoreUsers(rows), nil
}

func (repo *userRepository) CountConnectedUsers(managerID string) (int, error) {
	var count int
	q := `SELECT COUNT(*) FROM users WHERE manager_id = $1`
	if err := repo.db.Get(&count, q, managerID); err != nil {
		return 0, errors.Wrap(err, "counting connected users")
	}
	return count, nil
}

// UpdateUser only saves set fields.
func (repo *userRepository) UpdateUser(usr user.User, isActive *bool) (user.User, error) {
	var (
		sets []string
		args []interface{}
	)
	set := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if usr.Name != "" {
		set("name", usr.Name)
	}
	if usr.Username != "" {
		set("username", usr.Username)
	}
	if usr.Email != "" {
		set("email", usr.Email)
	}
	if usr.BirthDate.Valid {
		set("birth_date", usr.BirthDate)
	}
	if usr.Roles != nil {
		set("roles", pq.Array(usr.Roles))
	}
	if usr.PasswordHash != nil {
		set("password_hash", usr.PasswordHash)
	}
	if isActive != nil {
		set("is_active", *isActive)
	}
	set("updated_at", usr.UpdatedAt)

	args = append(args, usr.ID)
	q := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	res, err := repo.db.Exec(q, args...)
	if err != nil {
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUserByID(usr.ID)
}

func (repo *userRepository) SetUserLastLogin(usr user.User) (user.User, error) {
	q := `UPDATE users SET last_login = $1 WHERE id = $2`
	if _, err := repo.db.Exec(q, usr.LastLogin, usr.ID); err != nil {
		return user.User{}, errors.Wrap(err, "setting last login")
	}
	return repo.GetUserByID(usr.ID)
}

func (repo *userRepository) DeleteUsersByID(ids ...string) error {
	q := `DELETE FROM users WHERE id = ANY($1)`
	if _, err := repo.db.Exec(q, pq.Array(ids)); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}
