package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/user"
)

const userColumns = `id, name, email, provider, avatar_url, is_active, roles, password_hash, check_balance, created_at, updated_at, last_login`

var userOrderColumns = map[string]string{
	"name":          "name",
	"email":         "email",
	"created_at":    "created_at",
	"last_login":    "last_login",
	"check_balance": "check_balance",
}

type userRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Email        string         `db:"email"`
	Provider     string         `db:"provider"`
	AvatarURL    null.String    `db:"avatar_url"`
	IsActive     null.Bool      `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash null.Bytes     `db:"password_hash"`
	CheckBalance int            `db:"check_balance"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

type userRepository struct {
	repository
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(exec core.DBExecutor) user.Repository {
	return &userRepository{repository{exec: exec}}
}

func (repo userRepository) toRow(usr user.User) userRow {
	roles := usr.Roles
	if roles == nil {
		roles = []string{}
	}
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Email:        usr.Email,
		Provider:     usr.Provider,
		AvatarURL:    null.NewString(usr.AvatarURL, usr.AvatarURL != ""),
		IsActive:     null.BoolFromPtr(usr.IsActive),
		Roles:        roles,
		PasswordHash: null.NewBytes(usr.PasswordHash, len(usr.PasswordHash) > 0),
		CheckBalance: usr.CheckBalance,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (repo userRepository) fromRow(row userRow) user.User {
	return user.User{
		ID:           row.ID,
		Name:         row.Name,
		Email:        row.Email,
		Provider:     row.Provider,
		AvatarURL:    row.AvatarURL.String,
		IsActive:     row.IsActive.Ptr(),
		Roles:        []string(row.Roles),
		PasswordHash: row.PasswordHash.Bytes,
		CheckBalance: row.CheckBalance,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
		LastLogin:    row.LastLogin.Time.UTC(),
	}
}

func (repo userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	ids := make([]string, 0, len(excludedUsers))
	for _, u := range excludedUsers {
		ids = append(ids, u.ID)
	}

	var taken bool
	err := repo.getExec(exec).GetContext(ctx, &taken,
		`SELECT EXISTS (SELECT 1 FROM user_profiles WHERE email = $1 AND NOT (id = ANY($2::uuid[])))`,
		email, pq.Array(ids),
	)
	if err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if taken {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		usr.ID = uuid.New().String()
	}
	row := repo.toRow(usr)

	var created userRow
	err := repo.getExec(exec).GetContext(ctx, &created,
		`INSERT INTO user_profiles (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+userColumns,
		row.ID, row.Name, row.Email, row.Provider, row.AvatarURL, row.IsActive, row.Roles,
		row.PasswordHash, row.CheckBalance, row.CreatedAt, row.UpdatedAt, row.LastLogin,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.fromRow(created), nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	var w where
	if filter != nil {
		if filter.Search != "" {
			pattern := likePattern(filter.Search)
			w.add("(name ILIKE ? OR email ILIKE ?)", pattern, pattern)
		}
		if len(filter.Roles) > 0 {
			prefixes := make([]string, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				prefixes = append(prefixes, role+"%")
			}
			w.add("EXISTS (SELECT 1 FROM UNNEST(roles) AS r WHERE r ILIKE ANY(?))", pq.Array(prefixes))
		}
		if filter.IsActive != nil {
			if *filter.IsActive {
				w.add("(is_active IS NULL OR is_active)")
			} else {
				w.add("is_active = false")
			}
		}
		if !filter.CreatedFrom.IsZero() {
			w.add("created_at >= ?", filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			w.add("created_at <= ?", filter.CreatedTo.UTC())
		}
	}

	ex := repo.getExec(exec)
	query := ex.Rebind(`SELECT ` + userColumns + ` FROM user_profiles` + w.String() + orderBy(ordering, userOrderColumns, "created_at ASC"))

	var rows []userRow
	if err := ex.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, repo.fromRow(row))
	}
	return users, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	var (
		cond string
		arg  string
	)
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		cond, arg = "id = $1", filter.ID
	case filter.Email != "":
		cond, arg = "email = $1", filter.Email
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	err := repo.getExec(exec).GetContext(ctx, &row, `SELECT `+userColumns+` FROM user_profiles WHERE `+cond, arg)
	if err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound)
	}
	return repo.fromRow(row), nil
}

// UpdateUser writes every column but check_balance, which only changes through AddCheckBalance.
func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	row := repo.toRow(usr)

	var updated userRow
	err := repo.getExec(exec).GetContext(ctx, &updated,
		`UPDATE user_profiles SET
			name = $2, email = $3, provider = $4, avatar_url = $5, is_active = $6,
			roles = $7, password_hash = $8, updated_at = $9, last_login = $10
		WHERE id = $1
		RETURNING `+userColumns,
		row.ID, row.Name, row.Email, row.Provider, row.AvatarURL, row.IsActive,
		row.Roles, row.PasswordHash, row.UpdatedAt, row.LastLogin,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound)
	}
	return repo.fromRow(updated), nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := repo.getExec(exec).ExecContext(ctx, `DELETE FROM user_profiles WHERE id = ANY($1::uuid[])`, pq.Array(ids))
	return errors.Wrap(err, "deleting users")
}

func (repo userRepository) AddCheckBalance(ctx context.Context, id string, delta int, exec ...core.DBExecutor) (int, error) {
	if _, err := uuid.Parse(id); err != nil {
		return 0, user.ErrNotFound
	}
	ex := repo.getExec(exec)

	var balance int
	err := ex.GetContext(ctx, &balance,
		`UPDATE user_profiles SET check_balance = check_balance + $2, updated_at = now()
		WHERE id = $1 AND check_balance + $2 >= 0
		RETURNING check_balance`,
		id, delta,
	)
	if err == nil {
		return balance, nil
	}
	if errors.Cause(err) != sql.ErrNoRows {
		return 0, errors.Wrap(err, "updating check balance")
	}

	// either the user does not exist or the balance is too low
	if err = ex.GetContext(ctx, &balance, `SELECT check_balance FROM user_profiles WHERE id = $1`, id); err != nil {
		return 0, trapNoRowsErr(err, user.ErrNotFound)
	}
	return balance, user.ErrInsufficientCredits
}
