package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/pong-backend/internal/apperror"
	"github.com/sakif/pong-backend/internal/model"
	"github.com/sakif/pong-backend/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// userColumns is shared by every SELECT so scanUser always sees the same order.
// COALESCE turns the nullable columns back into empty strings.
const userColumns = `id, username, display_name, password_hash,
	COALESCE(avatar_url, ''), COALESCE(oauth_provider, ''), COALESCE(oauth_id, ''),
	created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.DisplayName,
		&u.PasswordHash,
		&u.AvatarURL,
		&u.OAuthProvider,
		&u.OAuthID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user and fills in user.ID and the timestamps.
//
// Returns apperror.ErrConflict if the username, display name, or OAuth
// identity is already taken. The INSERT runs in a transaction so a losing
// concurrent writer leaves nothing behind.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO users (username, display_name, password_hash, avatar_url,
			                    oauth_provider, oauth_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			user.Username,
			user.DisplayName,
			user.PasswordHash,
			nullIfEmpty(user.AvatarURL),
			nullIfEmpty(user.OAuthProvider),
			nullIfEmpty(user.OAuthID),
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("sqlite: reading new user id: %w", err)
		}
		user.ID = id
		return nil
	})
	if err != nil {
		return err
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetByID retrieves a user by id.
// Returns apperror.ErrNotFound if no user exists with that id.
func (db *DB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	return u, nil
}

// GetByUsername retrieves a user by login handle.
func (db *DB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: getting user by username %q: %w", username, err)
	}
	return u, nil
}

// GetByDisplayName retrieves a user by public display name.
func (db *DB) GetByDisplayName(ctx context.Context, displayName string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE display_name = ?`, displayName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", displayName)
		}
		return nil, fmt.Errorf("sqlite: getting user by display name %q: %w", displayName, err)
	}
	return u, nil
}

// GetByOAuth resolves a federated identity to its local account.
// The UNIQUE index on (oauth_provider, oauth_id) guarantees at most one row.
func (db *DB) GetByOAuth(ctx context.Context, provider, externalID string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE oauth_provider = ? AND oauth_id = ?`,
		provider, externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound(provider+" user", externalID)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s id %s: %w", provider, externalID, err)
	}
	return u, nil
}

// List returns every user ordered by id.
func (db *DB) List(ctx context.Context) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}

	return users, nil
}

// UpdateDisplayName sets a new display name.
// Returns apperror.ErrNotFound for an unknown id and apperror.ErrConflict if
// another user already holds the name.
func (db *DB) UpdateDisplayName(ctx context.Context, id int64, displayName string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE users SET display_name = ?, updated_at = ? WHERE id = ?`,
			displayName, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("sqlite: updating display name of user %d: %w", id, err)
		}
		return requireOneRow(result, id)
	})
}

// UpdateAvatar sets (or, with "", clears) the avatar URL.
func (db *DB) UpdateAvatar(ctx context.Context, id int64, avatarURL string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE users SET avatar_url = ?, updated_at = ? WHERE id = ?`,
			nullIfEmpty(avatarURL), time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("sqlite: updating avatar of user %d: %w", id, err)
		}
		return requireOneRow(result, id)
	})
}

// Delete removes a user permanently. Their sessions go with them (ON DELETE CASCADE).
func (db *DB) Delete(ctx context.Context, id int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("sqlite: deleting user %d: %w", id, err)
		}
		return requireOneRow(result, id)
	})
}

// requireOneRow turns "the WHERE clause matched nothing" into NotFound.
func requireOneRow(result sql.Result, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	return nil
}
