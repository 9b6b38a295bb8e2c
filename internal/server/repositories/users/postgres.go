package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const userColumns = `id, email, username, display_name, password_hash, profile_image_url, role, created_at`

// PostgresRepository stores users in the users table and refresh-token
// digests in refresh_tokens, one row per digest.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) FindByEmailOrHandle(ctx context.Context, value string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE email = $1 OR username = $1
		LIMIT 1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, value))
	if err != nil {
		return nil, err
	}
	if user.RefreshTokens, err = loadTokens(ctx, r.db, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	if uuid.Validate(id) != nil {
		return nil, common.ErrorNotFound
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if user.RefreshTokens, err = loadTokens(ctx, r.db, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if !user.Role.Valid() {
		return nil, fmt.Errorf("create user: invalid role %q", user.Role)
	}
	created := user.Clone()
	if created.ID == "" {
		created.ID = uuid.NewString()
	}

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `INSERT INTO users (id, email, username, display_name, password_hash, profile_image_url, role)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at`

		err := tx.QueryRowContext(ctx, query,
			created.ID, created.Email, nullable(created.UserName), created.DisplayName,
			created.PasswordHash, created.ProfileImageURL, string(created.Role),
		).Scan(&created.CreatedAt)
		if err != nil {
			return mapWriteError(err)
		}
		return insertTokens(ctx, tx, created.ID, created.RefreshTokens)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *PostgresRepository) Update(ctx context.Context, id string, patch models.UserPatch) (*models.User, error) {
	if uuid.Validate(id) != nil {
		return nil, common.ErrorNotFound
	}

	var updated *models.User
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `UPDATE users
			SET password_hash = COALESCE($2, password_hash),
			    profile_image_url = COALESCE($3, profile_image_url)
			WHERE id = $1
			RETURNING ` + userColumns

		user, err := scanUser(tx.QueryRowContext(ctx, query, id, patch.PasswordHash, patch.ProfileImageURL))
		if err != nil {
			return err
		}

		if patch.RefreshTokens != nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, id); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			if err := insertTokens(ctx, tx, id, *patch.RefreshTokens); err != nil {
				return err
			}
			user.RefreshTokens = slices.Clone(*patch.RefreshTokens)
		} else if user.RefreshTokens, err = loadTokens(ctx, tx, id); err != nil {
			return err
		}

		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u        models.User
		username sql.NullString
		role     string
	)
	err := row.Scan(&u.ID, &u.Email, &username, &u.DisplayName, &u.PasswordHash, &u.ProfileImageURL, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	u.UserName = username.String
	u.Role = models.Role(role)
	return &u, nil
}

func loadTokens(ctx context.Context, db dbx.DBTX, userID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT token_hash FROM refresh_tokens WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	tokens := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tokens, nil
}

func insertTokens(ctx context.Context, tx dbx.DBTX, userID string, tokens []string) error {
	for _, t := range tokens {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO refresh_tokens (user_id, token_hash) VALUES ($1, $2)`, userID, t); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", common.ErrorAlreadyExists, pgErr.ConstraintName)
	}
	return fmt.Errorf("db error: %w", err)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
