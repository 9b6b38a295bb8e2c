// Package session persists the CLI's current login in a local SQLite
// metadata table so a later run can resume with a refresh.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/client/migrations"
	"github.com/dmitrijs2005/gophauth/internal/dbx"
	"github.com/dmitrijs2005/gophauth/internal/filex"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

var ErrNoSession = errors.New("no saved session")

const (
	keyUserID       = "user_id"
	keyEmail        = "email"
	keyRefreshToken = "refresh_token"
	keySavedAt      = "saved_at"
)

var sessionKeys = []string{keyUserID, keyEmail, keyRefreshToken, keySavedAt}

// Session is what survives between CLI runs. The access token is never
// stored; it is recovered by refreshing.
type Session struct {
	UserID       string
	Email        string
	RefreshToken string
	SavedAt      time.Time
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// Open opens (creating if needed) the SQLite file at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	path, err := filex.EnsureParentDir(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewStore(db), nil
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored session in one transaction.
func (s *Store) Save(ctx context.Context, sess Session) error {
	values := map[string]string{
		keyUserID:       sess.UserID,
		keyEmail:        sess.Email,
		keyRefreshToken: sess.RefreshToken,
		keySavedAt:      s.now().UTC().Format(time.RFC3339),
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, k := range sessionKeys {
			if err := set(ctx, tx, k, values[k]); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateRefreshToken swaps the stored refresh token after a rotation.
func (s *Store) UpdateRefreshToken(ctx context.Context, token string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := set(ctx, tx, keyRefreshToken, token); err != nil {
			return err
		}
		return set(ctx, tx, keySavedAt, s.now().UTC().Format(time.RFC3339))
	})
}

// Load returns ErrNoSession when nothing usable is stored.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	values := make(map[string]string, len(sessionKeys))
	for _, k := range sessionKeys {
		v, err := get(ctx, s.db, k)
		if err != nil {
			return nil, err
		}
		values[k] = v
	}
	if values[keyRefreshToken] == "" {
		return nil, ErrNoSession
	}

	sess := &Session{
		UserID:       values[keyUserID],
		Email:        values[keyEmail],
		RefreshToken: values[keyRefreshToken],
	}
	if ts := values[keySavedAt]; ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			sess.SavedAt = t
		}
	}
	return sess, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM metadata`); err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}
	return nil
}

func get(ctx context.Context, db dbx.DBTX, key string) (string, error) {
	var value []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return string(value), nil
}

func set(ctx context.Context, db dbx.DBTX, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, []byte(value))
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}
