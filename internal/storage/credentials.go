package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"wade/internal/session"

	_ "modernc.org/sqlite"
)

// CredentialRepository stores session credentials in SQLite so signed-in
// sessions survive a restart.
type CredentialRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewCredentialRepository(dbPath string) (*CredentialRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &CredentialRepository{db: db, now: time.Now}, nil
}

func (r *CredentialRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks the database connection. Used by readiness checks.
func (r *CredentialRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Save implements session.TokenStore.
func (r *CredentialRepository) Save(ctx context.Context, sessionID string, cred session.Credential) error {
	now := r.now().Unix()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_credentials (session_id, access_token, refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		sessionID, cred.AccessToken, cred.RefreshToken, unixOrZero(cred.ExpiresAt), now, now)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Load implements session.TokenStore.
func (r *CredentialRepository) Load(ctx context.Context, sessionID string) (session.Credential, error) {
	var (
		cred    session.Credential
		expires int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at
		FROM session_credentials
		WHERE session_id = ?`, sessionID).Scan(&cred.AccessToken, &cred.RefreshToken, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Credential{}, session.ErrNoCredential
	}
	if err != nil {
		return session.Credential{}, fmt.Errorf("load credential: %w", err)
	}
	if expires > 0 {
		cred.ExpiresAt = time.Unix(expires, 0)
	}
	return cred, nil
}

// Delete implements session.TokenStore. Deleting a missing row is not an error.
func (r *CredentialRepository) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM session_credentials WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// PurgeExpired removes credentials whose access token expired before now.
func (r *CredentialRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM session_credentials
		WHERE expires_at > 0 AND expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("purge expired credentials: %w", err)
	}
	return res.RowsAffected()
}

// CleanExpired lets the cache manager's cleanup loop purge the table.
func (r *CredentialRepository) CleanExpired() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n, err := r.PurgeExpired(ctx, r.now())
	if err != nil {
		slog.Warn("Failed to purge expired credentials", "component", "storage", "error", err)
		return 0
	}
	return int(n)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
