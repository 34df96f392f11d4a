package session

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mobinc/pnpbridge/infra/logger"
	"github.com/mobinc/pnpbridge/provider"
)

// SQLiteStore persists deposit sessions keyed by message id. It implements
// provider.SessionStore; Get never returns an expired session.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// retryOperation executes a database operation with retry logic for SQLITE_BUSY errors
func (s *SQLiteStore) retryOperation(operation func() error, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked") {
			lastErr = err
			if attempt < maxRetries {
				// Exponential backoff: 10ms, 20ms, 40ms, 80ms
				backoff := time.Duration(10*(1<<attempt)) * time.Millisecond
				time.Sleep(backoff)
				continue
			}
		} else {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d retries, last error: %w", maxRetries+1, lastErr)
}

// NewSQLiteStore creates a new SQLite session store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_timeout=20000&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:   db,
		path: dbPath,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := store.applyPragmas(); err != nil {
		log.Printf("Warning: Failed to apply optimizations: %v", err)
	}

	return store, nil
}

// initSchema creates the necessary tables
func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS deposit_sessions (
		message_id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		email TEXT NOT NULL,
		currency TEXT NOT NULL,
		partner_id TEXT NOT NULL DEFAULT '',
		success_login_url TEXT NOT NULL DEFAULT '',
		request_origin TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON deposit_sessions(expires_at);
	`

	_, err := s.db.Exec(query)
	return err
}

// applyPragmas applies SQLite optimizations for concurrent access
func (s *SQLiteStore) applyPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA cache_size = 1000;",
		"PRAGMA busy_timeout = 30000;",
		"PRAGMA temp_store = memory;",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			log.Printf("Warning: Failed to execute %s: %v", pragma, err)
		}
	}

	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to check journal mode: %w", err)
	}

	return nil
}

// CreateSession stores a new deposit session
func (s *SQLiteStore) CreateSession(ctx context.Context, session provider.DepositSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.MessageID == "" {
		return fmt.Errorf("session message id cannot be empty")
	}

	return s.retryOperation(func() error {
		// message_id is immutable once written; a duplicate insert means a
		// correlation-id collision and must surface, not overwrite.
		query := `
		INSERT INTO deposit_sessions (message_id, provider, email, currency, partner_id, success_login_url, request_origin, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`

		_, err := s.db.ExecContext(ctx, query,
			session.MessageID,
			session.Provider,
			session.Email,
			session.Currency,
			session.PartnerID,
			session.SuccessLoginURL,
			session.RequestOrigin,
			session.CreatedAt.UTC(),
			session.ExpiresAt.UTC(),
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("deposit session %s already exists: %w", session.MessageID, err)
			}
			return fmt.Errorf("failed to save deposit session: %w", err)
		}
		return nil
	}, 3)
}

// GetSession loads a live session by message id. Expired sessions are
// indistinguishable from missing ones: both return ErrSessionNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, messageID string) (*provider.DepositSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var session provider.DepositSession
	err := s.retryOperation(func() error {
		query := `
		SELECT message_id, provider, email, currency, partner_id, success_login_url, request_origin, created_at, expires_at
		FROM deposit_sessions
		WHERE message_id = ? AND expires_at > ?
		`

		row := s.db.QueryRowContext(ctx, query, messageID, time.Now().UTC())
		err := row.Scan(
			&session.MessageID,
			&session.Provider,
			&session.Email,
			&session.Currency,
			&session.PartnerID,
			&session.SuccessLoginURL,
			&session.RequestOrigin,
			&session.CreatedAt,
			&session.ExpiresAt,
		)
		if err != nil {
			if err == sql.ErrNoRows {
				return provider.ErrSessionNotFound
			}
			return fmt.Errorf("failed to load deposit session: %w", err)
		}
		return nil
	}, 3)
	if err != nil {
		return nil, err
	}

	return &session, nil
}

// UpdateSuccessLoginURL stores the post-verification login URL for a session
func (s *SQLiteStore) UpdateSuccessLoginURL(ctx context.Context, messageID, successLoginURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		query := `
		UPDATE deposit_sessions
		SET success_login_url = ?
		WHERE message_id = ? AND expires_at > ?
		`

		result, err := s.db.ExecContext(ctx, query, successLoginURL, messageID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to update deposit session: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return provider.ErrSessionNotFound
		}
		return nil
	}, 3)
}

// DeleteSession removes a session by message id
func (s *SQLiteStore) DeleteSession(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM deposit_sessions WHERE message_id = ?`, messageID)
		if err != nil {
			return fmt.Errorf("failed to delete deposit session: %w", err)
		}
		return nil
	}, 3)
}

// DeleteExpired removes all sessions past their TTL and reports how many
// rows went away.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	err := s.retryOperation(func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM deposit_sessions WHERE expires_at <= ?`, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to delete expired sessions: %w", err)
		}
		deleted, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		return nil
	}, 3)

	return deleted, err
}

// StartExpirySweep deletes expired sessions on the given interval until the
// context is cancelled.
func (s *SQLiteStore) StartExpirySweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := s.DeleteExpired(ctx)
				if err != nil {
					logger.Error("session expiry sweep failed", err)
					continue
				}
				if deleted > 0 {
					logger.Info("expired deposit sessions removed", logger.LogContext{
						Fields: map[string]any{"count": deleted},
					})
				}
			}
		}
	}()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetStats returns database statistics
func (s *SQLiteStore) GetStats() (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]any)

	var totalSessions int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM deposit_sessions").Scan(&totalSessions); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	stats["total_sessions"] = totalSessions

	var liveSessions int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM deposit_sessions WHERE expires_at > ?", time.Now().UTC()).Scan(&liveSessions); err != nil {
		return nil, fmt.Errorf("failed to count live sessions: %w", err)
	}
	stats["live_sessions"] = liveSessions

	if fileInfo, err := os.Stat(s.path); err == nil {
		stats["db_size_bytes"] = fileInfo.Size()
	}
	stats["db_path"] = s.path

	return stats, nil
}
