package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ltavares/chatline/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// SQL is the SQLite-backed Store.
type SQL struct {
	db *sql.DB
}

// NewSQL opens (or creates) a SQLite database and runs migrations.
func NewSQL(dbPath string) (*SQL, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// WAL improves concurrent read performance; busy_timeout avoids
	// "database is locked" when the sweep and a coordinator write together.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &SQL{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		username         TEXT PRIMARY KEY CHECK(length(username) > 0 AND length(username) <= 32),
		password_hash    TEXT NOT NULL,
		salt             TEXT NOT NULL,
		token_value      TEXT,
		token_issued_at  TEXT,
		token_expires_at TEXT,
		last_room        TEXT,
		created_at       TEXT NOT NULL DEFAULT (datetime('now'))
	);
	`
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("init schema_migrations: %w", err)
		}
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{version: 1, statements: []string{schema}},
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", m.version); err != nil {
			return fmt.Errorf("update schema version: %w", err)
		}
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// CreateUser registers a new user. Fails if the username is taken.
func (s *SQL) CreateUser(username, passwordHash, salt string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	_, err := s.db.ExecContext(context.Background(),
		"INSERT INTO users (username, password_hash, salt) VALUES (?, ?, ?)",
		username, passwordHash, salt)
	if err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	return &model.User{
		Username:     username,
		PasswordHash: passwordHash,
		Salt:         salt,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// GetUser retrieves a user by username, or (nil, nil) when absent.
func (s *SQL) GetUser(username string) (*model.User, error) {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT username, password_hash, salt, token_value, token_issued_at,
		        token_expires_at, last_room, created_at
		 FROM users WHERE username = ?`, username)
	u, err := scanUser(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by username.
func (s *SQL) ListUsers() ([]model.User, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT username, password_hash, salt, token_value, token_issued_at,
		        token_expires_at, last_room, created_at
		 FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func scanUser(scan func(dest ...any) error) (*model.User, error) {
	u := &model.User{}
	var tokenValue, tokenIssued, tokenExpires, lastRoom *string
	var createdAt string
	if err := scan(&u.Username, &u.PasswordHash, &u.Salt,
		&tokenValue, &tokenIssued, &tokenExpires, &lastRoom, &createdAt); err != nil {
		return nil, err
	}
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parsed
	if lastRoom != nil {
		u.LastRoom = *lastRoom
	}
	if tokenValue != nil && tokenIssued != nil && tokenExpires != nil {
		issued, err := parseDBTime(*tokenIssued)
		if err != nil {
			return nil, err
		}
		expires, err := parseDBTime(*tokenExpires)
		if err != nil {
			return nil, err
		}
		u.CurrentToken = &model.Token{
			Value:     *tokenValue,
			Username:  u.Username,
			IssuedAt:  issued,
			ExpiresAt: expires,
		}
	}
	return u, nil
}

// SaveToken stores the user's current token; nil clears it.
func (s *SQL) SaveToken(username string, tok *model.Token) error {
	var value, issued, expires *string
	if tok != nil {
		v := tok.Value
		i := formatDBTime(tok.IssuedAt)
		e := formatDBTime(tok.ExpiresAt)
		value, issued, expires = &v, &i, &e
	}
	res, err := s.db.ExecContext(context.Background(),
		"UPDATE users SET token_value = ?, token_issued_at = ?, token_expires_at = ? WHERE username = ?",
		value, issued, expires, username)
	if err != nil {
		return fmt.Errorf("datastore: save token: %w", err)
	}
	return requireRow(res, "save token", username)
}

// SaveLastRoom stores the user's last room; empty clears it.
func (s *SQL) SaveLastRoom(username, room string) error {
	var roomPtr *string
	if room != "" {
		roomPtr = &room
	}
	res, err := s.db.ExecContext(context.Background(),
		"UPDATE users SET last_room = ? WHERE username = ?", roomPtr, username)
	if err != nil {
		return fmt.Errorf("datastore: save last room: %w", err)
	}
	return requireRow(res, "save last room", username)
}

func requireRow(res sql.Result, op, username string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("datastore: %s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("datastore: %s: unknown user %q", op, username)
	}
	return nil
}
