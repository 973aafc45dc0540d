package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"netchat/chaterr"
	"netchat/models"
)

// DB is the local user directory: credentials and the last known node address
// of every registered user.
type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, chaterr.IO("create database dir", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			ip TEXT NOT NULL DEFAULT '',
			port INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_address ON users(ip, port)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return db.migrate()
}

// migrate adds columns introduced after the first schema.
func (db *DB) migrate() error {
	if !db.columnExists("users", "last_login") {
		// NULL means the user never logged in
		if _, err := db.conn.Exec("ALTER TABLE users ADD COLUMN last_login TEXT"); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) columnExists(table, column string) bool {
	query := "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?"
	var count int
	err := db.conn.QueryRow(query, table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// CreateUser registers a user. bcrypt salts every hash individually.
func (db *DB) CreateUser(username, password, ip string, port int) error {
	if username == "" || password == "" {
		return chaterr.Invalid("register", "username and password required")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = db.conn.Exec(
		"INSERT INTO users (username, password, ip, port, created_at) VALUES (?, ?, ?, ?, ?)",
		username, string(hashed), ip, port, now,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("register %s: %w", username, chaterr.ErrDuplicateUser)
		}
		return err
	}
	return nil
}

// AuthenticateUser checks the password and records the login time.
func (db *DB) AuthenticateUser(username, password string) error {
	var hashedPassword string
	err := db.conn.QueryRow("SELECT password FROM users WHERE username = ?", username).Scan(&hashedPassword)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("authenticate %s: %w", username, chaterr.ErrUserNotFound)
	}
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return fmt.Errorf("authenticate %s: %w", username, chaterr.ErrBadCredential)
	}

	_, err = db.conn.Exec(
		"UPDATE users SET last_login = ? WHERE username = ?",
		time.Now().UTC().Format(time.RFC3339Nano), username,
	)
	return err
}

func (db *DB) UserExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) UpdateAddress(username, ip string, port int) error {
	result, err := db.conn.Exec("UPDATE users SET ip = ?, port = ? WHERE username = ?", ip, port, username)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("update address %s: %w", username, chaterr.ErrUserNotFound)
	}
	return nil
}

const userColumns = "username, ip, port, created_at, COALESCE(last_login, '')"

// GetUser returns the public part of a user record.
func (db *DB) GetUser(username string) (*models.User, error) {
	row := db.conn.QueryRow("SELECT "+userColumns+" FROM users WHERE username = ?", username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get user %s: %w", username, chaterr.ErrUserNotFound)
	}
	return u, err
}

// UserByAddress finds the user whose node listens on ip:port.
func (db *DB) UserByAddress(ip string, port int) (*models.User, error) {
	row := db.conn.QueryRow("SELECT "+userColumns+" FROM users WHERE ip = ? AND port = ? ORDER BY id LIMIT 1", ip, port)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user at %s:%d: %w", ip, port, chaterr.ErrUserNotFound)
	}
	return u, err
}

func (db *DB) ListUsers() ([]models.User, error) {
	rows, err := db.conn.Query("SELECT " + userColumns + " FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	var createdStr, lastLoginStr string
	if err := row.Scan(&u.Username, &u.IP, &u.Port, &createdStr, &lastLoginStr); err != nil {
		return nil, err
	}

	created, err := time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = created

	if lastLoginStr != "" {
		if u.LastLogin, err = time.Parse(time.RFC3339Nano, lastLoginStr); err != nil {
			return nil, err
		}
	}
	return &u, nil
}
