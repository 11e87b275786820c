// Package store implements persistence of users, presets and job history in SQLite
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/umputun/chartreport/app/chart"
	"github.com/umputun/chartreport/app/enums"
)

// ErrNotFound is returned when a record doesn't exist or belongs to another user
var ErrNotFound = errors.New("not found")

// ErrExists is returned on unique constraint violations
var ErrExists = errors.New("already exists")

// User is an account of the web application
type User struct {
	ID             int64
	Username       string
	Email          string
	PasswordHash   string
	TelegramToken  string
	TelegramChatID string
	CreatedAt      time.Time
}

// Preset is a saved scan configuration
type Preset struct {
	ID             int64
	UserID         int64
	Title          string
	Description    string
	URL            string
	Period         string
	Range          string
	MovingAverages []chart.MovingAverage
	Schedule       string // cron spec, empty for manual presets
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobRecord is the summary of a finished job
type JobRecord struct {
	ID         string          `db:"id"`
	UserID     int64           `db:"user_id"`
	URL        string          `db:"url"`
	Status     enums.JobStatus `db:"status"`
	Total      int             `db:"total"`
	Processed  int             `db:"processed"`
	Charts     int             `db:"charts"`
	Error      string          `db:"error"`
	StartedAt  time.Time       `db:"-"`
	FinishedAt time.Time       `db:"-"`
}

// SQLite implements persistence with sqlx over modernc sqlite
type SQLite struct {
	db *sqlx.DB
}

// New opens the database at dbPath and creates the schema
func New(dbPath string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite allows a single writer

	pragmas := []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to apply %q: %w (also failed to close db: %v)", p, err, closeErr)
			}
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			telegram_token TEXT NOT NULL DEFAULT '',
			telegram_chat_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS presets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			period TEXT NOT NULL DEFAULT '',
			chart_range TEXT NOT NULL DEFAULT '',
			moving_averages TEXT NOT NULL DEFAULT '[]',
			schedule TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS job_history (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			url TEXT NOT NULL,
			status TEXT NOT NULL,
			total INTEGER NOT NULL DEFAULT 0,
			processed INTEGER NOT NULL DEFAULT 0,
			charts INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER,
			finished_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_presets_user_id ON presets(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_job_history_user_finished ON job_history(user_id, finished_at)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}

type userRow struct {
	ID             int64  `db:"id"`
	Username       string `db:"username"`
	Email          string `db:"email"`
	PasswordHash   string `db:"password_hash"`
	TelegramToken  string `db:"telegram_token"`
	TelegramChatID string `db:"telegram_chat_id"`
	CreatedAt      int64  `db:"created_at"`
}

func (r userRow) user() User {
	return User{ID: r.ID, Username: r.Username, Email: r.Email, PasswordHash: r.PasswordHash,
		TelegramToken: r.TelegramToken, TelegramChatID: r.TelegramChatID, CreatedAt: time.Unix(r.CreatedAt, 0)}
}

// CreateUser adds a user, ErrExists if the username is taken
func (s *SQLite) CreateUser(ctx context.Context, u User) (User, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	row := userRow{Username: u.Username, Email: u.Email, PasswordHash: u.PasswordHash,
		TelegramToken: u.TelegramToken, TelegramChatID: u.TelegramChatID, CreatedAt: u.CreatedAt.Unix()}
	res, err := s.db.NamedExecContext(ctx, `INSERT INTO users
		(username, email, password_hash, telegram_token, telegram_chat_id, created_at)
		VALUES (:username, :email, :password_hash, :telegram_token, :telegram_chat_id, :created_at)`, row)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("user %q: %w", u.Username, ErrExists)
		}
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return User{}, fmt.Errorf("failed to get user id: %w", err)
	}
	u.CreatedAt = time.Unix(row.CreatedAt, 0)
	return u, nil
}

// GetUser returns user by id
func (s *SQLite) GetUser(ctx context.Context, id int64) (User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE id = ?`, id); err != nil {
		return User{}, notFound(err, "user %d", id)
	}
	return row.user(), nil
}

// GetUserByName returns user by username
func (s *SQLite) GetUserByName(ctx context.Context, username string) (User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE username = ?`, username); err != nil {
		return User{}, notFound(err, "user %q", username)
	}
	return row.user(), nil
}

// UpdateTelegram sets telegram bot token and chat id of a user
func (s *SQLite) UpdateTelegram(ctx context.Context, userID int64, token, chatID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET telegram_token = ?, telegram_chat_id = ? WHERE id = ?`,
		token, chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to update telegram settings: %w", err)
	}
	return affected(res, "user %d", userID)
}

type presetRow struct {
	ID             int64  `db:"id"`
	UserID         int64  `db:"user_id"`
	Title          string `db:"title"`
	Description    string `db:"description"`
	URL            string `db:"url"`
	Period         string `db:"period"`
	Range          string `db:"chart_range"`
	MovingAverages string `db:"moving_averages"`
	Schedule       string `db:"schedule"`
	CreatedAt      int64  `db:"created_at"`
	UpdatedAt      int64  `db:"updated_at"`
}

func newPresetRow(p Preset) (presetRow, error) {
	mas := p.MovingAverages
	if mas == nil {
		mas = []chart.MovingAverage{}
	}
	data, err := json.Marshal(mas)
	if err != nil {
		return presetRow{}, fmt.Errorf("failed to encode moving averages: %w", err)
	}
	return presetRow{ID: p.ID, UserID: p.UserID, Title: p.Title, Description: p.Description, URL: p.URL,
		Period: p.Period, Range: p.Range, MovingAverages: string(data), Schedule: p.Schedule,
		CreatedAt: p.CreatedAt.Unix(), UpdatedAt: p.UpdatedAt.Unix()}, nil
}

func (r presetRow) preset() Preset {
	p := Preset{ID: r.ID, UserID: r.UserID, Title: r.Title, Description: r.Description, URL: r.URL,
		Period: r.Period, Range: r.Range, Schedule: r.Schedule,
		CreatedAt: time.Unix(r.CreatedAt, 0), UpdatedAt: time.Unix(r.UpdatedAt, 0)}
	if err := json.Unmarshal([]byte(r.MovingAverages), &p.MovingAverages); err != nil {
		log.Printf("[WARN] invalid moving averages in preset %d: %v", r.ID, err)
	}
	return p
}

// CreatePreset stores a new preset and returns it with id and timestamps set
func (s *SQLite) CreatePreset(ctx context.Context, p Preset) (Preset, error) {
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	row, err := newPresetRow(p)
	if err != nil {
		return Preset{}, err
	}
	res, err := s.db.NamedExecContext(ctx, `INSERT INTO presets
		(user_id, title, description, url, period, chart_range, moving_averages, schedule, created_at, updated_at)
		VALUES (:user_id, :title, :description, :url, :period, :chart_range, :moving_averages, :schedule,
		:created_at, :updated_at)`, row)
	if err != nil {
		return Preset{}, fmt.Errorf("failed to create preset: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return Preset{}, fmt.Errorf("failed to get preset id: %w", err)
	}
	return row.withID(p.ID).preset(), nil
}

func (r presetRow) withID(id int64) presetRow {
	r.ID = id
	return r
}

// ListPresets returns presets of a user in creation order
func (s *SQLite) ListPresets(ctx context.Context, userID int64) ([]Preset, error) {
	return s.selectPresets(ctx, `SELECT * FROM presets WHERE user_id = ? ORDER BY id`, userID)
}

// ListScheduledPresets returns presets of all users that have a schedule
func (s *SQLite) ListScheduledPresets(ctx context.Context) ([]Preset, error) {
	return s.selectPresets(ctx, `SELECT * FROM presets WHERE schedule != '' ORDER BY id`)
}

func (s *SQLite) selectPresets(ctx context.Context, query string, args ...any) ([]Preset, error) {
	rows := []presetRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}
	res := make([]Preset, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.preset())
	}
	return res, nil
}

// GetPreset returns a preset owned by userID
func (s *SQLite) GetPreset(ctx context.Context, userID, id int64) (Preset, error) {
	var row presetRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM presets WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return Preset{}, notFound(err, "preset %d", id)
	}
	return row.preset(), nil
}

// UpdatePreset replaces editable fields of a preset owned by p.UserID
func (s *SQLite) UpdatePreset(ctx context.Context, p Preset) (Preset, error) {
	p.UpdatedAt = time.Now()
	row, err := newPresetRow(p)
	if err != nil {
		return Preset{}, err
	}
	res, err := s.db.NamedExecContext(ctx, `UPDATE presets SET title = :title, description = :description,
		url = :url, period = :period, chart_range = :chart_range, moving_averages = :moving_averages,
		schedule = :schedule, updated_at = :updated_at WHERE id = :id AND user_id = :user_id`, row)
	if err != nil {
		return Preset{}, fmt.Errorf("failed to update preset: %w", err)
	}
	if err := affected(res, "preset %d", p.ID); err != nil {
		return Preset{}, err
	}
	return s.GetPreset(ctx, p.UserID, p.ID)
}

// DeletePreset removes a preset owned by userID
func (s *SQLite) DeletePreset(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM presets WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete preset: %w", err)
	}
	return affected(res, "preset %d", id)
}

type jobRow struct {
	JobRecord
	StartedAt  sql.NullInt64 `db:"started_at"`
	FinishedAt sql.NullInt64 `db:"finished_at"`
}

// SaveJob inserts or replaces a job summary
func (s *SQLite) SaveJob(ctx context.Context, rec JobRecord) error {
	row := jobRow{JobRecord: rec}
	if !rec.StartedAt.IsZero() {
		row.StartedAt = sql.NullInt64{Int64: rec.StartedAt.Unix(), Valid: true}
	}
	if !rec.FinishedAt.IsZero() {
		row.FinishedAt = sql.NullInt64{Int64: rec.FinishedAt.Unix(), Valid: true}
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT OR REPLACE INTO job_history
		(id, user_id, url, status, total, processed, charts, error, started_at, finished_at)
		VALUES (:id, :user_id, :url, :status, :total, :processed, :charts, :error, :started_at, :finished_at)`, row)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", rec.ID, err)
	}
	return nil
}

// ListJobs returns up to limit most recent jobs of a user
func (s *SQLite) ListJobs(ctx context.Context, userID int64, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows := []jobRow{}
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM job_history WHERE user_id = ?
		ORDER BY finished_at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	res := make([]JobRecord, 0, len(rows))
	for _, r := range rows {
		rec := r.JobRecord
		if r.StartedAt.Valid {
			rec.StartedAt = time.Unix(r.StartedAt.Int64, 0)
		}
		if r.FinishedAt.Valid {
			rec.FinishedAt = time.Unix(r.FinishedAt.Int64, 0)
		}
		res = append(res, rec)
	}
	return res, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf("failed to load "+format+": %w", append(args, err)...)
}

func affected(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
