// Package store is the sqlite-backed memory store: chat history, turn
// interactions, user profiles and scheduled tasks.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type HistoryStore struct {
	DB *sql.DB
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; concurrent turns queue here instead of
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			role TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			task_description TEXT,
			interval_seconds INTEGER,
			last_run DATETIME,
			status TEXT DEFAULT 'active'
		);`,
		`CREATE TABLE IF NOT EXISTS interactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			input TEXT,
			response TEXT,
			summary TEXT,
			success INTEGER,
			capabilities TEXT,
			tools TEXT,
			created_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_id);`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id TEXT PRIMARY KEY,
			interactions INTEGER DEFAULT 0,
			successes INTEGER DEFAULT 0,
			first_seen INTEGER,
			last_seen INTEGER
		);`,
	}
	for _, q := range queries {
		_, err = db.Exec(q)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &HistoryStore{DB: db}, nil
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}

func (h *HistoryStore) AddMessage(ctx context.Context, chatID string, role string, content string) error {
	query := `INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`
	_, err := h.DB.ExecContext(ctx, query, chatID, role, content)
	return err
}

// GetHistory returns the last limit messages of a chat, oldest first.
func (h *HistoryStore) GetHistory(chatID string, limit int) ([]Message, error) {
	query := `SELECT role, content FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := h.DB.Query(query, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, err
		}
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// Store records a finished turn and updates the user's profile.
func (h *HistoryStore) Store(ctx context.Context, in Interaction) error {
	if in.UserID == "" {
		return errors.New("interaction has no user id")
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}
	ts := in.Timestamp.Unix()
	success := 0
	if in.Success {
		success = 1
	}

	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO interactions (user_id, input, response, summary, success, capabilities, tools, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.UserID, in.Input, in.Response, in.Summary, success,
		strings.Join(in.Capabilities, ","), strings.Join(in.Tools, ","), ts)
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (user_id, interactions, successes, first_seen, last_seen)
		 VALUES (?, 1, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			interactions = interactions + 1,
			successes = successes + excluded.successes,
			last_seen = excluded.last_seen`,
		in.UserID, success, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return tx.Commit()
}

// Retrieve returns up to limit past exchanges of userID that share words
// with the queries. Exchanges matching more distinct words rank first, then
// newer ones. With no usable query words the most recent exchanges are
// returned.
func (h *HistoryStore) Retrieve(ctx context.Context, userID string, queries []string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	terms := searchTerms(queries)

	var (
		q    string
		args []any
	)
	if len(terms) == 0 {
		q = `SELECT input, response FROM interactions WHERE user_id = ? ORDER BY id DESC LIMIT ?`
		args = []any{userID, limit}
	} else {
		score := make([]string, 0, len(terms))
		for _, t := range terms {
			score = append(score, `(CASE WHEN lower(input) LIKE ? OR lower(summary) LIKE ? THEN 1 ELSE 0 END)`)
			like := "%" + t + "%"
			args = append(args, like, like)
		}
		q = `SELECT input, response FROM (
			SELECT id, input, response, ` + strings.Join(score, " + ") + ` AS score
			FROM interactions WHERE user_id = ?
		) WHERE score > 0 ORDER BY score DESC, id DESC LIMIT ?`
		args = append(args, userID, limit)
	}

	rows, err := h.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var input, response string
		if err := rows.Scan(&input, &response); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("User: %s | Assistant: %s", input, response))
	}
	return out, rows.Err()
}

// stopwords carry no topic and would match almost every exchange.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the and you your yours for are was were with this that these those
		from have has had not but what when where which who whom why how can could would should
		will shall about tell give show please into onto over under than then them they their there
		here its it's our ours she her his him all any some just also very more most much many
		does did done doing been being get got let make like want need know say said one out now
		yes okay thanks thank hello hey`) {
		stopwords[w] = struct{}{}
	}
}

// searchTerms lowercases the queries and keeps words of three or more
// characters that are not stopwords, without duplicates.
func searchTerms(queries []string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, q := range queries {
		for _, w := range strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
			return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'' || r > 127)
		}) {
			w = strings.Trim(w, "'")
			if len(w) < 3 {
				continue
			}
			if _, ok := stopwords[w]; ok {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			terms = append(terms, w)
		}
	}
	return terms
}

// GetProfile returns the profile for userID. Unknown users get a zero
// profile.
func (h *HistoryStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	p := Profile{UserID: userID}
	var first, last int64
	err := h.DB.QueryRowContext(ctx,
		`SELECT interactions, successes, first_seen, last_seen FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.Interactions, &p.Successes, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return p, err
	}
	p.FirstSeen = time.Unix(first, 0)
	p.LastSeen = time.Unix(last, 0)
	return p, nil
}

func (h *HistoryStore) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := h.DB.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM messages),
		(SELECT COUNT(*) FROM interactions),
		(SELECT COUNT(*) FROM profiles),
		(SELECT COUNT(*) FROM tasks WHERE status = 'active')`).
		Scan(&s.Messages, &s.Interactions, &s.Users, &s.ActiveTasks)
	return s, err
}

func (h *HistoryStore) AddTask(chatID string, description string, intervalSeconds int) error {
	query := `INSERT INTO tasks (chat_id, task_description, interval_seconds, last_run) VALUES (?, ?, ?, datetime('now', '-365 days'))`
	_, err := h.DB.Exec(query, chatID, description, intervalSeconds)
	return err
}

// GetPendingTasks returns active tasks whose interval has elapsed.
func (h *HistoryStore) GetPendingTasks() ([]Task, error) {
	return h.queryTasks(`
		SELECT id, chat_id, task_description, interval_seconds
		FROM tasks
		WHERE status = 'active'
		AND (last_run IS NULL OR (julianday('now') - julianday(last_run)) * 86400 >= interval_seconds)
		ORDER BY id`)
}

func (h *HistoryStore) ListTasks(chatID string) ([]Task, error) {
	return h.queryTasks(`
		SELECT id, chat_id, task_description, interval_seconds
		FROM tasks
		WHERE status = 'active' AND chat_id = ?
		ORDER BY id`, chatID)
}

func (h *HistoryStore) queryTasks(query string, args ...any) ([]Task, error) {
	rows, err := h.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Description, &t.IntervalSeconds); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (h *HistoryStore) UpdateTaskLastRun(id int) error {
	query := `UPDATE tasks SET last_run = datetime('now') WHERE id = ?`
	_, err := h.DB.Exec(query, id)
	return err
}

func (h *HistoryStore) DeleteTask(chatID string, taskID int) error {
	query := `DELETE FROM tasks WHERE chat_id = ? AND id = ?`
	_, err := h.DB.Exec(query, chatID, taskID)
	return err
}

func (h *HistoryStore) ClearTasks(chatID string) error {
	query := `DELETE FROM tasks WHERE chat_id = ?`
	_, err := h.DB.Exec(query, chatID)
	return err
}
