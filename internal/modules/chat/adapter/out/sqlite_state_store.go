package out

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"medq/internal/modules/chat/domain"
	chatout "medq/internal/modules/chat/port/out"

	_ "modernc.org/sqlite"
)

const sqliteTime = time.RFC3339Nano

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  position INTEGER NOT NULL,
  headline TEXT NOT NULL,
  created_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS qa_entries (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
  position INTEGER NOT NULL,
  question TEXT NOT NULL,
  status TEXT NOT NULL,
  answer_text TEXT NOT NULL,
  followups TEXT NOT NULL,
  deep_think INTEGER NOT NULL,
  asked_at TEXT NOT NULL,
  answered_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS qa_entries_session ON qa_entries(session_id, position)`,
	`CREATE TABLE IF NOT EXISTS kv (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
)`,
}

type SQLiteStateStore struct {
	db *sql.DB
}

func NewSQLiteStateStore(dbPath string) (chatout.StateStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	store := &SQLiteStateStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStateStore) ensureSchema(ctx context.Context) error {
	for _, ddl := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStateStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStateStore) Load(ctx context.Context) (domain.SessionsState, error) {
	state := domain.SessionsState{Sessions: []domain.Session{}}

	rows, err := s.db.QueryContext(ctx, `SELECT id, headline, created_at FROM sessions ORDER BY position`)
	if err != nil {
		return domain.SessionsState{}, fmt.Errorf("query sessions: %w", err)
	}
	index := map[string]int{}
	for rows.Next() {
		var id, headline, createdAt string
		if err := rows.Scan(&id, &headline, &createdAt); err != nil {
			rows.Close()
			return domain.SessionsState{}, fmt.Errorf("scan session: %w", err)
		}
		created, err := parseSQLiteTime(createdAt)
		if err != nil {
			rows.Close()
			return domain.SessionsState{}, fmt.Errorf("session %s created_at: %w", id, err)
		}
		index[id] = len(state.Sessions)
		state.Sessions = append(state.Sessions, domain.Session{
			ID:        id,
			Headline:  headline,
			CreatedAt: created,
			QAHistory: []domain.QAEntry{},
		})
	}
	if err := closeRows(rows); err != nil {
		return domain.SessionsState{}, fmt.Errorf("read sessions: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
SELECT id, session_id, question, status, answer_text, followups, deep_think, asked_at, answered_at
FROM qa_entries
ORDER BY session_id, position`)
	if err != nil {
		return domain.SessionsState{}, fmt.Errorf("query entries: %w", err)
	}
	for rows.Next() {
		var (
			entry                         domain.QAEntry
			sessionID, status, text       string
			followups, askedAt, answeredAt string
			deepThink                     int
		)
		if err := rows.Scan(&entry.ID, &sessionID, &entry.Question, &status, &text, &followups, &deepThink, &askedAt, &answeredAt); err != nil {
			rows.Close()
			return domain.SessionsState{}, fmt.Errorf("scan entry: %w", err)
		}
		idx, ok := index[sessionID]
		if !ok {
			continue
		}
		entry.Answer = domain.Answer{Status: domain.AnswerStatus(status), Text: text}
		entry.DeepThink = deepThink != 0
		entry.Followups = []string{}
		if err := json.Unmarshal([]byte(followups), &entry.Followups); err != nil {
			rows.Close()
			return domain.SessionsState{}, fmt.Errorf("entry %s followups: %w", entry.ID, err)
		}
		if entry.AskedAt, err = parseSQLiteTime(askedAt); err != nil {
			rows.Close()
			return domain.SessionsState{}, fmt.Errorf("entry %s asked_at: %w", entry.ID, err)
		}
		if entry.AnsweredAt, err = parseSQLiteTime(answeredAt); err != nil {
			rows.Close()
			return domain.SessionsState{}, fmt.Errorf("entry %s answered_at: %w", entry.ID, err)
		}
		state.Sessions[idx].QAHistory = append(state.Sessions[idx].QAHistory, entry)
	}
	if err := closeRows(rows); err != nil {
		return domain.SessionsState{}, fmt.Errorf("read entries: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, selectedKey).Scan(&state.SelectedSessionID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.SessionsState{}, fmt.Errorf("read selected session: %w", err)
	}
	return state, nil
}

// Save replaces the stored state in a single transaction.
func (s *SQLiteStateStore) Save(ctx context.Context, state domain.SessionsState) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM qa_entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, selectedKey); err != nil {
		return fmt.Errorf("clear selected session: %w", err)
	}

	for pos, session := range state.Sessions {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (id, position, headline, created_at) VALUES (?, ?, ?, ?)`,
			session.ID, pos, session.Headline, formatSQLiteTime(session.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert session %s: %w", session.ID, err)
		}
		for entryPos, entry := range session.QAHistory {
			followups := entry.Followups
			if followups == nil {
				followups = []string{}
			}
			var encoded []byte
			if encoded, err = json.Marshal(followups); err != nil {
				return fmt.Errorf("encode followups: %w", err)
			}
			deepThink := 0
			if entry.DeepThink {
				deepThink = 1
			}
			_, err = tx.ExecContext(ctx, `
INSERT INTO qa_entries (id, session_id, position, question, status, answer_text, followups, deep_think, asked_at, answered_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				entry.ID, session.ID, entryPos, entry.Question,
				string(entry.Answer.Status), entry.Answer.Text, string(encoded), deepThink,
				formatSQLiteTime(entry.AskedAt), formatSQLiteTime(entry.AnsweredAt),
			)
			if err != nil {
				return fmt.Errorf("insert entry %s: %w", entry.ID, err)
			}
		}
	}

	if state.SelectedSessionID != "" {
		if _, err = tx.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?)`, selectedKey, state.SelectedSessionID); err != nil {
			return fmt.Errorf("write selected session: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}

func formatSQLiteTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(sqliteTime)
}

func parseSQLiteTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(sqliteTime, v)
}
