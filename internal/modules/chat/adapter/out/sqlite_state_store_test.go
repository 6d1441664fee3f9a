package out

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"medq/internal/modules/chat/domain"
)

func TestSQLiteSaveRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := &SQLiteStateStore{db: db}

	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	state := domain.SessionsState{
		SelectedSessionID: "s-1",
		Sessions:          []domain.Session{{ID: "s-1", Headline: "Q", CreatedAt: at, QAHistory: []domain.QAEntry{}}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM qa_entries`)).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sessions`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM kv WHERE key = ?`)).
		WithArgs(selectedKey).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sessions (id, position, headline, created_at) VALUES (?, ?, ?, ?)`)).
		WithArgs("s-1", 0, "Q", at.Format(sqliteTime)).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = store.Save(context.Background(), state)
	if err == nil || !strings.Contains(err.Error(), "insert session s-1") {
		t.Fatalf("expected insert failure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLiteSaveCommitsFullState(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := &SQLiteStateStore{db: db}

	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	state := domain.SessionsState{
		SelectedSessionID: "s-1",
		Sessions: []domain.Session{{
			ID:        "s-1",
			Headline:  "Q",
			CreatedAt: at,
			QAHistory: []domain.QAEntry{{ID: "e-1", Question: "Q", Answer: domain.TextAnswer("A"), Followups: []string{"F"}, DeepThink: true, AskedAt: at}},
		}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM qa_entries`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sessions`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM kv WHERE key = ?`)).WithArgs(selectedKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sessions`)).
		WithArgs("s-1", 0, "Q", at.Format(sqliteTime)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO qa_entries`)).
		WithArgs("e-1", "s-1", 0, "Q", "text", "A", `["F"]`, 1, at.Format(sqliteTime), "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO kv (key, value) VALUES (?, ?)`)).
		WithArgs(selectedKey, "s-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLiteLoadSurfacesQueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := &SQLiteStateStore{db: db}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, headline, created_at FROM sessions ORDER BY position`)).
		WillReturnError(errors.New("database is locked"))

	if _, err := store.Load(context.Background()); err == nil || !strings.Contains(err.Error(), "query sessions") {
		t.Fatalf("expected query failure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLiteLoadSkipsOrphanEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	store := &SQLiteStateStore{db: db}
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC).Format(sqliteTime)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, headline, created_at FROM sessions`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "headline", "created_at"}).AddRow("s-1", "Q", at))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM qa_entries`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "question", "status", "answer_text", "followups", "deep_think", "asked_at", "answered_at"}).
			AddRow("e-1", "s-1", "Q", "text", "A", `["F"]`, 0, at, at).
			AddRow("e-9", "gone", "Q", "text", "A", `[]`, 0, at, ""))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM kv WHERE key = ?`)).
		WithArgs(selectedKey).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(state.Sessions) != 1 || len(state.Sessions[0].QAHistory) != 1 || state.Sessions[0].QAHistory[0].ID != "e-1" {
		t.Fatalf("unexpected state %+v", state)
	}
	if state.SelectedSessionID != "" {
		t.Fatalf("expected no selection, got %q", state.SelectedSessionID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
