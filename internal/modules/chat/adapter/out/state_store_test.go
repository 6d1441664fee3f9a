package out_test

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	chatadapter "medq/internal/modules/chat/adapter/out"
	"medq/internal/modules/chat/domain"
	chatout "medq/internal/modules/chat/port/out"
)

func sampleState() domain.SessionsState {
	asked := time.Date(2026, 3, 2, 8, 30, 0, 123000000, time.UTC)
	return domain.SessionsState{
		SelectedSessionID: "s-2",
		Sessions: []domain.Session{
			{
				ID:        "s-2",
				Headline:  "What causes Crohn's?",
				CreatedAt: asked,
				QAHistory: []domain.QAEntry{
					{
						ID:         "e-1",
						Question:   "What causes Crohn's?",
						Answer:     domain.TextAnswer("Genetics and environment."),
						Followups:  []string{"Is it hereditary?", "What are the symptoms?"},
						AskedAt:    asked,
						AnsweredAt: asked.Add(3 * time.Second),
					},
					{
						ID:         "e-2",
						Question:   "Is it hereditary?",
						Answer:     domain.ErrorAnswer("server error: 502"),
						Followups:  []string{},
						DeepThink:  true,
						AskedAt:    asked.Add(time.Minute),
						AnsweredAt: asked.Add(time.Minute + time.Second),
					},
				},
			},
			{
				ID:        "s-1",
				Headline:  "",
				CreatedAt: asked.Add(-time.Hour),
				QAHistory: []domain.QAEntry{},
			},
		},
	}
}

func storeRoundTrip(t *testing.T, store chatout.StateStore) {
	t.Helper()
	ctx := context.Background()

	empty, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load empty store: %v", err)
	}
	if empty.Sessions == nil || len(empty.Sessions) != 0 || empty.SelectedSessionID != "" {
		t.Fatalf("expected empty state, got %+v", empty)
	}

	want := sampleState()
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch\n got: %+v\nwant: %+v", got, want)
	}

	cleared := domain.SessionsState{Sessions: []domain.Session{}}
	if err := store.Save(ctx, cleared); err != nil {
		t.Fatalf("save cleared: %v", err)
	}
	got, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("load cleared: %v", err)
	}
	if !reflect.DeepEqual(got, cleared) {
		t.Fatalf("expected cleared state, got %+v", got)
	}
}

func TestFileStateStoreRoundTrip(t *testing.T) {
	t.Parallel()
	storeRoundTrip(t, chatadapter.NewFileStateStore(filepath.Join(t.TempDir(), ".medq")))
}

func TestFileStateStoreUsesFixedKeys(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store := chatadapter.NewFileStateStore(dir)
	if err := store.Save(context.Background(), sampleState()); err != nil {
		t.Fatalf("save: %v", err)
	}
	selected, err := os.ReadFile(filepath.Join(dir, "selectedSessionId"))
	if err != nil {
		t.Fatalf("read selected key: %v", err)
	}
	if string(selected) != "s-2" {
		t.Fatalf("unexpected selected id %q", selected)
	}
	if _, err := os.Stat(filepath.Join(dir, "chatSessions.json")); err != nil {
		t.Fatalf("sessions file missing: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("temp files must not be left behind, found %d entries", len(entries))
	}

	if err := store.Save(context.Background(), domain.SessionsState{Sessions: []domain.Session{}}); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "selectedSessionId")); !os.IsNotExist(err) {
		t.Fatalf("selected key must be removed with an empty selection, err=%v", err)
	}
}

func TestFileStateStoreRejectsCorruptFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "chatSessions.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	if _, err := chatadapter.NewFileStateStore(dir).Load(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestSQLiteStateStoreRoundTrip(t *testing.T) {
	t.Parallel()
	store, err := chatadapter.NewSQLiteStateStore(filepath.Join(t.TempDir(), "state", "medq.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.(interface{ Close() error }).Close() })
	storeRoundTrip(t, store)
}

func TestSQLiteStateStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "medq.db")
	first, err := chatadapter.NewSQLiteStateStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Save(context.Background(), sampleState()); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = first.(interface{ Close() error }).Close()

	second, err := chatadapter.NewSQLiteStateStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.(interface{ Close() error }).Close()
	got, err := second.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, sampleState()) {
		t.Fatalf("state lost across reopen: %+v", got)
	}
}
