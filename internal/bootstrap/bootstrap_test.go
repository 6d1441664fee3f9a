package bootstrap_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"medq/internal/bootstrap"
	"medq/internal/platform/config"
)

func testConfig(dir, driver string) config.Config {
	return config.Config{
		DataDir: dir,
		Store: config.StoreConfig{
			Driver:     driver,
			SQLitePath: filepath.Join(dir, ".medq", "medq.db"),
		},
		Log:         config.LogConfig{Level: "info", Format: "text"},
		Suggestions: []string{"What causes Crohn's?"},
	}
}

func TestSessionsSurviveRestart(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{config.StoreFile, config.StoreSQLite} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t.TempDir(), driver)
			ctx := context.Background()

			app, err := bootstrap.New(cfg, io.Discard)
			if err != nil {
				t.Fatalf("new app: %v", err)
			}
			created, err := app.ChatCLI.NewSession(ctx, "Hepatology")
			if err != nil {
				t.Fatalf("new session: %v", err)
			}
			if err := app.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			reopened, err := bootstrap.New(cfg, io.Discard)
			if err != nil {
				t.Fatalf("reopen app: %v", err)
			}
			t.Cleanup(func() { _ = reopened.Close() })
			state, err := reopened.ChatCLI.State(ctx)
			if err != nil {
				t.Fatalf("state: %v", err)
			}
			if state.SelectedSessionID != created.ID || len(state.Sessions) != 1 || state.Sessions[0].Headline != "Hepatology" {
				t.Fatalf("state not restored: %+v", state)
			}
			if got := reopened.ChatCLI.Suggestions(ctx); len(got) != 1 {
				t.Fatalf("unexpected suggestions %v", got)
			}
		})
	}
}

func TestAskWithoutBackendResolvesToError(t *testing.T) {
	t.Parallel()
	app, err := bootstrap.New(testConfig(t.TempDir(), config.StoreFile), io.Discard)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	out, err := app.ChatCLI.Ask(context.Background(), "", "What is GERD?", false, true)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if out.Entry.Status != "error" || out.Entry.Error == "" {
		t.Fatalf("expected error entry without a backend, got %+v", out.Entry)
	}
}
