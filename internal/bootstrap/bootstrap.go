package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/redis/go-redis/v9"

	chatinadapter "medq/internal/modules/chat/adapter/in"
	chatoutadapter "medq/internal/modules/chat/adapter/out"
	chatin "medq/internal/modules/chat/port/in"
	chatout "medq/internal/modules/chat/port/out"
	"medq/internal/modules/chat/service"
	"medq/internal/modules/chat/usecase"
	"medq/internal/platform/clock"
	"medq/internal/platform/config"
	"medq/internal/platform/id"
	"medq/internal/platform/logging"
	"medq/internal/platform/metrics"
	uiapp "medq/internal/ui/app"
)

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Manager *service.Manager
	ChatCLI chatinadapter.CLIHandler
	ChatAPI chatinadapter.HTTPHandler

	usecase chatin.Usecase
	store   chatout.StateStore
}

// New wires the application. Logs go to logOut.
func New(cfg config.Config, logOut io.Writer) (*App, error) {
	logger, err := logging.New(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("new logger: %w", err)
	}
	m := metrics.New()

	store, err := newStateStore(cfg)
	if err != nil {
		return nil, err
	}

	fetcher := chatoutadapter.NewHTTPAnswerFetcher(cfg.Backend, &http.Client{})
	manager := service.NewManager(clock.SystemClock{}, id.TimeOrdered{}, store, fetcher, logger, m)
	if err := manager.Load(context.Background()); err != nil {
		logger.Warn("starting with empty chat history", "err", err)
	}

	uc := usecase.NewInteractor(manager, chatoutadapter.NewMarkdownTranscriptExporter(cfg.DataDir), cfg.Suggestions)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Manager: manager,
		ChatCLI: chatinadapter.NewCLIHandler(uc),
		ChatAPI: chatinadapter.NewHTTPHandler(uc, m.Handler(), logger),
		usecase: uc,
		store:   store,
	}, nil
}

func newStateStore(cfg config.Config) (chatout.StateStore, error) {
	switch cfg.Store.Driver {
	case config.StoreSQLite:
		store, err := chatoutadapter.NewSQLiteStateStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("new sqlite store: %w", err)
		}
		return store, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return chatoutadapter.NewRedisStateStore(client, cfg.Redis.Prefix), nil
	default:
		return chatoutadapter.NewFileStateStore(cfg.StateDir()), nil
	}
}

// Close stops outstanding fetches and releases the store.
func (a *App) Close() error {
	a.Manager.Close()
	if closer, ok := a.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Serve runs the HTTP API until ctx is done or SIGINT/SIGTERM arrives.
func Serve(ctx context.Context, app *App, address string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := app.ChatAPI.Echo()
	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info("serving chat api", "address", address)
		if err := e.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	app.Logger.Info("chat api stopped")
	return nil
}

func RunTUI(app *App) error {
	// The observer only signals; the model re-reads state on its own
	// goroutine.
	changes := make(chan struct{}, 1)
	unsubscribe := app.Manager.Subscribe(func(service.Event) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	model := uiapp.NewModel(app.usecase, changes)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err := program.Run()
	return err
}
