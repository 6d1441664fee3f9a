package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"medq/internal/bootstrap"
	"medq/internal/modules/chat/dto"
	"medq/internal/platform/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	dataDir    string
	configFile string
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "medq",
		Short:         "Medical question chat sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.dataDir, "data", ".", "data directory (state lives in <data>/.medq)")
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (default <data>/.medq/config.yaml)")
	root.PersistentFlags().BoolVar(&flags.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(newAskCmd(flags))
	root.AddCommand(newSessionCmd(flags))
	root.AddCommand(newSuggestionsCmd(flags))
	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newTUICmd(flags))
	return root
}

func loadApp(flags *globalFlags, logOut io.Writer) (*bootstrap.App, error) {
	cfg, err := config.Load(flags.dataDir, flags.configFile)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(cfg, logOut)
}

// withApp loads the app, runs fn and closes the app afterwards.
func withApp(flags *globalFlags, fn func(app *bootstrap.App) error) error {
	app, err := loadApp(flags, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()
	return fn(app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAskCmd(flags *globalFlags) *cobra.Command {
	var sessionID string
	var deepThink bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question and wait for the answer",
		Long: "Ask a question in the selected session, or the one given by --session.\n" +
			"Interrupting the wait cancels the question.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				out, err := app.ChatCLI.Ask(cmd.Context(), sessionID, strings.Join(args, " "), deepThink, true)
				if err != nil {
					return err
				}
				if flags.jsonOut {
					return printJSON(cmd.OutOrStdout(), out)
				}
				printEntry(cmd.OutOrStdout(), out.Entry)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: selected session, created if none)")
	cmd.Flags().BoolVar(&deepThink, "deep-think", false, "route the question to the deep-think backend")
	return cmd
}

func newSessionCmd(flags *globalFlags) *cobra.Command {
	session := &cobra.Command{Use: "session", Short: "Manage chat sessions"}

	var headline string
	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Start a new session and select it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				out, err := app.ChatCLI.NewSession(cmd.Context(), headline)
				if err != nil {
					return err
				}
				if flags.jsonOut {
					return printJSON(cmd.OutOrStdout(), out)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", out.Title, out.ID)
				return nil
			})
		},
	}
	newCmd.Flags().StringVar(&headline, "headline", "", "session headline (default: first question)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				state, err := app.ChatCLI.State(cmd.Context())
				if err != nil {
					return err
				}
				if flags.jsonOut {
					return printJSON(cmd.OutOrStdout(), state)
				}
				printState(cmd.OutOrStdout(), state)
				return nil
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show a session transcript (default: selected session)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				id := ""
				if len(args) == 1 {
					id = args[0]
				} else {
					state, err := app.ChatCLI.State(cmd.Context())
					if err != nil {
						return err
					}
					id = state.SelectedSessionID
				}
				if id == "" {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no session selected")
					return nil
				}
				out, err := app.ChatCLI.Show(cmd.Context(), id)
				if err != nil {
					return err
				}
				if flags.jsonOut {
					return printJSON(cmd.OutOrStdout(), out)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", out.Title, out.ID)
				for _, entry := range out.Entries {
					_, _ = fmt.Fprintln(cmd.OutOrStdout())
					printEntry(cmd.OutOrStdout(), entry)
				}
				return nil
			})
		},
	}

	selectCmd := &cobra.Command{
		Use:   "select <session-id>",
		Short: "Select a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				state, err := app.ChatCLI.Select(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if flags.jsonOut {
					return printJSON(cmd.OutOrStdout(), state)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "selected %s\n", state.SelectedSessionID)
				return nil
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				state, err := app.ChatCLI.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if flags.jsonOut {
					return printJSON(cmd.OutOrStdout(), state)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s, %d sessions left\n", args[0], len(state.Sessions))
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				if _, err := app.ChatCLI.Clear(cmd.Context()); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "cleared all sessions")
				return nil
			})
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export [session-id]",
		Short: "Write a session transcript as a markdown note",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				id := ""
				if len(args) == 1 {
					id = args[0]
				}
				out, err := app.ChatCLI.Export(cmd.Context(), id)
				if err != nil {
					return err
				}
				if flags.jsonOut {
					return printJSON(cmd.OutOrStdout(), out)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported %s to %s\n", out.SessionID, out.Path)
				return nil
			})
		},
	}

	session.AddCommand(newCmd, listCmd, showCmd, selectCmd, deleteCmd, clearCmd, exportCmd)
	return session
}

func newSuggestionsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "suggestions",
		Short: "List starter questions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				suggestions := app.ChatCLI.Suggestions(cmd.Context())
				if flags.jsonOut {
					return printJSON(cmd.OutOrStdout(), suggestions)
				}
				for _, s := range suggestions {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), s)
				}
				return nil
			})
		},
	}
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(flags, func(app *bootstrap.App) error {
				addr := address
				if addr == "" {
					addr = app.Config.Server.Address
				}
				return bootstrap.Serve(cmd.Context(), app, addr)
			})
		},
	}
	cmd.Flags().StringVar(&address, "addr", "", "listen address (default from config)")
	return cmd
}

func newTUICmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Run the medq terminal UI",
		RunE: func(_ *cobra.Command, _ []string) error {
			// The alternate screen owns the terminal, so logs go to a file.
			logPath := filepath.Join(flags.dataDir, ".medq", "tui.log")
			if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
				return err
			}
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("open tui log: %w", err)
			}
			defer func() { _ = logFile.Close() }()

			app, err := loadApp(flags, logFile)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			return bootstrap.RunTUI(app)
		},
	}
}

func printState(w io.Writer, state dto.StateOutput) {
	if len(state.Sessions) == 0 {
		_, _ = fmt.Fprintln(w, "no sessions")
		return
	}
	for _, s := range state.Sessions {
		marker := " "
		if s.ID == state.SelectedSessionID {
			marker = "*"
		}
		pending := ""
		if s.Pending {
			pending = " (waiting)"
		}
		_, _ = fmt.Fprintf(w, "%s %s  %s  %d questions%s\n", marker, s.ID, s.Title, len(s.Entries), pending)
	}
}

func printEntry(w io.Writer, entry dto.EntryOutput) {
	_, _ = fmt.Fprintf(w, "Q: %s\n", entry.Question)
	switch entry.Status {
	case "pending":
		_, _ = fmt.Fprintf(w, "   pending (%s)\n", entry.ID)
	case "error":
		_, _ = fmt.Fprintf(w, "!  %s\n", entry.Error)
	default:
		_, _ = fmt.Fprintf(w, "A: %s\n", entry.Answer)
	}
	for _, f := range entry.Followups {
		_, _ = fmt.Fprintf(w, "   → %s\n", f)
	}
}
