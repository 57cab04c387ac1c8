package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"crmdash/pkg/session"
	"crmdash/pkg/telemetry"
	"crmdash/pkg/tokenstore"
	"crmdash/pkg/view"
	"crmdash/services/console"
	"crmdash/services/console/internal/config"
)

var errNotSignedIn = errors.New("not signed in, run crmctl login")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

type cli struct {
	envFile   string
	jsonOut   bool
	ephemeral bool

	cfg    config.Config
	logger zerolog.Logger
	app    *console.App
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:           "crmctl",
		Short:         "Command-line client for the CRM dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.teardown()
		},
	}

	cmd.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "Optional dotenv file loaded before the environment is read")
	cmd.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "Print results as JSON")
	cmd.PersistentFlags().BoolVar(&c.ephemeral, "ephemeral", false, "Keep the session token in memory only")

	cmd.AddCommand(newLoginCommand(c))
	cmd.AddCommand(newRegisterCommand(c))
	cmd.AddCommand(newLogoutCommand(c))
	cmd.AddCommand(newWhoamiCommand(c))
	cmd.AddCommand(newDashboardCommand(c))
	cmd.AddCommand(newContactsCommand(c))
	cmd.AddCommand(newTasksCommand(c))
	cmd.AddCommand(newUsersCommand(c))
	cmd.AddCommand(newServeCommand(c))
	cmd.AddCommand(newEventsCommand(c))
	return cmd
}

func (c *cli) setup(cmd *cobra.Command) error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", c.envFile, err)
		}
	}

	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg

	serving := cmd.Name() == "serve"
	c.logger, err = telemetry.NewLogger(cfg.LogLevel, !serving, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	source := "crmctl"
	if serving {
		source = "console"
	}
	var tokens session.TokenStore
	if c.ephemeral {
		tokens = tokenstore.NewMemory("")
	}

	c.app, err = console.New(console.Options{
		Config:         cfg,
		Tokens:         tokens,
		Logger:         c.logger,
		Source:         source,
		RuntimeMetrics: serving,
		OnRedirect: func() {
			if !serving {
				fmt.Fprintln(cmd.ErrOrStderr(), "session expired, run crmctl login")
			}
		},
	})
	return err
}

func (c *cli) teardown() error {
	if c.app == nil {
		return nil
	}
	return c.app.Close()
}

// start verifies any stored token and returns the resulting snapshot.
func (c *cli) start(ctx context.Context) (session.Snapshot, error) {
	snap, err := c.app.Start(ctx)
	if errors.Is(err, session.ErrAlreadyStarted) {
		err = nil
	}
	return snap, err
}

// requireSession starts the app and fails unless the user is signed in.
func (c *cli) requireSession(ctx context.Context) (session.Profile, error) {
	snap, err := c.start(ctx)
	if err != nil {
		return session.Profile{}, err
	}
	if snap.Status != session.StatusAuthenticated || snap.User == nil {
		return session.Profile{}, errNotSignedIn
	}
	return *snap.User, nil
}

// await blocks until a mounted view settles or ctx ends, then unmounts it.
// Backend calls are bounded by CRM_REQUEST_TIMEOUT.
func await[T any](ctx context.Context, g *view.Gate[T]) (T, error) {
	defer g.Unmount()

	var zero T
	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case s, ok := <-g.Updates():
			if !ok {
				return zero, errors.New("view closed")
			}
			switch s.Phase {
			case view.PhaseReady:
				return s.Data, nil
			case view.PhaseError:
				return zero, s.Err
			case view.PhaseRedirect:
				return zero, errNotSignedIn
			}
		}
	}
}
