package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"crmdash/pkg/bus"
	"crmdash/pkg/crm"
	"crmdash/pkg/session"
	"crmdash/pkg/telemetry"
	"crmdash/services/console"
)

func newLoginCommand(c *cli) *cobra.Command {
	var form crm.LoginForm

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if form.Password == "" {
				pw, err := readPassword(cmd, "Password: ")
				if err != nil {
					return err
				}
				form.Password = pw
			}

			snap, err := c.start(ctx)
			if err != nil {
				return err
			}
			if snap.Status == session.StatusAuthenticated && snap.User != nil {
				return fmt.Errorf("already signed in as %s, run crmctl logout first", snap.User.Email)
			}

			user, err := c.app.SignIn(ctx, form)
			if err != nil {
				return errors.New(crm.LoginFailureMessage(err))
			}
			return c.printProfile(cmd, "signed in as", user)
		},
	}

	cmd.Flags().StringVar(&form.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&form.Password, "password", "", "Account password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newRegisterCommand(c *cli) *cobra.Command {
	var form crm.RegisterForm

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an organisation owner account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if form.ConfirmPassword == "" {
				form.ConfirmPassword = form.Password
			}
			snap, err := c.start(ctx)
			if err != nil {
				return err
			}
			if snap.Status == session.StatusAuthenticated {
				return errors.New("already signed in, run crmctl logout first")
			}

			user, err := c.app.Register(ctx, form)
			if err != nil {
				return errors.New(crm.RegisterFailureMessage(err))
			}
			return c.printProfile(cmd, "registered and signed in as", user)
		},
	}

	cmd.Flags().StringVar(&form.OwnerName, "name", "", "Owner name")
	cmd.Flags().StringVar(&form.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&form.Password, "password", "", "Password, 6 to 20 characters")
	cmd.Flags().StringVar(&form.ConfirmPassword, "confirm-password", "", "Password confirmation (defaults to --password)")
	cmd.Flags().StringVar(&form.OrgName, "org", "", "Organization name")
	return cmd
}

func newLogoutCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.SignOut(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func newWhoamiCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := c.start(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(cmd, snap)
			}
			if snap.User == nil {
				fmt.Fprintln(cmd.OutOrStdout(), snap.Status)
				return nil
			}
			return c.printProfile(cmd, snap.Status.String()+":", *snap.User)
		},
	}
}

func newDashboardCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show KPI tiles, monthly performance and deal outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := c.requireSession(ctx); err != nil {
				return err
			}
			d, err := await(ctx, console.MountView(ctx, c.app, console.ViewDashboard, c.app.FetchDashboard))
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(cmd, d)
			}
			printDashboard(cmd.OutOrStdout(), d)
			return nil
		},
	}
}

func newContactsCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "List and manage contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newContactsListCommand(c))

	cmd.AddCommand(&cobra.Command{
		Use:   "view <id>",
		Short: "Show one contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := c.requireSession(ctx); err != nil {
				return err
			}
			contact, err := c.app.Contact(ctx, args[0])
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(cmd, contact)
			}
			printContacts(cmd.OutOrStdout(), []crm.Contact{contact})
			return nil
		},
	})

	cmd.AddCommand(newContactsAddCommand(c))

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := c.requireSession(ctx); err != nil {
				return err
			}
			if err := c.app.DeleteContact(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func newContactsListCommand(c *cli) *cobra.Command {
	var q crm.ContactQuery

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := q.Validate(); err != nil {
				return err
			}
			if _, err := c.requireSession(ctx); err != nil {
				return err
			}
			contacts, err := await(ctx, console.MountView(ctx, c.app, console.ViewContacts, c.app.FetchContacts))
			if err != nil {
				return err
			}
			if contacts, err = q.Apply(contacts); err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(cmd, contacts)
			}
			printContacts(cmd.OutOrStdout(), contacts)
			return nil
		},
	}

	cmd.Flags().StringVar(&q.Search, "search", "", "Only show contacts matching this text")
	cmd.Flags().StringVar(&q.Sort, "sort", "", "Sort by "+strings.Join(crm.SortColumns(), ", ")+"; prefix with - to reverse")
	cmd.Flags().IntVar(&q.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&q.PageSize, "page-size", 0, "Contacts per page, 0 for all")
	return cmd
}

func newContactsAddCommand(c *cli) *cobra.Command {
	var form crm.ContactForm

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a contact",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := c.requireSession(ctx); err != nil {
				return err
			}
			contact, err := c.app.AddContact(ctx, form)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(cmd, contact)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", contact.Name, contact.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&form.Name, "name", "", "Contact name")
	cmd.Flags().StringVar(&form.Email, "email", "", "Contact email")
	cmd.Flags().StringVar(&form.Phone, "phone", "", "Phone number")
	cmd.Flags().StringVar(&form.Company, "company", "", "Company")
	cmd.Flags().StringVar(&form.Position, "position", "", "Position")
	cmd.Flags().StringVar(&form.Notes, "notes", "", "Notes")
	cmd.Flags().StringVar(&form.Status, "status", crm.ContactStatusLead, "lead, prospect or paid")
	cmd.Flags().StringVar(&form.AssignedTo, "assigned-to", "", "Assignee user id")
	return cmd
}

func newTasksCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "Show the task board",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := c.requireSession(ctx); err != nil {
				return err
			}
			tasks, err := await(ctx, console.MountView(ctx, c.app, console.ViewTasks, c.app.FetchTasks))
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(cmd, tasks)
			}
			printTasks(cmd.OutOrStdout(), tasks)
			return nil
		},
	}
}

func newUsersCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users that contacts and tasks can be assigned to",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := c.requireSession(ctx); err != nil {
				return err
			}
			users, err := await(ctx, console.MountView(ctx, c.app, console.ViewUsers, c.app.FetchAssignees))
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(cmd, users)
			}
			printUsers(cmd.OutOrStdout(), users)
			return nil
		},
	}
}

func newServeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the console HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			shutdown, err := telemetry.Init(ctx, console.ServiceName, c.cfg.OTLPEndpoint)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					c.logger.Error().Err(err).Msg("shutdown otel")
				}
			}()

			go func() {
				if _, err := c.start(ctx); err != nil {
					c.logger.Warn().Err(err).Msg("initial session check")
				}
			}()
			return c.app.Serve(ctx, c.cfg.Addr)
		},
	}
}

func newEventsCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Follow session transitions published on NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.NATSURL == "" {
				return errors.New("NATS_URL is not set")
			}
			b, err := bus.New(c.cfg.NATSURL, c.logger)
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer b.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			sub, err := b.Subscribe(ctx, bus.SubjectSessionTransition, func(_ context.Context, data []byte) error {
				var evt struct {
					From   string    `json:"from"`
					To     string    `json:"to"`
					At     time.Time `json:"at"`
					Source string    `json:"source"`
				}
				if err := json.Unmarshal(data, &evt); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %-8s %s -> %s\n", evt.At.Format(time.RFC3339), evt.Source, evt.From, evt.To)
				return nil
			})
			if err != nil {
				return err
			}
			defer sub.Close()

			<-ctx.Done()
			return nil
		},
	}
}

// readPassword prompts on stderr and reads one line from stdin without
// echoing it when stdin is a terminal.
func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
