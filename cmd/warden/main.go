// Command warden runs the session and account-lifecycle server and its
// maintenance commands.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/app"
	"warden/cmd/internal/auth/login"
	"warden/cmd/security/password"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load(".env")     // base
	_ = godotenv.Load(".env.dev") // dev overrides; Load never overwrites set vars

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "warden",
		Short:        "Session and account-lifecycle server",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newSweepCmd(), newHashPasswordCmd(), newCreateUserCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the retention sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.LoadConfig()
			log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				log.Error("app.init.fail", "err", err)
				return err
			}
			return a.Run(ctx)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded Postgres schema to WARDEN_DATABASE_URL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.LoadConfig()
			if cfg.DatabaseURL == "" {
				return errors.New("WARDEN_DATABASE_URL is required")
			}
			cfg.AutoMigrate = true

			pool, err := app.NewDBPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			pool.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema %q up to date\n", cfg.DBSchema)
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Anonymize accounts soft-deleted more than --days ago, once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.LoadConfig()
			if !cmd.Flags().Changed("days") {
				days = cfg.RetentionDays
			}
			a, err := app.New(cmd.Context(), cfg, app.NewLogger(cfg.LogLevel, cfg.LogFormat))
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.SweepOnce(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "anonymized %d account(s)\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "retention window in days (default WARDEN_RETENTION_DAYS)")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its hash",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			pcfg, err := password.FromEnv()
			if err != nil {
				return err
			}
			h, err := password.New(pcfg)
			if err != nil {
				return err
			}
			hash, err := h.Hash(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newCreateUserCmd() *cobra.Command {
	var (
		username    string
		email       string
		displayName string
		role        string
		mustReset   bool
		invite      bool
	)
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Provision an account; the password is read from stdin unless --invite",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := identity.ParseRole(role)
			if err != nil {
				return err
			}

			in := login.NewUser{
				Username:          username,
				Role:              r,
				MustResetPassword: mustReset || invite,
			}
			if email != "" {
				in.Email = &email
			}
			if displayName != "" {
				in.DisplayName = &displayName
			}
			if !invite {
				if in.Password, err = readSecret(cmd.InOrStdin()); err != nil {
					return err
				}
			}

			cfg := app.LoadConfig()
			a, err := app.New(cmd.Context(), cfg, app.NewLogger(cfg.LogLevel, cfg.LogFormat))
			if err != nil {
				return err
			}
			defer a.Close()

			now := time.Now().UTC()
			u, err := a.Auth().Provision(cmd.Context(), now, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", u.Username, u.ID)

			if invite {
				secret, err := a.Auth().Invite(cmd.Context(), now, u.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "invite token: %s\n", secret)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name (required)")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(identity.RoleUser), "admin|editor|user")
	cmd.Flags().BoolVar(&mustReset, "must-reset", false, "force a password change at first login")
	cmd.Flags().BoolVar(&invite, "invite", false, "skip the password and print an invite token")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

// readSecret reads the first line of r without its line ending.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}
