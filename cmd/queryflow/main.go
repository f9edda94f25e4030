// Command queryflow serves the rate-limited query playground and runs
// catalog queries from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"queryflow/internal/app"
	"queryflow/internal/config"
	"queryflow/internal/export"
	"queryflow/internal/render"
	"queryflow/internal/router"
	"queryflow/internal/session"
	"queryflow/pkg/types"
)

// Version is set at build time.
var Version = "dev"

type configKey struct{}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:     "queryflow",
		Short:   "Rate-limited query playground",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := config.LoadConfigWithPrecedence(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./queryflow.yaml)")
	flags.String("host", "", "HTTP listen host")
	flags.Int("port", 0, "HTTP listen port")
	flags.String("database", "", "path to the SQLite catalog database")
	flags.Int("rate-limit", 0, "queries allowed per session per window")
	flags.String("policy", "", "fallback for unmatched queries (strict|generic)")
	flags.Duration("latency", 0, "simulated query latency")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.String("log-format", "", "log format (text|json)")

	_ = root.RegisterFlagCompletionFunc("policy", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{string(router.PolicyStrict), string(router.PolicyGeneric)}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(newServeCmd(), newQueryCmd(), newTablesCmd())
	return root
}

func configFrom(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	return config.DefaultConfig()
}

func loggerFor(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	return cfg.Log.NewLogger(cmd.ErrOrStderr())
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			logger, err := loggerFor(cmd, cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.NewApplication(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}

			logger.Info("starting queryflow",
				"addr", application.GetAddr(),
				"rate_limit", cfg.Limiter.Limit,
				"policy", cfg.Query.Policy)
			if err := application.Run(ctx); err != nil {
				return err
			}
			logger.Info("queryflow stopped")
			return nil
		},
	}
}

func newQueryCmd() *cobra.Command {
	var (
		output      string
		showHistory bool
	)

	cmd := &cobra.Command{
		Use:   "query <text>...",
		Short: "Run queries against the catalog",
		Long: `Runs each argument as a separate query in one session, so the
session's rate limit and history apply across the arguments.`,
		Example: `  queryflow query "SELECT * FROM employees;"
  queryflow query -o csv "select * from orders" > orders.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			write, err := resultWriter(output)
			if err != nil {
				return err
			}
			cfg := configFrom(cmd)
			logger, err := loggerFor(cmd, cfg)
			if err != nil {
				return err
			}

			db, qr, err := app.OpenCatalog(cmd.Context(), cfg.Database, cfg.Query.Policy, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			mgr := session.NewManager(qr, nil, app.SessionConfig(cfg), logger)
			defer mgr.Close()
			sess, err := mgr.CreateSession(cmd.Context())
			if err != nil {
				return err
			}

			var failures []error
			for _, text := range args {
				res, err := sess.Submit(cmd.Context(), text)
				switch {
				case err != nil:
					failures = append(failures, fmt.Errorf("%q: %w", text, err))
					continue
				case !res.OK():
					failures = append(failures, fmt.Errorf("%q: %s", text, res.Record.Text))
					continue
				}
				if err := write(cmd.OutOrStdout(), res.Record); err != nil {
					return err
				}
			}

			if showHistory {
				fmt.Fprintln(cmd.ErrOrStderr(), "History:")
				for _, rec := range sess.History("") {
					fmt.Fprintf(cmd.ErrOrStderr(), "  [%d] %s\n", rec.ID, rec.Text)
				}
			}
			return errors.Join(failures...)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table|json|csv)")
	cmd.Flags().BoolVar(&showHistory, "history", false, "print the session history to stderr")
	return cmd
}

func resultWriter(format string) (func(io.Writer, types.QueryRecord) error, error) {
	switch strings.ToLower(format) {
	case "", "table":
		return render.Table, nil
	case "json":
		return render.JSON, nil
	case "csv":
		return export.WriteCSV, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the predefined catalog queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			logger, err := loggerFor(cmd, cfg)
			if err != nil {
				return err
			}
			db, qr, err := app.OpenCatalog(cmd.Context(), cfg.Database, cfg.Query.Policy, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			render.Catalog(cmd.OutOrStdout(), qr.Catalog().Queries())
			return nil
		},
	}
}
