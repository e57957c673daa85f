package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/PratikDhanave/email-event-registry/internal/config"
	"github.com/PratikDhanave/email-event-registry/internal/registry"
	"github.com/PratikDhanave/email-event-registry/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	DBDriver string
	DBURL    string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for eventctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "eventctl",
		Short: "eventctl - email open/click event registry",
		Long: `Operate the email event registry directly against its storage.

Connection flags fall back to DB_DRIVER and DB_URL (or DB_CONNECTION_NAME).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DBDriver, "db-driver", "", "storage driver (postgres|sqlite), default $DB_DRIVER")
	cmd.PersistentFlags().StringVar(&opts.DBURL, "db-url", "", "connection descriptor, default $DB_URL")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewLookupCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// logger writes diagnostics to errOut, at debug level when verbose.
func (o *RootOptions) logger(errOut io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
}

// dbConfig resolves the connection from flags first, then the environment.
func (o *RootOptions) dbConfig() (store.DBConfig, error) {
	driver := o.DBDriver
	if driver == "" {
		driver = os.Getenv("DB_DRIVER")
	}
	if driver == "" {
		driver = store.DriverPostgres
	}

	url := o.DBURL
	if url == "" {
		resolved, err := config.ResolveConnection(os.Getenv("DB_CONNECTION_NAME"))
		if err != nil {
			return store.DBConfig{}, err
		}
		url = resolved
	}
	return store.DBConfig{Driver: driver, URL: url, MaxConns: 2}, nil
}

// openBackend connects the configured backend. Callers must Close it.
func (o *RootOptions) openBackend(ctx context.Context, logger *slog.Logger) (store.Backend, error) {
	cfg, err := o.dbConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, cfg, logger)
}

// withRegistry opens the backend, hands a Registry to fn and closes the backend.
func (o *RootOptions) withRegistry(cmd *cobra.Command, fn func(ctx context.Context, reg *registry.Registry) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := o.logger(cmd.ErrOrStderr())

	backend, err := o.openBackend(ctx, logger)
	if err != nil {
		return commandError(err)
	}
	defer backend.Close()

	return fn(ctx, registry.New(backend, registry.WithLogger(logger)))
}
