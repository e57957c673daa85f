package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "migrate",
		Short:         "Create the event tables if they do not exist",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd)
		},
	}
}

func runMigrate(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := opts.dbConfig()
	if err != nil {
		return commandError(err)
	}

	backend, err := opts.openBackend(ctx, opts.logger(cmd.ErrOrStderr()))
	if err != nil {
		return commandError(err)
	}
	defer backend.Close()

	if err := backend.EnsureSchema(ctx); err != nil {
		return commandError(err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(map[string]string{"driver": cfg.Driver}, "schema up to date ("+cfg.Driver+")")
}
