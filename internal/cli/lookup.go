package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/PratikDhanave/email-event-registry/internal/registry"
)

// LookupOptions holds flags for the lookup subcommands.
type LookupOptions struct {
	*RootOptions
	keyFlags
}

// NewLookupCommand creates the lookup command and its open/click children.
// A key with no registration exits with ExitFailure.
func NewLookupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Show when an open or click was last registered",
	}
	cmd.AddCommand(newLookupSubcommand(rootOpts, "open"))
	cmd.AddCommand(newLookupSubcommand(rootOpts, "click"))
	return cmd
}

func newLookupSubcommand(rootOpts *RootOptions, kind string) *cobra.Command {
	opts := &LookupOptions{RootOptions: rootOpts}
	op := "lookup " + kind

	cmd := &cobra.Command{
		Use:           kind,
		Short:         "Show the last registered " + kind,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, i, c, err := opts.ids(op)
			if err != nil {
				return commandError(err)
			}
			return opts.withRegistry(cmd, func(ctx context.Context, reg *registry.Registry) error {
				var (
					ts    time.Time
					found bool
				)
				if kind == "click" {
					ts, found, err = reg.LookupClickEvent(ctx, m, i, c, opts.Link)
				} else {
					ts, found, err = reg.LookupOpenEvent(ctx, m, i, c)
				}
				if err != nil {
					return commandError(err)
				}

				out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
				if !found {
					if err := out.Error("not_found", "no "+kind+" registered for this key"); err != nil {
						return err
					}
					return NewExitError(ExitFailure, "not found")
				}
				stamp := ts.UTC().Format(time.RFC3339Nano)
				return out.Success(map[string]string{"timestamp": stamp}, stamp)
			})
		},
	}
	opts.bind(cmd, kind == "click")
	return cmd
}
