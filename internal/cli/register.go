package cli

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/PratikDhanave/email-event-registry/internal/errs"
	"github.com/PratikDhanave/email-event-registry/internal/models"
	"github.com/PratikDhanave/email-event-registry/internal/registry"
)

// keyFlags identify one event on the command line.
type keyFlags struct {
	Message  string
	Instance string
	Contact  string
	Link     string
}

func (k *keyFlags) bind(cmd *cobra.Command, withLink bool) {
	cmd.Flags().StringVar(&k.Message, "message", "", "message id (UUID)")
	cmd.Flags().StringVar(&k.Instance, "instance", "", "message instance id (UUID)")
	cmd.Flags().StringVar(&k.Contact, "contact", "", "contact id (UUID)")
	_ = cmd.MarkFlagRequired("message")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("contact")
	if withLink {
		cmd.Flags().StringVar(&k.Link, "link", "", "clicked link, exactly as sent")
		_ = cmd.MarkFlagRequired("link")
	}
}

func (k *keyFlags) ids(op string) (m, i, c uuid.UUID, err error) {
	for _, f := range []struct {
		name string
		raw  string
		dst  *uuid.UUID
	}{
		{"message", k.Message, &m},
		{"instance", k.Instance, &i},
		{"contact", k.Contact, &c},
	} {
		id, perr := uuid.Parse(f.raw)
		if perr != nil {
			return m, i, c, errs.InvalidArgument(op, f.name, "must be a UUID")
		}
		*f.dst = id
	}
	return m, i, c, nil
}

// RegisterOptions holds flags for the register subcommands.
type RegisterOptions struct {
	*RootOptions
	keyFlags
	Protection time.Duration
}

// registrationOutput is the JSON payload of a registration.
type registrationOutput struct {
	Timestamp           string `json:"timestamp"`
	IsDuplicate         bool   `json:"is_duplicate"`
	IsFirstRegistration bool   `json:"is_first_registration"`
}

// NewRegisterCommand creates the register command and its open/click children.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an email open or a link click",
	}
	cmd.AddCommand(newRegisterOpenCommand(rootOpts))
	cmd.AddCommand(newRegisterClickCommand(rootOpts))
	return cmd
}

func newRegisterOpenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "open",
		Short:         "Register an email open",
		Example:       `  eventctl register open --message <uuid> --instance <uuid> --contact <uuid> --protection 1h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, i, c, err := opts.ids("register open")
			if err != nil {
				return commandError(err)
			}
			return opts.register(cmd, func(ctx context.Context, reg *registry.Registry) (models.RegistrationResult, error) {
				return reg.RegisterOpen(ctx, m, i, c, opts.Protection)
			})
		},
	}
	opts.bind(cmd, false)
	cmd.Flags().DurationVar(&opts.Protection, "protection", 0, "duplicate protection interval")
	return cmd
}

func newRegisterClickCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "click",
		Short:         "Register a link click",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, i, c, err := opts.ids("register click")
			if err != nil {
				return commandError(err)
			}
			return opts.register(cmd, func(ctx context.Context, reg *registry.Registry) (models.RegistrationResult, error) {
				return reg.RegisterClick(ctx, m, i, c, opts.Link, opts.Protection)
			})
		},
	}
	opts.bind(cmd, true)
	cmd.Flags().DurationVar(&opts.Protection, "protection", 0, "duplicate protection interval")
	return cmd
}

func (o *RegisterOptions) register(cmd *cobra.Command, fn func(ctx context.Context, reg *registry.Registry) (models.RegistrationResult, error)) error {
	return o.withRegistry(cmd, func(ctx context.Context, reg *registry.Registry) error {
		res, err := fn(ctx, reg)
		if err != nil {
			return commandError(err)
		}

		ts := res.Timestamp.UTC().Format(time.RFC3339Nano)
		text := "registered at " + ts
		switch {
		case res.IsFirstRegistration:
			text = "first registration at " + ts
		case res.IsDuplicate:
			text = "duplicate of registration at " + ts
		}

		out := &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
		return out.Success(registrationOutput{
			Timestamp:           ts,
			IsDuplicate:         res.IsDuplicate,
			IsFirstRegistration: res.IsFirstRegistration,
		}, text)
	})
}
