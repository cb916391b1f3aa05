// Package cli exposes the foodpass commands: the long running HTTP and worker
// processes plus the operational tasks run before an event opens.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/foodpass/internal/app"
	"github.com/Additional-Code/foodpass/internal/migration"
	"github.com/Additional-Code/foodpass/internal/seeder"
	"github.com/Additional-Code/foodpass/internal/service/ticket"
)

const stopTimeout = 15 * time.Second

// NewRootCommand builds the root foodpass CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "foodpass",
		Short:         "Event food ordering service and tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newStartCmd(),
		newWorkerCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newTicketCmd(),
	)
	return root
}

// Execute runs the CLI until it finishes or the process receives SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Serve the guest, staff and vendor APIs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			withWorker, _ := cmd.Flags().GetBool("with-worker")
			graph := app.HTTP
			if withWorker {
				graph = app.Standalone
			}
			return serve(cmd.Context(), graph)
		},
	}
	cmd.Flags().Bool("with-worker", false, "Also consume relayed broadcasts in this process")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Consume relayed order and vendor status broadcasts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), app.Worker)
		},
	})
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(ctx context.Context, mig *migration.Migrator) error {
				if err := mig.Up(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			all, _ := cmd.Flags().GetBool("all")
			return withMigrator(cmd, func(ctx context.Context, mig *migration.Migrator) error {
				if err := mig.Down(ctx, steps, all); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return nil
			})
		},
	}
	down.Flags().Int("steps", 1, "Number of migration steps to roll back")
	down.Flags().Bool("all", false, "Roll back every applied migration")

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(ctx context.Context, mig *migration.Migrator) error {
				version, err := mig.Version(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
				return nil
			})
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the DEMO event with vendors, menus, tier policies and tickets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")

			var (
				mig  *migration.Migrator
				seed *seeder.Seeder
			)
			opts := fx.Options(app.Core, migration.Module, seeder.Module, fx.Populate(&mig, &seed))
			return runTask(cmd.Context(), opts, func(ctx context.Context) error {
				if migrate {
					if err := mig.Up(ctx); err != nil {
						return err
					}
				}
				if err := seed.Demo(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "event %s seeded\n", seeder.DemoEventCode)
				return nil
			})
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply migrations before seeding")
	return cmd
}

func newTicketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Ticket utilities",
	}

	qr := &cobra.Command{
		Use:   "qr [code]",
		Short: "Render a ticket QR code as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, _ := cmd.Flags().GetInt("size")
			out, _ := cmd.Flags().GetString("out")

			png, err := ticket.RenderQR(args[0], size)
			if err != nil {
				return err
			}
			if out == "" {
				out = strings.ToLower(strings.TrimSpace(args[0])) + ".png"
			}
			if err := os.WriteFile(out, png, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(png))
			return nil
		},
	}
	qr.Flags().Int("size", ticket.DefaultQRSize, "Image edge length in pixels")
	qr.Flags().StringP("out", "o", "", "Output file (defaults to <code>.png)")

	cmd.AddCommand(qr)
	return cmd
}

// serve runs graph until ctx is cancelled.
func serve(ctx context.Context, graph fx.Option) error {
	application := fx.New(graph, app.EventLogger)
	if err := application.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return application.Stop(stopCtx)
}

func withMigrator(cmd *cobra.Command, fn func(context.Context, *migration.Migrator) error) error {
	var mig *migration.Migrator
	opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
	return runTask(cmd.Context(), opts, func(ctx context.Context) error {
		return fn(ctx, mig)
	})
}

// runTask starts a quiet graph, runs fn and always stops the graph.
func runTask(ctx context.Context, opts fx.Option, fn func(context.Context) error) (err error) {
	application := fx.New(opts, fx.NopLogger)
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if stopErr := application.Stop(stopCtx); err == nil {
			err = stopErr
		}
	}()
	return fn(ctx)
}
