package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"keyhub/internal/app"
	"keyhub/internal/config"
	"keyhub/internal/logger"
	"keyhub/internal/models"
	"keyhub/internal/pool"
	"keyhub/internal/version"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile    string
	envFile       string
	serverStopped bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "keyctl",
		Short: "Administer the keyhub key pool and usage documents",
		Long: `keyctl works directly against the configured document store.
It reads the same configuration file and KEYHUB_* variables as the server.

The json backend locks documents only inside one process. seed, verify and
rollover write to the store, so against a json store they run only with
--server-stopped, once no keyhub server uses the same data directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "Path to .env file (ignored when absent)")
	cmd.PersistentFlags().BoolVar(&opts.serverStopped, "server-stopped", false, "Confirm no server shares a json store before writing to it")

	cmd.AddCommand(
		newSeedCmd(opts),
		newCountCmd(opts),
		newStatsCmd(opts),
		newVerifyCmd(opts),
		newRolloverCmd(opts),
		newConfigExampleCmd(),
		newVersionCmd(),
	)
	return cmd
}

// errSharedJSONStore is returned by writing commands against a json store
// without --server-stopped.
var errSharedJSONStore = errors.New("the json store cannot be written while a server uses it; stop keyhub and pass --server-stopped")

// withApp loads configuration, builds the components and runs fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	return runApp(cmd, opts, false, fn)
}

// withWritableApp is withApp for commands that modify the store.
func withWritableApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	return runApp(cmd, opts, true, fn)
}

func runApp(cmd *cobra.Command, opts *rootOptions, writes bool, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(opts.configFile, opts.envFile)
	if err != nil {
		return err
	}
	if writes && cfg.Storage.Type == models.StorageTypeJSON && !opts.serverStopped {
		return errSharedJSONStore
	}

	level := slog.LevelWarn
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(logger.New(cmd.ErrOrStderr(), "text", level, version.GetInfo()))

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(cmd.Context(), a)
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var (
		file string
		keys []string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the key pool if it does not exist yet",
		Long: `Creates the key pool from --file and --key, or from the configured seed
file and seed keys when neither flag is given. An existing pool is left
untouched; keys are never added to a live pool.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWritableApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var seeds []string
				if file == "" && len(keys) == 0 {
					configured, err := a.SeedKeys()
					if err != nil {
						return err
					}
					seeds = configured
				} else {
					var fromFile []string
					if file != "" {
						loaded, err := pool.LoadSeedFile(file)
						if err != nil {
							return err
						}
						fromFile = loaded
					}
					seeds = pool.MergeSeeds(fromFile, keys)
				}

				created, err := pool.Seed(ctx, a.Docs, seeds)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !created {
					fmt.Fprintln(out, "Key pool already exists; nothing changed.")
					return nil
				}
				fmt.Fprintf(out, "Key pool created with %d keys.\n", len(seeds))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Seed file (JSON array or one key per line)")
	cmd.Flags().StringArrayVarP(&keys, "key", "k", nil, "Seed key (repeatable)")
	return cmd
}

func newCountCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of keys left in the pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				n, err := a.Allocator.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the stored usage record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				stats, err := a.Accountant.Stats(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return json.NewEncoder(out).Encode(stats)
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DATE\tALLOCATIONS\tVERIFICATIONS")
				fmt.Fprintf(w, "%s\t%d\t%d\n", stats.Date, stats.Count, stats.VerifyCount)
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <key>",
		Short: "Check a key the same way the verify endpoint does",
		Long: `Runs the configured verifier. The attempt is counted in the usage record,
so a json store needs --server-stopped.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWritableApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				result, err := a.Verifier.Verify(ctx, args[0])
				if err != nil {
					return err
				}
				return printVerification(cmd.OutOrStdout(), result.Valid, result.Message, result.Balance, result.VerifyCount)
			})
		},
	}
}

func printVerification(out io.Writer, valid bool, message string, balance *string, count int) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "valid:\t%t\n", valid)
	if message != "" {
		fmt.Fprintf(w, "message:\t%s\n", message)
	}
	if balance != nil {
		fmt.Fprintf(w, "balance:\t%s\n", *balance)
	}
	fmt.Fprintf(w, "verifications today:\t%d\n", count)
	return w.Flush()
}

func newRolloverCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollover",
		Short: "Reset the usage record if its date is not today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWritableApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				previous, reset, err := a.Accountant.Rollover(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !reset {
					fmt.Fprintln(out, "Usage record is current; nothing changed.")
					return nil
				}
				fmt.Fprintf(out, "Rolled over %s (allocations %d, verifications %d).\n",
					previous.Date, previous.Count, previous.VerifyCount)
				return nil
			})
		},
	}
}

func newConfigExampleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-example <path>",
		Short: "Write an example configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SaveExample(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", args[0])
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetInfo().String())
		},
	}
}
