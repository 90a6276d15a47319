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

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/unkn0wn-root/tabkeep/config"
	"github.com/unkn0wn-root/tabkeep/entity"
	"github.com/unkn0wn-root/tabkeep/keys"
	"github.com/unkn0wn-root/tabkeep/repo"
	"github.com/unkn0wn-root/tabkeep/scheduler"
)

// withApp loads config, opens the app for the command and closes it after run.
func withApp(cmd *cobra.Command, f *rootFlags, needUser bool, run func(ctx context.Context, a *app) error) error {
	if needUser && f.user == "" {
		return errors.New("--user is required")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, f.logger)
	if err != nil {
		return err
	}
	runErr := run(ctx, a)
	// drain the hook queue and close the backend even when ctx is done
	closeErr := a.Close(context.WithoutCancel(ctx))
	return errors.Join(runErr, closeErr)
}

func newSyncCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "sync",
		GroupID: "sync",
		Short:   "Run one sync cycle",
		Long: `Reconcile every synced collection of the user with the remote API.

Remote entities newer than the local copy are pulled, local-only and locally
newer entities are uploaded. When the remote is unreachable nothing changes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, f, true, func(ctx context.Context, a *app) error {
				res, err := a.engine.Sync(ctx, f.user)
				out := cmd.OutOrStdout()
				if res != nil {
					if res.Offline {
						fmt.Fprintln(out, "Remote unreachable; local data unchanged")
					} else {
						for _, s := range res.Collections {
							fmt.Fprintf(out, "%-22s pulled=%d created=%d updated=%d acked=%d failed=%d rejected=%d\n",
								s.Collection, s.Pulled, s.Created, s.Updated, s.Acked, len(s.Failed), len(s.Rejected))
							if s.RemoteErr != nil {
								fmt.Fprintf(out, "%-22s skipped: %v\n", "", s.RemoteErr)
							}
						}
						fmt.Fprintf(out, "Sync complete in %v\n", res.Finished.Sub(res.Started).Round(time.Millisecond))
					}
				}
				return err
			})
		},
	}
}

func newWatchCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		GroupID: "sync",
		Short:   "Run the background sync scheduler",
		Long: `Run the background scheduler until interrupted.

The process starts in the background state. Lines read from stdin switch
state: "fg" or "foreground" cancels a pending sync, "bg" or "background"
schedules one when the last sync is old enough.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, f, true, func(ctx context.Context, a *app) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				s := a.newScheduler(f.user)
				done := make(chan error, 1)
				go func() { done <- s.Run(ctx) }()

				s.Notify(scheduler.Background)
				go readTransitions(cmd.InOrStdin(), s)

				err := <-done
				fmt.Fprintln(cmd.OutOrStdout(), "Stopped")
				return err
			})
		},
	}
}

func readTransitions(r io.Reader, s *scheduler.Scheduler) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "fg", "foreground":
			s.Notify(scheduler.Foreground)
		case "bg", "background":
			s.Notify(scheduler.Background)
		}
	}
}

func newStatusCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: "sync",
		Short:   "Show key mode, remote reachability and pending changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, f, false, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Key storage: %s\n", a.mode)
				if a.mode == keys.ModeReduced {
					fmt.Fprintln(out, "   The key is stored next to the data; encryption at rest is reduced")
				}
				switch {
				case a.probe == nil:
					fmt.Fprintln(out, "Remote:      not configured")
				case a.probe.Available(ctx):
					fmt.Fprintf(out, "Remote:      reachable (%s)\n", a.cfg.RemoteURL)
				default:
					fmt.Fprintf(out, "Remote:      unreachable (%s)\n", a.cfg.RemoteURL)
				}

				pending := a.store.Ledger().Snapshot()
				fmt.Fprintf(out, "Pending:     %d change(s)\n", len(pending))
				counts := map[string]int{}
				var order []string
				for _, c := range pending {
					if counts[c.Key] == 0 {
						order = append(order, c.Key)
					}
					counts[c.Key]++
				}
				for _, k := range order {
					fmt.Fprintf(out, "   %-28s %d\n", k, counts[k])
				}

				if f.user == "" {
					return nil
				}
				drinks, err := a.repo.Drinks.List(ctx, f.user)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Drinks:      %d\n", len(drinks))
				b, ok, err := a.repo.Budgets.Get(ctx, f.user)
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintf(out, "Budget:      %s spent of %s, %s left\n",
						entity.FormatAmount(b.Spent(), b.Currency),
						entity.FormatAmount(b.MonthlyLimit, b.Currency),
						entity.FormatAmount(b.Remaining(), b.Currency))
				}
				return nil
			})
		},
	}
}

func newDrinksCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "drinks",
		GroupID: "data",
		Short:   "List or log drinks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the user's drinks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, f, true, func(ctx context.Context, a *app) error {
				ds, err := a.repo.Drinks.List(ctx, f.user)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, d := range ds {
					fmt.Fprintf(out, "%s  %-20s %5.0fml %4.1f%%  %s\n",
						d.ConsumedAt.Local().Format("2006-01-02 15:04"), d.Name, d.VolumeML, d.ABV,
						entity.FormatAmount(d.Price, d.Currency))
				}
				return nil
			})
		},
	})

	var (
		volume   float64
		abv      float64
		price    string
		currency string
	)
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Log a drink",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := entity.Drink{UserID: f.user, Name: args[0], VolumeML: volume, ABV: abv, Currency: currency}
			if price != "" {
				p, err := decimal.NewFromString(price)
				if err != nil {
					return fmt.Errorf("price: %w", err)
				}
				d.Price = p
			}
			return withApp(cmd, f, true, func(ctx context.Context, a *app) error {
				saved, err := a.repo.Drinks.Add(ctx, d)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged %s (%s)\n", saved.Name, saved.ID)
				return nil
			})
		},
	}
	add.Flags().Float64Var(&volume, "volume", 330, "volume in ml")
	add.Flags().Float64Var(&abv, "abv", 5, "alcohol by volume in percent")
	add.Flags().StringVar(&price, "price", "", "price paid, e.g. 6.50")
	add.Flags().StringVar(&currency, "currency", "USD", "ISO 4217 currency code")
	cmd.AddCommand(add)
	return cmd
}

func newKeysCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "keys",
		GroupID: "admin",
		Short:   "Encryption key management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the encryption key if none exists",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// opening the app initializes the key
			return withApp(cmd, f, false, func(ctx context.Context, a *app) error {
				has := a.keys.HasKey(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "Key present: %v (storage: %s)\n", has, a.mode)
				return nil
			})
		},
	})
	return cmd
}

func newResetCmd(f *rootFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "reset",
		GroupID: "admin",
		Short:   "Remove the user's local data",
		Long: `Remove every local record of the user except the session token.

Either all kinds are removed or none: on failure already removed records are
restored. Remote data is untouched and comes back on the next sync.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			return withApp(cmd, f, true, func(ctx context.Context, a *app) error {
				if err := a.repo.Account.Reset(ctx, f.user); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Local data removed")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func newDeleteAccountCmd(f *rootFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "delete-account",
		GroupID: "admin",
		Short:   "Delete the user's data remotely and locally",
		Long: `Delete every remote record of the user, then every local one.

The remote must be reachable. If any remote deletion fails the local data is
kept and the command fails, so it can be retried.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to delete without --yes")
			}
			return withApp(cmd, f, true, func(ctx context.Context, a *app) error {
				if err := a.repo.Account.Delete(ctx, f.user); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Account data deleted")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")
	return cmd
}

func newExportCmd(f *rootFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:     "export",
		GroupID: "data",
		Short:   "Write the user's local records as a protobuf Struct",
		Long: `Write every synced record of the user to a file (or stdout) as a
binary google.protobuf.Struct keyed by kind. The session token is not included.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, f, true, func(ctx context.Context, a *app) error {
				snap, err := a.repo.Export(ctx, f.user)
				if err != nil {
					return err
				}
				b, err := repo.ExportCodec.Encode(snap)
				if err != nil {
					return err
				}
				if out == "" {
					_, err = cmd.OutOrStdout().Write(b)
					return err
				}
				if err := os.WriteFile(out, b, 0o600); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d kind(s) to %s\n", len(snap.GetFields()), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}
