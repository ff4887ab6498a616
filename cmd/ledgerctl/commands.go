package main

import (
	"encoding/hex"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/ledgerclient/pkg/state"
	"github.com/jmerrifield20/ledgerclient/pkg/store"
)

// ── get ──────────────────────────────────────────────────────────────────────

var (
	getAtTx       uint64
	getUnverified bool
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a key, verifying it against the local checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := newEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		c, err := e.client()
		if err != nil {
			return err
		}

		var value []byte
		if getUnverified {
			value, err = c.Get(ctx, []byte(args[0]))
		} else {
			value, err = c.VerifiedGetAt(ctx, []byte(args[0]), getAtTx)
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(value))
		return nil
	},
}

func init() {
	getCmd.Flags().Uint64Var(&getAtTx, "at-tx", 0, "read the value as of this transaction")
	getCmd.Flags().BoolVar(&getUnverified, "unverified", false, "skip verification")
}

// ── set ──────────────────────────────────────────────────────────────────────

var (
	setExpiresIn    time.Duration
	setNonIndexable bool
	setUnverified   bool
)

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a key and verify the transaction that stored it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := newEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		c, err := e.client()
		if err != nil {
			return err
		}

		key, value := []byte(args[0]), []byte(args[1])

		var hdr *store.TxHeader
		if setUnverified {
			if setExpiresIn > 0 || setNonIndexable {
				return fmt.Errorf("metadata flags require a verified write")
			}
			hdr, err = c.Set(ctx, key, value)
		} else {
			var md *store.KVMetadata
			if setExpiresIn > 0 || setNonIndexable {
				md = store.NewKVMetadata()
				if setExpiresIn > 0 {
					_ = md.ExpiresAt(time.Now().Add(setExpiresIn))
				}
				_ = md.AsNonIndexable(setNonIndexable)
			}
			hdr, err = c.VerifiedSet(ctx, key, value, md)
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "tx %d\n", hdr.ID)
		return nil
	},
}

func init() {
	setCmd.Flags().DurationVar(&setExpiresIn, "expires-in", 0, "expire the entry after this long (e.g. 24h)")
	setCmd.Flags().BoolVar(&setNonIndexable, "non-indexable", false, "keep the entry out of the index")
	setCmd.Flags().BoolVar(&setUnverified, "unverified", false, "skip verification")
}

// ── reference ────────────────────────────────────────────────────────────────

var referenceAtTx uint64

var referenceCmd = &cobra.Command{
	Use:   "reference <key> <referenced-key>",
	Short: "Make key point to another key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := newEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		c, err := e.client()
		if err != nil {
			return err
		}

		hdr, err := c.SetReference(ctx, []byte(args[0]), []byte(args[1]), referenceAtTx)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "tx %d\n", hdr.ID)
		return nil
	},
}

func init() {
	referenceCmd.Flags().Uint64Var(&referenceAtTx, "at-tx", 0, "pin the reference to this transaction (0 follows the latest value)")
}

// ── state ────────────────────────────────────────────────────────────────────

var stateHistoryLimit int

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the local checkpoint of the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := newEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		st, err := e.states.Get(ctx, viper.GetString("database"))
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DATABASE\tTX\tALH\tSIGNED")
		printState(w, st)
		return w.Flush()
	},
}

var stateHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List past checkpoints (postgres backend only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := newEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		pg, ok := e.store.(*state.PostgresStore)
		if !ok {
			return fmt.Errorf("history needs the postgres state backend, not %q", viper.GetString("state.backend"))
		}

		states, err := pg.History(ctx, viper.GetString("database"), stateHistoryLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DATABASE\tTX\tALH\tSIGNED")
		for _, st := range states {
			printState(w, st)
		}
		return w.Flush()
	},
}

func init() {
	stateHistoryCmd.Flags().IntVar(&stateHistoryLimit, "limit", 20, "maximum number of checkpoints to list")
	stateCmd.AddCommand(stateHistoryCmd)
}

func printState(w *tabwriter.Writer, st *state.State) {
	alh := "-"
	if !st.IsEmpty() {
		alh = hex.EncodeToString(st.TxHash[:])
	}
	fmt.Fprintf(w, "%s\t%d\t%s\t%t\n", st.Database, st.TxID, alh, st.Signature != nil)
}

// ── health ───────────────────────────────────────────────────────────────────

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the ledger service is up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := newEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		c, err := e.client()
		if err != nil {
			return err
		}

		h, err := c.Health(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", h.Status, h.Version)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ledgerctl %s\n", version)
	},
}

// ── migrate ──────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the postgres checkpoint schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		pool, err := openPostgres(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		applied, err := state.Migrate(ctx, pool, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
		return nil
	},
}
