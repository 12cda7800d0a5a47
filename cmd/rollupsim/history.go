package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/gateway-fm/rollupsim/internal/config"
	"github.com/gateway-fm/rollupsim/internal/report"
	"github.com/gateway-fm/rollupsim/internal/storage"
)

var (
	dbPath         string
	historyLimit   int
	historyOffset  int
	outcomesLimit  int
	outcomesOffset int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored runs",
	Long: `List runs stored in the history database, favorites first, then newest.

The database is storage.path from the configuration file, or --db.

Example:
  rollupsim history
  rollupsim history show 6f1c...
  rollupsim history tx 0x9a2e...
  rollupsim history reset-nonces testnet
  rollupsim history label 6f1c... "baseline"`,
	Args: cobra.NoArgs,
	RunE: runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a stored run and its outcomes",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a stored run and its outcomes",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyLabelCmd = &cobra.Command{
	Use:   "label <run-id> <label>",
	Short: "Set the label of a stored run; an empty label clears it",
	Args:  cobra.ExactArgs(2),
	RunE:  runHistoryLabel,
}

var historyStarCmd = &cobra.Command{
	Use:   "star <run-id>",
	Short: "Pin a run to the top of the history",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setFavorite(cmd.Context(), args[0], true) },
}

var historyUnstarCmd = &cobra.Command{
	Use:   "unstar <run-id>",
	Short: "Unpin a run",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setFavorite(cmd.Context(), args[0], false) },
}

var historyTxCmd = &cobra.Command{
	Use:   "tx <hash>",
	Short: "Show the stored outcome of one transaction",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryTx,
}

var historyResetNoncesCmd = &cobra.Command{
	Use:   "reset-nonces <network>",
	Short: "Forget the cached nonces of a network",
	Long: `Forget the cached nonces of a network, so the next run against a remote
node starts from the nonces the node reports. Use after the node was reset.`,
	Args: cobra.ExactArgs(1),
	RunE: runHistoryResetNonces,
}

func init() {
	historyCmd.PersistentFlags().StringVar(&dbPath, "db", "", "History database path, overriding storage.path")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to list")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "Runs to skip")
	historyShowCmd.Flags().IntVar(&outcomesLimit, "limit", 100, "Maximum outcomes to show")
	historyShowCmd.Flags().IntVar(&outcomesOffset, "offset", 0, "Outcomes to skip")

	historyCmd.AddCommand(historyShowCmd, historyTxCmd, historyDeleteCmd, historyLabelCmd,
		historyStarCmd, historyUnstarCmd, historyResetNoncesCmd)
}

// resolveDBPath picks --db, then storage.path from the configuration file.
func resolveDBPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("load config %s: %w", configPath, err)
	}
	if cfg.Storage.Path == "" {
		return "", errors.New("no history database: set storage.path or pass --db")
	}
	return cfg.Storage.Path, nil
}

func openHistory() (*storage.SQLiteStorage, error) {
	path, err := resolveDBPath()
	if err != nil {
		return nil, err
	}
	newLogger()
	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	return store, nil
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	page, err := store.ListRuns(cmd.Context(), historyLimit, historyOffset)
	if err != nil {
		return err
	}
	if len(page.Runs) == 0 {
		fmt.Println("No runs stored.")
		return nil
	}

	(&report.Printer{Out: os.Stdout, NoColor: noColor}).Runs(page.Runs)
	if shown := page.Offset + len(page.Runs); shown < page.Total {
		fmt.Printf("%d of %d runs shown; use --offset %d for more\n", len(page.Runs), page.Total, shown)
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	run, err := store.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	outcomes, err := store.GetOutcomes(ctx, run.ID, outcomesLimit, outcomesOffset)
	if err != nil {
		return err
	}

	printer := &report.Printer{Out: os.Stdout, NoColor: noColor}
	printer.Runs([]storage.Run{*run})
	if run.ErrorMessage != "" {
		fmt.Printf("error: %s\n", run.ErrorMessage)
	}
	kinds := make([]string, 0, len(run.Errors))
	for kind := range run.Errors {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Printf("  %-24s %d\n", kind, run.Errors[kind])
	}
	if len(outcomes.Outcomes) > 0 {
		printer.Outcomes(outcomes.Outcomes)
	}
	fmt.Printf("%d of %d outcomes shown\n", len(outcomes.Outcomes), outcomes.Total)
	return nil
}

func runHistoryTx(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	outcome, err := store.GetOutcomeByHash(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if outcome == nil {
		return fmt.Errorf("%w: transaction %s", storage.ErrNotFound, args[0])
	}
	(&report.Printer{Out: os.Stdout, NoColor: noColor}).Outcomes([]storage.OutcomeRecord{*outcome})
	return nil
}

func runHistoryResetNonces(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteCachedAccounts(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Cleared cached nonces for %s\n", args[0])
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted run %s\n", args[0])
	return nil
}

func runHistoryLabel(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	label := args[1]
	if err := store.UpdateRunMetadata(cmd.Context(), args[0], &storage.RunMetadataUpdate{Label: &label}); err != nil {
		return err
	}
	fmt.Printf("Labelled run %s\n", args[0])
	return nil
}

func setFavorite(ctx context.Context, id string, favorite bool) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.UpdateRunMetadata(ctx, id, &storage.RunMetadataUpdate{Favorite: &favorite}); err != nil {
		return err
	}
	if favorite {
		fmt.Printf("Starred run %s\n", id)
	} else {
		fmt.Printf("Unstarred run %s\n", id)
	}
	return nil
}
