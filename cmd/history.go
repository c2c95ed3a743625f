package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/flasharb/storage"
)

var (
	historyDB    string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded arbitrage reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := historyDB
		if path == "" {
			path = cfg.HistoryDB
		}
		if path == "" {
			return fmt.Errorf("no history database configured")
		}

		db, err := storage.NewLevelDB(path)
		if err != nil {
			return err
		}
		defer db.Close()

		reports, err := storage.NewHistory(db, log.Named("history")).List(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(reports) == 0 {
			fmt.Fprintln(w, "No reports recorded")
			return nil
		}
		for _, r := range reports {
			printReport(w, r)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyDB, "db", "", "history database path (defaults to history_db)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of reports, 0 for all")
	rootCmd.AddCommand(historyCmd)
}
