package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	ferrors "trading-floor/internal/errors"
	"trading-floor/internal/models"
	"trading-floor/internal/store"
	"trading-floor/pkg/utils"
)

// openArchive opens the configured archive for reading.
func (a *App) openArchive() (store.Archive, error) {
	if !a.Config.Archive.Enabled {
		return nil, ferrors.NewValidationError("archive.enabled", false, "the archive is disabled; enable it to keep session history")
	}
	archive, err := store.NewSQLiteArchive(a.Config.Archive.ResolvedPath())
	if err != nil {
		return nil, err
	}
	return archive, nil
}

// resolveRun returns runID, or the most recent run when runID is empty.
func resolveRun(ctx context.Context, archive store.Archive, runID string) (string, error) {
	if runID != "" {
		return runID, nil
	}
	runs, err := archive.GetRuns(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("no sessions recorded yet")
	}
	return runs[0].RunID, nil
}

func newLogsCmd(app *App) *cobra.Command {
	var (
		trader   string
		category string
		limit    int
		runID    string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show archived activity",
		Long: `Show activity entries recorded by a previous or running session.

Entries come from the archive, most recent run first unless --run is given.`,
		Example: `  floor logs --trader warren --limit 20
  floor logs --category account`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			if category != "" && !validCategory(models.Category(category)) {
				return ferrors.NewValidationError("category", category, "unknown category")
			}

			archive, err := app.openArchive()
			if err != nil {
				return err
			}
			defer archive.Close()

			run, err := resolveRun(ctx, archive, runID)
			if err != nil {
				return err
			}
			entries, err := archive.GetLogEntries(ctx, store.LogFilter{
				RunID:    run,
				Trader:   trader,
				Category: models.Category(category),
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(entries)
			}
			if len(entries) == 0 {
				output.Info("No entries for run %s", run)
				return nil
			}
			output.Dim("Run %s", run)
			for _, e := range entries {
				output.LogEntry(e.LogEntry)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&trader, "trader", "", "only entries from this trader ('system' for the scheduler)")
	cmd.Flags().StringVar(&category, "category", "", "only entries of this category")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	cmd.Flags().StringVar(&runID, "run", "", "run ID (default: latest)")

	return cmd
}

func validCategory(c models.Category) bool {
	switch c {
	case models.CategoryTrace, models.CategoryAgent, models.CategoryFunction,
		models.CategoryGeneration, models.CategoryResponse, models.CategoryAccount:
		return true
	}
	return false
}

func newRunsCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List archived sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			archive, err := app.openArchive()
			if err != nil {
				return err
			}
			defer archive.Close()

			runs, err := archive.GetRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Info("No sessions recorded yet")
				return nil
			}

			table := NewTable(output, "RUN", "STARTED", "LAST ENTRY", "ENTRIES", "TRANSACTIONS")
			for _, r := range runs {
				table.AddRow(r.RunID,
					r.FirstEntry.Local().Format("2006-01-02 15:04:05"),
					r.LastEntry.Local().Format("2006-01-02 15:04:05"),
					strconv.Itoa(r.Entries), strconv.Itoa(r.Transactions))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of runs")
	return cmd
}

// accountSummary is the archived view of one trader's account.
type accountSummary struct {
	Trader         string          `json:"trader"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	Value          decimal.Decimal `json:"value"`
	ProfitLoss     decimal.Decimal `json:"profit_loss"`
	Transactions   int             `json:"transactions"`
	Holdings       map[string]int  `json:"holdings"`
	Cash           decimal.Decimal `json:"cash"`
}

func newAccountsCmd(app *App) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Show each trader's account as of the end of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			archive, err := app.openArchive()
			if err != nil {
				return err
			}
			defer archive.Close()

			run, err := resolveRun(ctx, archive, runID)
			if err != nil {
				return err
			}

			var summaries []accountSummary
			for _, tc := range app.Config.Traders {
				s, err := summarizeAccount(ctx, archive, run, tc.Name, tc.Balance())
				if err != nil {
					return err
				}
				summaries = append(summaries, s)
			}

			if output.IsJSON() {
				return output.JSON(summaries)
			}
			output.Dim("Run %s", run)
			table := NewTable(output, "TRADER", "INITIAL", "VALUE", "P&L", "RETURN", "CASH", "HOLDINGS", "TXNS")
			for _, s := range summaries {
				table.AddRow(s.Trader, utils.FormatMoney(s.InitialBalance), utils.FormatMoney(s.Value),
					output.PnL(s.ProfitLoss), utils.FormatPercent(s.ProfitLoss, s.InitialBalance), utils.FormatMoney(s.Cash), formatHoldings(s.Holdings),
					strconv.Itoa(s.Transactions))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run ID (default: latest)")
	return cmd
}

// summarizeAccount rebuilds a trader's closing position from the archived
// transactions and takes the last recorded valuation as its value.
func summarizeAccount(ctx context.Context, archive store.Archive, run, trader string, initial decimal.Decimal) (accountSummary, error) {
	s := accountSummary{
		Trader:         trader,
		InitialBalance: initial,
		Value:          initial,
		Cash:           initial,
		Holdings:       map[string]int{},
	}

	txs, err := archive.GetTransactions(ctx, store.TransactionFilter{RunID: run, Trader: trader})
	if err != nil {
		return s, err
	}
	s.Transactions = len(txs)
	for _, tx := range txs {
		qty := tx.Quantity
		if tx.Side == models.OrderSideSell {
			qty = -qty
		}
		s.Holdings[tx.Symbol] += qty
		if s.Holdings[tx.Symbol] == 0 {
			delete(s.Holdings, tx.Symbol)
		}
		s.Cash = tx.CashAfter
	}

	points, err := archive.GetValuations(ctx, store.ValuationFilter{RunID: run, Trader: trader, Limit: 1})
	if err != nil {
		return s, err
	}
	if len(points) > 0 {
		s.Value = points[len(points)-1].Value
	}
	s.ProfitLoss = s.Value.Sub(initial)
	return s, nil
}

func formatHoldings(h map[string]int) string {
	if len(h) == 0 {
		return "-"
	}
	snap := models.AccountSnapshot{Holdings: h}
	parts := make([]string, 0, len(h))
	for _, holding := range snap.SortedHoldings() {
		parts = append(parts, holding.Symbol+" "+strconv.Itoa(holding.Quantity))
	}
	return strings.Join(parts, ", ")
}
