package cli

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"trading-floor/internal/floor"
	"trading-floor/internal/models"
	"trading-floor/pkg/utils"
)

// shutdownTimeout bounds how long run waits for in-flight cycles after a stop.
const shutdownTimeout = 2 * time.Minute

func newRunCmd(app *App) *cobra.Command {
	var (
		interval      int
		runWhenClosed bool
		watch         bool
		ticks         int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a trading session",
		Long: `Start a trading session and keep it running until interrupted.

Every interval each trader runs one cycle while the market is open. Press
Ctrl+C to stop: cycles already running finish before the process exits.`,
		Example: `  floor run --watch
  floor run --interval 5 --run-when-closed --ticks 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if !cmd.Flags().Changed("run-when-closed") {
				runWhenClosed = app.Config.Session.RunWhenClosed
			}

			// Cycles use a context that Ctrl+C does not cancel.
			opts := append([]floor.Option{floor.WithLogger(app.Logger)}, app.FloorOptions...)
			f, err := floor.New(context.Background(), app.Config, opts...)
			if err != nil {
				return err
			}

			watched := make(chan struct{})
			unsubscribe := func() { close(watched) }
			if watch && !output.IsJSON() {
				entries, cancel := f.Subscribe(1024)
				unsubscribe = cancel
				go func() {
					defer close(watched)
					for e := range entries {
						output.LogEntry(e)
					}
				}()
			}

			msg, err := f.StartSession(interval, runWhenClosed)
			if err != nil {
				closeFloor(f)
				unsubscribe()
				<-watched
				return err
			}
			if !output.IsJSON() {
				output.Success("%s", msg)
				if info := f.SessionStatus(); !info.RunWhenClosed {
					output.Dim("Trading only while %s is open (%s-%s)", app.Config.Market.Timezone,
						app.Config.Market.Open, app.Config.Market.Close)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			waitForSession(ctx, f, ticks)
			stop()

			if f.SessionStatus().Status == models.SessionRunning {
				if msg, err := f.StopSession(); err == nil && !output.IsJSON() {
					output.Info("%s", msg)
				}
			}
			err = closeFloor(f)
			unsubscribe()
			<-watched

			if output.IsJSON() {
				if jerr := output.JSON(map[string]interface{}{
					"session": f.SessionStatus(),
					"traders": f.Traders(),
				}); jerr != nil {
					return jerr
				}
				return err
			}
			printSummary(output, f)
			return err
		},
	}

	cmd.Flags().IntVar(&interval, "interval", 0, "minutes between ticks (default from config)")
	cmd.Flags().BoolVar(&runWhenClosed, "run-when-closed", false, "run traders even when the market is closed")
	cmd.Flags().BoolVar(&watch, "watch", false, "stream the activity log")
	cmd.Flags().IntVar(&ticks, "ticks", 0, "stop after this many ticks (0 runs until interrupted)")

	return cmd
}

// waitForSession returns when ctx is done, the session ends, or maxTicks ticks
// have completed.
func waitForSession(ctx context.Context, f *floor.Floor, maxTicks int) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.WaitSession(ctx)
	}()

	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-poll.C:
			if maxTicks > 0 && f.SessionStatus().Ticks >= uint64(maxTicks) {
				return
			}
		}
	}
}

func closeFloor(f *floor.Floor) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return f.Close(ctx)
}

func printSummary(output *Output, f *floor.Floor) {
	info := f.SessionStatus()
	output.Println()
	output.Printf("Session %s after %d ticks\n", output.SessionStatus(info.Status), info.Ticks)
	output.Println()

	table := NewTable(output, "TRADER", "MODEL", "NEXT MODE", "PHASE", "VALUE", "P&L", "CYCLES")
	for _, t := range f.Traders() {
		value, _ := decimal.NewFromString(t.Value)
		pnl, _ := decimal.NewFromString(t.ProfitLoss)
		table.AddRow(t.DisplayName, t.Model, string(t.Mode), string(t.Phase), utils.FormatMoney(value),
			output.PnL(pnl), cycles(t))
	}
	table.Render()

	for _, t := range f.Traders() {
		snap, err := f.AccountSnapshot(t.Name)
		if err != nil || len(snap.Holdings) == 0 {
			continue
		}
		var parts []string
		for _, h := range snap.SortedHoldings() {
			parts = append(parts, h.Symbol+" "+strconv.Itoa(h.Quantity))
		}
		output.Dim("%s holds %s; cash %s", t.Name, strings.Join(parts, ", "), utils.FormatMoney(snap.Cash))
	}
}

func cycles(t floor.TraderStatus) string {
	s := strconv.Itoa(t.Completed) + " ok"
	if t.Failed > 0 {
		s += ", " + strconv.Itoa(t.Failed) + " failed"
	}
	return s
}
