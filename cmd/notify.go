package cmd

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mfreeman/visatrack/internal/compare"
	"github.com/mfreeman/visatrack/internal/model"
	"github.com/mfreeman/visatrack/internal/notify"
	"github.com/mfreeman/visatrack/internal/store"
)

var (
	notifyAll         bool
	notifyUpdatedOnly bool
	notifyPrintLocal  bool
)

var notifyCmd = &cobra.Command{
	Use:   "notify [email]",
	Short: "Send notification emails from the latest stored bulletin",
	Long: `Notify sends subscriber emails built from the latest successful run
in the database, without fetching anything.

With an email address argument it sends a single test email to that
address, subscribed or not. With --all it re-runs the full notification
pass against every active subscriber.

Examples:
  ./visatrack notify user@example.com                Send a test email
  ./visatrack notify user@example.com --print-local  Save test email as HTML
  ./visatrack notify --all                           Notify all subscribers
  ./visatrack notify --all --updated-only            Only notify on changes
  ./visatrack notify --all --print-local             Preview all emails locally`,
	Args: cobra.MaximumNArgs(1),
	Run:  runNotify,
}

func init() {
	rootCmd.AddCommand(notifyCmd)

	notifyCmd.Flags().BoolVar(&notifyAll, "all", false, "Run full notification for all active subscribers")
	notifyCmd.Flags().BoolVar(&notifyUpdatedOnly, "updated-only", false, "(with --all) Only notify subscribers whose categories changed")
	notifyCmd.Flags().BoolVar(&notifyPrintLocal, "print-local", false, "Save emails as HTML files instead of sending")
}

func runNotify(cmd *cobra.Command, args []string) {
	if len(args) == 0 && !notifyAll {
		log.Fatal("Provide an email address for a test send, or use --all")
	}
	if len(args) > 0 && notifyAll {
		log.Fatal("Provide either an email address or --all, not both")
	}

	dbURL := databaseURL()
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	ctx := context.Background()

	db, err := store.NewDB(dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	runStore := store.NewRunStore(db)
	subStore := store.NewSubscriptionStore(db)
	notifier := notify.NewNotifier(notifierConfig(), subStore)

	currentRun, err := runStore.GetLastSuccessfulRun(ctx, 0)
	if err != nil {
		log.Fatalf("Failed to look up latest run: %v", err)
	}
	if currentRun == nil || currentRun.Data == nil {
		log.Fatal("No successful runs found in the database. Run track first.")
	}

	// Test email mode
	if len(args) > 0 {
		if err := notifier.SendTest(ctx, args[0], currentRun.Data, notifyPrintLocal); err != nil {
			log.Fatalf("Failed to send test email: %v", err)
		}
		return
	}

	// Full notification mode: rebuild the comparison against the run
	// before the latest one.
	previousRun, err := runStore.GetLastSuccessfulRun(ctx, currentRun.ID)
	if err != nil {
		log.Fatalf("Failed to look up previous run: %v", err)
	}

	var comparison *model.ComparisonResult
	if previousRun != nil && previousRun.Data != nil {
		comparison = compare.Compare(currentRun.Data, previousRun.Data)
	} else {
		comparison = compare.EmptyResult(currentRun.Data)
	}

	stats, err := notifier.NotifyAll(ctx, comparison, currentRun.Data, notifyUpdatedOnly, notifyPrintLocal)
	if err != nil {
		log.Fatalf("Notification failed: %v", err)
	}
	notifier.PrintSummary(stats)

	if stats.Failed > 0 {
		os.Exit(1)
	}
}
