package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mfreeman/visatrack/internal/extract"
	"github.com/mfreeman/visatrack/internal/fetch"
	"github.com/mfreeman/visatrack/internal/model"
	"github.com/mfreeman/visatrack/internal/notify"
	"github.com/mfreeman/visatrack/internal/service"
	"github.com/mfreeman/visatrack/internal/store"
)

var (
	trackURL         string
	trackOutput      string
	trackRunType     string
	trackNoNotify    bool
	trackUpdatedOnly bool
	trackPrintLocal  bool
	trackDebug       bool
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Fetch the current visa bulletin and record a tracking run",
	Long: `Track fetches the current visa bulletin, extracts its category
cutoff dates, stores the run in PostgreSQL, diffs it against the
previous successful run and notifies subscribers whose categories
moved.

Examples:
  # Track the current bulletin and notify subscribers with changes
  ./visatrack track --updated-only

  # Track a specific bulletin page without sending email
  ./visatrack track --url https://travel.state.gov/.../visa-bulletin-for-march-2026.html --no-notify

  # Record a manual run and export the extracted data
  ./visatrack track --run-type manual -o bulletin.json --no-notify`,
	Run: runTrack,
}

func init() {
	rootCmd.AddCommand(trackCmd)

	trackCmd.Flags().StringVar(&trackURL, "url", "", "Bulletin page URL (skips landing-page discovery)")
	trackCmd.Flags().StringVarP(&trackOutput, "output", "o", "", "Write extracted bulletin JSON to this file")
	trackCmd.Flags().StringVar(&trackRunType, "run-type", model.RunTypeOfficial, "Run type label (official, test, benchmark, manual)")
	trackCmd.Flags().BoolVar(&trackNoNotify, "no-notify", false, "Skip subscriber notifications")
	trackCmd.Flags().BoolVar(&trackUpdatedOnly, "updated-only", false, "Only notify subscribers whose categories changed")
	trackCmd.Flags().BoolVar(&trackPrintLocal, "print-local", false, "Save notification emails as HTML previews instead of sending")
	trackCmd.Flags().BoolVar(&trackDebug, "debug", false, "Save raw markup for inspection when extraction finds nothing")
}

func runTrack(cmd *cobra.Command, args []string) {
	dbURL := databaseURL()
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	log.Println("Connecting to database...")
	db, err := store.NewDB(dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := store.InitSchema(ctx, db); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	extractor := extract.NewExtractor()
	extractor.Debug = trackDebug

	runStore := store.NewRunStore(db)
	subStore := store.NewSubscriptionStore(db)
	notifier := notify.NewNotifier(notifierConfig(), subStore)
	tracker := service.NewTracker(fetch.NewClient(), extractor, runStore, notifier, service.NewMetrics())

	stats, err := tracker.Run(ctx, service.TrackOptions{
		URL:         trackURL,
		Output:      trackOutput,
		RunType:     trackRunType,
		NoNotify:    trackNoNotify,
		UpdatedOnly: trackUpdatedOnly,
		PrintLocal:  trackPrintLocal,
		Verbose:     viper.GetBool("verbose"),
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Println("Tracking cancelled")
			os.Exit(1)
		}
		log.Fatalf("Tracking failed: %v", err)
	}

	tracker.PrintSummary(stats)

	if !stats.Success {
		os.Exit(1)
	}
}
