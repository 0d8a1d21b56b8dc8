package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/mfreeman/visatrack/internal/store"
)

var (
	runsType        string
	runsLimit       int
	runsSuccessOnly bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded tracking runs",
	Run:   runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().StringVar(&runsType, "type", "", "Filter by run type (official, test, benchmark, manual)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to list")
	runsCmd.Flags().BoolVar(&runsSuccessOnly, "success-only", false, "Only list successful runs")
}

func runRuns(cmd *cobra.Command, args []string) {
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
	runs, err := runStore.ListRuns(ctx, runsType, runsSuccessOnly, runsLimit)
	if err != nil {
		log.Fatalf("Failed to list runs: %v", err)
	}

	if len(runs) == 0 {
		log.Println("No runs recorded.")
		return
	}

	log.Printf("%-6s %-10s %-20s %-16s %-10s %s", "ID", "TYPE", "STARTED", "BULLETIN", "CATEGORIES", "STATUS")
	for _, run := range runs {
		bulletin := "-"
		if run.BulletinDate.Valid {
			bulletin = run.BulletinDate.String
		}
		categories := int64(0)
		if run.CategoriesCount.Valid {
			categories = run.CategoriesCount.Int64
		}
		status := "failed"
		if run.Success {
			status = "success"
		}
		log.Printf("%-6d %-10s %-20s %-16s %-10d %s",
			run.ID, run.RunType, run.StartedAt.Format("2006-01-02 15:04:05"), bulletin, categories, status)
		if !run.Success && run.ErrorMessage.Valid {
			log.Printf("       error: %s", run.ErrorMessage.String)
		}
	}
}
