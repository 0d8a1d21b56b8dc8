// Package service orchestrates the tracking pipeline: fetch, extract,
// persist, compare and notify.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mfreeman/visatrack/internal/compare"
	"github.com/mfreeman/visatrack/internal/extract"
	"github.com/mfreeman/visatrack/internal/model"
	"github.com/mfreeman/visatrack/internal/notify"
)

// BulletinFetcher retrieves bulletin markup.
type BulletinFetcher interface {
	FetchPage(ctx context.Context, url string) (string, error)
	FetchCurrentBulletin(ctx context.Context) (markup, url string, err error)
}

// RunRecorder persists runs and comparisons.
type RunRecorder interface {
	InsertRun(ctx context.Context, run *model.Run) error
	GetLastSuccessfulRun(ctx context.Context, excludeID int64) (*model.Run, error)
	InsertComparison(ctx context.Context, comp *model.Comparison) error
}

// Mailer dispatches subscriber notifications.
type Mailer interface {
	NotifyAll(ctx context.Context, comparison *model.ComparisonResult, bulletin *model.Bulletin, updatedOnly, dryRun bool) (*notify.Stats, error)
}

// TrackOptions controls a single tracking run.
type TrackOptions struct {
	// URL overrides landing-page discovery and fetches this bulletin
	// page directly.
	URL string
	// Output writes the extracted bulletin as JSON to this path.
	Output string
	// RunType labels the run record; defaults to official.
	RunType string
	// NoNotify skips the notification step.
	NoNotify bool
	// UpdatedOnly notifies only subscribers whose categories changed.
	UpdatedOnly bool
	// PrintLocal saves notification emails as HTML previews instead of
	// sending them.
	PrintLocal bool
	// Verbose logs every extracted category row.
	Verbose bool
}

// TrackStats summarizes a tracking run.
type TrackStats struct {
	RunID         int64
	Success       bool
	BulletinDate  string
	Categories    int
	HasChanges    bool
	FirstRun      bool
	NotifyStats   *notify.Stats
	NotifySkipped bool
}

// Tracker runs the end-to-end bulletin tracking pipeline.
type Tracker struct {
	fetcher   BulletinFetcher
	extractor *extract.Extractor
	runs      RunRecorder
	notifier  Mailer
	metrics   *Metrics
	logger    *log.Logger
	errLogger *log.Logger
}

// NewTracker creates a new Tracker. notifier and metrics may be nil;
// the corresponding steps are then skipped.
func NewTracker(fetcher BulletinFetcher, extractor *extract.Extractor, runs RunRecorder, notifier Mailer, metrics *Metrics) *Tracker {
	return &Tracker{
		fetcher:   fetcher,
		extractor: extractor,
		runs:      runs,
		notifier:  notifier,
		metrics:   metrics,
		logger:    log.New(os.Stdout, "", log.LstdFlags),
		errLogger: log.New(os.Stderr, "ERROR: ", log.LstdFlags),
	}
}

// Run executes one tracking run: fetch the current bulletin, extract
// its categories, persist the run, diff it against the previous
// successful run and notify subscribers. Failed fetches and extractions
// are recorded as failed runs before the error is returned.
func (t *Tracker) Run(ctx context.Context, opts TrackOptions) (*TrackStats, error) {
	stats := &TrackStats{}
	startedAt := time.Now().UTC()

	runType := opts.RunType
	if runType == "" {
		runType = model.RunTypeOfficial
	}

	// Look up the previous run before inserting the new one, so the new
	// record can never be its own comparison baseline.
	previous, err := t.runs.GetLastSuccessfulRun(ctx, 0)
	if err != nil {
		return stats, fmt.Errorf("failed to look up previous run: %w", err)
	}

	var markup, sourceURL string
	if opts.URL != "" {
		sourceURL = opts.URL
		t.logger.Printf("Fetching bulletin from %s", sourceURL)
		markup, err = t.fetcher.FetchPage(ctx, sourceURL)
	} else {
		t.logger.Println("Discovering current bulletin from landing page...")
		markup, sourceURL, err = t.fetcher.FetchCurrentBulletin(ctx)
	}
	if err != nil {
		t.metrics.IncFetchError()
		t.metrics.IncRun("fetch_failed")
		t.recordFailure(ctx, runType, startedAt, sourceURL, err)
		return stats, fmt.Errorf("fetch failed: %w", err)
	}

	bulletin, err := t.extractor.Extract(markup)
	if err != nil {
		t.metrics.IncRun("extract_failed")
		t.recordFailure(ctx, runType, startedAt, sourceURL, err)
		return stats, fmt.Errorf("extraction failed: %w", err)
	}

	t.metrics.ObserveCategories(bulletin.TotalCategories)
	t.logger.Printf("Extracted %d categories for %s", bulletin.TotalCategories, bulletin.BulletinDate)
	if opts.Verbose {
		for _, row := range bulletin.Categories {
			t.logger.Printf("  %s: %s", row.Key(), describeRow(row))
		}
	}

	// A bulletin with no categories means the page layout defeated every
	// extraction strategy; record the run as failed.
	success := bulletin.TotalCategories > 0

	run := &model.Run{
		RunType:         runType,
		StartedAt:       startedAt,
		CompletedAt:     sql.NullTime{Time: time.Now().UTC(), Valid: true},
		Success:         success,
		BulletinDate:    sql.NullString{String: bulletin.BulletinDate, Valid: bulletin.BulletinDate != ""},
		SourceURL:       sql.NullString{String: sourceURL, Valid: sourceURL != ""},
		Data:            bulletin,
		CategoriesCount: sql.NullInt64{Int64: int64(bulletin.TotalCategories), Valid: true},
	}
	if !success {
		run.ErrorMessage = sql.NullString{String: "no categories extracted", Valid: true}
	}

	if err := t.runs.InsertRun(ctx, run); err != nil {
		return stats, fmt.Errorf("failed to store run: %w", err)
	}
	stats.RunID = run.ID
	stats.Success = success
	stats.BulletinDate = bulletin.BulletinDate
	stats.Categories = bulletin.TotalCategories

	if opts.Output != "" {
		if err := writeBulletinJSON(bulletin, opts.Output); err != nil {
			t.errLogger.Printf("Failed to write output file: %v", err)
		} else {
			t.logger.Printf("Bulletin data written to %s", opts.Output)
		}
	}

	if !success {
		t.metrics.IncRun("empty")
		return stats, fmt.Errorf("no categories extracted from %s", sourceURL)
	}
	t.metrics.IncRun("success")

	var comparison *model.ComparisonResult
	if previous != nil && previous.Data != nil {
		comparison = compare.Compare(bulletin, previous.Data)
	} else {
		stats.FirstRun = true
		comparison = compare.EmptyResult(bulletin)
		t.logger.Println("No previous run found; treating this as the first run")
	}
	stats.HasChanges = comparison.HasChanges

	fmt.Println(compare.Format(comparison))

	if previous != nil {
		comp := &model.Comparison{
			RunID:         run.ID,
			PreviousRunID: previous.ID,
			ComparedAt:    time.Now().UTC(),
			HasChanges:    comparison.HasChanges,
			Diff:          comparison,
		}
		if err := t.runs.InsertComparison(ctx, comp); err != nil {
			t.errLogger.Printf("Failed to store comparison: %v", err)
		}
	}

	if opts.NoNotify || t.notifier == nil {
		stats.NotifySkipped = true
		return stats, nil
	}

	notifyStats, err := t.notifier.NotifyAll(ctx, comparison, bulletin, opts.UpdatedOnly, opts.PrintLocal)
	if err != nil {
		t.errLogger.Printf("Notification failed: %v", err)
	}
	if notifyStats != nil {
		stats.NotifyStats = notifyStats
		t.metrics.AddNotifications("sent", notifyStats.Sent)
		t.metrics.AddNotifications("skipped", notifyStats.Skipped)
		t.metrics.AddNotifications("failed", notifyStats.Failed)
	}

	return stats, nil
}

// recordFailure stores a failed run so history reflects every attempt.
func (t *Tracker) recordFailure(ctx context.Context, runType string, startedAt time.Time, sourceURL string, cause error) {
	run := &model.Run{
		RunType:      runType,
		StartedAt:    startedAt,
		CompletedAt:  sql.NullTime{Time: time.Now().UTC(), Valid: true},
		Success:      false,
		SourceURL:    sql.NullString{String: sourceURL, Valid: sourceURL != ""},
		ErrorMessage: sql.NullString{String: cause.Error(), Valid: true},
	}
	if err := t.runs.InsertRun(ctx, run); err != nil {
		t.errLogger.Printf("Failed to record failed run: %v", err)
	}
}

// PrintSummary prints the tracking run statistics.
func (t *Tracker) PrintSummary(stats *TrackStats) {
	t.logger.Println("")
	t.logger.Println("=== Tracking Summary ===")
	t.logger.Printf("Run ID:          %d", stats.RunID)
	t.logger.Printf("Bulletin:        %s", stats.BulletinDate)
	t.logger.Printf("Categories:      %d", stats.Categories)
	t.logger.Printf("Changes:         %t", stats.HasChanges)
	if stats.FirstRun {
		t.logger.Println("First run:       yes (no comparison baseline)")
	}
	if stats.NotifySkipped {
		t.logger.Println("Notifications:   skipped")
	} else if stats.NotifyStats != nil {
		t.logger.Printf("Notifications:   %d sent, %d skipped, %d failed",
			stats.NotifyStats.Sent, stats.NotifyStats.Skipped, stats.NotifyStats.Failed)
	}
}

// describeRow renders a category row's data fields as sorted
// field=value pairs for verbose logging.
func describeRow(row model.CategoryRow) string {
	data := row.DataFields()
	fields := make([]string, 0, len(data))
	for field := range data {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+"="+data[field])
	}
	return strings.Join(parts, " ")
}

func writeBulletinJSON(bulletin *model.Bulletin, path string) error {
	data, err := json.MarshalIndent(bulletin, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bulletin: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
