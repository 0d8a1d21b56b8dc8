// Package handlers holds the fiber HTTP handlers for the subscription
// site and its JSON API.
package handlers

import (
	"context"
	"log"
	"sort"

	"github.com/gofiber/fiber/v2"

	"github.com/mfreeman/visatrack/internal/compare"
	"github.com/mfreeman/visatrack/internal/model"
	"github.com/mfreeman/visatrack/internal/store"
)

// RunReader is the subset of the run store the site handlers need.
type RunReader interface {
	GetRun(ctx context.Context, id int64) (*model.Run, error)
	GetLastSuccessfulRun(ctx context.Context, excludeID int64) (*model.Run, error)
	ListRuns(ctx context.Context, runType string, successOnly bool, limit int) ([]model.Run, error)
	GetComparisonForRun(ctx context.Context, runID int64) (*model.Comparison, error)
}

// SubscriptionWriter is the subset of the subscription store the site
// handlers need.
type SubscriptionWriter interface {
	Upsert(ctx context.Context, email string, categories []string, ipAddress, userAgent string) (*store.UpsertResult, error)
	DeactivateByToken(ctx context.Context, token string) (*model.Subscription, error)
	ListActiveForCategory(ctx context.Context, category string) ([]model.Subscription, error)
	CountActive(ctx context.Context) (int, error)
}

// CategoryOption is one subscribable category with its active
// subscriber count, for the home page checkboxes.
type CategoryOption struct {
	Code        string
	Subscribers int
}

// HomeHandler renders the subscription page with latest-bulletin stats.
func HomeHandler(runs RunReader, subs SubscriptionWriter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.Context()

		data := fiber.Map{
			"HasData":         false,
			"ValidCategories": categoryOptions(ctx, subs),
		}

		run, err := runs.GetLastSuccessfulRun(ctx, 0)
		if err != nil {
			log.Printf("Error loading latest run: %v", err)
		} else if run != nil {
			data["HasData"] = true
			data["BulletinDate"] = run.BulletinDate.String
			data["Categories"] = run.CategoriesCount.Int64
		}

		count, err := subs.CountActive(ctx)
		if err != nil {
			log.Printf("Error counting subscribers: %v", err)
		} else {
			data["Subscribers"] = count
		}

		return c.Render("index", data)
	}
}

// RunsHandler renders the run history page.
func RunsHandler(runs RunReader) fiber.Handler {
	return func(c *fiber.Ctx) error {
		runType := c.Query("type")
		limit := c.QueryInt("limit", 50)

		list, err := runs.ListRuns(c.Context(), runType, false, limit)
		if err != nil {
			log.Printf("Error listing runs: %v", err)
			return c.Status(fiber.StatusInternalServerError).SendString("Error loading runs")
		}

		return c.Render("runs", fiber.Map{"Runs": list})
	}
}

// RunDetailHandler renders one run with its stored comparison report.
func RunDetailHandler(runs RunReader) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := c.ParamsInt("id")
		if err != nil || id <= 0 {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid run id")
		}

		run, err := runs.GetRun(c.Context(), int64(id))
		if err != nil {
			log.Printf("Error loading run %d: %v", id, err)
			return c.Status(fiber.StatusInternalServerError).SendString("Error loading run")
		}
		if run == nil {
			return c.Status(fiber.StatusNotFound).SendString("Run not found")
		}

		data := fiber.Map{"Run": run}

		comp, err := runs.GetComparisonForRun(c.Context(), run.ID)
		if err != nil {
			log.Printf("Error loading comparison for run %d: %v", run.ID, err)
		} else if comp != nil && comp.Diff != nil {
			data["Report"] = compare.Format(comp.Diff)
		}

		return c.Render("run", data)
	}
}

// categoryOptions builds the home-page category list with per-category
// subscriber counts. Count lookups that fail just render as zero.
func categoryOptions(ctx context.Context, subs SubscriptionWriter) []CategoryOption {
	opts := make([]CategoryOption, 0, len(model.ValidCategories))
	for _, code := range sortedCategories() {
		opt := CategoryOption{Code: code}
		members, err := subs.ListActiveForCategory(ctx, code)
		if err != nil {
			log.Printf("Error counting subscribers for %s: %v", code, err)
		} else {
			opt.Subscribers = len(members)
		}
		opts = append(opts, opt)
	}
	return opts
}

func sortedCategories() []string {
	cats := make([]string, 0, len(model.ValidCategories))
	for cat := range model.ValidCategories {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	return cats
}
