// Package notify builds and dispatches subscriber notification emails
// after a bulletin comparison.
package notify

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/smtp"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jordan-wright/email"

	"github.com/mfreeman/visatrack/internal/compare"
	"github.com/mfreeman/visatrack/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// testPreviewToken is used for test emails sent to addresses without a
// subscription, so the unsubscribe link is present but inert.
const testPreviewToken = "test-preview-no-token"

var directionLabels = map[model.Direction]string{
	model.DirectionAdvanced:      "Advanced",
	model.DirectionRetrogressed:  "Retrogressed",
	model.DirectionBecameCurrent: "Became Current",
	model.DirectionLostCurrent:   "Lost Current",
	model.DirectionChanged:       "Changed",
	model.DirectionAdded:         "Added",
	model.DirectionRemoved:       "Removed",
}

// Inline colors because email clients strip stylesheets.
var directionColours = map[model.Direction]string{
	model.DirectionAdvanced:      "#16a34a",
	model.DirectionBecameCurrent: "#16a34a",
	model.DirectionRetrogressed:  "#dc2626",
	model.DirectionLostCurrent:   "#dc2626",
	model.DirectionChanged:       "#d97706",
	model.DirectionAdded:         "#2563eb",
	model.DirectionRemoved:       "#6b7280",
}

// SubscriptionSource is the subset of the subscription store the
// notifier needs.
type SubscriptionSource interface {
	ListActive(ctx context.Context) ([]model.Subscription, error)
	GetByEmail(ctx context.Context, email string) (*model.Subscription, error)
}

// Config holds SMTP and link-building settings.
type Config struct {
	FromEmail  string
	SMTPHost   string
	SMTPPort   int
	SMTPUser   string
	SMTPPass   string
	AppBaseURL string
	// PreviewDir receives HTML files in dry-run mode. Defaults to the
	// system temp directory.
	PreviewDir string
}

// Stats tracks notification outcomes.
type Stats struct {
	Sent    int
	Skipped int
	Failed  int
}

// Notifier sends bulletin-change digests to subscribers.
type Notifier struct {
	cfg       Config
	subs      SubscriptionSource
	logger    *log.Logger
	errLogger *log.Logger
}

// NewNotifier creates a new Notifier.
func NewNotifier(cfg Config, subs SubscriptionSource) *Notifier {
	if cfg.PreviewDir == "" {
		cfg.PreviewDir = os.TempDir()
	}
	return &Notifier{
		cfg:       cfg,
		subs:      subs,
		logger:    log.New(os.Stdout, "", log.LstdFlags),
		errLogger: log.New(os.Stderr, "ERROR: ", log.LstdFlags),
	}
}

// ChangedSubscriptionCodes returns the subscription codes touched by a
// comparison: changed categories plus added and removed ones. Regional
// diversity-visa keys collapse to the single DV subscription code.
func ChangedSubscriptionCodes(comparison *model.ComparisonResult) map[string]bool {
	changed := make(map[string]bool)
	if comparison == nil {
		return changed
	}

	for _, catDiff := range comparison.CategoriesChanged {
		key := catDiff.CategoryKey
		if strings.HasPrefix(key, "DV-") {
			key = "DV"
		}
		changed[key] = true
	}
	for _, cat := range comparison.CategoriesAdded {
		if code := cat.SubscriptionCode(); code != "" {
			changed[code] = true
		}
	}
	for _, cat := range comparison.CategoriesRemoved {
		if code := cat.SubscriptionCode(); code != "" {
			changed[code] = true
		}
	}
	return changed
}

// BuildSubject builds the notification subject line.
func BuildSubject(bulletin *model.Bulletin, hasRelevantChanges bool) string {
	date := "Unknown"
	if bulletin != nil && bulletin.BulletinDate != "" {
		date = bulletin.BulletinDate
	}
	if hasRelevantChanges {
		return fmt.Sprintf("Visa Bulletin Update (%s): Your categories changed", date)
	}
	return fmt.Sprintf("Visa Bulletin Update (%s): No changes to your categories", date)
}

// BuildHTML renders the full HTML body for one subscriber.
func (n *Notifier) BuildHTML(sub *model.Subscription, comparison *model.ComparisonResult, bulletin *model.Bulletin) (string, error) {
	changedIndex := make(map[string][]model.FieldChange)
	for _, catDiff := range comparison.CategoriesChanged {
		changedIndex[catDiff.CategoryKey] = catDiff.FieldChanges
	}

	var table strings.Builder
	for _, code := range sub.Categories {
		matching := findRowsForCode(code, bulletin.Categories)

		hasCatChange := false
		for _, row := range matching {
			if len(changedIndex[row.Key()]) > 0 {
				hasCatChange = true
				break
			}
		}

		rowBg := "#ffffff"
		if hasCatChange {
			rowBg = "#fef9c3"
		}

		fmt.Fprintf(&table,
			`<tr style="background:%s"><td colspan="3" style="padding:8px 12px;font-weight:bold;border-bottom:1px solid #e5e7eb;color:#1f2937;">%s`,
			rowBg, template.HTMLEscapeString(code))
		if hasCatChange {
			table.WriteString(` <span style="color:#d97706;font-size:12px;">[UPDATED]</span>`)
		}
		table.WriteString("</td></tr>")

		if len(matching) == 0 {
			fmt.Fprintf(&table,
				`<tr style="background:%s"><td colspan="3" style="padding:4px 12px 4px 24px;color:#9ca3af;font-size:13px;font-style:italic;">No data available</td></tr>`,
				rowBg)
			continue
		}

		for _, row := range matching {
			changeMap := make(map[string]model.FieldChange)
			for _, fc := range changedIndex[row.Key()] {
				changeMap[fc.Field] = fc
			}

			// DV subscriptions cover several region rows; label each.
			if code == "DV" {
				if region := row["region"]; region != "" {
					fmt.Fprintf(&table,
						`<tr style="background:%s"><td colspan="3" style="padding:3px 12px 2px 24px;color:#374151;font-size:12px;font-weight:bold;">%s</td></tr>`,
						rowBg, template.HTMLEscapeString(region))
				}
			}

			dataFields := row.DataFields()
			fields := make([]string, 0, len(dataFields))
			for field := range dataFields {
				fields = append(fields, field)
			}
			sort.Strings(fields)

			for _, field := range fields {
				currentVal := dataFields[field]
				var changeCell string
				if fc, ok := changeMap[field]; ok {
					colour := directionColours[fc.Direction]
					if colour == "" {
						colour = "#6b7280"
					}
					label := directionLabels[fc.Direction]
					if label == "" {
						label = string(fc.Direction)
					}
					prevVal := "(none)"
					if fc.Previous != nil && *fc.Previous != "" {
						prevVal = *fc.Previous
					}
					changeCell = fmt.Sprintf(
						`<span style="color:%s;font-weight:bold;">%s: %s → %s</span>`,
						colour, label,
						template.HTMLEscapeString(prevVal),
						template.HTMLEscapeString(currentVal))
				} else {
					changeCell = `<span style="color:#6b7280;">No change</span>`
				}

				fmt.Fprintf(&table,
					`<tr style="background:%s"><td style="padding:4px 12px 4px 24px;color:#6b7280;font-size:13px;">%s</td><td style="padding:4px 12px;font-size:13px;">%s</td><td style="padding:4px 12px;font-size:13px;">%s</td></tr>`,
					rowBg,
					template.HTMLEscapeString(fieldLabel(field)),
					template.HTMLEscapeString(currentVal),
					changeCell)
			}
		}
	}

	if table.Len() == 0 {
		table.WriteString(`<tr><td colspan="3" style="padding:12px;color:#9ca3af;">No subscribed categories.</td></tr>`)
	}

	summaryText := "No changes detected since the previous bulletin."
	summaryColour := "#16a34a"
	if comparison.HasChanges {
		summaryText = fmt.Sprintf("%d category(ies) changed, %d added, %d removed",
			comparison.Summary.CategoriesChanged,
			comparison.Summary.CategoriesAdded,
			comparison.Summary.CategoriesRemoved)
		summaryColour = "#d97706"
	}

	data := struct {
		BulletinDate    string
		PrevDate        string
		SummaryColour   template.CSS
		SummaryText     string
		CategoriesTable template.HTML
		UnsubscribeURL  string
	}{
		BulletinDate:    bulletin.BulletinDate,
		SummaryColour:   template.CSS(summaryColour),
		SummaryText:     summaryText,
		CategoriesTable: template.HTML(table.String()),
		UnsubscribeURL:  fmt.Sprintf("%s/api/unsubscribe?token=%s", n.cfg.AppBaseURL, sub.UnsubscribeToken),
	}
	if comparison.PreviousRunBulletinDate != nil {
		data.PrevDate = *comparison.PreviousRunBulletinDate
	}

	var out strings.Builder
	if err := templates.ExecuteTemplate(&out, "email_body.html", data); err != nil {
		return "", fmt.Errorf("failed to render email body: %w", err)
	}
	return out.String(), nil
}

// NotifyAll emails every active subscriber about a comparison. With
// updatedOnly set, subscribers whose categories did not move are
// skipped. With dryRun set, emails are saved as HTML previews instead
// of being sent.
func (n *Notifier) NotifyAll(ctx context.Context, comparison *model.ComparisonResult, bulletin *model.Bulletin, updatedOnly, dryRun bool) (*Stats, error) {
	stats := &Stats{}
	changedCodes := ChangedSubscriptionCodes(comparison)

	subs, err := n.subs.ListActive(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to fetch subscriptions: %w", err)
	}

	for i := range subs {
		sub := &subs[i]

		hasRelevant := false
		for _, code := range sub.Categories {
			if changedCodes[code] {
				hasRelevant = true
				break
			}
		}

		if updatedOnly && !hasRelevant {
			stats.Skipped++
			continue
		}

		subject := BuildSubject(bulletin, hasRelevant)
		body, err := n.BuildHTML(sub, comparison, bulletin)
		if err != nil {
			n.errLogger.Printf("Failed to build email for %s: %v", sub.Email, err)
			stats.Failed++
			continue
		}

		if dryRun {
			if _, err := n.previewToFile(sub.Email, subject, body); err != nil {
				n.errLogger.Printf("Failed to save preview for %s: %v", sub.Email, err)
				stats.Failed++
				continue
			}
		} else if err := n.sendEmail(sub.Email, subject, body); err != nil {
			n.errLogger.Printf("Failed to send email to %s: %v", sub.Email, err)
			stats.Failed++
			continue
		}
		stats.Sent++
	}

	return stats, nil
}

// SendTest sends a preview email built from the given bulletin to a
// single address, subscribed or not. Non-subscribers get a digest over
// every subscribable category.
func (n *Notifier) SendTest(ctx context.Context, toAddr string, bulletin *model.Bulletin, dryRun bool) error {
	sub := &model.Subscription{
		Email:            toAddr,
		Categories:       allCategoryCodes(),
		UnsubscribeToken: testPreviewToken,
	}

	if existing, err := n.subs.GetByEmail(ctx, toAddr); err == nil && existing != nil && existing.IsActive {
		sub.Categories = existing.Categories
		sub.UnsubscribeToken = existing.UnsubscribeToken
	}

	comparison := compare.EmptyResult(bulletin)

	subject := fmt.Sprintf("[TEST] Visa Bulletin Preview - %s", bulletin.BulletinDate)
	body, err := n.BuildHTML(sub, comparison, bulletin)
	if err != nil {
		return err
	}

	if dryRun {
		_, err := n.previewToFile(toAddr, subject, body)
		return err
	}
	return n.sendEmail(toAddr, subject, body)
}

// PrintSummary prints notification statistics.
func (n *Notifier) PrintSummary(stats *Stats) {
	n.logger.Println("")
	n.logger.Println("=== Notification Summary ===")
	n.logger.Printf("Sent:    %d", stats.Sent)
	n.logger.Printf("Skipped: %d", stats.Skipped)
	n.logger.Printf("Failed:  %d", stats.Failed)
}

// sendEmail dispatches one message over SMTP. Servers without AUTH
// support get a second, credential-less attempt.
func (n *Notifier) sendEmail(toAddr, subject, htmlBody string) error {
	if n.cfg.FromEmail == "" {
		return fmt.Errorf("from address is not configured; set the sender or use dry-run previews")
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Visa Bulletin Tracker <%s>", n.cfg.FromEmail)
	mail.To = []string{toAddr}
	mail.Subject = subject
	mail.HTML = []byte(htmlBody)

	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)
	err := mail.Send(addr, smtp.PlainAuth("", n.cfg.SMTPUser, n.cfg.SMTPPass, n.cfg.SMTPHost))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("smtp send to %s failed: %w", toAddr, err)
	}

	n.logger.Printf("Email sent to %s", toAddr)
	return nil
}

// previewToFile saves an email as a standalone HTML file for browser
// inspection and returns its path.
func (n *Notifier) previewToFile(toAddr, subject, htmlBody string) (string, error) {
	timestamp := time.Now().Format("20060102_150405")
	safeEmail := strings.NewReplacer("@", "_at_", ".", "_").Replace(toAddr)
	path := filepath.Join(n.cfg.PreviewDir, fmt.Sprintf("email_preview_%s_%s.html", safeEmail, timestamp))

	data := struct {
		Subject string
		To      string
		Body    template.HTML
	}{Subject: subject, To: toAddr, Body: template.HTML(htmlBody)}

	var out strings.Builder
	if err := templates.ExecuteTemplate(&out, "email_preview.html", data); err != nil {
		return "", fmt.Errorf("failed to render preview: %w", err)
	}

	if err := os.WriteFile(path, []byte(out.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to save preview: %w", err)
	}

	n.logger.Printf("Preview saved: %s", path)
	return path, nil
}

// findRowsForCode returns the bulletin rows belonging to a subscription
// code.
func findRowsForCode(code string, categories []model.CategoryRow) []model.CategoryRow {
	var rows []model.CategoryRow
	for _, cat := range categories {
		if cat.SubscriptionCode() == code {
			rows = append(rows, cat)
		}
	}
	return rows
}

func allCategoryCodes() []string {
	codes := make([]string, 0, len(model.ValidCategories))
	for code := range model.ValidCategories {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// fieldLabel turns a normalized field name into a display label.
func fieldLabel(field string) string {
	words := strings.FieldsFunc(field, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
