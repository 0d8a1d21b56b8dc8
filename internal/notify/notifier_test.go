package notify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mfreeman/visatrack/internal/compare"
	"github.com/mfreeman/visatrack/internal/model"
)

type stubSubs struct {
	active  []model.Subscription
	byEmail map[string]*model.Subscription
}

func (s *stubSubs) ListActive(ctx context.Context) ([]model.Subscription, error) {
	return s.active, nil
}

func (s *stubSubs) GetByEmail(ctx context.Context, email string) (*model.Subscription, error) {
	return s.byEmail[email], nil
}

func testBulletin() *model.Bulletin {
	return &model.Bulletin{
		BulletinDate: "February 2026",
		ExtractedAt:  time.Now().UTC(),
		Categories: []model.CategoryRow{
			{"employment-based": "2nd", "cutoff_date": "15 MAR 23"},
			{"employment-based": "3rd", "cutoff_date": "01 JAN 23"},
			{"family-sponsored": "F2A", "cutoff_date": "Current"},
			{"region": "AFRICA", "cutoff_date": "01 JUN 25"},
		},
		TotalCategories: 4,
	}
}

func previousBulletin() *model.Bulletin {
	return &model.Bulletin{
		BulletinDate: "January 2026",
		ExtractedAt:  time.Now().UTC(),
		Categories: []model.CategoryRow{
			{"employment-based": "2nd", "cutoff_date": "01 JAN 23"},
			{"employment-based": "3rd", "cutoff_date": "01 JAN 23"},
			{"family-sponsored": "F2A", "cutoff_date": "Current"},
			{"region": "AFRICA", "cutoff_date": "01 MAY 25"},
		},
		TotalCategories: 4,
	}
}

func newTestNotifier(t *testing.T, subs SubscriptionSource) *Notifier {
	t.Helper()
	return NewNotifier(Config{
		FromEmail:  "tracker@example.com",
		AppBaseURL: "http://localhost:8080",
		PreviewDir: t.TempDir(),
	}, subs)
}

func TestChangedSubscriptionCodes(t *testing.T) {
	comparison := compare.Compare(testBulletin(), previousBulletin())

	codes := ChangedSubscriptionCodes(comparison)
	require.True(t, codes["EB-2"])
	require.True(t, codes["DV"], "regional DV keys should collapse to the DV code")
	require.False(t, codes["EB-3"])
	require.False(t, codes["F2A"])
}

func TestChangedSubscriptionCodesIncludesAddedAndRemoved(t *testing.T) {
	curr := &model.Bulletin{
		BulletinDate: "February 2026",
		Categories:   []model.CategoryRow{{"employment-based": "1st", "cutoff_date": "C"}},
	}
	prev := &model.Bulletin{
		BulletinDate: "January 2026",
		Categories:   []model.CategoryRow{{"family-sponsored": "F4", "cutoff_date": "01 JAN 10"}},
	}

	codes := ChangedSubscriptionCodes(compare.Compare(curr, prev))
	require.True(t, codes["EB-1"])
	require.True(t, codes["F4"])
}

func TestChangedSubscriptionCodesNilComparison(t *testing.T) {
	require.Empty(t, ChangedSubscriptionCodes(nil))
}

func TestBuildSubject(t *testing.T) {
	b := testBulletin()
	require.Equal(t, "Visa Bulletin Update (February 2026): Your categories changed",
		BuildSubject(b, true))
	require.Equal(t, "Visa Bulletin Update (February 2026): No changes to your categories",
		BuildSubject(b, false))
	require.Contains(t, BuildSubject(nil, false), "(Unknown)")
}

func TestBuildHTML(t *testing.T) {
	n := newTestNotifier(t, &stubSubs{})
	comparison := compare.Compare(testBulletin(), previousBulletin())

	sub := &model.Subscription{
		Email:            "user@example.com",
		Categories:       []string{"EB-2", "EB-3", "DV"},
		UnsubscribeToken: "tok-123",
	}

	html, err := n.BuildHTML(sub, comparison, testBulletin())
	require.NoError(t, err)

	require.Contains(t, html, "February 2026")
	require.Contains(t, html, "January 2026")
	require.Contains(t, html, "EB-2")
	require.Contains(t, html, "[UPDATED]")
	require.Contains(t, html, "Advanced: 01 JAN 23 → 15 MAR 23")
	require.Contains(t, html, "No change")
	require.Contains(t, html, "AFRICA")
	require.Contains(t, html, "http://localhost:8080/api/unsubscribe?token=tok-123")
}

func TestBuildHTMLNoDataForCategory(t *testing.T) {
	n := newTestNotifier(t, &stubSubs{})
	comparison := compare.EmptyResult(testBulletin())

	sub := &model.Subscription{
		Email:            "user@example.com",
		Categories:       []string{"F1"},
		UnsubscribeToken: "tok-123",
	}

	html, err := n.BuildHTML(sub, comparison, testBulletin())
	require.NoError(t, err)
	require.Contains(t, html, "No data available")
}

func TestNotifyAllDryRun(t *testing.T) {
	subs := &stubSubs{active: []model.Subscription{
		{Email: "changed@example.com", Categories: []string{"EB-2"}, UnsubscribeToken: "t1", IsActive: true},
		{Email: "unchanged@example.com", Categories: []string{"F2A"}, UnsubscribeToken: "t2", IsActive: true},
	}}
	n := newTestNotifier(t, subs)

	comparison := compare.Compare(testBulletin(), previousBulletin())
	stats, err := n.NotifyAll(context.Background(), comparison, testBulletin(), false, true)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Sent)
	require.Equal(t, 0, stats.Skipped)
	require.Equal(t, 0, stats.Failed)

	previews, err := filepath.Glob(filepath.Join(n.cfg.PreviewDir, "email_preview_*.html"))
	require.NoError(t, err)
	require.Len(t, previews, 2)
}

func TestNotifyAllUpdatedOnlySkipsUnchanged(t *testing.T) {
	subs := &stubSubs{active: []model.Subscription{
		{Email: "changed@example.com", Categories: []string{"EB-2"}, UnsubscribeToken: "t1", IsActive: true},
		{Email: "unchanged@example.com", Categories: []string{"F2A"}, UnsubscribeToken: "t2", IsActive: true},
	}}
	n := newTestNotifier(t, subs)

	comparison := compare.Compare(testBulletin(), previousBulletin())
	stats, err := n.NotifyAll(context.Background(), comparison, testBulletin(), true, true)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Sent)
	require.Equal(t, 1, stats.Skipped)
}

func TestSendTestUsesSubscriberCategories(t *testing.T) {
	sub := &model.Subscription{
		Email:            "user@example.com",
		Categories:       []string{"EB-2"},
		UnsubscribeToken: "real-token",
		IsActive:         true,
	}
	subs := &stubSubs{byEmail: map[string]*model.Subscription{"user@example.com": sub}}
	n := newTestNotifier(t, subs)

	err := n.SendTest(context.Background(), "user@example.com", testBulletin(), true)
	require.NoError(t, err)

	previews, err := filepath.Glob(filepath.Join(n.cfg.PreviewDir, "email_preview_*.html"))
	require.NoError(t, err)
	require.Len(t, previews, 1)

	content, err := os.ReadFile(previews[0])
	require.NoError(t, err)
	require.Contains(t, string(content), "real-token")
	require.Contains(t, string(content), "[TEST] Visa Bulletin Preview - February 2026")
}

func TestSendTestNonSubscriberGetsAllCategories(t *testing.T) {
	n := newTestNotifier(t, &stubSubs{})

	err := n.SendTest(context.Background(), "guest@example.com", testBulletin(), true)
	require.NoError(t, err)

	previews, err := filepath.Glob(filepath.Join(n.cfg.PreviewDir, "email_preview_*.html"))
	require.NoError(t, err)
	require.Len(t, previews, 1)

	content, err := os.ReadFile(previews[0])
	require.NoError(t, err)
	require.Contains(t, string(content), testPreviewToken)
	require.Contains(t, string(content), "EB-5")
	require.Contains(t, string(content), "F4")
}

func TestFieldLabel(t *testing.T) {
	require.Equal(t, "Cutoff Date", fieldLabel("cutoff_date"))
	require.Equal(t, "Final Action Date", fieldLabel("final_action_date"))
	require.Equal(t, "Family Sponsored", fieldLabel("family-sponsored"))
}
