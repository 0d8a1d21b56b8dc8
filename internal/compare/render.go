package compare

import (
	"fmt"
	"strings"

	"github.com/mfreeman/visatrack/internal/model"
)

// Format renders a comparison result as a human-readable report for
// terminal output.
func Format(result *model.ComparisonResult) string {
	rule := strings.Repeat("=", 60)

	var b strings.Builder
	b.WriteString(rule + "\n")
	b.WriteString("BULLETIN COMPARISON\n")
	b.WriteString(rule)

	if result.Error != nil {
		fmt.Fprintf(&b, "\n[ERROR] Comparison failed: %s", *result.Error)
		return b.String()
	}

	fmt.Fprintf(&b, "\nPrevious: %s", orUnknown(result.PreviousRunBulletinDate))
	fmt.Fprintf(&b, "\nCurrent:  %s", orUnknown(result.CurrentRunBulletinDate))
	fmt.Fprintf(&b, "\nCompared: %s\n", result.ComparedAt)

	if !result.HasChanges {
		b.WriteString("\nNo changes detected between the two bulletins.\n")
		b.WriteString(rule)
		return b.String()
	}

	b.WriteString("\nChanges detected:")
	fmt.Fprintf(&b, "\n  Categories added:    %d", result.Summary.CategoriesAdded)
	fmt.Fprintf(&b, "\n  Categories removed:  %d", result.Summary.CategoriesRemoved)
	fmt.Fprintf(&b, "\n  Categories changed:  %d", result.Summary.CategoriesChanged)
	fmt.Fprintf(&b, "\n  Total field changes: %d", result.Summary.TotalFieldChanges)

	for _, cat := range result.CategoriesAdded {
		fmt.Fprintf(&b, "\n\n  [ADDED]   %s", cat.Key())
	}
	for _, cat := range result.CategoriesRemoved {
		fmt.Fprintf(&b, "\n\n  [REMOVED] %s", cat.Key())
	}

	for _, catDiff := range result.CategoriesChanged {
		fmt.Fprintf(&b, "\n\n  %s:", catDiff.CategoryKey)
		for _, fc := range catDiff.FieldChanges {
			fmt.Fprintf(&b, "\n    %s: %s → %s  [%s]",
				fc.Field, orNone(fc.Previous), orNone(fc.Current),
				strings.ToUpper(string(fc.Direction)))
		}
	}

	b.WriteString("\n\n")
	b.WriteString(rule)
	return b.String()
}

func orUnknown(v *string) string {
	if v == nil || *v == "" {
		return "Unknown"
	}
	return *v
}

func orNone(v *string) string {
	if v == nil || *v == "" {
		return "(none)"
	}
	return *v
}
