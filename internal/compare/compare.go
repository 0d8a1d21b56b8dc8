// Package compare aligns the category rows of two bulletins by identity
// key and classifies every field-level change by direction.
package compare

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mfreeman/visatrack/internal/model"
)

const comparedAtLayout = "2006-01-02T15:04:05"

// currentValues are the spellings that mean "immediately available".
var currentValues = map[string]bool{"c": true, "current": true}

// Accepted cutoff date shapes: "01 JAN 26", "01JAN26" and the
// four-digit-year variants. Month names are matched case-insensitively
// through the month table because bulletins print them uppercase.
var cutoffDateRe = regexp.MustCompile(`^(\d{1,2})\s*([A-Za-z]{3})\s*(\d{2}|\d{4})$`)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// Compare diffs two bulletins and returns a structured result. It never
// panics: nil inputs and any internal fault are captured into the
// result's Error field with all aggregates left neutral.
func Compare(current, previous *model.Bulletin) (result *model.ComparisonResult) {
	comparedAt := time.Now().UTC().Format(comparedAtLayout)

	defer func() {
		if r := recover(); r != nil {
			result = failedResult(comparedAt, current, previous, fmt.Sprintf("comparison fault: %v", r))
		}
	}()

	if current == nil || previous == nil {
		return failedResult(comparedAt, current, previous, "cannot compare nil bulletin")
	}

	currentIndex := buildIndex(current.Categories)
	previousIndex := buildIndex(previous.Categories)

	var addedKeys, removedKeys, commonKeys []string
	for key := range currentIndex {
		if _, ok := previousIndex[key]; ok {
			commonKeys = append(commonKeys, key)
		} else {
			addedKeys = append(addedKeys, key)
		}
	}
	for key := range previousIndex {
		if _, ok := currentIndex[key]; !ok {
			removedKeys = append(removedKeys, key)
		}
	}
	sort.Strings(addedKeys)
	sort.Strings(removedKeys)
	sort.Strings(commonKeys)

	added := make([]model.CategoryRow, 0, len(addedKeys))
	for _, key := range addedKeys {
		added = append(added, currentIndex[key])
	}
	removed := make([]model.CategoryRow, 0, len(removedKeys))
	for _, key := range removedKeys {
		removed = append(removed, previousIndex[key])
	}

	changed := []model.CategoryDiff{}
	totalFieldChanges := 0
	for _, key := range commonKeys {
		diff := diffCategory(key, currentIndex[key], previousIndex[key])
		if diff != nil {
			changed = append(changed, *diff)
			totalFieldChanges += len(diff.FieldChanges)
		}
	}

	return &model.ComparisonResult{
		ComparedAt:              comparedAt,
		CurrentRunBulletinDate:  strPtr(current.BulletinDate),
		PreviousRunBulletinDate: strPtr(previous.BulletinDate),
		HasChanges:              len(added) > 0 || len(removed) > 0 || len(changed) > 0,
		Summary: model.ComparisonSummary{
			CategoriesAdded:   len(added),
			CategoriesRemoved: len(removed),
			CategoriesChanged: len(changed),
			TotalFieldChanges: totalFieldChanges,
		},
		CategoriesAdded:   added,
		CategoriesRemoved: removed,
		CategoriesChanged: changed,
		Error:             nil,
	}
}

// EmptyResult synthesizes a no-change comparison for a bulletin with no
// predecessor, so first runs still produce a well-formed result.
func EmptyResult(current *model.Bulletin) *model.ComparisonResult {
	result := &model.ComparisonResult{
		ComparedAt:        time.Now().UTC().Format(comparedAtLayout),
		CategoriesAdded:   []model.CategoryRow{},
		CategoriesRemoved: []model.CategoryRow{},
		CategoriesChanged: []model.CategoryDiff{},
	}
	if current != nil {
		result.CurrentRunBulletinDate = strPtr(current.BulletinDate)
	}
	return result
}

// buildIndex keys categories by identity for O(1) alignment. Rows that
// collide on a key silently resolve last-write-wins; a known limitation,
// not a detected error.
func buildIndex(categories []model.CategoryRow) map[string]model.CategoryRow {
	index := make(map[string]model.CategoryRow, len(categories))
	for _, cat := range categories {
		index[cat.Key()] = cat
	}
	return index
}

// diffCategory produces the field-level diff for one aligned category,
// or nil when every field is unchanged.
func diffCategory(key string, current, previous model.CategoryRow) *model.CategoryDiff {
	fieldSet := make(map[string]bool, len(current)+len(previous))
	for field := range current {
		fieldSet[field] = true
	}
	for field := range previous {
		fieldSet[field] = true
	}

	fields := make([]string, 0, len(fieldSet))
	for field := range fieldSet {
		if !model.IdentityFields[field] {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)

	var changes []model.FieldChange
	for _, field := range fields {
		currentVal, inCurrent := current[field]
		previousVal, inPrevious := previous[field]

		switch {
		case inCurrent && !inPrevious:
			changes = append(changes, model.FieldChange{
				Field:     field,
				Current:   strPtr(currentVal),
				Direction: model.DirectionAdded,
			})
		case !inCurrent && inPrevious:
			changes = append(changes, model.FieldChange{
				Field:     field,
				Previous:  strPtr(previousVal),
				Direction: model.DirectionRemoved,
			})
		case inCurrent && inPrevious:
			if change := diffValue(field, currentVal, previousVal); change != nil {
				changes = append(changes, *change)
			}
		}
	}

	if len(changes) == 0 {
		return nil
	}
	return &model.CategoryDiff{CategoryKey: key, FieldChanges: changes}
}

// diffValue compares two values of a field present on both sides.
// Returns nil when they are equal, including when both merely spell
// "current availability" differently.
func diffValue(field, currentVal, previousVal string) *model.FieldChange {
	c := strings.TrimSpace(currentVal)
	p := strings.TrimSpace(previousVal)

	if c == p {
		return nil
	}
	if isCurrent(c) && isCurrent(p) {
		return nil
	}

	change := &model.FieldChange{Field: field, Previous: strPtr(p), Current: strPtr(c)}

	switch {
	case isCurrent(c):
		change.Direction = model.DirectionBecameCurrent
	case isCurrent(p):
		change.Direction = model.DirectionLostCurrent
	default:
		cDate, cOK := parseCutoffDate(c)
		pDate, pOK := parseCutoffDate(p)
		if cOK && pOK {
			if cDate.After(pDate) {
				change.Direction = model.DirectionAdvanced
			} else {
				change.Direction = model.DirectionRetrogressed
			}
		} else {
			change.Direction = model.DirectionChanged
		}
	}

	return change
}

// isCurrent reports whether the value means "immediately available".
func isCurrent(value string) bool {
	return currentValues[strings.ToLower(strings.TrimSpace(value))]
}

// parseCutoffDate parses a bulletin cutoff date. Two-digit years follow
// the usual pivot: 00-68 map into the 2000s.
func parseCutoffDate(value string) (time.Time, bool) {
	m := cutoffDateRe.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return time.Time{}, false
	}

	month, ok := months[strings.ToLower(m[2])]
	if !ok {
		return time.Time{}, false
	}

	day := atoi(m[1])
	year := atoi(m[3])
	if len(m[3]) == 2 {
		if year <= 68 {
			year += 2000
		} else {
			year += 1900
		}
	}
	// time.Date normalizes overflow (31 FEB becomes 3 MAR); a value that
	// does not round-trip is not a real calendar date.
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != month {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

func strPtr(s string) *string {
	return &s
}

func failedResult(comparedAt string, current, previous *model.Bulletin, message string) *model.ComparisonResult {
	result := &model.ComparisonResult{
		ComparedAt:        comparedAt,
		CategoriesAdded:   []model.CategoryRow{},
		CategoriesRemoved: []model.CategoryRow{},
		CategoriesChanged: []model.CategoryDiff{},
		Error:             &message,
	}
	if current != nil {
		result.CurrentRunBulletinDate = strPtr(current.BulletinDate)
	}
	if previous != nil {
		result.PreviousRunBulletinDate = strPtr(previous.BulletinDate)
	}
	return result
}
