package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// IdentityFields name the columns that identify a category row rather
// than carrying a date value. They are excluded from field-level diffs.
var IdentityFields = map[string]bool{
	"visa_category":         true,
	"preference_level":      true,
	"family_preference":     true,
	"employment_preference": true,
	"category":              true,
	"family-sponsored":      true,
	"employment-based":      true,
	"region":                true,
}

// ebOrdinals maps employment-based preference ordinals to the EB codes
// used for subscriptions and row identity. Order matters for the prefix
// match on values like "1st Preference".
var ebOrdinals = []struct {
	Ordinal string
	Code    string
}{
	{"1st", "EB-1"},
	{"2nd", "EB-2"},
	{"3rd", "EB-3"},
	{"4th", "EB-4"},
	{"5th", "EB-5"},
}

// ValidCategories is the canonical set of subscribable category codes.
var ValidCategories = map[string]bool{
	"EB-1": true, "EB-2": true, "EB-3": true, "EB-4": true, "EB-5": true,
	"F1": true, "F2A": true, "F2B": true, "F3": true, "F4": true,
	"DV": true,
}

// CategoryRow is one visa category's normalized field/value mapping for
// one bulletin. Columns vary between bulletins, so the shape stays open.
type CategoryRow map[string]string

// Bulletin is one extraction run's snapshot of all category rows.
type Bulletin struct {
	BulletinDate    string        `json:"bulletin_date"`
	ExtractedAt     time.Time     `json:"extracted_at"`
	Categories      []CategoryRow `json:"categories"`
	TotalCategories int           `json:"total_categories"`
}

// ebCode maps an employment-based column value to its EB code, trying an
// exact ordinal match, then a prefix match, then giving up and returning
// the raw value (e.g. "Other Workers").
func ebCode(value string) string {
	for _, m := range ebOrdinals {
		if value == m.Ordinal {
			return m.Code
		}
	}
	lower := strings.ToLower(value)
	for _, m := range ebOrdinals {
		if strings.HasPrefix(lower, m.Ordinal) {
			return m.Code
		}
	}
	return value
}

// legacyIdentityFields is the fallback chain for rows that use older
// column layouts. Checked in order.
var legacyIdentityFields = []string{
	"visa_category",
	"preference_level",
	"family_preference",
	"employment_preference",
	"category",
}

// deriveKey implements the shared identity derivation. Diversity-visa
// rows are keyed per region when splitRegions is true (comparison
// alignment) and collapsed to "DV" otherwise (subscription addressing).
func (c CategoryRow) deriveKey(splitRegions bool) string {
	if fs := strings.TrimSpace(c["family-sponsored"]); fs != "" {
		return fs
	}
	if eb := strings.TrimSpace(c["employment-based"]); eb != "" {
		return ebCode(eb)
	}
	if region := strings.TrimSpace(c["region"]); region != "" {
		if splitRegions {
			return "DV-" + region
		}
		return "DV"
	}
	for _, field := range legacyIdentityFields {
		if v := strings.TrimSpace(c[field]); v != "" {
			return v
		}
	}
	return c.canonical()
}

// Key returns the identity key used to align this row across two
// bulletins. Deterministic: the same row always derives the same key.
func (c CategoryRow) Key() string {
	return c.deriveKey(true)
}

// SubscriptionCode returns the subscription category code this row
// belongs to. Identical to Key except that all diversity-visa regions
// map to the single "DV" code.
func (c CategoryRow) SubscriptionCode() string {
	return c.deriveKey(false)
}

// canonical builds a deterministic string from the row's sorted
// field/value pairs. Used as the identity fallback for rows with no
// identity field and for exact-duplicate detection during extraction.
func (c CategoryRow) canonical() string {
	fields := make([]string, 0, len(c))
	for field := range c {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var b strings.Builder
	for i, field := range fields {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%s=%s", field, c[field])
	}
	return b.String()
}

// Canonical exposes the sorted-field representation for deduplication.
func (c CategoryRow) Canonical() string {
	return c.canonical()
}

// DataFields returns the row's non-identity fields.
func (c CategoryRow) DataFields() map[string]string {
	data := make(map[string]string, len(c))
	for field, value := range c {
		if !IdentityFields[field] {
			data[field] = value
		}
	}
	return data
}
