package extract

import (
	"regexp"
	"strings"
)

// headerRule maps a header substring to its normalized field name.
type headerRule struct {
	Substring string
	Field     string
}

// headerRules is checked in order; specific phrases must precede the
// generic ones they contain (e.g. "family preference" before
// "category"), so the first match wins.
var headerRules = []headerRule{
	{"visa category", "visa_category"},
	{"preference level", "preference_level"},
	{"family preference", "family_preference"},
	{"employment preference", "employment_preference"},
	{"final action date", "final_action_date"},
	{"cutoff date", "cutoff_date"},
	{"action date", "action_date"},
	{"processing date", "processing_date"},
	{"category", "category"},
	{"current", "current"},
}

var headerWhitespace = regexp.MustCompile(`\s+`)

// NormalizeHeader maps a raw column header to a stable field name.
// Unrecognized headers are lower-cased with whitespace runs collapsed to
// single underscores.
func NormalizeHeader(header string) string {
	lower := strings.ToLower(strings.TrimSpace(header))

	for _, rule := range headerRules {
		if strings.Contains(lower, rule.Substring) {
			return rule.Field
		}
	}

	return headerWhitespace.ReplaceAllString(lower, "_")
}
