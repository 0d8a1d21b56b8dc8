package extract

import (
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mfreeman/visatrack/internal/model"
)

const monthNames = `January|February|March|April|May|June|July|August|September|October|November|December`

var (
	// Prefer an explicit "current ... bulletin" marker over arbitrary
	// month mentions, then the January convention, then anything.
	currentBulletinRe = regexp.MustCompile(`(?is)current\s+bulletin.*?(` + monthNames + `)\s+(\d{4})`)
	januaryRe         = regexp.MustCompile(`(?i)January\s+(\d{4})`)
	monthYearRe       = regexp.MustCompile(`(?i)(` + monthNames + `)\s+(\d{4})`)

	// Category codes as they appear in bulletin markup.
	visaCodeRe = regexp.MustCompile(`(EB-\d|F-?\d+[A-Z]?|DV|IR-|K-|V-|T-|U-|VAWA)`)
	// Cutoff values: "01 JAN 26" or the literal Current.
	cutoffRe = regexp.MustCompile(`(\d{1,2}\s+[A-Z]{3}\s+\d{2}|Current)`)
	// Looser code pattern for free-text lines.
	lineCodeRe = regexp.MustCompile(`EB-\d|F-\d|DV`)

	innerWhitespace = regexp.MustCompile(`\s\s+`)
)

// Extractor turns raw bulletin markup into a normalized Bulletin. It
// tries multiple parsing strategies so reformatting of the source page
// degrades extraction quality instead of breaking it outright.
type Extractor struct {
	logger    *log.Logger
	errLogger *log.Logger

	// Debug dumps the raw markup to DebugFile when no categories come
	// out, for offline inspection of layout drift.
	Debug     bool
	DebugFile string
}

// NewExtractor creates a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{
		logger:    log.New(os.Stdout, "", log.LstdFlags),
		errLogger: log.New(os.Stderr, "ERROR: ", log.LstdFlags),
		DebugFile: "debug_page.html",
	}
}

// Extract parses bulletin markup into a Bulletin. A document in which no
// strategy finds any category rows is not an error: it yields a Bulletin
// with zero categories, and the caller decides whether that is a parsing
// regression.
func (e *Extractor) Extract(rawMarkup string) (*model.Bulletin, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawMarkup))
	if err != nil {
		return nil, err
	}

	text := doc.Text()
	bulletinDate := e.discoverDate(text)

	var categories []model.CategoryRow

	tables := doc.Find("table")
	categories = e.extractFromTables(tables)

	// Container scan only applies to genuinely table-less layouts. A
	// page whose tables yielded nothing is left to the text fallback.
	if len(categories) == 0 && tables.Length() == 0 {
		categories = e.extractFromContainers(doc)
	}
	if len(categories) == 0 {
		categories = e.extractFromText(text)
	}

	if len(categories) == 0 && e.Debug {
		e.dumpMarkup(rawMarkup)
	}

	return &model.Bulletin{
		BulletinDate:    bulletinDate,
		ExtractedAt:     time.Now().UTC(),
		Categories:      categories,
		TotalCategories: len(categories),
	}, nil
}

// discoverDate finds the bulletin's month/year label in the document
// text. It never fails: with no month mention anywhere it falls back to
// the current calendar month.
func (e *Extractor) discoverDate(text string) string {
	if m := currentBulletinRe.FindStringSubmatch(text); m != nil {
		return m[1] + " " + m[2]
	}
	if m := januaryRe.FindStringSubmatch(text); m != nil {
		return "January " + m[1]
	}
	if m := monthYearRe.FindStringSubmatch(text); m != nil {
		return m[1] + " " + m[2]
	}
	return time.Now().Format("January 2006")
}

// extractFromTables reads every table with at least a header row and one
// data row, zipping cell values against normalized headers.
func (e *Extractor) extractFromTables(tables *goquery.Selection) []model.CategoryRow {
	var categories []model.CategoryRow

	tables.Each(func(_ int, table *goquery.Selection) {
		rows := table.Find("tr")
		if rows.Length() < 2 {
			return
		}

		var headers []string
		rows.Eq(0).Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			headers = append(headers, NormalizeHeader(cleanText(cell)))
		})

		for i := 1; i < rows.Length(); i++ {
			var values []string
			rows.Eq(i).Find("td, th").Each(func(_ int, cell *goquery.Selection) {
				values = append(values, cleanText(cell))
			})
			if len(values) == 0 {
				continue
			}

			row := model.CategoryRow{}
			for idx, header := range headers {
				if idx < len(values) {
					row[header] = values[idx]
				}
			}
			// Rows that carry no data beyond identity labels are not
			// categories.
			if len(row) == 0 || len(row.DataFields()) == 0 {
				continue
			}
			categories = append(categories, row)
		}
	})

	return categories
}

// extractFromContainers scans block and inline containers for rows in
// table-less layouts. A container qualifies when its text mentions a
// category code and is long enough to plausibly hold a data row.
func (e *Extractor) extractFromContainers(doc *goquery.Document) []model.CategoryRow {
	var categories []model.CategoryRow
	seen := make(map[string]bool)

	doc.Find("div, p, li, span, td, dd").Each(func(_ int, sel *goquery.Selection) {
		text := cleanText(sel)
		if len(text) <= 10 || !visaCodeRe.MatchString(text) {
			return
		}

		parentText := ""
		if parent := sel.Parent(); parent.Length() > 0 {
			parentText = cleanText(parent)
		}
		row := rowFromText(text, parentText)
		if row == nil {
			return
		}
		if key := row.Canonical(); !seen[key] {
			seen[key] = true
			categories = append(categories, row)
		}
	})

	return categories
}

// extractFromText is the last-resort line scan over the document text.
func (e *Extractor) extractFromText(text string) []model.CategoryRow {
	var categories []model.CategoryRow

	for _, line := range strings.Split(text, "\n") {
		if len(line) <= 5 || !lineCodeRe.MatchString(line) {
			continue
		}
		if row := rowFromText(line, ""); row != nil {
			categories = append(categories, row)
		}
	}

	return categories
}

// rowFromText extracts a single category row from a chunk of text: the
// first code match plus up to two date-like values. When the text itself
// holds no dates, the surrounding context is searched instead. Returns
// nil unless at least one date was found.
func rowFromText(text, contextText string) model.CategoryRow {
	code := visaCodeRe.FindString(text)
	if code == "" {
		return nil
	}

	dates := cutoffRe.FindAllString(text, 2)
	if len(dates) == 0 && contextText != "" {
		dates = cutoffRe.FindAllString(contextText, 2)
	}
	if len(dates) == 0 {
		return nil
	}

	row := model.CategoryRow{"visa_category": code}
	row["cutoff_date"] = dates[0]
	if len(dates) > 1 {
		row["final_action_date"] = dates[1]
	}
	return row
}

// dumpMarkup saves the raw input for manual inspection.
func (e *Extractor) dumpMarkup(rawMarkup string) {
	if err := os.WriteFile(e.DebugFile, []byte(rawMarkup), 0o644); err != nil {
		e.errLogger.Printf("Failed to save markup for inspection: %v", err)
		return
	}
	e.logger.Printf("No categories extracted; markup saved to %s", e.DebugFile)
}

// cleanText returns the selection's text with leading/trailing space
// trimmed and internal whitespace runs collapsed.
func cleanText(sel *goquery.Selection) string {
	return strings.TrimSpace(innerWhitespace.ReplaceAllString(sel.Text(), " "))
}
