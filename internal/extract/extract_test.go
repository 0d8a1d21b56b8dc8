package extract

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const tableMarkup = `
<html>
<body>
<h1>Current Bulletin for February 2026</h1>
<table>
  <tr><th>Employment-Based</th><th>Cutoff Date</th></tr>
  <tr><td>1st</td><td>Current</td></tr>
  <tr><td>2nd</td><td>15 JUN 23</td></tr>
  <tr><td>3rd</td><td>01 JAN 23</td></tr>
</table>
<table>
  <tr><th>Family Preference</th><th>Cutoff Date</th></tr>
  <tr><td>F2A</td><td>01 SEP 24</td></tr>
</table>
</body>
</html>`

const containerMarkup = `
<html>
<body>
<p>Diversity and employment figures for March 2026.</p>
<div>EB-2 employment second preference 15 JUN 23</div>
<div>EB-3 employment third preference 01 JAN 23</div>
<div>DV region cutoff applies</div>
<span>15 AUG 25 for the diversity draw</span>
</body>
</html>`

const textMarkup = `
<html>
<body>
<pre>
Bulletin summary January 2026
EB-1 Current
EB-2 15 JUN 23 01 JUL 23
F-2A 01 SEP 24
</pre>
</body>
</html>`

func TestExtractFromTables(t *testing.T) {
	e := NewExtractor()
	bulletin, err := e.Extract(tableMarkup)
	require.NoError(t, err)

	require.Equal(t, "February 2026", bulletin.BulletinDate)
	require.Equal(t, 4, bulletin.TotalCategories)
	require.Len(t, bulletin.Categories, 4)

	first := bulletin.Categories[0]
	require.Equal(t, "1st", first["employment-based"])
	require.Equal(t, "Current", first["cutoff_date"])
	require.Equal(t, "EB-1", first.Key())

	last := bulletin.Categories[3]
	require.Equal(t, "F2A", last["family_preference"])
	require.Equal(t, "01 SEP 24", last["cutoff_date"])
}

func TestExtractSkipsShortTables(t *testing.T) {
	markup := `<table><tr><th>Cutoff Date</th></tr></table>
<table>
  <tr><th>Employment-Based</th><th>Cutoff Date</th></tr>
  <tr><td>2nd</td><td>15 JUN 23</td></tr>
</table>`

	bulletin, err := NewExtractor().Extract(markup)
	require.NoError(t, err)
	require.Len(t, bulletin.Categories, 1)
}

func TestExtractSkipsRowsWithoutData(t *testing.T) {
	// A row carrying only identity labels is a layout artifact, not a
	// category.
	markup := `
<table>
  <tr><th>Employment-Based</th><th>Cutoff Date</th></tr>
  <tr><td>2nd</td></tr>
  <tr><td>3rd</td><td>01 JAN 23</td></tr>
</table>`

	bulletin, err := NewExtractor().Extract(markup)
	require.NoError(t, err)
	require.Len(t, bulletin.Categories, 1)
	require.Equal(t, "EB-3", bulletin.Categories[0].Key())
}

func TestExtractRaggedRowIgnoresMissingColumns(t *testing.T) {
	markup := `
<table>
  <tr><th>Employment-Based</th><th>Cutoff Date</th><th>Final Action Date</th></tr>
  <tr><td>2nd</td><td>15 JUN 23</td></tr>
</table>`

	bulletin, err := NewExtractor().Extract(markup)
	require.NoError(t, err)
	require.Len(t, bulletin.Categories, 1)
	row := bulletin.Categories[0]
	require.Equal(t, "15 JUN 23", row["cutoff_date"])
	_, ok := row["final_action_date"]
	require.False(t, ok)
}

func TestExtractFromContainers(t *testing.T) {
	bulletin, err := NewExtractor().Extract(containerMarkup)
	require.NoError(t, err)

	require.Equal(t, "March 2026", bulletin.BulletinDate)
	require.NotEmpty(t, bulletin.Categories)

	byCode := map[string]string{}
	for _, row := range bulletin.Categories {
		byCode[row["visa_category"]] = row["cutoff_date"]
	}
	require.Equal(t, "15 JUN 23", byCode["EB-2"])
	require.Equal(t, "01 JAN 23", byCode["EB-3"])
}

func TestExtractContainersDeduplicate(t *testing.T) {
	markup := `
<div>EB-2 second preference 15 JUN 23</div>
<div>EB-2 second preference 15 JUN 23</div>`

	bulletin, err := NewExtractor().Extract(markup)
	require.NoError(t, err)
	require.Len(t, bulletin.Categories, 1)
}

func TestExtractContainersSkippedWhenTablesPresent(t *testing.T) {
	// A page with tables that yield nothing falls through to the text
	// scan, never the container scan.
	markup := `
<table><tr><th>Notes</th></tr></table>
<div>EB-2 second preference 15 JUN 23</div>`

	bulletin, err := NewExtractor().Extract(markup)
	require.NoError(t, err)
	// The text fallback still finds the line.
	require.Len(t, bulletin.Categories, 1)
	require.Equal(t, "EB-2", bulletin.Categories[0]["visa_category"])
}

func TestExtractFromText(t *testing.T) {
	bulletin, err := NewExtractor().Extract(textMarkup)
	require.NoError(t, err)

	require.Equal(t, "January 2026", bulletin.BulletinDate)
	require.Len(t, bulletin.Categories, 3)

	eb2 := bulletin.Categories[1]
	require.Equal(t, "EB-2", eb2["visa_category"])
	require.Equal(t, "15 JUN 23", eb2["cutoff_date"])
	require.Equal(t, "01 JUL 23", eb2["final_action_date"])
}

func TestExtractEmptyDocument(t *testing.T) {
	bulletin, err := NewExtractor().Extract("<html><body><p>Nothing here.</p></body></html>")
	require.NoError(t, err)
	require.Empty(t, bulletin.Categories)
	require.Zero(t, bulletin.TotalCategories)
	require.WithinDuration(t, time.Now().UTC(), bulletin.ExtractedAt, 5*time.Second)
}

func TestDiscoverDatePriority(t *testing.T) {
	e := NewExtractor()

	// Explicit current-bulletin marker beats earlier month mentions.
	text := "Archive from December 2025. Current Bulletin for February 2026."
	require.Equal(t, "February 2026", e.discoverDate(text))

	// January convention beats arbitrary month mentions.
	require.Equal(t, "January 2026", e.discoverDate("Published March 2025, effective January 2026"))

	// Any month/year pair as a last resort.
	require.Equal(t, "March 2025", e.discoverDate("Figures as of March 2025"))

	// Nothing at all: current calendar month.
	require.Equal(t, time.Now().Format("January 2006"), e.discoverDate("no dates in sight"))
}

func TestDebugDumpOnEmptyExtraction(t *testing.T) {
	dir := t.TempDir()
	e := NewExtractor()
	e.Debug = true
	e.DebugFile = filepath.Join(dir, "dump.html")

	markup := "<html><body><p>empty</p></body></html>"
	_, err := e.Extract(markup)
	require.NoError(t, err)

	saved, err := os.ReadFile(e.DebugFile)
	require.NoError(t, err)
	require.Equal(t, markup, string(saved))
}
