package fetch

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const landingWithButton = `
<html><body>
<ul>
  <li>
    <h2>Current Visa Bulletin</h2>
    <a class="btn btn-lg btn-success" href="/content/travel/en/legal/visa-law0/visa-bulletin/2026/visa-bulletin-for-september-2026.html">View</a>
  </li>
</ul>
</body></html>`

const landingWithRecentList = `
<html><body>
<ul id="recent_bulletins">
  <li><a href="/content/travel/en/legal/visa-law0/visa-bulletin/2026/visa-bulletin-for-august-2026.html">August 2026</a></li>
  <li><a href="/content/travel/en/legal/visa-law0/visa-bulletin/2026/visa-bulletin-for-july-2026.html">July 2026</a></li>
</ul>
</body></html>`

func TestDiscoverBulletinURLFromButton(t *testing.T) {
	url, err := DiscoverBulletinURL(landingWithButton)
	require.NoError(t, err)
	require.Equal(t, BaseDomain+"/content/travel/en/legal/visa-law0/visa-bulletin/2026/visa-bulletin-for-september-2026.html", url)
}

func TestDiscoverBulletinURLFromRecentList(t *testing.T) {
	url, err := DiscoverBulletinURL(landingWithRecentList)
	require.NoError(t, err)
	require.Equal(t, BaseDomain+"/content/travel/en/legal/visa-law0/visa-bulletin/2026/visa-bulletin-for-august-2026.html", url)
}

func TestDiscoverBulletinURLConstructsFallback(t *testing.T) {
	url, err := DiscoverBulletinURL("<html><body><p>nothing here</p></body></html>")
	require.NoError(t, err)

	now := time.Now()
	require.Equal(t, ConstructBulletinURL(now.Year(), now.Format("January")), url)
}

func TestDiscoverBulletinURLKeepsAbsoluteLinks(t *testing.T) {
	markup := `<ul><li><h2>Current Bulletin</h2><a class="btn" href="https://example.org/bulletin.html">View</a></li></ul>`
	url, err := DiscoverBulletinURL(markup)
	require.NoError(t, err)
	require.Equal(t, "https://example.org/bulletin.html", url)
}

func TestConstructBulletinURL(t *testing.T) {
	require.Equal(t,
		"https://travel.state.gov/content/travel/en/legal/visa-law0/visa-bulletin/2026/visa-bulletin-for-february-2026.html",
		ConstructBulletinURL(2026, "February"))
}

func TestFetchPage(t *testing.T) {
	client := NewClient()
	httpmock.ActivateNonDefault(client.http.GetClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://travel.state.gov/page.html",
		httpmock.NewStringResponder(200, "<html>hello</html>"))

	body, err := client.FetchPage(context.Background(), "https://travel.state.gov/page.html")
	require.NoError(t, err)
	require.Equal(t, "<html>hello</html>", body)
}

func TestFetchPageUsesCache(t *testing.T) {
	client := NewClient()
	httpmock.ActivateNonDefault(client.http.GetClient())
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder("GET", "https://travel.state.gov/cached.html",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewStringResponse(200, "cached body"), nil
		})

	for i := 0; i < 3; i++ {
		body, err := client.FetchPage(context.Background(), "https://travel.state.gov/cached.html")
		require.NoError(t, err)
		require.Equal(t, "cached body", body)
	}
	require.Equal(t, 1, calls)
}

func TestFetchPageErrorStatus(t *testing.T) {
	client := NewClient()
	httpmock.ActivateNonDefault(client.http.GetClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://travel.state.gov/missing.html",
		httpmock.NewStringResponder(404, "not found"))

	_, err := client.FetchPage(context.Background(), "https://travel.state.gov/missing.html")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestFetchCurrentBulletin(t *testing.T) {
	client := NewClient()
	httpmock.ActivateNonDefault(client.http.GetClient())
	defer httpmock.DeactivateAndReset()

	bulletinURL := BaseDomain + "/content/travel/en/legal/visa-law0/visa-bulletin/2026/visa-bulletin-for-september-2026.html"
	httpmock.RegisterResponder("GET", LandingURL,
		httpmock.NewStringResponder(200, landingWithButton))
	httpmock.RegisterResponder("GET", bulletinURL,
		httpmock.NewStringResponder(200, "<html>bulletin</html>"))

	markup, url, err := client.FetchCurrentBulletin(context.Background())
	require.NoError(t, err)
	require.Equal(t, bulletinURL, url)
	require.Equal(t, "<html>bulletin</html>", markup)
}

func TestFetchCurrentBulletinLandingFailure(t *testing.T) {
	client := NewClient()
	httpmock.ActivateNonDefault(client.http.GetClient())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", LandingURL,
		httpmock.NewErrorResponder(fmt.Errorf("connection refused")))

	_, _, err := client.FetchCurrentBulletin(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "landing page")
}
