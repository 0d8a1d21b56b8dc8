// Package fetch retrieves visa bulletin pages from the State Department
// site and discovers the current bulletin URL from the landing page.
package fetch

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	// BaseDomain is the root of the State Department travel site.
	BaseDomain = "https://travel.state.gov"

	// LandingURL is the visa bulletin landing page listing the current
	// and recent bulletins.
	LandingURL = BaseDomain + "/content/travel/en/legal/visa-law0/visa-bulletin.html"

	defaultTimeout = 30 * time.Second
	maxRetries     = 3
	initialBackoff = 2 * time.Second

	// Pages change at most monthly; a short cache still absorbs the
	// double-fetch of landing page plus bulletin within one run.
	pageCacheTTL = 5 * time.Minute

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/91.0.4472.124 Safari/537.36"
)

// Client fetches bulletin pages with retry, rate limiting and a small
// in-memory page cache.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	pages   *cache.Cache
	logger  *log.Logger
}

// NewClient creates a fetch client with browser-like request headers.
func NewClient() *Client {
	httpClient := resty.New().
		SetTimeout(defaultTimeout).
		SetRetryCount(maxRetries - 1).
		SetRetryWaitTime(initialBackoff).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.5").
		SetHeader("Connection", "keep-alive")

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		pages:   cache.New(pageCacheTTL, 10*time.Minute),
		logger:  log.New(os.Stdout, "", log.LstdFlags),
	}
}

// FetchPage retrieves the markup at url, consulting the page cache
// first. Non-2xx responses are errors.
func (c *Client) FetchPage(ctx context.Context, url string) (string, error) {
	if cached, ok := c.pages.Get(url); ok {
		return cached.(string), nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("unexpected status code %d for %s", resp.StatusCode(), url)
	}

	body := string(resp.Body())
	c.pages.Set(url, body, cache.DefaultExpiration)
	c.logger.Printf("Fetched %s (%d bytes)", url, len(body))
	return body, nil
}

// FetchCurrentBulletin fetches the landing page, discovers the current
// bulletin URL and fetches that page. It returns the bulletin markup and
// the URL it came from.
func (c *Client) FetchCurrentBulletin(ctx context.Context) (markup, url string, err error) {
	landing, err := c.FetchPage(ctx, LandingURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch landing page: %w", err)
	}

	url, err = DiscoverBulletinURL(landing)
	if err != nil {
		return "", "", fmt.Errorf("failed to discover bulletin URL: %w", err)
	}

	markup, err = c.FetchPage(ctx, url)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch bulletin page: %w", err)
	}
	return markup, url, nil
}

// DiscoverBulletinURL locates the current bulletin link on the landing
// page. It tries the "Current Visa Bulletin" call-to-action button
// first, then the recent-bulletins list, and finally constructs a URL
// from the current calendar month.
func DiscoverBulletinURL(landingMarkup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(landingMarkup))
	if err != nil {
		return "", fmt.Errorf("failed to parse landing page: %w", err)
	}

	var found string
	doc.Find("li").EachWithBreak(func(_ int, li *goquery.Selection) bool {
		heading := strings.ToLower(li.Find("h2").Text())
		if !strings.Contains(heading, "current") || !strings.Contains(heading, "bulletin") {
			return true
		}
		if href, ok := li.Find("a.btn").First().Attr("href"); ok && href != "" {
			found = absoluteURL(href)
			return false
		}
		return true
	})
	if found != "" {
		return found, nil
	}

	if href, ok := doc.Find("ul#recent_bulletins a").First().Attr("href"); ok && href != "" {
		return absoluteURL(href), nil
	}

	now := time.Now()
	return ConstructBulletinURL(now.Year(), now.Format("January")), nil
}

// ConstructBulletinURL builds a bulletin URL from a year and month name.
func ConstructBulletinURL(year int, month string) string {
	return fmt.Sprintf("%s/content/travel/en/legal/visa-law0/visa-bulletin/%d/visa-bulletin-for-%s-%d.html",
		BaseDomain, year, strings.ToLower(month), year)
}

func absoluteURL(href string) string {
	if strings.HasPrefix(href, "/") {
		return BaseDomain + href
	}
	return href
}
