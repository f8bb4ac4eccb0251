// scraper/catalog_scraper.go
package scraper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// CatalogEntry is one published BAL source discovered on the catalog page.
type CatalogEntry struct {
	ID               string
	Title            string
	URL              string
	License          string
	OrganizationID   string
	OrganizationName string
	OrganizationPage string
}

// CatalogScraper discovers BAL sources from the HTML catalog listing.
// Expected structure under the configured container selector: one table row
// per source, with the first link pointing at the file, the second at the
// publishing organization's page, and a third cell carrying the license.
type CatalogScraper struct {
	client   *http.Client
	pageURL  string
	selector string
}

func NewCatalogScraper(pageURL, selector string) *CatalogScraper {
	if selector == "" {
		selector = "body"
	}
	return &CatalogScraper{
		client:   &http.Client{Timeout: 20 * time.Second},
		pageURL:  pageURL,
		selector: selector,
	}
}

// FetchCatalog scrapes the catalog page and returns the sources it lists.
func (c *CatalogScraper) FetchCatalog(ctx context.Context) ([]CatalogEntry, error) {
	log.Printf("Scraper: fetching BAL catalog from %s (container: '%s')\n", c.pageURL, c.selector)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request for %s: %w", c.pageURL, err)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog page %s: %w", c.pageURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get catalog page %s: status code %d", c.pageURL, res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog HTML from %s: %w", c.pageURL, err)
	}

	var entries []CatalogEntry
	doc.Find(c.selector).Find("tr").Each(func(i int, row *goquery.Selection) {
		links := row.Find("a")
		if links.Length() == 0 {
			return // header row or filler
		}

		fileLink := links.Eq(0)
		fileURL, ok := fileLink.Attr("href")
		if !ok || strings.TrimSpace(fileURL) == "" {
			return
		}
		title := strings.TrimSpace(fileLink.Text())
		if title == "" {
			title = fileURL
		}

		entry := CatalogEntry{
			ID:    StableID(fileURL),
			Title: title,
			URL:   fileURL,
		}

		if links.Length() > 1 {
			orgLink := links.Eq(1)
			entry.OrganizationName = strings.TrimSpace(orgLink.Text())
			entry.OrganizationPage, _ = orgLink.Attr("href")
		}
		if entry.OrganizationName == "" {
			entry.OrganizationName = title
		}
		if entry.OrganizationPage != "" {
			entry.OrganizationID = StableID(entry.OrganizationPage)
		} else {
			entry.OrganizationID = StableID("org:" + entry.OrganizationName)
		}

		row.Find("td").Each(func(_ int, cell *goquery.Selection) {
			text := strings.TrimSpace(cell.Text())
			if looksLikeLicense(text) {
				entry.License = text
			}
		})

		entries = append(entries, entry)
	})

	if len(entries) == 0 {
		return nil, fmt.Errorf("no BAL sources found on %s within container '%s'", c.pageURL, c.selector)
	}

	log.Printf("Scraper: found %d BAL sources in catalog\n", len(entries))
	return entries, nil
}

// StableID derives a deterministic 32-character id from a catalog URL so
// repeated syncs upsert instead of duplicating rows.
func StableID(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:32]
}

var knownLicenses = []string{"lov2", "odc-odbl", "etalab", "cc-by"}

func looksLikeLicense(text string) bool {
	lower := strings.ToLower(text)
	for _, l := range knownLicenses {
		if strings.Contains(lower, l) {
			return true
		}
	}
	return false
}
