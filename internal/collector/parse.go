package collector

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/qepting91/listing-watcher/internal/change"
	"github.com/qepting91/listing-watcher/internal/domain"
)

// Card selectors for the classifieds search-results layout
const (
	cardSelector         = `div[data-cy="l-card"]`
	titleSelector        = "h4"
	priceSelector        = `[data-testid="ad-price"]`
	linkSelector         = "a[href]"
	imageSelector        = "img[src]"
	conditionSelector    = "[title]"
	locationDateSelector = `[data-testid="location-date"]`
)

// ParseListings extracts every listing card from a rendered results page.
// Cards without a usable link are skipped since the link is their identity.
func ParseListings(sourceURL string, page io.Reader) ([]domain.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(page)
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", domain.ErrFetch, err)
	}

	var listings []domain.Listing
	doc.Find(cardSelector).Each(func(_ int, card *goquery.Selection) {
		href, _ := card.Find(linkSelector).First().Attr("href")
		link := change.NormalizeLink(sourceURL, href)
		if link == "" {
			return
		}
		img, _ := card.Find(imageSelector).First().Attr("src")

		listings = append(listings, domain.Listing{
			SourceURL:    sourceURL,
			Link:         link,
			Title:        text(card, titleSelector, "No title"),
			Price:        text(card, priceSelector, "No price"),
			Condition:    text(card, conditionSelector, "No condition"),
			LocationDate: text(card, locationDateSelector, "No location/date"),
			ImageURL:     change.NormalizeLink(sourceURL, img),
		})
	})
	return listings, nil
}

func text(card *goquery.Selection, selector, fallback string) string {
	var parts []string
	collectText(card.Find(selector).First(), &parts)
	s := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	if s == "" {
		return fallback
	}
	return s
}

// collectText gathers text nodes in document order so that text from
// nested elements stays separated ("650 zł<span>do negocjacji</span>").
func collectText(sel *goquery.Selection, parts *[]string) {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			*parts = append(*parts, c.Text())
			return
		}
		collectText(c, parts)
	})
}
